package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/mentalspace/ehr/migrations"
)

// MigrationTable is the bookkeeping table sql-migrate maintains in each tenant schema.
const MigrationTable = "schema_migrations"

// MigrationStatus represents the status of a migration (applied or pending).
type MigrationStatus struct {
	ID        string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies versioned up/down migrations to tenant schemas.
type Migrator struct {
	databaseURL string
	source      migrate.MigrationSource
}

// NewSource returns the migration source for dir, or the migrations compiled
// into the binary when dir is empty.
func NewSource(dir string) migrate.MigrationSource {
	if dir != "" {
		return &migrate.FileMigrationSource{Dir: dir}
	}
	return &migrate.EmbedFileSystemMigrationSource{FileSystem: migrations.FS, Root: "."}
}

func NewMigrator(databaseURL string, source migrate.MigrationSource) *Migrator {
	return &Migrator{databaseURL: databaseURL, source: source}
}

// Source exposes the configured migration source.
func (m *Migrator) Source() migrate.MigrationSource { return m.source }

func (m *Migrator) set(schema string) migrate.MigrationSet {
	return migrate.MigrationSet{TableName: MigrationTable, SchemaName: schema}
}

// open returns a database/sql handle whose sessions default to schema.
func (m *Migrator) open(schema string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(m.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.RuntimeParams["search_path"] = schema + ", public"
	return stdlib.OpenDB(*cfg), nil
}

// Up applies up to steps pending migrations (all when steps is 0).
func (m *Migrator) Up(ctx context.Context, schema string, steps int) (int, error) {
	return m.exec(ctx, schema, migrate.Up, steps)
}

// Down rolls back steps migrations (all when steps is 0).
func (m *Migrator) Down(ctx context.Context, schema string, steps int) (int, error) {
	return m.exec(ctx, schema, migrate.Down, steps)
}

func (m *Migrator) exec(ctx context.Context, schema string, dir migrate.MigrationDirection, steps int) (int, error) {
	sqlDB, err := m.open(schema)
	if err != nil {
		return 0, err
	}
	defer sqlDB.Close()

	n, err := m.set(schema).ExecMaxContext(ctx, sqlDB, "postgres", m.source, dir, steps)
	if err != nil {
		return n, fmt.Errorf("migrate %s: %w", schema, err)
	}
	return n, nil
}

// Status returns every known migration with its applied state for schema.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	sqlDB, err := m.open(schema)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	known, err := m.source.FindMigrations()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	records, err := m.set(schema).GetMigrationRecords(sqlDB, "postgres")
	if err != nil {
		return nil, fmt.Errorf("read migration records in %s: %w", schema, err)
	}
	return mergeStatus(known, records), nil
}

func mergeStatus(known []*migrate.Migration, records []*migrate.MigrationRecord) []MigrationStatus {
	applied := make(map[string]time.Time, len(records))
	for _, r := range records {
		applied[r.Id] = r.AppliedAt
	}
	statuses := make([]MigrationStatus, 0, len(known))
	for _, k := range known {
		st := MigrationStatus{ID: k.Id}
		if at, ok := applied[k.Id]; ok {
			at := at
			st.Applied = true
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses
}
