//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/mentalspace/ehr/internal/platform/db"
)

func appliedCount(t *testing.T, ctx context.Context, m *db.Migrator, schema string) (applied, total int) {
	t.Helper()
	st, err := m.Status(ctx, schema)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, s := range st {
		if s.Applied {
			applied++
		}
	}
	return applied, len(st)
}

func tableExists(t *testing.T, ctx context.Context, schema, table string) bool {
	t.Helper()
	var ok bool
	err := globalDB.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2)`, schema, table).Scan(&ok)
	if err != nil {
		t.Fatalf("check table %s.%s: %v", schema, table, err)
	}
	return ok
}

func TestMigrator_StepUpAndDown(t *testing.T) {
	ctx := context.Background()
	tenant := uniqueTenantID("mig")
	if err := db.CreateTenantSchema(ctx, globalDB.Pool, tenant, nil); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { dropTenantSchema(t, context.Background(), tenant) })
	schema := db.SchemaName(tenant)
	m := newMigrator()

	applied, total := appliedCount(t, ctx, m, schema)
	if applied != 0 || total == 0 {
		t.Fatalf("expected %d pending migrations, got %d applied", total, applied)
	}

	n, err := m.Up(ctx, schema, 2)
	if err != nil || n != 2 {
		t.Fatalf("up 2: n=%d err=%v", n, err)
	}
	if !tableExists(t, ctx, schema, "appointment") || tableExists(t, ctx, schema, "reminder") {
		t.Error("expected scheduling tables without practice tables after two steps")
	}

	if _, err := m.Up(ctx, schema, 0); err != nil {
		t.Fatalf("up all: %v", err)
	}
	if applied, _ := appliedCount(t, ctx, m, schema); applied != total {
		t.Errorf("expected %d applied, got %d", total, applied)
	}

	if n, err := m.Down(ctx, schema, 1); err != nil || n != 1 {
		t.Fatalf("down 1: n=%d err=%v", n, err)
	}
	if tableExists(t, ctx, schema, "reminder") {
		t.Error("reminder table should be gone after rolling back the last migration")
	}
	if applied, _ := appliedCount(t, ctx, m, schema); applied != total-1 {
		t.Errorf("expected %d applied, got %d", total-1, applied)
	}
}

func TestMigrator_EmbeddedMatchesDirectory(t *testing.T) {
	fromDir, err := db.NewSource(globalDB.MigrationsDir).FindMigrations()
	if err != nil {
		t.Fatalf("directory source: %v", err)
	}
	embedded, err := db.NewSource("").FindMigrations()
	if err != nil {
		t.Fatalf("embedded source: %v", err)
	}
	if len(fromDir) != len(embedded) {
		t.Fatalf("expected %d embedded migrations, got %d", len(fromDir), len(embedded))
	}
	for i := range fromDir {
		if fromDir[i].Id != embedded[i].Id {
			t.Errorf("migration %d: %s vs %s", i, fromDir[i].Id, embedded[i].Id)
		}
	}
}
