//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/domain/client"
	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/domain/staff"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/db"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool          *pgxpool.Pool
	ConnStr       string
	MigrationsDir string
}

// globalDB is the package-level test database, initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tdb, cleanup, err := setupPostgresContainer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration database: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupPostgresContainer(ctx context.Context) (*testDB, func(), error) {
	connStr, cleanup, err := startPostgres(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}

	pool, err := db.NewPool(ctx, connStr, 20, 2)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}

	return &testDB{
		Pool:          pool,
		ConnStr:       connStr,
		MigrationsDir: findMigrationsDir(),
	}, func() {
		pool.Close()
		cleanup()
	}, nil
}

// findMigrationsDir locates the migrations directory relative to this test file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

func newMigrator() *db.Migrator {
	return db.NewMigrator(globalDB.ConnStr, db.NewSource(globalDB.MigrationsDir))
}

// createTenantSchema creates a new tenant schema and runs all migrations.
func createTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	if err := db.CreateTenantSchema(ctx, globalDB.Pool, tenantID, newMigrator()); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
	t.Cleanup(func() { dropTenantSchema(t, context.Background(), tenantID) })
}

// dropTenantSchema drops a tenant schema for cleanup.
func dropTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	_, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", db.SchemaName(tenantID)))
	if err != nil {
		t.Logf("warning: failed to drop schema %s: %v", tenantID, err)
	}
}

// withTenantConn acquires a tenant-scoped connection and passes its
// context to fn. The connection is released after fn returns.
func withTenantConn(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	ctx, conn, err := db.AcquireTenant(ctx, globalDB.Pool, tenantID)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(ctx)
}

// uniqueTenantID generates a unique tenant ID for test isolation.
func uniqueTenantID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
}

func mustTenant(t *testing.T, ctx context.Context, tenantID string, fn func(ctx context.Context) error) {
	t.Helper()
	if err := withTenantConn(ctx, tenantID, fn); err != nil {
		t.Fatalf("tenant %s: %v", tenantID, err)
	}
}

func newSchedulingService() *scheduling.Service {
	pool := globalDB.Pool
	return scheduling.NewService(
		scheduling.NewScheduleRepoPG(pool),
		scheduling.NewExceptionRepoPG(pool),
		scheduling.NewAppointmentTypeRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		zerolog.Nop(),
	)
}

func createTestClinician(t *testing.T, ctx context.Context, tenantID, lastName string) *staff.Staff {
	t.Helper()
	st := &staff.Staff{
		FirstName: "Test",
		LastName:  lastName,
		Email:     strings.ToLower(lastName) + "-" + uuid.NewString()[:6] + "@example.com",
		Roles:     []string{auth.RoleClinician},
	}
	mustTenant(t, ctx, tenantID, func(ctx context.Context) error {
		return staff.NewService(staff.NewRepoPG(globalDB.Pool)).CreateStaff(ctx, st)
	})
	return st
}

func createTestClient(t *testing.T, ctx context.Context, tenantID, firstName, lastName string) *client.Client {
	t.Helper()
	c := &client.Client{
		FirstName:   firstName,
		LastName:    lastName,
		DateOfBirth: "1990-04-12",
		Email:       strings.ToLower(firstName) + "@example.com",
		Phone:       "+15551230000",
	}
	mustTenant(t, ctx, tenantID, func(ctx context.Context) error {
		return client.NewService(client.NewRepoPG(globalDB.Pool)).CreateClient(ctx, c)
	})
	return c
}

const testZone = "America/New_York"

// bookingDay returns a Monday at least a week ahead in the test zone.
func bookingDay(t *testing.T) scheduling.Date {
	t.Helper()
	loc, err := time.LoadLocation(testZone)
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	d := scheduling.DateOf(time.Now().In(loc)).AddDays(7)
	for d.Weekday() != time.Monday {
		d = d.AddDays(1)
	}
	return d
}

// createWeekdaySchedule gives the clinician 08:00-17:00 Monday to Friday
// with a noon break, effective from today.
func createWeekdaySchedule(t *testing.T, ctx context.Context, tenantID string, clinicianID uuid.UUID, maxPerDay int) *scheduling.ClinicianSchedule {
	t.Helper()
	var days []scheduling.DayTemplate
	for wd := time.Monday; wd <= time.Friday; wd++ {
		days = append(days, scheduling.DayTemplate{
			Weekday: wd, IsAvailable: true,
			StartTime: "08:00", EndTime: "17:00",
			BreakStart: "12:00", BreakEnd: "13:00",
		})
	}
	sched := &scheduling.ClinicianSchedule{
		ClinicianID:           clinicianID,
		TimeZone:              testZone,
		WeeklyTemplate:        days,
		MaxAppointmentsPerDay: maxPerDay,
		AcceptedLocations:     []string{scheduling.LocationOffice, scheduling.LocationTelehealth},
		EffectiveFrom:         time.Now().UTC().Truncate(24 * time.Hour),
	}
	mustTenant(t, ctx, tenantID, func(ctx context.Context) error {
		return newSchedulingService().CreateSchedule(ctx, sched)
	})
	return sched
}

func createTherapyType(t *testing.T, ctx context.Context, tenantID string) *scheduling.AppointmentType {
	t.Helper()
	typ := &scheduling.AppointmentType{
		Name:               "Individual Therapy 45",
		DurationMinutes:    45,
		BufferAfterMinutes: 15,
		CPTCode:            "90834",
		OnlineBookable:     true,
		DefaultLocation:    scheduling.LocationOffice,
		Active:             true,
	}
	mustTenant(t, ctx, tenantID, func(ctx context.Context) error {
		return newSchedulingService().CreateAppointmentType(ctx, typ)
	})
	return typ
}

// at returns hh:mm on d in the schedule's zone.
func at(t *testing.T, d scheduling.Date, hh, mm int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(testZone)
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return d.At(hh*60+mm, loc)
}
