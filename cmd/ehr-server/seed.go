package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentalspace/ehr/internal/domain/reminder"
	"github.com/mentalspace/ehr/internal/domain/scheduling"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Add the default appointment types and reminder templates to tenants",
		Long: "Seeding is idempotent: appointment types are matched by name and " +
			"reminder templates by name and channel, and existing rows are left alone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			all, _ := cmd.Flags().GetBool("all")
			return runSeed(tenant, all)
		},
	}
	cmd.Flags().String("tenant", "", "Tenant to seed (defaults to DEFAULT_TENANT)")
	cmd.Flags().Bool("all", false, "Seed every tenant")
	return cmd
}

func runSeed(tenant string, all bool) error {
	ctx := context.Background()
	cfg, logger, pool, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	tenants, err := targetTenants(ctx, cfg, tenant, all)
	if err != nil {
		return err
	}

	sched := scheduling.NewService(
		scheduling.NewScheduleRepoPG(pool),
		scheduling.NewExceptionRepoPG(pool),
		scheduling.NewAppointmentTypeRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		logger,
	)
	reminders := reminder.NewService(reminder.Deps{
		Reminders: reminder.NewRepoPG(pool),
		Templates: reminder.NewTemplateRepoPG(pool),
	}, logger)

	w := newWorker(pool, logger)
	for _, t := range tenants {
		tctx, release, err := w.acquire(ctx, t)
		if err != nil {
			return err
		}
		types, templates, err := seedTenant(tctx, sched, reminders)
		release()
		if err != nil {
			return fmt.Errorf("seed %s: %w", t, err)
		}
		fmt.Printf("%s: %d appointment type(s), %d reminder template(s) added\n", t, types, templates)
	}
	return nil
}

type typeStore interface {
	ListAppointmentTypes(ctx context.Context, f scheduling.TypeFilter, limit, offset int) ([]*scheduling.AppointmentType, int, error)
	CreateAppointmentType(ctx context.Context, t *scheduling.AppointmentType) error
}

type templateSeeder interface {
	SeedTemplates(ctx context.Context) (int, error)
}

// seedTenant adds whichever default appointment types and reminder templates
// the tenant in ctx is missing.
func seedTenant(ctx context.Context, types typeStore, templates templateSeeder) (int, int, error) {
	existing, _, err := types.ListAppointmentTypes(ctx, scheduling.TypeFilter{}, 1000, 0)
	if err != nil {
		return 0, 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t.Name] = true
	}

	added := 0
	for _, t := range defaultAppointmentTypes() {
		if have[t.Name] {
			continue
		}
		if err := types.CreateAppointmentType(ctx, t); err != nil {
			return added, 0, fmt.Errorf("create appointment type %q: %w", t.Name, err)
		}
		added++
	}

	n, err := templates.SeedTemplates(ctx)
	if err != nil {
		return added, n, fmt.Errorf("seed reminder templates: %w", err)
	}
	return added, n, nil
}

func defaultAppointmentTypes() []*scheduling.AppointmentType {
	return []*scheduling.AppointmentType{
		{
			Name: "Intake Assessment", Description: "Psychiatric diagnostic evaluation",
			DurationMinutes: 60, BufferAfterMinutes: 15, CPTCode: "90791",
			OnlineBookable: true, DefaultLocation: scheduling.LocationOffice, Color: "#4F46E5",
		},
		{
			Name: "Individual Therapy 45", DurationMinutes: 45, BufferAfterMinutes: 10, CPTCode: "90834",
			OnlineBookable: true, DefaultLocation: scheduling.LocationOffice, Color: "#0EA5E9",
		},
		{
			Name: "Individual Therapy 60", DurationMinutes: 60, BufferAfterMinutes: 10, CPTCode: "90837",
			OnlineBookable: true, DefaultLocation: scheduling.LocationOffice, Color: "#0284C7",
		},
		{
			Name: "Family Therapy", DurationMinutes: 50, BufferAfterMinutes: 10, CPTCode: "90847",
			DefaultLocation: scheduling.LocationOffice, Color: "#16A34A",
		},
		{
			Name: "Group Therapy", DurationMinutes: 90, BufferBeforeMinutes: 10, BufferAfterMinutes: 15, CPTCode: "90853",
			DefaultLocation: scheduling.LocationOffice, Color: "#CA8A04",
		},
		{
			Name: "Telehealth Check-in", DurationMinutes: 30, BufferAfterMinutes: 5, CPTCode: "90832",
			OnlineBookable: true, DefaultLocation: scheduling.LocationTelehealth, Color: "#DB2777",
		},
	}
}
