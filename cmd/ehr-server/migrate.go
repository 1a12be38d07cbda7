package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentalspace/ehr/internal/config"
	"github.com/mentalspace/ehr/internal/platform/db"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect tenant schema migrations",
	}
	cmd.PersistentFlags().String("tenant", "", "Tenant to migrate (defaults to DEFAULT_TENANT)")
	cmd.PersistentFlags().Bool("all", false, "Migrate every tenant schema")
	cmd.PersistentFlags().String("dir", "", "Migrations directory (defaults to the embedded set)")

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			return runMigration(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				n, err := m.Up(ctx, schema, steps)
				if err != nil {
					return err
				}
				fmt.Printf("%s: applied %d migration(s)\n", schema, n)
				return nil
			})
		},
	}
	upCmd.Flags().Int("steps", 0, "Maximum migrations to apply (0 applies all)")
	cmd.AddCommand(upCmd)

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return runMigration(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				n, err := m.Down(ctx, schema, steps)
				if err != nil {
					return err
				}
				fmt.Printf("%s: rolled back %d migration(s)\n", schema, n)
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Migrations to roll back")
	cmd.AddCommand(downCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return err
				}
				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-50s %-10s %s\n", "ID", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-50s %-10s %s\n", s.ID, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

// runMigration resolves the target schemas from the command's flags and
// applies fn to each in turn, stopping at the first failure.
func runMigration(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	all, _ := cmd.Flags().GetBool("all")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tenants, err := targetTenants(ctx, cfg, tenant, all)
	if err != nil {
		return err
	}
	m := db.NewMigrator(cfg.DatabaseURL, db.NewSource(dir))
	for _, t := range tenants {
		if err := fn(ctx, m, db.SchemaName(t)); err != nil {
			return err
		}
	}
	return nil
}

func targetTenants(ctx context.Context, cfg *config.Config, tenant string, all bool) ([]string, error) {
	if all && tenant != "" {
		return nil, fmt.Errorf("--tenant and --all are mutually exclusive")
	}
	if !all {
		if tenant == "" {
			tenant = cfg.DefaultTenant
		}
		if !db.ValidTenantID(tenant) {
			return nil, fmt.Errorf("invalid tenant identifier: %s", tenant)
		}
		return []string{tenant}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	return db.ListTenants(ctx, pool)
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and migrate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			m := db.NewMigrator(cfg.DatabaseURL, db.NewSource(dir))
			if err := db.CreateTenantSchema(ctx, pool, name, m); err != nil {
				return err
			}
			fmt.Printf("Tenant created. Seed it with: ehr-server seed --tenant %s\n", name)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (letters, digits, underscores)")
	createCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenant schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tenants, err := targetTenants(context.Background(), cfg, "", true)
			if err != nil {
				return err
			}
			for _, t := range tenants {
				fmt.Println(t)
			}
			return nil
		},
	})
	return cmd
}
