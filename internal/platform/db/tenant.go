package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
	DBTxKey     contextKey = "db_tx"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidTenantID reports whether id can be used in a schema name.
func ValidTenantID(id string) bool { return tenantIDPattern.MatchString(id) }

// SchemaName returns the Postgres schema holding a tenant's tables.
func SchemaName(tenantID string) string { return "tenant_" + tenantID }

// TenantMiddleware pins one pooled connection per request with search_path
// set to the tenant's schema.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)

			if !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			c.SetRequest(c.Request().WithContext(WithTenant(ctx, tenantID, conn)))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

// WithTenant stores the tenant id and its search_path-pinned connection in ctx.
// The worker uses it to run jobs outside of an HTTP request.
func WithTenant(ctx context.Context, tenantID string, conn *pgxpool.Conn) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	if conn != nil {
		ctx = context.WithValue(ctx, DBConnKey, conn)
	}
	return ctx
}

// AcquireTenant acquires a connection scoped to tenantID. The caller releases it.
func AcquireTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string) (context.Context, *pgxpool.Conn, error) {
	if !ValidTenantID(tenantID) {
		return ctx, nil, fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID))); err != nil {
		conn.Release()
		return ctx, nil, fmt.Errorf("set search_path: %w", err)
	}
	return WithTenant(ctx, tenantID, conn), conn, nil
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	// 1. Check JWT claim (set by auth middleware)
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}

	// 2. Check X-Tenant-ID header
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}

	// 3. Check query parameter
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}

	return defaultTenant
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// ListTenants returns the ids of all provisioned tenants.
func ListTenants(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT substring(schema_name FROM 8) FROM information_schema.schemata
		WHERE schema_name LIKE 'tenant\_%' ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list tenant schemas: %w", err)
	}
	defer rows.Close()
	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// CreateTenantSchema creates a new schema for a tenant and, when migrator is
// non-nil, applies all migrations to it.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrator *Migrator) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}

	schema := SchemaName(tenantID)
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrator != nil {
		if _, err := migrator.Up(ctx, schema, 0); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
