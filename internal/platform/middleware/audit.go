package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/db"
)

// AuditEntry records who touched which resource, when, and with what result.
type AuditEntry struct {
	UserID       string
	UserRoles    []string
	ResourceType string
	ResourceID   string
	ClientID     string
	Action       string // read, create, update, delete
	IPAddress    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// Audit logs a hipaa_audit line for every /api/v1 request and hands the
// entry to recorder when one is given. Recorder failures never fail the request.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = StatusFor(err)
			}

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:    time.Now().UTC(),
				Path:         c.Path(),
				Method:       req.Method,
				IPAddress:    c.RealIP(),
				StatusCode:   status,
				UserID:       auth.UserIDFromContext(ctx),
				UserRoles:    auth.RolesFromContext(ctx),
				RequestID:    RequestIDFrom(c),
				Action:       httpMethodToAction(req.Method),
				ResourceType: extractResourceType(path),
				ResourceID:   extractResourceID(path),
				ClientID:     extractClientID(c),
			}
			if entry.Path == "" {
				entry.Path = path
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(ctx, entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "hipaa_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("client_id", entry.ClientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResourceType returns the first path segment after /api/v1/, skipping
// the portal prefix: /api/v1/portal/appointments -> appointments.
func extractResourceType(path string) string {
	segments := apiSegments(path)
	if len(segments) > 1 && segments[0] == "portal" {
		return segments[1]
	}
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

func extractResourceID(path string) string {
	segments := apiSegments(path)
	if len(segments) > 0 && segments[0] == "portal" {
		segments = segments[1:]
	}
	if len(segments) > 1 && isUUIDLike(segments[1]) {
		return segments[1]
	}
	return ""
}

// extractClientID finds the client whose record is being accessed: the
// portal identity, a /clients/<id> path, or a client_id query parameter.
func extractClientID(c echo.Context) string {
	if id, ok := auth.ClientIDFromContext(c.Request().Context()); ok {
		return id.String()
	}
	segments := apiSegments(c.Request().URL.Path)
	if len(segments) > 1 && segments[0] == "clients" && isUUIDLike(segments[1]) {
		return segments[1]
	}
	if id := c.QueryParam("client_id"); isUUIDLike(id) {
		return id
	}
	return ""
}

func apiSegments(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
}

func isUUIDLike(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// PGAuditRecorder writes entries to the tenant's audit_log table.
type PGAuditRecorder struct {
	pool *pgxpool.Pool
}

func NewPGAuditRecorder(pool *pgxpool.Pool) *PGAuditRecorder {
	return &PGAuditRecorder{pool: pool}
}

func (r *PGAuditRecorder) RecordAccess(ctx context.Context, e AuditEntry) error {
	if db.ConnFromContext(ctx) == nil {
		// No tenant was resolved, so there is no audit_log to write to.
		return nil
	}
	roles := e.UserRoles
	if roles == nil {
		roles = []string{}
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_log (occurred_at, request_id, user_id, roles, method, path,
			resource_type, resource_id, client_id, action, status_code, remote_ip)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.Timestamp, e.RequestID, e.UserID, roles, e.Method, e.Path,
		e.ResourceType, nullIfEmpty(e.ResourceID), nullIfEmpty(e.ClientID), e.Action, e.StatusCode, e.IPAddress)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
