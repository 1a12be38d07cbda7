package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin      = "admin"
	RoleClinician  = "clinician"
	RoleSupervisor = "supervisor"
	RoleFrontDesk  = "front_desk"
	RoleBilling    = "billing"
	RoleClient     = "client"
)

// StaffRoles lists every role that may be assigned to a staff account.
var StaffRoles = []string{RoleAdmin, RoleClinician, RoleSupervisor, RoleFrontDesk, RoleBilling}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
// Admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether the caller holds one of roles, or admin.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	userRoles := RolesFromContext(ctx)
	for _, has := range userRoles {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}
