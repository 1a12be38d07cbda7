package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication. Tenant resolution still runs for the
// /api/v1 entries, from the X-Tenant-ID header.
var publicPaths = map[string]bool{
	"/health":                    true,
	"/health/db":                 true,
	"/api/v1/portal/register":    true,
	"/api/v1/portal/login":       true,
	"/api/v1/reminders/callback": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// Skip wraps mw so that it is bypassed whenever skipper returns true.
func Skip(skipper func(echo.Context) bool, mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		wrapped := mw(next)
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			return wrapped(c)
		}
	}
}
