package middleware

import (
	"fmt"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

// Recovery turns a handler panic into an internal error. The panic value and
// stack are logged; the client only sees the sanitized message.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)

					logger.Error().
						Str("request_id", RequestIDFrom(c)).
						Str("method", c.Request().Method).
						Str("path", c.Path()).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					err = apperr.Wrap(apperr.KindInternal, "panic", fmt.Errorf("%v", r))
				}
			}()
			return next(c)
		}
	}
}
