package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

// ErrorBody is the JSON envelope for every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

const internalMessage = "internal server error"

// StatusFor returns the HTTP status an error will be rendered with.
func StatusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperr.KindOf(err).HTTPStatus()
}

// ErrorHandler renders apperr and echo errors as ErrorBody. Internal errors
// are logged with the request id and replaced with a generic message so no
// PHI reaches the caller.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		rid := RequestIDFrom(c)
		body := ErrorBody{Error: ErrorDetail{RequestID: rid}}
		status := http.StatusInternalServerError

		var he *echo.HTTPError
		if ae, ok := apperr.As(err); ok && ae.Kind != apperr.KindInternal {
			status = ae.Kind.HTTPStatus()
			body.Error.Code = ae.Kind.String()
			body.Error.Message = ae.Message
			body.Error.Fields = ae.Fields
		} else if errors.As(err, &he) && he.Code < 500 {
			status = he.Code
			body.Error.Code = codeForStatus(he.Code)
			body.Error.Message = http.StatusText(he.Code)
			if msg, ok := he.Message.(string); ok && msg != "" {
				body.Error.Message = msg
			}
		} else {
			if errors.As(err, &he) {
				status = he.Code
			}
			body.Error.Code = apperr.KindInternal.String()
			body.Error.Message = internalMessage
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Str("request_id", rid).Msg("write error response")
		}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.KindValidation.String()
	case http.StatusUnauthorized:
		return apperr.KindUnauthorized.String()
	case http.StatusForbidden:
		return apperr.KindForbidden.String()
	case http.StatusNotFound:
		return apperr.KindNotFound.String()
	case http.StatusConflict:
		return apperr.KindConflict.String()
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "error"
	}
}

// writeError renders an ErrorBody directly, for middleware that answers
// before the handler chain runs.
func writeError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorBody{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		RequestID: RequestIDFrom(c),
	}})
}
