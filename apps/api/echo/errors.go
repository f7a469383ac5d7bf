package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/authz"
	"github.com/trezcool/shule/core/fee"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/user"
)

var (
	errUnauthorized       = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAccountDeactivated = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRateLimited        = echo.NewHTTPError(http.StatusTooManyRequests, "too many attempts; try again later")
	errHttpForbidden      = echo.NewHTTPError(http.StatusForbidden, "not authorized")
	errHttpNotFound       = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
//
// Denied authorization always maps to the same generic 403 body; the
// specific deny reason stays in the audit trail.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(core.Translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else if vErrs, ok := origErr.Err.(validator.ValidationErrors); ok {
				fldErrs := make(map[string]string, len(vErrs))
				for _, vErr := range vErrs {
					fldErrs[vErr.Field()] = vErr.Translate(core.Translator)
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			switch origErr {
			case authz.ErrPermissionDenied:
				code = errHttpForbidden.Code
				message = errHttpForbidden.Message
			case user.ErrNotFound, student.ErrNotFound, fee.ErrNotFound:
				code = errHttpNotFound.Code
				message = errHttpNotFound.Message
			case user.ErrRateLimited:
				code = errRateLimited.Code
				message = errRateLimited.Message
			case user.ErrInvalidCredentials, user.ErrInvalidCode, user.ErrCodeExpired:
				code = http.StatusBadRequest
				message = origErr.Error()
			case user.ErrAccountDeactivated:
				code = errAccountDeactivated.Code
				message = errAccountDeactivated.Message
			case session.ErrExpired, session.ErrRevoked, session.ErrInvalidToken,
				session.ErrTenantMismatch, session.ErrRefreshExpired:
				code = errUnauthorized.Code
				message = origErr.Error()
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				var usr user.User
				if claims, cErr := getContextClaims(ctx); cErr == nil {
					usr.ID = claims.Subject
					usr.Username = claims.Username
				}
				logger.Error(msg, errors.Wrap(err, msg), usr)

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
