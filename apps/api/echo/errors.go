package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/docarray"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// conflict reports whether err is a misuse of a wizard session (wrong step, submitted session, bad index...).
func conflict(err error) bool {
	switch errors.Cause(err) {
	case wizard.ErrNotLastStep, wizard.ErrSubmitInFlight, wizard.ErrAlreadySubmitted, wizard.ErrNotArray,
		form.ErrUnknownField, docarray.ErrIndexOutOfRange, docarray.ErrUnknownField:
		return true
	}
	return false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var subErr *wizard.SubmissionError
		var rejected *core.ValidationError
		if errors.As(err, &subErr) && errors.As(subErr.Err, &rejected) {
			// the submitter turned the record down
			code = http.StatusBadRequest
			if rejected.Fields != nil {
				message = rejected.FieldMap()
			} else {
				message = rejected.Error()
			}
		} else if subErr != nil {
			// the store message is meant for the user
			code = http.StatusBadGateway
			message = subErr.Error()
		} else if conflict(err) {
			code = http.StatusConflict
			message = err.Error()
		} else {
			switch origErr := errors.Cause(err).(type) {
			case *echo.HTTPError:
				if origErr == middleware.ErrJWTMissing {
					code = http.StatusUnauthorized
					message = origErr.Message
					break
				}
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
					fldErrs[vErr.Field()] = vErr.Translate(translator)
				}
				code = http.StatusBadRequest
				message = fldErrs
			case *core.ValidationError:
				if origErr.Fields != nil {
					message = origErr.FieldMap()
				} else {
					message = origErr.Error()
				}
				code = http.StatusBadRequest
			case *core.ArgumentError:
				code = http.StatusBadRequest
				message = origErr.Error()
			default:
				if origErr == submission.ErrNotFound {
					code = http.StatusNotFound
					message = errHttpNotFound.Message
					break
				}

				// any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				var usr user.User
				if claims, cErr := getContextClaims(ctx); cErr == nil {
					usr = claims.User()
				}
				if logger != nil {
					logger.Error(msg, errors.Wrap(err, msg), usr)
				}

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
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
