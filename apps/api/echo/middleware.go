package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// authorize lets a request through when allowed accepts the token claims.
func authorize(allowed func(claims Claims) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if !allowed(claims) {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

// adminMiddleware requires a school administrator, holding any of roles when given.
func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return authorize(func(claims Claims) bool {
		return claims.IsAdmin && claims.hasAnyRole(roles)
	})
}

// rolesMiddleware lets through users holding any of roles.
func rolesMiddleware(roles ...string) echo.MiddlewareFunc {
	return authorize(func(claims Claims) bool {
		return claims.hasAnyRole(roles)
	})
}
