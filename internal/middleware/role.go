package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RoleFinalizer is held by the backend that finalizes paid bookings.
const RoleFinalizer = "FINALIZER"

// RequireRole aborts with 403 unless the caller authenticated by JWTAuth
// has one of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
