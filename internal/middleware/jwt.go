package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ctxSubject = "subject"
	ctxRole    = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer token signed
// with secret (HS256 only) and stores its subject and role claims in the
// context.  Handlers read them with Subject and Role.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			sub, _ := claims.GetSubject()
			role, _ := claims["role"].(string)
			c.Set(ctxSubject, sub)
			c.Set(ctxRole, role)
			return next(c)
		}
	}
}

// Subject returns the authenticated caller, or "" when JWTAuth did not run.
func Subject(c echo.Context) string {
	s, _ := c.Get(ctxSubject).(string)
	return s
}

// Role returns the authenticated caller's role, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}
