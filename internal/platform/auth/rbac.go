package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks the caller has one of the
// specified roles. Organization-scoped roles must also carry their
// organization reference.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, required := range roles {
				if id.Role != required {
					continue
				}
				switch {
				case required == RoleHospital && !id.IsHospital():
					return echo.NewHTTPError(http.StatusForbidden, "hospital user is not bound to a hospital")
				case required == RoleInsurer && !id.IsInsurer():
					return echo.NewHTTPError(http.StatusForbidden, "insurer user is not bound to an insurance company")
				}
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
