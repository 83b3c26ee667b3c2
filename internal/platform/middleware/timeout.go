package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on each request context. Generative calls,
// storage reads and database queries all inherit it, so a stuck backend
// surfaces as a 504 instead of holding the connection.
//
// The deadline is cooperative: the handler runs on the request goroutine and
// returns once the context it is blocked on expires. Panics therefore still
// reach Recovery.
//
// Routes matched by long get longLimit instead (analysis with retries).
func RequestTimeout(timeout, longLimit time.Duration, long func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := timeout
			if long != nil && long(c) {
				d = longLimit
			}
			if d <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request processing exceeded the allowed time limit")
			}
			return err
		}
	}
}
