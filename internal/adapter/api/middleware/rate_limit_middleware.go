package middleware

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"tutorchat/pkg/errors"
	"tutorchat/pkg/logger"
	"tutorchat/pkg/response"
)

// RateLimit limits requests per client IP to perSecond, with bursts of
// twice that. Visitors idle for three minutes are forgotten.
func RateLimit(perSecond float64) echo.MiddlewareFunc {
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}

	store := echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})

	return echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return response.Error(c, errors.Forbidden("Unable to identify client", err))
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			logger.Warn("RATE LIMIT: blocked request from %s to %s", identifier, c.Path())
			return response.Error(c, errors.TooManyRequests(fmt.Sprintf("Rate limit exceeded, at most %.0f requests per second", perSecond)))
		},
	})
}
