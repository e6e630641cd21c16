package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/githuba42r/ImageTools-sub000/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit gates mutating routes. Reads are never limited; a broken
// limiter fails open so an unreachable redis cannot take the API down.
func (s *Server) withRateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.limiter == nil || !mutatingMethod(c.Request().Method) {
			return next(c)
		}

		subject := strings.TrimSpace(c.Request().Header.Get(ownerHeader))
		if subject == "" {
			subject = c.RealIP()
		}
		subject = subject + ":" + routeLabel(c)

		decision, err := s.limiter.Allow(c.Request().Context(), subject)
		if err != nil {
			s.log.Warn("rate limiter unavailable, allowing request", "subject", subject, "error", err)
			return next(c)
		}

		c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			return next(c)
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(c)).Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	}
}

func mutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
