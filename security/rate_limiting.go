package security

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// ReservationRateLimit caps reservation creation per caller. Holds are a
// contended resource; a single client must not be able to sweep the pool.
func (r *RateLimiter) ReservationRateLimit(maxPerMinute int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := fmt.Sprintf("ratelimit:reserve:%s", callerIdentifier(c))

			count, err := r.redis.Incr(context.Background(), key).Result()
			if err == nil {
				if count == 1 {
					r.redis.Expire(context.Background(), key, time.Minute)
				}
				if count > maxPerMinute {
					return c.JSON(429, map[string]string{
						"error": "Too many reservation attempts. Please try again later.",
					})
				}
			}

			return next(c)
		}
	}
}

func callerIdentifier(c echo.Context) string {
	if userID := c.Request().Header.Get("X-User-ID"); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.RealIP()
}
