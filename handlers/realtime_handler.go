package handlers

import (
	"net/http"

	"lottery-sync/services"
	"lottery-sync/utils"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

type RealtimeHandler struct {
	channel *services.RealtimeChannel
	redis   *redis.Client
}

func NewRealtimeHandler(channel *services.RealtimeChannel, redisClient *redis.Client) *RealtimeHandler {
	return &RealtimeHandler{
		channel: channel,
		redis:   redisClient,
	}
}

// Status reports the channel state so the UI can show a "live" indicator and
// distinguish transient blips (reconnecting) from sustained failure.
func (h *RealtimeHandler) Status(c echo.Context) error {
	state := h.channel.State()

	return c.JSON(http.StatusOK, map[string]any{
		"state":      state.String(),
		"live":       state == services.StateConnected,
		"last_error": h.channel.LastErrorClass().String(),
		"interests":  h.channel.Interests(),
	})
}

// Connect asks the channel to establish itself. A failure is reported, not
// raised; the caller keeps working in pull-only mode.
func (h *RealtimeHandler) Connect(c echo.Context) error {
	if err := h.channel.EnsureConnection(c.Request().Context()); err != nil {
		return c.JSON(http.StatusOK, map[string]any{
			"state": h.channel.State().String(),
			"live":  false,
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"state": h.channel.State().String(),
		"live":  true,
	})
}

func (h *RealtimeHandler) Health(c echo.Context) error {
	if err := utils.RedisHealthCheck(h.redis); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
	})
}
