package handlers

import (
	"net/http"

	"lottery-sync/services"

	"github.com/labstack/echo/v5"
)

type InventoryHandler struct {
	cache   *services.InventoryCache
	channel *services.RealtimeChannel
}

func NewInventoryHandler(cache *services.InventoryCache, channel *services.RealtimeChannel) *InventoryHandler {
	return &InventoryHandler{
		cache:   cache,
		channel: channel,
	}
}

func (h *InventoryHandler) Get(c echo.Context) error {
	itemID := c.PathParam("id")

	// fresh=1 bypasses the TTL (manual refresh).
	useCache := c.QueryParam("fresh") != "1"

	snap, err := h.cache.Get(c.Request().Context(), itemID, useCache)
	if err != nil {
		return reservationError(c, err)
	}

	return c.JSON(http.StatusOK, snap)
}

// Watch joins the live-update group for an item. Best-effort: offline joins
// are recorded and applied once the channel connects.
func (h *InventoryHandler) Watch(c echo.Context) error {
	itemID := c.PathParam("id")
	h.channel.Watch(itemID)

	// Kick a connection attempt if none exists; failure just means pull-only
	// mode, not an error for the caller.
	if err := h.channel.EnsureConnection(c.Request().Context()); err != nil {
		return c.JSON(http.StatusOK, map[string]any{
			"watching": itemID,
			"live":     false,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"watching": itemID,
		"live":     true,
	})
}

func (h *InventoryHandler) Unwatch(c echo.Context) error {
	itemID := c.PathParam("id")
	h.channel.Unwatch(itemID)

	return c.NoContent(http.StatusNoContent)
}
