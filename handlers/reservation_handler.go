package handlers

import (
	"errors"
	"net/http"

	"lottery-sync/internal/status"
	"lottery-sync/services"

	"github.com/labstack/echo/v5"
)

type ReservationHandler struct {
	reservations *services.ReservationClient
	tracker      *services.ExpiryTracker
}

func NewReservationHandler(reservations *services.ReservationClient, tracker *services.ExpiryTracker) *ReservationHandler {
	return &ReservationHandler{
		reservations: reservations,
		tracker:      tracker,
	}
}

func (h *ReservationHandler) Create(c echo.Context) error {
	var req struct {
		ItemID          string `json:"item_id"`
		Quantity        int    `json:"quantity"`
		PaymentMethodID string `json:"payment_method_id"`
	}

	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": "Invalid request",
		})
	}
	if req.ItemID == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": "item_id is required",
		})
	}

	r, err := h.reservations.Create(c.Request().Context(), req.ItemID, req.Quantity, req.PaymentMethodID)
	if err != nil {
		return reservationError(c, err)
	}

	h.tracker.Track(r)

	return c.JSON(http.StatusCreated, r)
}

func (h *ReservationHandler) Get(c echo.Context) error {
	id := c.PathParam("id")

	r, err := h.reservations.Get(id)
	if err != nil {
		return reservationError(c, err)
	}

	return c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) List(c echo.Context) error {
	// fresh=1 is the explicit user refresh: it bypasses the local list and
	// re-reads the server.
	if c.QueryParam("fresh") == "1" {
		list, err := h.reservations.SyncList(c.Request().Context())
		if err != nil {
			return reservationError(c, err)
		}
		for _, r := range list {
			h.tracker.Track(r)
		}
		return c.JSON(http.StatusOK, list)
	}

	return c.JSON(http.StatusOK, h.reservations.List())
}

// Cancel is destructive and billable-adjacent; the UI confirms with the user
// before this endpoint is ever called.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	id := c.PathParam("id")

	if err := h.reservations.Cancel(c.Request().Context(), id); err != nil {
		return reservationError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func reservationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, status.ErrInvalidQuantity):
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"code":  "invalid_quantity",
			"error": err.Error(),
		})
	case errors.Is(err, status.ErrInsufficientInventory):
		return c.JSON(http.StatusConflict, map[string]any{
			"code":  "insufficient_inventory",
			"error": err.Error(),
		})
	case errors.Is(err, status.ErrReservationNotFound), errors.Is(err, status.ErrItemNotFound):
		return c.JSON(http.StatusNotFound, map[string]any{
			"code":  "not_found",
			"error": err.Error(),
		})
	case errors.Is(err, status.ErrCredentialMissing),
		errors.Is(err, status.ErrCredentialMalformed),
		errors.Is(err, status.ErrCredentialExpired),
		errors.Is(err, status.ErrRefreshFailed):
		return c.JSON(http.StatusUnauthorized, map[string]any{
			"code":  "unauthorized",
			"error": err.Error(),
		})
	default:
		return c.JSON(http.StatusBadGateway, map[string]any{
			"code":  "upstream_error",
			"error": err.Error(),
		})
	}
}
