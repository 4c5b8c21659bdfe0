package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lottery-sync/internal/clock"
	"lottery-sync/internal/status"
	"lottery-sync/models"
	"lottery-sync/services"

	"github.com/labstack/echo/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReservationAPI struct {
	createErr error
	listErr   error
}

func (s *stubReservationAPI) CreateReservation(ctx context.Context, itemID string, quantity int, paymentMethodID string) (*models.Reservation, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	now := time.Now().UTC()
	return &models.Reservation{
		ID:         "res-1",
		ItemID:     itemID,
		Quantity:   quantity,
		UnitPrice:  decimal.NewFromInt(25),
		TotalPrice: decimal.NewFromInt(25).Mul(decimal.NewFromInt(int64(quantity))),
		Status:     models.ReservationPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(5 * time.Minute),
	}, nil
}

func (s *stubReservationAPI) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return nil, status.ErrReservationNotFound
}

func (s *stubReservationAPI) CancelReservation(ctx context.Context, id string) error {
	return nil
}

func (s *stubReservationAPI) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return []models.Reservation{
		{ID: "res-7", ItemID: "41", Quantity: 1, Status: models.ReservationPending,
			ExpiresAt: time.Now().UTC().Add(5 * time.Minute)},
	}, nil
}

func setupReservationHandler(api services.ReservationAPI) (*ReservationHandler, *services.ExpiryTracker) {
	clk := clock.NewSystem()
	client := services.NewReservationClient(api, clk, 10, 5*time.Minute)
	tracker := services.NewExpiryTracker(client, clk, time.Second)
	return NewReservationHandler(client, tracker), tracker
}

func jsonContext(method, target string, body any) (echo.Context, *httptest.ResponseRecorder) {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	e := echo.New()
	return e.NewContext(req, rec), rec
}

func TestReservationHandler_Create_Success(t *testing.T) {
	handler, tracker := setupReservationHandler(&stubReservationAPI{})

	c, rec := jsonContext(http.MethodPost, "/reservations", map[string]any{
		"item_id":  "41",
		"quantity": 5,
	})

	require.NoError(t, handler.Create(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var r models.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "res-1", r.ID)
	assert.Equal(t, models.ReservationPending, r.Status)
	assert.Equal(t, 1, tracker.TrackedCount(), "new reservations enter the expiry countdown")
}

func TestReservationHandler_Create_MissingItemID(t *testing.T) {
	handler, _ := setupReservationHandler(&stubReservationAPI{})

	c, rec := jsonContext(http.MethodPost, "/reservations", map[string]any{"quantity": 5})

	require.NoError(t, handler.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReservationHandler_Create_InsufficientInventory(t *testing.T) {
	handler, tracker := setupReservationHandler(&stubReservationAPI{createErr: status.ErrInsufficientInventory})

	c, rec := jsonContext(http.MethodPost, "/reservations", map[string]any{
		"item_id":  "41",
		"quantity": 5,
	})

	require.NoError(t, handler.Create(c))
	require.Equal(t, http.StatusConflict, rec.Code)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "insufficient_inventory", reply["code"])
	assert.Equal(t, 0, tracker.TrackedCount())
}

func TestReservationHandler_Create_InvalidQuantity(t *testing.T) {
	handler, _ := setupReservationHandler(&stubReservationAPI{})

	c, rec := jsonContext(http.MethodPost, "/reservations", map[string]any{
		"item_id":  "41",
		"quantity": 0,
	})

	require.NoError(t, handler.Create(c))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "invalid_quantity", reply["code"])
}

func TestReservationHandler_Create_CredentialProblemIs401(t *testing.T) {
	handler, _ := setupReservationHandler(&stubReservationAPI{createErr: status.ErrCredentialExpired})

	c, rec := jsonContext(http.MethodPost, "/reservations", map[string]any{
		"item_id":  "41",
		"quantity": 5,
	})

	require.NoError(t, handler.Create(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReservationHandler_Get_NotFound(t *testing.T) {
	handler, _ := setupReservationHandler(&stubReservationAPI{})

	c, rec := jsonContext(http.MethodGet, "/reservations/missing", nil)

	require.NoError(t, handler.Get(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReservationHandler_List_Local(t *testing.T) {
	handler, _ := setupReservationHandler(&stubReservationAPI{})

	// Seed the local list through the normal create path.
	c, _ := jsonContext(http.MethodPost, "/reservations", map[string]any{
		"item_id":  "41",
		"quantity": 2,
	})
	require.NoError(t, handler.Create(c))

	c, rec := jsonContext(http.MethodGet, "/reservations", nil)
	require.NoError(t, handler.List(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []models.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "res-1", list[0].ID)
}

func TestReservationHandler_List_FreshBypassesLocal(t *testing.T) {
	handler, tracker := setupReservationHandler(&stubReservationAPI{})

	c, rec := jsonContext(http.MethodGet, "/reservations?fresh=1", nil)
	require.NoError(t, handler.List(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []models.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "res-7", list[0].ID, "fresh=1 returns the server view")
	assert.Equal(t, 1, tracker.TrackedCount(), "re-synced pending reservations are re-armed")
}
