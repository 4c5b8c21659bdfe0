package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"lottery-sync/internal/status"
	"lottery-sync/models"
	"lottery-sync/utils"
)

// InventoryFetcher is the pull side of inventory reads; InventoryCache uses
// it on every miss.
type InventoryFetcher interface {
	FetchInventory(ctx context.Context, itemID string) (*models.InventorySnapshot, error)
}

// ReservationAPI is the pull side of the reservation lifecycle.
type ReservationAPI interface {
	CreateReservation(ctx context.Context, itemID string, quantity int, paymentMethodID string) (*models.Reservation, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	CancelReservation(ctx context.Context, id string) error
	ListReservations(ctx context.Context) ([]models.Reservation, error)
}

// PullClient talks to the authoritative request/response API. Every call is
// authenticated through the credential gate and guarded by a circuit breaker
// so a struggling upstream degrades to fast failures instead of timeouts.
type PullClient struct {
	// baseURL is the base url of the upstream API.
	baseURL string

	// gate supplies a fresh bearer credential per call.
	gate *CredentialGate

	// breaker trips after a sustained failure ratio.
	breaker *utils.CircuitBreaker

	// hc is the http client.
	hc *http.Client
}

func NewPullClient(baseURL string, gate *CredentialGate, timeout time.Duration) *PullClient {
	return &PullClient{
		baseURL: baseURL,
		gate:    gate,
		breaker: utils.NewCircuitBreaker("pull-api"),
		hc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *PullClient) FetchInventory(ctx context.Context, itemID string) (*models.InventorySnapshot, error) {
	var snap models.InventorySnapshot
	path := fmt.Sprintf("/items/%s/inventory", url.PathEscape(itemID))
	if err := c.do(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, fmt.Errorf("FetchInventory: %w", err)
	}
	if snap.ItemID == "" {
		snap.ItemID = itemID
	}
	return &snap, nil
}

func (c *PullClient) CreateReservation(ctx context.Context, itemID string, quantity int, paymentMethodID string) (*models.Reservation, error) {
	body := map[string]any{
		"quantity": quantity,
	}
	if paymentMethodID != "" {
		body["paymentMethodId"] = paymentMethodID
	}

	var r models.Reservation
	path := "/reservations?itemId=" + url.QueryEscape(itemID)
	if err := c.do(ctx, http.MethodPost, path, body, &r); err != nil {
		return nil, fmt.Errorf("CreateReservation: %w", err)
	}
	return &r, nil
}

func (c *PullClient) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	path := "/reservations/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, fmt.Errorf("GetReservation: %w", err)
	}
	return &r, nil
}

func (c *PullClient) CancelReservation(ctx context.Context, id string) error {
	path := "/reservations/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("CancelReservation: %w", err)
	}
	return nil
}

func (c *PullClient) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	var list []models.Reservation
	if err := c.do(ctx, http.MethodGet, "/reservations", nil, &list); err != nil {
		return nil, fmt.Errorf("ListReservations: %w", err)
	}
	return list, nil
}

// do performs one authenticated call and decodes the response into out (nil
// out discards the body).
func (c *PullClient) do(ctx context.Context, method, path string, body any, out any) error {
	_, err := c.breaker.Execute(ctx, func() (any, error) {
		return nil, c.doOnce(ctx, method, path, body, out)
	})
	return err
}

func (c *PullClient) doOnce(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.gate.EnsureFresh(ctx)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("http.NewReq: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reqID, err := utils.RequestID(); err == nil {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("json.Decode: %w", err)
	}
	return nil
}

// apiError maps an upstream error response onto the reservation error
// taxonomy. The server's verdict always overrides client-side optimism.
func apiError(resp *http.Response) error {
	var reply struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	// A decode failure leaves the code empty; status-based mapping applies.
	json.NewDecoder(resp.Body).Decode(&reply)

	switch reply.Code {
	case "insufficient_inventory":
		return fmt.Errorf("%w: %s", status.ErrInsufficientInventory, reply.Message)
	case "invalid_quantity":
		return fmt.Errorf("%w: %s", status.ErrInvalidQuantity, reply.Message)
	case "item_not_found":
		return status.ErrItemNotFound
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return status.ErrReservationNotFound
	case http.StatusConflict:
		return status.ErrInsufficientInventory
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return status.ErrInvalidQuantity
	}

	return fmt.Errorf("status code %d: %s", resp.StatusCode, reply.Message)
}
