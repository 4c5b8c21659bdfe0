package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RemoteAuthProvider holds the bearer credential handed to this process and
// refreshes it against the auth backend's refresh endpoint.
type RemoteAuthProvider struct {
	// baseURL is the base url of the auth backend.
	baseURL string

	// hc is the http client.
	hc *http.Client

	// mu guards token and expiry.
	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewRemoteAuthProvider(baseURL string, timeout time.Duration) *RemoteAuthProvider {
	return &RemoteAuthProvider{
		baseURL: baseURL,
		hc: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetCredential stores a credential obtained out of band (the login flow is
// not this subsystem's concern).
func (p *RemoteAuthProvider) SetCredential(token string, expiry time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.expiry = expiry
}

func (p *RemoteAuthProvider) Credential() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", false
	}
	return p.token, true
}

func (p *RemoteAuthProvider) CredentialExpiry() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.expiry.IsZero() {
		return time.Time{}, false
	}
	return p.expiry, true
}

// Refresh exchanges the current credential for a fresh one and stores it.
func (p *RemoteAuthProvider) Refresh(ctx context.Context) (string, time.Time, error) {
	current, ok := p.Credential()
	if !ok {
		return "", time.Time{}, errors.New("refresh: no credential to refresh")
	}

	body, err := json.Marshal(map[string]string{"token": current})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/refresh", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.hc.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("refresh: status code %d", resp.StatusCode)
	}

	var reply struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", time.Time{}, fmt.Errorf("refresh: json.Decode: %w", err)
	}
	if reply.Token == "" {
		return "", time.Time{}, errors.New("refresh: empty token in response")
	}

	p.SetCredential(reply.Token, reply.ExpiresAt)
	return reply.Token, reply.ExpiresAt, nil
}
