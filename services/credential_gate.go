package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"lottery-sync/internal/clock"
	"lottery-sync/internal/status"

	"github.com/golang-jwt/jwt/v5"
)

// AuthProvider is the external auth collaborator. This subsystem never
// manages login; it only consumes the stored credential, its expiry, and a
// refresh call.
type AuthProvider interface {
	// Credential returns the stored bearer credential, or ok=false if absent.
	Credential() (token string, ok bool)

	// CredentialExpiry returns the known expiry, or ok=false if unknown.
	CredentialExpiry() (expiry time.Time, ok bool)

	// Refresh obtains a new credential from the auth backend and stores it.
	Refresh(ctx context.Context) (token string, expiry time.Time, err error)
}

// CredentialGate validates and pre-emptively refreshes the bearer credential
// before any channel or pull operation. No connection is opened with a
// credential that would expire mid-handshake.
type CredentialGate struct {
	auth      AuthProvider
	clock     clock.Clock
	threshold time.Duration

	// mu serializes refreshes so concurrent callers trigger one refresh.
	mu sync.Mutex
}

func NewCredentialGate(auth AuthProvider, clk clock.Clock, threshold time.Duration) *CredentialGate {
	return &CredentialGate{
		auth:      auth,
		clock:     clk,
		threshold: threshold,
	}
}

// EnsureFresh returns a credential guaranteed to outlive the refresh
// threshold, refreshing synchronously when time-to-expiry is positive but
// under it. Idempotent to call repeatedly.
func (g *CredentialGate) EnsureFresh(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	token, ok := g.auth.Credential()
	if !ok || token == "" {
		return "", status.ErrCredentialMissing
	}

	if err := checkStructure(token); err != nil {
		return "", fmt.Errorf("%w: %v", status.ErrCredentialMalformed, err)
	}

	expiry, ok := g.auth.CredentialExpiry()
	if !ok {
		return "", status.ErrCredentialMissing
	}

	ttl := expiry.Sub(g.clock.Now())
	if ttl <= 0 {
		return "", status.ErrCredentialExpired
	}

	if ttl < g.threshold {
		log.Printf("credential gate: %s to expiry, refreshing before use", ttl)
		fresh, _, err := g.auth.Refresh(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", status.ErrRefreshFailed, err)
		}
		return fresh, nil
	}

	return token, nil
}

// checkStructure runs the basic structural check: the credential must parse
// as a JWT. The signature is the server's concern, not ours.
func checkStructure(token string) error {
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, jwt.MapClaims{}); err != nil {
		return err
	}
	return nil
}
