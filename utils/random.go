package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// RequestID returns a random hex string used as the X-Request-ID of upstream
// pull calls, so a failed fetch can be matched against server logs.
func RequestID() (string, error) {
	byt := make([]byte, 8)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return hex.EncodeToString(byt), nil
}
