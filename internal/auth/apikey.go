package auth

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

// APIKeyIdentity authenticates operational tooling presenting a shared key.
// Only the bcrypt hash of the key is configured.
type APIKeyIdentity struct {
	hash   []byte
	caller Caller
}

func NewAPIKeyIdentity(hash string, caller Caller) *APIKeyIdentity {
	return &APIKeyIdentity{hash: []byte(hash), caller: caller}
}

func (a *APIKeyIdentity) Identify(r *http.Request) (Caller, error) {
	key := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	if key == "" {
		return Caller{}, ErrNoIdentity
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
		return Caller{}, fmt.Errorf("%w: api key rejected", ErrNoIdentity)
	}
	return a.caller, nil
}

// HashAPIKey produces the value to configure for key.
func HashAPIKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
