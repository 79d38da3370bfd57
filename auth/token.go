package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// AllowAll permits every request. Default for local single-user deployments.
type AllowAll struct{}

func (AllowAll) Auth(*http.Request) error { return nil }

// TokenClient requires a fixed bearer token on every request.
type TokenClient struct {
	Token string
}

func (c *TokenClient) Auth(r *http.Request) error {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return fmt.Errorf("missing bearer token")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(c.Token)) != 1 {
		return fmt.Errorf("invalid bearer token")
	}
	return nil
}
