package api

import (
	"net/http"
	"strings"
)

// Authenticator resolves the user behind a request. It reports false for
// anonymous or unknown credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (userID uint64, ok bool)
}

// TokenAuthenticator maps static API tokens to user ids. The token is read
// from "Authorization: Bearer <token>" or the "token" query parameter, which
// browsers need for websocket upgrades.
type TokenAuthenticator struct {
	tokens map[string]uint64
}

func NewTokenAuthenticator(tokens map[string]uint64) *TokenAuthenticator {
	cpy := make(map[string]uint64, len(tokens))
	for k, v := range tokens {
		cpy[k] = v
	}
	return &TokenAuthenticator{tokens: cpy}
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (uint64, bool) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			token = strings.TrimSpace(t)
		}
	}
	if token == "" {
		return 0, false
	}
	userID, ok := a.tokens[token]
	return userID, ok && userID != 0
}
