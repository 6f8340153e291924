package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authorizer decides whether a request may read and edit a workspace.
type Authorizer interface {
	CanEdit(r *http.Request, workspaceID string) (bool, error)
}

// AllowAll admits every request.
type AllowAll struct{}

func (AllowAll) CanEdit(*http.Request, string) (bool, error) { return true, nil }

// TokenAuth admits requests carrying a shared token, either as the token
// query parameter (browsers cannot set headers on WebSocket upgrades) or as
// a bearer token.
type TokenAuth struct {
	Token string
}

func (a TokenAuth) CanEdit(r *http.Request, _ string) (bool, error) {
	got := r.URL.Query().Get("token")
	if got == "" {
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			got = bearer
		}
	}
	if got == "" || a.Token == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.Token)) == 1, nil
}

// NewAuthorizer returns TokenAuth when token is set and AllowAll otherwise.
func NewAuthorizer(token string) Authorizer {
	if token == "" {
		return AllowAll{}
	}
	return TokenAuth{Token: token}
}
