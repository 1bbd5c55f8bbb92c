package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
)

var (
	ErrMissingToken = errors.New("auth: bearer token required")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token expired")
	ErrMissingClaim = errors.New("auth: subject required")
)

// Principal is the authenticated caller as described by the identity store's token.
type Principal struct {
	Subject    string   `json:"id"`
	Username   string   `json:"username,omitempty"`
	Email      string   `json:"email,omitempty"`
	GivenName  string   `json:"firstName,omitempty"`
	FamilyName string   `json:"lastName,omitempty"`
	Roles      []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// Verifier turns a raw bearer token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Principal, error)
}

// Claims is the subset of the identity store's access token the API reads.
type Claims struct {
	Subject           string      `json:"sub"`
	PreferredUsername string      `json:"preferred_username"`
	Email             string      `json:"email"`
	GivenName         string      `json:"given_name"`
	FamilyName        string      `json:"family_name"`
	RealmAccess       RealmAccess `json:"realm_access"`
}

// RealmAccess carries realm-level role assignments.
type RealmAccess struct {
	Roles []string `json:"roles"`
}

func (c Claims) principal() (Principal, error) {
	subject := strings.TrimSpace(c.Subject)
	if subject == "" {
		return Principal{}, ErrMissingClaim
	}
	return Principal{
		Subject:    subject,
		Username:   c.PreferredUsername,
		Email:      c.Email,
		GivenName:  c.GivenName,
		FamilyName: c.FamilyName,
		Roles:      append([]string(nil), c.RealmAccess.Roles...),
	}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
