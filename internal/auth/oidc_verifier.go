package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

var ErrMissingIssuerURL = errors.New("oidc verifier: issuer url required")

// OIDCConfig describes the realm whose access tokens the API accepts.
type OIDCConfig struct {
	IssuerURL string
	// ClientID is matched against the token audience; empty skips the check,
	// since realm access tokens are commonly issued for the "account" audience.
	ClientID   string
	HTTPClient *http.Client
	// KeySet bypasses discovery when set.
	KeySet oidc.KeySet
	Clock  func() time.Time
}

// OIDCVerifier validates RS256 access tokens against the realm's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ Verifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier runs discovery against the issuer unless a KeySet is supplied.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	issuer := strings.TrimSuffix(strings.TrimSpace(cfg.IssuerURL), "/")
	if issuer == "" {
		return nil, ErrMissingIssuerURL
	}
	verifierConfig := &oidc.Config{
		ClientID:          cfg.ClientID,
		SkipClientIDCheck: strings.TrimSpace(cfg.ClientID) == "",
		Now:               cfg.Clock,
	}

	if cfg.KeySet != nil {
		return &OIDCVerifier{verifier: oidc.NewVerifier(issuer, cfg.KeySet, verifierConfig)}, nil
	}

	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc verifier: discovery: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(verifierConfig)}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (Principal, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	verified, err := v.verifier.Verify(ctx, token)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims Claims
	if err := verified.Claims(&claims); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.principal()
}
