package main

import (
	"context"
	"fmt"

	"github.com/14vimal2/polarix/internal/auth"
	"github.com/14vimal2/polarix/internal/config"
	"github.com/14vimal2/polarix/internal/identity"
	"github.com/14vimal2/polarix/internal/identity/keycloak"
	"go.uber.org/zap"
)

func newDirectory(cfg config.AppConfig, logger *zap.Logger) (identity.Directory, error) {
	switch cfg.IdentityDriver {
	case config.IdentityDriverKeycloak:
		client, err := keycloak.NewClient(keycloak.Config{
			BaseURL:      cfg.KeycloakBaseURL,
			Realm:        cfg.KeycloakRealm,
			ClientID:     cfg.KeycloakClientID,
			ClientSecret: cfg.KeycloakClientSecret,
			Timeout:      cfg.KeycloakTimeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.IdentityDriverStatic:
		if cfg.IdentityFixturePath == "" {
			logger.Warn("static identity driver started empty")
			return identity.NewMemoryDirectory(), nil
		}
		directory, err := identity.LoadMemoryDirectoryFile(cfg.IdentityFixturePath)
		if err != nil {
			return nil, err
		}
		count, _ := directory.CountUsers(context.Background())
		logger.Info("static identity directory loaded",
			zap.String("fixture", cfg.IdentityFixturePath),
			zap.Int("users", count))
		return directory, nil
	default:
		return nil, fmt.Errorf("unsupported identity driver %q", cfg.IdentityDriver)
	}
}

func newVerifier(ctx context.Context, cfg config.AppConfig) (auth.Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeOIDC:
		verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
			IssuerURL: cfg.AuthIssuer,
			ClientID:  cfg.AuthClientID,
		})
		if err != nil {
			return nil, err
		}
		return verifier, nil
	case config.AuthModeHS256:
		validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
			SigningSecret: []byte(cfg.AuthSigningSecret),
			Issuer:        cfg.AuthIssuer,
		})
		if err != nil {
			return nil, err
		}
		return validator, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}
