package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsForStaticDevelopment(t *testing.T) {
	configViper := NewViper()
	configViper.Set("identity.driver", "static")
	configViper.Set("auth.mode", "hs256")
	configViper.Set("auth.signing_secret", "dev-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AuthIssuer != defaultAuthIssuer {
		t.Fatalf("expected development issuer, got %q", cfg.AuthIssuer)
	}
	if cfg.SearchDefaultPageSize != 10 || cfg.SearchMaxPageSize != 200 {
		t.Fatalf("unexpected page sizes: %d/%d", cfg.SearchDefaultPageSize, cfg.SearchMaxPageSize)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadDerivesRealmIssuer(t *testing.T) {
	configViper := NewViper()
	configViper.Set("keycloak.base_url", "https://login.example.com/")
	configViper.Set("keycloak.realm", "polarix")
	configViper.Set("keycloak.client_secret", "s3cret")
	configViper.Set("keycloak.timeout_seconds", 3)
	configViper.Set("cors.allowed_origins", "https://a.example.com, https://b.example.com")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.AuthIssuer != "https://login.example.com/realms/polarix" {
		t.Fatalf("unexpected issuer %q", cfg.AuthIssuer)
	}
	if cfg.KeycloakTimeout != 3*time.Second || cfg.KeycloakClientID != "admin-cli" {
		t.Fatalf("unexpected keycloak settings: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("POLARIX_IDENTITY_DRIVER", "static")
	t.Setenv("POLARIX_AUTH_MODE", "hs256")
	t.Setenv("POLARIX_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("POLARIX_SEARCH_MAX_PAGE_SIZE", "50")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.AuthSigningSecret != "from-env" || cfg.SearchMaxPageSize != 50 {
		t.Fatalf("environment not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	testCases := []struct {
		name     string
		settings map[string]any
		contains string
	}{
		{
			name:     "keycloak without base url",
			settings: map[string]any{"keycloak.realm": "polarix"},
			contains: "keycloak.base_url",
		},
		{
			name: "keycloak without client secret",
			settings: map[string]any{
				"keycloak.base_url": "https://login.example.com",
				"keycloak.realm":    "polarix",
			},
			contains: "keycloak.client_secret",
		},
		{
			name: "cors origin without scheme",
			settings: map[string]any{
				"identity.driver":      "static",
				"auth.mode":            "hs256",
				"auth.signing_secret":  "s",
				"cors.allowed_origins": "app.example.com",
			},
			contains: "cors.allowed_origins",
		},
		{
			name:     "unknown identity driver",
			settings: map[string]any{"identity.driver": "ldap"},
			contains: "identity.driver",
		},
		{
			name:     "hs256 without secret",
			settings: map[string]any{"identity.driver": "static", "auth.mode": "hs256"},
			contains: "auth.signing_secret",
		},
		{
			name:     "oidc without issuer",
			settings: map[string]any{"identity.driver": "static"},
			contains: "auth.issuer",
		},
		{
			name: "default page larger than max",
			settings: map[string]any{
				"identity.driver":          "static",
				"auth.mode":                "hs256",
				"auth.signing_secret":      "s",
				"search.default_page_size": 300,
			},
			contains: "search.default_page_size",
		},
		{
			name:     "empty database path",
			settings: map[string]any{"identity.driver": "static", "database.path": " "},
			contains: "database.path",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.settings {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.contains) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.contains, err)
			}
		})
	}
}
