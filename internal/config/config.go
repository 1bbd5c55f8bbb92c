package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "POLARIX"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "polarix.db"
	defaultLogLevel          = "info"
	defaultIdentityDriver    = IdentityDriverKeycloak
	defaultKeycloakClientID  = "admin-cli"
	defaultKeycloakTimeout   = 10
	defaultAuthMode          = AuthModeOIDC
	defaultAuthIssuer        = "polarix-dev"
	defaultSearchPageSize    = 10
	defaultSearchMaxPageSize = 200
)

const (
	IdentityDriverKeycloak = "keycloak"
	IdentityDriverStatic   = "static"

	AuthModeOIDC  = "oidc"
	AuthModeHS256 = "hs256"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	CORSAllowedOrigins []string

	IdentityDriver      string
	IdentityFixturePath string

	KeycloakBaseURL      string
	KeycloakRealm        string
	KeycloakClientID     string
	KeycloakClientSecret string
	KeycloakTimeout      time.Duration

	AuthMode          string
	AuthIssuer        string
	AuthClientID      string
	AuthSigningSecret string
	AuthAdminRole     string

	SearchDefaultPageSize int
	SearchMaxPageSize     int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("identity.driver", defaultIdentityDriver)
	configViper.SetDefault("identity.fixture_path", "")
	configViper.SetDefault("keycloak.base_url", "")
	configViper.SetDefault("keycloak.realm", "")
	configViper.SetDefault("keycloak.client_id", defaultKeycloakClientID)
	configViper.SetDefault("keycloak.client_secret", "")
	configViper.SetDefault("keycloak.timeout_seconds", defaultKeycloakTimeout)
	configViper.SetDefault("auth.mode", defaultAuthMode)
	configViper.SetDefault("auth.issuer", "")
	configViper.SetDefault("auth.client_id", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.admin_role", "")
	configViper.SetDefault("search.default_page_size", defaultSearchPageSize)
	configViper.SetDefault("search.max_page_size", defaultSearchMaxPageSize)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           strings.TrimSpace(configViper.GetString("http.address")),
		DatabasePath:          strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:              configViper.GetString("log.level"),
		CORSAllowedOrigins:    splitList(configViper.GetStringSlice("cors.allowed_origins")),
		IdentityDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("identity.driver"))),
		IdentityFixturePath:   strings.TrimSpace(configViper.GetString("identity.fixture_path")),
		KeycloakBaseURL:       strings.TrimSpace(configViper.GetString("keycloak.base_url")),
		KeycloakRealm:         strings.TrimSpace(configViper.GetString("keycloak.realm")),
		KeycloakClientID:      strings.TrimSpace(configViper.GetString("keycloak.client_id")),
		KeycloakClientSecret:  configViper.GetString("keycloak.client_secret"),
		KeycloakTimeout:       time.Duration(configViper.GetInt("keycloak.timeout_seconds")) * time.Second,
		AuthMode:              strings.ToLower(strings.TrimSpace(configViper.GetString("auth.mode"))),
		AuthIssuer:            strings.TrimSpace(configViper.GetString("auth.issuer")),
		AuthClientID:          strings.TrimSpace(configViper.GetString("auth.client_id")),
		AuthSigningSecret:     configViper.GetString("auth.signing_secret"),
		AuthAdminRole:         strings.TrimSpace(configViper.GetString("auth.admin_role")),
		SearchDefaultPageSize: configViper.GetInt("search.default_page_size"),
		SearchMaxPageSize:     configViper.GetInt("search.max_page_size"),
	}

	if cfg.AuthIssuer == "" {
		cfg.AuthIssuer = cfg.defaultIssuer()
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.IdentityDriver {
	case IdentityDriverKeycloak:
		if c.KeycloakBaseURL == "" {
			return fmt.Errorf("keycloak.base_url is required for the keycloak identity driver")
		}
		if c.KeycloakRealm == "" {
			return fmt.Errorf("keycloak.realm is required for the keycloak identity driver")
		}
		if c.KeycloakClientID == "" || strings.TrimSpace(c.KeycloakClientSecret) == "" {
			return fmt.Errorf("keycloak.client_id and keycloak.client_secret are required for the keycloak identity driver")
		}
		if c.KeycloakTimeout <= 0 {
			return fmt.Errorf("keycloak.timeout_seconds must be positive")
		}
	case IdentityDriverStatic:
	default:
		return fmt.Errorf("identity.driver must be %q or %q, got %q", IdentityDriverKeycloak, IdentityDriverStatic, c.IdentityDriver)
	}

	switch c.AuthMode {
	case AuthModeOIDC:
		if c.AuthIssuer == "" {
			return fmt.Errorf("auth.issuer is required for oidc auth without a keycloak realm")
		}
	case AuthModeHS256:
		if strings.TrimSpace(c.AuthSigningSecret) == "" {
			return fmt.Errorf("auth.signing_secret is required for hs256 auth")
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeOIDC, AuthModeHS256, c.AuthMode)
	}

	for _, origin := range c.CORSAllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("cors.allowed_origins entry %q must be * or an http(s) origin", origin)
		}
	}

	if c.SearchMaxPageSize <= 0 {
		return fmt.Errorf("search.max_page_size must be positive")
	}
	if c.SearchDefaultPageSize <= 0 || c.SearchDefaultPageSize > c.SearchMaxPageSize {
		return fmt.Errorf("search.default_page_size must be between 1 and search.max_page_size")
	}
	return nil
}

// defaultIssuer derives the token issuer from the auth mode: the realm for
// oidc, the development issuer for hs256.
func (c AppConfig) defaultIssuer() string {
	switch c.AuthMode {
	case AuthModeHS256:
		return defaultAuthIssuer
	case AuthModeOIDC:
		if c.KeycloakBaseURL != "" && c.KeycloakRealm != "" {
			return c.RealmIssuerURL()
		}
	}
	return ""
}

// RealmIssuerURL is the OIDC issuer of the configured Keycloak realm.
func (c AppConfig) RealmIssuerURL() string {
	return strings.TrimSuffix(c.KeycloakBaseURL, "/") + "/realms/" + c.KeycloakRealm
}

// splitList accepts both list values and a single comma separated env value.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
