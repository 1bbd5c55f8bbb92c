package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/14vimal2/polarix/internal/identity"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultTimeout = 10 * time.Second

var (
	// ErrInvalidConfig indicates the admin client cannot be built from the supplied configuration.
	ErrInvalidConfig = errors.New("keycloak: invalid client config")
	errMissingUserID = errors.New("keycloak: user id is required")
)

var _ identity.Directory = (*Client)(nil)

// Config describes how to reach the realm's admin API with a confidential client.
type Config struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Timeout      time.Duration
	Logger       *zap.Logger
}

// Client implements identity.Directory against the Keycloak admin REST API.
type Client struct {
	baseURL    string
	realm      string
	httpClient *http.Client
	logger     *zap.Logger
}

// StatusError reports an unexpected admin API response.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("keycloak: %s: unexpected status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("keycloak: %s: unexpected status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Unwrap maps well-known statuses onto identity sentinels.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return identity.ErrNotFound
	case http.StatusConflict:
		return identity.ErrConflict
	}
	return nil
}

// NewClient validates the configuration and wires a token-refreshing HTTP client
// using the client-credentials grant against the realm's token endpoint.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" || !strings.HasPrefix(baseURL, "http") {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, cfg.BaseURL)
	}
	realm := strings.TrimSpace(cfg.Realm)
	if realm == "" {
		return nil, fmt.Errorf("%w: realm required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: client credentials required", ErrInvalidConfig)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseHTTPClient := cfg.HTTPClient
	if baseHTTPClient == nil {
		baseHTTPClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	credentials := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", baseURL, url.PathEscape(realm)),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenContext := context.WithValue(context.Background(), oauth2.HTTPClient, baseHTTPClient)
	authorized := credentials.Client(tokenContext)
	authorized.Timeout = timeout

	return &Client{
		baseURL:    baseURL,
		realm:      realm,
		httpClient: authorized,
		logger:     logger,
	}, nil
}

func (c *Client) ListUsers(ctx context.Context, offset, limit int) ([]identity.User, error) {
	query := pageQuery(offset, limit)
	var users []identity.User
	if err := c.do(ctx, "list_users", http.MethodGet, c.usersURL("", query), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) SearchUsers(ctx context.Context, term string, offset, limit int) ([]identity.User, error) {
	query := pageQuery(offset, limit)
	query.Set("search", term)
	var users []identity.User
	if err := c.do(ctx, "search_users", http.MethodGet, c.usersURL("", query), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (identity.User, error) {
	if strings.TrimSpace(id) == "" {
		return identity.User{}, errMissingUserID
	}
	var user identity.User
	if err := c.do(ctx, "get_user", http.MethodGet, c.usersURL(id, nil), nil, &user); err != nil {
		return identity.User{}, err
	}
	return user, nil
}

// CreateUser posts the representation and returns the identifier taken from the
// Location header of the 201 response.
func (c *Client) CreateUser(ctx context.Context, user identity.User) (string, error) {
	response, err := c.send(ctx, "create_user", http.MethodPost, c.usersURL("", nil), user)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		return "", statusError("create_user", response)
	}
	location := response.Header.Get("Location")
	if location == "" {
		return "", errors.New("keycloak: create_user: missing location header")
	}
	userID := path.Base(strings.TrimSuffix(location, "/"))
	c.logger.Info("identity user created", zap.String("external_id", userID), zap.String("username", user.Username))
	return userID, nil
}

// userUpdate is the PUT body. Profile fields are always present so an empty
// value clears the attribute in Keycloak instead of leaving the old one.
type userUpdate struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Enabled       bool   `json:"enabled"`
	EmailVerified bool   `json:"emailVerified"`
}

func (c *Client) UpdateUser(ctx context.Context, id string, user identity.User) error {
	if strings.TrimSpace(id) == "" {
		return errMissingUserID
	}
	body := userUpdate{
		Username:      user.Username,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Enabled:       user.Enabled,
		EmailVerified: user.EmailVerified,
	}
	return c.do(ctx, "update_user", http.MethodPut, c.usersURL(id, nil), body, nil)
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errMissingUserID
	}
	return c.do(ctx, "delete_user", http.MethodDelete, c.usersURL(id, nil), nil, nil)
}

func (c *Client) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := c.do(ctx, "count_users", http.MethodGet, c.usersURL("count", nil), nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Client) FindByUsername(ctx context.Context, username string, exact bool) ([]identity.User, error) {
	query := url.Values{}
	query.Set("username", username)
	query.Set("exact", strconv.FormatBool(exact))
	var users []identity.User
	if err := c.do(ctx, "find_by_username", http.MethodGet, c.usersURL("", query), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) FindByEmail(ctx context.Context, email string, exact bool) ([]identity.User, error) {
	query := url.Values{}
	query.Set("email", email)
	query.Set("exact", strconv.FormatBool(exact))
	var users []identity.User
	if err := c.do(ctx, "find_by_email", http.MethodGet, c.usersURL("", query), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) ResetCredential(ctx context.Context, id, secret string) error {
	if strings.TrimSpace(id) == "" {
		return errMissingUserID
	}
	credential := identity.PasswordCredential(secret)
	return c.do(ctx, "reset_password", http.MethodPut, c.usersURL(id+"/reset-password", nil), credential, nil)
}

// SetEnabled reads the representation and writes it back with the flag changed;
// the admin API has no dedicated endpoint for it.
func (c *Client) SetEnabled(ctx context.Context, id string, enabled bool) error {
	user, err := c.GetUser(ctx, id)
	if err != nil {
		return err
	}
	user.Enabled = enabled
	return c.UpdateUser(ctx, id, user)
}

func (c *Client) usersURL(suffix string, query url.Values) string {
	endpoint := fmt.Sprintf("%s/admin/realms/%s/users", c.baseURL, url.PathEscape(c.realm))
	if suffix != "" {
		segments := strings.Split(suffix, "/")
		for index, segment := range segments {
			segments[index] = url.PathEscape(segment)
		}
		endpoint += "/" + strings.Join(segments, "/")
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, body, out any) error {
	response, err := c.send(ctx, operation, method, endpoint, body)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return statusError(operation, response)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("keycloak: %s: decode response: %w", operation, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, operation, method, endpoint string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("keycloak: %s: encode request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("keycloak: %s: new request: %w", operation, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("keycloak: %s: %w", operation, err)
	}
	return response, nil
}

func statusError(operation string, response *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
	return &StatusError{
		Operation:  operation,
		StatusCode: response.StatusCode,
		Body:       strings.TrimSpace(string(payload)),
	}
}

func pageQuery(offset, limit int) url.Values {
	query := url.Values{}
	query.Set("first", strconv.Itoa(max(offset, 0)))
	if limit > 0 {
		query.Set("max", strconv.Itoa(limit))
	}
	query.Set("briefRepresentation", "false")
	return query
}
