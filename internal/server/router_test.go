package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/14vimal2/polarix/internal/accounts"
	"github.com/14vimal2/polarix/internal/auth"
	"github.com/14vimal2/polarix/internal/identity"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingVerifier) {
		t.Fatalf("expected missing verifier error, got %v", err)
	}
	validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{SigningSecret: []byte("s"), Issuer: "i"})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Verifier: validator}); !errors.Is(err, errMissingAccountService) {
		t.Fatalf("expected missing account service error, got %v", err)
	}
}

func TestAuthorizeRequestRejectsMissingAndForeignTokens(t *testing.T) {
	server := newTestServer(t, testServerOptions{})

	if recorder := server.do(t, http.MethodGet, "/api/v1/user", "", nil); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "kc-1",
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("another-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if recorder := server.do(t, http.MethodGet, "/api/v1/user", foreign, nil); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d", recorder.Code)
	}

	if recorder := server.do(t, http.MethodGet, "/healthz", "", nil); recorder.Code != http.StatusOK {
		t.Fatalf("expected health check without token, got %d", recorder.Code)
	}
}

type stubVerifier struct {
	principal auth.Principal
	err       error
}

func (v stubVerifier) Verify(_ context.Context, _ string) (auth.Principal, error) {
	return v.principal, v.err
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/v1/user", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		verifier: stubVerifier{err: auth.ErrExpiredToken},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
	if entries[0].Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestRequireAdminGatesMutations(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	payload := map[string]string{"username": "ada", "firstName": "Ada", "password": "secret1"}

	recorder := server.do(t, http.MethodPost, "/api/v1/user", server.token(t), payload)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin role, got %d", recorder.Code)
	}
	recorder = server.do(t, http.MethodGet, "/api/v1/user/sagas", server.token(t), nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 listing sagas without admin role, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodPost, "/api/v1/user", server.token(t, testAdminRole), payload)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201 with admin role, got %d: %s", recorder.Code, recorder.Body.String())
	}

	if recorder := server.do(t, http.MethodGet, "/api/v1/user", server.token(t), nil); recorder.Code != http.StatusOK {
		t.Fatalf("expected reads without admin role, got %d", recorder.Code)
	}
}

func TestMeEchoesPrincipal(t *testing.T) {
	server := newTestServer(t, testServerOptions{})

	recorder := server.do(t, http.MethodGet, "/api/v1/user/me", server.token(t, "reader"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	principal := decodeBody[auth.Principal](t, recorder)
	if principal.Subject != "kc-operator" || principal.Username != "operator" || !principal.HasRole("reader") {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	admin := server.token(t, testAdminRole)

	recorder := server.do(t, http.MethodPost, "/api/v1/user", admin, map[string]string{
		"username":    "ada",
		"email":       "ada@example.com",
		"firstName":   "Ada",
		"lastName":    "Lovelace",
		"password":    "secret1",
		"dateOfBirth": adultBirthDate(),
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Header().Get(sagaOutcomeHeader) != accounts.OutcomeCompleted || recorder.Header().Get(sagaIDHeader) == "" {
		t.Fatalf("expected saga headers, got %v", recorder.Header())
	}
	created := decodeBody[accounts.MergedAccount](t, recorder)
	if created.ID == "" || created.ExternalID == "" || !created.Enabled {
		t.Fatalf("unexpected created account %+v", created)
	}

	recorder = server.do(t, http.MethodPost, "/api/v1/user", admin, map[string]string{
		"username": "ada", "firstName": "Other", "password": "secret2",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", recorder.Code)
	}
	conflict := decodeBody[errorResponse](t, recorder)
	if conflict.Error != "conflict" || conflict.Code != "accounts.create.username_taken" {
		t.Fatalf("unexpected conflict body %+v", conflict)
	}

	recorder = server.do(t, http.MethodGet, "/api/v1/user/"+created.ID, admin, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", recorder.Code)
	}
	recorder = server.do(t, http.MethodGet, "/api/v1/user/by-username/ada", admin, nil)
	if recorder.Code != http.StatusOK || decodeBody[accounts.MergedAccount](t, recorder).ID != created.ID {
		t.Fatalf("expected lookup by username, got %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(t, http.MethodPatch, "/api/v1/user/"+created.ID, admin, map[string]string{"lastName": "Byron"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on patch, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if patched := decodeBody[accounts.MergedAccount](t, recorder); patched.LastName != "Byron" || patched.FirstName != "Ada" {
		t.Fatalf("unexpected patched account %+v", patched)
	}
	remote, err := server.directory.GetUser(t.Context(), created.ExternalID)
	if err != nil || remote.LastName != "Byron" {
		t.Fatalf("expected identity record to carry patch, got %+v %v", remote, err)
	}

	recorder = server.do(t, http.MethodPut, "/api/v1/user/"+created.ID+"/enabled", admin, map[string]bool{"enabled": false})
	if recorder.Code != http.StatusOK || decodeBody[accounts.MergedAccount](t, recorder).Enabled {
		t.Fatalf("expected account disabled, got %d %s", recorder.Code, recorder.Body.String())
	}
	recorder = server.do(t, http.MethodPut, "/api/v1/user/"+created.ID+"/password", admin, map[string]string{"password": "rotated1"})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on password reset, got %d", recorder.Code)
	}
	recorder = server.do(t, http.MethodPost, "/api/v1/user/"+created.ID+"/sync", admin, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on sync, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(t, http.MethodDelete, "/api/v1/user/"+created.ID, admin, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", recorder.Code)
	}
	recorder = server.do(t, http.MethodGet, "/api/v1/user/"+created.ID, admin, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", recorder.Code)
	}
	if body := decodeBody[errorResponse](t, recorder); body.Error != "not_found" || body.Message == "" {
		t.Fatalf("unexpected not found body %+v", body)
	}
	recorder = server.do(t, http.MethodDelete, "/api/v1/user/"+created.ID, admin, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", recorder.Code)
	}
}

func TestSearchProvisionsAndFilters(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	for index := 1; index <= 5; index++ {
		if err := server.directory.Seed(identity.User{
			ID:        fmt.Sprintf("kc-%d", index),
			Username:  fmt.Sprintf("user%d", index),
			Email:     fmt.Sprintf("user%d@example.com", index),
			FirstName: "First",
			LastName:  fmt.Sprintf("Last%d", index),
			Enabled:   index%2 == 1,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	token := server.token(t)

	recorder := server.do(t, http.MethodGet, "/api/v1/user?page=0&size=5&enabled=true&sortBy=lastName&sortDir=desc", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	page := decodeBody[accounts.Page](t, recorder)
	if len(page.Content) != 3 || page.TotalElements != 5 {
		t.Fatalf("expected 3 enabled of 5 total, got %d of %d", len(page.Content), page.TotalElements)
	}
	if page.Content[0].LastName != "Last5" || page.Content[2].LastName != "Last1" {
		t.Fatalf("expected descending last names, got %+v", page.Content)
	}
	for _, account := range page.Content {
		if account.ID == "" {
			t.Fatalf("expected provisioned local id, got %+v", account)
		}
	}

	recorder = server.do(t, http.MethodGet, "/api/v1/user/local?username_like=user&size=2", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 listing local, got %d", recorder.Code)
	}
	local := decodeBody[accounts.Page](t, recorder)
	if local.TotalElements != 3 || len(local.Content) != 2 || local.TotalPages != 2 {
		t.Fatalf("expected only the 3 filtered accounts provisioned, got %+v", local)
	}

	if recorder := server.do(t, http.MethodGet, "/api/v1/user?size=5", token, nil); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for unfiltered search, got %d", recorder.Code)
	}
	recorder = server.do(t, http.MethodGet, "/api/v1/user/local?enabled_eq=false", token, nil)
	local = decodeBody[accounts.Page](t, recorder)
	if local.TotalElements != 2 {
		t.Fatalf("expected disabled accounts provisioned by the unfiltered search, got %+v", local)
	}

	if recorder := server.do(t, http.MethodGet, "/api/v1/user?page=abc", token, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric page, got %d", recorder.Code)
	}
	if recorder := server.do(t, http.MethodGet, "/api/v1/user?page=9223372036854775807&size=10", token, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unaddressable page, got %d", recorder.Code)
	}
}

func TestCreateValidatesPayload(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	admin := server.token(t, testAdminRole)

	testCases := []struct {
		name    string
		payload map[string]string
	}{
		{name: "missing username", payload: map[string]string{"firstName": "Ada", "password": "secret1"}},
		{name: "short password", payload: map[string]string{"username": "ada", "firstName": "Ada", "password": "abc"}},
		{name: "long first name", payload: map[string]string{"username": "ada", "firstName": strings.Repeat("a", 51), "password": "secret1"}},
		{name: "bad email", payload: map[string]string{"username": "ada", "firstName": "Ada", "password": "secret1", "email": "nope"}},
		{name: "minor", payload: map[string]string{"username": "ada", "firstName": "Ada", "password": "secret1", "dateOfBirth": time.Now().UTC().AddDate(-10, 0, 0).Format(dateOfBirthLayout)}},
		{name: "bad date", payload: map[string]string{"username": "ada", "firstName": "Ada", "password": "secret1", "dateOfBirth": "17/05/1990"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := server.do(t, http.MethodPost, "/api/v1/user", admin, testCase.payload)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestPartialUpdateReportsCommittedAccount(t *testing.T) {
	server := newTestServer(t, testServerOptions{
		wrapDirectory: func(directory *identity.MemoryDirectory) identity.Directory {
			return failingUpdateDirectory{MemoryDirectory: directory}
		},
	})
	admin := server.token(t, testAdminRole)

	recorder := server.do(t, http.MethodPost, "/api/v1/user", admin, map[string]string{
		"username": "ada", "firstName": "Ada", "password": "secret1",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody[accounts.MergedAccount](t, recorder)

	recorder = server.do(t, http.MethodPut, "/api/v1/user/"+created.ID, admin, map[string]string{
		"username": "ada", "firstName": "Augusta",
	})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Header().Get(sagaOutcomeHeader) != accounts.OutcomePartial {
		t.Fatalf("expected partial saga header, got %q", recorder.Header().Get(sagaOutcomeHeader))
	}
	body := decodeBody[errorResponse](t, recorder)
	if body.Error != "external_unavailable" || body.Account == nil || body.Account.FirstName != "Augusta" {
		t.Fatalf("expected committed account in error body, got %+v", body)
	}

	recorder = server.do(t, http.MethodGet, "/api/v1/user/sagas", admin, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 listing sagas, got %d", recorder.Code)
	}
	sagas := decodeBody[[]sagaRecordPayload](t, recorder)
	if len(sagas) != 1 || sagas[0].LocalID != created.ID || sagas[0].Outcome != accounts.OutcomePartial {
		t.Fatalf("expected one unreconciled saga, got %+v", sagas)
	}
	if !strings.Contains(string(sagas[0].Steps), "identity.update") {
		t.Fatalf("expected recorded steps, got %s", sagas[0].Steps)
	}
}

func TestSyncSurfacesMissingLinkedIdentity(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	admin := server.token(t, testAdminRole)

	recorder := server.do(t, http.MethodPost, "/api/v1/user", admin, map[string]string{
		"username": "grace", "firstName": "Grace", "password": "secret1",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody[accounts.MergedAccount](t, recorder)
	if err := server.directory.DeleteUser(t.Context(), created.ExternalID); err != nil {
		t.Fatalf("delete identity: %v", err)
	}

	recorder = server.do(t, http.MethodPost, "/api/v1/user/"+created.ID+"/sync", admin, nil)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	body := decodeBody[errorResponse](t, recorder)
	if body.Error != "invariant_violation" || body.Code != "accounts.sync.identity_missing" {
		t.Fatalf("unexpected body %+v", body)
	}
	if !strings.Contains(body.Message, created.ExternalID) {
		t.Fatalf("expected message to name the external id, got %q", body.Message)
	}
}

func TestClassifyMapsErrorKinds(t *testing.T) {
	testCases := []struct {
		err    error
		status int
		label  string
	}{
		{accounts.ErrNotFound, http.StatusNotFound, "not_found"},
		{accounts.ErrConflict, http.StatusConflict, "conflict"},
		{accounts.ErrNotLinked, http.StatusConflict, "not_linked"},
		{accounts.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{accounts.ErrExternalUnavailable, http.StatusBadGateway, "external_unavailable"},
		{accounts.ErrInvariantViolation, http.StatusInternalServerError, "invariant_violation"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, testCase := range testCases {
		status, label := classify(fmt.Errorf("wrapped: %w", testCase.err))
		if status != testCase.status || label != testCase.label {
			t.Fatalf("classify(%v) = %d %s, want %d %s", testCase.err, status, label, testCase.status, testCase.label)
		}
	}
}

func TestCORSMiddlewareAnswersPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://app.example.com"}))
	router.PATCH("/api/v1/user/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/api/v1/user/1", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("expected origin to be echoed, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(recorder.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch) {
		t.Fatalf("expected PATCH to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Methods"))
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}
