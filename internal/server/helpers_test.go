package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/14vimal2/polarix/internal/accounts"
	"github.com/14vimal2/polarix/internal/auth"
	"github.com/14vimal2/polarix/internal/database"
	"github.com/14vimal2/polarix/internal/identity"
	"github.com/14vimal2/polarix/internal/observability"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "polarix-test"
	testAdminRole     = "account-admin"
)

var errIdentityDown = errors.New("identity store unreachable")

// failingUpdateDirectory rejects identity updates while passing everything
// else through to the in-memory directory.
type failingUpdateDirectory struct {
	*identity.MemoryDirectory
}

func (failingUpdateDirectory) UpdateUser(context.Context, string, identity.User) error {
	return errIdentityDown
}

type testServer struct {
	handler   http.Handler
	directory *identity.MemoryDirectory
	journal   *accounts.GormJournal
	events    *EventDispatcher
	issuer    *auth.TokenIssuer
	db        *gorm.DB
}

type testServerOptions struct {
	wrapDirectory func(*identity.MemoryDirectory) identity.Directory
	logger        *zap.Logger
}

func newTestServer(t *testing.T, options testServerOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := accounts.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	journal, err := accounts.NewGormJournal(db)
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}

	directory := identity.NewMemoryDirectory()
	var serviceDirectory identity.Directory = directory
	if options.wrapDirectory != nil {
		serviceDirectory = options.wrapDirectory(directory)
	}

	events := NewEventDispatcher()
	service, err := accounts.NewService(accounts.ServiceConfig{
		Store:     store,
		Directory: serviceDirectory,
		Journal:   journal,
		Publisher: events,
		Hasher:    func(secret string) (string, error) { return "plain:" + secret, nil },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Accounts:          service,
		Verifier:          validator,
		Events:            events,
		Sagas:             journal,
		Metrics:           observability.NewMetrics(),
		AdminRole:         testAdminRole,
		HeartbeatInterval: time.Hour,
		Logger:            options.logger,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testServer{
		handler:   handler,
		directory: directory,
		journal:   journal,
		events:    events,
		issuer:    issuer,
		db:        db,
	}
}

func (s *testServer) token(t *testing.T, roles ...string) string {
	t.Helper()
	token, _, err := s.issuer.Issue(auth.Principal{
		Subject:  "kc-operator",
		Username: "operator",
		Email:    "operator@example.com",
		Roles:    roles,
	})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body == nil {
		payload = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		payload = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, target, payload)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var decoded T
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func adultBirthDate() string {
	return time.Now().UTC().AddDate(-30, 0, 0).Format(dateOfBirthLayout)
}
