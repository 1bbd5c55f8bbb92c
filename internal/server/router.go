package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/14vimal2/polarix/internal/accounts"
	"github.com/14vimal2/polarix/internal/auth"
	"github.com/14vimal2/polarix/internal/logging"
	"github.com/14vimal2/polarix/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	principalContextKey      = "polarix_principal"
	defaultHeartbeatInterval = 25 * time.Second
	accessTokenQueryKey      = "access_token"
)

var (
	errMissingVerifier       = errors.New("token verifier dependency required")
	errMissingAccountService = errors.New("account service dependency required")
)

// AccountService is the account coordinator as seen by the HTTP layer.
type AccountService interface {
	Search(ctx context.Context, request accounts.SearchRequest) (accounts.Page, error)
	ListLocal(ctx context.Context, request accounts.SearchRequest) (accounts.Page, error)
	Get(ctx context.Context, id string) (accounts.MergedAccount, error)
	GetByUsername(ctx context.Context, username string) (accounts.MergedAccount, error)
	Create(ctx context.Context, input accounts.AccountInput) (accounts.Outcome, error)
	Update(ctx context.Context, id string, input accounts.AccountInput) (accounts.Outcome, error)
	Patch(ctx context.Context, id string, input accounts.AccountInput) (accounts.Outcome, error)
	Delete(ctx context.Context, id string) (accounts.Saga, error)
	Sync(ctx context.Context, id string) (accounts.Outcome, error)
	ResetCredential(ctx context.Context, id, secret string) (accounts.Saga, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (accounts.Outcome, error)
}

// SagaLister lists sagas that left the two stores diverged.
type SagaLister interface {
	Unreconciled(ctx context.Context, limit int) ([]accounts.SagaRecord, error)
}

type Dependencies struct {
	Accounts          AccountService
	Verifier          auth.Verifier
	Events            *EventDispatcher
	Sagas             SagaLister
	Metrics           *observability.Metrics
	AdminRole         string
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Accounts == nil {
		return nil, errMissingAccountService
	}
	if err := registerValidations(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.RequestMetrics())
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		accounts:  deps.Accounts,
		verifier:  deps.Verifier,
		events:    deps.Events,
		sagas:     deps.Sagas,
		adminRole: deps.AdminRole,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	users := router.Group("/api/v1/user")
	users.Use(handler.authorizeRequest)
	users.GET("", handler.handleSearch)
	users.GET("/me", handler.handleMe)
	users.GET("/local", handler.handleListLocal)
	users.GET("/events", handler.handleEventStream)
	users.GET("/by-username/:username", handler.handleGetByUsername)
	users.GET("/:id", handler.handleGet)

	admin := users.Group("")
	admin.Use(handler.requireAdmin)
	admin.GET("/sagas", handler.handleUnreconciledSagas)
	admin.POST("", handler.handleCreate)
	admin.PUT("/:id", handler.handleUpdate)
	admin.PATCH("/:id", handler.handlePatch)
	admin.DELETE("/:id", handler.handleDelete)
	admin.POST("/:id/sync", handler.handleSync)
	admin.PUT("/:id/password", handler.handleResetCredential)
	admin.PUT("/:id/enabled", handler.handleSetEnabled)

	return router, nil
}

type httpHandler struct {
	accounts  AccountService
	verifier  auth.Verifier
	events    *EventDispatcher
	sagas     SagaLister
	adminRole string
	heartbeat time.Duration
	logger    *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposeHeaders: []string{sagaIDHeader, sagaOutcomeHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest accepts the bearer header, or the access_token query
// parameter on the event stream where browsers cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, err := auth.BearerToken(c.Request)
	if err != nil && c.FullPath() == "/api/v1/user/events" {
		token, err = c.Query(accessTokenQueryKey), nil
	}
	if err != nil || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: auth.ErrMissingToken.Error()})
		return
	}

	principal, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

// requireAdmin gates mutations behind the configured role. An empty role
// admits every authenticated caller.
func (h *httpHandler) requireAdmin(c *gin.Context) {
	if h.adminRole == "" {
		c.Next()
		return
	}
	principal, _ := principalFrom(c)
	if !principal.HasRole(h.adminRole) {
		h.logger.Warn("admin role required",
			zap.String("subject", principal.Subject),
			zap.String("role", h.adminRole))
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
		return
	}
	c.Next()
}

func principalFrom(c *gin.Context) (auth.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	return principal, ok
}
