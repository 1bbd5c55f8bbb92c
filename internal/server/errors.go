package server

import (
	"errors"
	"net/http"

	"github.com/14vimal2/polarix/internal/accounts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	internalErrorLabel = "internal"

	sagaIDHeader      = "X-Saga-ID"
	sagaOutcomeHeader = "X-Saga-Outcome"
)

type errorResponse struct {
	Error   string                  `json:"error"`
	Code    string                  `json:"code,omitempty"`
	Message string                  `json:"message,omitempty"`
	Account *accounts.MergedAccount `json:"account,omitempty"`
}

// classify maps a service error kind onto a status and a public error label.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, accounts.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, accounts.ErrNotLinked):
		return http.StatusConflict, "not_linked"
	case errors.Is(err, accounts.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, accounts.ErrExternalUnavailable):
		return http.StatusBadGateway, "external_unavailable"
	case errors.Is(err, accounts.ErrInvariantViolation):
		return http.StatusInternalServerError, "invariant_violation"
	default:
		return http.StatusInternalServerError, internalErrorLabel
	}
}

// writeServiceError renders err. Internal failures keep their code but never
// expose the message; invariant violations keep it so the diverged record can
// be found.
func (h *httpHandler) writeServiceError(c *gin.Context, err error, committed *accounts.MergedAccount) {
	status, label := classify(err)
	response := errorResponse{Error: label, Account: committed}

	var serviceErr *accounts.ServiceError
	if errors.As(err, &serviceErr) {
		response.Code = serviceErr.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", response.Code), zap.Error(err))
	}
	if label != internalErrorLabel {
		response.Message = err.Error()
	}
	_ = c.Error(err)
	c.JSON(status, response)
}

func writeBadRequest(c *gin.Context, code string, err error) {
	response := errorResponse{Error: "invalid_input", Code: code}
	if err != nil {
		response.Message = err.Error()
	}
	c.JSON(http.StatusBadRequest, response)
}

func setSagaHeaders(c *gin.Context, saga accounts.Saga) {
	if saga.ID != "" {
		c.Header(sagaIDHeader, saga.ID)
	}
	if saga.Operation != "" {
		c.Header(sagaOutcomeHeader, saga.Outcome())
	}
}
