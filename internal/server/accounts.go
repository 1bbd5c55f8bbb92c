package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/14vimal2/polarix/internal/accounts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultSagaListLimit = 50
	maxSagaListLimit     = 500
)

type sagaRecordPayload struct {
	ID         string          `json:"id"`
	Operation  string          `json:"operation"`
	Outcome    string          `json:"outcome"`
	LocalID    string          `json:"localId,omitempty"`
	ExternalID string          `json:"externalId,omitempty"`
	Steps      json.RawMessage `json:"steps"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	request, err := searchRequest(c)
	if err != nil {
		writeBadRequest(c, "invalid_paging", err)
		return
	}
	page, err := h.accounts.Search(c.Request.Context(), request)
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleListLocal(c *gin.Context) {
	request, err := searchRequest(c)
	if err != nil {
		writeBadRequest(c, "invalid_paging", err)
		return
	}
	page, err := h.accounts.ListLocal(c.Request.Context(), request)
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleMe(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, principal)
}

func (h *httpHandler) handleGet(c *gin.Context) {
	account, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *httpHandler) handleGetByUsername(c *gin.Context) {
	account, err := h.accounts.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	var payload createAccountPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, "invalid_payload", err)
		return
	}
	input, err := payload.input()
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	outcome, err := h.accounts.Create(c.Request.Context(), input)
	setSagaHeaders(c, outcome.Saga)
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, outcome.Account)
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	var payload updateAccountPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, "invalid_payload", err)
		return
	}
	input, err := payload.input()
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	outcome, err := h.accounts.Update(c.Request.Context(), c.Param("id"), input)
	h.respondMutation(c, outcome, err)
}

func (h *httpHandler) handlePatch(c *gin.Context) {
	var payload patchAccountPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, "invalid_payload", err)
		return
	}
	input, err := payload.input()
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	outcome, err := h.accounts.Patch(c.Request.Context(), c.Param("id"), input)
	h.respondMutation(c, outcome, err)
}

// respondMutation reports an identity failure after a committed local write
// together with the committed account, so callers see the divergence.
func (h *httpHandler) respondMutation(c *gin.Context, outcome accounts.Outcome, err error) {
	setSagaHeaders(c, outcome.Saga)
	if err != nil {
		var committed *accounts.MergedAccount
		if outcome.Saga.Partial() {
			committed = &outcome.Account
		}
		h.writeServiceError(c, err, committed)
		return
	}
	c.JSON(http.StatusOK, outcome.Account)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	saga, err := h.accounts.Delete(c.Request.Context(), c.Param("id"))
	setSagaHeaders(c, saga)
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSync(c *gin.Context) {
	outcome, err := h.accounts.Sync(c.Request.Context(), c.Param("id"))
	h.respondMutation(c, outcome, err)
}

func (h *httpHandler) handleResetCredential(c *gin.Context) {
	var payload credentialPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, "invalid_payload", err)
		return
	}
	saga, err := h.accounts.ResetCredential(c.Request.Context(), c.Param("id"), payload.Password)
	setSagaHeaders(c, saga)
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSetEnabled(c *gin.Context) {
	var payload enabledPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, "invalid_payload", err)
		return
	}
	outcome, err := h.accounts.SetEnabled(c.Request.Context(), c.Param("id"), *payload.Enabled)
	h.respondMutation(c, outcome, err)
}

func (h *httpHandler) handleUnreconciledSagas(c *gin.Context) {
	if h.sagas == nil {
		c.JSON(http.StatusOK, []sagaRecordPayload{})
		return
	}
	limit := defaultSagaListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(c, "invalid_limit", err)
			return
		}
		limit = min(parsed, maxSagaListLimit)
	}

	records, err := h.sagas.Unreconciled(c.Request.Context(), limit)
	if err != nil {
		h.writeServiceError(c, err, nil)
		return
	}
	response := make([]sagaRecordPayload, 0, len(records))
	for _, record := range records {
		response = append(response, sagaRecordPayload{
			ID:         record.ID,
			Operation:  record.Operation,
			Outcome:    record.Outcome,
			LocalID:    record.LocalID,
			ExternalID: record.ExternalID,
			Steps:      json.RawMessage(record.StepsJSON),
			StartedAt:  record.StartedAt,
			FinishedAt: record.FinishedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

// handleEventStream relays account events as Server-Sent Events until the
// client disconnects. A ready event is flushed first so clients know the
// subscription is live.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "events_unavailable"})
		return
	}
	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventReady, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	principal, _ := principalFrom(c)
	h.logger.Debug("event stream opened", zap.String("subject", principal.Subject))
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("subject", principal.Subject))
}
