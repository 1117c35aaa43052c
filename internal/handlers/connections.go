package handlers

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/gin-gonic/gin"

	"allies-service/internal/metrics"
	"allies-service/internal/models"
	"allies-service/internal/repositories"
	"allies-service/internal/services"
	"allies-service/internal/telemetry"
)

type ConnectionHandler struct {
	connections *services.ConnectionService
	audit       *telemetry.AuditEmitter
}

func NewConnectionHandler(connections *services.ConnectionService, audit *telemetry.AuditEmitter) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, audit: audit}
}

type sendRequestBody struct {
	RecipientID string `json:"recipient_id" binding:"required"`
}

func (h *ConnectionHandler) SendRequest(c *gin.Context) {
	requestID := requestIDFromHeader(c)
	userID := userIDFromContext(c)
	ctx := c.Request.Context()

	var body sendRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.emitAudit(ctx, "ERROR", "invalid request payload", requestID, userID)
		metrics.IncConnectionRequest(metrics.StatusFailed)
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if userID == "" {
		h.emitAudit(ctx, "ERROR", "unauthenticated connection request", requestID, "")
		metrics.IncConnectionRequest(metrics.StatusFailed)
		c.JSON(nethttp.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	req, err := h.connections.CreateRequest(ctx, userID, body.RecipientID)
	if err != nil {
		metrics.IncConnectionRequest(metrics.StatusFailed)
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			h.emitAudit(ctx, "ERROR", "invalid connection request", requestID, userID)
			c.JSON(nethttp.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
			return
		}
		h.emitAudit(ctx, "ERROR", "internal error", requestID, userID)
		c.JSON(nethttp.StatusInternalServerError, gin.H{"error": "failed to send request"})
		return
	}

	h.emitAudit(ctx, "INFO", "Connection request sent to '"+req.RecipientID+"'", requestID, userID)
	metrics.IncConnectionRequest(metrics.StatusSuccess)
	c.JSON(nethttp.StatusCreated, req)
}

func (h *ConnectionHandler) List(c *gin.Context) {
	userID := userIDFromContext(c)
	if userID == "" {
		c.JSON(nethttp.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	reqs, err := h.connections.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(nethttp.StatusInternalServerError, gin.H{"error": "failed to load connections"})
		return
	}
	c.JSON(nethttp.StatusOK, reqs)
}

func (h *ConnectionHandler) ListPending(c *gin.Context) {
	userID := userIDFromContext(c)
	if userID == "" {
		c.JSON(nethttp.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	reqs, err := h.connections.ListPendingIncoming(c.Request.Context(), userID)
	if err != nil {
		c.JSON(nethttp.StatusInternalServerError, gin.H{"error": "failed to load requests"})
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"count": len(reqs), "requests": reqs})
}

type updateStatusBody struct {
	Status models.ConnectionStatus `json:"status" binding:"required"`
}

func (h *ConnectionHandler) UpdateStatus(c *gin.Context) {
	requestID := requestIDFromHeader(c)
	userID := userIDFromContext(c)
	ctx := c.Request.Context()

	var body updateStatusBody
	if err := c.ShouldBindJSON(&body); err != nil || !body.Status.IsTerminal() {
		h.emitAudit(ctx, "ERROR", "invalid request payload", requestID, userID)
		decisionMetric(body.Status)(metrics.StatusFailed)
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "status must be connected or declined"})
		return
	}
	inc := decisionMetric(body.Status)

	if userID == "" {
		h.emitAudit(ctx, "ERROR", "unauthenticated status update", requestID, "")
		inc(metrics.StatusFailed)
		c.JSON(nethttp.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	updated, err := h.connections.UpdateStatus(ctx, c.Param("id"), userID, body.Status)
	if err != nil {
		inc(metrics.StatusFailed)
		status, msg := connectionErrorStatus(err)
		h.emitAudit(ctx, "ERROR", msg, requestID, userID)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	h.emitAudit(ctx, "INFO", "Connection request "+string(updated.Status), requestID, userID)
	inc(metrics.StatusSuccess)
	c.JSON(nethttp.StatusOK, updated)
}

// decisionMetric picks the accept or decline counter. Unknown statuses are
// counted as declines.
func decisionMetric(status models.ConnectionStatus) func(string) {
	if status == models.StatusConnected {
		return metrics.IncConnectionAccept
	}
	return metrics.IncConnectionDecline
}

func connectionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return nethttp.StatusBadRequest, err.Error()
	case errors.Is(err, repositories.ErrNotFound):
		return nethttp.StatusNotFound, "request not found"
	case errors.Is(err, repositories.ErrRequestForbidden):
		return nethttp.StatusForbidden, "not allowed to update this request"
	case errors.Is(err, repositories.ErrRequestNotPending):
		return nethttp.StatusConflict, "request is no longer pending"
	default:
		return nethttp.StatusInternalServerError, "failed to update request"
	}
}

func (h *ConnectionHandler) emitAudit(ctx context.Context, level, text, requestID, userID string) {
	if h.audit == nil {
		return
	}
	h.audit.EmitAudit(ctx, level, text, requestID, userID)
}
