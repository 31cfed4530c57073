package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/service"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
)

const (
	lalamoveSignatureHeader = "X-Lalamove-Signature"
	asaasTokenHeader        = "asaas-access-token"
	maxBodyBytes            = 1 << 20
)

// StatusSink receives provider status pushes
type StatusSink interface {
	ReconcileDeliveryByDispatchID(ctx context.Context, dispatchID, remoteStatus string) (*service.ReconcileResult, error)
	ApplyBillingStatus(ctx context.Context, reference, remoteStatus string) (*entity.BillingRecord, error)
}

// Handler handles webhook requests
type Handler struct {
	verifier *Verifier
	sink     StatusSink
	logger   *zap.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(verifier *Verifier, sink StatusSink, logger *zap.Logger) *Handler {
	return &Handler{
		verifier: verifier,
		sink:     sink,
		logger:   logger,
	}
}

// LalamoveEvent is a courier status push
type LalamoveEvent struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Data      struct {
		Order struct {
			OrderID string `json:"orderId"`
			Status  string `json:"status"`
		} `json:"order"`
	} `json:"data"`
}

// AsaasEvent is a payment status push
type AsaasEvent struct {
	Event   string `json:"event"`
	Payment struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		ExternalReference string `json:"externalReference"`
	} `json:"payment"`
}

// HandleLalamove processes POST /webhooks/lalamove
func (h *Handler) HandleLalamove(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	if !h.verifier.VerifyLalamove(c.GetHeader(lalamoveSignatureHeader), body) {
		h.logger.Warn("Invalid Lalamove webhook signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var event LalamoveEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("Failed to parse Lalamove event", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse event"})
		return
	}

	orderID := event.Data.Order.OrderID
	if orderID == "" || event.Data.Order.Status == "" {
		h.logger.Info("Ignoring Lalamove event without order status",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType))
		c.JSON(http.StatusOK, gin.H{"message": "Event ignored"})
		return
	}

	h.logger.Info("Received Lalamove event",
		zap.String("event_id", event.EventID),
		zap.String("dispatch_id", orderID),
		zap.String("status", event.Data.Order.Status))

	result, err := h.sink.ReconcileDeliveryByDispatchID(c.Request.Context(), orderID, event.Data.Order.Status)
	if err != nil {
		h.respondFailure(c, "dispatch_id", orderID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Event processed",
		"applied": len(result.Applied),
		"ignored": result.Ignored,
	})
}

// HandleAsaas processes POST /webhooks/asaas
func (h *Handler) HandleAsaas(c *gin.Context) {
	if !h.verifier.VerifyAsaas(c.GetHeader(asaasTokenHeader)) {
		h.logger.Warn("Invalid Asaas webhook token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	body, ok := h.readBody(c)
	if !ok {
		return
	}

	var event AsaasEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("Failed to parse Asaas event", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse event"})
		return
	}

	reference := event.Payment.ExternalReference
	if !strings.HasPrefix(event.Event, "PAYMENT_") || reference == "" || event.Payment.Status == "" {
		h.logger.Info("Ignoring Asaas event", zap.String("event", event.Event))
		c.JSON(http.StatusOK, gin.H{"message": "Event ignored"})
		return
	}

	h.logger.Info("Received Asaas event",
		zap.String("event", event.Event),
		zap.String("reference", reference),
		zap.String("status", event.Payment.Status))

	record, err := h.sink.ApplyBillingStatus(c.Request.Context(), reference, event.Payment.Status)
	if err != nil {
		h.respondFailure(c, "reference", reference, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Event processed", "status": record.Status})
}

func (h *Handler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("Failed to read request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return nil, false
	}
	return body, true
}

// respondFailure acknowledges events for unknown entities so the provider
// stops retrying; anything else is a 500 and will be redelivered.
func (h *Handler) respondFailure(c *gin.Context, key, value string, err error) {
	if errs.IsKind(err, errs.KindNotFound) {
		h.logger.Warn("Webhook for unknown entity", zap.String(key, value), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"message": "Event ignored"})
		return
	}
	h.logger.Error("Failed to process webhook", zap.String(key, value), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
}
