package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/equiprent/rental-workflow/internal/application/service"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
)

// PlaceOrderRequest is the body of POST /api/orders
type PlaceOrderRequest struct {
	service.PlaceOrderInput
	Actor string `json:"actor"`
}

// TransitionRequest is the body of POST /api/orders/:id/transitions
type TransitionRequest struct {
	Target          entity.OrderStatus `json:"target" binding:"required"`
	Actor           string             `json:"actor"`
	ExpectedVersion int64              `json:"expected_version"`
}

// ActorRequest carries only the acting user
type ActorRequest struct {
	Actor string `json:"actor"`
}

// InspectionRequest is the body of POST /api/orders/:id/inspection
type InspectionRequest struct {
	Inspector       string `json:"inspector"`
	ExpectedVersion int64  `json:"expected_version"`
}

// CreateReportRequest is the body of POST /api/orders/:id/damage-reports
type CreateReportRequest struct {
	Creator string `json:"creator"`
}

// PlaceOrder handles POST /api/orders
func (h *Handlers) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	order, err := h.coordinator.PlaceOrder(c.Request.Context(), req.PlaceOrderInput, actorOr(req.Actor, c))
	if err != nil {
		h.logger.Error("Failed to place order", "order_number", req.OrderNumber, "error", err)
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, order)
}

// GetOrder handles GET /api/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	order, err := h.coordinator.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}

// GetOrderHistory handles GET /api/orders/:id/history
func (h *Handlers) GetOrderHistory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	records, err := h.coordinator.GetOrderHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, records)
}

// TransitionOrder handles POST /api/orders/:id/transitions
func (h *Handlers) TransitionOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	order, err := h.coordinator.TransitionOrder(c.Request.Context(), id, req.Target, actorOr(req.Actor, c), req.ExpectedVersion)
	if err != nil {
		h.logger.Error("Order transition failed", "order_id", id, "target", req.Target, "error", err)
		// a failed dispatch after entering aguardando_lalamove still returns the order
		if order != nil {
			c.JSON(StatusForError(err), Response{Success: false, Data: order, Error: err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}

// RequestDispatch handles POST /api/orders/:id/dispatch
func (h *Handlers) RequestDispatch(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ActorRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.coordinator.RequestOutboundDispatch(c.Request.Context(), id, actorOr(req.Actor, c))
	if err != nil {
		h.logger.Error("Dispatch request failed", "order_id", id, "error", err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}

// CancelDispatch handles DELETE /api/orders/:id/dispatch
func (h *Handlers) CancelDispatch(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ActorRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.coordinator.CancelOutboundDispatch(c.Request.Context(), id, actorOr(req.Actor, c))
	if err != nil {
		h.logger.Error("Dispatch cancel failed", "order_id", id, "error", err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}

// SyncDispatch handles POST /api/orders/:id/dispatch/sync
func (h *Handlers) SyncDispatch(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	result, err := h.coordinator.SyncDelivery(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// CompleteInspection handles POST /api/orders/:id/inspection
func (h *Handlers) CompleteInspection(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req InspectionRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.coordinator.CompleteInspection(c.Request.Context(), id, req.Inspector, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, order)
}

// CreateDamageReport handles POST /api/orders/:id/damage-reports
func (h *Handlers) CreateDamageReport(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req CreateReportRequest
	if !bindJSON(c, &req) {
		return
	}

	report, err := h.coordinator.CreateDamageReport(c.Request.Context(), id, actorOr(req.Creator, c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, report)
}

// ListDamageReports handles GET /api/orders/:id/damage-reports
func (h *Handlers) ListDamageReports(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	reports, err := h.coordinator.ListDamageReports(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, reports)
}

// actorOr falls back to the X-Actor header when the body names no actor
func actorOr(actor string, c *gin.Context) string {
	if actor != "" {
		return actor
	}
	return c.GetHeader("X-Actor")
}
