package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/equiprent/rental-workflow/internal/application/service"
)

// AddDamageLineRequest is the body of POST /api/damage-reports/:id/lines
type AddDamageLineRequest struct {
	service.DamageLineInput
	ExpectedVersion int64 `json:"expected_version"`
}

// ReportActionRequest is shared by submit, approve, reject and resubmit
type ReportActionRequest struct {
	Actor           string `json:"actor"`
	Notes           string `json:"notes"`
	Reason          string `json:"reason"`
	Category        string `json:"category"`
	ExpectedVersion int64  `json:"expected_version"`
}

// GenerateBillingRequest is the body of POST /api/damage-reports/:id/billing
type GenerateBillingRequest struct {
	service.BillingParams
	Actor string `json:"actor"`
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GetDamageReport handles GET /api/damage-reports/:id
func (h *Handlers) GetDamageReport(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	report, err := h.coordinator.GetDamageReport(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, report)
}

// AddDamageLine handles POST /api/damage-reports/:id/lines
func (h *Handlers) AddDamageLine(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AddDamageLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.ReportedBy == "" {
		req.ReportedBy = c.GetHeader("X-Actor")
	}

	report, err := h.coordinator.AddDamageLine(c.Request.Context(), id, req.DamageLineInput, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, report)
}

// RemoveDamageLine handles DELETE /api/damage-reports/:id/lines/:lineId
func (h *Handlers) RemoveDamageLine(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var expected int64
	if raw := c.Query("expected_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondBadRequest(c, "invalid expected_version: "+raw)
			return
		}
		expected = v
	}

	report, err := h.coordinator.RemoveDamageLine(c.Request.Context(), id, c.Param("lineId"), expected)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, report)
}

// SubmitReport handles POST /api/damage-reports/:id/submit
func (h *Handlers) SubmitReport(c *gin.Context) {
	h.reportAction(c, "submit", func(c *gin.Context, id int64, req ReportActionRequest) (interface{}, error) {
		return h.coordinator.SubmitReport(c.Request.Context(), id, actorOr(req.Actor, c), req.ExpectedVersion)
	})
}

// ApproveReport handles POST /api/damage-reports/:id/approve
func (h *Handlers) ApproveReport(c *gin.Context) {
	h.reportAction(c, "approve", func(c *gin.Context, id int64, req ReportActionRequest) (interface{}, error) {
		return h.coordinator.ApproveReport(c.Request.Context(), id, actorOr(req.Actor, c), req.Notes, req.ExpectedVersion)
	})
}

// RejectReport handles POST /api/damage-reports/:id/reject
func (h *Handlers) RejectReport(c *gin.Context) {
	h.reportAction(c, "reject", func(c *gin.Context, id int64, req ReportActionRequest) (interface{}, error) {
		return h.coordinator.RejectReport(c.Request.Context(), id, actorOr(req.Actor, c), req.Reason, req.Category, req.ExpectedVersion)
	})
}

// ResubmitReport handles POST /api/damage-reports/:id/resubmit
func (h *Handlers) ResubmitReport(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ReportActionRequest
	if !bindJSON(c, &req) {
		return
	}

	report, err := h.coordinator.ResubmitReport(c.Request.Context(), id, actorOr(req.Actor, c))
	if err != nil {
		h.logger.Error("Report resubmit failed", "report_id", id, "error", err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, report)
}

// GenerateBilling handles POST /api/damage-reports/:id/billing
func (h *Handlers) GenerateBilling(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req GenerateBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := h.coordinator.GenerateBilling(c.Request.Context(), id, req.BillingParams, actorOr(req.Actor, c))
	if err != nil {
		h.logger.Error("Billing generation failed", "report_id", id, "method", req.Method, "error", err)
		respondError(c, err)
		return
	}
	if result.Degraded {
		h.logger.Info("Billing recorded offline", "report_id", id, "reference", result.Record.Reference)
	}
	respondOK(c, http.StatusCreated, result)
}

// ExportStatement handles GET /api/damage-reports/:id/statement
func (h *Handlers) ExportStatement(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	statement, err := h.coordinator.ExportDamageStatement(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+statement.Filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, statement.Content)
}

type reportActionFunc func(c *gin.Context, id int64, req ReportActionRequest) (interface{}, error)

func (h *Handlers) reportAction(c *gin.Context, action string, fn reportActionFunc) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ReportActionRequest
	if !bindJSON(c, &req) {
		return
	}

	report, err := fn(c, id, req)
	if err != nil {
		h.logger.Error("Report action failed", "action", action, "report_id", id, "error", err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, report)
}
