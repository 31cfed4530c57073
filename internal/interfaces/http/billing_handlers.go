package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetBilling handles GET /api/billing/:reference
func (h *Handlers) GetBilling(c *gin.Context) {
	record, err := h.coordinator.GetBillingStatus(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, record)
}

// RefreshBilling handles POST /api/billing/:reference/refresh
func (h *Handlers) RefreshBilling(c *gin.Context) {
	reference := c.Param("reference")

	record, err := h.coordinator.RefreshBillingStatus(c.Request.Context(), reference)
	if err != nil {
		h.logger.Error("Billing refresh failed", "reference", reference, "error", err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, record)
}
