package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/celebrum-quant/internal/middleware"
	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/services"
	"github.com/irfndi/celebrum-quant/internal/utils"
)

// HedgeRatioTracker is the service surface used by HedgeHandler.
type HedgeRatioTracker interface {
	Update(ctx context.Context, pairID string, req services.UpdateRequest) (*models.HedgeRatioSnapshot, error)
	Replay(ctx context.Context, pairID string, req services.ReplayRequest) (*models.ReplayResult, error)
	Snapshot(ctx context.Context, pairID string) (*models.HedgeRatioSnapshot, error)
	Reset(ctx context.Context, pairID string) error
	Pairs() []string
}

// HedgeHandler exposes the adaptive hedge-ratio filters.
type HedgeHandler struct {
	tracker HedgeRatioTracker
}

// NewHedgeHandler creates a new hedge handler.
func NewHedgeHandler(tracker HedgeRatioTracker) *HedgeHandler {
	return &HedgeHandler{tracker: tracker}
}

// ListPairs handles GET /api/v1/hedge
func (h *HedgeHandler) ListPairs(c *gin.Context) {
	pairs := h.tracker.Pairs()
	c.JSON(http.StatusOK, gin.H{"pairs": pairs, "count": len(pairs)})
}

// GetSnapshot handles GET /api/v1/hedge/:pair
func (h *HedgeHandler) GetSnapshot(c *gin.Context) {
	pairID := c.Param("pair")
	middleware.AddSpanAttribute(c, "pair_id", pairID)

	snapshot, err := h.tracker.Snapshot(c.Request.Context(), pairID)
	if err != nil {
		respondError(c, err, "Failed to fetch hedge ratio")
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Update handles POST /api/v1/hedge/:pair/update
func (h *HedgeHandler) Update(c *gin.Context) {
	pairID := c.Param("pair")
	middleware.AddSpanAttribute(c, "pair_id", pairID)

	var req services.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, utils.NewInvalidInputError(err.Error()), "Invalid request body")
		return
	}

	snapshot, err := h.tracker.Update(c.Request.Context(), pairID, req)
	if err != nil {
		respondError(c, err, "Hedge ratio update failed")
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Replay handles POST /api/v1/hedge/:pair/replay
func (h *HedgeHandler) Replay(c *gin.Context) {
	pairID := c.Param("pair")
	middleware.AddSpanAttribute(c, "pair_id", pairID)

	var req services.ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, utils.NewInvalidInputError(err.Error()), "Invalid request body")
		return
	}

	result, err := h.tracker.Replay(c.Request.Context(), pairID, req)
	if err != nil {
		respondError(c, err, "Hedge ratio replay failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Reset handles DELETE /api/v1/hedge/:pair
func (h *HedgeHandler) Reset(c *gin.Context) {
	pairID := c.Param("pair")
	if err := h.tracker.Reset(c.Request.Context(), pairID); err != nil {
		respondError(c, err, "Failed to reset hedge ratio")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair_id": pairID, "reset": true})
}
