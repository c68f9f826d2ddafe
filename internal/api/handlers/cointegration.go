package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/celebrum-quant/internal/cache"
	"github.com/irfndi/celebrum-quant/internal/johansen"
	"github.com/irfndi/celebrum-quant/internal/middleware"
	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/services"
	"github.com/irfndi/celebrum-quant/internal/utils"
)

// CointegrationAnalyzer is the service surface used by CointegrationHandler.
type CointegrationAnalyzer interface {
	AnalyzeSymbols(ctx context.Context, req services.AnalyzeRequest) (*models.CointegrationReport, error)
	AnalyzeMatrix(ctx context.Context, req services.AnalyzeRequest) (*models.CointegrationReport, error)
	GetReport(ctx context.Context, id string) (*models.CointegrationReport, error)
	ListReports(ctx context.Context, symbols []string, limit int) ([]*models.CointegrationReport, error)
}

// AnalysisCacheAdmin exposes report cache maintenance.
type AnalysisCacheAdmin interface {
	GetStats() cache.AnalysisCacheStats
	CachedKeys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) (int, error)
}

// CointegrationHandler serves Johansen analyses and critical-value lookups.
type CointegrationHandler struct {
	analyzer CointegrationAnalyzer
	cache    AnalysisCacheAdmin
}

// NewCointegrationHandler creates a new cointegration handler. reportCache may be nil.
func NewCointegrationHandler(analyzer CointegrationAnalyzer, reportCache AnalysisCacheAdmin) *CointegrationHandler {
	return &CointegrationHandler{analyzer: analyzer, cache: reportCache}
}

// GetCriticalValues returns trace critical values.
// @Summary Trace critical values
// @Description Without series, returns the table column for 1-12 non-stationary components
// @Tags cointegration
// @Param model query string false "model0-model4" default(model1)
// @Param level query string false "90, 95 or 99" default(95)
// @Param series query int false "non-stationary component count"
// @Produce json
// @Router /api/v1/cointegration/critical-values [get]
func (h *CointegrationHandler) GetCriticalValues(c *gin.Context) {
	model, err := johansen.ParseModel(c.DefaultQuery("model", "model1"))
	if err != nil {
		respondError(c, err, "Invalid model")
		return
	}
	level, err := johansen.ParseSignificanceLevel(c.DefaultQuery("level", "95"))
	if err != nil {
		respondError(c, err, "Invalid significance level")
		return
	}

	counts := make([]int, 0, johansen.MaxTabulatedSeries)
	if raw := c.Query("series"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, utils.NewInvalidInputErrorf("series must be an integer, got %q", raw), "Invalid series count")
			return
		}
		counts = append(counts, n)
	} else {
		for n := 1; n <= johansen.MaxTabulatedSeries; n++ {
			counts = append(counts, n)
		}
	}

	entries := make([]models.CriticalValueEntry, 0, len(counts))
	for _, n := range counts {
		value, err := johansen.CriticalValue(model, n, level)
		if err != nil {
			respondError(c, err, "Critical value unavailable")
			return
		}
		entries = append(entries, models.CriticalValueEntry{
			Model:             model.String(),
			Series:            n,
			SignificanceLevel: level.String(),
			Value:             value,
		})
	}

	c.JSON(http.StatusOK, gin.H{"critical_values": entries, "count": len(entries)})
}

// Analyze runs a Johansen analysis. A body with "series" is analyzed as
// given; otherwise stored prices for "symbols" on "exchange" are used.
// @Summary Run a Johansen cointegration analysis
// @Tags cointegration
// @Accept json
// @Produce json
// @Success 200 {object} models.CointegrationReport
// @Router /api/v1/cointegration/analyze [post]
func (h *CointegrationHandler) Analyze(c *gin.Context) {
	var req services.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, utils.NewInvalidInputError(err.Error()), "Invalid request body")
		return
	}
	middleware.AddSpanAttribute(c, "cointegration.symbols", req.Symbols)

	var (
		report *models.CointegrationReport
		err    error
	)
	if len(req.Series) > 0 {
		report, err = h.analyzer.AnalyzeMatrix(c.Request.Context(), req)
	} else {
		report, err = h.analyzer.AnalyzeSymbols(c.Request.Context(), req)
	}
	if err != nil {
		respondError(c, err, "Cointegration analysis failed")
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetReport handles GET /api/v1/cointegration/reports/:id
func (h *CointegrationHandler) GetReport(c *gin.Context) {
	report, err := h.analyzer.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to fetch report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListReports handles GET /api/v1/cointegration/reports?symbols=A,B&limit=N
func (h *CointegrationHandler) ListReports(c *gin.Context) {
	symbols := splitSymbols(c.Query("symbols"))
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			respondError(c, utils.NewInvalidInputErrorf("limit must be between 1 and 100, got %q", raw), "Invalid limit")
			return
		}
		limit = n
	}

	reports, err := h.analyzer.ListReports(c.Request.Context(), symbols, limit)
	if err != nil {
		respondError(c, err, "Failed to list reports")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

// GetCacheStats handles GET /api/v1/cointegration/cache/stats
func (h *CointegrationHandler) GetCacheStats(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	keys, err := h.cache.CachedKeys(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to read cache")
		return
	}
	stats := h.cache.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"enabled":  true,
		"stats":    stats,
		"hit_rate": stats.HitRate(),
		"entries":  len(keys),
	})
}

// ClearCache handles DELETE /api/v1/cointegration/cache
func (h *CointegrationHandler) ClearCache(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"cleared": 0})
		return
	}
	cleared, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to clear cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
