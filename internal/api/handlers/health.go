package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthChecker is implemented by the Postgres and Redis wrappers.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// MemoryReport is the system memory section of the health response.
type MemoryReport struct {
	TotalMB     uint64  `json:"total_mb"`
	AvailableMB uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Memory    *MemoryReport     `json:"memory,omitempty"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

type HealthHandler struct {
	db      HealthChecker
	redis   HealthChecker
	version string
	started time.Time
	memory  func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewHealthHandler creates a health handler. A nil checker is reported as not
// configured and degrades the service.
func NewHealthHandler(db, redis HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		db:      db,
		redis:   redis,
		version: version,
		started: time.Now(),
		memory:  mem.VirtualMemoryWithContext,
	}
}

func checkDependency(ctx context.Context, checker HealthChecker) string {
	if checker == nil {
		return "unhealthy: not configured"
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}

// HealthCheck handles GET /health. Memory is informational and never
// degrades the status.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	services := map[string]string{
		"database": checkDependency(ctx, h.db),
		"redis":    checkDependency(ctx, h.redis),
	}

	status := "healthy"
	for _, s := range services {
		if s != "healthy" {
			status = "degraded"
			break
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	}
	if h.memory != nil {
		if vm, err := h.memory(ctx); err == nil && vm != nil {
			response.Memory = &MemoryReport{
				TotalMB:     vm.Total / 1024 / 1024,
				AvailableMB: vm.Available / 1024 / 1024,
				UsedPercent: vm.UsedPercent,
			}
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

// LivenessCheck handles GET /live for container restarts.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
