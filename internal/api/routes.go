package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/celebrum-quant/internal/api/handlers"
	"github.com/irfndi/celebrum-quant/internal/logging"
	"github.com/irfndi/celebrum-quant/internal/middleware"
)

// Dependencies carries everything the HTTP layer needs. Auth and Admin are
// required; AnalysisCache may be nil.
type Dependencies struct {
	ServiceName   string
	Version       string
	DB            handlers.HealthChecker
	Redis         handlers.HealthChecker
	Cointegration handlers.CointegrationAnalyzer
	AnalysisCache handlers.AnalysisCacheAdmin
	HedgeRatio    handlers.HedgeRatioTracker
	Auth          *middleware.AuthMiddleware
	Admin         *middleware.AdminMiddleware
	Logger        logging.Logger
}

// NewRouter builds the gin engine with recovery, tracing and request logging
// in front of the API routes.
func NewRouter(deps Dependencies, traceOpts ...otelgin.Option) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logging.NewStandardLogger("info")
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(deps.ServiceName, traceOpts...))
	router.Use(middleware.RequestTelemetry(deps.Logger))
	SetupRoutes(router, deps)
	return router
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	health := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Version)
	router.GET("/health", health.HealthCheck)
	router.GET("/live", health.LivenessCheck)

	requireAuth := deps.Auth.RequireAuth()
	requireAdmin := deps.Admin.RequireAdminAuth()

	v1 := router.Group("/api/v1")
	{
		cointegration := handlers.NewCointegrationHandler(deps.Cointegration, deps.AnalysisCache)
		coint := v1.Group("/cointegration")
		{
			coint.GET("/critical-values", cointegration.GetCriticalValues)
			coint.POST("/analyze", cointegration.Analyze)
			coint.GET("/reports", cointegration.ListReports)
			coint.GET("/reports/:id", cointegration.GetReport)
			coint.GET("/cache/stats", requireAdmin, cointegration.GetCacheStats)
			coint.DELETE("/cache", requireAdmin, cointegration.ClearCache)
		}

		hedgeHandler := handlers.NewHedgeHandler(deps.HedgeRatio)
		hedge := v1.Group("/hedge")
		{
			hedge.GET("", hedgeHandler.ListPairs)
			hedge.GET("/:pair", hedgeHandler.GetSnapshot)
			hedge.POST("/:pair/update", requireAuth, hedgeHandler.Update)
			hedge.POST("/:pair/replay", requireAuth, hedgeHandler.Replay)
			hedge.DELETE("/:pair", requireAdmin, hedgeHandler.Reset)
		}
	}
}
