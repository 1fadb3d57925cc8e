package router

import (
	"github.com/brandpilot/backend/config"
	"github.com/brandpilot/backend/internal/handler"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

func Setup(
	cfg *config.Config,
	campaignHandler *handler.CampaignHandler,
	guidelineHandler *handler.GuidelineHandler,
	briefHandler *handler.BriefHandler,
	eventHandler *handler.EventHandler,
	healthHandler *handler.HealthHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
	}))
	// websocket upgrades must not be wrapped by the gzip writer
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/events$`})))

	api := r.Group("/api")
	{
		api.GET("/health", healthHandler.Health)
		api.POST("/validate", campaignHandler.Validate)
		api.POST("/briefs/parse", briefHandler.Parse)

		campaigns := api.Group("/campaigns")
		{
			campaigns.POST("", campaignHandler.Create)
			campaigns.GET("", campaignHandler.List)
			campaigns.GET("/queue", campaignHandler.QueueStatus)
			campaigns.GET("/:id", campaignHandler.Get)
			campaigns.POST("/:id/regenerate", campaignHandler.Regenerate)
			campaigns.POST("/:id/resume", campaignHandler.Resume)
			campaigns.POST("/:id/cancel", campaignHandler.Cancel)
			campaigns.GET("/:id/lineage", campaignHandler.Lineage)
			campaigns.GET("/:id/report", campaignHandler.Report)
			campaigns.GET("/:id/events", eventHandler.Stream)
		}

		guidelines := api.Group("/guidelines")
		{
			guidelines.POST("", guidelineHandler.Ingest)
			guidelines.GET("", guidelineHandler.List)
			guidelines.GET("/search", guidelineHandler.Search)
			guidelines.DELETE("/:doc_id", guidelineHandler.Delete)
		}
	}

	return r
}
