package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/brandpilot/backend/config"
	"github.com/brandpilot/backend/internal/eventbus"
	"github.com/brandpilot/backend/internal/handler"
	"github.com/brandpilot/backend/internal/pkg/database"
	"github.com/brandpilot/backend/internal/pkg/embedder"
	"github.com/brandpilot/backend/internal/pkg/objectstore"
	"github.com/brandpilot/backend/internal/pkg/retry"
	"github.com/brandpilot/backend/internal/repository"
	"github.com/brandpilot/backend/internal/router"
	"github.com/brandpilot/backend/internal/service"
	"github.com/brandpilot/backend/internal/service/briefsource"
	"github.com/brandpilot/backend/internal/service/generation"
	"github.com/brandpilot/backend/internal/service/guideline"
	"github.com/brandpilot/backend/internal/service/orchestrator"
	"github.com/brandpilot/backend/internal/service/planner"
	"github.com/brandpilot/backend/internal/service/regeneration"
	"github.com/brandpilot/backend/internal/service/report"
	"github.com/brandpilot/backend/internal/service/validator"
	"github.com/brandpilot/backend/internal/subscriber"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	klog.V(6).Info("[Server] starting")

	cfg := config.GetConfig()
	ctx := context.Background()

	if cfg.Database.Type != "mysql" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	campaignRepo := repository.NewCampaignRepository(db)
	guidelineRepo := repository.NewGuidelineRepository(db)

	emb, err := embedder.New(ctx, cfg.Embedding)
	if err != nil {
		log.Fatalf("Failed to initialize embedder: %v", err)
	}
	index := guideline.NewIndex(guidelineRepo, emb, guideline.NewChunker(cfg.Guideline.ChunkSize, cfg.Guideline.MinChunkSize))
	v := validator.New(index, validator.Config{
		TopK:               cfg.Validation.TopK,
		Threshold:          cfg.Validation.Threshold,
		SemanticWeight:     cfg.Validation.SemanticWeight,
		RuleWeight:         cfg.Validation.RuleWeight,
		MinChunkSimilarity: cfg.Validation.MinChunkSimilarity,
	})

	var store objectstore.Store
	minioStore, err := objectstore.NewMinioStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize object store: %v", err)
	}
	if minioStore != nil {
		store = minioStore
	}

	text, err := generation.NewTextGenerator(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize text generator: %v", err)
	}
	image, err := generation.NewImageGenerator(cfg.Image, store)
	if err != nil {
		log.Fatalf("Failed to initialize image generator: %v", err)
	}

	bus := eventbus.NewCampaignEventBus()
	runs := subscriber.NewCampaignEventSubscriber()
	runs.Register(bus)

	controller := regeneration.NewController(planner.New(cfg.Image.Style), text, image, v, campaignRepo, bus, regeneration.Config{
		MaxRetries: cfg.Orchestration.MaxRetries,
		Infra: retry.Policy{
			MaxAttempts: cfg.Orchestration.InfraMaxAttempts,
			CallTimeout: cfg.Orchestration.CallTimeout,
			BaseDelay:   cfg.Orchestration.BackoffBase,
			MaxDelay:    cfg.Orchestration.BackoffMax,
		},
	})
	campaignService := service.NewCampaignService(campaignRepo, controller, v, report.NewExporter())

	// background runs go through the adapter so orchestrator never imports service
	opts := orchestrator.DefaultOptions()
	if cfg.Orchestration.Workers > 0 {
		opts.Workers = cfg.Orchestration.Workers
	}
	if cfg.Orchestration.QueueSize > 0 {
		opts.QueueSize = cfg.Orchestration.QueueSize
	}
	if cfg.Orchestration.JobTimeout > 0 {
		opts.JobTimeout = cfg.Orchestration.JobTimeout
	}
	orch, err := orchestrator.NewOrchestrator(opts, &campaignExecutorAdapter{campaignService: campaignService})
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	campaignService.SetOrchestrator(orch)
	orch.Start()
	defer orch.Stop()

	requeueStalled(campaignService)

	if cfg.Guideline.Dir != "" {
		dirSync := guideline.NewDirSync(index, cfg.Guideline.Dir, cfg.Guideline.WatchInterval)
		dirSync.Start(ctx)
		defer dirSync.Stop()
	}

	campaignHandler := handler.NewCampaignHandler(campaignService)
	guidelineHandler := handler.NewGuidelineHandler(index)
	briefHandler := handler.NewBriefHandler(briefsource.NewParser())
	eventHandler := handler.NewEventHandler(campaignService, bus)
	healthHandler := handler.NewHealthHandler(campaignService, index, runs)

	r := router.Setup(cfg, campaignHandler, guidelineHandler, briefHandler, eventHandler, healthHandler)

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requeueStalled picks up campaigns a previous process left mid-run.
func requeueStalled(campaignService *service.CampaignService) {
	queued, err := campaignService.RequeueStalled()
	if err != nil {
		klog.Warningf("[Server] requeue stalled campaigns failed: %v", err)
		return
	}
	if queued > 0 {
		klog.V(6).Infof("[Server] requeued %d stalled campaigns", queued)
	}
}
