package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/inkflowhq/inkflow-backend/internal/db"
	"github.com/inkflowhq/inkflow-backend/internal/handlers"
	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/middleware"
	"github.com/inkflowhq/inkflow-backend/internal/observability"
	"github.com/inkflowhq/inkflow-backend/internal/repos"
	"github.com/inkflowhq/inkflow-backend/internal/server"
	"github.com/inkflowhq/inkflow-backend/internal/services"
	"github.com/inkflowhq/inkflow-backend/internal/sse"
	"github.com/inkflowhq/inkflow-backend/internal/types"
	"github.com/inkflowhq/inkflow-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing
	shutdownTracing := observability.InitTracing(ctx, log, observability.TracingConfig{
		ServiceName: "inkflow-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
	})
	if shutdownTracing != nil {
		defer func() {
			_ = shutdownTracing(ctx)
		}()
	}

	// Policy defaults
	policyDefaults := services.LoadPolicyDefaults(log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	sessionRepo := repos.NewConciergeSessionRepo(thePG, log)
	messageRepo := repos.NewConciergeMessageRepo(thePG, log)
	assetRepo := repos.NewVisionAssetRepo(thePG, log)
	policyRepo := repos.NewOfferPolicyRepo(thePG, log)
	settingsRepo := repos.NewWorkspaceSettingsRepo(thePG, log)
	variantRepo := repos.NewConceptVariantRepo(thePG, log)
	sketchRepo := repos.NewFinalSketchRepo(thePG, log)
	arPackRepo := repos.NewARPackRepo(thePG, log)
	jobRunRepo := repos.NewJobRunRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)
	var sseBus services.SSEBus
	if os.Getenv("REDIS_ADDR") != "" {
		sseBus, err = services.NewRedisSSEBus(log)
		if err != nil {
			log.Warn("Redis SSE bus init failed; events stay in-process", "error", err)
			sseBus = nil
		} else {
			sseBus.StartForwarder(ctx, sseHub.Broadcast)
			defer sseBus.Close()
		}
	}
	notifier := services.NewStudioNotifier(sseHub, sseBus)

	// Media store
	media, err := services.NewBucketMediaStore(log)
	if err != nil {
		log.Warn("Could not init bucket media store; falling back to local disk", "error", err)
		media, err = services.NewLocalMediaStore(log, utils.GetEnv("MEDIA_ROOT", "./media", log))
		if err != nil {
			log.Error("Could not init media store", "error", err)
			os.Exit(1)
		}
	}

	// Providers
	mockVision := services.NewDeterministicVisionProvider(log)
	var liveVision services.VisionProvider
	if lv, lvErr := services.NewGoogleVisionProvider(log); lvErr != nil {
		log.Warn("Google Vision unavailable; deterministic analysis only", "error", lvErr)
	} else {
		liveVision = lv
	}
	mockConcept := services.NewDeterministicConceptProvider(log)
	var liveConcept services.ConceptProvider
	if lc, lcErr := services.NewLiveConceptProvider(log); lcErr != nil {
		log.Warn("Live concept provider unavailable; deterministic rendering only", "error", lcErr)
	} else {
		liveConcept = lc
	}

	// Services
	log.Info("Setting up Services from main...")
	workspaceService := services.NewWorkspaceService(thePG, log, policyRepo, settingsRepo, policyDefaults)
	providerSelector := services.NewProviderSelector(log, workspaceService, mockVision, liveVision, mockConcept, liveConcept)
	jobService := services.NewJobService(thePG, log, jobRunRepo, notifier)
	visionService := services.NewVisionService(thePG, log, assetRepo, media, providerSelector)
	locks := services.NewSessionLocks()
	intentClassifier := services.NewKeywordIntentClassifier()
	conciergeService := services.NewConciergeService(thePG, log, sessionRepo, messageRepo, workspaceService, visionService, intentClassifier, notifier, locks)
	conceptService := services.NewConceptService(thePG, log, sessionRepo, variantRepo, jobService, workspaceService, providerSelector, media, notifier, locks)
	sketchService := services.NewSketchService(thePG, log, sessionRepo, variantRepo, sketchRepo, arPackRepo, assetRepo, jobService, media, notifier, locks)

	// Re-queued jobs run through the same service paths as the original
	// request.
	jobService.RegisterRunner(types.JobTypeConcept, func(ctx context.Context, job *types.JobRun) (map[string]any, error) {
		sessionID, err := payloadUUID(job, "session_id")
		if err != nil {
			return nil, err
		}
		_, variants, err := conceptService.GenerateConcepts(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(variants))
		for _, v := range variants {
			ids = append(ids, v.ID.String())
		}
		return map[string]any{"variant_ids": ids}, nil
	})
	jobService.RegisterRunner(types.JobTypeSketch, func(ctx context.Context, job *types.JobRun) (map[string]any, error) {
		sessionID, err := payloadUUID(job, "session_id")
		if err != nil {
			return nil, err
		}
		variantID, err := payloadUUID(job, "variant_id")
		if err != nil {
			return nil, err
		}
		sketch, err := sketchService.FinalizeSketch(ctx, sessionID, variantID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sketch_id": sketch.ID.String()}, nil
	})
	jobService.RegisterRunner(types.JobTypeARPack, func(ctx context.Context, job *types.JobRun) (map[string]any, error) {
		sessionID, err := payloadUUID(job, "session_id")
		if err != nil {
			return nil, err
		}
		sketchID, err := payloadUUID(job, "sketch_id")
		if err != nil {
			return nil, err
		}
		pack, err := sketchService.BuildARPack(ctx, sessionID, sketchID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ar_pack_id": pack.ID.String()}, nil
	})
	jobService.StartWorker(ctx)

	// Handlers
	log.Info("Setting up handlers from main...")
	conciergeHandler := handlers.NewConciergeHandler(log, conciergeService, conceptService, sketchService, jobService, workspaceService)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware, err := middleware.NewAuthMiddleware(log)
	if err != nil {
		log.Error("Could not init auth middleware", "error", err)
		os.Exit(1)
	}

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		ConciergeHandler: conciergeHandler,
		SSEHandler:       sseHandler,
		AuthMiddleware:   authMiddleware,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}

func payloadUUID(job *types.JobRun, key string) (uuid.UUID, error) {
	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("malformed job payload: %w", err)
	}
	raw, _ := payload[key].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("job payload missing %s: %w", key, err)
	}
	return id, nil
}
