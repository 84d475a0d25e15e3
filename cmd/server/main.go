package main

import (
	"github.com/joho/godotenv"

	"oral-eval-platform/internal/apigateway"
	"oral-eval-platform/internal/auth"
	"oral-eval-platform/internal/config"
	"oral-eval-platform/internal/coreengine/credentialpool"
	"oral-eval-platform/internal/coreengine/rotation"
	"oral-eval-platform/internal/coreengine/scoringprovider"
	"oral-eval-platform/internal/coreengine/transcriptrepair"
	"oral-eval-platform/internal/datastore"
	"oral-eval-platform/internal/jobmanagement"
	"oral-eval-platform/internal/logger"
	"oral-eval-platform/internal/objectstore"
)

func main() {
	_ = godotenv.Load()

	log := logger.New().Module("server")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	auth.LoadAdminCredentials()

	if err := datastore.InitDB(cfg.DatabaseURL); err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer datastore.DB.Close()

	audioStore, err := objectstore.NewAudioStore()
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize object store")
	}

	pool := credentialpool.NewManager(credentialpool.DatastoreStore{})
	provider := scoringprovider.NewClient(cfg.ProviderBaseURL)
	orchestrator := rotation.NewOrchestrator(provider, pool, cfg.Pipeline)
	repairer := transcriptrepair.New(orchestrator, cfg.Pipeline)

	service := jobmanagement.NewService(
		jobmanagement.DatastoreJobStore{},
		jobmanagement.DatastoreResultStore{},
		jobmanagement.AudioBlobStore{Store: audioStore},
		pool,
		orchestrator,
		repairer,
		cfg.Pipeline,
	)

	router := apigateway.SetupRouter(
		&jobmanagement.Handlers{Service: service},
		&jobmanagement.SegmentHandlers{Audio: audioStore},
	)

	log.WithField("port", cfg.ServerPort).Info("Starting server")
	if err := router.Run(":" + cfg.ServerPort); err != nil {
		log.WithError(err).Fatal("Server exited")
	}
}
