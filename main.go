package main

import (
	"log"

	api "mailsense-backend/cmd/api"
	maildelivery "mailsense-backend/internal/mail/delivery"
	mailrepo "mailsense-backend/internal/mail/repository"
	mailusecase "mailsense-backend/internal/mail/usecase"
	"mailsense-backend/internal/notification"
	"mailsense-backend/pkg/ai"
	"mailsense-backend/pkg/chroma"
	"mailsense-backend/pkg/config"
	"mailsense-backend/pkg/crypto"
	"mailsense-backend/pkg/database"
	"mailsense-backend/pkg/fcm"
	"mailsense-backend/pkg/gmail"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	accountRepo := mailrepo.NewMailAccountRepository(db)
	messageRepo := mailrepo.NewMessageRepository(db)
	contactRepo := mailrepo.NewContactRepository(db)
	enrichmentRepo := mailrepo.NewEnrichmentRepository(db)
	subscriptionRepo := mailrepo.NewSubscriptionRepository(db)
	jobRepo := mailrepo.NewEnrichmentJobRepository(db)
	deviceTokenRepo := mailrepo.NewDeviceTokenRepository(db)

	// Field encryption for stored message bodies
	cipher, err := crypto.NewCipher(cfg.EncryptionSecret)
	if err != nil {
		log.Fatal("Failed to initialize encryption:", err)
	}

	// Provider client
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)

	// AI completion service with provider fallback
	aiService, err := ai.NewCompletionService(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:  cfg.GeminiAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	})
	if err != nil {
		log.Fatal("Failed to initialize AI service:", err)
	}

	// Vector index (optional, search degrades without it)
	var indexer *mailusecase.EmbeddingIndexer
	if cfg.ChromaAPIKey != "" {
		chromaClient, err := chroma.NewChromaClient(cfg)
		if err != nil {
			log.Printf("[WARN] Failed to initialize Chroma client (semantic search disabled): %v", err)
		} else {
			indexer = mailusecase.NewEmbeddingIndexer(chromaClient, messageRepo, enrichmentRepo)
		}
	} else {
		log.Printf("[WARN] CHROMA_API_KEY not configured, semantic search disabled")
	}

	// Push notifications (optional)
	notifier := notification.NewNoopDispatcher()
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(cfg.FirebaseCredentials)
		if err != nil {
			log.Printf("[WARN] Failed to initialize FCM client (push disabled): %v", err)
		} else {
			notifier = notification.NewFCMDispatcher(fcmClient, deviceTokenRepo)
		}
	}

	// Use cases
	contactResolver := mailusecase.NewContactResolver(contactRepo)
	subscriptionDetector := mailusecase.NewSubscriptionDetector(subscriptionRepo)
	syncEngine := mailusecase.NewSyncEngine(
		gmailService, accountRepo, messageRepo, jobRepo,
		contactResolver, subscriptionDetector, cipher,
	)
	enrichmentWorker := mailusecase.NewEnrichmentWorker(aiService, messageRepo, enrichmentRepo, cipher, indexer)
	missedTodo := mailusecase.NewMissedTodoWorkflow(aiService, messageRepo, accountRepo, notifier)

	// Background queue poller
	poller := mailusecase.NewJobPoller(jobRepo, enrichmentWorker, cfg.JobPollerWorkers)
	poller.Start()
	defer poller.Stop()

	// HTTP delivery
	mailHandler := maildelivery.NewMailHandler(
		syncEngine, enrichmentWorker, indexer, missedTodo,
		messageRepo, enrichmentRepo, subscriptionRepo, contactRepo,
		deviceTokenRepo, jobRepo,
	)

	r := gin.Default()
	api.SetupRoutes(r, mailHandler)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
