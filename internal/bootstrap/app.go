// Package bootstrap assembles the application from its configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	redisv9 "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"assistantbot/internal/ai"
	"assistantbot/internal/app"
	"assistantbot/internal/cache"
	"assistantbot/internal/config"
	"assistantbot/internal/ingest"
	"assistantbot/internal/model"
	"assistantbot/internal/platform/mysql"
	"assistantbot/internal/platform/rabbitmq"
	"assistantbot/internal/platform/redis"
	"assistantbot/internal/repository"
	"assistantbot/internal/search"
	transporthttp "assistantbot/internal/transport/http"
	"assistantbot/internal/transport/http/handler"
	"assistantbot/internal/vision"
	"assistantbot/internal/worker"
)

// App holds every long-lived component plus the wired router.
type App struct {
	Config *config.Config
	Router *gin.Engine

	db         *gorm.DB
	redis      *redisv9.Client
	rabbitConn *amqp.Connection
	worker     *worker.MessagePersistWorker
	classifier *vision.Classifier
}

// New connects the backing services, hydrates the in-memory state from MySQL
// and wires the HTTP layer.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	gin.SetMode(cfg.App.GinMode)

	db, err := mysql.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.Session{},
		&model.Message{},
		&model.Document{},
		&model.Chunk{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	rabbitConn, err := rabbitmq.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)

	publisher := rabbitmq.NewMessagePublisher(rabbitConn, cfg.RabbitMQ.MessagePersistQueue)
	historyCache := cache.NewHistoryCache(redisClient,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second)

	persistWorker := worker.NewMessagePersistWorker(rabbitConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue)
	if err := persistWorker.Start(context.Background()); err != nil {
		return nil, err
	}

	aiClient := ai.NewClient(ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})

	sessions := app.NewSessionService(sessionRepo, messageRepo, publisher, historyCache)
	knowledge := app.NewKnowledgeService(aiClient, documentRepo, chunkRepo)
	if err := hydrate(sessions, knowledge, sessionRepo, messageRepo, documentRepo, chunkRepo); err != nil {
		return nil, err
	}

	var searcher app.WebSearcher
	if cfg.Search.Enabled {
		searcher = search.NewClient(search.Config{
			BaseURL:    cfg.Search.BaseURL,
			APIKey:     cfg.Search.APIKey,
			NumResults: cfg.Search.NumResults,
		})
	}

	var classifier *vision.Classifier
	var captioner app.ImageCaptioner
	if _, statErr := os.Stat(cfg.Vision.ModelPath); statErr == nil {
		classifier, err = vision.NewClassifier(vision.Config{
			ModelPath:   cfg.Vision.ModelPath,
			LabelsPath:  cfg.Vision.LabelsPath,
			LibraryPath: cfg.Vision.ONNXSharedLibPath,
		})
		if err != nil {
			log.Printf("vision classifier unavailable: %v", err)
		} else {
			captioner = classifier
		}
	}

	chat := app.NewChatService(
		sessions,
		knowledge,
		app.NewRewriter(aiClient),
		app.NewPlanner(app.PlannerConfig{
			MinRelevance:    cfg.Engine.MinRelevance,
			ExternalEnabled: cfg.Search.Enabled,
		}),
		app.NewAssembler(cfg.Engine.ContextBudget),
		aiClient,
		searcher,
		captioner,
		app.EngineConfig{
			TopK:               cfg.Engine.TopK,
			MaxHistoryMessages: cfg.Engine.MaxHistoryMessages,
			RewriteTimeout:     time.Duration(cfg.Engine.RewriteTimeoutSeconds) * time.Second,
			SearchTimeout:      time.Duration(cfg.Engine.SearchTimeoutSeconds) * time.Second,
			GenerateTimeout:    time.Duration(cfg.Engine.GenerateTimeoutSeconds) * time.Second,
		},
	)

	pipeline := ingest.NewPipeline(knowledge, ingest.ChunkerConfig{
		ChunkSize: cfg.Engine.ChunkSize,
		Overlap:   cfg.Engine.ChunkOverlap,
	})

	var visionHandler *handler.VisionHandler
	if classifier != nil {
		visionHandler = handler.NewVisionHandler(classifier)
	}

	router := transporthttp.NewRouter(transporthttp.Handlers{
		Health:   handler.NewHealthHandler(),
		Chat:     handler.NewChatHandler(chat, sessions),
		Session:  handler.NewSessionHandler(sessions),
		Document: handler.NewDocumentHandler(knowledge, pipeline),
		Vision:   visionHandler,
	})

	return &App{
		Config:     cfg,
		Router:     router,
		db:         db,
		redis:      redisClient,
		rabbitConn: rabbitConn,
		worker:     persistWorker,
		classifier: classifier,
	}, nil
}

func hydrate(
	sessions *app.SessionService,
	knowledge *app.KnowledgeService,
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	documentRepo *repository.DocumentRepository,
	chunkRepo *repository.ChunkRepository,
) error {
	persistedSessions, err := sessionRepo.List()
	if err != nil {
		return err
	}
	messagesBySession := make(map[string][]model.Message, len(persistedSessions))
	for _, s := range persistedSessions {
		msgs, err := messageRepo.ListBySessionID(s.ID)
		if err != nil {
			return err
		}
		messagesBySession[s.ID] = msgs
	}
	sessions.Hydrate(persistedSessions, messagesBySession)

	docs, err := documentRepo.List()
	if err != nil {
		return err
	}
	chunks, err := chunkRepo.ListAll()
	if err != nil {
		return err
	}
	if err := knowledge.Hydrate(docs, chunks); err != nil {
		return err
	}

	log.Printf("hydrated %d sessions and %d documents from storage", len(persistedSessions), len(docs))
	return nil
}

// Close releases every long-lived resource in reverse dependency order.
func (a *App) Close() {
	if a.worker != nil {
		a.worker.Close()
	}
	if a.classifier != nil {
		a.classifier.Close()
	}
	if a.rabbitConn != nil {
		_ = a.rabbitConn.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
