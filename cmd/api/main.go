package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"tutorchat/internal/adapter/api"
	"tutorchat/internal/adapter/api/handler"
	apimiddleware "tutorchat/internal/adapter/api/middleware"
	"tutorchat/internal/adapter/api/router"
	"tutorchat/internal/adapter/repository"
	domainrepo "tutorchat/internal/domain/repository"
	"tutorchat/internal/infrastructure/firebase"
	"tutorchat/internal/infrastructure/livesync"
	"tutorchat/internal/infrastructure/ratelimit"
	"tutorchat/internal/infrastructure/websocket"
	"tutorchat/internal/usecase"
	"tutorchat/pkg/config"
	"tutorchat/pkg/logger"
	"tutorchat/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("Failed to load configuration: %v", err)
	}

	logger.Setup(cfg.Environment, os.Stdout)

	if err := utils.InitIDNode(cfg.SnowflakeNode); err != nil {
		fatal("Failed to initialize ID generator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opt := firebaseCredentials(cfg)

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
	if err != nil {
		fatal("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		fatal("Failed to initialize Firebase Auth: %v", err)
	}
	firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient)

	checks := map[string]handler.HealthCheck{}

	var firestoreClient *firestore.Client
	if cfg.UsesFirestore() {
		firestoreClient, err = firestore.NewClient(ctx, cfg.FirebaseProject, opt)
		if err != nil {
			fatal("Failed to create Firestore client: %v", err)
		}
		defer firestoreClient.Close()

		checks["firestore"] = func(ctx context.Context) error {
			_, err := firestoreClient.Collection("orders").Limit(1).Documents(ctx).GetAll()
			return err
		}
	}

	var sqlStore *repository.SQLStore
	if cfg.UsesSQL() {
		sqlStore, err = repository.NewSQLStore(cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.SyncPollInterval)
		if err != nil {
			fatal("Failed to open %s database: %v", cfg.DatabaseDriver, err)
		}
		defer sqlStore.Close()

		checks["sql"] = sqlStore.Ping
	}

	var redisClient *redis.Client
	if cfg.ChatBackend == config.BackendRedis {
		redisClient, err = repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			fatal("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	var (
		orderRepo        domainrepo.OrderRepository
		tutorRepo        domainrepo.TutorRepository
		messageRepo      domainrepo.MessageRepository
		notificationRepo domainrepo.NotificationRepository
	)

	switch cfg.DirectoryBackend {
	case config.BackendSQL:
		orderRepo = repository.NewSQLOrderRepository(sqlStore)
		tutorRepo = repository.NewSQLTutorRepository(sqlStore)
	default:
		orderRepo = repository.NewFirestoreOrderRepository(firestoreClient)
		tutorRepo = repository.NewFirestoreTutorRepository(firestoreClient)
	}

	switch cfg.ChatBackend {
	case config.BackendRedis:
		messageRepo = repository.NewRedisMessageRepository(redisClient)
		notificationRepo = repository.NewRedisNotificationRepository(redisClient)
	case config.BackendSQL:
		messageRepo = repository.NewSQLMessageRepository(sqlStore)
		notificationRepo = repository.NewSQLNotificationRepository(sqlStore)
	default:
		messageRepo = repository.NewFirestoreMessageRepository(firestoreClient)
		notificationRepo = repository.NewFirestoreNotificationRepository(firestoreClient)
	}

	logger.Info("Chat backend: %s, directory backend: %s", cfg.ChatBackend, cfg.DirectoryBackend)

	rateLimiter := ratelimit.NewRateLimiter(map[string]ratelimit.Policy{
		ratelimit.ActionSendMessage: ratelimit.PerMinute(cfg.SendRatePerMinute),
		ratelimit.ActionOpenThread:  ratelimit.PerMinute(cfg.SendRatePerMinute * 4),
	})
	rateLimiter.StartCleanupRoutine()
	defer rateLimiter.Stop()

	resolver := usecase.NewThreadResolver(orderRepo)
	chatUseCase := usecase.NewChatUseCase(resolver, orderRepo, tutorRepo, messageRepo, notificationRepo, rateLimiter)
	orderUseCase := usecase.NewOrderUseCase(orderRepo, tutorRepo)

	hub := livesync.NewHub(messageRepo, notificationRepo)
	wsManager := websocket.NewManager(chatUseCase, hub)
	wsManager.Start(ctx)

	handler.Setup(chatUseCase, orderUseCase)
	handler.SetupHealthHandler(checks)
	handler.SetupDevTokenHandler(firebaseAuthClient)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins(cfg.AllowedOrigins),
	}))
	e.Use(apimiddleware.RateLimit(cfg.HTTPRatePerSecond))

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(firebaseAuthClient)
	adminMiddleware := apimiddleware.NewAdminMiddleware()

	wsHandler := handler.NewWebSocketHandler(ctx, wsManager, authMiddleware, cfg.AllowedOrigins)

	router.Setup(e, authMiddleware, adminMiddleware)
	router.SetupDevRouter(e, cfg.Environment)
	router.SetupWebSocketRouter(e, wsHandler)

	go func() {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			logger.Error("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}

// firebaseCredentials prefers the inline service account (production) over
// the file path (local development).
func firebaseCredentials(cfg *config.Config) option.ClientOption {
	if cfg.FirebaseServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	}

	if _, err := os.Stat(cfg.FirebaseServiceAccountPath); os.IsNotExist(err) {
		fatal("Service account file does not exist: %s", cfg.FirebaseServiceAccountPath)
	}

	logger.Info("Using Firebase service account from file: %s", cfg.FirebaseServiceAccountPath)
	return option.WithCredentialsFile(cfg.FirebaseServiceAccountPath)
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func fatal(format string, v ...interface{}) {
	logger.Error(format, v...)
	os.Exit(1)
}
