package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storybook-server/internal/ai"
	"storybook-server/internal/config"
	"storybook-server/internal/filestore"
	"storybook-server/internal/handler"
	"storybook-server/internal/logger"
	"storybook-server/internal/messaging"
	"storybook-server/internal/provider"
	"storybook-server/internal/repository"
	"storybook-server/internal/service"
	"storybook-server/internal/taskrunner"
	"storybook-server/internal/template"
	"storybook-server/migrations"
	"storybook-server/pkg/database"
	"storybook-server/pkg/migration"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Storybook Service...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	ctx := context.Background()

	// Подключение к PostgreSQL
	db, err := database.New(ctx, database.Config{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		IdleTimeout: cfg.DBIdleTimeout,
	})
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer db.Close()

	// Миграции применяются на старте
	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, db.Pool)
	if err := migrator.Up(ctx); err != nil {
		zapLogger.Fatal("Не удалось применить миграции", zap.Error(err))
	}

	// Подключение к Redis (страж активной генерации)
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Подключение к RabbitMQ
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()

	eventPublisher, err := messaging.NewRabbitMQStoryEventPublisher(rabbitConn, cfg.StoryEventsQueue, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать издателя событий", zap.Error(err))
	}

	// Файловое хранилище
	fileStore, err := filestore.NewLocalFileStore(cfg.FileStoreRoot, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось инициализировать файловое хранилище", zap.Error(err))
	}

	// Клиент текстовой модели
	aiClient, err := ai.New(ai.Config{
		APIKey:           cfg.OpenAIAPIKey,
		BaseURL:          cfg.TextModelBaseURL,
		ModelName:        cfg.TextModelName,
		Timeout:          cfg.TextModelTimeout,
		PromptTokenLimit: cfg.PromptTokenLimit,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать клиента текстовой модели", zap.Error(err))
	}

	// Репозитории
	storyRepo := repository.NewPgStoryRepository(db.Pool, zapLogger)
	revisionRepo := repository.NewPgRevisionRepository(db.Pool, zapLogger)
	templateRepo := repository.NewPgTemplateRepository(db.Pool, zapLogger)
	generationGuard := repository.NewRedisGenerationGuard(redisClient, zapLogger)

	// Резолвер шаблонов: LLM классификатор с rule-based фолбэком
	classifier := template.NewLLMClassifier(aiClient, template.NewRuleClassifier(), zapLogger)
	resolver := template.NewResolver(templateRepo, classifier, zapLogger)

	// Провайдеры генерации изображений
	directProvider := provider.NewDirectProvider(provider.DirectConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Timeout: cfg.ImageProviderTimeout,
	}, zapLogger)
	templateProvider := provider.NewTemplateDrivenProvider(provider.TemplateDrivenConfig{
		BaseURL: cfg.TemplateProviderURL,
		APIKey:  cfg.ImageProviderKey,
		Timeout: cfg.ImageProviderTimeout,
	}, zapLogger)

	runner := taskrunner.New(taskrunner.Config{MaxConcurrent: cfg.MaxConcurrentImages})

	// Реестр задач убирается в фоне; записи живут достаточно долго, чтобы
	// клиент успел опросить статусы после завершения пакета.
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	runner.StartJanitor(janitorCtx, 10*time.Minute, time.Hour)

	// Сервисы
	generationService := service.NewGenerationService(
		storyRepo, fileStore, generationGuard, resolver, templateProvider,
		directProvider, templateProvider, eventPublisher, runner,
		service.GenerationConfig{
			ProviderKind: cfg.ImageProvider,
			DefaultModel: cfg.DefaultImageModel,
			GuardTTL:     cfg.GenerationGuardTTL,
		},
		zapLogger,
	)
	revisionService := service.NewRevisionService(storyRepo, revisionRepo, eventPublisher, zapLogger)
	storyService := service.NewStoryService(storyRepo, aiClient, generationService, eventPublisher, zapLogger)

	storybookHandler := handler.NewStorybookHandler(
		storyService, revisionService, resolver, fileStore, cfg.JWTSecret, zapLogger)

	// Настройка Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(handler.RequestLogger(zapLogger))
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	prom := ginprometheus.NewPrometheus("storybook")
	prom.Use(router)

	storybookHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zapLogger.Info("HTTP сервер запущен", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Получен сигнал завершения, останавливаем сервис...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка остановки HTTP сервера", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Фоновые задачи генерации не завершились вовремя", zap.Error(err))
	}
	zapLogger.Info("Сервис остановлен")
}

// connectRabbitMQ подключается к RabbitMQ с повторами: брокер в компоузе
// может подниматься дольше сервиса.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	const attempts = 5
	var conn *amqp.Connection
	var err error
	for i := 1; i <= attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("Успешное подключение к RabbitMQ")
			return conn, nil
		}
		logger.Warn("RabbitMQ недоступен, повтор",
			zap.Int("attempt", i), zap.Int("maxAttempts", attempts), zap.Error(err))
		time.Sleep(time.Duration(i) * 2 * time.Second)
	}
	return nil, err
}
