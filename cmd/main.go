package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kestrelhq/chatgate/config"
	"github.com/kestrelhq/chatgate/internal/handler"
	"github.com/kestrelhq/chatgate/internal/middleware"
	"github.com/kestrelhq/chatgate/internal/repository"
	"github.com/kestrelhq/chatgate/internal/router"
	"github.com/kestrelhq/chatgate/internal/service"
	"github.com/kestrelhq/chatgate/pkg/cache"
	"github.com/kestrelhq/chatgate/pkg/database"
	"github.com/kestrelhq/chatgate/pkg/logger"
	"github.com/kestrelhq/chatgate/pkg/pool"
	"github.com/kestrelhq/chatgate/pkg/redis"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	if err := logger.InitLogger(cfg.App.Environment); err != nil {
		panic(err)
	}
	defer logger.Sync()

	log := logger.GetLogger()
	log.Info("starting",
		zap.String("service", cfg.App.Name),
		zap.String("version", version),
		zap.String("environment", cfg.App.Environment),
	)

	db, err := database.NewPostgresDB(database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer database.CloseDB(db)

	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	if err := database.Seed(db); err != nil {
		log.Warn("seeding failed", zap.Error(err))
	}

	rdb := redis.NewClient(redis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.Database,
		Enabled:      cfg.Redis.Enabled,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, log)
	defer rdb.Close()

	poolCfg := pool.DefaultConfig()
	poolCfg.RequestTimeout = cfg.Ollama.UpstreamLimit
	clients := pool.NewClientPool(poolCfg, log)
	defer clients.CloseIdleConnections()

	// wiring: repositories, services, handlers
	userRepo := repository.NewUserRepository(db)
	chatRepo := repository.NewChatRepository(db)
	settingsRepo := repository.NewUserSettingsRepository(db)

	hasher := service.NewPasswordHasher(bcrypt.DefaultCost)
	codec := service.NewTokenCodec(
		cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL,
	)
	sessions := service.NewSessionManager(userRepo, hasher, codec)
	users := service.NewUserService(userRepo, chatRepo, settingsRepo, hasher, sessions)
	settings := service.NewSettingsService(settingsRepo)
	chats := service.NewChatService(chatRepo)
	gateway := service.NewModelGatewayClient(
		cfg.Ollama.BaseURL,
		clients,
		cache.NewTTLCache(cfg.Ollama.CacheTTL),
		cfg.Ollama.ShowFanout,
	)

	authMW := middleware.NewAuthMiddleware(sessions)
	limiter := middleware.NewRateLimiter(rdb, cfg.RateLimit.Request,
		time.Duration(cfg.RateLimit.Duration)*time.Second)

	engine := router.Setup(cfg, &router.Handlers{
		Auth: handler.NewAuthHandler(sessions, users, cfg.App.CookieSecure,
			int(cfg.JWT.AccessTTL.Seconds()), int(cfg.JWT.RefreshTTL.Seconds())),
		User:     handler.NewUserHandler(users),
		Settings: handler.NewSettingsHandler(settings),
		Chat:     handler.NewChatHandler(chats),
		Ollama:   handler.NewOllamaHandler(gateway, chats),
		Health:   handler.NewHealthHandler(db, rdb, gateway, cfg.App.Name, version),
		AuthMW:   authMW,
		Limiter:  limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout: SSE responses stay open for the duration of a
		// model generation
	}

	go func() {
		log.Info("listening", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	log.Info("stopped")
}
