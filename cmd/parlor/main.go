package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/parlorhq/parlor/internal/auth"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/delivery"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/handler"
	"github.com/parlorhq/parlor/internal/liveness"
	"github.com/parlorhq/parlor/internal/maintenance"
	"github.com/parlorhq/parlor/internal/mirror"
	"github.com/parlorhq/parlor/internal/registry"
	"github.com/parlorhq/parlor/internal/repository"
	"github.com/parlorhq/parlor/internal/service"
	"github.com/parlorhq/parlor/internal/webhook"
	"github.com/parlorhq/parlor/pkg/database"
	"github.com/parlorhq/parlor/pkg/log"
)

func main() {
	// .env values feed the config loader's environment bindings.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	log.Init(log.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "parlor",
	})
	cfg.WatchLogLevel()
	logger := log.L()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// Auto-migrate
	err = database.AutoMigrate(db,
		&domain.UserModel{},
		&domain.MessageModel{},
		&domain.ReadReceiptModel{},
		&domain.ConversationModel{},
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	// Initialize repositories
	userRepo := repository.NewGormUserRepository(db)
	messageRepo := repository.NewGormMessageRepository(db, cfg.Chat.MessageHistoryLimit)
	conversationRepo := repository.NewGormConversationRepository(db)

	// Initialize connection registry and liveness monitor
	reg := registry.NewRegistry(cfg.WebSocket.SendTimeout)
	probe := func(username, connectionID string) error {
		payload, err := json.Marshal(domain.NewPingFrame())
		if err != nil {
			return err
		}
		return reg.SendToConnection(username, connectionID, payload)
	}
	monitor := liveness.NewMonitor(cfg.Liveness, probe, reg.Disconnect)
	reg.SetHealthReporter(monitor)
	reg.SetOnDisconnect(monitor.Untrack)
	defer monitor.Stop()

	// Initialize webhook dispatcher
	dispatcher := webhook.NewDispatcher(cfg.Webhook)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Initialize mirror bus
	mirrorPub, err := mirror.New(cfg.Mirror)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Mirror.Driver).Msg("failed to connect mirror bus")
	}
	defer mirrorPub.Close()
	if mirrorPub.Enabled() {
		logger.Info().Str("driver", cfg.Mirror.Driver).Msg("mirror bus connected")
	}

	var tokens *mirror.TokenManager
	if cfg.Mirror.TokenSecret != "" {
		tokens, err = mirror.NewTokenManager(cfg.Mirror.TokenSecret, cfg.Mirror.TokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create connection token manager")
		}
	}

	// Initialize services
	router := delivery.NewRouter(reg, dispatcher, mirrorPub, userRepo)
	chatService := service.NewChatService(messageRepo, userRepo, router, reg)
	userService := service.NewUserService(userRepo, reg)
	conversationService := service.NewConversationService(conversationRepo, messageRepo)

	if err := userService.EnsureBootstrapAdmin(context.Background(), cfg.Bootstrap.AdminUsername); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap admin user")
	}

	// Start receipt janitor
	janitor := maintenance.NewJanitor(messageRepo)
	if err := janitor.Start(cfg.Maintenance.ReceiptSweepSpec); err != nil {
		logger.Fatal().Err(err).Msg("failed to start janitor")
	}
	defer janitor.Stop()

	// Initialize auth middleware
	authMiddleware := auth.NewAuthMiddleware(userRepo)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(log.GinMiddleware(logger), gin.Recovery())

	// Register routes
	httpHandler := handler.NewHandler(chatService, userService, conversationService,
		reg, monitor, tokens, cfg.Mirror.URL, authMiddleware)
	httpHandler.RegisterRoutes(r)

	wsHandler := handler.NewWSHandler(chatService, userService, conversationService,
		reg, monitor, authMiddleware, cfg.WebSocket)
	wsHandler.RegisterRoutes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("parlor listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	reg.CloseAll()

	logger.Info().Msg("parlor stopped")
}
