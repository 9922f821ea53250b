package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-match-chat/internal/broker"
	"github.com/weiawesome/wes-match-chat/internal/config"
	"github.com/weiawesome/wes-match-chat/internal/gateway"
	chatgrpc "github.com/weiawesome/wes-match-chat/internal/grpc"
	"github.com/weiawesome/wes-match-chat/internal/handler"
	"github.com/weiawesome/wes-match-chat/internal/hub"
	"github.com/weiawesome/wes-match-chat/internal/service"
	"github.com/weiawesome/wes-match-chat/pkg/database"
	"github.com/weiawesome/wes-match-chat/pkg/jwt"
	pkglog "github.com/weiawesome/wes-match-chat/pkg/log"
	"github.com/weiawesome/wes-match-chat/pkg/middleware"
	"github.com/weiawesome/wes-match-chat/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db, gateway.Models()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	// Profile name cache
	var names gateway.NameCache
	if cfg.Cache.Address != "" {
		names, err = gateway.NewRedisNameCache(cfg.Cache.Address, cfg.Cache.Password, cfg.Cache.DB, "chat")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis cache")
		}
		logger.Info().Str("address", cfg.Cache.Address).Msg("redis cache connected")
	} else {
		names = gateway.NewMemoryNameCache()
	}
	defer names.Close()

	gw := gateway.NewGormGateway(db, names, cfg.Cache.TTL)

	// Broker shared by every chat process
	ps, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create pubsub client")
	}
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("pubsub client created")

	// Chat manager owns every connection of this process
	manager := service.NewManager(cfg.Chat, broker.New(ps), gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start chat manager")
	}

	tokens, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessLifetime, cfg.JWT.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token manager")
	}

	// Start gRPC health server
	grpcServer := chatgrpc.NewServer(manager, cfg.Chat.MaxConnections, logger)
	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	if err := grpcServer.Start(grpcAddr); err != nil {
		logger.Fatal().Err(err).Msg("failed to start grpc server")
	}
	go grpcServer.Watch(ctx, 5*time.Second)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	wsHandler := handler.NewWSHandler(manager, hub.NewAcceptor(cfg.Chat), middleware.NewAuthMiddleware(tokens))
	wsHandler.RegisterRoutes(r)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Int("max_connections", cfg.Chat.MaxConnections).
			Msg("chat-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chat-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// websocket connections are hijacked and not tracked by the http server,
	// so close them first
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to stop chat manager")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	grpcServer.Stop()

	logger.Info().Msg("chat-service stopped")
}
