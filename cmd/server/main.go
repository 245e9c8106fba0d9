package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/chat-sync/internal/config"
	"github.com/weiawesome/chat-sync/internal/handler"
	"github.com/weiawesome/chat-sync/internal/hub"
	"github.com/weiawesome/chat-sync/internal/presence"
	"github.com/weiawesome/chat-sync/internal/pubsub"
	"github.com/weiawesome/chat-sync/internal/service"
	"github.com/weiawesome/chat-sync/internal/store"
	"github.com/weiawesome/chat-sync/pkg/log"
	"github.com/weiawesome/chat-sync/pkg/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "chat-sync",
	})
	l := log.L()

	db, err := store.Open(cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("database init failed")
	}
	chatStore := store.NewGormChatStore(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		l.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("redis unreachable")
	}
	cancelPing()

	tracker := presence.NewRedisTracker(redisClient, presence.Config{
		OnlineTTL: cfg.Presence.OnlineTTL,
		TypingTTL: cfg.Presence.TypingTTL,
	})

	h := hub.NewHub()
	go h.Run()

	instanceID := cfg.Instance.ID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	relay := pubsub.NewRelay(redisClient, cfg.Redis.EventChannel, h, instanceID)

	syncSvc := service.NewSyncService(h, chatStore, tracker, relay, service.Config{
		MaxContentLength: cfg.Chat.MaxContentLength,
	})

	tokens := token.NewManager(
		cfg.Token.Secret,
		cfg.Token.AccessDuration,
		cfg.Token.ConnectDuration,
		cfg.Token.Issuer,
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler.NewWSHandler(h, syncSvc, tokens, cfg.WebSocket).RegisterRoutes(engine)
	handler.NewHTTPHandler(chatStore, tokens, cfg.Chat).RegisterRoutes(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	go relay.Run(gctx)

	g.Go(func() error {
		l.Info().
			Str("address", srv.Addr).
			Str("instance_id", instanceID).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		l.Fatal().Err(err).Msg("gateway terminated")
	}

	// Wait for the relay subscription goroutine to drain before exiting.
	<-relay.Done()
	l.Info().Msg("gateway stopped")
}
