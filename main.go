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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"messaging-service/internal/config"
	"messaging-service/internal/db"
	grpcclient "messaging-service/internal/grpc"
	"messaging-service/internal/handlers"
	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/relay"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	if err := observability.SetupLogger("info", "json"); err != nil {
		panic(err)
	}
	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg(".env could not be loaded")
	}

	cfg := &config.Config{}
	app := &cli.Command{
		Name:  "messaging-service",
		Usage: "Real-time direct messaging and event notifications",
		Flags: config.Flags(cfg),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := cfg.Validate(); err != nil {
				return ctx, err
			}
			return ctx, observability.SetupLogger(cfg.LogLevel, cfg.LogFormat)
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, *cfg)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("messaging-service failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	database, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer database.Close()

	identityConn, err := grpc.NewClient(cfg.IdentityAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
	if err != nil {
		return fmt.Errorf("dial identity grpc: %w", err)
	}
	defer identityConn.Close()
	identity := grpcclient.NewIdentityClient(identityConn)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, observability.Component("rabbitmq"))
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("amqp publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, "audit.messaging", cfg.ServiceName, cfg.Environment, observability.Component("audit"))

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	blockRepo := repositories.NewBlockRepo(database)

	wsHub := ws.NewHub()
	defer wsHub.Close()

	var broker messaging.GroupBroker = wsHub
	if cfg.RedisURL != "" {
		redisClient, err := relay.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		redisRelay := relay.NewRedisRelay(redisClient, wsHub, cfg.RedisChannel, observability.Component("relay"))
		if err := redisRelay.Start(ctx, 5*time.Second); err != nil {
			return fmt.Errorf("start redis relay: %w", err)
		}
		broker = redisRelay
	}

	messagingHub := messaging.NewHub(conversationRepo, messageRepo, blockRepo, broker, identity,
		messaging.WithMaxContentLength(cfg.MaxContentLength),
		messaging.WithTransactor(repositories.NewTxManager(database)),
		messaging.WithLogger(observability.Component("messaging")),
	)

	conversationHandler := handlers.NewConversationHandler(conversationRepo, messageRepo, messagingHub)
	blockHandler := handlers.NewBlockHandler(blockRepo, audit)
	eventHandler := handlers.NewEventHandler(messagingHub)
	wsHandler := ws.NewHandler(wsHub, messagingHub, observability.Component("ws"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := middleware.AuthMiddleware(identity)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.GetMessages)
	router.POST("/conversations/:conversation_id/read", authMiddleware, conversationHandler.MarkRead)
	router.DELETE("/conversations/:conversation_id/me", authMiddleware, conversationHandler.DeleteConversationForMe)

	router.GET("/blocks", authMiddleware, blockHandler.ListBlocked)
	router.PUT("/blocks/:user_id", authMiddleware, blockHandler.Block)
	router.DELETE("/blocks/:user_id", authMiddleware, blockHandler.Unblock)

	router.POST("/events/:event_id/announcements", authMiddleware, eventHandler.PostAnnouncement)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
