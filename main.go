package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/handlers"
	"chat-relay/internal/identity"
	"chat-relay/internal/logger"
	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	"chat-relay/internal/presence"
	"chat-relay/internal/rabbitmq"
	"chat-relay/internal/registry"
	"chat-relay/internal/relay"
	"chat-relay/internal/repositories"
	"chat-relay/internal/stream"
	"chat-relay/internal/telemetry"
	"chat-relay/internal/ws"
)

const serviceName = "chat-relay"

// presenceWindow is how long after the last touch a user still reads as
// online.
const presenceWindow = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Debug)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		zlog.Fatal("failed to init tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			zlog.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		zlog.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	var tracker presence.Tracker = presence.Noop{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zlog.Warn("redis unreachable, presence disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			tracker = presence.NewStore(redisClient, cfg.RedisPrefix, presenceWindow)
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, zlog)
	defer publisher.Close()

	producer := stream.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, zlog)
	defer producer.Close()

	audit := telemetry.NewAuditEmitter(publisher, "audit."+serviceName, serviceName, cfg.Environment, zlog)

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	bus := registry.New(zlog)
	svc := relay.NewService(roomRepo, messageRepo, bus, tracker, producer, zlog)

	verifier := identity.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	roomHandler := handlers.NewRoomHandler(roomRepo, svc, tracker, audit, zlog)
	messageHandler := handlers.NewMessageHandler(roomRepo, messageRepo, svc, audit, zlog)
	wsHandler := ws.NewHandler(svc, bus, verifier, tracker, publisher, ws.Options{
		SendBuffer:   cfg.WSSendBuffer,
		WriteWait:    cfg.WriteDeadline,
		PingInterval: cfg.PingInterval,
	}, zlog)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.Auth(verifier)

	router.GET("/rooms", auth, roomHandler.ListRooms)
	router.GET("/rooms/favorites", auth, roomHandler.ListFavorites)
	router.POST("/rooms/open", auth, roomHandler.OpenRoom)
	router.POST("/rooms/:room_id/favorite", auth, roomHandler.ToggleFavorite)
	router.DELETE("/rooms/:room_id/me", auth, roomHandler.DeleteRoomForMe)

	router.GET("/rooms/:room_id/messages", auth, messageHandler.GetRoomMessages)
	router.POST("/rooms/:room_id/messages", auth, messageHandler.PostMessage)
	router.DELETE("/rooms/:room_id/messages/:message_id/me", auth, messageHandler.DeleteMessageForMe)
	router.DELETE("/rooms/:room_id/messages/:message_id/all", auth, messageHandler.DeleteMessageForAll)

	router.GET("/ws/rooms/:room_id", wsHandler.HandleRoom)
	router.GET("/ws/notifications", wsHandler.HandleNotifications)

	zlog.Info("starting relay", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
	if err := router.Run(":" + cfg.Port); err != nil {
		zlog.Fatal("server error", zap.Error(err))
	}
}
