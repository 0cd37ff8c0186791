package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-client/internal/apiclient"
	"chat-client/internal/app"
	"chat-client/internal/config"
	"chat-client/internal/db"
	"chat-client/internal/handlers"
	"chat-client/internal/middleware"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/outbox"
	"chat-client/internal/rabbitmq"
	"chat-client/internal/realtime"
	"chat-client/internal/repositories"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
	"chat-client/internal/viewmodel"
	"chat-client/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Env,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	publisher := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.RabbitMQ.AuditKey, cfg.App.Name, cfg.App.Env)

	var (
		store session.Store = session.NewMemoryStore()
		queue outbox.Outbox = outbox.NewMemoryOutbox(cfg.Realtime.OutboxCapacity)
	)
	if cfg.Database.Redis.Addr != "" {
		rdb, err := db.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		store = session.NewRedisStore(rdb, cfg.Database.Redis.Key)
		queue = outbox.NewRedisOutbox(rdb, outbox.KeyFor(cfg.App.Name), cfg.Realtime.OutboxCapacity)
	}

	var (
		roomCache    repositories.RoomRepository
		messageCache repositories.MessageRepository
	)
	if cfg.Database.Postgres.DSN != "" {
		database, err := db.Connect(cfg.Database.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to db")
		}
		defer database.Close()
		roomCache = repositories.NewRoomRepo(database)
		messageCache = repositories.NewMessageRepo(database)
	} else {
		mem := repositories.NewMemoryStore()
		roomCache, messageCache = mem, mem
	}

	manager := ws.NewManager(ws.Config{
		URL:               cfg.Server.WSURL,
		ReconnectDelay:    cfg.Realtime.ReconnectDelay,
		ReconnectAttempts: cfg.Realtime.ReconnectAttempts,
		EventsRoutingKey:  cfg.RabbitMQ.EventsKey,
	})
	repo := realtime.New(manager, realtime.Options{
		Outbox:       queue,
		Rooms:        roomCache,
		Messages:     messageCache,
		HistoryLimit: cfg.Realtime.HistoryLimit,
	})

	api, err := apiclient.New(cfg.Server.APIBaseURL, &http.Client{Timeout: apiclient.DefaultTimeout})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid api base url")
	}
	chat := viewmodel.NewChatViewModel(repo, viewmodel.ChatOptions{
		TypingInterval: cfg.Realtime.TypingInterval,
		MaxImageBytes:  cfg.Realtime.MaxImageBytes,
	})
	contacts := viewmodel.NewContactViewModel(api, repo)
	go chat.Run(ctx)

	client := app.New(store, repo, chat, contacts, audit)
	resumeSession(ctx, client, cfg)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.App.Name),
		observability.RequestLogger(),
		observability.HTTPMetricsMiddleware(),
	)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "realtime": client.State().Get().Status})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	control := router.Group("/",
		middleware.RateLimitMiddleware(cfg.App.RateLimitRPS),
		middleware.ControlTokenMiddleware(cfg.App.ControlToken),
		handlers.CurrentUser(chat.CurrentUser),
	)
	handlers.Handlers{
		Session:  handlers.NewSessionHandler(client),
		Chat:     handlers.NewChatHandler(chat, audit),
		Group:    handlers.NewGroupHandler(chat, audit),
		Contacts: handlers.NewContactHandler(contacts),
	}.Register(control)
	handlers.RegisterDebugRoutes(control, audit, chat, cfg.App.Debug)

	srv := &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.App.ListenAddr).Msg("control api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	repo.Disconnect()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown failed")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// resumeSession reconnects a stored session, falling back to credentials from
// the config. Failures leave the client waiting for POST /session.
func resumeSession(ctx context.Context, client *app.App, cfg *config.Config) {
	resumed, err := client.Resume(ctx)
	if err != nil {
		log.Error().Err(err).Msg("resuming stored session failed")
	}
	if resumed || cfg.Session.Token == "" {
		return
	}
	creds := models.Credentials{Token: cfg.Session.Token, UserID: cfg.Session.UserID}
	if _, err := client.Login(ctx, creds); err != nil {
		log.Error().Err(err).Msg("login with configured session failed")
	}
}
