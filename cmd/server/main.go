package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/config"
	"github.com/relaydesk/channel-server/internal/credstore"
	"github.com/relaydesk/channel-server/internal/database"
	"github.com/relaydesk/channel-server/internal/dispatch"
	"github.com/relaydesk/channel-server/internal/handler"
	"github.com/relaydesk/channel-server/internal/ingest"
	"github.com/relaydesk/channel-server/internal/jobs"
	"github.com/relaydesk/channel-server/internal/middleware"
	"github.com/relaydesk/channel-server/internal/protocol"
	"github.com/relaydesk/channel-server/internal/redis"
	"github.com/relaydesk/channel-server/internal/repository"
	"github.com/relaydesk/channel-server/internal/service"
	"github.com/relaydesk/channel-server/internal/session"
	"github.com/relaydesk/channel-server/internal/sse"
	"github.com/relaydesk/channel-server/internal/storage"
	"github.com/relaydesk/channel-server/internal/util"
)

const (
	ingestGroup       = "ingest-workers"
	memoryQueueSize   = 10000
	deadLetterMaxLen  = 10000
	amqpPrefetchSlack = 2
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("APP_ENV") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("database connected")

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.MigrationsPath); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	var cipher *util.Cipher
	if cfg.EncryptionKey != "" {
		cipher, err = util.NewCipher(cfg.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init credential cipher")
		}
	}

	tenantRepo := repository.NewTenantRepository(db.DB)
	channelRepo := repository.NewChannelRepository(db.DB)
	credentialRepo := repository.NewCredentialRepository(db.DB)
	contactRepo := repository.NewContactRepository(db.DB)
	convRepo := repository.NewConversationRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	streams := redis.NewStreams(redisClient.Client)
	storageClient := storage.NewClient(cfg.StorageBaseURL, cfg.StorageAPIToken)

	queue, err := newQueue(cfg, streams)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.IngestQueueDriver).Msg("failed to open ingest queue")
	}

	drivers := protocol.Drivers()
	log.Info().Strs("protocols", drivers.Types()).Msg("protocol drivers registered")

	pipeline := ingest.NewPipeline(queue)
	manager := session.NewManager(
		channelRepo,
		credstore.NewStore(credentialRepo, cipher),
		drivers,
		broker,
		pipeline,
		session.Options{ReconnectDelay: cfg.ReconnectDelay()},
	)

	processor := ingest.NewProcessor(
		contactRepo, convRepo, messageRepo, manager, storageClient, broker, cfg.ProfilePictureTimeout(),
	)
	retry := ingest.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.IngestMaxAttempts
	retry.Delay = cfg.IngestBackoff()
	pool := ingest.NewWorkerPool(queue, processor, cfg.IngestWorkers, retry)

	dispatcher := dispatch.NewDispatcher(manager, storageClient, messageRepo, dispatch.Options{
		RatePerSecond: cfg.SendRatePerSecond,
		Burst:         cfg.SendBurst,
	})

	channelService := service.NewChannelService(channelRepo)
	outboundService := service.NewOutboundService(convRepo, contactRepo, messageRepo, dispatcher, broker)

	authMiddleware := middleware.NewAuthMiddleware(tenantRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(cfg.MaxBodyBytes)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	sessionHandler := handler.NewSessionHandler(channelService, manager)
	messagesHandler := handler.NewMessagesHandler(outboundService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", handler.Health(db, manager, broker))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)

		// SSE streams outlive the request timeout and are not rate limited.
		r.Get("/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(rateLimitMiddleware.Handler)
			r.Mount("/channels", sessionHandler.Routes())
			r.Mount("/conversations", messagesHandler.Routes())
		})
	})

	if err := pool.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start ingest workers")
	}

	var trimmer jobs.StreamTrimmer
	if cfg.IngestQueueDriver == config.QueueDriverRedis {
		trimmer = streams
	}
	maintenanceJob := jobs.NewMaintenanceJob(
		credentialRepo,
		manager,
		trimmer,
		[]jobs.StreamLimit{
			{Stream: cfg.IngestQueueName, MaxLen: cfg.IngestStreamMaxLen},
			{Stream: redis.DeadLetterStream(cfg.IngestQueueName), MaxLen: deadLetterMaxLen},
		},
		cfg.CredentialRetention(),
		config.MaintenanceJobInterval,
	)
	maintenanceJob.Start()

	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), config.ServerRequestTimeout)
	if n, err := manager.RecoverSessions(recoverCtx); err != nil {
		log.Error().Err(err).Msg("failed to recover sessions")
	} else {
		log.Info().Int("count", n).Msg("recovering sessions")
	}
	recoverCancel()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	maintenanceJob.Stop()
	manager.Close()
	pool.Stop()
	broker.Close()
	if err := queue.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close ingest queue")
	}

	log.Info().Msg("server stopped")
}

func newQueue(cfg *config.Config, streams *redis.Streams) (ingest.Queue, error) {
	switch cfg.IngestQueueDriver {
	case config.QueueDriverAMQP:
		q, err := ingest.NewAMQPQueue(context.Background(), cfg.AMQPURL, cfg.IngestQueueName, cfg.IngestWorkers*amqpPrefetchSlack)
		if err != nil {
			return nil, err
		}
		return q, nil
	case config.QueueDriverMemory:
		return ingest.NewMemoryQueue(memoryQueueSize), nil
	default:
		return ingest.NewStreamQueue(streams, cfg.IngestQueueName, ingestGroup, cfg.IngestMaxAttempts), nil
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
