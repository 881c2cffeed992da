package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"godeploy/api"
	"godeploy/artifact"
	"godeploy/auth"
	"godeploy/builder"
	"godeploy/config"
	"godeploy/logging"
	"godeploy/notification"
	"godeploy/orchestrator"
	"godeploy/shared/kafka"
	"godeploy/shared/message"
	"godeploy/state"
	"godeploy/storage"
	"godeploy/store"
)

func main() {
	log := logging.L()
	log.Info("🚀 Starting Deployer...")

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		log.Fatalf("❌ Failed to create work directory: %v", err)
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("❌ Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer st.Close()
	log.Infof("✅ %s store ready", cfg.Store.Driver)

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("❌ Failed to open %s object storage: %v", cfg.Storage.Driver, err)
	}
	log.Infof("✅ %s object storage ready", cfg.Storage.Driver)

	var (
		listeners []state.Listener
		events    builder.Events
		consumer  *kafka.Consumer
	)
	if cfg.Kafka.Brokers != "" {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatalf("❌ Failed to create Kafka producer: %v", err)
		}
		defer producer.Close()
		bus := kafka.NewEventPublisher(producer)
		listeners = append(listeners, bus)
		events = bus
		log.Info("✅ Kafka producer created")

		consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			log.Fatalf("❌ Failed to create Kafka consumer: %v", err)
		}
		defer consumer.Close()
	}

	hub := notification.NewHub()
	publisher := artifact.NewPublisher(objects, artifact.Options{
		Concurrency: cfg.Publish.Concurrency,
		FailOnError: cfg.Publish.FailOnError,
	})
	executor := builder.NewExecutor(builder.Config{
		Store:     st,
		Machine:   state.NewMachine(st, listeners...),
		Hub:       hub,
		Cloner:    builder.NewGitCloner(),
		Runner:    builder.NewShellRunner(),
		Publisher: publisher,
		Events:    events,
		WorkRoot:  cfg.WorkDir,
	})
	service := orchestrator.NewService(st, hub, executor)

	if consumer != nil {
		if err := consumer.Subscribe([]string{message.TopicDeploymentRequests}); err != nil {
			log.Fatalf("❌ Failed to subscribe to topics: %v", err)
		}
		go func() {
			log.Infof("🎧 Consuming %s...", message.TopicDeploymentRequests)
			consumer.ConsumeMessages(ctx, kafka.DeploymentRequestHandler(ctx, service))
		}()
	}

	var opts api.Options
	opts.WebhookSecret = cfg.WebhookSecret
	if cfg.SiteDomain != "" {
		opts.Sites = storage.NewSiteHandler(objects, st)
		opts.SiteDomain = cfg.SiteDomain
		log.Infof("🌍 Serving published sites on *.%s", cfg.SiteDomain)
	}
	if cfg.JWTSecret != "" {
		opts.Authenticator = auth.NewAuthenticator(cfg.JWTSecret, 24*time.Hour)
	} else {
		log.Warn("⚠️ JWT_SECRET is not set, /api is unauthenticated")
	}
	router, err := api.NewRouter(service, notification.NewWebSocketHandler(hub, st), opts)
	if err != nil {
		log.Fatalf("❌ Failed to build router: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("🌐 Deployer is running on port %s...", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("⚠️ HTTP shutdown: %v", err)
	}
	if q := service.Queue(); q.Busy() {
		log.Warnf("⚠️ Exiting with a build running and %d queued", q.Len())
	}
}
