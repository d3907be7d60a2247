package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"officer-vitals/internal/api"
	"officer-vitals/internal/cache"
	"officer-vitals/internal/config"
	"officer-vitals/internal/database"
	"officer-vitals/internal/engine"
	"officer-vitals/internal/handler"
	"officer-vitals/internal/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume readings from Kafka and serve the alert API",
		Run:   runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	log, err := logger.New(logger.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
		Console: cfg.LogToConsole,
		Service: "officer-vitals",
	})
	if err != nil {
		exitErr("init logger", err)
	}
	defer log.Sync()

	log.Info("Starting officer-vitals service")
	for _, w := range cfg.Warnings {
		log.Warn("Configuration", zap.String("warning", w))
	}
	logConfiguration(cfg, log)

	repo, err := database.NewRepository(cfg.DBPath, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer repo.Close()

	e, err := buildEngine(cfg, log, engine.WithArchive(repo))
	if err != nil {
		log.Fatal("Failed to initialize engine", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := restoreState(ctx, e, repo, cfg.Engine.Lifecycle, time.Now(), log); err != nil {
		log.Fatal("Failed to restore engine state", zap.Error(err))
	}

	opts := []handler.Option{handler.WithStore(repo), handler.WithLogger(log)}
	switch cfg.HistoryBackend {
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("Redis unavailable, warming windows from SQLite", zap.Error(err))
			opts = append(opts, handler.WithHistory(repo))
			break
		}
		defer client.Close()
		history := cache.NewHistoryCache(cache.NewRedisListStore(client), cfg.Engine.Window.Capacity, cfg.HistoryTTL, log)
		opts = append(opts, handler.WithHistory(history), handler.WithCache(history))
	default:
		opts = append(opts, handler.WithHistory(repo))
	}
	processor := handler.NewReadingProcessor(e, opts...)

	mqttClient, err := handler.InitializeMQTT(cfg, processor, log)
	if err != nil {
		log.Fatal("Failed to initialize MQTT client", zap.Error(err))
	}
	defer mqttClient.Disconnect(250)
	processor.SetNotifier(handler.NewMQTTNotifier(mqttClient, cfg.MQTTAlertTopic))

	server := api.NewServer(e, processor, repo, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutdown signal received, closing consumers")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(4) // MQTT, Kafka consumer, housekeeping, HTTP

	go func() {
		defer wg.Done()
		<-ctx.Done()
		log.Info("Shutting down MQTT client")
	}()

	go func() {
		defer wg.Done()
		runConsumer(ctx, cfg, cfg.ReadingsTopic, processor.RouteReadingMessage, log)
	}()

	go func() {
		defer wg.Done()
		processor.RunHousekeepingCycle(ctx, cfg.HousekeepingInterval, cfg.SubjectIdleTimeout, cfg.AlertRetention)
	}()

	go func() {
		defer wg.Done()
		if err := server.Run(ctx, cfg.HTTPAddr); err != nil {
			log.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	log.Info("Service started successfully, waiting for readings")
	wg.Wait()
	log.Info("All services closed, exiting")
}

// restoreState reloads the alerts and pending recommendations that still take
// part in deduplication. Older records stay reachable through the archive.
func restoreState(ctx context.Context, e *engine.Engine, repo *database.Repository, p config.LifecycleParams, now time.Time, log *zap.Logger) error {
	alerts, err := repo.LoadActiveAlerts(ctx, now.Add(-p.Cooldown))
	if err != nil {
		return fmt.Errorf("load active alerts: %w", err)
	}
	if err := e.RestoreAlerts(alerts); err != nil {
		return err
	}

	recs, err := repo.LoadPendingRecommendations(ctx, now.Add(-p.RecommendationWindow()))
	if err != nil {
		return fmt.Errorf("load pending recommendations: %w", err)
	}
	if err := e.RestoreRecommendations(recs); err != nil {
		return err
	}

	log.Info("Service restored",
		zap.Int("active_alerts", len(alerts)),
		zap.Int("pending_recommendations", len(recs)))
	return nil
}

func runConsumer(ctx context.Context, cfg *config.Config, topic string, handlerFunc func([]byte), log *zap.Logger) {
	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers": cfg.KafkaBrokers,
		"group.id":          cfg.ConsumerGroup,
		"auto.offset.reset": "earliest",
	}

	consumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		log.Fatal("Failed to create consumer", zap.String("topic", topic), zap.Error(err))
	}
	defer consumer.Close()

	if err := consumer.Subscribe(topic, nil); err != nil {
		log.Fatal("Failed to subscribe", zap.String("topic", topic), zap.Error(err))
	}

	log.Info("Consumer started", zap.String("topic", topic), zap.String("group_id", cfg.ConsumerGroup))

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping consumer", zap.String("topic", topic))
			return
		default:
			ev := consumer.Poll(100)
			if ev == nil {
				continue
			}
			switch e := ev.(type) {
			case *kafka.Message:
				handlerFunc(e.Value)
			case kafka.Error:
				log.Error("Kafka error", zap.String("code", e.Code().String()), zap.Error(e))
			}
		}
	}
}

func logConfiguration(cfg *config.Config, log *zap.Logger) {
	mqttPassword := "[NOT SET]"
	if cfg.MQTTPassword != "" {
		mqttPassword = "[SET]"
	}
	log.Info("Service configuration",
		zap.String("kafka_brokers", cfg.KafkaBrokers),
		zap.String("readings_topic", cfg.ReadingsTopic),
		zap.String("mqtt_broker", cfg.MQTTBroker),
		zap.String("mqtt_password", mqttPassword),
		zap.String("db_path", cfg.DBPath),
		zap.String("history_backend", cfg.HistoryBackend),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("scorer", cfg.Scorer),
		zap.String("resolver", cfg.Resolver),
		zap.Int("window_capacity", cfg.Engine.Window.Capacity),
		zap.Duration("cooldown", cfg.Engine.Lifecycle.Cooldown),
	)
}
