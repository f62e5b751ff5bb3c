package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"healthvoice/internal/config"
	"healthvoice/internal/events"
	"healthvoice/internal/queue"
	"healthvoice/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the yaml config file")
	bindingKey := flag.String("bind", queue.AllEvents, "Routing key pattern to follow, e.g. delivery.*")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	// Initialize logger
	if err := logger.Init(cfg.Debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting healthvoice event monitor")

	if cfg.RabbitMQ.URL == "" {
		logger.Fatal("rabbitmq.url is required to follow session events")
		return
	}

	// Connect to RabbitMQ
	rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		return
	}
	defer rabbitMQ.Close()

	logger.Info("RabbitMQ connection established")

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sink := events.NewLogSink(logger.Named("monitor"))

	go func() {
		logger.Info("Following session events", zap.String("binding", *bindingKey))
		err := rabbitMQ.Subscribe(ctx, *bindingKey, func(routingKey string, body []byte) error {
			return relay(sink, routingKey, body)
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("Failed to consume events", zap.Error(err))
		}
		cancel()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Event monitor shutdown complete")
}

// relay decodes one published event and writes it to sink
func relay(sink events.Sink, routingKey string, body []byte) error {
	var event events.Event
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Warn("Skipping malformed event", zap.String("routing_key", routingKey), zap.Error(err))
		return nil
	}
	if event.Type == "" {
		event.Type = events.Type(routingKey)
	}
	sink.Emit(event)
	return nil
}
