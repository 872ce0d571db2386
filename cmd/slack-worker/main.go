package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"github.com/example/integration-hub/internal/common"
	"github.com/example/integration-hub/internal/slack"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("slack-worker")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	if cfg.SlackToken == "" {
		logger.Fatal().Msg("SLACK_TOKEN must be provided")
	}

	readerFactory := func(topic string) slack.MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ServiceName,
			Topic:   topic,
		})
	}

	dlqWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.DLQTopic,
		Balancer: &kafka.Hash{},
	}
	defer dlqWriter.Close()

	worker := slack.Worker{
		ReaderFactory: readerFactory,
		Topics:        []string{cfg.PriorityDeliveryTopic, cfg.DeliveryTopic},
		Poster:        slack.NewClient(cfg.SlackAPIURL, cfg.SlackToken, cfg.SlackRatePerSecond),
		DLQWriter:     dlqWriter,
		Logger:        logger,
	}

	logger.Info().Msg("slack worker started")
	if err := worker.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("slack worker stopped")
	}
}
