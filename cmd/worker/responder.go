package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/app"
	"github.com/jmehdipour/ops-messaging/internal/kafka"
	"github.com/jmehdipour/ops-messaging/internal/metrics"
	"github.com/jmehdipour/ops-messaging/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var responderWorkers int

var responderCmd = &cobra.Command{
	Use:   "responder",
	Short: "Consume webhook envelopes from Kafka and resolve workflows",
	RunE:  runResponder,
}

func init() {
	responderCmd.Flags().IntVar(&responderWorkers, "workers", 8, "concurrent message handlers")
}

func runResponder(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, log, err := app.Bootstrap(cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.ResponsesTopic == "" {
		return fmt.Errorf("kafka brokers and responses_topic are required")
	}

	core, err := app.Build(cfg, log)
	if err != nil {
		return err
	}
	defer core.Close()

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "opsmsg-responder"
	}
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.ResponsesTopic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		FromOldest:     true,
	})
	defer consumer.Close()

	w := worker.NewResponder(consumer, core.Processor, log.Named("responder"))
	if responderWorkers > 0 {
		w.Workers = responderWorkers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("responder started",
		zap.String("topic", cfg.Kafka.ResponsesTopic),
		zap.String("group", groupID),
		zap.Int("workers", w.Workers),
		zap.Int64("lag", consumer.Lag()),
	)
	return w.Run(ctx)
}
