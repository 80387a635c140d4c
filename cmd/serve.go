package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/app"
	"github.com/jmehdipour/ops-messaging/internal/approval"
	httpSrv "github.com/jmehdipour/ops-messaging/internal/http"
	"github.com/jmehdipour/ops-messaging/internal/kafka"
	"github.com/jmehdipour/ops-messaging/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, webhook inbox and expiry sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		core, err := app.Build(cfg, log)
		if err != nil {
			return err
		}
		defer core.Close()

		deps := httpSrv.Deps{
			Config:     cfg,
			Operators:  core.Stores.Operators,
			Messenger:  core.Dispatcher,
			Workflows:  core.Engine,
			Registerer: prometheus.DefaultRegisterer,
			Log:        log.Named("http"),
		}
		if core.Redis != nil {
			deps.Redis = core.Redis
		}

		if core.MySQL != nil && cfg.ClickHouse.DSN != "" {
			chDB, err := app.OpenClickHouse(cfg)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			deps.Reports = repository.NewCHMessagesRepository(chDB)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)
		// cancelled only once the HTTP server has stopped accepting webhooks
		inboxCtx, stopInbox := context.WithCancel(context.Background())
		defer stopInbox()

		if cfg.Webhook.PublishToKafka {
			producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
			defer func() { _ = producer.Close() }()
			deps.Ingest = httpSrv.KafkaIngestor{Writer: producer, Topic: cfg.Kafka.ResponsesTopic, Now: time.Now}
		} else {
			inbox := approval.NewInbox(cfg.Webhook.QueueSize, cfg.Webhook.Workers, core.Processor, log.Named("inbox"))
			deps.Ingest = httpSrv.InboxIngestor{Inbox: inbox}
			g.Go(func() error { return inbox.Run(inboxCtx) })
		}

		if cfg.Approval.RunSweeper {
			sw := approval.NewSweeper(core.Engine, cfg.Approval.SweepInterval, log.Named("sweeper"))
			g.Go(func() error { return sw.Run(gctx) })
		}

		server := httpSrv.NewServer(deps)
		g.Go(func() error {
			if err := server.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.HTTP.ShutdownTimeout))
			defer cancel()
			defer stopInbox()
			return server.Shutdown(sctx)
		})

		log.Info("serve started",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("storage", cfg.Storage),
			zap.Strings("providers", core.Registry.Names()),
			zap.Bool("kafka_ingest", cfg.Webhook.PublishToKafka),
		)
		return g.Wait()
	},
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
