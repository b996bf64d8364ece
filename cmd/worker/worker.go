package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/astarte-platform/astra-data-updater/internal/actor"
	"github.com/astarte-platform/astra-data-updater/internal/config"
	"github.com/astarte-platform/astra-data-updater/internal/db"
	"github.com/astarte-platform/astra-data-updater/internal/mq"
	"github.com/astarte-platform/astra-data-updater/internal/repository"
	"github.com/astarte-platform/astra-data-updater/internal/schema"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
	"github.com/astarte-platform/astra-data-updater/internal/vmqplugin"
)

// ProvideDBPool creates the wide-column store connection pool.
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideQueries adapts the pgx-backed implementation to the Queries
// contract the actor package depends on.
func ProvideQueries(pool *db.Pool) repository.Queries {
	return repository.NewPGQueries(pool)
}

// ProvideInterfaceLoader adapts the pgx-backed implementation to the
// InterfaceLoader contract.
func ProvideInterfaceLoader(pool *db.Pool) schema.InterfaceLoader {
	return schema.NewPGInterfaceLoader(pool)
}

// ProvidePlugin stands in for the out-of-scope VMQPlugin RPC.
func ProvidePlugin() vmqplugin.Plugin {
	return vmqplugin.NoopPlugin{}
}

// ProvideMQConnection opens the shared RabbitMQ connection.
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher opens the outbound trigger-events publisher and narrows
// it to the interface the trigger package depends on.
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (trigger.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
}

// ProvideTriggersHandler builds the TriggersHandler over the outbound
// publisher.
func ProvideTriggersHandler(publisher trigger.Publisher, logger *zap.Logger) *trigger.Handler {
	return trigger.NewHandler(publisher, logger)
}

// ProvideRegistry builds the per-device actor registry. Every created actor
// shares the same Queries/Loader/Triggers/Plugin/Cache/Logger collaborators.
func ProvideRegistry(
	queries repository.Queries,
	loader schema.InterfaceLoader,
	triggers *trigger.Handler,
	plugin vmqplugin.Plugin,
	cfg *config.Config,
	logger *zap.Logger,
) *actor.Registry {
	factory := func() actor.Deps {
		return actor.Deps{
			Queries:  queries,
			Loader:   loader,
			Triggers: triggers,
			Plugin:   plugin,
			Cache:    cfg.Cache,
			Logger:   logger,
		}
	}
	return actor.NewRegistry(factory, logger)
}

// startWorkers launches one AMQPDataConsumer per configured worker, each
// with its own queue and channel, all routing into the shared Registry.
func startWorkers(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger, registry *actor.Registry) error {
	ctx, cancel := context.WithCancel(context.Background())

	var consumers []*mq.Consumer
	for i := 0; i < cfg.RabbitMQ.WorkerCount; i++ {
		queue := fmt.Sprintf("%s.%d", cfg.RabbitMQ.DataQueuePrefix, i)
		consumer, err := mq.NewConsumer(mq.ConsumerConfig{
			Connection:    conn,
			Queue:         queue,
			PrefetchCount: cfg.RabbitMQ.PrefetchCount,
			Logger:        logger.With(zap.String("queue", queue)),
			Dispatcher:    registry,
		})
		if err != nil {
			cancel()
			for _, c := range consumers {
				c.Close()
			}
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}
		consumers = append(consumers, consumer)
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			for _, c := range consumers {
				if err := c.Start(ctx); err != nil {
					return err
				}
			}
			logger.Info("all data updater workers started", zap.Int("worker_count", len(consumers)))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			for _, c := range consumers {
				c.Close()
			}
			logger.Info("workers stopped")
			return nil
		},
	})

	return nil
}

// startMetricsServer exposes the Prometheus registry on cfg.MetricsPort,
// grounded on Guizzs26-go-sync-db's cmd/consumer/main.go observability
// server.
func startMetricsServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			logger.Info("metrics server listening", zap.Int("port", cfg.MetricsPort))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
