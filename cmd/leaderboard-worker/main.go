package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/internal/leaderboard"
	sharedcache "github.com/radieske/rapmarket-wager-platform/internal/shared/cache"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/config"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/kafka"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	sharedmetrics "github.com/radieske/rapmarket-wager-platform/internal/shared/metrics"
)

func main() {
	cfg := config.LoadFor("leaderboard-worker")
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	rdb, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	// consumer group próprio: cada réplica pega um conjunto de partições
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicBetSettled, "leaderboard-worker")
	defer reader.Close()
	dlq := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetSettledDLQ)
	defer dlq.Close()

	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "leaderboard_messages_consumed_total", Help: "mensagens bet_settled consumidas"})
	applied := prometheus.NewCounter(prometheus.CounterOpts{Name: "leaderboard_wins_applied_total", Help: "vitórias contabilizadas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "leaderboard_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, applied, errorsBy)

	proc := &leaderboard.Processor{
		Log:        log,
		Reader:     reader,
		Board:      leaderboard.NewRedisBoard(rdb),
		DLQ:        dlq,
		OnConsumed: func() { consumed.Inc() },
		OnApplied:  func() { applied.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	sharedmetrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("leaderboard-worker started", zap.String("topic", cfg.TopicBetSettled))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("leaderboard-worker stopped")
}
