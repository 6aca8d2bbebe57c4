package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/internal/leaderboard"
	sharedcache "github.com/radieske/rapmarket-wager-platform/internal/shared/cache"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/config"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/db"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/kafka"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	sharedmetrics "github.com/radieske/rapmarket-wager-platform/internal/shared/metrics"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/cache"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/catalog"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/feed"
	httpapi "github.com/radieske/rapmarket-wager-platform/internal/wager-service/http"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/ledger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/metrics"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/producer"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/settlement"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/wager"
)

// publisher junta os contratos de publicação usados pelos motores
type publisher interface {
	wager.Publisher
	settlement.Publisher
}

func main() {
	cfg := config.LoadFor("wager-service")
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Store: Postgres em produção, memória para desenvolvimento local
	var store repo.Store
	switch cfg.StorageDriver {
	case "memory":
		store = repo.NewMemory()
		log.Warn("using in-memory store; data is lost on restart")
	case "postgres":
		pg, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		store = repo.NewPostgres(pg)
		log.Info("postgres connected")
	default:
		log.Fatal("unknown STORAGE_DRIVER", zap.String("driver", cfg.StorageDriver))
	}

	// Redis é opcional (REDIS_ADDR vazio desliga cache, feed e rankings)
	var (
		rdb      *redis.Client
		evCache  catalog.EventCache
		notifier catalog.StatusNotifier
		rankings httpapi.Rankings
		hub      *feed.Hub
	)
	if cfg.RedisAddr != "" {
		rdb, err = sharedcache.ConnectRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		log.Info("redis connected")

		evCache = cache.New(rdb, cfg.EventCacheTTL)
		notifier = feed.NewRedisBroadcaster(rdb, cfg.RedisPubSubChannel)
		rankings = leaderboard.NewRedisBoard(rdb)
		hub = feed.NewHub(log, func(*http.Request) bool { return true })
		feed.StartRedisSubscriber(ctx, log, rdb, cfg.RedisPubSubChannel, hub)
	}

	// Kafka é opcional (KAFKA_BROKERS vazio = sem publicação)
	var pub publisher = producer.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		kp := producer.NewKafkaPublisher(
			kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetPlaced),
			kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetSettled),
			kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicEventResolved),
		)
		defer kp.Close()
		pub = kp
		log.Info("kafka writers ready", zap.String("brokers", cfg.KafkaBrokers))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	l := ledger.New(log, store, m, cfg.StartingBalance, cfg.AdminStartingBalance)
	resolver := settlement.NewEngine(log, store, l, pub, m)
	cat := catalog.New(log, store, resolver, evCache, notifier, catalog.Options{
		DefaultMinStake: cfg.DefaultMinStake,
		DefaultMaxStake: cfg.DefaultMaxStake,
		EventDuration:   cfg.EventDuration,
	})
	engine := wager.NewEngine(log, store, l, pub, m)

	var ws http.Handler
	if hub != nil {
		ws = http.HandlerFunc(hub.HandleWS)
	}
	api := httpapi.NewServer(log, l, cat, engine, rankings, ws)

	// métricas e health em porta separada
	metricsSrv := sharedmetrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	})
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("wager-service listening", zap.String("addr", apiSrv.Addr), zap.String("storage", cfg.StorageDriver))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
