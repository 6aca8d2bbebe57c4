package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/radieske/rapmarket-wager-platform/internal/ctl"
	"github.com/radieske/rapmarket-wager-platform/internal/leaderboard"
	sharedcache "github.com/radieske/rapmarket-wager-platform/internal/shared/cache"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/config"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/db"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/ledger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
)

func main() {
	cfg := config.LoadFor("rapmarketctl")
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	// a CLI opera sempre sobre o Postgres: o store em memória morre com o processo
	open := func(ctx context.Context) (*ctl.Env, error) {
		pg, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		store := repo.NewPostgres(pg)
		env := &ctl.Env{
			Ledger: ledger.New(log, store, nil, cfg.StartingBalance, cfg.AdminStartingBalance),
			Store:  store,
			Close:  func() { _ = pg.Close() },
		}
		if cfg.RedisAddr == "" {
			return env, nil
		}
		rdb, err := sharedcache.ConnectRedis(cfg.RedisAddr)
		if err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		env.Board = leaderboard.NewRedisBoard(rdb)
		env.Close = func() {
			_ = rdb.Close()
			_ = pg.Close()
		}
		return env, nil
	}

	if err := ctl.NewRootCmd(open).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, ctl.ErrMismatch) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
