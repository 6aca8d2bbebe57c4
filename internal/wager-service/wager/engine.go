package wager

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/errs"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/ledger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/metrics"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/odds"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

type Publisher interface {
	PublishBetPlaced(ctx context.Context, e events.BetPlaced) error
}

// Result é a aposta gravada + saldo após o débito
type Result struct {
	Bet        repo.Bet `json:"bet"`
	NewBalance int64    `json:"newBalance"`
}

type Engine struct {
	log     *zap.Logger
	store   repo.Store
	ledger  *ledger.Ledger
	pub     Publisher
	metrics *metrics.Metrics

	Now func() time.Time
}

func NewEngine(log *zap.Logger, store repo.Store, l *ledger.Ledger, pub Publisher, m *metrics.Metrics) *Engine {
	return &Engine{
		log:     logger.OrNop(log),
		store:   store,
		ledger:  l,
		pub:     pub,
		metrics: m,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// PlaceBet debita o saldo e grava a aposta de forma atômica
// Qualquer falha desfaz a transação inteira: nem débito nem aposta ficam gravados
func (e *Engine) PlaceBet(ctx context.Context, accountID, eventID, optionID string, amount int64) (Result, error) {
	if amount <= 0 {
		return Result{}, e.reject(accountID, eventID, errs.Invalid("amount", "amount must be positive, got %d", amount))
	}

	var res Result
	err := e.store.InTx(ctx, func(tx repo.Tx) error {
		// FOR SHARE: resolução/toggle concorrente espera esta transação
		ev, err := tx.GetEvent(ctx, eventID, repo.LockShare)
		if errors.Is(err, repo.ErrNotFound) {
			return errs.New(errs.KindEventNotFound, eventID, "event not found")
		}
		if err != nil {
			return err
		}
		now := e.Now()
		if ev.Status != repo.EventActive {
			return errs.New(errs.KindEventNotActive, eventID, "event is %s", ev.Status)
		}
		if !now.Before(ev.EndTime) {
			return errs.New(errs.KindEventEnded, eventID, "event ended at %s", ev.EndTime.Format(time.RFC3339))
		}
		if amount < ev.MinStake || amount > ev.MaxStake {
			return errs.Invalid("amount", "amount must be between %d and %d", ev.MinStake, ev.MaxStake)
		}
		opt, ok := ev.Option(optionID)
		if !ok {
			return errs.New(errs.KindOptionNotFound, optionID, "option does not belong to event %s", eventID)
		}

		acc, err := tx.GetAccount(ctx, accountID, repo.LockUpdate)
		if errors.Is(err, repo.ErrNotFound) {
			return errs.New(errs.KindAccountNotFound, accountID, "account not found")
		}
		if err != nil {
			return err
		}
		if !acc.IsActive {
			return errs.New(errs.KindAccountInactive, accountID, "account is deactivated")
		}
		if acc.Balance < amount {
			return errs.New(errs.KindInsufficientFunds, accountID, "balance %d is lower than %d", acc.Balance, amount)
		}

		dup, err := tx.HasActiveBet(ctx, accountID, eventID)
		if err != nil {
			return err
		}
		if dup {
			return errs.New(errs.KindDuplicateBet, eventID, "account already has an active bet on this event")
		}

		payout, err := odds.Payout(amount, opt.Odds)
		if err != nil {
			return errs.Invalid("amount", "potential payout of %d at odds %s exceeds the points range", amount, opt.Odds)
		}

		bet := repo.Bet{
			ID:              uuid.NewString(),
			AccountID:       accountID,
			EventID:         eventID,
			OptionID:        opt.ID,
			Amount:          amount,
			Odds:            opt.Odds,
			PotentialPayout: payout,
			Status:          repo.BetActive,
			PlacedAt:        now,
		}
		bal, err := e.ledger.Debit(ctx, tx, accountID, amount, ledger.ReasonBetPlaced, ledger.Ref{Type: ledger.RefBet, ID: bet.ID})
		if err != nil {
			return err
		}
		// o índice único parcial pega a corrida que passou pelo HasActiveBet
		if err := tx.InsertBet(ctx, &bet); errors.Is(err, repo.ErrDuplicateActiveBet) {
			return errs.New(errs.KindDuplicateBet, eventID, "account already has an active bet on this event")
		} else if err != nil {
			return err
		}

		res = Result{Bet: bet, NewBalance: bal}
		return nil
	})
	if err != nil {
		return Result{}, e.reject(accountID, eventID, errs.Wrap(err, "place bet"))
	}

	e.metrics.BetPlaced(amount)
	e.log.Info("bet placed", zap.String("bet_id", res.Bet.ID), zap.String("account_id", accountID),
		zap.String("event_id", eventID), zap.String("option_id", optionID), zap.Int64("amount", amount),
		zap.String("odds", res.Bet.Odds.StringFixed(odds.Scale)), zap.Int64("new_balance", res.NewBalance))

	if e.pub != nil {
		if err := e.pub.PublishBetPlaced(ctx, events.BetPlaced{
			BetID:           res.Bet.ID,
			AccountID:       accountID,
			EventID:         eventID,
			OptionID:        res.Bet.OptionID,
			Amount:          amount,
			Odds:            res.Bet.Odds.StringFixed(odds.Scale),
			PotentialPayout: res.Bet.PotentialPayout,
			NewBalance:      res.NewBalance,
			TsUnixMs:        res.Bet.PlacedAt.UnixMilli(),
		}); err != nil {
			e.log.Warn("publish bet_placed failed", zap.String("bet_id", res.Bet.ID), zap.Error(err))
		}
	}
	return res, nil
}

func (e *Engine) reject(accountID, eventID string, err error) error {
	e.metrics.Rejected("place_bet", string(errs.KindOf(err)))
	e.log.Debug("bet rejected", zap.String("account_id", accountID), zap.String("event_id", eventID), zap.Error(err))
	return err
}

// History devolve as apostas da conta, mais recentes primeiro
func (e *Engine) History(ctx context.Context, accountID string, limit int) ([]repo.BetView, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 100:
		limit = 100
	}
	out, err := e.store.BetsByAccount(ctx, accountID, limit)
	return out, errs.Wrap(err, "list bets")
}

// MonthlyRow é uma posição do ranking do mês corrente
type MonthlyRow struct {
	Rank int `json:"rank"`
	repo.MonthlyStat
	WinRate float64 `json:"winRate"` // percentual, uma casa decimal
	Profit  int64   `json:"profit"`  // winnings - wagered
}

type MonthlyBoard struct {
	Period string       `json:"period"` // ex.: 2026-10
	Rows   []MonthlyRow `json:"rows"`
}

// Monthly ranqueia contas ativas pelas apostas feitas desde o início do mês (UTC)
// Ordem: ganhos desc, saldo desc
func (e *Engine) Monthly(ctx context.Context, limit, offset int) (MonthlyBoard, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 100:
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	now := e.Now().UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats, err := e.store.MonthlyStats(ctx, since, limit, offset)
	if err != nil {
		return MonthlyBoard{}, errs.Wrap(err, "monthly leaderboard")
	}
	board := MonthlyBoard{Period: since.Format("2006-01"), Rows: make([]MonthlyRow, 0, len(stats))}
	for i, s := range stats {
		board.Rows = append(board.Rows, MonthlyRow{
			Rank:        offset + i + 1,
			MonthlyStat: s,
			WinRate:     winRate(s.Wins, s.Bets),
			Profit:      s.Winnings - s.Wagered,
		})
	}
	return board, nil
}

func winRate(wins, bets int) float64 {
	if bets == 0 {
		return 0
	}
	return math.Round(float64(wins)/float64(bets)*1000) / 10
}
