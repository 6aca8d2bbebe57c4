package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/errs"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/ledger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/metrics"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/odds"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

// Publisher recebe os eventos de resolução após o commit
type Publisher interface {
	PublishEventResolved(ctx context.Context, e events.EventResolved) error
	PublishBetSettled(ctx context.Context, settled []events.BetSettled) error
}

// Summary é o resultado de uma resolução
type Summary struct {
	EventID         string `json:"eventId"`
	WinningOptionID string `json:"winningOptionId"`
	Processed       int    `json:"processed"`
	Won             int    `json:"won"`
	Lost            int    `json:"lost"`
	TotalPaid       int64  `json:"totalPaid"`
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

// ResolveEvent fecha o evento e liquida todas as apostas ativas numa única transação
// O lock exclusivo no evento garante no máximo uma resolução por evento
func (e *Engine) ResolveEvent(ctx context.Context, eventID, winningOptionID string) (Summary, error) {
	sum := Summary{EventID: eventID, WinningOptionID: winningOptionID}
	var settled []events.BetSettled

	err := e.store.InTx(ctx, func(tx repo.Tx) error {
		sum = Summary{EventID: eventID, WinningOptionID: winningOptionID}
		settled = settled[:0]

		ev, err := tx.GetEvent(ctx, eventID, repo.LockUpdate)
		if errors.Is(err, repo.ErrNotFound) {
			return errs.New(errs.KindEventNotFound, eventID, "event not found")
		}
		if err != nil {
			return err
		}
		if ev.Status == repo.EventResolved {
			return errs.New(errs.KindAlreadyResolved, eventID, "event was resolved at %s", fmtTime(ev.ResolvedAt))
		}
		if _, ok := ev.Option(winningOptionID); !ok {
			return errs.New(errs.KindOptionNotFound, winningOptionID, "option does not belong to event %s", eventID)
		}

		now := e.Now()
		if err := tx.MarkEventResolved(ctx, eventID, winningOptionID, now); err != nil {
			return err
		}

		bets, err := tx.ActiveBetsForEvent(ctx, eventID)
		if err != nil {
			return err
		}
		for _, b := range bets {
			status, winnings := repo.BetLost, int64(0)
			if b.OptionID == winningOptionID {
				status = repo.BetWon
				if winnings, err = odds.Payout(b.Amount, b.Odds); err != nil {
					return fmt.Errorf("payout for bet %s: %w", b.ID, err)
				}
				if winnings > 0 {
					ref := ledger.Ref{Type: ledger.RefBet, ID: b.ID}
					if _, err := e.ledger.Credit(ctx, tx, b.AccountID, winnings, ledger.ReasonBetWon, ref); err != nil {
						return err
					}
				}
				sum.Won++
				sum.TotalPaid += winnings
			} else {
				sum.Lost++
			}
			if err := tx.SettleBet(ctx, b.ID, status, winnings, now); err != nil {
				return err
			}
			sum.Processed++
			settled = append(settled, events.BetSettled{
				BetID:     b.ID,
				AccountID: b.AccountID,
				EventID:   eventID,
				Status:    string(status),
				Amount:    b.Amount,
				Winnings:  winnings,
				Ts:        now,
			})
		}
		return nil
	})
	if err != nil {
		e.metrics.Rejected("resolve_event", string(errs.KindOf(err)))
		e.log.Debug("resolve rejected", zap.String("event_id", eventID), zap.Error(err))
		return Summary{}, errs.Wrap(err, "resolve event")
	}

	e.metrics.EventResolved(sum.Won, sum.Lost, sum.TotalPaid)
	e.log.Info("event resolved", zap.String("event_id", eventID), zap.String("winning_option_id", winningOptionID),
		zap.Int("processed", sum.Processed), zap.Int("won", sum.Won), zap.Int("lost", sum.Lost),
		zap.Int64("total_paid", sum.TotalPaid))
	e.publish(ctx, sum, settled)
	return sum, nil
}

func (e *Engine) publish(ctx context.Context, sum Summary, settled []events.BetSettled) {
	if e.pub == nil {
		return
	}
	if err := e.pub.PublishEventResolved(ctx, events.EventResolved{
		EventID:         sum.EventID,
		WinningOptionID: sum.WinningOptionID,
		Processed:       sum.Processed,
		Won:             sum.Won,
		Lost:            sum.Lost,
		TotalPaid:       sum.TotalPaid,
		Ts:              e.Now(),
	}); err != nil {
		e.log.Warn("publish event_resolved failed", zap.String("event_id", sum.EventID), zap.Error(err))
	}
	if err := e.pub.PublishBetSettled(ctx, settled); err != nil {
		e.log.Warn("publish bet_settled failed", zap.String("event_id", sum.EventID),
			zap.Int("bets", len(settled)), zap.Error(err))
	}
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "unknown time"
	}
	return t.Format(time.RFC3339)
}
