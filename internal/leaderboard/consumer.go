package leaderboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

// MessageReader é o subconjunto de *kafka.Reader usado pelo Processor
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Processor consome bet_settled e atualiza os rankings no Redis
// Mensagens inválidas vão para a DLQ (quando configurada) e são confirmadas
type Processor struct {
	Log    *zap.Logger
	Reader MessageReader
	Board  *RedisBoard
	DLQ    MessageWriter // opcional

	OnConsumed func()
	OnApplied  func()
	OnError    func(stage string)
}

func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			p.fail("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		if err := p.handle(ctx, m); err != nil {
			// erro transitório (Redis): não confirma, a mensagem volta após restart/rebalance
			p.Log.Warn("leaderboard update failed", zap.Int64("offset", m.Offset), zap.Error(err))
			p.fail("apply")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if err := p.Reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			p.Log.Warn("kafka commit failed", zap.Error(err))
			p.fail("commit")
		}
	}
}

func (p *Processor) handle(ctx context.Context, m kafka.Message) error {
	var s events.BetSettled
	if err := json.Unmarshal(m.Value, &s); err != nil || s.BetID == "" || s.AccountID == "" {
		p.Log.Warn("invalid bet_settled message", zap.Int64("offset", m.Offset), zap.Error(err))
		p.fail("decode")
		p.deadLetter(ctx, m)
		return nil
	}

	applied, err := p.Board.Apply(ctx, s)
	if err != nil {
		return err
	}
	if applied && p.OnApplied != nil {
		p.OnApplied()
	}
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message) {
	if p.DLQ == nil {
		return
	}
	if err := p.DLQ.WriteMessages(ctx, kafka.Message{Key: m.Key, Value: m.Value}); err != nil {
		p.Log.Warn("dlq publish failed", zap.Error(err))
		p.fail("dlq")
	}
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
