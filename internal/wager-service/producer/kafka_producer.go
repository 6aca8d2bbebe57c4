package producer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

// MessageWriter é o subconjunto de *kafka.Writer usado aqui
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher publica os eventos de domínio do serviço de apostas
// Chave = id da conta (apostas) ou do evento (resolução), para manter ordem por partição
type KafkaPublisher struct {
	Placed   MessageWriter
	Settled  MessageWriter
	Resolved MessageWriter
}

func NewKafkaPublisher(placed, settled, resolved MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{Placed: placed, Settled: settled, Resolved: resolved}
}

func (p *KafkaPublisher) PublishBetPlaced(ctx context.Context, e events.BetPlaced) error {
	if e.TsUnixMs == 0 {
		e.TsUnixMs = time.Now().UnixMilli()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.Placed.WriteMessages(ctx, kafka.Message{Key: []byte(e.AccountID), Value: b})
}

// PublishBetSettled envia todas as liquidações de um evento num único lote
func (p *KafkaPublisher) PublishBetSettled(ctx context.Context, settled []events.BetSettled) error {
	if len(settled) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(settled))
	for _, e := range settled {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.AccountID), Value: b})
	}
	return p.Settled.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) PublishEventResolved(ctx context.Context, e events.EventResolved) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.Resolved.WriteMessages(ctx, kafka.Message{Key: []byte(e.EventID), Value: b})
}

// Close fecha os writers que implementam io.Closer
func (p *KafkaPublisher) Close() error {
	var errs []error
	for _, w := range []MessageWriter{p.Placed, p.Settled, p.Resolved} {
		if c, ok := w.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// NopPublisher descarta tudo (STORAGE_DRIVER=memory sem Kafka, testes)
type NopPublisher struct{}

func (NopPublisher) PublishBetPlaced(context.Context, events.BetPlaced) error         { return nil }
func (NopPublisher) PublishBetSettled(context.Context, []events.BetSettled) error     { return nil }
func (NopPublisher) PublishEventResolved(context.Context, events.EventResolved) error { return nil }
