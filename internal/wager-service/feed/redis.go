package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

// RedisBroadcaster publica mudanças de status no canal Pub/Sub
// Cada réplica do serviço assina o canal e repassa ao seu Hub
type RedisBroadcaster struct {
	R       *redis.Client
	Channel string
}

func NewRedisBroadcaster(r *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{R: r, Channel: channel}
}

func (b *RedisBroadcaster) NotifyStatus(ctx context.Context, eventID string, status repo.EventStatus) error {
	payload, err := json.Marshal(events.EventStatusChanged{EventID: eventID, Status: string(status), Ts: time.Now().UTC()})
	if err != nil {
		return err
	}
	return b.R.Publish(ctx, b.Channel, payload).Err()
}

// StartRedisSubscriber escuta o canal e repassa cada mensagem ao Hub até ctx terminar
func StartRedisSubscriber(ctx context.Context, log *zap.Logger, r *redis.Client, channel string, hub *Hub) {
	log = logger.OrNop(log)
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var upd events.EventStatusChanged
				if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
					log.Warn("feed subscriber unmarshal error", zap.Error(err))
					continue
				}
				hub.Broadcast(upd)
			}
		}
	}()
}
