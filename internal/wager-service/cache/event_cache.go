package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
)

// versionTTL mantém a geração viva bem além de qualquer leitura em andamento
const versionTTL = 24 * time.Hour

// setIfVersion grava KEYS[1] só se a geração em KEYS[2] ainda for ARGV[1]
// ARGV[2] = JSON do evento, ARGV[3] = TTL em ms (0 = sem expiração)
var setIfVersion = redis.NewScript(`
local cur = redis.call('GET', KEYS[2]) or '0'
if cur ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// EventCache guarda o evento (com opções) serializado em JSON no Redis
// Cada Invalidate avança a geração do evento; leituras que começaram antes não repovoam o cache
type EventCache struct {
	R   *redis.Client
	TTL time.Duration
}

func New(r *redis.Client, ttl time.Duration) *EventCache { return &EventCache{R: r, TTL: ttl} }

func keyEvent(eventID string) string   { return "rapmarket:event:" + eventID }
func keyVersion(eventID string) string { return "rapmarket:event:ver:" + eventID }

// Get devolve (evento, true) em cache hit; miss não é erro
func (c *EventCache) Get(ctx context.Context, eventID string) (repo.Event, bool, error) {
	b, err := c.R.Get(ctx, keyEvent(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return repo.Event{}, false, nil
	}
	if err != nil {
		return repo.Event{}, false, err
	}
	var ev repo.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return repo.Event{}, false, err
	}
	return ev, true, nil
}

// Version lê a geração atual; deve ser chamada antes da consulta ao store
func (c *EventCache) Version(ctx context.Context, eventID string) (int64, error) {
	v, err := c.R.Get(ctx, keyVersion(eventID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// SetIfVersion repovoa o cache se nenhuma invalidação ocorreu desde Version
// Devolve false quando a escrita foi descartada por ser velha
func (c *EventCache) SetIfVersion(ctx context.Context, ev repo.Event, version int64) (bool, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return false, err
	}
	n, err := setIfVersion.Run(ctx, c.R,
		[]string{keyEvent(ev.ID), keyVersion(ev.ID)},
		strconv.FormatInt(version, 10), string(b), c.TTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate remove o evento e avança a geração; chamado após toda mutação commitada
func (c *EventCache) Invalidate(ctx context.Context, eventID string) error {
	pipe := c.R.TxPipeline()
	pipe.Incr(ctx, keyVersion(eventID))
	pipe.Expire(ctx, keyVersion(eventID), versionTTL)
	pipe.Del(ctx, keyEvent(eventID))
	_, err := pipe.Exec(ctx)
	return err
}
