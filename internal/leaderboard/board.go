package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

// Boards mantidos em sorted sets
const (
	Wins     = "wins"
	Winnings = "winnings"
)

const dedupeTTL = 7 * 24 * time.Hour

// applyWin incrementa os dois boards e grava a marca de dedupe numa única operação
// Os tipos são conferidos antes de qualquer escrita: script não desfaz comandos já executados
// KEYS: marca, wins, winnings; ARGV: ttl (s), conta, ganhos
var applyWin = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
for i = 2, 3 do
	local t = redis.call('TYPE', KEYS[i])
	if type(t) == 'table' then
		t = t['ok']
	end
	if t ~= 'zset' and t ~= 'none' then
		return redis.error_reply('WRONGTYPE ' .. KEYS[i] .. ' is ' .. t)
	end
end
redis.call('ZINCRBY', KEYS[2], 1, ARGV[2])
redis.call('ZINCRBY', KEYS[3], ARGV[3], ARGV[2])
redis.call('SET', KEYS[1], 1, 'EX', ARGV[1])
return 1
`)

// Entry é uma posição do ranking
type Entry struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"accountId"`
	Score     int64  `json:"score"`
}

// RedisBoard agrega vitórias e ganhos por conta a partir de bet_settled
type RedisBoard struct {
	R      *redis.Client
	Prefix string
}

func NewRedisBoard(r *redis.Client) *RedisBoard { return &RedisBoard{R: r, Prefix: "rapmarket:leaderboard:"} }

func (b *RedisBoard) key(board string) string { return b.Prefix + board }

func (b *RedisBoard) seenKey(betID string) string { return b.Prefix + "seen:" + betID }

// Apply contabiliza uma liquidação; reentregas da mesma aposta são ignoradas
// Devolve false quando a aposta já havia sido contada
func (b *RedisBoard) Apply(ctx context.Context, s events.BetSettled) (bool, error) {
	if s.Status != "WON" {
		return false, nil
	}
	n, err := applyWin.Run(ctx, b.R,
		[]string{b.seenKey(s.BetID), b.key(Wins), b.key(Winnings)},
		int64(dedupeTTL/time.Second), s.AccountID, s.Winnings,
	).Int()
	if err != nil {
		return false, fmt.Errorf("update leaderboard for bet %s: %w", s.BetID, err)
	}
	return n == 1, nil
}

// Rebuild recalcula os dois boards a partir das apostas vencedoras gravadas no banco
// Corrige perdas de mensagens do Kafka; as marcas de dedupe são regravadas para as reentregas
func (b *RedisBoard) Rebuild(ctx context.Context, won []events.BetSettled) (int, error) {
	wins := map[string]float64{}
	winnings := map[string]float64{}
	for _, s := range won {
		wins[s.AccountID]++
		winnings[s.AccountID] += float64(s.Winnings)
	}

	pipe := b.R.TxPipeline()
	pipe.Del(ctx, b.key(Wins), b.key(Winnings))
	for acc, n := range wins {
		pipe.ZAdd(ctx, b.key(Wins), redis.Z{Score: n, Member: acc})
		pipe.ZAdd(ctx, b.key(Winnings), redis.Z{Score: winnings[acc], Member: acc})
	}
	for _, s := range won {
		pipe.Set(ctx, b.seenKey(s.BetID), 1, dedupeTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rebuild leaderboard: %w", err)
	}
	return len(wins), nil
}

// Top devolve as primeiras posições, maior placar primeiro
func (b *RedisBoard) Top(ctx context.Context, board string, limit int) ([]Entry, error) {
	if board != Wins && board != Winnings {
		return nil, fmt.Errorf("unknown leaderboard %q", board)
	}
	if limit <= 0 {
		limit = 10
	}
	zs, err := b.R.ZRevRangeWithScores(ctx, b.key(board), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard %s: %w", board, err)
	}
	out := make([]Entry, 0, len(zs))
	for i, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, Entry{Rank: i + 1, AccountID: id, Score: int64(z.Score)})
	}
	return out, nil
}
