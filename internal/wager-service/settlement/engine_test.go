package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/errs"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/ledger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

var now = time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

type capturePublisher struct {
	resolved []events.EventResolved
	settled  []events.BetSettled
}

func (p *capturePublisher) PublishEventResolved(_ context.Context, e events.EventResolved) error {
	p.resolved = append(p.resolved, e)
	return nil
}

func (p *capturePublisher) PublishBetSettled(_ context.Context, s []events.BetSettled) error {
	p.settled = append(p.settled, s...)
	return nil
}

type fixture struct {
	store  *repo.Memory
	ledger *ledger.Ledger
	engine *Engine
	pub    *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemory()
	l := ledger.New(nil, store, nil, 1000, 10000)
	pub := &capturePublisher{}
	e := NewEngine(nil, store, l, pub, nil)
	e.Now = func() time.Time { return now }
	f := &fixture{store: store, ledger: l, engine: e, pub: pub}

	ev := repo.Event{
		ID: "battle", Title: "Finale", StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
		MinStake: 10, MaxStake: 1000, Status: repo.EventActive,
		Options: []repo.Option{
			{ID: "win", Label: "Bushido", Odds: decimal.RequireFromString("2.5")},
			{ID: "lose", Label: "Fler", Odds: decimal.RequireFromString("1.5"), Position: 1},
		},
	}
	require.NoError(t, store.InTx(context.Background(), func(tx repo.Tx) error {
		return tx.InsertEvent(context.Background(), &ev)
	}))
	return f
}

// bet grava a aposta como o motor de apostas faria: débito + linha ACTIVE na mesma transação
func (f *fixture) bet(t *testing.T, username, optionID string, amount int64) (accountID, betID string) {
	t.Helper()
	ctx := context.Background()
	acc, err := f.ledger.Register(ctx, username, false)
	require.NoError(t, err)

	betID = "bet-" + username
	require.NoError(t, f.store.InTx(ctx, func(tx repo.Tx) error {
		ev, err := tx.GetEvent(ctx, "battle", repo.LockShare)
		require.NoError(t, err)
		opt, _ := ev.Option(optionID)
		if _, err := f.ledger.Debit(ctx, tx, acc.ID, amount, ledger.ReasonBetPlaced, ledger.Ref{Type: ledger.RefBet, ID: betID}); err != nil {
			return err
		}
		return tx.InsertBet(ctx, &repo.Bet{
			ID: betID, AccountID: acc.ID, EventID: "battle", OptionID: optionID,
			Amount: amount, Odds: opt.Odds, Status: repo.BetActive, PlacedAt: now,
		})
	}))
	return acc.ID, betID
}

func (f *fixture) account(t *testing.T, id string) repo.Account {
	t.Helper()
	acc, err := f.ledger.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func TestResolveEvent_PaysWinnersOnly(t *testing.T) {
	f := newFixture(t)
	winner, winBet := f.bet(t, "winner", "win", 100)
	loser, loseBet := f.bet(t, "loser", "lose", 200)

	sum, err := f.engine.ResolveEvent(context.Background(), "battle", "win")
	require.NoError(t, err)
	assert.Equal(t, Summary{EventID: "battle", WinningOptionID: "win", Processed: 2, Won: 1, Lost: 1, TotalPaid: 250}, sum)

	assert.Equal(t, int64(1150), f.account(t, winner).Balance)
	assert.Equal(t, int64(800), f.account(t, loser).Balance)

	bets, err := f.store.BetsByAccount(context.Background(), winner, 10)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, winBet, bets[0].ID)
	assert.Equal(t, repo.BetWon, bets[0].Status)
	assert.Equal(t, int64(250), bets[0].ActualWinnings)
	assert.Equal(t, repo.EventResolved, bets[0].EventStatus)

	bets, err = f.store.BetsByAccount(context.Background(), loser, 10)
	require.NoError(t, err)
	assert.Equal(t, loseBet, bets[0].ID)
	assert.Equal(t, repo.BetLost, bets[0].Status)
	assert.Zero(t, bets[0].ActualWinnings)

	require.Len(t, f.pub.resolved, 1)
	assert.Equal(t, int64(250), f.pub.resolved[0].TotalPaid)
	assert.Len(t, f.pub.settled, 2)

	for _, id := range []string{winner, loser} {
		rec, err := f.ledger.Reconcile(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, rec.OK())
	}
}

func TestResolveEvent_SecondCallIsRejected(t *testing.T) {
	f := newFixture(t)
	winner, _ := f.bet(t, "twice", "win", 100)

	_, err := f.engine.ResolveEvent(context.Background(), "battle", "win")
	require.NoError(t, err)
	before, err := f.ledger.RecentActivity(context.Background(), winner, 100)
	require.NoError(t, err)

	_, err = f.engine.ResolveEvent(context.Background(), "battle", "win")
	require.ErrorIs(t, err, errs.AlreadyResolved)
	_, err = f.engine.ResolveEvent(context.Background(), "battle", "lose")
	require.ErrorIs(t, err, errs.AlreadyResolved)

	after, err := f.ledger.RecentActivity(context.Background(), winner, 100)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	assert.Equal(t, int64(1150), f.account(t, winner).Balance)
	assert.Len(t, f.pub.resolved, 1)
}

func TestResolveEvent_UnknownEventOrOption(t *testing.T) {
	f := newFixture(t)
	acc, _ := f.bet(t, "waiting", "win", 100)

	_, err := f.engine.ResolveEvent(context.Background(), "missing", "win")
	require.ErrorIs(t, err, errs.EventNotFound)

	_, err = f.engine.ResolveEvent(context.Background(), "battle", "draw")
	require.ErrorIs(t, err, errs.OptionNotFound)

	// nada mudou: evento segue aberto e aposta ativa
	require.NoError(t, f.store.InTx(context.Background(), func(tx repo.Tx) error {
		ev, err := tx.GetEvent(context.Background(), "battle", repo.NoLock)
		require.NoError(t, err)
		assert.Equal(t, repo.EventActive, ev.Status)
		return nil
	}))
	bets, err := f.store.BetsByAccount(context.Background(), acc, 10)
	require.NoError(t, err)
	assert.Equal(t, repo.BetActive, bets[0].Status)
}

func TestResolveEvent_NoBets(t *testing.T) {
	f := newFixture(t)

	sum, err := f.engine.ResolveEvent(context.Background(), "battle", "lose")
	require.NoError(t, err)
	assert.Zero(t, sum.Processed)
	assert.Zero(t, sum.TotalPaid)
	assert.Empty(t, f.pub.settled)
}

func TestResolveEvent_InactiveEventCanBeResolved(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InTx(context.Background(), func(tx repo.Tx) error {
		return tx.SetEventStatus(context.Background(), "battle", repo.EventInactive, now)
	}))

	_, err := f.engine.ResolveEvent(context.Background(), "battle", "win")
	require.NoError(t, err)
}

// settleFailStore falha a N-ésima liquidação de aposta dentro da transação
type settleFailStore struct {
	*repo.Memory
	failAt int
}

func (s *settleFailStore) InTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	calls := 0
	return s.Memory.InTx(ctx, func(tx repo.Tx) error {
		return fn(&settleFailTx{Tx: tx, calls: &calls, failAt: s.failAt})
	})
}

type settleFailTx struct {
	repo.Tx
	calls  *int
	failAt int
}

func (t *settleFailTx) SettleBet(ctx context.Context, id string, status repo.BetStatus, winnings int64, at time.Time) error {
	*t.calls++
	if *t.calls == t.failAt {
		return errors.New("connection reset by peer")
	}
	return t.Tx.SettleBet(ctx, id, status, winnings, at)
}

func TestResolveEvent_FailureMidwayRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	first, firstBet := f.bet(t, "first", "win", 100)
	second, _ := f.bet(t, "second", "win", 200)
	_, _ = f.bet(t, "third", "lose", 50)

	failing := &settleFailStore{Memory: f.store, failAt: 2}
	l := ledger.New(nil, failing, nil, 1000, 10000)
	eng := NewEngine(nil, failing, l, f.pub, nil)
	eng.Now = func() time.Time { return now }

	_, err := eng.ResolveEvent(context.Background(), "battle", "win")
	require.ErrorIs(t, err, errs.Storage)

	// o primeiro vencedor já tinha sido creditado dentro da transação: nada pode sobrar
	assert.Equal(t, int64(900), f.account(t, first).Balance)
	assert.Equal(t, int64(800), f.account(t, second).Balance)
	activity, err := f.ledger.RecentActivity(context.Background(), first, 100)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, ledger.ReasonBetPlaced, activity[0].Reason)

	bets, err := f.store.BetsByAccount(context.Background(), first, 10)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, firstBet, bets[0].ID)
	assert.Equal(t, repo.BetActive, bets[0].Status)
	assert.Zero(t, bets[0].ActualWinnings)
	assert.Equal(t, repo.EventActive, bets[0].EventStatus)

	require.NoError(t, f.store.InTx(context.Background(), func(tx repo.Tx) error {
		ev, err := tx.GetEvent(context.Background(), "battle", repo.NoLock)
		require.NoError(t, err)
		assert.Equal(t, repo.EventActive, ev.Status)
		assert.Empty(t, ev.WinningOptionID)
		return nil
	}))
	assert.Empty(t, f.pub.resolved)
	assert.Empty(t, f.pub.settled)

	// sem a falha, a mesma resolução passa e paga os dois vencedores
	sum, err := f.engine.ResolveEvent(context.Background(), "battle", "win")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, int64(750), sum.TotalPaid)
	assert.Equal(t, int64(1150), f.account(t, first).Balance)
}
