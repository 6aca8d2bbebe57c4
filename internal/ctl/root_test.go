package ctl

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/errs"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/ledger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

func run(t *testing.T, l *ledger.Ledger, args ...string) (string, error) {
	t.Helper()
	return runEnv(t, &Env{Ledger: l, Close: func() {}}, args...)
}

func runEnv(t *testing.T, env *Env, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(func(context.Context) (*Env, error) { return env, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBootstrapAdmin(t *testing.T) {
	l := ledger.New(nil, repo.NewMemory(), nil, 1000, 10000)

	out, err := run(t, l, "bootstrap-admin", "chef")
	require.NoError(t, err)
	assert.Contains(t, out, "admin chef created")
	assert.Contains(t, out, "balance=10000")

	_, err = run(t, l, "bootstrap-admin", "chef")
	require.ErrorIs(t, err, errs.Validation)

	_, err = run(t, l, "bootstrap-admin")
	require.Error(t, err)
}

func TestBootstrapAdmin_UsernameFormat(t *testing.T) {
	l := ledger.New(nil, repo.NewMemory(), nil, 1000, 10000)

	for _, name := range []string{"a!", "x", "with space", "way_too_long_for_a_username"} {
		_, err := run(t, l, "bootstrap-admin", name)
		require.ErrorIs(t, err, errs.Validation, name)
	}
	accs, err := l.ListAccounts(context.Background(), false, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, accs)
}

type captureBoard struct{ won []events.BetSettled }

func (c *captureBoard) Rebuild(_ context.Context, won []events.BetSettled) (int, error) {
	c.won = won
	accounts := map[string]bool{}
	for _, s := range won {
		accounts[s.AccountID] = true
	}
	return len(accounts), nil
}

func TestRebuildLeaderboard(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	resolved := time.Date(2026, 9, 30, 21, 0, 0, 0, time.UTC)
	require.NoError(t, store.InTx(ctx, func(tx repo.Tx) error {
		require.NoError(t, tx.InsertEvent(ctx, &repo.Event{ID: "e1", Status: repo.EventResolved}))
		require.NoError(t, tx.InsertEvent(ctx, &repo.Event{ID: "e2", Status: repo.EventResolved}))
		for _, b := range []repo.Bet{
			{ID: "b1", AccountID: "a1", EventID: "e1", Amount: 100, Status: repo.BetActive},
			{ID: "b2", AccountID: "a2", EventID: "e1", Amount: 50, Status: repo.BetActive},
			{ID: "b3", AccountID: "a1", EventID: "e2", Amount: 10, Status: repo.BetActive},
		} {
			b := b
			require.NoError(t, tx.InsertBet(ctx, &b))
		}
		require.NoError(t, tx.SettleBet(ctx, "b1", repo.BetWon, 250, resolved))
		require.NoError(t, tx.SettleBet(ctx, "b2", repo.BetLost, 0, resolved))
		return tx.SettleBet(ctx, "b3", repo.BetWon, 30, resolved)
	}))

	board := &captureBoard{}
	env := &Env{Ledger: ledger.New(nil, store, nil, 1000, 10000), Store: store, Board: board, Close: func() {}}
	out, err := runEnv(t, env, "rebuild-leaderboard")
	require.NoError(t, err)
	assert.Contains(t, out, "2 winning bets across 1 accounts")

	require.Len(t, board.won, 2)
	assert.Equal(t, events.BetSettled{BetID: "b1", AccountID: "a1", EventID: "e1", Status: "WON", Amount: 100, Winnings: 250, Ts: resolved}, board.won[0])
	assert.Equal(t, int64(30), board.won[1].Winnings)

	env.Board = nil
	_, err = runEnv(t, env, "rebuild-leaderboard")
	require.ErrorIs(t, err, ErrNoBoard)
}

func TestReconcile(t *testing.T) {
	l := ledger.New(nil, repo.NewMemory(), nil, 1000, 10000)
	acc, err := l.Register(context.Background(), "mc_one", false)
	require.NoError(t, err)
	_, err = l.DebitAccount(context.Background(), acc.ID, 300, ledger.ReasonAdminDebit, ledger.Ref{Type: ledger.RefAdmin})
	require.NoError(t, err)

	out, err := run(t, l, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "all accounts reconcile")

	out, err = run(t, l, "reconcile", "--account", acc.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "ledger=-300 balance=700 ok=true")

	_, err = run(t, l, "reconcile", "--account", "missing")
	require.ErrorIs(t, err, errs.AccountNotFound)
}

func TestReconcile_ReportsMismatch(t *testing.T) {
	store := repo.NewMemory()
	l := ledger.New(nil, store, nil, 1000, 10000)
	acc, err := l.Register(context.Background(), "drift", false)
	require.NoError(t, err)

	// saldo alterado por fora do ledger
	require.NoError(t, store.InTx(context.Background(), func(tx repo.Tx) error {
		_, err := tx.AddBalance(context.Background(), acc.ID, 50)
		return err
	}))

	out, err := run(t, l, "reconcile")
	require.ErrorIs(t, err, ErrMismatch)
	assert.Contains(t, out, "MISMATCH "+acc.ID)
	assert.Contains(t, out, "diff=50")

	_, err = run(t, l, "reconcile", "--account", acc.ID)
	require.ErrorIs(t, err, ErrMismatch)
}
