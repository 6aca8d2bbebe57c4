package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/errs"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
)

func newLedger(t *testing.T) (*Ledger, *repo.Memory) {
	t.Helper()
	store := repo.NewMemory()
	return New(nil, store, nil, 1000, 10000), store
}

func TestRegister_StartingBalances(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	user, err := l.Register(ctx, "lil_mc", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), user.Balance)
	assert.Equal(t, int64(1000), user.StartingBalance)
	assert.True(t, user.IsActive)

	admin, err := l.Register(ctx, "boss", true)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), admin.Balance)
	assert.True(t, admin.IsAdmin)

	_, err = l.Register(ctx, "lil_mc", false)
	require.ErrorIs(t, err, errs.Validation)
	assert.Equal(t, "username", err.(*errs.Error).Field)

	// saldo inicial não gera lançamento
	entries, err := l.RecentActivity(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDebit_NeverGoesNegative(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	acc, err := l.Register(ctx, "mc_a", false)
	require.NoError(t, err)

	bal, err := l.DebitAccount(ctx, acc.ID, 400, ReasonAdminDebit, Ref{Type: RefAdmin})
	require.NoError(t, err)
	assert.Equal(t, int64(600), bal)

	_, err = l.DebitAccount(ctx, acc.ID, 601, ReasonAdminDebit, Ref{Type: RefAdmin})
	require.ErrorIs(t, err, errs.InsufficientFunds)

	got, err := l.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), got.Balance)

	bal, err = l.DebitAccount(ctx, acc.ID, 600, ReasonAdminDebit, Ref{Type: RefAdmin})
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestCreditDebit_RejectNonPositive(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	acc, err := l.Register(ctx, "mc_b", false)
	require.NoError(t, err)

	_, err = l.CreditAccount(ctx, acc.ID, 0, ReasonAdminCredit, Ref{Type: RefAdmin})
	require.ErrorIs(t, err, errs.Validation)
	_, err = l.DebitAccount(ctx, acc.ID, -5, ReasonAdminDebit, Ref{Type: RefAdmin})
	require.ErrorIs(t, err, errs.Validation)
}

func TestCredit_UnknownAccount(t *testing.T) {
	l, _ := newLedger(t)

	_, err := l.CreditAccount(context.Background(), "missing", 10, ReasonAdminCredit, Ref{Type: RefAdmin})
	require.ErrorIs(t, err, errs.AccountNotFound)
}

func TestRecentActivity_NewestFirstWithBalanceAfter(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	acc, err := l.Register(ctx, "mc_c", false)
	require.NoError(t, err)

	_, err = l.DebitAccount(ctx, acc.ID, 100, ReasonBetPlaced, Ref{Type: RefBet, ID: "bet-1"})
	require.NoError(t, err)
	_, err = l.CreditAccount(ctx, acc.ID, 250, ReasonBetWon, Ref{Type: RefBet, ID: "bet-1"})
	require.NoError(t, err)

	entries, err := l.RecentActivity(ctx, acc.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, int64(250), entries[0].Delta)
	assert.Equal(t, ReasonBetWon, entries[0].Reason)
	assert.Equal(t, int64(1150), entries[0].BalanceAfter)
	assert.Equal(t, int64(-100), entries[1].Delta)
	assert.Equal(t, "bet-1", entries[1].ReferenceID)
	assert.Equal(t, int64(900), entries[1].BalanceAfter)

	entries, err = l.RecentActivity(ctx, acc.ID, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = l.RecentActivity(ctx, "missing", 10)
	require.ErrorIs(t, err, errs.AccountNotFound)
}

func TestReconcile_HoldsAfterMovements(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	acc, err := l.Register(ctx, "mc_d", false)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = l.DebitAccount(ctx, acc.ID, 50, ReasonBetPlaced, Ref{Type: RefBet})
		require.NoError(t, err)
	}
	_, err = l.CreditAccount(ctx, acc.ID, 75, ReasonBetWon, Ref{Type: RefBet})
	require.NoError(t, err)
	_, err = l.DebitAccount(ctx, acc.ID, 5000, ReasonAdminDebit, Ref{Type: RefAdmin})
	require.Error(t, err)

	rec, err := l.Reconcile(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, rec.OK())
	assert.Equal(t, int64(-175), rec.LedgerSum)
	assert.Equal(t, int64(825), rec.Balance)

	mismatches, err := l.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestReconcile_UnknownAccount(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.Reconcile(context.Background(), "nope")
	require.ErrorIs(t, err, errs.AccountNotFound)
}

func TestSetActive(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	acc, err := l.Register(ctx, "mc_e", false)
	require.NoError(t, err)

	got, err := l.SetActive(ctx, acc.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := l.ListAccounts(ctx, true, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := l.ListAccounts(ctx, false, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0))
	assert.Equal(t, 20, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, 100, clampLimit(1000))
}

func TestCredit_OverflowRejected(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	acc, err := l.Register(ctx, "mc_max", false)
	require.NoError(t, err)

	_, err = l.CreditAccount(ctx, acc.ID, math.MaxInt64, ReasonAdminCredit, Ref{Type: RefAdmin})
	require.ErrorIs(t, err, errs.Validation)
	assert.Equal(t, "amount", err.(*errs.Error).Field)

	got, err := l.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)
	entries, err := l.RecentActivity(ctx, acc.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegister_UsernameFormat(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	for _, name := range []string{"ab", "a!b", "has space", "abcdefghijklmnopqrstu"} {
		_, err := l.Register(ctx, name, true)
		require.ErrorIs(t, err, errs.Validation, name)
		assert.Equal(t, "username", err.(*errs.Error).Field)
	}

	acc, err := l.Register(ctx, "  Mc_Fitti_3  ", false)
	require.NoError(t, err)
	assert.Equal(t, "Mc_Fitti_3", acc.Username)

	assert.True(t, ValidUsername("abc"))
	assert.False(t, ValidUsername("ümlaut"))
}

func TestSetAdmin(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	root, err := l.Register(ctx, "root", true)
	require.NoError(t, err)
	user, err := l.Register(ctx, "helper", false)
	require.NoError(t, err)

	got, err := l.SetAdmin(ctx, root.ID, user.ID, true)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)

	// o novo admin pode revogar outro admin, mas não a si mesmo
	_, err = l.SetAdmin(ctx, user.ID, user.ID, false)
	require.ErrorIs(t, err, errs.InvalidTransition)

	got, err = l.SetAdmin(ctx, user.ID, root.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsAdmin)

	stored, err := l.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsAdmin)

	// conceder a si mesmo não é revogação
	_, err = l.SetAdmin(ctx, user.ID, user.ID, true)
	require.NoError(t, err)

	_, err = l.SetAdmin(ctx, root.ID, "missing", true)
	require.ErrorIs(t, err, errs.AccountNotFound)
}
