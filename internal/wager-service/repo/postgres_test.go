package repo

import (
	"context"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgres(db), mock
}

func TestInTx_RollsBackOnError(t *testing.T) {
	p, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := p.InTx(context.Background(), func(Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestAddBalance_CheckViolationMeansNegative(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance`)).
		WithArgs(int64(-50), "acc-1").
		WillReturnError(&pq.Error{Code: "23514", Constraint: "accounts_balance_check"})
	mock.ExpectRollback()

	err := p.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.AddBalance(context.Background(), "acc-1", -50)
		return err
	})
	assert.ErrorIs(t, err, ErrNegativeBalance)
}

func TestDebitWithLedgerEntry_Commits(t *testing.T) {
	p, mock := newMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE id = $1 FOR UPDATE`)).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "balance", "starting_balance", "is_active", "is_admin", "created_at"}).
			AddRow("acc-1", "sido", int64(1000), int64(1000), true, false, created))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE accounts SET balance = balance + $1`)).
		WithArgs(int64(-100), "acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(900)))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO ledger_entries`)).
		WithArgs("acc-1", int64(-100), "bet_placed", "bet", "bet-1", int64(900), created).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	var entry LedgerEntry
	err := p.InTx(context.Background(), func(tx Tx) error {
		acc, err := tx.GetAccount(context.Background(), "acc-1", LockUpdate)
		if err != nil {
			return err
		}
		bal, err := tx.AddBalance(context.Background(), acc.ID, -100)
		if err != nil {
			return err
		}
		entry = LedgerEntry{AccountID: acc.ID, Delta: -100, Reason: "bet_placed", ReferenceType: "bet",
			ReferenceID: "bet-1", BalanceAfter: bal, CreatedAt: created}
		return tx.AppendLedger(context.Background(), &entry)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), entry.ID)
}

func TestGetAccount_NotFound(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE id = $1 FOR SHARE`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := p.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.GetAccount(context.Background(), "ghost", LockShare)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertBet_UniqueIndexMeansDuplicate(t *testing.T) {
	p, mock := newMock(t)
	placed := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bets`)).
		WithArgs("bet-1", "acc-1", "evt-1", "opt-1", int64(100), sqlmock.AnyArg(), int64(250), "ACTIVE", placed).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "bets_one_active_per_event"})
	mock.ExpectRollback()

	err := p.InTx(context.Background(), func(tx Tx) error {
		return tx.InsertBet(context.Background(), &Bet{
			ID: "bet-1", AccountID: "acc-1", EventID: "evt-1", OptionID: "opt-1", Amount: 100,
			Odds: decimal.RequireFromString("2.50"), PotentialPayout: 250, Status: BetActive, PlacedAt: placed,
		})
	})
	assert.ErrorIs(t, err, ErrDuplicateActiveBet)
}

func TestInsertAccount_UsernameTaken(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO accounts`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_username_key"})
	mock.ExpectRollback()

	err := p.InTx(context.Background(), func(tx Tx) error {
		return tx.InsertAccount(context.Background(), &Account{ID: "a", Username: "taken", Balance: 1000, StartingBalance: 1000, IsActive: true})
	})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestGetEvent_LoadsOptions(t *testing.T) {
	p, mock := newMock(t)
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE e.id = $1 FOR SHARE`)).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "description", "category", "start_time", "end_time",
			"min_stake", "max_stake", "status", "winning_option_id", "created_by", "created_at", "updated_at", "resolved_at"}).
			AddRow("evt-1", "Battle", "desc", "battle", ts, ts.Add(time.Hour), int64(10), int64(1000), "ACTIVE", nil, nil, ts, ts, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM event_options`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "label", "odds", "position", "is_winning"}).
			AddRow("o1", "evt-1", "Bonez MC", "1.75", 0, false).
			AddRow("o2", "evt-1", "RAF Camora", "2.10", 1, false))
	mock.ExpectCommit()

	var ev Event
	err := p.InTx(context.Background(), func(tx Tx) error {
		var err error
		ev, err = tx.GetEvent(context.Background(), "evt-1", LockShare)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, EventActive, ev.Status)
	assert.Empty(t, ev.WinningOptionID)
	assert.Nil(t, ev.ResolvedAt)
	require.Len(t, ev.Options, 2)
	assert.True(t, ev.Options[0].Odds.Equal(decimal.RequireFromString("1.75")))
}

func TestSettleBet_OnlyActiveRows(t *testing.T) {
	p, mock := newMock(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bets SET status = $1, actual_winnings = $2, resolved_at = $3`)).
		WithArgs("LOST", nil, at, "bet-1", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := p.InTx(context.Background(), func(tx Tx) error {
		return tx.SettleBet(context.Background(), "bet-1", BetLost, 0, at)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMismatches(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`HAVING a.starting_balance + COALESCE(SUM(l.delta), 0) <> a.balance`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "starting_balance", "ledger_sum", "balance"}).
			AddRow("acc-9", int64(1000), int64(-100), int64(1000)))

	out, err := p.Mismatches(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].OK())
}

func TestMalformedID_MeansNotFound(t *testing.T) {
	p, mock := newMock(t)
	invalid := &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE e.id = $1 FOR SHARE`)).
		WithArgs("not-a-uuid").
		WillReturnError(invalid)
	mock.ExpectRollback()
	err := p.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.GetEvent(context.Background(), "not-a-uuid", LockShare)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE id = $1`)).
		WithArgs("not-a-uuid").
		WillReturnError(invalid)
	mock.ExpectRollback()
	err = p.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.GetAccount(context.Background(), "not-a-uuid", NoLock)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE accounts SET is_admin = $1 WHERE id = $2`)).
		WithArgs(true, "not-a-uuid").
		WillReturnError(invalid)
	mock.ExpectRollback()
	err = p.InTx(context.Background(), func(tx Tx) error {
		return tx.SetAccountAdmin(context.Background(), "not-a-uuid", true)
	})
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE b.account_id = $1`)).
		WithArgs("not-a-uuid", 10).
		WillReturnError(invalid)
	bets, err := p.BetsByAccount(context.Background(), "not-a-uuid", 10)
	require.NoError(t, err)
	assert.Empty(t, bets)
}

func TestAddBalance_OutOfRangeMeansOverflow(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance`)).
		WithArgs(int64(math.MaxInt64), "acc-1").
		WillReturnError(&pq.Error{Code: "22003", Message: "bigint out of range"})
	mock.ExpectRollback()

	err := p.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.AddBalance(context.Background(), "acc-1", math.MaxInt64)
		return err
	})
	assert.ErrorIs(t, err, ErrBalanceOverflow)
}

func TestMonthlyStats(t *testing.T) {
	p, mock := newMock(t)
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`JOIN bets b ON b.account_id = a.id AND b.placed_at >= $1`)).
		WithArgs(since, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "balance", "monthly_bets", "wins", "winnings", "wagered"}).
			AddRow("acc-1", "alpha", int64(1100), 3, 1, int64(250), int64(300)))

	out, err := p.MonthlyStats(context.Background(), since, 50, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, MonthlyStat{AccountID: "acc-1", Username: "alpha", Balance: 1100, Bets: 3, Wins: 1, Winnings: 250, Wagered: 300}, out[0])
}
