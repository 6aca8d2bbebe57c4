package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/radieske/rapmarket-wager-platform/internal/shared/db"
)

// Nomes das constraints do schema (deploy/postgres/init.sql)
const (
	constraintUsername     = "accounts_username_key"
	constraintBalance      = "accounts_balance_check"
	constraintOneActiveBet = "bets_one_active_per_event"
	constraintBetEvent     = "bets_event_id_fkey"
)

// Postgres implementa o Store em banco Postgres
// Transações em READ COMMITTED + locks de linha (FOR SHARE / FOR UPDATE)
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// InTx abre a transação, executa fn e commita; qualquer erro desfaz tudo
func (p *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func lockClause(m LockMode) string {
	switch m {
	case LockShare:
		return " FOR SHARE"
	case LockUpdate:
		return " FOR UPDATE"
	default:
		return ""
	}
}

type pgTx struct{ tx *sql.Tx }

// ---------- contas ----------

func (t *pgTx) InsertAccount(ctx context.Context, a *Account) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO accounts (id, username, balance, starting_balance, is_active, is_admin)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		a.ID, a.Username, a.Balance, a.StartingBalance, a.IsActive, a.IsAdmin,
	).Scan(&a.CreatedAt)
	if db.IsUniqueViolation(err, constraintUsername) {
		return ErrUsernameTaken
	}
	return err
}

func (t *pgTx) GetAccount(ctx context.Context, id string, lock LockMode) (Account, error) {
	var a Account
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, username, balance, starting_balance, is_active, is_admin, created_at
		FROM accounts WHERE id = $1`+lockClause(lock), id,
	).Scan(&a.ID, &a.Username, &a.Balance, &a.StartingBalance, &a.IsActive, &a.IsAdmin, &a.CreatedAt)
	if missing(err) {
		return Account{}, ErrNotFound
	}
	return a, err
}

// AddBalance aplica delta relativo; nunca sobrescreve o saldo com valor absoluto
func (t *pgTx) AddBalance(ctx context.Context, id string, delta int64) (int64, error) {
	var bal int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance`, delta, id,
	).Scan(&bal)
	switch {
	case missing(err):
		return 0, ErrNotFound
	case db.IsCheckViolation(err, constraintBalance):
		return 0, ErrNegativeBalance
	case db.IsOutOfRange(err):
		return 0, ErrBalanceOverflow
	}
	return bal, err
}

func (t *pgTx) SetAccountActive(ctx context.Context, id string, active bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE accounts SET is_active = $1 WHERE id = $2`, active, id)
	if missing(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (t *pgTx) SetAccountAdmin(ctx context.Context, id string, admin bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE accounts SET is_admin = $1 WHERE id = $2`, admin, id)
	if missing(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// ---------- ledger ----------

func (t *pgTx) AppendLedger(ctx context.Context, e *LedgerEntry) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (account_id, delta, reason, reference_type, reference_id, balance_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		e.AccountID, e.Delta, e.Reason, nullString(e.ReferenceType), nullString(e.ReferenceID), e.BalanceAfter, e.CreatedAt,
	).Scan(&e.ID)
}

func (t *pgTx) LedgerSum(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE account_id = $1`, accountID,
	).Scan(&sum)
	return sum, err
}

// ---------- eventos ----------

// InsertEvent grava evento e opções na mesma transação
func (t *pgTx) InsertEvent(ctx context.Context, e *Event) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (id, title, description, category, start_time, end_time, min_stake, max_stake, status, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`,
		e.ID, e.Title, e.Description, e.Category, e.StartTime, e.EndTime, e.MinStake, e.MaxStake,
		string(e.Status), nullString(e.CreatedBy), e.CreatedAt,
	); err != nil {
		return err
	}

	for _, o := range e.Options {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO event_options (id, event_id, label, odds, position)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, e.ID, o.Label, o.Odds, o.Position,
		); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) GetEvent(ctx context.Context, id string, lock LockMode) (Event, error) {
	e, err := scanEvent(t.tx.QueryRowContext(ctx, selectEvent+` WHERE e.id = $1`+lockClause(lock), id))
	if missing(err) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, err
	}

	opts, err := loadOptions(ctx, t.tx, []string{id})
	if err != nil {
		return Event{}, err
	}
	e.Options = opts[id]
	return e, nil
}

func (t *pgTx) SetEventStatus(ctx context.Context, id string, status EventStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE events SET status = $1, updated_at = $2 WHERE id = $3`, string(status), at, id)
	if missing(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (t *pgTx) MarkEventResolved(ctx context.Context, id, winningOptionID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE events SET status = $1, winning_option_id = $2, resolved_at = $3, updated_at = $3
		WHERE id = $4`, string(EventResolved), winningOptionID, at, id)
	if err != nil {
		return err
	}
	if err := mustAffect(res); err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`UPDATE event_options SET is_winning = (id = $1) WHERE event_id = $2`, winningOptionID, id)
	return err
}

func (t *pgTx) DeleteEvent(ctx context.Context, id string) error {
	// event_options sai junto via ON DELETE CASCADE
	res, err := t.tx.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err, constraintBetEvent) {
		return ErrEventReferenced
	}
	if missing(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (t *pgTx) CountBets(ctx context.Context, eventID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bets WHERE event_id = $1`, eventID).Scan(&n)
	return n, err
}

// ---------- apostas ----------

func (t *pgTx) HasActiveBet(ctx context.Context, accountID, eventID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM bets WHERE account_id = $1 AND event_id = $2 AND status = $3)`,
		accountID, eventID, string(BetActive),
	).Scan(&exists)
	return exists, err
}

// InsertBet depende do índice único parcial para barrar aposta dupla concorrente
func (t *pgTx) InsertBet(ctx context.Context, b *Bet) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bets (id, account_id, event_id, option_id, amount, odds, potential_payout, status, placed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.AccountID, b.EventID, b.OptionID, b.Amount, b.Odds, b.PotentialPayout, string(b.Status), b.PlacedAt,
	)
	if db.IsUniqueViolation(err, constraintOneActiveBet) {
		return ErrDuplicateActiveBet
	}
	return err
}

// ActiveBetsForEvent trava as apostas ativas do evento para liquidação
func (t *pgTx) ActiveBetsForEvent(ctx context.Context, eventID string) ([]Bet, error) {
	rows, err := t.tx.QueryContext(ctx, selectBet+`
		WHERE b.event_id = $1 AND b.status = $2
		ORDER BY b.placed_at, b.id
		FOR UPDATE`, eventID, string(BetActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) SettleBet(ctx context.Context, id string, status BetStatus, winnings int64, at time.Time) error {
	var w sql.NullInt64
	if status == BetWon {
		w = sql.NullInt64{Int64: winnings, Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bets SET status = $1, actual_winnings = $2, resolved_at = $3
		WHERE id = $4 AND status = $5`, string(status), w, at, id, string(BetActive))
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// ---------- leituras fora de transação ----------

func (p *Postgres) ListEvents(ctx context.Context, f EventFilter) ([]EventWithStats, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT e.id, e.title, e.description, e.category, e.start_time, e.end_time, e.min_stake, e.max_stake,
		       e.status, e.winning_option_id, e.created_by, e.created_at, e.updated_at, e.resolved_at,
		       COALESCE(s.bet_count, 0), COALESCE(s.total_staked, 0)
		FROM events e
		LEFT JOIN (
			SELECT event_id, COUNT(*) AS bet_count, SUM(amount) AS total_staked
			FROM bets GROUP BY event_id
		) s ON s.event_id = e.id
		WHERE ($1 = '' OR e.status = $1)
		  AND ($2 = '' OR e.category = $2)
		ORDER BY e.start_time ASC, e.created_at DESC
		LIMIT $3`, string(f.Status), f.Category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventWithStats
	var ids []string
	for rows.Next() {
		var ev EventWithStats
		var winning, createdBy sql.NullString
		var resolvedAt sql.NullTime
		var status string
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.Category, &ev.StartTime, &ev.EndTime,
			&ev.MinStake, &ev.MaxStake, &status, &winning, &createdBy, &ev.CreatedAt, &ev.UpdatedAt, &resolvedAt,
			&ev.BetCount, &ev.TotalStaked); err != nil {
			return nil, err
		}
		ev.Status = EventStatus(status)
		ev.WinningOptionID = winning.String
		ev.CreatedBy = createdBy.String
		if resolvedAt.Valid {
			t := resolvedAt.Time
			ev.ResolvedAt = &t
		}
		out = append(out, ev)
		ids = append(ids, ev.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	opts, err := loadOptions(ctx, p.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Options = opts[out[i].ID]
	}
	return out, nil
}

func (p *Postgres) ListAccounts(ctx context.Context, activeOnly bool, limit, offset int) ([]Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, username, balance, starting_balance, is_active, is_admin, created_at
		FROM accounts
		WHERE ($1 = FALSE OR is_active)
		ORDER BY balance DESC, created_at ASC
		LIMIT $2 OFFSET $3`, activeOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Username, &a.Balance, &a.StartingBalance, &a.IsActive, &a.IsAdmin, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) BetsByAccount(ctx context.Context, accountID string, limit int) ([]BetView, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT b.id, b.account_id, b.event_id, b.option_id, b.amount, b.odds, b.potential_payout,
		       b.actual_winnings, b.status, b.placed_at, b.resolved_at,
		       e.title, e.status, o.label
		FROM bets b
		JOIN events e ON e.id = b.event_id
		JOIN event_options o ON o.id = b.option_id
		WHERE b.account_id = $1
		ORDER BY b.placed_at DESC
		LIMIT $2`, accountID, limit)
	if db.IsInvalidText(err) {
		return nil, nil // id fora do formato não tem apostas
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BetView
	for rows.Next() {
		var v BetView
		var winnings sql.NullInt64
		var resolvedAt sql.NullTime
		var status, evStatus string
		if err := rows.Scan(&v.ID, &v.AccountID, &v.EventID, &v.OptionID, &v.Amount, &v.Odds, &v.PotentialPayout,
			&winnings, &status, &v.PlacedAt, &resolvedAt, &v.EventTitle, &evStatus, &v.OptionLabel); err != nil {
			return nil, err
		}
		v.Status = BetStatus(status)
		v.EventStatus = EventStatus(evStatus)
		v.ActualWinnings = winnings.Int64
		if resolvedAt.Valid {
			t := resolvedAt.Time
			v.ResolvedAt = &t
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) LedgerByAccount(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, delta, reason, reference_type, reference_id, balance_after, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2`, accountID, limit)
	if db.IsInvalidText(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var refType, refID sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason, &refType, &refID, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ReferenceType = refType.String
		e.ReferenceID = refID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Mismatches devolve as contas cujo saldo não bate com saldo inicial + soma do ledger
func (p *Postgres) Mismatches(ctx context.Context) ([]Reconciliation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.starting_balance, COALESCE(SUM(l.delta), 0) AS ledger_sum, a.balance
		FROM accounts a
		LEFT JOIN ledger_entries l ON l.account_id = a.id
		GROUP BY a.id, a.starting_balance, a.balance
		HAVING a.starting_balance + COALESCE(SUM(l.delta), 0) <> a.balance
		ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reconciliation
	for rows.Next() {
		var r Reconciliation
		if err := rows.Scan(&r.AccountID, &r.StartingBalance, &r.LedgerSum, &r.Balance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) MonthlyStats(ctx context.Context, since time.Time, limit, offset int) ([]MonthlyStat, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.username, a.balance,
		       COUNT(b.id) AS monthly_bets,
		       COUNT(*) FILTER (WHERE b.status = 'WON') AS wins,
		       COALESCE(SUM(b.actual_winnings) FILTER (WHERE b.status = 'WON'), 0) AS winnings,
		       COALESCE(SUM(b.amount), 0) AS wagered
		FROM accounts a
		JOIN bets b ON b.account_id = a.id AND b.placed_at >= $1
		WHERE a.is_active
		GROUP BY a.id, a.username, a.balance
		ORDER BY winnings DESC, a.balance DESC, a.id
		LIMIT $2 OFFSET $3`, since, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthlyStat
	for rows.Next() {
		var m MonthlyStat
		if err := rows.Scan(&m.AccountID, &m.Username, &m.Balance, &m.Bets, &m.Wins, &m.Winnings, &m.Wagered); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) WonBets(ctx context.Context) ([]Bet, error) {
	rows, err := p.db.QueryContext(ctx, selectBet+`
		WHERE b.status = $1
		ORDER BY b.resolved_at, b.id`, string(BetWon))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---------- helpers ----------

const selectEvent = `
	SELECT e.id, e.title, e.description, e.category, e.start_time, e.end_time, e.min_stake, e.max_stake,
	       e.status, e.winning_option_id, e.created_by, e.created_at, e.updated_at, e.resolved_at
	FROM events e`

const selectBet = `
	SELECT b.id, b.account_id, b.event_id, b.option_id, b.amount, b.odds, b.potential_payout,
	       b.actual_winnings, b.status, b.placed_at, b.resolved_at
	FROM bets b`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanEvent(r rowScanner) (Event, error) {
	var e Event
	var winning, createdBy sql.NullString
	var resolvedAt sql.NullTime
	var status string
	if err := r.Scan(&e.ID, &e.Title, &e.Description, &e.Category, &e.StartTime, &e.EndTime, &e.MinStake, &e.MaxStake,
		&status, &winning, &createdBy, &e.CreatedAt, &e.UpdatedAt, &resolvedAt); err != nil {
		return Event{}, err
	}
	e.Status = EventStatus(status)
	e.WinningOptionID = winning.String
	e.CreatedBy = createdBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return e, nil
}

func scanBet(r rowScanner) (Bet, error) {
	var b Bet
	var winnings sql.NullInt64
	var resolvedAt sql.NullTime
	var status string
	if err := r.Scan(&b.ID, &b.AccountID, &b.EventID, &b.OptionID, &b.Amount, &b.Odds, &b.PotentialPayout,
		&winnings, &status, &b.PlacedAt, &resolvedAt); err != nil {
		return Bet{}, err
	}
	b.Status = BetStatus(status)
	b.ActualWinnings = winnings.Int64
	if resolvedAt.Valid {
		t := resolvedAt.Time
		b.ResolvedAt = &t
	}
	return b, nil
}

// loadOptions carrega as opções de vários eventos de uma vez, na ordem de criação
func loadOptions(ctx context.Context, q queryer, eventIDs []string) (map[string][]Option, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, event_id, label, odds, position, is_winning
		FROM event_options
		WHERE event_id = ANY($1)
		ORDER BY event_id, position`, pq.Array(eventIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Option, len(eventIDs))
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.ID, &o.EventID, &o.Label, &o.Odds, &o.Position, &o.IsWinning); err != nil {
			return nil, err
		}
		out[o.EventID] = append(out[o.EventID], o)
	}
	return out, rows.Err()
}

// missing trata "sem linha" e id que não é UUID (22P02) como registro inexistente
func missing(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || db.IsInvalidText(err)
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
