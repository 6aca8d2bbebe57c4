package repo

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrDuplicateActiveBet = errors.New("active bet already exists for account and event")
	ErrNegativeBalance    = errors.New("balance would become negative")
	ErrBalanceOverflow    = errors.New("balance would exceed int64 range")
	ErrEventReferenced    = errors.New("event is referenced by bets")
)

// LockMode define o lock de linha tomado na leitura dentro da transação
type LockMode int

const (
	NoLock     LockMode = iota
	LockShare           // FOR SHARE: impede resolução/toggle concorrente do evento
	LockUpdate          // FOR UPDATE: leitura para escrita
)

// Tx é a unidade atômica: tudo que passa por ela commita junto ou nada
type Tx interface {
	// contas
	InsertAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string, lock LockMode) (Account, error)
	AddBalance(ctx context.Context, id string, delta int64) (newBalance int64, err error)
	SetAccountActive(ctx context.Context, id string, active bool) error
	SetAccountAdmin(ctx context.Context, id string, admin bool) error

	// log de transações (append-only)
	AppendLedger(ctx context.Context, e *LedgerEntry) error
	LedgerSum(ctx context.Context, accountID string) (int64, error)

	// eventos
	InsertEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, id string, lock LockMode) (Event, error)
	SetEventStatus(ctx context.Context, id string, status EventStatus, at time.Time) error
	MarkEventResolved(ctx context.Context, id, winningOptionID string, at time.Time) error
	DeleteEvent(ctx context.Context, id string) error
	CountBets(ctx context.Context, eventID string) (int, error)

	// apostas
	HasActiveBet(ctx context.Context, accountID, eventID string) (bool, error)
	InsertBet(ctx context.Context, b *Bet) error
	ActiveBetsForEvent(ctx context.Context, eventID string) ([]Bet, error)
	SettleBet(ctx context.Context, id string, status BetStatus, winnings int64, at time.Time) error
}

// Store é o acesso ao armazenamento: transações + consultas de leitura
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	ListEvents(ctx context.Context, f EventFilter) ([]EventWithStats, error)
	ListAccounts(ctx context.Context, activeOnly bool, limit, offset int) ([]Account, error)
	BetsByAccount(ctx context.Context, accountID string, limit int) ([]BetView, error)
	LedgerByAccount(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)
	Mismatches(ctx context.Context) ([]Reconciliation, error)
	// MonthlyStats agrega apostas feitas desde since por conta ativa (só quem apostou)
	MonthlyStats(ctx context.Context, since time.Time, limit, offset int) ([]MonthlyStat, error)
	// WonBets lista todas as apostas vencedoras, base para reconstruir os rankings
	WonBets(ctx context.Context) ([]Bet, error)

	Ping(ctx context.Context) error
}
