package ledger

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/errs"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/metrics"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
)

// Motivos gravados no log de transações
const (
	ReasonBetPlaced   = "bet_placed"
	ReasonBetWon      = "bet_won"
	ReasonAdminCredit = "admin_credit"
	ReasonAdminDebit  = "admin_debit"
)

// Tipos de referência
const (
	RefBet   = "bet"
	RefAdmin = "admin"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// ValidUsername: 3 a 20 caracteres entre letras, dígitos e _
func ValidUsername(username string) bool {
	return usernameRe.MatchString(username)
}

// Ref aponta a origem de um lançamento (ex.: aposta X)
type Ref struct {
	Type string
	ID   string
}

// Ledger é o Account Store: saldo só muda por crédito/débito, sempre com LedgerEntry
type Ledger struct {
	log     *zap.Logger
	store   repo.Store
	metrics *metrics.Metrics

	StartingBalance      int64
	AdminStartingBalance int64
	Now                  func() time.Time
}

func New(log *zap.Logger, store repo.Store, m *metrics.Metrics, startingBalance, adminStartingBalance int64) *Ledger {
	return &Ledger{
		log:                  logger.OrNop(log),
		store:                store,
		metrics:              m,
		StartingBalance:      startingBalance,
		AdminStartingBalance: adminStartingBalance,
		Now:                  func() time.Time { return time.Now().UTC() },
	}
}

// Credit soma amount ao saldo dentro da transação do chamador
func (l *Ledger) Credit(ctx context.Context, tx repo.Tx, accountID string, amount int64, reason string, ref Ref) (int64, error) {
	if amount <= 0 {
		return 0, errs.Invalid("amount", "credit amount must be positive, got %d", amount)
	}
	if _, err := l.lockAccount(ctx, tx, accountID); err != nil {
		return 0, err
	}
	return l.apply(ctx, tx, accountID, amount, reason, ref)
}

// Debit subtrai amount do saldo; falha com InsufficientFunds sem tocar no saldo
func (l *Ledger) Debit(ctx context.Context, tx repo.Tx, accountID string, amount int64, reason string, ref Ref) (int64, error) {
	if amount <= 0 {
		return 0, errs.Invalid("amount", "debit amount must be positive, got %d", amount)
	}
	acc, err := l.lockAccount(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}
	if acc.Balance < amount {
		return 0, errs.New(errs.KindInsufficientFunds, accountID, "balance %d is lower than %d", acc.Balance, amount)
	}
	return l.apply(ctx, tx, accountID, -amount, reason, ref)
}

// CreditAccount é o crédito avulso (ajuste de admin) em transação própria
func (l *Ledger) CreditAccount(ctx context.Context, accountID string, amount int64, reason string, ref Ref) (int64, error) {
	var bal int64
	err := l.store.InTx(ctx, func(tx repo.Tx) error {
		var err error
		bal, err = l.Credit(ctx, tx, accountID, amount, reason, ref)
		return err
	})
	if err != nil {
		l.metrics.Rejected("credit", string(errs.KindOf(err)))
		return 0, errs.Wrap(err, "credit account")
	}
	l.log.Info("account credited", zap.String("account_id", accountID), zap.Int64("amount", amount),
		zap.String("reason", reason), zap.Int64("balance", bal))
	return bal, nil
}

// DebitAccount é o débito avulso em transação própria
func (l *Ledger) DebitAccount(ctx context.Context, accountID string, amount int64, reason string, ref Ref) (int64, error) {
	var bal int64
	err := l.store.InTx(ctx, func(tx repo.Tx) error {
		var err error
		bal, err = l.Debit(ctx, tx, accountID, amount, reason, ref)
		return err
	})
	if err != nil {
		l.metrics.Rejected("debit", string(errs.KindOf(err)))
		return 0, errs.Wrap(err, "debit account")
	}
	l.log.Info("account debited", zap.String("account_id", accountID), zap.Int64("amount", amount),
		zap.String("reason", reason), zap.Int64("balance", bal))
	return bal, nil
}

func (l *Ledger) lockAccount(ctx context.Context, tx repo.Tx, accountID string) (repo.Account, error) {
	acc, err := tx.GetAccount(ctx, accountID, repo.LockUpdate)
	if errors.Is(err, repo.ErrNotFound) {
		return repo.Account{}, errs.New(errs.KindAccountNotFound, accountID, "account not found")
	}
	if err != nil {
		return repo.Account{}, errs.Wrap(err, "load account")
	}
	return acc, nil
}

// apply grava delta + lançamento; os dois só existem juntos
func (l *Ledger) apply(ctx context.Context, tx repo.Tx, accountID string, delta int64, reason string, ref Ref) (int64, error) {
	bal, err := tx.AddBalance(ctx, accountID, delta)
	switch {
	case errors.Is(err, repo.ErrNegativeBalance):
		return 0, errs.New(errs.KindInsufficientFunds, accountID, "balance cannot go below zero")
	case errors.Is(err, repo.ErrBalanceOverflow):
		return 0, errs.Invalid("amount", "balance would exceed the points range")
	case errors.Is(err, repo.ErrNotFound):
		return 0, errs.New(errs.KindAccountNotFound, accountID, "account not found")
	case err != nil:
		return 0, errs.Wrap(err, "update balance")
	}

	entry := repo.LedgerEntry{
		AccountID:     accountID,
		Delta:         delta,
		Reason:        reason,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		BalanceAfter:  bal,
		CreatedAt:     l.Now(),
	}
	if err := tx.AppendLedger(ctx, &entry); err != nil {
		return 0, errs.Wrap(err, "append ledger entry")
	}
	l.metrics.LedgerEntry(reason)
	return bal, nil
}

// Register cria a conta com o saldo inicial (10000 para admin, 1000 para os demais)
// O saldo inicial fica em starting_balance e não gera lançamento
func (l *Ledger) Register(ctx context.Context, username string, isAdmin bool) (repo.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return repo.Account{}, errs.Invalid("username", "username is required")
	}
	if !ValidUsername(username) {
		return repo.Account{}, errs.Invalid("username", "username must be 3-20 letters, digits or underscores")
	}

	start := l.StartingBalance
	if isAdmin {
		start = l.AdminStartingBalance
	}
	acc := repo.Account{
		ID:              uuid.NewString(),
		Username:        username,
		Balance:         start,
		StartingBalance: start,
		IsActive:        true,
		IsAdmin:         isAdmin,
		CreatedAt:       l.Now(),
	}

	err := l.store.InTx(ctx, func(tx repo.Tx) error {
		return tx.InsertAccount(ctx, &acc)
	})
	if errors.Is(err, repo.ErrUsernameTaken) {
		return repo.Account{}, errs.Invalid("username", "username %q is already taken", username)
	}
	if err != nil {
		return repo.Account{}, errs.Wrap(err, "insert account")
	}

	l.log.Info("account registered", zap.String("account_id", acc.ID), zap.String("username", acc.Username),
		zap.Bool("admin", isAdmin), zap.Int64("starting_balance", start))
	return acc, nil
}

// SetActive ativa/desativa a conta (nunca é removida)
func (l *Ledger) SetActive(ctx context.Context, accountID string, active bool) (repo.Account, error) {
	var acc repo.Account
	err := l.store.InTx(ctx, func(tx repo.Tx) error {
		var err error
		if acc, err = l.lockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		if err := tx.SetAccountActive(ctx, accountID, active); err != nil {
			return errs.Wrap(err, "set account active")
		}
		acc.IsActive = active
		return nil
	})
	if err != nil {
		return repo.Account{}, errs.Wrap(err, "set account active")
	}
	l.log.Info("account activation changed", zap.String("account_id", accountID), zap.Bool("active", active))
	return acc, nil
}

// SetAdmin concede ou revoga admin; ninguém revoga o próprio acesso
func (l *Ledger) SetAdmin(ctx context.Context, actorID, accountID string, admin bool) (repo.Account, error) {
	if !admin && actorID == accountID {
		return repo.Account{}, errs.New(errs.KindInvalidTransition, accountID, "cannot remove your own admin rights")
	}
	var acc repo.Account
	err := l.store.InTx(ctx, func(tx repo.Tx) error {
		var err error
		if acc, err = l.lockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		if err := tx.SetAccountAdmin(ctx, accountID, admin); err != nil {
			return errs.Wrap(err, "set account admin")
		}
		acc.IsAdmin = admin
		return nil
	})
	if err != nil {
		return repo.Account{}, errs.Wrap(err, "set account admin")
	}
	l.log.Info("account admin changed", zap.String("account_id", accountID),
		zap.String("actor_id", actorID), zap.Bool("admin", admin))
	return acc, nil
}

func (l *Ledger) GetAccount(ctx context.Context, accountID string) (repo.Account, error) {
	var acc repo.Account
	err := l.store.InTx(ctx, func(tx repo.Tx) error {
		var err error
		acc, err = tx.GetAccount(ctx, accountID, repo.NoLock)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return repo.Account{}, errs.New(errs.KindAccountNotFound, accountID, "account not found")
	}
	if err != nil {
		return repo.Account{}, errs.Wrap(err, "get account")
	}
	return acc, nil
}

// ListAccounts ordena por saldo (ranking de pontos)
func (l *Ledger) ListAccounts(ctx context.Context, activeOnly bool, limit, offset int) ([]repo.Account, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	out, err := l.store.ListAccounts(ctx, activeOnly, limit, offset)
	return out, errs.Wrap(err, "list accounts")
}

// RecentActivity devolve os últimos lançamentos da conta, mais novos primeiro
func (l *Ledger) RecentActivity(ctx context.Context, accountID string, limit int) ([]repo.LedgerEntry, error) {
	if _, err := l.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	out, err := l.store.LedgerByAccount(ctx, accountID, clampLimit(limit))
	return out, errs.Wrap(err, "list ledger entries")
}

// Reconcile confere saldo inicial + soma dos deltas contra o saldo atual
// Lê conta e soma na mesma transação, com a conta travada em modo compartilhado
func (l *Ledger) Reconcile(ctx context.Context, accountID string) (repo.Reconciliation, error) {
	var rec repo.Reconciliation
	err := l.store.InTx(ctx, func(tx repo.Tx) error {
		acc, err := tx.GetAccount(ctx, accountID, repo.LockShare)
		if errors.Is(err, repo.ErrNotFound) {
			return errs.New(errs.KindAccountNotFound, accountID, "account not found")
		}
		if err != nil {
			return err
		}
		sum, err := tx.LedgerSum(ctx, accountID)
		if err != nil {
			return err
		}
		rec = repo.Reconciliation{AccountID: acc.ID, StartingBalance: acc.StartingBalance, LedgerSum: sum, Balance: acc.Balance}
		return nil
	})
	if err != nil {
		return repo.Reconciliation{}, errs.Wrap(err, "reconcile account")
	}
	if !rec.OK() {
		l.log.Error("ledger mismatch", zap.String("account_id", accountID), zap.Int64("starting", rec.StartingBalance),
			zap.Int64("ledger_sum", rec.LedgerSum), zap.Int64("balance", rec.Balance))
	}
	return rec, nil
}

// ReconcileAll lista todas as contas fora do invariante
func (l *Ledger) ReconcileAll(ctx context.Context) ([]repo.Reconciliation, error) {
	out, err := l.store.Mismatches(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "reconcile all")
	}
	for _, r := range out {
		l.log.Error("ledger mismatch", zap.String("account_id", r.AccountID), zap.Int64("starting", r.StartingBalance),
			zap.Int64("ledger_sum", r.LedgerSum), zap.Int64("balance", r.Balance))
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultActivityLimit
	}
	if limit > maxActivityLimit {
		return maxActivityLimit
	}
	return limit
}
