package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventActive   EventStatus = "ACTIVE"
	EventInactive EventStatus = "INACTIVE"
	EventResolved EventStatus = "RESOLVED"
)

type BetStatus string

const (
	BetActive BetStatus = "ACTIVE"
	BetWon    BetStatus = "WON"
	BetLost   BetStatus = "LOST"
)

// Account é a conta de pontos de um usuário
// Balance só muda via ledger (crédito/débito com LedgerEntry)
type Account struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Balance         int64     `json:"balance"`
	StartingBalance int64     `json:"startingBalance"`
	IsActive        bool      `json:"isActive"`
	IsAdmin         bool      `json:"isAdmin"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Option é uma alternativa mutuamente exclusiva de um evento, com odd fixa
type Option struct {
	ID        string          `json:"id"`
	EventID   string          `json:"eventId"`
	Label     string          `json:"label"`
	Odds      decimal.Decimal `json:"odds"`
	Position  int             `json:"position"`
	IsWinning bool            `json:"isWinning"`
}

type Event struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Category        string      `json:"category"`
	StartTime       time.Time   `json:"startTime"`
	EndTime         time.Time   `json:"endTime"`
	MinStake        int64       `json:"minStake"`
	MaxStake        int64       `json:"maxStake"`
	Status          EventStatus `json:"status"`
	Options         []Option    `json:"options"`
	WinningOptionID string      `json:"winningOptionId,omitempty"`
	CreatedBy       string      `json:"createdBy,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	ResolvedAt      *time.Time  `json:"resolvedAt,omitempty"`
}

// Option procura a alternativa pelo id dentro do próprio evento
func (e Event) Option(id string) (Option, bool) {
	for _, o := range e.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// EventWithStats é a linha de listagem: evento + agregados das apostas
type EventWithStats struct {
	Event
	BetCount    int   `json:"betCount"`
	TotalStaked int64 `json:"totalStaked"`
}

type EventFilter struct {
	Status   EventStatus // vazio = todos
	Category string
	Limit    int
}

type Bet struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"accountId"`
	EventID         string          `json:"eventId"`
	OptionID        string          `json:"optionId"`
	Amount          int64           `json:"amount"`
	Odds            decimal.Decimal `json:"odds"` // snapshot no momento da aposta
	PotentialPayout int64           `json:"potentialPayout"`
	ActualWinnings  int64           `json:"actualWinnings"`
	Status          BetStatus       `json:"status"`
	PlacedAt        time.Time       `json:"placedAt"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
}

// BetView junta a aposta com título do evento e rótulo da opção (histórico do usuário)
type BetView struct {
	Bet
	EventTitle  string      `json:"eventTitle"`
	EventStatus EventStatus `json:"eventStatus"`
	OptionLabel string      `json:"optionLabel"`
}

// LedgerEntry é uma linha do log de transações; nunca é alterada nem removida
type LedgerEntry struct {
	ID            int64     `json:"id"`
	AccountID     string    `json:"accountId"`
	Delta         int64     `json:"delta"`
	Reason        string    `json:"reason"`
	ReferenceType string    `json:"referenceType,omitempty"`
	ReferenceID   string    `json:"referenceId,omitempty"`
	BalanceAfter  int64     `json:"balanceAfter"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MonthlyStat é a linha do ranking mensal
type MonthlyStat struct {
	AccountID string `json:"accountId"`
	Username  string `json:"username"`
	Balance   int64  `json:"balance"`
	Bets      int    `json:"monthlyBets"`
	Wins      int    `json:"wins"`
	Winnings  int64  `json:"winnings"`
	Wagered   int64  `json:"wagered"`
}

// Reconciliation compara saldo inicial + soma dos deltas com o saldo atual
type Reconciliation struct {
	AccountID       string `json:"accountId"`
	StartingBalance int64  `json:"startingBalance"`
	LedgerSum       int64  `json:"ledgerSum"`
	Balance         int64  `json:"balance"`
}

func (r Reconciliation) OK() bool { return r.StartingBalance+r.LedgerSum == r.Balance }
