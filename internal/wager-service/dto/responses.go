package dto

import (
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/catalog"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/wager"
)

// ErrorResponse é o corpo de toda resposta de erro
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	ID      string `json:"id,omitempty"`
}

type PlaceBetResponse struct {
	Bet        repo.Bet `json:"bet"`
	NewBalance int64    `json:"newBalance"`
}

type BalanceResponse struct {
	AccountID string `json:"accountId"`
	Balance   int64  `json:"balance"`
}

type EventsResponse struct {
	Events []catalog.Listing `json:"events"`
	Total  int               `json:"total"`
}

type ActivityResponse struct {
	Entries []repo.LedgerEntry `json:"entries"`
}

type BetsResponse struct {
	Bets []repo.BetView `json:"bets"`
}

type ReconcileResponse struct {
	repo.Reconciliation
	OK bool `json:"ok"`
}

type StatusResponse struct {
	EventID string           `json:"eventId"`
	Status  repo.EventStatus `json:"status"`
}

type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"accountId"`
	Username  string `json:"username"`
	Score     int64  `json:"score"`
}

type LeaderboardResponse struct {
	Type    string             `json:"type"`
	Entries []LeaderboardEntry `json:"entries"`
}

// MonthlyLeaderboardResponse: period no formato AAAA-MM
type MonthlyLeaderboardResponse struct {
	Type    string             `json:"type"`
	Period  string             `json:"period"`
	Entries []wager.MonthlyRow `json:"entries"`
}
