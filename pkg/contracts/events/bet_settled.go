package events

import "time"

// Evento emitido por aposta quando o evento é resolvido.
type BetSettled struct {
	BetID     string    `json:"betId"`
	AccountID string    `json:"accountId"`
	EventID   string    `json:"eventId"`
	Status    string    `json:"status"` // "WON" | "LOST"
	Amount    int64     `json:"amount"`
	Winnings  int64     `json:"winnings"`
	Ts        time.Time `json:"ts"`
}
