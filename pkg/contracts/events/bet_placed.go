package events

// Publicado no tópico "bet_placed" após o commit da aposta
type BetPlaced struct {
	BetID           string `json:"bet_id"`
	AccountID       string `json:"account_id"`
	EventID         string `json:"event_id"`
	OptionID        string `json:"option_id"`
	Amount          int64  `json:"amount"`
	Odds            string `json:"odds"` // decimal em texto, ex: "2.50"
	PotentialPayout int64  `json:"potential_payout"`
	NewBalance      int64  `json:"new_balance"`
	TsUnixMs        int64  `json:"ts_unix_ms"`
}
