package topics

const (
	// Apostas
	BetPlaced  = "bet_placed"
	BetSettled = "bet_settled"

	// Eventos
	EventResolved = "event_resolved"

	// DLQs
	BetSettledDLQ = "bet_settled_dlq"
)
