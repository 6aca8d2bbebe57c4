package events

import "time"

// Publicado no tópico "event_resolved"
type EventResolved struct {
	EventID         string    `json:"eventId"`
	WinningOptionID string    `json:"winningOptionId"`
	Processed       int       `json:"processed"`
	Won             int       `json:"won"`
	Lost            int       `json:"lost"`
	TotalPaid       int64     `json:"totalPaid"`
	Ts              time.Time `json:"ts"`
}

// EventStatusChanged vai pelo Redis Pub/Sub para o feed WebSocket
type EventStatusChanged struct {
	EventID string    `json:"eventId"`
	Status  string    `json:"status"` // ACTIVE | INACTIVE | RESOLVED | DELETED
	Ts      time.Time `json:"ts"`
}
