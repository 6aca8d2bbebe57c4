package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa os contadores Prometheus do serviço de apostas
// Um *Metrics nil é válido e não registra nada (testes)
type Metrics struct {
	betsPlaced     prometheus.Counter
	pointsStaked   prometheus.Counter
	rejections     *prometheus.CounterVec
	eventsResolved prometheus.Counter
	betsSettled    *prometheus.CounterVec
	pointsPaid     prometheus.Counter
	ledgerEntries  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		betsPlaced:     prometheus.NewCounter(prometheus.CounterOpts{Name: "wager_bets_placed_total", Help: "apostas aceitas"}),
		pointsStaked:   prometheus.NewCounter(prometheus.CounterOpts{Name: "wager_points_staked_total", Help: "pontos apostados"}),
		rejections:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_rejections_total", Help: "operações recusadas por tipo de erro"}, []string{"op", "kind"}),
		eventsResolved: prometheus.NewCounter(prometheus.CounterOpts{Name: "wager_events_resolved_total", Help: "eventos resolvidos"}),
		betsSettled:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_bets_settled_total", Help: "apostas liquidadas por resultado"}, []string{"status"}),
		pointsPaid:     prometheus.NewCounter(prometheus.CounterOpts{Name: "wager_points_paid_total", Help: "pontos pagos a vencedores"}),
		ledgerEntries:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_ledger_entries_total", Help: "lançamentos no ledger por motivo"}, []string{"reason"}),
	}
	reg.MustRegister(m.betsPlaced, m.pointsStaked, m.rejections, m.eventsResolved, m.betsSettled, m.pointsPaid, m.ledgerEntries)
	return m
}

func (m *Metrics) BetPlaced(amount int64) {
	if m == nil {
		return
	}
	m.betsPlaced.Inc()
	m.pointsStaked.Add(float64(amount))
}

func (m *Metrics) Rejected(op, kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) EventResolved(won, lost int, paid int64) {
	if m == nil {
		return
	}
	m.eventsResolved.Inc()
	m.betsSettled.WithLabelValues("WON").Add(float64(won))
	m.betsSettled.WithLabelValues("LOST").Add(float64(lost))
	m.pointsPaid.Add(float64(paid))
}

func (m *Metrics) LedgerEntry(reason string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(reason).Inc()
}
