package repo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Memory é o Store em memória usado em desenvolvimento local (STORAGE_DRIVER=memory) e nos testes
// Transações são serializadas por um mutex e commitam uma cópia do estado (copy-on-write)
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	accounts  map[string]Account
	usernames map[string]string
	events    map[string]Event
	bets      map[string]Bet
	betOrder  []string
	ledger    []LedgerEntry
	nextEntry int64
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		accounts:  map[string]Account{},
		usernames: map[string]string{},
		events:    map[string]Event{},
		bets:      map[string]Bet{},
	}}
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err // descarta a cópia: nada foi aplicado
	}
	m.state = work
	return nil
}

func (s *memState) clone() *memState {
	c := &memState{
		accounts:  make(map[string]Account, len(s.accounts)),
		usernames: make(map[string]string, len(s.usernames)),
		events:    make(map[string]Event, len(s.events)),
		bets:      make(map[string]Bet, len(s.bets)),
		betOrder:  append([]string(nil), s.betOrder...),
		ledger:    append([]LedgerEntry(nil), s.ledger...),
		nextEntry: s.nextEntry,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.usernames {
		c.usernames[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.bets {
		c.bets[k] = v
	}
	return c
}

type memTx struct{ st *memState }

func (t *memTx) InsertAccount(_ context.Context, a *Account) error {
	if _, taken := t.st.usernames[a.Username]; taken {
		return ErrUsernameTaken
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	t.st.accounts[a.ID] = *a
	t.st.usernames[a.Username] = a.ID
	return nil
}

func (t *memTx) GetAccount(_ context.Context, id string, _ LockMode) (Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (t *memTx) AddBalance(_ context.Context, id string, delta int64) (int64, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return 0, ErrNotFound
	}
	if delta > 0 && a.Balance > math.MaxInt64-delta {
		return 0, ErrBalanceOverflow
	}
	if a.Balance+delta < 0 {
		return 0, ErrNegativeBalance
	}
	a.Balance += delta
	t.st.accounts[id] = a
	return a.Balance, nil
}

func (t *memTx) SetAccountActive(_ context.Context, id string, active bool) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.IsActive = active
	t.st.accounts[id] = a
	return nil
}

func (t *memTx) SetAccountAdmin(_ context.Context, id string, admin bool) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.IsAdmin = admin
	t.st.accounts[id] = a
	return nil
}

func (t *memTx) AppendLedger(_ context.Context, e *LedgerEntry) error {
	if _, ok := t.st.accounts[e.AccountID]; !ok {
		return ErrNotFound
	}
	t.st.nextEntry++
	e.ID = t.st.nextEntry
	t.st.ledger = append(t.st.ledger, *e)
	return nil
}

func (t *memTx) LedgerSum(_ context.Context, accountID string) (int64, error) {
	var sum int64
	for _, e := range t.st.ledger {
		if e.AccountID == accountID {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (t *memTx) InsertEvent(_ context.Context, e *Event) error {
	ev := *e
	ev.Options = append([]Option(nil), e.Options...)
	for i := range ev.Options {
		ev.Options[i].EventID = ev.ID
	}
	ev.UpdatedAt = ev.CreatedAt
	t.st.events[ev.ID] = ev
	return nil
}

func (t *memTx) GetEvent(_ context.Context, id string, _ LockMode) (Event, error) {
	e, ok := t.st.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return copyEvent(e), nil
}

func (t *memTx) SetEventStatus(_ context.Context, id string, status EventStatus, at time.Time) error {
	e, ok := t.st.events[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	e.UpdatedAt = at
	t.st.events[id] = e
	return nil
}

func (t *memTx) MarkEventResolved(_ context.Context, id, winningOptionID string, at time.Time) error {
	e, ok := t.st.events[id]
	if !ok {
		return ErrNotFound
	}
	e = copyEvent(e)
	e.Status = EventResolved
	e.WinningOptionID = winningOptionID
	e.ResolvedAt = &at
	e.UpdatedAt = at
	for i := range e.Options {
		e.Options[i].IsWinning = e.Options[i].ID == winningOptionID
	}
	t.st.events[id] = e
	return nil
}

func (t *memTx) DeleteEvent(_ context.Context, id string) error {
	if _, ok := t.st.events[id]; !ok {
		return ErrNotFound
	}
	for _, b := range t.st.bets {
		if b.EventID == id {
			return ErrEventReferenced
		}
	}
	delete(t.st.events, id)
	return nil
}

func (t *memTx) CountBets(_ context.Context, eventID string) (int, error) {
	n := 0
	for _, b := range t.st.bets {
		if b.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) HasActiveBet(_ context.Context, accountID, eventID string) (bool, error) {
	for _, b := range t.st.bets {
		if b.AccountID == accountID && b.EventID == eventID && b.Status == BetActive {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertBet(ctx context.Context, b *Bet) error {
	dup, _ := t.HasActiveBet(ctx, b.AccountID, b.EventID)
	if dup {
		return ErrDuplicateActiveBet
	}
	t.st.bets[b.ID] = *b
	t.st.betOrder = append(t.st.betOrder, b.ID)
	return nil
}

func (t *memTx) ActiveBetsForEvent(_ context.Context, eventID string) ([]Bet, error) {
	var out []Bet
	for _, id := range t.st.betOrder {
		b := t.st.bets[id]
		if b.EventID == eventID && b.Status == BetActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) SettleBet(_ context.Context, id string, status BetStatus, winnings int64, at time.Time) error {
	b, ok := t.st.bets[id]
	if !ok || b.Status != BetActive {
		return ErrNotFound
	}
	b.Status = status
	if status == BetWon {
		b.ActualWinnings = winnings
	}
	b.ResolvedAt = &at
	t.st.bets[id] = b
	return nil
}

// ---------- leituras ----------

func (m *Memory) ListEvents(_ context.Context, f EventFilter) ([]EventWithStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	var out []EventWithStats
	for _, e := range m.state.events {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		ev := EventWithStats{Event: copyEvent(e)}
		for _, b := range m.state.bets {
			if b.EventID == e.ID {
				ev.BetCount++
				ev.TotalStaked += b.Amount
			}
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListAccounts(_ context.Context, activeOnly bool, limit, offset int) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []Account
	for _, a := range m.state.accounts {
		if activeOnly && !a.IsActive {
			continue
		}
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Balance != all[j].Balance {
			return all[i].Balance > all[j].Balance
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return page(all, limit, offset), nil
}

func (m *Memory) BetsByAccount(_ context.Context, accountID string, limit int) ([]BetView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []BetView
	for i := len(m.state.betOrder) - 1; i >= 0; i-- {
		b := m.state.bets[m.state.betOrder[i]]
		if b.AccountID != accountID {
			continue
		}
		v := BetView{Bet: b}
		if e, ok := m.state.events[b.EventID]; ok {
			v.EventTitle = e.Title
			v.EventStatus = e.Status
			if o, ok := e.Option(b.OptionID); ok {
				v.OptionLabel = o.Label
			}
		}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) LedgerByAccount(_ context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []LedgerEntry
	for i := len(m.state.ledger) - 1; i >= 0; i-- {
		if m.state.ledger[i].AccountID != accountID {
			continue
		}
		out = append(out, m.state.ledger[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Mismatches(_ context.Context) ([]Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := map[string]int64{}
	for _, e := range m.state.ledger {
		sums[e.AccountID] += e.Delta
	}
	var out []Reconciliation
	for _, a := range m.state.accounts {
		r := Reconciliation{AccountID: a.ID, StartingBalance: a.StartingBalance, LedgerSum: sums[a.ID], Balance: a.Balance}
		if !r.OK() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (m *Memory) MonthlyStats(_ context.Context, since time.Time, limit, offset int) ([]MonthlyStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byAccount := map[string]*MonthlyStat{}
	for _, b := range m.state.bets {
		if b.PlacedAt.Before(since) {
			continue
		}
		a, ok := m.state.accounts[b.AccountID]
		if !ok || !a.IsActive {
			continue
		}
		st := byAccount[a.ID]
		if st == nil {
			st = &MonthlyStat{AccountID: a.ID, Username: a.Username, Balance: a.Balance}
			byAccount[a.ID] = st
		}
		st.Bets++
		st.Wagered += b.Amount
		if b.Status == BetWon {
			st.Wins++
			st.Winnings += b.ActualWinnings
		}
	}

	all := make([]MonthlyStat, 0, len(byAccount))
	for _, st := range byAccount {
		all = append(all, *st)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Winnings != all[j].Winnings {
			return all[i].Winnings > all[j].Winnings
		}
		if all[i].Balance != all[j].Balance {
			return all[i].Balance > all[j].Balance
		}
		return all[i].AccountID < all[j].AccountID
	})
	return page(all, limit, offset), nil
}

func (m *Memory) WonBets(_ context.Context) ([]Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Bet
	for _, id := range m.state.betOrder {
		if b := m.state.bets[id]; b.Status == BetWon {
			out = append(out, b)
		}
	}
	return out, nil
}

// ---------- helpers ----------

func copyEvent(e Event) Event {
	e.Options = append([]Option(nil), e.Options...)
	return e
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
