package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/errs"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/odds"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/settlement"
)

const (
	defaultListLimit = 20
	maxListLimit     = 50
)

// EventCache é o cache de leitura de eventos (Redis em produção)
// Version é lida antes do store; SetIfVersion descarta a escrita se houve Invalidate no meio
type EventCache interface {
	Get(ctx context.Context, eventID string) (repo.Event, bool, error)
	Version(ctx context.Context, eventID string) (int64, error)
	SetIfVersion(ctx context.Context, ev repo.Event, version int64) (bool, error)
	Invalidate(ctx context.Context, eventID string) error
}

// StatusNotifier avisa o feed ao vivo que o status de um evento mudou
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, eventID string, status repo.EventStatus) error
}

// Resolver é o motor de resolução (settlement.Engine)
type Resolver interface {
	ResolveEvent(ctx context.Context, eventID, winningOptionID string) (settlement.Summary, error)
}

type Options struct {
	DefaultMinStake int64
	DefaultMaxStake int64
	EventDuration   time.Duration
}

// Catalog mantém eventos e opções e guarda as transições de status
type Catalog struct {
	log      *zap.Logger
	store    repo.Store
	resolver Resolver
	cache    EventCache     // opcional
	notifier StatusNotifier // opcional
	opts     Options

	Now func() time.Time
}

func New(log *zap.Logger, store repo.Store, resolver Resolver, cache EventCache, notifier StatusNotifier, opts Options) *Catalog {
	if opts.DefaultMinStake <= 0 {
		opts.DefaultMinStake = 10
	}
	if opts.DefaultMaxStake <= 0 {
		opts.DefaultMaxStake = 1000
	}
	if opts.EventDuration <= 0 {
		opts.EventDuration = 7 * 24 * time.Hour
	}
	return &Catalog{
		log:      logger.OrNop(log),
		store:    store,
		resolver: resolver,
		cache:    cache,
		notifier: notifier,
		opts:     opts,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

type NewOption struct {
	Label string
	Odds  decimal.Decimal
}

// NewEvent é a entrada de CreateEvent; zeros assumem os defaults configurados
type NewEvent struct {
	Title       string
	Description string
	Category    string
	StartTime   time.Time
	EndTime     time.Time
	MinStake    int64
	MaxStake    int64
	Options     []NewOption
	CreatedBy   string
}

// CreateEvent valida e grava evento + opções numa única transação (status ACTIVE)
func (c *Catalog) CreateEvent(ctx context.Context, in NewEvent) (repo.Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.EndTime.IsZero() && !in.StartTime.IsZero() {
		in.EndTime = in.StartTime.Add(c.opts.EventDuration)
	}
	if in.MinStake == 0 {
		in.MinStake = c.opts.DefaultMinStake
	}
	if in.MaxStake == 0 {
		in.MaxStake = c.opts.DefaultMaxStake
	}
	if err := validate(in); err != nil {
		return repo.Event{}, err
	}

	now := c.Now()
	ev := repo.Event{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
		MinStake:    in.MinStake,
		MaxStake:    in.MaxStake,
		Status:      repo.EventActive,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, o := range in.Options {
		ev.Options = append(ev.Options, repo.Option{
			ID:       uuid.NewString(),
			EventID:  ev.ID,
			Label:    strings.TrimSpace(o.Label),
			Odds:     o.Odds,
			Position: i,
		})
	}

	if err := c.store.InTx(ctx, func(tx repo.Tx) error {
		return tx.InsertEvent(ctx, &ev)
	}); err != nil {
		return repo.Event{}, errs.Wrap(err, "insert event")
	}

	c.log.Info("event created", zap.String("event_id", ev.ID), zap.String("title", ev.Title),
		zap.Int("options", len(ev.Options)), zap.String("created_by", ev.CreatedBy))
	c.notify(ctx, ev.ID, ev.Status)
	return ev, nil
}

func validate(in NewEvent) error {
	switch {
	case in.Title == "":
		return errs.Invalid("title", "title is required")
	case in.Description == "":
		return errs.Invalid("description", "description is required")
	case in.StartTime.IsZero():
		return errs.Invalid("startTime", "startTime is required")
	case !in.EndTime.After(in.StartTime):
		return errs.Invalid("endTime", "endTime must be after startTime")
	case len(in.Options) < 2:
		return errs.Invalid("options", "at least two options are required, got %d", len(in.Options))
	case in.MinStake < 1:
		return errs.Invalid("minStake", "minStake must be at least 1")
	case in.MaxStake < in.MinStake:
		return errs.Invalid("maxStake", "maxStake %d is lower than minStake %d", in.MaxStake, in.MinStake)
	}
	for _, o := range in.Options {
		if strings.TrimSpace(o.Label) == "" {
			return errs.Invalid("options", "option label is required")
		}
		if !odds.Valid(o.Odds) {
			return errs.Invalid("options", "odds %s for %q must be between 1.00 and %s with at most two decimals",
				o.Odds, o.Label, odds.MaxOdds)
		}
		// o maior payout possível precisa caber em int64
		if _, err := odds.Payout(in.MaxStake, o.Odds); err != nil {
			return errs.Invalid("maxStake", "maxStake %d times odds %s exceeds the points range", in.MaxStake, o.Odds)
		}
	}
	return nil
}

// ToggleStatus alterna ACTIVE <-> INACTIVE com a linha travada; RESOLVED é terminal
func (c *Catalog) ToggleStatus(ctx context.Context, eventID string) (repo.EventStatus, error) {
	var next repo.EventStatus
	err := c.store.InTx(ctx, func(tx repo.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		switch ev.Status {
		case repo.EventActive:
			next = repo.EventInactive
		case repo.EventInactive:
			next = repo.EventActive
		default:
			return errs.New(errs.KindInvalidTransition, eventID, "event is %s and cannot be toggled", ev.Status)
		}
		return tx.SetEventStatus(ctx, eventID, next, c.Now())
	})
	if err != nil {
		return "", errs.Wrap(err, "toggle event status")
	}

	c.log.Info("event status toggled", zap.String("event_id", eventID), zap.String("status", string(next)))
	c.invalidate(ctx, eventID)
	c.notify(ctx, eventID, next)
	return next, nil
}

// DeleteEvent remove evento e opções; só permitido sem nenhuma aposta
func (c *Catalog) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.store.InTx(ctx, func(tx repo.Tx) error {
		if _, err := lockEvent(ctx, tx, eventID); err != nil {
			return err
		}
		n, err := tx.CountBets(ctx, eventID)
		if err != nil {
			return err
		}
		if n > 0 {
			return errs.New(errs.KindHasBets, eventID, "event has %d bets", n)
		}
		err = tx.DeleteEvent(ctx, eventID)
		if errors.Is(err, repo.ErrEventReferenced) {
			return errs.New(errs.KindHasBets, eventID, "event has bets")
		}
		return err
	})
	if err != nil {
		return errs.Wrap(err, "delete event")
	}

	c.log.Info("event deleted", zap.String("event_id", eventID))
	c.invalidate(ctx, eventID)
	return nil
}

// Resolve delega ao motor de resolução e propaga a mudança para cache e feed
func (c *Catalog) Resolve(ctx context.Context, eventID, winningOptionID string) (settlement.Summary, error) {
	sum, err := c.resolver.ResolveEvent(ctx, eventID, winningOptionID)
	if err != nil {
		return settlement.Summary{}, err
	}
	c.invalidate(ctx, eventID)
	c.notify(ctx, eventID, repo.EventResolved)
	return sum, nil
}

// GetEvent lê pelo cache; em miss busca no store e repovoa
// Uma mutação commitada durante a leitura impede o repovoamento com o valor velho
func (c *Catalog) GetEvent(ctx context.Context, eventID string) (repo.Event, error) {
	var (
		version   int64
		cacheable bool
	)
	if c.cache != nil {
		ev, hit, err := c.cache.Get(ctx, eventID)
		if err != nil {
			c.log.Warn("event cache get failed", zap.String("event_id", eventID), zap.Error(err))
		} else if hit {
			return ev, nil
		}
		if version, err = c.cache.Version(ctx, eventID); err != nil {
			c.log.Warn("event cache version failed", zap.String("event_id", eventID), zap.Error(err))
		} else {
			cacheable = true
		}
	}

	var ev repo.Event
	err := c.store.InTx(ctx, func(tx repo.Tx) error {
		var err error
		ev, err = tx.GetEvent(ctx, eventID, repo.NoLock)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return repo.Event{}, errs.New(errs.KindEventNotFound, eventID, "event not found")
	}
	if err != nil {
		return repo.Event{}, errs.Wrap(err, "get event")
	}

	if cacheable {
		stored, err := c.cache.SetIfVersion(ctx, ev, version)
		if err != nil {
			c.log.Warn("event cache set failed", zap.String("event_id", eventID), zap.Error(err))
		} else if !stored {
			c.log.Debug("stale event not cached", zap.String("event_id", eventID))
		}
	}
	return ev, nil
}

// Listing é a linha da listagem pública com as flags derivadas do horário atual
type Listing struct {
	repo.EventWithStats
	IsUpcoming bool `json:"isUpcoming"`
	IsLive     bool `json:"isLive"`
	IsEnded    bool `json:"isEnded"`
}

// ListEvents lista por startTime crescente; limit vai de 1 a 50 (padrão 20)
func (c *Catalog) ListEvents(ctx context.Context, f repo.EventFilter) ([]Listing, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	rows, err := c.store.ListEvents(ctx, f)
	if err != nil {
		return nil, errs.Wrap(err, "list events")
	}

	now := c.Now()
	out := make([]Listing, 0, len(rows))
	for _, r := range rows {
		out = append(out, Listing{
			EventWithStats: r,
			IsUpcoming:     r.StartTime.After(now),
			IsLive:         !r.StartTime.After(now) && r.EndTime.After(now) && r.Status == repo.EventActive,
			IsEnded:        !r.EndTime.After(now),
		})
	}
	return out, nil
}

func lockEvent(ctx context.Context, tx repo.Tx, eventID string) (repo.Event, error) {
	ev, err := tx.GetEvent(ctx, eventID, repo.LockUpdate)
	if errors.Is(err, repo.ErrNotFound) {
		return repo.Event{}, errs.New(errs.KindEventNotFound, eventID, "event not found")
	}
	return ev, err
}

// invalidate e notify rodam após o commit; falha só gera log
func (c *Catalog) invalidate(ctx context.Context, eventID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, eventID); err != nil {
		c.log.Warn("event cache invalidate failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (c *Catalog) notify(ctx context.Context, eventID string, status repo.EventStatus) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyStatus(ctx, eventID, status); err != nil {
		c.log.Warn("event status broadcast failed", zap.String("event_id", eventID), zap.Error(err))
	}
}
