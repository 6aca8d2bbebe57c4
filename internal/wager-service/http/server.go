package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/rapmarket-wager-platform/internal/leaderboard"
	"github.com/radieske/rapmarket-wager-platform/internal/shared/logger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/catalog"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/dto"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/errs"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/ledger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/wager"
)

// Cabeçalhos de identidade preenchidos pelo gateway/camada de sessão
const (
	HeaderAccountID = "X-Account-Id"
	HeaderAdmin     = "X-Account-Admin"
)

// Rankings é a leitura dos rankings mantidos pelo leaderboard-worker
type Rankings interface {
	Top(ctx context.Context, board string, limit int) ([]leaderboard.Entry, error)
}

// Server expõe a API JSON do serviço de apostas
type Server struct {
	log      *zap.Logger
	ledger   *ledger.Ledger
	catalog  *catalog.Catalog
	wager    *wager.Engine
	rankings Rankings     // opcional (sem Redis: só ranking de pontos)
	ws       http.Handler // opcional
}

func NewServer(log *zap.Logger, l *ledger.Ledger, c *catalog.Catalog, w *wager.Engine, rk Rankings, ws http.Handler) *Server {
	return &Server{log: logger.OrNop(log), ledger: l, catalog: c, wager: w, rankings: rk, ws: ws}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)
	r.Use(s.requestLog)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", s.register)
		r.Get("/events", s.listEvents)
		r.Get("/events/{id}", s.getEvent)
		r.Get("/leaderboard", s.getLeaderboard)
		if s.ws != nil {
			r.Handle("/ws", s.ws)
		}

		r.Group(func(r chi.Router) {
			r.Use(requireAccount)
			r.Get("/accounts/me", s.me)
			r.Get("/accounts/me/activity", s.myActivity)
			r.Get("/accounts/me/bets", s.myBets)
			r.Get("/accounts/me/reconcile", s.myReconcile)
			r.Post("/bets", s.placeBet)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAccount, requireAdmin)
			r.Post("/events", s.createEvent)
			r.Post("/events/{id}/toggle", s.toggleEvent)
			r.Delete("/events/{id}", s.deleteEvent)
			r.Post("/events/{id}/resolve", s.resolveEvent)
			r.Get("/accounts", s.listAccounts)
			r.Post("/accounts/{id}/credit", s.creditAccount)
			r.Post("/accounts/{id}/debit", s.debitAccount)
			r.Post("/accounts/{id}/active", s.setAccountActive)
			r.Post("/accounts/{id}/admin", s.setAccountAdmin)
		})
	})
	return r
}

// ---------- middleware ----------

type ctxKey int

const accountKey ctxKey = iota

func requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderAccountID))
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Unauthorized", Message: "missing " + HeaderAccountID})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, id)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(r.Header.Get(HeaderAdmin), "true") {
			writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "Forbidden", Message: "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accountID(r *http.Request) string {
	id, _ := r.Context().Value(accountKey).(string)
	return id
}

// withCORS libera o front-end servido em outra origem; preflight responde 204
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderAccountID+", "+HeaderAdmin)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ---------- contas ----------

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	acc, err := s.ledger.Register(r.Context(), req.Username, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	acc, err := s.ledger.GetAccount(r.Context(), accountID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) myActivity(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryInt(w, r, "limit")
	if !ok {
		return
	}
	entries, err := s.ledger.RecentActivity(r.Context(), accountID(r), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ActivityResponse{Entries: nonNil(entries)})
}

func (s *Server) myBets(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryInt(w, r, "limit")
	if !ok {
		return
	}
	bets, err := s.wager.History(r.Context(), accountID(r), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.BetsResponse{Bets: nonNil(bets)})
}

func (s *Server) myReconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ledger.Reconcile(r.Context(), accountID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ReconcileResponse{Reconciliation: rec, OK: rec.OK()})
}

// ---------- apostas ----------

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaceBetRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.wager.PlaceBet(r.Context(), accountID(r), req.EventID, req.OptionID, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.PlaceBetResponse{Bet: res.Bet, NewBalance: res.NewBalance})
}

// ---------- eventos ----------

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	f := repo.EventFilter{Category: r.URL.Query().Get("category")}
	switch st := strings.ToUpper(r.URL.Query().Get("status")); st {
	case "", string(repo.EventActive):
		f.Status = repo.EventActive
	case "ALL":
	case string(repo.EventInactive), string(repo.EventResolved):
		f.Status = repo.EventStatus(st)
	default:
		s.writeError(w, errs.Invalid("status", "unknown status %q", st))
		return
	}
	limit, ok := s.queryInt(w, r, "limit")
	if !ok {
		return
	}
	f.Limit = limit

	list, err := s.catalog.ListEvents(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.EventsResponse{Events: nonNil(list), Total: len(list)})
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.catalog.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	in := catalog.NewEvent{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		StartTime:   req.StartTime,
		MinStake:    req.MinStake,
		MaxStake:    req.MaxStake,
		CreatedBy:   accountID(r),
	}
	if req.EndTime != nil {
		in.EndTime = *req.EndTime
	}
	for _, o := range req.Options {
		in.Options = append(in.Options, catalog.NewOption{Label: o.Label, Odds: o.Odds})
	}

	ev, err := s.catalog.CreateEvent(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) toggleEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.catalog.ToggleStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{EventID: id, Status: st})
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resolveEvent(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	sum, err := s.catalog.Resolve(r.Context(), chi.URLParam(r, "id"), req.WinningOptionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ---------- admin: contas ----------

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := s.queryInt(w, r, "offset")
	if !ok {
		return
	}
	accs, err := s.ledger.ListAccounts(r.Context(), r.URL.Query().Get("active") == "true", limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(accs))
}

func (s *Server) creditAccount(w http.ResponseWriter, r *http.Request) {
	s.adjust(w, r, s.ledger.CreditAccount, ledger.ReasonAdminCredit)
}

func (s *Server) debitAccount(w http.ResponseWriter, r *http.Request) {
	s.adjust(w, r, s.ledger.DebitAccount, ledger.ReasonAdminDebit)
}

type adjustFunc func(ctx context.Context, accountID string, amount int64, reason string, ref ledger.Ref) (int64, error)

func (s *Server) adjust(w http.ResponseWriter, r *http.Request, fn adjustFunc, reason string) {
	var req dto.AdjustPointsRequest
	if !s.decode(w, r, &req) {
		return
	}
	target := chi.URLParam(r, "id")
	bal, err := fn(r.Context(), target, req.Amount, reason, ledger.Ref{Type: ledger.RefAdmin, ID: accountID(r)})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{AccountID: target, Balance: bal})
}

func (s *Server) setAccountActive(w http.ResponseWriter, r *http.Request) {
	var req dto.SetActiveRequest
	if !s.decode(w, r, &req) {
		return
	}
	acc, err := s.ledger.SetActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) setAccountAdmin(w http.ResponseWriter, r *http.Request) {
	var req dto.SetAdminRequest
	if !s.decode(w, r, &req) {
		return
	}
	acc, err := s.ledger.SetAdmin(r.Context(), accountID(r), chi.URLParam(r, "id"), *req.Admin)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ---------- ranking ----------

func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.queryInt(w, r, "limit")
	if !ok {
		return
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	board := r.URL.Query().Get("type")
	if board == "" {
		board = "points"
	}

	var out []dto.LeaderboardEntry
	switch board {
	case "monthly":
		offset, ok := s.queryInt(w, r, "offset")
		if !ok {
			return
		}
		mb, err := s.wager.Monthly(r.Context(), limit, offset)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dto.MonthlyLeaderboardResponse{Type: board, Period: mb.Period, Entries: mb.Rows})
		return
	case "points":
		accs, err := s.ledger.ListAccounts(r.Context(), true, limit, 0)
		if err != nil {
			s.writeError(w, err)
			return
		}
		for i, a := range accs {
			out = append(out, dto.LeaderboardEntry{Rank: i + 1, AccountID: a.ID, Username: a.Username, Score: a.Balance})
		}
	case leaderboard.Wins, leaderboard.Winnings:
		if s.rankings == nil {
			writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Unavailable", Message: "leaderboard store not configured"})
			return
		}
		top, err := s.rankings.Top(r.Context(), board, limit)
		if err != nil {
			s.log.Error("leaderboard read failed", zap.String("type", board), zap.Error(err))
			s.writeError(w, errs.Wrap(err, "read leaderboard"))
			return
		}
		for _, e := range top {
			entry := dto.LeaderboardEntry{Rank: e.Rank, AccountID: e.AccountID, Score: e.Score}
			if acc, err := s.ledger.GetAccount(r.Context(), e.AccountID); err == nil {
				entry.Username = acc.Username
			}
			out = append(out, entry)
		}
	default:
		s.writeError(w, errs.Invalid("type", "unknown leaderboard type %q", board))
		return
	}
	writeJSON(w, http.StatusOK, dto.LeaderboardResponse{Type: board, Entries: nonNil(out)})
}

// ---------- helpers ----------

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, errs.Invalid("body", "invalid JSON body: %v", err))
		return false
	}
	if err := dto.Validate(dst); err != nil {
		s.writeError(w, err)
		return false
	}
	return true
}

func (s *Server) queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.writeError(w, errs.Invalid(name, "%s must be an integer", name))
		return 0, false
	}
	return n, true
}

// statusFor mapeia o Kind para o status HTTP
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAccountNotFound, errs.KindEventNotFound, errs.KindOptionNotFound:
		return http.StatusNotFound
	case errs.KindAccountInactive, errs.KindEventNotActive, errs.KindEventEnded, errs.KindInsufficientFunds,
		errs.KindDuplicateBet, errs.KindAlreadyResolved, errs.KindHasBets, errs.KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = &errs.Error{Kind: errs.KindStorage, Err: err}
	}
	resp := dto.ErrorResponse{Error: string(e.Kind), Message: e.Message, Field: e.Field, ID: e.ID}
	if e.Kind == errs.KindStorage {
		// detalhe do driver fica só no log
		s.log.Error("storage failure", zap.Error(err))
		resp.Message = "storage unavailable, please retry"
	}
	writeJSON(w, statusFor(e.Kind), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// nonNil garante "[]" em vez de "null" nas listas
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
