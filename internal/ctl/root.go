package ctl

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/ledger"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/repo"
	"github.com/radieske/rapmarket-wager-platform/pkg/contracts/events"
)

// Rebuilder é o board de rankings (leaderboard.RedisBoard)
type Rebuilder interface {
	Rebuild(ctx context.Context, won []events.BetSettled) (int, error)
}

// Env é o que os comandos usam; Board é nil sem Redis
type Env struct {
	Ledger *ledger.Ledger
	Store  repo.Store
	Board  Rebuilder
	Close  func()
}

// OpenFunc abre as dependências configuradas; Env.Close libera as conexões
type OpenFunc func(ctx context.Context) (*Env, error)

// ErrMismatch sinaliza ao main que a reconciliação encontrou divergências (exit code 2)
var ErrMismatch = errors.New("ledger mismatch found")

// ErrNoBoard: rebuild-leaderboard sem REDIS_ADDR configurado
var ErrNoBoard = errors.New("leaderboard store not configured (REDIS_ADDR)")

// NewRootCmd monta a CLI de operação: rapmarketctl <comando>
func NewRootCmd(open OpenFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "rapmarketctl",
		Short:         "Operator tooling for the RapMarket wager service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newReconcileCmd(open), newBootstrapAdminCmd(open), newRebuildLeaderboardCmd(open))
	return root
}

func newReconcileCmd(open OpenFunc) *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check startingBalance + sum(ledger) == balance for every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()
			l, out := env.Ledger, cmd.OutOrStdout()

			if accountID != "" {
				rec, err := l.Reconcile(cmd.Context(), accountID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s starting=%d ledger=%d balance=%d ok=%t\n",
					rec.AccountID, rec.StartingBalance, rec.LedgerSum, rec.Balance, rec.OK())
				if !rec.OK() {
					return ErrMismatch
				}
				return nil
			}

			bad, err := l.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(bad) == 0 {
				fmt.Fprintln(out, "all accounts reconcile")
				return nil
			}
			for _, r := range bad {
				fmt.Fprintf(out, "MISMATCH %s starting=%d ledger=%d balance=%d diff=%d\n",
					r.AccountID, r.StartingBalance, r.LedgerSum, r.Balance, r.Balance-(r.StartingBalance+r.LedgerSum))
			}
			return fmt.Errorf("%w: %d accounts", ErrMismatch, len(bad))
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "reconcile a single account id")
	return cmd
}

func newBootstrapAdminCmd(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-admin USERNAME",
		Short: "Create the administrator account with the admin starting balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			acc, err := env.Ledger.Register(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s created: id=%s balance=%d\n", acc.Username, acc.ID, acc.Balance)
			return nil
		},
	}
}

func newRebuildLeaderboardCmd(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-leaderboard",
		Short: "Recompute the wins/winnings boards from settled bets in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()
			if env.Board == nil {
				return ErrNoBoard
			}

			bets, err := env.Store.WonBets(cmd.Context())
			if err != nil {
				return fmt.Errorf("list won bets: %w", err)
			}
			won := make([]events.BetSettled, 0, len(bets))
			for _, b := range bets {
				s := events.BetSettled{
					BetID:     b.ID,
					AccountID: b.AccountID,
					EventID:   b.EventID,
					Status:    string(repo.BetWon),
					Amount:    b.Amount,
					Winnings:  b.ActualWinnings,
				}
				if b.ResolvedAt != nil {
					s.Ts = b.ResolvedAt.UTC()
				}
				won = append(won, s)
			}

			accounts, err := env.Board.Rebuild(cmd.Context(), won)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "leaderboard rebuilt: %d winning bets across %d accounts\n", len(won), accounts)
			return nil
		},
	}
}
