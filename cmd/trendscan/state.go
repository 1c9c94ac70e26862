package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/trendscan/internal/domain"
	"github.com/sawpanic/trendscan/internal/state"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and repair persisted position state",
	}
	cmd.PersistentFlags().String("state", "state/position_state.csv", "CSV state file (ignored with --postgres-dsn)")
	cmd.PersistentFlags().String("postgres-dsn", "", "Postgres DSN for position state")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all tracked symbols with stop memory and exit history",
		RunE:  runStateList,
	}

	clearCmd := &cobra.Command{
		Use:   "clear [symbol...]",
		Short: "Delete state records for the given symbols",
		Long: `Removes the persisted record entirely, including whipsaw strikes and exit
history. Use after manual position changes the engine should forget.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runStateClear,
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(clearCmd)
	return cmd
}

func openStateRepo(cmd *cobra.Command) (state.Repository, func(), error) {
	repo, _, closeRepo, err := openStateBackend(cmd.Context(), cmd.Flags())
	return repo, closeRepo, err
}

func runStateList(cmd *cobra.Command, _ []string) error {
	repo, closeRepo, err := openStateRepo(cmd)
	if err != nil {
		return err
	}
	defer closeRepo()

	all, err := repo.All(cmd.Context())
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("no tracked symbols")
		return nil
	}

	symbols := make([]string, 0, len(all))
	for sym := range all {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	fmt.Printf("%-10s %10s %10s %10s %6s %8s %s\n",
		"SYMBOL", "ENTRY", "STOP", "ACTIVE", "ADDS", "WHIPSAW", "LAST EXIT")
	for _, sym := range symbols {
		st := all[sym]
		fmt.Printf("%-10s %10s %10s %10s %6d %8d %s\n",
			st.Symbol,
			fmtPrice(st.EntryPrice),
			fmtPrice(st.InitialStop),
			fmtPrice(st.ActiveStop),
			st.AddsTaken,
			st.WhipsawCount,
			fmtExit(st))
	}
	return nil
}

func runStateClear(cmd *cobra.Command, args []string) error {
	repo, closeRepo, err := openStateRepo(cmd)
	if err != nil {
		return err
	}
	defer closeRepo()

	ctx := cmd.Context()
	for _, arg := range args {
		symbol := strings.ToUpper(strings.TrimSpace(arg))
		if err := repo.Delete(ctx, symbol); err != nil {
			return fmt.Errorf("delete %s: %w", symbol, err)
		}
		log.Info().Str("symbol", symbol).Msg("state record cleared")
	}
	if err := repo.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func fmtPrice(v float64) string {
	if !domain.IsFinite(v) || v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func fmtExit(st state.PositionState) string {
	if st.LastExitDate == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s (%.2fR)",
		st.LastExitDate.Format(time.DateOnly), st.LastExitReason, st.LastExitProfitR)
}
