package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/touchline/internal/config"
	"github.com/aristath/touchline/internal/di"
	"github.com/aristath/touchline/internal/domain"
	"github.com/aristath/touchline/internal/modules/contact"
	"github.com/aristath/touchline/internal/modules/evolution"
	"github.com/aristath/touchline/internal/modules/levels"
	"github.com/aristath/touchline/internal/modules/portfolio"
	"github.com/aristath/touchline/pkg/logger"
)

// session is an opened data directory.
type session struct {
	cfg       *config.Config
	container *di.Container
	log       zerolog.Logger
}

func (s *session) close() {
	s.container.Close()
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := "warn"
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Pretty: true, Output: cmd.ErrOrStderr()})

	container, err := di.InitializeDatabases(cfg, log)
	if err != nil {
		return nil, err
	}
	di.InitializeRepositories(container, log)
	if err := cfg.UpdateFromSettings(container.SettingsRepo); err != nil {
		log.Warn().Err(err).Msg("Failed to read settings overrides")
	}

	return &session{cfg: cfg, container: container, log: log}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "touchctl",
		Short:         "Administer a touchline data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	root.AddCommand(newLevelsCmd())
	root.AddCommand(newEvolutionCmd())
	root.AddCommand(newPortfolioCmd())
	return root
}

func newLevelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Manage the daily level sheet",
	}

	importCmd := &cobra.Command{
		Use:   "import <sheet.yaml>",
		Short: "Replace a trading day's levels with a YAML sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			sheet, err := levels.ParseSheet(f)
			if err != nil {
				return err
			}
			if day, _ := cmd.Flags().GetString("day"); day != "" {
				sheet.TradingDay = day
			}
			set, err := sheet.Levels()
			if err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.container.LevelsRepo.Replace(cmd.Context(), sheet.TradingDay, set); err != nil {
				return err
			}
			day, _, err := s.container.LevelsRepo.Latest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d levels (latest trading day %s)\n", len(set), day)
			return nil
		},
	}
	importCmd.Flags().String("day", "", "Trading day YYYY-MM-DD, overrides the sheet (default today)")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the latest level set grouped by color and style",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			day, set, err := s.container.LevelsRepo.Latest(cmd.Context())
			if err != nil {
				return err
			}
			if day == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No levels stored")
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"trading_day":     day,
				"levels_by_color": levels.Group(set),
			})
		},
	}

	nearCmd := &cobra.Command{
		Use:   "near <price>",
		Short: "List stored levels within the scan tolerance of a price, nearest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var price float64
			if _, err := fmt.Sscanf(args[0], "%g", &price); err != nil || price <= 0 {
				return fmt.Errorf("invalid price %q", args[0])
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			set, err := s.container.LevelsRepo.LoadLevels(cmd.Context())
			if err != nil {
				return err
			}

			evalCfg := contact.DefaultConfig()
			evalCfg.ContactTolerance = s.cfg.Tuning.ScanTolerance
			touched := contact.NewEvaluator(evalCfg, nil, s.log).TouchedLevels(price, set)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "COLOR\tSTYLE\tPRICE\tDISTANCE")
			for _, l := range touched {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%+.2f\n", l.Color, l.Style, l.Price, price-l.Price)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(importCmd, showCmd, nearCmd)
	return cmd
}

func newEvolutionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evolution",
		Short: "Inspect per-signature trade outcomes",
	}

	bestCmd := &cobra.Command{
		Use:   "best",
		Short: "Show outcome records and the best direction of a pattern signature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			levelType, _ := cmd.Flags().GetString("level-type")
			reaction, _ := cmd.Flags().GetString("reaction")
			approach, _ := cmd.Flags().GetString("approach")
			macro, _ := cmd.Flags().GetString("macro")
			sig := domain.PatternSignature{
				LevelType: levelType,
				Reaction:  domain.Reaction(strings.ToLower(reaction)),
				Approach:  domain.Approach(strings.ToLower(approach)),
				Macro:     domain.MacroPosition(strings.ToLower(macro)),
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			tracker := evolution.NewTracker(s.container.MemoryDB.Conn(), evolution.Config{
				Margin:     s.cfg.Tuning.BestDirectionMargin,
				MinWinRate: s.cfg.Tuning.BestDirectionMinWinRate,
			}, s.log)
			return printEvolution(cmd.Context(), cmd.OutOrStdout(), tracker, sig)
		},
	}
	bestCmd.Flags().String("level-type", "", "Level type, e.g. solid")
	bestCmd.Flags().String("reaction", "", "rejection, breakthrough or hesitation")
	bestCmd.Flags().String("approach", "", "from_above or from_below")
	bestCmd.Flags().String("macro", "unknown", "above_trend, below_trend, at_trend or unknown")
	_ = bestCmd.MarkFlagRequired("level-type")
	_ = bestCmd.MarkFlagRequired("reaction")
	_ = bestCmd.MarkFlagRequired("approach")

	cmd.AddCommand(bestCmd)
	return cmd
}

func printEvolution(ctx context.Context, out io.Writer, tracker *evolution.Tracker, sig domain.PatternSignature) error {
	records, err := tracker.Records(ctx, sig)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Pattern %s\n", sig.Key())
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DIRECTION\tWINS\tLOSSES\tWIN RATE\tWEIGHT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\t%.3f\n", r.Direction, r.Wins, r.Losses, r.WinRate(), r.ConfidenceWeight)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if best, ok := tracker.BestDirection(ctx, sig); ok {
		fmt.Fprintf(out, "Best direction: %s\n", best)
	} else {
		fmt.Fprintln(out, "Best direction: none (no historical edge)")
	}
	return nil
}

func newPortfolioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Inspect the paper portfolio",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print balance, open positions and recent closed positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closed, _ := cmd.Flags().GetInt("closed")

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			ledger := portfolio.NewLedger(s.container.LedgerDB.Conn(), s.cfg.StartingCash, nil, s.log)
			if err := ledger.Init(cmd.Context()); err != nil {
				return err
			}
			summary, err := ledger.Summary(cmd.Context(), closed)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
	showCmd.Flags().Int("closed", 20, "Number of closed positions to include")

	cmd.AddCommand(showCmd)
	return cmd
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
