package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"market-scanner/internal/app"
	"market-scanner/internal/model"
)

var (
	simulateSymbol   string
	simulateKind     string
	simulatePreScore int
	simulateScore    int
	simulateDecision string
	simulateReason   string
	simulateAt       string
	simulatePersist  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic verdict through the notification gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateScore < 0 || simulateScore > 100 {
			return errors.New("--score must be between 0 and 100")
		}

		opts := app.SimulateOptions{
			Symbol:   simulateSymbol,
			Kind:     model.Kind(simulateKind),
			PreScore: simulatePreScore,
			Score:    simulateScore,
			Decision: model.Decision(simulateDecision),
			Reason:   simulateReason,
			Persist:  simulatePersist,
		}
		if simulateAt != "" {
			at, err := time.Parse(time.RFC3339, simulateAt)
			if err != nil {
				return fmt.Errorf("invalid --at value: %w", err)
			}
			opts.At = &at
		}

		_, err := getApp().SimulateAlert(cmd.Context(), opts)
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "TEST", "Instrument symbol")
	simulateCmd.Flags().StringVar(&simulateKind, "kind", string(model.KindEquity), "Instrument kind (stock or crypto)")
	simulateCmd.Flags().IntVar(&simulatePreScore, "pre-score", 80, "Stage one score")
	simulateCmd.Flags().IntVar(&simulateScore, "score", 90, "Verdict score")
	simulateCmd.Flags().StringVar(&simulateDecision, "decision", string(model.DecisionEscalate), "Verdict decision (escalate or hold)")
	simulateCmd.Flags().StringVar(&simulateReason, "reason", "simulated alert", "Verdict reason")
	simulateCmd.Flags().StringVar(&simulateAt, "at", "", "Evaluate as of this time (RFC3339)")
	simulateCmd.Flags().BoolVar(&simulatePersist, "persist", false, "Record the delivery in the dedupe store")
}
