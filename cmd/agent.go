package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/credits"
	"github.com/sells-group/diligence-cli/internal/model"
)

var agentDealID string

var agentCmd = &cobra.Command{
	Use:   "agent <agent-id>",
	Short: "Re-run a single agent for a deal",
	Long:  "Refreshes one agent's findings against the deal's current facts without re-running the full pipeline. Prints the outcome (success, failed, timeout) and the result.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		agentID := model.AgentID(args[0])

		env, err := initAnalysis(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		deal, err := env.Store.GetDeal(ctx, agentDealID)
		if err != nil {
			return eris.Wrapf(err, "load deal %s", agentDealID)
		}
		docs, err := env.Store.Documents(ctx, deal.ID)
		if err != nil {
			return eris.Wrap(err, "load documents")
		}
		current, err := env.Store.CurrentFacts(ctx, deal.ID)
		if err != nil {
			return eris.Wrap(err, "load current facts")
		}

		if env.Ledger != nil {
			if err := env.Ledger.Consume(ctx, deal.OrgID, cfg.Credits.AgentCost); err != nil {
				if eris.Is(err, credits.ErrInsufficientCredits) {
					return eris.Wrapf(err, "org %s", deal.OrgID)
				}
				return eris.Wrap(err, "consume credits")
			}
		}

		ec := &model.ExecContext{
			Deal:      *deal,
			Documents: docs,
			Facts:     current,
		}

		outerTimeout := time.Duration(cfg.Pipeline.SingleAgentTimeoutSecs) * time.Second
		result, outcome, err := env.Orchestrator.RunSingleAgent(ctx, agentID, ec, outerTimeout)
		if err != nil {
			return eris.Wrapf(err, "run agent %s", agentID)
		}

		zap.L().Info("agent refresh finished",
			zap.String("agent", string(agentID)),
			zap.String("outcome", string(outcome)),
		)

		out := struct {
			Outcome model.Outcome      `json:"outcome"`
			Result  *model.AgentResult `json:"result,omitempty"`
		}{Outcome: outcome, Result: result}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	agentCmd.Flags().StringVar(&agentDealID, "deal", "", "deal ID (required)")
	_ = agentCmd.MarkFlagRequired("deal")
	rootCmd.AddCommand(agentCmd)
}
