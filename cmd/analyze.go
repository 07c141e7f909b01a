package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/credits"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/orchestrator"
	"github.com/sells-group/diligence-cli/pkg/notion"
)

var (
	analyzeDealID     string
	analyzeDocsFile   string
	analyzeFromNotion bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full due-diligence pipeline for a deal",
	Long:  "Runs all four agent tiers over the deal's case file, reconciles extracted facts, and stores the scored analysis run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if !analyzeFromNotion && analyzeDealID == "" {
			return eris.New("either --deal or --from-notion is required")
		}

		env, err := initAnalysis(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		if analyzeFromNotion {
			return analyzeQueued(ctx, env)
		}

		deal, err := env.Store.GetDeal(ctx, analyzeDealID)
		if err != nil {
			return eris.Wrapf(err, "load deal %s", analyzeDealID)
		}

		if analyzeDocsFile != "" {
			docs, err := loadDocumentsFile(analyzeDocsFile)
			if err != nil {
				return err
			}
			if err := env.Store.SaveDocuments(ctx, deal.ID, docs); err != nil {
				return eris.Wrap(err, "save documents")
			}
		}

		run, err := analyzeDeal(ctx, env, *deal)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// analyzeQueued pulls queued deals from the Notion deal-flow database and
// analyzes each in turn. Failures are isolated per deal.
func analyzeQueued(ctx context.Context, env *analysisEnv) error {
	if env.Notion == nil {
		return eris.New("notion token is not configured (DILIGENCE_NOTION_TOKEN)")
	}

	deals, err := notion.QueryQueuedDeals(ctx, env.Notion, cfg.Notion.DealDB)
	if err != nil {
		return eris.Wrap(err, "query queued deals")
	}
	if len(deals) == 0 {
		fmt.Fprintln(os.Stderr, "No queued deals.")
		return nil
	}

	zap.L().Info("queued deals fetched", zap.Int("count", len(deals)))

	var failed int
	for _, deal := range deals {
		if err := env.Store.SaveDeal(ctx, &deal); err != nil {
			zap.L().Error("save deal failed", zap.String("deal", deal.ID), zap.Error(err))
			failed++
			continue
		}
		if err := notion.MarkStatus(ctx, env.Notion, deal.NotionPageID, "Analyzing"); err != nil {
			zap.L().Warn("mark analyzing failed", zap.String("deal", deal.ID), zap.Error(err))
		}

		run, err := analyzeDeal(ctx, env, deal)
		if err != nil {
			zap.L().Error("analysis failed", zap.String("deal", deal.ID), zap.Error(err))
			if merr := notion.MarkStatus(ctx, env.Notion, deal.NotionPageID, "Failed"); merr != nil {
				zap.L().Warn("mark failed failed", zap.String("deal", deal.ID), zap.Error(merr))
			}
			failed++
			continue
		}

		status := "Analyzed"
		if run.Status == model.RunStatusFailed {
			status = "Failed"
		}
		if err := notion.MarkStatus(ctx, env.Notion, deal.NotionPageID, status); err != nil {
			zap.L().Warn("mark analyzed failed", zap.String("deal", deal.ID), zap.Error(err))
		}
	}

	if failed > 0 {
		return eris.Errorf("%d of %d deals failed", failed, len(deals))
	}
	return nil
}

// analyzeDeal charges credits, runs the pipeline, and persists the result
// under a store-owned run row.
func analyzeDeal(ctx context.Context, env *analysisEnv, deal model.Deal) (*model.AnalysisRun, error) {
	docs, err := env.Store.Documents(ctx, deal.ID)
	if err != nil {
		return nil, eris.Wrap(err, "load documents")
	}
	if len(docs) == 0 {
		return nil, eris.Errorf("deal %s has no documents", deal.ID)
	}

	if env.Ledger != nil {
		if err := env.Ledger.Consume(ctx, deal.OrgID, cfg.Credits.RunCost); err != nil {
			if errors.Is(err, credits.ErrInsufficientCredits) {
				return nil, eris.Wrapf(err, "org %s", deal.OrgID)
			}
			return nil, eris.Wrap(err, "consume credits")
		}
	}

	row, err := env.Store.CreateRun(ctx, deal.ID)
	if err != nil {
		return nil, eris.Wrap(err, "create run")
	}
	if err := env.Store.UpdateRunStatus(ctx, row.ID, model.RunStatusRunning); err != nil {
		return nil, eris.Wrap(err, "mark run running")
	}

	result, err := env.Orchestrator.RunFullAnalysis(ctx, deal, docs, orchestrator.Options{
		OnWarning: func(w model.EarlyWarning) {
			fmt.Fprintf(os.Stderr, "EARLY WARNING [%s] %s: %s\n", w.Severity, w.AgentID, w.Title)
		},
		OnProgress: func(p model.Progress) {
			zap.L().Info("agent settled",
				zap.String("agent", string(p.Current)),
				zap.Int("completed", p.Completed),
				zap.Int("total", p.Total),
			)
		},
	})
	if err != nil {
		_ = env.Store.UpdateRunStatus(ctx, row.ID, model.RunStatusFailed)
		return nil, eris.Wrap(err, "run analysis")
	}

	// The store row owns run identity; the orchestrator's generated ID is
	// discarded.
	result.ID = row.ID
	result.DealID = deal.ID
	if err := env.Store.SaveRunResult(ctx, result); err != nil {
		return nil, eris.Wrap(err, "save run result")
	}

	zap.L().Info("analysis complete",
		zap.String("run", result.ID),
		zap.String("deal", deal.ID),
		zap.String("status", string(result.Status)),
		zap.Float64("cost_usd", result.TotalCostUSD),
		zap.Int64("tokens", result.TotalTokens),
		zap.Int("warnings", len(result.EarlyWarnings)),
	)

	return result, nil
}

// loadDocumentsFile reads a JSON array of case-file documents.
func loadDocumentsFile(path string) ([]model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read documents file %s", path)
	}
	var docs []model.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, eris.Wrapf(err, "parse documents file %s", path)
	}
	if len(docs) == 0 {
		return nil, eris.Errorf("documents file %s is empty", path)
	}
	return docs, nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDealID, "deal", "", "deal ID to analyze")
	analyzeCmd.Flags().StringVar(&analyzeDocsFile, "docs", "", "JSON file with case-file documents to ingest before the run")
	analyzeCmd.Flags().BoolVar(&analyzeFromNotion, "from-notion", false, "analyze every queued deal from the Notion deal-flow database")
	rootCmd.AddCommand(analyzeCmd)
}
