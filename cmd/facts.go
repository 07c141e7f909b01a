package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/diligence-cli/internal/facts"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/taxonomy"
)

var factsDealID string

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect and ingest reconciled deal facts",
}

// -- facts list --

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a deal's current facts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		current, err := st.CurrentFacts(ctx, factsDealID)
		if err != nil {
			return eris.Wrap(err, "facts list")
		}
		if len(current) == 0 {
			fmt.Fprintln(os.Stderr, "No facts on record.")
			return nil
		}

		formatFactsList(os.Stdout, current)
		return nil
	},
}

// -- facts ingest --

var factsIngestCmd = &cobra.Command{
	Use:   "ingest <facts.json>",
	Short: "Reconcile extracted facts from a JSON file into a deal's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if _, err := st.GetDeal(ctx, factsDealID); err != nil {
			return eris.Wrapf(err, "load deal %s", factsDealID)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read facts file %s", args[0])
		}
		var candidates []model.Fact
		if err := json.Unmarshal(data, &candidates); err != nil {
			return eris.Wrapf(err, "parse facts file %s", args[0])
		}

		tax, err := taxonomy.Load()
		if err != nil {
			return eris.Wrap(err, "load taxonomy")
		}
		rec := facts.NewReconciler(tax)

		existing, err := st.CurrentFacts(ctx, factsDealID)
		if err != nil {
			return eris.Wrap(err, "load current facts")
		}

		res, err := rec.Ingest(candidates, existing)
		if err != nil {
			return eris.Wrap(err, "reconcile facts")
		}

		byKey := make(map[model.FactKey]*model.CurrentFact, len(existing))
		for i := range existing {
			byKey[existing[i].Key] = &existing[i]
		}
		contradictions := make(map[model.FactKey]*model.Contradiction, len(res.Contradictions))
		for i := range res.Contradictions {
			contradictions[res.Contradictions[i].Key] = &res.Contradictions[i]
		}

		now := time.Now().UTC()
		for _, fact := range res.Accepted {
			next := facts.Apply(byKey[fact.Key], factsDealID, fact, contradictions[fact.Key], now)
			if err := st.ReplaceCurrentFact(ctx, next); err != nil {
				return eris.Wrapf(err, "persist fact %s", fact.Key)
			}
			byKey[fact.Key] = next
		}

		fmt.Fprintf(os.Stdout, "Accepted %d of %d facts.\n", len(res.Accepted), len(candidates))
		for _, c := range res.Contradictions {
			fmt.Fprintf(os.Stdout, "CONTRADICTION [%s] %s: %v -> %v\n", c.Significance, c.Key, c.ExistingValue, c.NewValue)
		}
		for _, n := range res.Notes {
			fmt.Fprintf(os.Stdout, "note: %s: %s\n", n.Key, n.Reason)
		}
		return nil
	},
}

// formatFactsList writes a tabular view of current facts to w.
func formatFactsList(out io.Writer, current []model.CurrentFact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tVALUE\tCONF\tDISPUTED\tSOURCE\tUPDATED")
	_, _ = fmt.Fprintln(w, "---\t-----\t----\t--------\t------\t-------")

	for _, cf := range current {
		display := cf.DisplayValue
		if display == "" {
			display = fmt.Sprintf("%v", cf.Value)
		}
		if len(display) > 30 {
			display = display[:27] + "..."
		}

		disputed := ""
		if cf.Disputed {
			disputed = "yes"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			cf.Key,
			display,
			cf.Confidence,
			disputed,
			cf.Source,
			cf.LastUpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	factsCmd.PersistentFlags().StringVar(&factsDealID, "deal", "", "deal ID (required)")
	_ = factsCmd.MarkPersistentFlagRequired("deal")

	factsCmd.AddCommand(factsListCmd)
	factsCmd.AddCommand(factsIngestCmd)
	rootCmd.AddCommand(factsCmd)
}
