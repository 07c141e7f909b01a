package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/diligence-cli/internal/credits"
	"github.com/sells-group/diligence-cli/internal/store"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage per-organization analysis credits",
}

// initCreditsLedger opens the postgres store and builds a ledger on its
// pool. The credit ledger requires postgres; sqlite deployments run
// creditless.
func initCreditsLedger(cmd *cobra.Command) (*credits.Ledger, func(), error) {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	ps, ok := st.(*store.PostgresStore)
	if !ok {
		_ = st.Close()
		return nil, nil, eris.New("credits require the postgres store driver")
	}

	ledger := credits.NewLedger(ps.Pool())
	if err := ledger.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate credit ledger")
	}
	return ledger, func() { _ = st.Close() }, nil
}

// -- credits grant --

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <org-id> <allocation>",
	Short: "Set an organization's credit allocation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var allocation int64
		if _, err := fmt.Sscanf(args[1], "%d", &allocation); err != nil {
			return eris.Wrapf(err, "parse allocation %q", args[1])
		}

		ledger, closeFn, err := initCreditsLedger(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := ledger.Grant(cmd.Context(), args[0], allocation); err != nil {
			return eris.Wrap(err, "grant credits")
		}

		fmt.Fprintf(os.Stdout, "Granted %d credits to %s.\n", allocation, args[0])
		return nil
	},
}

// -- credits balance --

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <org-id>",
	Short: "Show an organization's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, closeFn, err := initCreditsLedger(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		bal, err := ledger.Get(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "get balance")
		}

		fmt.Fprintf(os.Stdout, "Org:\t%s\nAllocation:\t%d\nUsed:\t%d\nRemaining:\t%d\n",
			bal.OrgID, bal.Allocation, bal.Used, bal.Remaining())
		return nil
	},
}

func init() {
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsBalanceCmd)
	rootCmd.AddCommand(creditsCmd)
}
