package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gridlink-project/gridlink/internal/negotiation"
	"github.com/gridlink-project/gridlink/pkg/color"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the connection security decision table",
	Long: `Show how the client's and the server's security postures combine.

CS_NEG_USE_SSL promotes the connection to TLS, CS_NEG_USE_TCP keeps it in
plaintext, and CS_NEG_FAILURE aborts the connection.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows := negotiation.Table()
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), rows)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, color.Header("CLIENT\tSERVER\tOUTCOME"))
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Client, r.Server, color.Outcome(string(r.Outcome)))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
}
