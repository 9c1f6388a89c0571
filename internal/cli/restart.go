package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gridlink-project/gridlink/pkg/color"
	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/model"
)

var restartAccount string

var restartCmd = &cobra.Command{
	Use:   "restart <command>",
	Short: "Inspect the restart ledger",
	Long: `Inspect the restart ledger.

Every interrupted parallel transfer leaves a record keyed by the transfer
direction (PUT or GET), the account identity and the remote path. Each record
holds one segment per worker thread.`,
	DisableFlagsInUseLine: true,
}

var restartListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restart records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.Close()

		recs, listErr := c.Ledger().List(cmd.Context())
		if listErr != nil && len(recs) == 0 {
			return listErr
		}
		if jsonOutput {
			if recs == nil {
				recs = []*model.RestartRecord{}
			}
			if err := outputJSON(cmd.OutOrStdout(), recs); err != nil {
				return err
			}
			return listErr
		}

		out := cmd.OutOrStdout()
		if len(recs) == 0 {
			fmt.Fprintln(out, "No restart records.")
			return listErr
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, color.Header("TYPE\tPATH\tTHREADS\tATTEMPTS\tDONE\tUPDATED"))
		for _, rec := range recs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\t%s\n",
				rec.Type, rec.AbsolutePath, len(rec.Segments), rec.Attempts, c.Ledger().MaxAttempts(),
				humanize.IBytes(uint64(rec.TransferredBytes())), humanize.Time(rec.UpdatedAt))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if listErr != nil {
			fmt.Fprintln(out, color.Warning(fmt.Sprintf("some records could not be read: %v", listErr)))
		}
		return nil
	},
}

var restartShowCmd = &cobra.Command{
	Use:   "show <type> <remote-path>",
	Short: "Show one restart record and its segments",
	Long: `Show one restart record and its segments.

Examples:
  gridlink restart show PUT /tempZone/home/rods/data.bin
  gridlink restart show GET /tempZone/home/rods/data.bin --account 'rods#tempZone@grid:1247'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := restartID(c, args)
		if err != nil {
			return err
		}
		rec, err := c.Ledger().Retrieve(cmd.Context(), id)
		if errors.Is(err, errclass.ErrRestartNotFound) {
			return errors.New(formatRestartNotFound(cmd.Context(), c, id))
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), rec)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", color.Header(string(rec.Type)), rec.AbsolutePath)
		fmt.Fprintf(out, "  account:  %s\n", rec.AccountIdentity)
		fmt.Fprintf(out, "  local:    %s\n", rec.LocalPath)
		fmt.Fprintf(out, "  attempts: %d of %d\n", rec.Attempts, c.Ledger().MaxAttempts())
		fmt.Fprintf(out, "  done:     %s\n", humanize.IBytes(uint64(rec.TransferredBytes())))
		fmt.Fprintf(out, "  created:  %s\n", humanize.Time(rec.CreatedAt))
		fmt.Fprintf(out, "  updated:  %s\n", humanize.Time(rec.UpdatedAt))

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  THREAD\tOFFSET\tLENGTH")
		for _, seg := range rec.Segments {
			fmt.Fprintf(w, "  %d\t%d\t%d\n", seg.ThreadNumber, seg.Offset, seg.Length)
		}
		return w.Flush()
	},
}

var restartDeleteCmd = &cobra.Command{
	Use:   "delete <type> <remote-path>",
	Short: "Delete a restart record",
	Long: `Delete a restart record. The next transfer of the same file starts over.
Deleting a record that does not exist is not an error.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := restartID(c, args)
		if err != nil {
			return err
		}
		if err := c.Ledger().Delete(cmd.Context(), id); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]string{"deleted": id.String()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		return nil
	},
}

func init() {
	restartCmd.PersistentFlags().StringVar(&restartAccount, "account", "", "account identity (default: configured account)")
	restartCmd.AddCommand(restartListCmd)
	restartCmd.AddCommand(restartShowCmd)
	restartCmd.AddCommand(restartDeleteCmd)
	rootCmd.AddCommand(restartCmd)
}
