package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridlink-project/gridlink/internal/doctor"
	"github.com/gridlink-project/gridlink/pkg/color"
	"github.com/gridlink-project/gridlink/pkg/errclass"
)

var (
	doctorStrict      bool
	doctorRepair      []string
	doctorListRepairs bool
)

type doctorOutput struct {
	*doctor.Result
	Repairs []doctor.RepairResult `json:"repairs,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check restart ledger health",
	Long: `Check restart ledger health.

Reports records whose segments are inconsistent, records that reached the
attempt limit and leftover temporary files. Use --strict to also report
records that have not been touched in a week.

Examples:
  gridlink doctor
  gridlink doctor --strict
  gridlink doctor --repair drop_corrupt,clean_tmp`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		if doctorListRepairs {
			actions := c.RepairActions()
			if jsonOutput {
				return outputJSON(out, actions)
			}
			for _, a := range actions {
				fmt.Fprintf(out, "  %-16s %s\n", a.ID, a.Description)
			}
			return nil
		}

		var repairs []doctor.RepairResult
		if len(doctorRepair) > 0 {
			repairs, err = c.Repair(cmd.Context(), doctorRepair)
			if err != nil {
				return err
			}
		}

		result, err := c.Doctor(cmd.Context(), doctorStrict)
		if err != nil {
			return fmt.Errorf("doctor: %w", err)
		}

		if jsonOutput {
			if err := outputJSON(out, doctorOutput{Result: result, Repairs: repairs}); err != nil {
				return err
			}
		} else {
			for _, r := range repairs {
				status := color.Success("ok")
				if !r.Success {
					status = color.Error("failed")
				}
				fmt.Fprintf(out, "Repair %s: %s (%d cleaned)\n", r.Action, status, r.Cleaned)
			}
			if len(result.Findings) == 0 {
				fmt.Fprintf(out, "Restart ledger is healthy (%d records).\n", result.Records)
			} else {
				fmt.Fprintf(out, "Findings (%d):\n", len(result.Findings))
				for _, f := range result.Findings {
					fmt.Fprintf(out, "  [%s] %s: %s\n", color.Severity(f.Severity), f.Category, f.Description)
				}
			}
		}

		if !result.Healthy {
			return errclass.ErrRestartCorrupt.WithMessage("restart ledger is unhealthy")
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "also report stale records")
	doctorCmd.Flags().StringSliceVar(&doctorRepair, "repair", nil, "repair actions to run before checking")
	doctorCmd.Flags().BoolVar(&doctorListRepairs, "list-repairs", false, "list available repair actions")
	rootCmd.AddCommand(doctorCmd)
}
