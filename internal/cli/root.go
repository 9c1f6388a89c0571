package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridlink-project/gridlink/pkg/color"
)

var (
	jsonOutput bool
	configPath string
	noColor    bool
	rootCmd    = &cobra.Command{
		Use:   "gridlink",
		Short: "gridlink - storage grid client",
		Long: `gridlink connects to a storage grid server, negotiates whether the
connection is encrypted, and keeps a restart ledger so interrupted parallel
transfers resume where each worker stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.gridlink/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		if hint := hintFor(err); hint != "" {
			fmt.Fprintln(os.Stderr, color.Dim("  "+hint))
		}
		os.Exit(1)
	}
}

// outputJSON writes v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
