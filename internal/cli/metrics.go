package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridlink-project/gridlink/pkg/metrics"
)

var (
	metricsAddr string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Start Prometheus metrics server",
	Long: `Start a Prometheus metrics server.

This exposes a /metrics endpoint with Prometheus-format metrics about:
- Security negotiations by outcome
- TLS channel promotions
- Restart ledger operations
- Transfer attempts and confirmed bytes

The metrics server runs in the foreground until interrupted.

Examples:
  gridlink metrics                    # Start on default port :2112
  gridlink metrics --addr :9090       # Start on custom port`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Metrics available at http://%s/metrics\n", metricsAddr)
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		if err := metrics.Default().Serve(ctx, metricsAddr); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	},
}

func init() {
	metricsCmd.Flags().StringVarP(&metricsAddr, "addr", "a", ":2112", "address to listen on")
	rootCmd.AddCommand(metricsCmd)
}
