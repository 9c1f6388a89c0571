package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridlink-project/gridlink/internal/transport"
	"github.com/gridlink-project/gridlink/pkg/color"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/metrics"
	"github.com/gridlink-project/gridlink/pkg/model"
)

var (
	negotiateHost   string
	negotiatePort   int
	negotiatePolicy string
)

type negotiateOutput struct {
	Session   string               `json:"session"`
	Server    string               `json:"server"`
	Encrypted bool                 `json:"encrypted"`
	Startup   *model.StartupResult `json:"startup"`
}

var negotiateCmd = &cobra.Command{
	Use:   "negotiate",
	Short: "Connect to the server and negotiate channel security",
	Long: `Connect to the configured server, run the startup exchange and the
security negotiation, then print the server's startup result.

Examples:
  gridlink negotiate
  gridlink negotiate --host grid.example.org --policy CS_NEG_REQUIRE`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if negotiateHost != "" {
			cfg.Connection.Host = negotiateHost
		}
		if negotiatePort != 0 {
			cfg.Connection.Port = negotiatePort
		}
		if negotiatePolicy != "" {
			cfg.Connection.NegotiationPolicy = negotiatePolicy
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		opts, err := transport.OptionsFromConfig(cfg)
		if err != nil {
			return err
		}
		opts.Logger = logging.Global()
		opts.Metrics = metrics.Default()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		sess, err := transport.Connect(ctx, opts)
		if err != nil {
			return err
		}
		defer sess.Close()

		out := negotiateOutput{
			Session:   sess.ID,
			Server:    opts.Account.Address(),
			Encrypted: sess.Startup.Encrypted(),
			Startup:   sess.Startup,
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), out)
		}
		return printNegotiation(cmd, out)
	},
}

func printNegotiation(cmd *cobra.Command, out negotiateOutput) error {
	w := cmd.OutOrStdout()
	channel := color.Warning("plaintext")
	if out.Encrypted {
		channel = color.Success("TLS")
	}
	fmt.Fprintf(w, "Connected to %s (%s)\n", out.Server, channel)
	fmt.Fprintf(w, "  session:  %s\n", out.Session)
	fmt.Fprintf(w, "  release:  %s\n", out.Startup.ReleaseVersion)
	fmt.Fprintf(w, "  api:      %s\n", out.Startup.APIVersion)
	if out.Startup.ReconnectPort != 0 {
		fmt.Fprintf(w, "  reconnect: %s:%d\n", out.Startup.ReconnectAddr, out.Startup.ReconnectPort)
	}
	return nil
}

func init() {
	negotiateCmd.Flags().StringVar(&negotiateHost, "host", "", "server host (overrides config)")
	negotiateCmd.Flags().IntVar(&negotiatePort, "port", 0, "server port (overrides config)")
	negotiateCmd.Flags().StringVar(&negotiatePolicy, "policy", "", "client security posture: CS_NEG_REQUIRE, CS_NEG_DONT_CARE or CS_NEG_REFUSE")
	rootCmd.AddCommand(negotiateCmd)
}
