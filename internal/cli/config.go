package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gridlink-project/gridlink/pkg/config"
	"github.com/gridlink-project/gridlink/pkg/errclass"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage gridlink configuration",
	Long: `Manage gridlink configuration stored in ~/.gridlink/config.yaml.

Every setting can be overridden with a GRIDLINK_ environment variable, for
example GRIDLINK_HOST, GRIDLINK_NEGOTIATION_POLICY or
GRIDLINK_RESTART_MAX_ATTEMPTS.

Available commands:
  show    - Show the effective configuration
  init    - Write a default configuration file`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Show the configuration after defaults, the config file and GRIDLINK_ environment variables are applied.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), cfg)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# Location: %s\n\n%s", resolvedConfigPath(), data)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file.

The restart backend ships without an attempt limit; set restart.max_attempts
before running transfers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolvedConfigPath()
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return errclass.ErrInvalidArgument.WithMessagef("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat config: %w", err)
		}

		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
