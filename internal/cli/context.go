package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/gridlink-project/gridlink/pkg/color"
	"github.com/gridlink-project/gridlink/pkg/config"
	"github.com/gridlink-project/gridlink/pkg/gridlink"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/metrics"
	"github.com/gridlink-project/gridlink/pkg/model"
)

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// loadConfig loads the configuration and installs the logger it describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, err
	}
	logging.SetGlobal(logging.New(cfg.Logging.Level, cfg.Logging.Format))
	return cfg, nil
}

// openClient loads the configuration and opens the restart ledger.
func openClient() (*gridlink.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return gridlink.Open(cfg, gridlink.WithLogger(logging.Global()), gridlink.WithMetrics(metrics.Default()))
}

// restartID builds the identifier of "<type> <remote-path>" for the
// --account override or, when it is empty, the configured account.
func restartID(c *gridlink.Client, args []string) (model.RestartIdentifier, error) {
	typ := model.RestartType(strings.ToUpper(args[0]))
	if restartAccount != "" {
		return model.NewRestartIdentifier(typ, restartAccount, args[1])
	}
	return c.RestartID(typ, args[1])
}

func fmtErr(format string, args ...any) {
	prefix := "gridlink: "
	if color.Enabled() {
		prefix = color.Error("gridlink:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
