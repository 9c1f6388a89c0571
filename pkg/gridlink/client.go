package gridlink

import (
	"context"
	"fmt"

	"github.com/gridlink-project/gridlink/internal/doctor"
	"github.com/gridlink-project/gridlink/internal/ledger"
	"github.com/gridlink-project/gridlink/internal/restartstore"
	"github.com/gridlink-project/gridlink/internal/transfer"
	"github.com/gridlink-project/gridlink/internal/transport"
	"github.com/gridlink-project/gridlink/pkg/config"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/metrics"
	"github.com/gridlink-project/gridlink/pkg/model"
)

// Client provides high-level gridlink operations.
type Client struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Registry
	store   restartstore.Store
	ledger  *ledger.Ledger
	runner  *transfer.Runner
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger. By default one is built from cfg.Logging.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the metrics registry. By default nothing is recorded.
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Client) { c.metrics = m }
}

// Open validates cfg and opens the restart ledger it describes.
func Open(cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	store, err := restartstore.Open(cfg.Restart, c.log)
	if err != nil {
		return nil, fmt.Errorf("open restart store: %w", err)
	}
	c.store = store
	c.ledger = ledger.New(store, ledger.WithLogger(c.log), ledger.WithMetrics(c.metrics))
	c.runner = transfer.NewRunner(c.ledger, cfg.Restart.Backoff, c.log, c.metrics)
	return c, nil
}

// Config returns the configuration the client was opened with.
func (c *Client) Config() *config.Config { return c.cfg }

// Ledger returns the restart ledger.
func (c *Client) Ledger() *ledger.Ledger { return c.ledger }

// Connect opens a negotiated session to the configured server.
func (c *Client) Connect(ctx context.Context) (*transport.Session, error) {
	opts, err := transport.OptionsFromConfig(c.cfg)
	if err != nil {
		return nil, err
	}
	opts.Logger = c.log
	opts.Metrics = c.metrics
	return transport.Connect(ctx, opts)
}

// RestartID builds the ledger key of a transfer of remotePath by the
// configured account.
func (c *Client) RestartID(typ model.RestartType, remotePath string) (model.RestartIdentifier, error) {
	return model.NewRestartIdentifier(typ, c.cfg.Account().Identity(), remotePath)
}

// Transfer runs job with fn as the worker, resuming from the ledger. A zero
// job.Threads uses the configured thread count.
func (c *Client) Transfer(ctx context.Context, job transfer.Job, fn transfer.SegmentFunc) error {
	if job.Threads == 0 {
		job.Threads = c.cfg.Transfer.Threads
	}
	return c.runner.Run(ctx, job, fn)
}

// Doctor checks the restart ledger.
func (c *Client) Doctor(ctx context.Context, strict bool) (*doctor.Result, error) {
	return c.newDoctor().Check(ctx, strict)
}

func (c *Client) newDoctor() *doctor.Doctor {
	dir := ""
	if c.cfg.Restart.Backend == config.BackendFile {
		dir = config.ExpandHome(c.cfg.Restart.Dir)
	}
	return doctor.NewDoctor(c.ledger, dir)
}

// Repair runs doctor repair actions.
func (c *Client) Repair(ctx context.Context, actions []string) ([]doctor.RepairResult, error) {
	return c.newDoctor().Repair(ctx, actions)
}

// RepairActions lists the repairs Repair understands.
func (c *Client) RepairActions() []doctor.RepairAction {
	return c.newDoctor().ListRepairActions()
}

// Close releases the restart store.
func (c *Client) Close() error {
	return c.store.Close()
}
