package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/gridlink-project/gridlink/internal/negotiation"
	"github.com/gridlink-project/gridlink/pkg/config"
	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/metrics"
	"github.com/gridlink-project/gridlink/pkg/model"
	"github.com/gridlink-project/gridlink/pkg/uuidutil"
)

// ClientOption is sent in the startup pack to name this client.
const ClientOption = "gridlink"

// Options describes a connection to open.
type Options struct {
	Account     model.Account
	Posture     model.SecurityPosture
	DialTimeout time.Duration
	TLS         *tls.Config
	Logger      *logging.Logger
	Metrics     *metrics.Registry
}

// OptionsFromConfig builds connection options from configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	posture, err := cfg.ClientPosture()
	if err != nil {
		return Options{}, err
	}
	tlsConfig, err := BuildTLSConfig(cfg.Connection.TLS)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Account:     cfg.Account(),
		Posture:     posture,
		DialTimeout: cfg.Connection.DialTimeout,
		TLS:         tlsConfig,
	}, nil
}

// BuildTLSConfig turns the tls configuration section into a client config.
func BuildTLSConfig(c config.TLSConfig) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in from configuration
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(config.ExpandHome(c.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errclass.ErrConfigInvalid.WithMessagef("no certificates in %s", c.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Session is a negotiated connection.
type Session struct {
	ID      string
	Conn    *Conn
	Startup *model.StartupResult
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.Conn.Close()
}

// Connect dials the account's server and negotiates the channel.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Global()
	}
	conn, err := Dial(ctx, opts.Account.Address(), opts.DialTimeout, opts.TLS, log)
	if err != nil {
		return nil, err
	}
	sess, err := Handshake(ctx, conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

// Handshake runs the startup exchange and negotiation on an open connection.
// The caller closes conn on error.
func Handshake(ctx context.Context, conn *Conn, opts Options) (*Session, error) {
	id := uuidutil.NewV4()
	log := opts.Logger
	if log == nil {
		log = logging.Global()
	}
	log = log.WithFields(map[string]any{"conn_id": uuidutil.Short(id), "server": opts.Account.Address()})

	pack := model.StartupPack{
		ProxyUser:          opts.Account.User,
		ProxyZone:          opts.Account.Zone,
		ClientUser:         opts.Account.User,
		ClientZone:         opts.Account.Zone,
		Option:             ClientOption,
		RequestNegotiation: true,
	}
	if err := conn.SendStartup(ctx, pack); err != nil {
		return nil, fmt.Errorf("send startup: %w", err)
	}
	server, err := conn.ReadServerNegotiation(ctx)
	if err != nil {
		return nil, fmt.Errorf("read server negotiation: %w", err)
	}

	engine := negotiation.NewEngine(opts.Posture, opts.Account, conn, JSONCapabilityParser{}, conn,
		negotiation.WithLogger(log), negotiation.WithMetrics(opts.Metrics))
	startup, err := engine.Negotiate(ctx, server)
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, Conn: conn, Startup: startup}, nil
}
