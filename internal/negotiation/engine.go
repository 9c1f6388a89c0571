package negotiation

import (
	"context"
	"fmt"
	"sync"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/metrics"
	"github.com/gridlink-project/gridlink/pkg/model"
)

// Peer is the message channel to the server during negotiation.
type Peer interface {
	Notify(ctx context.Context, notice model.NegotiationNotice) error
	ReadResponse(ctx context.Context) ([]byte, error)
}

// CapabilityParser turns the server's follow-up response into a StartupResult.
type CapabilityParser interface {
	Parse(raw []byte) (*model.StartupResult, error)
}

// ChannelPromoter upgrades the live connection to TLS in place.
type ChannelPromoter interface {
	Promote(ctx context.Context, account model.Account) error
}

// Engine negotiates the security of a single connection.
type Engine struct {
	posture  model.SecurityPosture
	account  model.Account
	peer     Peer
	parser   CapabilityParser
	promoter ChannelPromoter

	log     *logging.Logger
	metrics *metrics.Registry

	mu   sync.Mutex
	used bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The global logger is used otherwise.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics registry. Nothing is recorded otherwise.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine for one connection.
func NewEngine(posture model.SecurityPosture, account model.Account, peer Peer, parser CapabilityParser, promoter ChannelPromoter, opts ...Option) *Engine {
	e := &Engine{
		posture:  posture,
		account:  account,
		peer:     peer,
		parser:   parser,
		promoter: promoter,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.Global()
	}
	return e
}

// Negotiate resolves the outcome against the server's declared posture,
// tells the server, and on success returns the startup result. When the
// outcome is encryption the channel is promoted before returning.
//
// ErrNegotiationFailed means the connection must be closed. An Engine can
// negotiate once.
func (e *Engine) Negotiate(ctx context.Context, server *model.ServerNegotiation) (*model.StartupResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.used {
		return nil, errclass.ErrProtocol.WithMessage("connection already negotiated")
	}
	e.used = true

	serverPosture, err := server.Posture()
	if err != nil {
		e.metrics.RecordNegotiation("protocol_error")
		return nil, err
	}

	outcome := Resolve(e.posture, serverPosture)
	log := e.log.WithFields(map[string]any{
		"client_posture": string(e.posture),
		"server_posture": string(serverPosture),
		"outcome":        string(outcome),
		"account":        e.account.Identity(),
	})
	e.metrics.RecordNegotiation(string(outcome))

	if outcome == model.OutcomeFailure {
		if err := e.peer.Notify(ctx, model.FailureNotice()); err != nil {
			log.ErrorErr("failure notice not delivered", err)
		}
		log.Warn("negotiation failed")
		return nil, errclass.ErrNegotiationFailed.WithMessagef(
			"client %s and server %s postures are incompatible", e.posture, serverPosture)
	}

	if err := e.peer.Notify(ctx, model.SuccessNotice(outcome)); err != nil {
		return nil, fmt.Errorf("send negotiation notice: %w", err)
	}
	raw, err := e.peer.ReadResponse(ctx)
	if err != nil {
		return nil, fmt.Errorf("read startup response: %w", err)
	}
	result, err := e.parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse startup response: %w", err)
	}
	if result == nil {
		return nil, errclass.ErrProtocol.WithMessage("empty startup response")
	}
	result.Negotiated = model.NegotiatedConfiguration{SSLConnection: outcome == model.OutcomeUseEncryption}

	if result.Negotiated.SSLConnection {
		err := e.promoter.Promote(ctx, e.account)
		e.metrics.RecordPromotion(err == nil)
		if err != nil {
			log.ErrorErr("channel promotion failed", err)
			return nil, fmt.Errorf("%w: %w", errclass.ErrChannelPromotion, err)
		}
	}

	log.Info("negotiation complete", map[string]any{"encrypted": result.Negotiated.SSLConnection})
	return result, nil
}
