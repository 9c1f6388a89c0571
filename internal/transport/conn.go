// Package transport carries negotiation and session messages over TCP as
// length-prefixed JSON frames, and promotes the connection to TLS in place.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/libp2p/go-msgio"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/model"
)

// MaxFrameSize bounds a single message.
const MaxFrameSize = 8 << 20

var longAgo = time.Unix(1, 0)

// Conn is a framed connection to a grid server. It is not safe for
// concurrent use; one goroutine owns a connection at a time.
type Conn struct {
	raw       net.Conn
	tlsConfig *tls.Config
	log       *logging.Logger

	mu        sync.Mutex
	rw        msgio.ReadWriter
	encrypted bool
	closed    bool
}

// NewConn wraps an established connection. tlsConfig is used by Promote and
// may be nil, in which case promotion verifies against the system roots.
func NewConn(raw net.Conn, tlsConfig *tls.Config, log *logging.Logger) *Conn {
	if log == nil {
		log = logging.Global()
	}
	return &Conn{
		raw:       raw,
		tlsConfig: tlsConfig,
		log:       log,
		rw:        msgio.NewReadWriter(raw),
	}
}

// Dial opens a TCP connection to addr within timeout.
func Dial(ctx context.Context, addr string, timeout time.Duration, tlsConfig *tls.Config, log *logging.Logger) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(raw, tlsConfig, log), nil
}

// bind applies ctx to the socket: its deadline, and cancellation by forcing
// a deadline in the past. The returned function undoes both.
func (c *Conn) bind(ctx context.Context) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = c.raw.SetDeadline(d)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.raw.SetDeadline(longAgo) })
	return func() {
		stop()
		_ = c.raw.SetDeadline(time.Time{})
	}
}

func ioErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Send writes v as one JSON frame.
func (c *Conn) Send(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return errclass.ErrProtocol.WithMessagef("message of %d bytes exceeds frame limit", len(body))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	defer c.bind(ctx)()
	if err := c.rw.WriteMsg(body); err != nil {
		return ioErr(ctx, "write frame", err)
	}
	return nil
}

// ReceiveRaw reads one frame.
func (c *Conn) ReceiveRaw(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, net.ErrClosed
	}
	defer c.bind(ctx)()

	n, err := c.rw.NextMsgLen()
	if err != nil {
		return nil, ioErr(ctx, "read frame", err)
	}
	if n > MaxFrameSize {
		return nil, errclass.ErrProtocol.WithMessagef("frame of %d bytes exceeds limit", n)
	}
	msg, err := c.rw.ReadMsg()
	if err != nil {
		return nil, ioErr(ctx, "read frame", err)
	}
	out := append([]byte(nil), msg...)
	c.rw.ReleaseMsg(msg)
	return out, nil
}

// Receive reads one frame and decodes it into v.
func (c *Conn) Receive(ctx context.Context, v any) error {
	raw, err := c.ReceiveRaw(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errclass.ErrProtocol.WithMessagef("malformed %T: %v", v, err)
	}
	return nil
}

// SendStartup opens the exchange.
func (c *Conn) SendStartup(ctx context.Context, pack model.StartupPack) error {
	return c.Send(ctx, pack)
}

// ReadServerNegotiation reads the server's declared security posture.
func (c *Conn) ReadServerNegotiation(ctx context.Context) (*model.ServerNegotiation, error) {
	var sn model.ServerNegotiation
	if err := c.Receive(ctx, &sn); err != nil {
		return nil, err
	}
	return &sn, nil
}

// Notify sends the negotiation notice.
func (c *Conn) Notify(ctx context.Context, notice model.NegotiationNotice) error {
	return c.Send(ctx, notice)
}

// ReadResponse reads the server's follow-up to a successful notice.
func (c *Conn) ReadResponse(ctx context.Context) ([]byte, error) {
	return c.ReceiveRaw(ctx)
}

// Promote performs a client TLS handshake over the live connection and moves
// framing onto it. A connection is promoted at most once.
func (c *Conn) Promote(ctx context.Context, account model.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if c.encrypted {
		return errclass.ErrChannelPromotion.WithMessage("connection is already encrypted")
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.tlsConfig != nil {
		cfg = c.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = account.Host
	}

	tlsConn := tls.Client(c.raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return errclass.ErrChannelPromotion.WithMessagef("tls handshake with %s: %v", account.Address(), err)
	}
	c.rw = msgio.NewReadWriter(tlsConn)
	c.encrypted = true
	state := tlsConn.ConnectionState()
	c.log.Debug("channel promoted", map[string]any{
		"server_name": cfg.ServerName,
		"tls_version": tls.VersionName(state.Version),
		"cipher":      tls.CipherSuiteName(state.CipherSuite),
	})
	return nil
}

// Encrypted reports whether Promote has succeeded.
func (c *Conn) Encrypted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypted
}

// RemoteAddr is the server address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Close closes the connection. Closing twice is not an error.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.raw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// JSONCapabilityParser decodes a JSON VersionResponse.
type JSONCapabilityParser struct{}

// Parse implements negotiation.CapabilityParser.
func (JSONCapabilityParser) Parse(raw []byte) (*model.StartupResult, error) {
	var v model.VersionResponse
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errclass.ErrProtocol.WithMessagef("malformed version response: %v", err)
	}
	if v.Status < 0 {
		return nil, errclass.ErrProtocol.WithMessagef("server rejected connection with status %d", v.Status)
	}
	return &model.StartupResult{
		Status:         v.Status,
		ReleaseVersion: v.RelVersion,
		APIVersion:     v.APIVersion,
		ReconnectPort:  v.ReconnPort,
		ReconnectAddr:  v.ReconnAddr,
		Cookie:         v.Cookie,
	}, nil
}
