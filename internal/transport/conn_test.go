package transport_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/libp2p/go-msgio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlink-project/gridlink/internal/transport"
	"github.com/gridlink-project/gridlink/pkg/config"
	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/model"
)

const testHost = "grid.test"

var testAccount = model.Account{Host: testHost, Port: 1247, Zone: "tempZone", User: "rods"}

type testPKI struct {
	serverConfig *tls.Config
	clientConfig *tls.Config
	certPEM      []byte
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: testHost},
		DNSNames:              []string{testHost},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return &testPKI{
		serverConfig: &tls.Config{
			Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
			MinVersion:   tls.VersionTLS12,
		},
		clientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		certPEM:      pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// tcpPipe returns both ends of a loopback TCP connection. TLS tests use it
// instead of net.Pipe, which has no buffering.
func tcpPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func quietLogger() *logging.Logger {
	l := logging.NewLogger(logging.LevelError)
	l.SetOutput(&bytes.Buffer{})
	return l
}

// fakeServer plays the server side of the startup exchange.
type fakeServer struct {
	t       *testing.T
	posture model.SecurityPosture
	tls     *tls.Config

	startup model.StartupPack
	notice  model.NegotiationNotice
	echoed  string
}

func (s *fakeServer) serve(raw net.Conn) error {
	rw := msgio.NewReadWriter(raw)
	read := func(v any) error {
		msg, err := rw.ReadMsg()
		if err != nil {
			return err
		}
		defer rw.ReleaseMsg(msg)
		return json.Unmarshal(msg, v)
	}
	write := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return rw.WriteMsg(b)
	}

	if err := read(&s.startup); err != nil {
		return err
	}
	if err := write(model.ServerNegotiation{Status: 1, Result: "cs_neg_result_kw=" + string(s.posture) + ";"}); err != nil {
		return err
	}
	if err := read(&s.notice); err != nil {
		return err
	}
	if s.notice.Outcome() == model.OutcomeFailure {
		return nil
	}
	if err := write(model.VersionResponse{RelVersion: "rods4.3.0", APIVersion: "d", ReconnPort: 1248, Cookie: 400}); err != nil {
		return err
	}
	if s.notice.Outcome() != model.OutcomeUseEncryption {
		return nil
	}

	tlsConn := tls.Server(raw, s.tls)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	rw = msgio.NewReadWriter(tlsConn)
	var ping map[string]string
	if err := read(&ping); err != nil {
		return err
	}
	s.echoed = ping["ping"]
	return write(map[string]string{"pong": s.echoed})
}

func runServer(s *fakeServer, raw net.Conn) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.serve(raw)
		raw.Close()
	}()
	return done
}

func TestHandshake_Encrypted(t *testing.T) {
	pki := newTestPKI(t)
	client, srv := tcpPipe(t)
	s := &fakeServer{t: t, posture: model.PostureRequire, tls: pki.serverConfig}
	done := runServer(s, srv)

	conn := transport.NewConn(client, pki.clientConfig, quietLogger())
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := transport.Handshake(ctx, conn, transport.Options{
		Account: testAccount,
		Posture: model.PostureDontCare,
		Logger:  quietLogger(),
	})
	require.NoError(t, err)

	assert.True(t, sess.Startup.Encrypted())
	assert.True(t, conn.Encrypted())
	assert.Equal(t, "rods4.3.0", sess.Startup.ReleaseVersion)
	assert.Equal(t, 1248, sess.Startup.ReconnectPort)
	assert.NotEmpty(t, sess.ID)

	require.NoError(t, conn.Send(ctx, map[string]string{"ping": "hello"}))
	var pong map[string]string
	require.NoError(t, conn.Receive(ctx, &pong))
	assert.Equal(t, "hello", pong["pong"])

	require.NoError(t, <-done)
	assert.True(t, s.startup.RequestNegotiation)
	assert.Equal(t, "rods", s.startup.ClientUser)
	assert.Equal(t, model.SuccessNotice(model.OutcomeUseEncryption), s.notice)
}

func TestHandshake_Plaintext(t *testing.T) {
	client, srv := net.Pipe()
	s := &fakeServer{t: t, posture: model.PostureRefuse}
	done := runServer(s, srv)

	conn := transport.NewConn(client, nil, quietLogger())
	defer conn.Close()

	sess, err := transport.Handshake(context.Background(), conn, transport.Options{
		Account: testAccount,
		Posture: model.PostureDontCare,
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	assert.False(t, sess.Startup.Encrypted())
	assert.False(t, conn.Encrypted())
	require.NoError(t, <-done)
}

func TestHandshake_Failure(t *testing.T) {
	client, srv := net.Pipe()
	s := &fakeServer{t: t, posture: model.PostureRequire}
	done := runServer(s, srv)

	conn := transport.NewConn(client, nil, quietLogger())
	defer conn.Close()

	_, err := transport.Handshake(context.Background(), conn, transport.Options{
		Account: testAccount,
		Posture: model.PostureRefuse,
		Logger:  quietLogger(),
	})
	require.ErrorIs(t, err, errclass.ErrNegotiationFailed)
	require.NoError(t, <-done)
	assert.Equal(t, model.FailureNotice(), s.notice)
	assert.False(t, conn.Encrypted())
}

func TestPromote_OnlyOnce(t *testing.T) {
	pki := newTestPKI(t)
	client, srv := tcpPipe(t)
	go func() {
		tlsConn := tls.Server(srv, pki.serverConfig)
		_ = tlsConn.Handshake()
		buf := make([]byte, 1)
		_, _ = tlsConn.Read(buf)
	}()

	conn := transport.NewConn(client, pki.clientConfig, quietLogger())
	defer conn.Close()

	require.NoError(t, conn.Promote(context.Background(), testAccount))
	err := conn.Promote(context.Background(), testAccount)
	require.ErrorIs(t, err, errclass.ErrChannelPromotion)
}

func TestPromote_UntrustedCertificate(t *testing.T) {
	pki := newTestPKI(t)
	other := newTestPKI(t)
	client, srv := tcpPipe(t)
	go func() {
		_ = tls.Server(srv, pki.serverConfig).Handshake()
		srv.Close()
	}()

	conn := transport.NewConn(client, other.clientConfig, quietLogger())
	defer conn.Close()

	err := conn.Promote(context.Background(), testAccount)
	require.ErrorIs(t, err, errclass.ErrChannelPromotion)
	assert.False(t, conn.Encrypted())
}

func TestReceive_ContextCancelled(t *testing.T) {
	client, srv := net.Pipe()
	defer srv.Close()
	conn := transport.NewConn(client, nil, quietLogger())
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := conn.ReceiveRaw(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadServerNegotiation_Malformed(t *testing.T) {
	client, srv := net.Pipe()
	go func() {
		_ = msgio.NewWriter(srv).WriteMsg([]byte("{not json"))
	}()
	conn := transport.NewConn(client, nil, quietLogger())
	defer conn.Close()

	_, err := conn.ReadServerNegotiation(context.Background())
	require.ErrorIs(t, err, errclass.ErrProtocol)
}

func TestClose_Idempotent(t *testing.T) {
	client, srv := net.Pipe()
	defer srv.Close()
	conn := transport.NewConn(client, nil, quietLogger())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.ErrorIs(t, conn.Send(context.Background(), "x"), net.ErrClosed)
}

func TestJSONCapabilityParser(t *testing.T) {
	p := transport.JSONCapabilityParser{}

	res, err := p.Parse([]byte(`{"status":0,"rel_version":"rods4.3.0","api_version":"d","reconn_port":1248,"reconn_addr":"10.0.0.1","cookie":7}`))
	require.NoError(t, err)
	assert.Equal(t, &model.StartupResult{
		ReleaseVersion: "rods4.3.0", APIVersion: "d", ReconnectPort: 1248, ReconnectAddr: "10.0.0.1", Cookie: 7,
	}, res)

	_, err = p.Parse([]byte(`{"status":-1}`))
	require.ErrorIs(t, err, errclass.ErrProtocol)

	_, err = p.Parse([]byte(`garbage`))
	require.ErrorIs(t, err, errclass.ErrProtocol)
}

func TestBuildTLSConfig(t *testing.T) {
	pki := newTestPKI(t)
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caFile, pki.certPEM, 0600))

	cfg, err := transport.BuildTLSConfig(config.TLSConfig{ServerName: testHost, CAFile: caFile})
	require.NoError(t, err)
	assert.Equal(t, testHost, cfg.ServerName)
	assert.NotNil(t, cfg.RootCAs)

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("nothing"), 0600))
	_, err = transport.BuildTLSConfig(config.TLSConfig{CAFile: empty})
	require.ErrorIs(t, err, errclass.ErrConfigInvalid)
}

func TestConnect_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = transport.Connect(context.Background(), transport.Options{
		Account:     model.Account{Host: "127.0.0.1", Port: addr.Port, Zone: "z", User: "u"},
		Posture:     model.PostureDontCare,
		DialTimeout: time.Second,
		Logger:      quietLogger(),
	})
	require.Error(t, err)
}

func TestConnect_OverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := &fakeServer{t: t, posture: model.PostureDontCare}
	done := make(chan error, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		done <- s.serve(raw)
		raw.Close()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	sess, err := transport.Connect(context.Background(), transport.Options{
		Account:     model.Account{Host: "127.0.0.1", Port: addr.Port, Zone: "tempZone", User: "rods"},
		Posture:     model.PostureRefuse,
		DialTimeout: time.Second,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	defer sess.Close()

	assert.False(t, sess.Startup.Encrypted())
	require.NoError(t, <-done)
}
