package listener_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"testing"
	"time"

	"crawshaw.io/iox"

	"imapd/imap/listener"
	"imapd/imap/memtest"
	"imapd/imap/session"
	"imapd/util/tlstest"
)

func newFiler(t *testing.T) *iox.Filer {
	t.Helper()
	filer := iox.NewFiler(0)
	filer.DefaultBufferMemSize = 1 << 20
	filer.Logf = t.Logf
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		filer.Shutdown(ctx)
	})
	return filer
}

func newBackend(t *testing.T) *memtest.Store {
	t.Helper()
	store := memtest.NewStore()
	if err := store.AddUser("alice", "wonderland"); err != nil {
		t.Fatal(err)
	}
	return store
}

// client wraps a connection with line-oriented helpers for driving a
// session the way a real IMAP client would.
type client struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func dial(t *testing.T, addr net.Addr) *client {
	t.Helper()
	conn, err := net.Dial(addr.Network(), addr.String())
	if err != nil {
		t.Fatal(err)
	}
	return &client{t: t, conn: conn, br: bufio.NewReader(conn)}
}

func (c *client) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.br.ReadString('\n')
	if err != nil {
		c.t.Fatalf("readLine: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *client) send(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		c.t.Fatalf("send: %v", err)
	}
}

// untilTagged reads lines until one starts with tag+" ", returning the
// full set of lines read (untagged responses included).
func (c *client) untilTagged(tag string) []string {
	var lines []string
	for {
		line := c.readLine()
		lines = append(lines, line)
		if strings.HasPrefix(line, tag+" ") {
			return lines
		}
	}
}

func testConfig(backend *memtest.Store, tlsConfig *tls.Config) session.Config {
	return session.Config{
		ServerName:   "test.invalid",
		Version:      "test",
		Backend:      backend,
		Capabilities: session.DefaultCapabilities,
		TLSConfig:    tlsConfig,
		MaxLiteral:   1 << 20,
	}
}

func TestLoginSelectLogout(t *testing.T) {
	filer := newFiler(t)
	backend := newBackend(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := &listener.Server{
		Config: testConfig(backend, tlstest.ServerConfig),
		Filer:  filer,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, listener.Endpoint{Listener: ln})
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	})

	c := dial(t, ln.Addr())
	defer c.conn.Close()

	greeting := c.readLine()
	if !strings.Contains(greeting, "OK") {
		t.Fatalf("unexpected greeting: %q", greeting)
	}

	c.send("a1 LOGIN alice wonderland")
	lines := c.untilTagged("a1")
	if !strings.Contains(lines[len(lines)-1], "a1 OK") {
		t.Fatalf("LOGIN failed: %v", lines)
	}

	c.send("a2 SELECT INBOX")
	lines = c.untilTagged("a2")
	if !strings.Contains(lines[len(lines)-1], "a2 OK") {
		t.Fatalf("SELECT failed: %v", lines)
	}
	sawExists := false
	for _, l := range lines {
		if strings.Contains(l, "EXISTS") {
			sawExists = true
		}
	}
	if !sawExists {
		t.Fatalf("SELECT response missing EXISTS: %v", lines)
	}

	c.send("a3 LOGOUT")
	lines = c.untilTagged("a3")
	if !strings.Contains(lines[len(lines)-1], "a3 OK") {
		t.Fatalf("LOGOUT failed: %v", lines)
	}
}

func TestImplicitTLS(t *testing.T) {
	filer := newFiler(t)
	backend := newBackend(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := &listener.Server{
		Config: testConfig(backend, tlstest.ServerConfig),
		Filer:  filer,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, listener.Endpoint{Listener: ln, ImplicitTLS: true})
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	})

	rawConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer rawConn.Close()

	tlsConn := tls.Client(rawConn, tlstest.ClientConfig)
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("TLS handshake failed: %v", err)
	}

	c := &client{t: t, conn: tlsConn, br: bufio.NewReader(tlsConn)}
	greeting := c.readLine()
	if !strings.Contains(greeting, "OK") {
		t.Fatalf("unexpected greeting over TLS: %q", greeting)
	}
}

// TestShutdown verifies a session idle in the read loop (no command
// in flight) gets force-closed once Shutdown's grace period elapses,
// since context cancellation alone cannot interrupt a blocking Read.
func TestShutdown(t *testing.T) {
	filer := newFiler(t)
	backend := newBackend(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := &listener.Server{
		Config:        testConfig(backend, nil),
		Filer:         filer,
		ShutdownGrace: 100 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, listener.Endpoint{Listener: ln})

	c := dial(t, ln.Addr())
	defer c.conn.Close()
	c.readLine() // greeting

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.br.ReadString('\n'); err == nil {
		t.Fatal("expected the connection to be closed after the shutdown grace period")
	}
}

// TestGracefulLogoutDuringShutdown verifies a session actively
// processing a command still completes it and replies normally even
// after Shutdown has been called, since the state machine only checks
// ctx between commands.
func TestGracefulLogoutDuringShutdown(t *testing.T) {
	filer := newFiler(t)
	backend := newBackend(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := &listener.Server{
		Config:        testConfig(backend, nil),
		Filer:         filer,
		ShutdownGrace: 2 * time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, listener.Endpoint{Listener: ln})

	c := dial(t, ln.Addr())
	defer c.conn.Close()
	c.readLine() // greeting

	c.send("a1 LOGIN alice wonderland")
	c.untilTagged("a1")

	go srv.Shutdown(context.Background())

	c.send("a2 LOGOUT")
	lines := c.untilTagged("a2")
	if !strings.Contains(lines[len(lines)-1], "a2 OK") {
		t.Fatalf("LOGOUT during shutdown failed: %v", lines)
	}
}
