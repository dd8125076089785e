// Package session implements the connection state machine (component
// C7): the five-state automaton of RFC 3501 section 3, the
// command-admissibility matrix, STARTTLS/COMPRESS stream upgrades, and
// the dispatch loop that turns a parsed command.Command into backend
// calls and response.Writer output.
package session

import (
	"bufio"
	"compress/flate"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"crawshaw.io/iox"

	"imapd/imap/auth"
	"imapd/imap/backend"
	"imapd/imap/command"
	"imapd/imap/mailview"
	"imapd/imap/response"
	"imapd/imap/wire"
	"imapd/internal/metrics"
)

// Capabilities lists the extensions this engine advertises, split by
// whether they require authentication first.
type Capabilities struct {
	PreAuth  []string
	PostAuth []string
}

// DefaultCapabilities matches SPEC_FULL section 6: the extension set
// this engine implements.
var DefaultCapabilities = Capabilities{
	PreAuth: []string{
		"IMAP4rev1", "LITERAL+", "SASL-IR", "ID", "ENABLE", "STARTTLS",
	},
	PostAuth: []string{
		"IMAP4rev1", "LITERAL+", "SASL-IR", "ID", "ENABLE", "IDLE",
		"NAMESPACE", "UIDPLUS", "MOVE", "UNSELECT", "CHILDREN",
		"COMPRESS=DEFLATE",
	},
}

// Config carries the fixed, per-listener settings a Session needs.
type Config struct {
	ServerName string
	Version    string

	Backend      backend.Backend
	Capabilities Capabilities

	// TLSConfig, if set, is used both for an immediate-TLS listener
	// (the caller wraps the net.Conn before calling NewSession) and for
	// STARTTLS. AllowExternalAuth gates advertising AUTH=EXTERNAL,
	// meaningful only once the connection is already under TLS with a
	// peer certificate.
	TLSConfig         *tls.Config
	AllowExternalAuth bool

	MaxLiteral uint32 // 0 means wire.Scanner's default (40 MiB)

	// IdleTimeout bounds how long the server waits for a command before
	// closing the connection (RFC 3501 section 5.4 recommends at least
	// 30 minutes). IdleIdleTimeout is the (shorter) deadline applied
	// while an IDLE command is outstanding, recommended slightly under
	// IdleTimeout so the server can send a periodic keepalive first.
	IdleTimeout     time.Duration
	IdleIdleTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Session drives one client connection through ParseCommand/dispatch
// until LOGOUT, a fatal I/O error, or Close.
type Session struct {
	cfg Config

	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	respW  *response.Writer
	parser *command.Parser
	litBuf *iox.BufferFile

	state State
	tag   string // tag of the command currently executing, for logging

	isTLS           bool
	peerIsLocalhost bool
	compressFlush   func() error

	beSession backend.Session
	username  string

	mbox backend.MailboxSession
	view *mailview.View

	log *slog.Logger

	closeOnce bool
}

// NewSession constructs a Session over conn. litBuf is a scratch buffer
// literal bytes spill into; the caller owns its lifecycle (typically
// one per connection, released on Close).
func NewSession(cfg Config, conn net.Conn, litBuf *iox.BufferFile) *Session {
	_, isTLS := conn.(*tls.Conn)
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	s := &Session{
		cfg:             cfg,
		conn:            conn,
		state:           NotAuthenticated,
		isTLS:           isTLS,
		peerIsLocalhost: host == "127.0.0.1" || host == "::1" || host == "localhost",
		litBuf:          litBuf,
		log:             cfg.logger().With("remote_addr", conn.RemoteAddr().String()),
	}
	s.initStreams(conn, conn)
	return s
}

func (s *Session) initStreams(r io.Reader, w io.Writer) {
	s.br = bufio.NewReader(r)
	s.bw = bufio.NewWriter(w)
	if s.respW == nil {
		s.respW = response.NewWriter(s.bw)
	} else {
		s.respW.SetSink(s.bw)
	}
	contFn := func(msg string, _ uint32) {
		s.bw.WriteString(msg)
		s.bw.Flush()
	}
	maxLit := s.cfg.MaxLiteral
	if s.parser == nil {
		scanner := wire.NewScanner(s.br, s.litBuf, contFn)
		if maxLit != 0 {
			scanner.MaxLiteral = maxLit
		}
		s.parser = &command.Parser{Scanner: scanner, DecodeCharset: decodeCharset}
	} else {
		s.parser.Scanner.SetSource(s.br)
	}
}

// Serve runs the command loop until the client logs out, the
// connection fails, or ctx is done. It always returns with the
// connection in the Closed state; the caller is responsible for
// conn.Close().
func (s *Session) Serve(ctx context.Context) error {
	defer s.teardown()

	s.respW.Untagged("OK %s %s ready", s.cfg.ServerName, s.cfg.Version)
	if err := s.respW.Flush(); err != nil {
		return err
	}

	for s.state != Logout && s.state != Closed {
		if ctx.Err() != nil {
			s.respW.Untagged("BYE server shutting down")
			s.respW.Flush()
			return ctx.Err()
		}

		deadline := s.cfg.IdleTimeout
		if deadline <= 0 {
			deadline = 30 * time.Minute
		}
		s.conn.SetReadDeadline(time.Now().Add(deadline))

		err := s.parser.ParseCommand()
		if err == nil {
			s.dispatch(ctx)
			continue
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			s.respW.Untagged("BYE idle timeout")
			s.respW.Flush()
			return nil
		}
		if errors.Is(err, wire.ErrNonSyncLiteralTooLarge) {
			s.respW.Untagged("BYE literal too large")
			s.respW.Flush()
			return nil
		}

		if te, ok := err.(command.TaggedError); ok {
			s.respW.Tagged(te.Tag, response.BAD, "", "%v", te.Err)
			if ferr := s.respW.Flush(); ferr != nil {
				return ferr
			}
			continue
		}
		if _, ok := err.(command.ParseError); ok {
			s.respW.Untagged("BAD %v", err)
			if ferr := s.respW.Flush(); ferr != nil {
				return ferr
			}
			continue
		}
		s.log.Warn("connection error", "err", err)
		return err
	}
	return nil
}

func (s *Session) teardown() {
	if s.closeOnce {
		return
	}
	s.closeOnce = true
	s.closeMailbox()
	if s.beSession != nil {
		s.beSession.Close()
	}
	s.state = Closed
}

func (s *Session) closeMailbox() {
	if s.mbox != nil {
		s.mbox.Close()
		s.mbox = nil
	}
	s.view = nil
}

// flushPendingUpdates writes any untagged EXISTS/EXPUNGE/FETCH that
// accumulated since the last command, per RFC 3501 section 5.2: the
// server may (and here does) send these immediately before a tagged
// response to any command.
func (s *Session) flushPendingUpdates() {
	if s.view == nil {
		return
	}
	for _, u := range s.view.Flush() {
		switch u.Kind {
		case mailview.UpdateExists:
			s.respW.Untagged("%d EXISTS", u.Count)
		case mailview.UpdateExpunge:
			s.respW.Untagged("%d EXPUNGE", u.SeqNumOf())
		case mailview.UpdateFetch:
			s.respW.Untagged("%d FETCH (FLAGS (%s) UID %d)", s.view.SeqNum(u.UID), strings.Join(u.Flags, " "), u.UID)
		}
	}
}

func (s *Session) dispatch(ctx context.Context) {
	cmd := &s.parser.Command
	tag := string(cmd.Tag)
	name := string(cmd.Name)
	start := time.Now()
	defer func() { metrics.RecordCommand(name, time.Since(start).Seconds()) }()

	s.flushPendingUpdates()

	if !isAdmissible(name, s.state) {
		s.respW.Tagged(tag, response.BAD, "", "%s not allowed in the %s state", name, s.state)
		s.respW.Flush()
		return
	}

	switch cmd.Name {
	case command.CapabilityCmd:
		s.cmdCapability(tag)
	case command.NoopCmd:
		s.respW.Tagged(tag, response.OK, "", "NOOP completed")
	case command.LogoutCmd:
		s.cmdLogout(tag)
	case command.StartTLSCmd:
		s.cmdStartTLS(tag)
	case command.AuthenticateCmd:
		s.cmdAuthenticate(ctx, tag, cmd)
	case command.LoginCmd:
		s.cmdLogin(ctx, tag, cmd)
	case command.IDCmd:
		s.cmdID(tag, cmd)
	case command.EnableCmd:
		s.cmdEnable(tag, cmd)
	case command.NamespaceCmd:
		s.cmdNamespace(tag)
	case command.CompressCmd:
		s.cmdCompress(tag)
	case command.SelectCmd, command.ExamineCmd:
		s.cmdSelect(ctx, tag, cmd)
	case command.CreateCmd:
		s.cmdCreate(ctx, tag, cmd)
	case command.DeleteCmd:
		s.cmdDelete(ctx, tag, cmd)
	case command.RenameCmd:
		s.cmdRename(ctx, tag, cmd)
	case command.SubscribeCmd:
		s.cmdSubscribe(ctx, tag, cmd, true)
	case command.UnsubscribeCmd:
		s.cmdSubscribe(ctx, tag, cmd, false)
	case command.ListCmd:
		s.cmdList(ctx, tag, cmd, false)
	case command.LsubCmd:
		s.cmdList(ctx, tag, cmd, true)
	case command.StatusCmd:
		s.cmdStatus(ctx, tag, cmd)
	case command.AppendCmd:
		s.cmdAppend(ctx, tag, cmd)
	case command.UnselectCmd:
		s.cmdUnselect(tag)
	case command.CheckCmd:
		s.respW.Tagged(tag, response.OK, "", "CHECK completed")
	case command.CloseCmd:
		s.cmdClose(ctx, tag)
	case command.ExpungeCmd:
		s.cmdExpunge(ctx, tag, cmd)
	case command.SearchCmd:
		s.cmdSearch(ctx, tag, cmd)
	case command.FetchCmd:
		s.cmdFetch(ctx, tag, cmd)
	case command.StoreCmd:
		s.cmdStore(ctx, tag, cmd)
	case command.CopyCmd, command.MoveCmd:
		s.cmdCopyOrMove(ctx, tag, cmd)
	case command.IdleCmd:
		s.cmdIdle(ctx, tag)
	default:
		s.respW.Tagged(tag, response.BAD, "", "unsupported command %s", name)
	}

	s.respW.Flush()
}

func (s *Session) cmdCapability(tag string) {
	caps := s.cfg.Capabilities.PreAuth
	if s.state != NotAuthenticated {
		caps = s.cfg.Capabilities.PostAuth
	}
	line := strings.Join(caps, " ")
	if s.state == NotAuthenticated && !s.isTLS {
		line += " " + strings.Join(authMechanismCapabilities(s.cfg, s.peerIsLocalhost), " ")
	}
	s.respW.Untagged("CAPABILITY %s", line)
	s.respW.Tagged(tag, response.OK, "", "CAPABILITY completed")
}

func authMechanismCapabilities(cfg Config, peerIsLocalhost bool) []string {
	if !peerIsLocalhost {
		return nil
	}
	var out []string
	for _, m := range auth.SupportedMechanisms(cfg.AllowExternalAuth) {
		out = append(out, "AUTH="+m)
	}
	return out
}

func (s *Session) cmdLogout(tag string) {
	s.respW.Untagged("BYE logging out")
	s.respW.Tagged(tag, response.OK, "", "LOGOUT completed")
	s.state = Logout
}

func (s *Session) cmdStartTLS(tag string) {
	if s.isTLS {
		s.respW.Tagged(tag, response.BAD, "", "already using TLS")
		return
	}
	if s.cfg.TLSConfig == nil {
		s.respW.Tagged(tag, response.NO, "", "TLS not available")
		return
	}
	s.respW.Tagged(tag, response.OK, "", "begin TLS negotiation now")
	if err := s.respW.Flush(); err != nil {
		s.state = Closed
		return
	}

	// Pipelined plaintext after the tagged OK is a protocol violation: a
	// client must wait for the TLS handshake before sending more data.
	// Accepting it would let an attacker inject commands that get
	// interpreted as if they arrived over TLS.
	if s.br.Buffered() > 0 {
		s.log.Warn("STARTTLS: pipelined plaintext after command, closing connection")
		s.state = Closed
		return
	}

	tlsConn := tls.Server(s.conn, s.cfg.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.log.Warn("STARTTLS handshake failed", "err", err)
		s.state = Closed
		return
	}
	s.conn = tlsConn
	s.isTLS = true
	s.initStreams(tlsConn, tlsConn)
}

func (s *Session) cmdCompress(tag string) {
	if s.compressFlush != nil {
		s.respW.Tagged(tag, response.NO, "COMPRESSIONACTIVE", "DEFLATE already active")
		return
	}
	s.respW.Tagged(tag, response.OK, "", "DEFLATE active")
	if err := s.respW.Flush(); err != nil {
		s.state = Closed
		return
	}

	fr := flate.NewReader(s.conn)
	fw, _ := flate.NewWriter(s.conn, flate.DefaultCompression)
	s.compressFlush = fw.Flush
	s.initStreams(fr, fw)
}

func (s *Session) cmdID(tag string, cmd *command.Command) {
	s.respW.Untagged(`ID ("name" "%s" "version" "%s")`, s.cfg.ServerName, s.cfg.Version)
	s.respW.Tagged(tag, response.OK, "", "ID completed")
}

func (s *Session) cmdEnable(tag string, cmd *command.Command) {
	// This engine's extensions are all either always-on or negotiated
	// elsewhere (COMPRESS, STARTTLS); ENABLE's arguments are accepted
	// and ignored per RFC 5161's "a server MAY ignore ENABLE".
	s.respW.Tagged(tag, response.OK, "", "ENABLE completed")
}

func (s *Session) cmdNamespace(tag string) {
	s.respW.Untagged(`NAMESPACE (("" "/")) NIL NIL`)
	s.respW.Tagged(tag, response.OK, "", "NAMESPACE completed")
}

func (s *Session) cmdUnselect(tag string) {
	s.closeMailbox()
	s.state = Authenticated
	s.respW.Tagged(tag, response.OK, "", "UNSELECT completed")
}

func decodeCharset(charset string, b []byte) ([]byte, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Bytes(b)
}
