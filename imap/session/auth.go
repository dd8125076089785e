package session

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"strings"

	"imapd/imap/auth"
	"imapd/imap/backend"
	"imapd/imap/command"
	"imapd/imap/response"
	"imapd/internal/metrics"
)

func (s *Session) cmdLogin(ctx context.Context, tag string, cmd *command.Command) {
	beSession, err := s.cfg.Backend.Login(ctx, string(cmd.Auth.Username), string(cmd.Auth.Password))
	if err != nil {
		metrics.RecordAuth("LOGIN", false)
		s.respW.Tagged(tag, response.NO, "", "LOGIN failed")
		return
	}
	metrics.RecordAuth("LOGIN", true)
	s.completeAuth(tag, string(cmd.Auth.Username), beSession, "LOGIN")
}

func (s *Session) completeAuth(tag, username string, beSession backend.Session, completedBy string) {
	s.beSession = beSession
	s.username = username
	s.state = Authenticated
	caps := strings.Join(s.cfg.Capabilities.PostAuth, " ")
	s.respW.Tagged(tag, response.OK, "CAPABILITY "+caps, "%s completed", completedBy)
}

// externalIdentityFromPeer extracts a peer certificate's Common Name
// for AUTH=EXTERNAL, returning ok=false if the connection is not TLS
// or presented no client certificate.
func (s *Session) externalIdentityFromPeer() (string, bool) {
	tlsConn, ok := s.conn.(*tls.Conn)
	if !ok {
		return "", false
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", false
	}
	return state.PeerCertificates[0].Subject.CommonName, true
}

func (s *Session) cmdAuthenticate(ctx context.Context, tag string, cmd *command.Command) {
	verifier := loginVerifier{ctx: ctx, backend: s.cfg.Backend, session: s}

	mech, err := auth.NewServer(ctx, cmd.Auth.Mechanism, verifier, s.externalIdentityFromPeer)
	if err != nil {
		s.respW.Tagged(tag, response.NO, "", "unsupported SASL mechanism %s", cmd.Auth.Mechanism)
		return
	}

	var response0 []byte
	if cmd.Auth.HasInitial {
		response0 = cmd.Auth.InitialResponse
	} else {
		challenge, done, err := mech.Next(nil)
		if err != nil {
			s.respW.Tagged(tag, response.NO, "", "authentication failed")
			return
		}
		if done {
			s.respW.Tagged(tag, response.NO, "", "authentication failed")
			return
		}
		line, ok := s.readContinuationLine(challenge)
		if !ok {
			s.respW.Tagged(tag, response.BAD, "", "AUTHENTICATE aborted")
			return
		}
		response0 = line
	}

	for {
		challenge, done, err := mech.Next(response0)
		if err != nil {
			s.respW.Tagged(tag, response.NO, "", "authentication failed")
			return
		}
		if done {
			break
		}
		line, ok := s.readContinuationLine(challenge)
		if !ok {
			s.respW.Tagged(tag, response.BAD, "", "AUTHENTICATE aborted")
			return
		}
		response0 = line
	}

	if verifier.lastErr != nil {
		metrics.RecordAuth(cmd.Auth.Mechanism, false)
		s.respW.Tagged(tag, response.NO, "", "authentication failed")
		return
	}
	metrics.RecordAuth(cmd.Auth.Mechanism, true)
	s.completeAuth(tag, verifier.lastUsername, verifier.lastSession, "AUTHENTICATE")
}

// readContinuationLine sends a "+ base64(challenge)" line and reads the
// client's base64 response (or "*" to abort, RFC 3501 section 6.2.2).
func (s *Session) readContinuationLine(challenge []byte) ([]byte, bool) {
	s.respW.Continuation(base64.StdEncoding.EncodeToString(challenge))
	if err := s.respW.Flush(); err != nil {
		return nil, false
	}
	line, err := s.br.ReadSlice('\n')
	if err != nil {
		return nil, false
	}
	line = trimCRLF(line)
	if string(line) == "*" {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(string(line))
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func trimCRLF(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// loginVerifier bridges auth.Verifier (username/password) to the
// Backend.Login call the session layer ultimately needs, so PLAIN
// verification and LOGIN share exactly one authentication path into
// the backend.
type loginVerifier struct {
	ctx     context.Context
	backend backend.Backend
	session *Session

	lastUsername string
	lastSession  backend.Session
	lastErr      error
}

func (v *loginVerifier) Verify(ctx context.Context, username, password string) error {
	beSession, err := v.backend.Login(ctx, username, password)
	v.lastErr = err
	if err != nil {
		return auth.ErrBadCredentials
	}
	v.lastUsername = username
	v.lastSession = beSession
	return nil
}
