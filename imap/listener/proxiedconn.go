package listener

import (
	"bufio"
	"net"
)

func bufioReaderOf(c net.Conn) *bufio.Reader {
	return bufio.NewReader(c)
}

// proxiedConn is a net.Conn whose Read is satisfied from a bufio.Reader
// that has already consumed a PROXY-PROTOCOL header, so bytes the
// reader peeked past the header (IMAP greeting traffic, or the TLS
// ClientHello on an implicit-TLS endpoint) aren't lost.
type proxiedConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *proxiedConn) Read(b []byte) (int, error) {
	return c.br.Read(b)
}
