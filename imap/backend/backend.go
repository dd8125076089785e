// Package backend defines the storage contract (component C5) the
// session layer drives: a Backend authenticates connections into a
// Session, and a Session opens named mailboxes into a MailboxSession
// that does the actual FETCH/STORE/SEARCH/COPY/MOVE/EXPUNGE/APPEND
// work and streams change notifications for IDLE.
//
// This mirrors the split the teacher's imap.Session/imap.Mailbox pair
// makes, generalized to the full command surface this engine supports
// and decoupled from any one backing store.
package backend

import (
	"context"
	"io"
	"time"

	"imapd/imap/command"
	"imapd/imap/mailview"
	"imapd/imap/wire"
)

// Error is a typed backend failure the session layer maps to a
// specific IMAP response code (see imap/response).
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrNotFound
	ErrAlreadyExists
	ErrReadOnly
	ErrOverQuota
	ErrBadName
	ErrClosed
	ErrTransient // caller should retry or report a temporary failure
)

func NewError(kind ErrorKind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// Backend authenticates a connection. Implementations typically wrap a
// credential store (see imap/auth for the SASL/PLAIN mechanics that sit
// in front of this).
type Backend interface {
	// Login verifies a plaintext username/password pair (used by LOGIN
	// and AUTHENTICATE PLAIN) and returns a Session scoped to that user.
	Login(ctx context.Context, username, password string) (Session, error)
}

// Session is the set of mailbox-management operations available once a
// connection is Authenticated, before any mailbox is SELECTed.
type Session interface {
	// ListMailboxes returns every mailbox whose name matches pattern
	// relative to ref, per RFC 3501 section 6.3.8. subscribedOnly
	// restricts to the LSUB form.
	ListMailboxes(ctx context.Context, ref, pattern string, subscribedOnly bool) ([]MailboxInfo, error)

	StatusMailbox(ctx context.Context, name string, items []command.StatusItem) (MailboxStatus, error)

	CreateMailbox(ctx context.Context, name string) error
	DeleteMailbox(ctx context.Context, name string) error
	RenameMailbox(ctx context.Context, old, new string) error

	Subscribe(ctx context.Context, name string) error
	Unsubscribe(ctx context.Context, name string) error

	// Select opens name for the SELECT or EXAMINE command. readOnly
	// forces EXAMINE semantics even if the backend would otherwise
	// allow writes.
	Select(ctx context.Context, name string, readOnly bool) (MailboxSession, error)

	Close()
}

// MailboxInfo describes one mailbox as returned by LIST/LSUB.
type MailboxInfo struct {
	Name        string
	Delimiter   byte
	Noinferiors bool
	Noselect    bool
	Marked      bool
	Unmarked    bool
	SpecialUse  string // "", "\Archive", "\Drafts", "\Junk", "\Sent", "\Trash", "\All"
}

// MailboxStatus answers STATUS.
type MailboxStatus struct {
	Messages    uint32
	Recent      uint32
	UIDNext     uint32
	UIDValidity uint32
	Unseen      uint32
}

// MailboxSession is a SELECTed or EXAMINEd mailbox. All sequence/UID
// arguments use mailview's resolved UID list; the session layer is
// responsible for turning wire.SeqRange arguments into UIDs via the
// connection's mailview.View before calling in here, so a
// MailboxSession implementation never has to reason about "*" or
// sequence-number/UID ambiguity itself.
type MailboxSession interface {
	Info(ctx context.Context) (MailboxStatus, error)
	ReadOnly() bool

	// Append stores a new message, returning its assigned UID. r is
	// exactly the literal payload the APPEND command carried: RFC 3501
	// section 6.3.11 message syntax, CRLF-terminated lines.
	Append(ctx context.Context, flags []string, date time.Time, r io.Reader, size int64) (uid mailview.UID, uidValidity uint32, err error)

	// Fetch calls fn once per matched UID, in ascending UID order.
	// items has already been validated by the command parser (C2); a
	// MailboxSession need only know how to produce each wire.FetchItemType.
	Fetch(ctx context.Context, uids []mailview.UID, items []wire.FetchItem, fn func(FetchResult) error) error

	// Store applies a flag change to each UID and calls fn with the
	// resulting flag set, in ascending UID order. If silent is true the
	// caller (session layer) suppresses the untagged FETCH response but
	// the backend still performs and reports the change so other
	// connections can be notified.
	Store(ctx context.Context, uids []mailview.UID, mode command.StoreMode, flags []string, fn func(uid mailview.UID, newFlags []string) error) error

	// Search evaluates op against every message currently in the
	// mailbox and returns the matching UIDs in ascending order.
	Search(ctx context.Context, op *command.SearchOp) ([]mailview.UID, error)

	// Copy duplicates each UID into dst, returning the source/dest UID
	// pairs in the same order as uids, for the COPYUID response code.
	Copy(ctx context.Context, uids []mailview.UID, dst string) (srcUIDs, dstUIDs []mailview.UID, dstUIDValidity uint32, err error)

	// Move is Copy followed by an expunge of the moved messages,
	// reported atomically per RFC 6851.
	Move(ctx context.Context, uids []mailview.UID, dst string) (srcUIDs, dstUIDs []mailview.UID, dstUIDValidity uint32, err error)

	// Expunge permanently removes every \Deleted message (or, if uids
	// is non-nil, every \Deleted message also named by uids, for UID
	// EXPUNGE per RFC 4315) and calls fn for each one removed.
	Expunge(ctx context.Context, uids []mailview.UID, fn func(uid mailview.UID) error) error

	// Updates streams asynchronous mailbox changes (from other
	// connections, or server-side events) for as long as ctx is not
	// Done. The session layer feeds these into the connection's
	// mailview.View via Queue.
	Updates(ctx context.Context) <-chan mailview.Update

	Close() error
}

// FetchResult is one message's worth of FETCH data, already rendered
// to the wire.FetchItem shapes the command requested.
type FetchResult struct {
	SeqNum uint32
	UID    mailview.UID

	Flags        []string
	InternalDate time.Time
	RFC822Size   uint32

	Envelope      []byte // pre-encoded ENVELOPE parenthesized list, or nil
	BodyStructure []byte // pre-encoded BODYSTRUCTURE, or nil

	// Sections holds the rendered bytes for each requested BODY[...]/
	// RFC822.*/BINARY[...] item, keyed by its position in the FetchItem
	// slice passed to Fetch.
	Sections [][]byte
}
