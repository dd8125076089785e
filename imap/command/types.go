// Package command implements the IMAP command parser (component C2):
// it consumes bytes from a wire.Scanner and produces a typed Command
// record, requesting continuations for literals as needed.
package command

import (
	"crawshaw.io/iox"

	"imapd/imap/wire"
)

// Name enumerates the ~40 commands this engine recognizes.
type Name string

const (
	CapabilityCmd   Name = "CAPABILITY"
	NoopCmd         Name = "NOOP"
	LogoutCmd       Name = "LOGOUT"
	StartTLSCmd     Name = "STARTTLS"
	AuthenticateCmd Name = "AUTHENTICATE"
	LoginCmd        Name = "LOGIN"
	IDCmd           Name = "ID"
	EnableCmd       Name = "ENABLE"
	NamespaceCmd    Name = "NAMESPACE"
	CompressCmd     Name = "COMPRESS"
	SelectCmd       Name = "SELECT"
	ExamineCmd      Name = "EXAMINE"
	CreateCmd       Name = "CREATE"
	DeleteCmd       Name = "DELETE"
	RenameCmd       Name = "RENAME"
	SubscribeCmd    Name = "SUBSCRIBE"
	UnsubscribeCmd  Name = "UNSUBSCRIBE"
	ListCmd         Name = "LIST"
	LsubCmd         Name = "LSUB"
	StatusCmd       Name = "STATUS"
	AppendCmd       Name = "APPEND"
	UnselectCmd     Name = "UNSELECT"
	CheckCmd        Name = "CHECK"
	CloseCmd        Name = "CLOSE"
	ExpungeCmd      Name = "EXPUNGE"
	SearchCmd       Name = "SEARCH"
	FetchCmd        Name = "FETCH"
	StoreCmd        Name = "STORE"
	CopyCmd         Name = "COPY"
	MoveCmd         Name = "MOVE"
	IdleCmd         Name = "IDLE"
)

// Command is a parsed, tagged IMAP command line.
type Command struct {
	Tag  []byte
	Name Name
	UID  bool // response will report UIDs, not sequence numbers

	Mailbox []byte // SELECT, EXAMINE, CREATE, DELETE, STATUS, APPEND, SUBSCRIBE, UNSUBSCRIBE, COPY, MOVE

	Rename struct {
		OldMailbox []byte
		NewMailbox []byte
	}

	Params [][]byte // ENABLE, ID (flattened key/value pairs)

	Auth struct {
		Mechanism       string // AUTHENTICATE
		InitialResponse []byte // SASL-IR, RFC 4959; nil means "not given"
		HasInitial      bool
		Username        []byte // LOGIN
		Password        []byte
	}

	List ListArgs

	Status struct {
		Items []StatusItem
	}

	Append struct {
		Flags [][]byte
		Date  []byte // optional date-time string, empty if omitted
	}
	Literal *iox.BufferFile // APPEND, STORE-adjacent literal payload

	Sequences []wire.SeqRange // FETCH, STORE, COPY, MOVE, UID EXPUNGE

	FetchItems []wire.FetchItem

	Store StoreArgs

	Search SearchArgs

	CompressMechanism string
}

func (c *Command) reset() {
	c.Tag = c.Tag[:0]
	c.Name = ""
	c.UID = false
	c.Mailbox = c.Mailbox[:0]
	c.Rename.OldMailbox = c.Rename.OldMailbox[:0]
	c.Rename.NewMailbox = c.Rename.NewMailbox[:0]
	c.Params = c.Params[:0]
	c.Auth.Mechanism = ""
	c.Auth.InitialResponse = nil
	c.Auth.HasInitial = false
	c.Auth.Username = c.Auth.Username[:0]
	c.Auth.Password = c.Auth.Password[:0]
	c.List = ListArgs{}
	c.Status.Items = c.Status.Items[:0]
	c.Append.Flags = c.Append.Flags[:0]
	c.Append.Date = c.Append.Date[:0]
	c.Literal = nil
	c.Sequences = c.Sequences[:0]
	c.FetchItems = c.FetchItems[:0]
	c.Store = StoreArgs{}
	c.Search = SearchArgs{}
	c.CompressMechanism = ""
}

// ListArgs holds LIST/LSUB arguments. Only the base RFC 3501 reference +
// mailbox-glob form is supported; RFC 5258 LIST-EXTENDED select/return
// options are not required by this engine's extension set (see SPEC_FULL
// §6) and are rejected with BAD if present.
type ListArgs struct {
	ReferenceName []byte
	MailboxGlob   []byte
}

type StatusItem int

const (
	StatusUnknown StatusItem = iota
	StatusMessages
	StatusRecent
	StatusUIDNext
	StatusUIDValidity
	StatusUnseen
)

type StoreMode int

const (
	StoreUnknown StoreMode = iota
	StoreAdd
	StoreRemove
	StoreReplace
)

type StoreArgs struct {
	Mode   StoreMode
	Silent bool
	Flags  [][]byte
}

// SearchArgs holds a parsed SEARCH command: an optional declared charset
// (already validated to be decodable, see Parser.CharsetDecoder) and the
// criteria tree.
type SearchArgs struct {
	Charset string // empty, "US-ASCII", "UTF-8", or a decodable charset name
	Op      *SearchOp
}

// appendValue copies src and appends it so later scanner reuse doesn't
// corrupt previously captured values.
func appendValue(values [][]byte, src []byte) [][]byte {
	return append(values, append([]byte(nil), src...))
}

func appendFetchItem(items []wire.FetchItem, src *wire.FetchItem) []wire.FetchItem {
	item := *src
	item.Section.Path = append([]uint16(nil), src.Section.Path...)
	if src.Section.Headers != nil {
		item.Section.Headers = make([][]byte, len(src.Section.Headers))
		for i, h := range src.Section.Headers {
			item.Section.Headers[i] = append([]byte(nil), h...)
		}
	}
	return append(items, item)
}
