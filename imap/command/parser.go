package command

import (
	"encoding/base64"
	"fmt"
	"strings"

	"imapd/imap/wire"
	"imapd/imap/wire/utf7"
)

func upperASCII(buf []byte) {
	for i, b := range buf {
		if 'a' <= b && b <= 'z' {
			buf[i] = 'A' + (b - 'a')
		}
	}
}

// ParseError is a syntax error: the connection survives, the tag (if any)
// is echoed in a BAD response.
type ParseError struct{ msg string }

func (e ParseError) Error() string { return e.msg }

func parseErrorf(format string, v ...interface{}) error {
	return ParseError{msg: fmt.Sprintf(format, v...)}
}

// TaggedError pairs a parse error with the tag that was successfully
// parsed before the error occurred, so the response writer can echo it.
type TaggedError struct {
	Tag string
	Err error
}

func (te TaggedError) Error() string {
	if te.Err == nil {
		return fmt.Sprintf("command %s: <nil>", te.Tag)
	}
	return fmt.Sprintf("command %s: %v", te.Tag, te.Err)
}

// CharsetDecoder decodes a SEARCH CHARSET-tagged byte string to UTF-8. It
// returns an error for an unsupported charset name, which the parser
// turns into "NO [BADCHARSET]" (see imap/response).
type CharsetDecoder func(charset string, b []byte) ([]byte, error)

// Parser consumes a wire.Scanner and produces typed Command values.
//
// A Parser does not know about connection state (NotAuthenticated /
// Authenticated / Selected); whether a successfully parsed command is
// admissible right now is the session layer's job, so that a command
// rejected for being in the wrong state still has its tag available to
// echo in the NO/BAD response.
type Parser struct {
	Scanner *wire.Scanner
	Command Command

	// DecodeCharset, if set, is used to decode non-UTF-8/non-US-ASCII
	// SEARCH literals before they are placed in SearchOp.Value. If nil,
	// any CHARSET other than UTF-8/US-ASCII is rejected.
	DecodeCharset CharsetDecoder
}

func (p *Parser) errorf(format string, v ...interface{}) error {
	if p.Scanner.Error != nil {
		return p.Scanner.Error
	}
	return parseErrorf(format, v...)
}

func (p *Parser) parseMailboxInto(dst []byte) ([]byte, error) {
	if !p.Scanner.Next(wire.TokenString) {
		return dst, p.errorf("missing mailbox name")
	}
	if len(p.Scanner.Value) == 5 && strings.EqualFold("INBOX", string(p.Scanner.Value)) {
		return append(dst, "INBOX"...), nil
	}
	return utf7.AppendDecode(dst, p.Scanner.Value)
}

// ParseCommand parses one complete command, filling p.Command.
//
// Any []byte slices referenced from the result alias the scanner's
// internal buffers and are invalidated by the next call to ParseCommand.
// Callers that need to retain them (e.g. to echo a tag asynchronously)
// must copy.
func (p *Parser) ParseCommand() (err error) {
	defer func() {
		if err == nil {
			return
		}
		p.Scanner.Drain()
		if p.Scanner.Error != nil && isFatalIOError(p.Scanner.Error) {
			p.Command.reset()
			return
		}
		if len(p.Command.Tag) > 0 {
			err = TaggedError{Tag: string(p.Command.Tag), Err: err}
		} else if _, ok := err.(ParseError); !ok {
			err = fmt.Errorf("command: %w", err)
		}
		p.Command.reset()
	}()

	p.Command.reset()
	cmd := &p.Command

	if !p.Scanner.Next(wire.TokenTag) {
		return p.errorf("no command tag")
	}
	cmd.Tag = append(cmd.Tag, p.Scanner.Value...)

	if !p.Scanner.Next(wire.TokenAtom) {
		return p.errorf("no command name")
	}
	upperASCII(p.Scanner.Value)
	name, ok := knownCommands[string(p.Scanner.Value)]
	if !ok {
		return fmt.Errorf("unknown command: %q", p.Scanner.Value)
	}
	cmd.Name = name

	if cmd.Name == "UID" {
		cmd.UID = true
		if !p.Scanner.Next(wire.TokenAtom) {
			return p.errorf("missing command name after UID")
		}
		upperASCII(p.Scanner.Value)
		name, ok := knownCommands[string(p.Scanner.Value)]
		if !ok {
			return fmt.Errorf("unknown command: %q", p.Scanner.Value)
		}
		switch name {
		case CopyCmd, FetchCmd, StoreCmd, SearchCmd, MoveCmd, ExpungeCmd:
			cmd.Name = name
		default:
			return fmt.Errorf("command %s does not accept a UID prefix", name)
		}
	}

	if err := p.parseArgs(cmd); err != nil {
		return err
	}
	if !p.Scanner.Next(wire.TokenEnd) {
		return p.errorf("%s: unexpected trailing data", cmd.Name)
	}
	return nil
}

func isFatalIOError(err error) bool {
	return err.Error() != "" && (err == wire.ErrNonSyncLiteralTooLarge)
}

var knownCommands = func() map[string]Name {
	names := []Name{
		CapabilityCmd, NoopCmd, LogoutCmd, StartTLSCmd, AuthenticateCmd,
		LoginCmd, IDCmd, EnableCmd, NamespaceCmd, CompressCmd,
		SelectCmd, ExamineCmd, CreateCmd, DeleteCmd, RenameCmd,
		SubscribeCmd, UnsubscribeCmd, ListCmd, LsubCmd, StatusCmd,
		AppendCmd, UnselectCmd, CheckCmd, CloseCmd, ExpungeCmd,
		SearchCmd, FetchCmd, StoreCmd, CopyCmd, MoveCmd, IdleCmd,
	}
	m := make(map[string]Name, len(names)+1)
	for _, n := range names {
		m[string(n)] = n
	}
	m["UID"] = "UID"
	return m
}()

func (p *Parser) parseArgs(cmd *Command) error {
	switch cmd.Name {
	case CapabilityCmd, NoopCmd, LogoutCmd, StartTLSCmd, NamespaceCmd,
		CheckCmd, CloseCmd, UnselectCmd:
		return nil

	case CompressCmd:
		if !p.Scanner.Next(wire.TokenAtom) {
			return p.errorf("COMPRESS missing mechanism")
		}
		upperASCII(p.Scanner.Value)
		if string(p.Scanner.Value) != "DEFLATE" {
			return fmt.Errorf("COMPRESS unsupported mechanism %q", p.Scanner.Value)
		}
		cmd.CompressMechanism = "DEFLATE"
		return nil

	case IDCmd:
		return p.parseID(cmd)

	case IdleCmd:
		return nil

	case AuthenticateCmd:
		return p.parseAuthenticate(cmd)

	case LoginCmd:
		if !p.Scanner.Next(wire.TokenString) {
			return p.errorf("LOGIN missing username")
		}
		cmd.Auth.Username = append(cmd.Auth.Username, p.Scanner.Value...)
		if !p.Scanner.Next(wire.TokenString) {
			return p.errorf("LOGIN missing password")
		}
		cmd.Auth.Password = append(cmd.Auth.Password, p.Scanner.Value...)
		return nil

	case EnableCmd:
		for p.Scanner.NextOrEnd(wire.TokenAtom) {
			if p.Scanner.Token == wire.TokenEnd {
				if len(cmd.Params) == 0 {
					return p.errorf("ENABLE missing argument")
				}
				return nil
			}
			cmd.Params = appendValue(cmd.Params, p.Scanner.Value)
		}
		return p.errorf("ENABLE missing argument")

	case SelectCmd, ExamineCmd:
		mbox, err := p.parseMailboxInto(cmd.Mailbox[:0])
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Name, err)
		}
		cmd.Mailbox = mbox
		return nil

	case CreateCmd, DeleteCmd, SubscribeCmd, UnsubscribeCmd:
		mbox, err := p.parseMailboxInto(cmd.Mailbox[:0])
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Name, err)
		}
		cmd.Mailbox = mbox
		return nil

	case RenameCmd:
		old, err := p.parseMailboxInto(cmd.Rename.OldMailbox[:0])
		if err != nil {
			return fmt.Errorf("RENAME: %w", err)
		}
		cmd.Rename.OldMailbox = old
		neu, err := p.parseMailboxInto(cmd.Rename.NewMailbox[:0])
		if err != nil {
			return fmt.Errorf("RENAME: %w", err)
		}
		cmd.Rename.NewMailbox = neu
		return nil

	case ListCmd, LsubCmd:
		return p.parseList(cmd)

	case StatusCmd:
		return p.parseStatus(cmd)

	case AppendCmd:
		return p.parseAppend(cmd)

	case ExpungeCmd:
		if cmd.UID {
			if !p.Scanner.Next(wire.TokenSequenceSet) {
				return p.errorf("UID EXPUNGE missing sequence set")
			}
			cmd.Sequences = append(cmd.Sequences, p.Scanner.Sequences...)
		}
		return nil

	case SearchCmd:
		return p.parseSearch(cmd)

	case FetchCmd:
		return p.parseFetch(cmd)

	case StoreCmd:
		return p.parseStore(cmd)

	case CopyCmd, MoveCmd:
		if !p.Scanner.Next(wire.TokenSequenceSet) {
			return fmt.Errorf("%s missing sequence set", cmd.Name)
		}
		cmd.Sequences = append(cmd.Sequences, p.Scanner.Sequences...)
		mbox, err := p.parseMailboxInto(cmd.Mailbox[:0])
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Name, err)
		}
		cmd.Mailbox = mbox
		return nil

	default:
		return fmt.Errorf("unsupported command: %s", cmd.Name)
	}
}

func (p *Parser) parseID(cmd *Command) error {
	p.Scanner.Next(wire.TokenUnknown)
	switch {
	case p.Scanner.Token == wire.TokenListStart:
		for {
			p.Scanner.Next(wire.TokenUnknown)
			if p.Scanner.Token == wire.TokenListEnd {
				break
			}
			if p.Scanner.Token != wire.TokenString && p.Scanner.Token != wire.TokenAtom {
				return fmt.Errorf("ID unexpected field token %s", p.Scanner.Token)
			}
			if string(p.Scanner.Value) == "NIL" && p.Scanner.Token == wire.TokenAtom {
				cmd.Params = append(cmd.Params, nil)
			} else {
				cmd.Params = appendValue(cmd.Params, p.Scanner.Value)
			}
			if len(cmd.Params) > 60 { // RFC 2971 allows 30 pairs; be generous
				return fmt.Errorf("ID too many parameters")
			}
		}
	case p.Scanner.Token == wire.TokenAtom && string(p.Scanner.Value) == "NIL":
		// ID NIL
	default:
		return fmt.Errorf("ID missing parameter list")
	}
	if len(cmd.Params)%2 == 1 {
		return fmt.Errorf("ID parameter missing value")
	}
	return nil
}

// parseAuthenticate parses "AUTHENTICATE mechanism [initial-response]".
// The challenge/response continuation loop itself belongs to the session
// layer (spec §4.6); the parser only captures the chosen mechanism and an
// optional SASL-IR (RFC 4959) initial response.
func (p *Parser) parseAuthenticate(cmd *Command) error {
	if !p.Scanner.Next(wire.TokenAtom) {
		return p.errorf("AUTHENTICATE missing mechanism")
	}
	upperASCII(p.Scanner.Value)
	cmd.Auth.Mechanism = string(p.Scanner.Value)

	if p.Scanner.NextOrEnd(wire.TokenString) {
		if p.Scanner.Token == wire.TokenEnd {
			return nil
		}
		if string(p.Scanner.Value) == "=" {
			cmd.Auth.InitialResponse = nil
			cmd.Auth.HasInitial = true
			return nil
		}
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(p.Scanner.Value)))
		n, err := base64.StdEncoding.Decode(decoded, p.Scanner.Value)
		if err != nil {
			return fmt.Errorf("AUTHENTICATE initial response is not valid base64: %w", err)
		}
		cmd.Auth.InitialResponse = decoded[:n]
		cmd.Auth.HasInitial = true
	}
	return nil
}

func (p *Parser) parseList(cmd *Command) error {
	if !p.Scanner.Next(wire.TokenString) {
		return fmt.Errorf("%s missing reference name", cmd.Name)
	}
	cmd.List.ReferenceName = append(cmd.List.ReferenceName, p.Scanner.Value...)
	if !p.Scanner.Next(wire.TokenListMailbox) {
		return fmt.Errorf("%s missing mailbox glob", cmd.Name)
	}
	cmd.List.MailboxGlob = append(cmd.List.MailboxGlob, p.Scanner.Value...)
	return nil
}

func (p *Parser) parseStatus(cmd *Command) error {
	mbox, err := p.parseMailboxInto(cmd.Mailbox[:0])
	if err != nil {
		return fmt.Errorf("STATUS: %w", err)
	}
	cmd.Mailbox = mbox

	if !p.Scanner.Next(wire.TokenListStart) {
		return p.errorf("STATUS missing item list")
	}
	for p.Scanner.Next(wire.TokenAtom) {
		var item StatusItem
		switch string(p.Scanner.Value) {
		case "MESSAGES":
			item = StatusMessages
		case "RECENT":
			item = StatusRecent
		case "UIDNEXT":
			item = StatusUIDNext
		case "UIDVALIDITY":
			item = StatusUIDValidity
		case "UNSEEN":
			item = StatusUnseen
		default:
			return fmt.Errorf("STATUS unknown item %q", p.Scanner.Value)
		}
		cmd.Status.Items = append(cmd.Status.Items, item)
	}
	if !p.Scanner.NextOrEnd(wire.TokenListEnd) {
		return p.errorf("STATUS missing item list end")
	}
	return nil
}

func (p *Parser) parseAppend(cmd *Command) error {
	mbox, err := p.parseMailboxInto(cmd.Mailbox[:0])
	if err != nil {
		return fmt.Errorf("APPEND: %w", err)
	}
	cmd.Mailbox = mbox

	p.Scanner.Next(wire.TokenUnknown)
	if p.Scanner.Token == wire.TokenListStart {
		for !p.Scanner.NextOrEnd(wire.TokenListEnd) {
			if !p.Scanner.Next(wire.TokenFlag) {
				return p.errorf("APPEND expected flag, got %s", p.Scanner.Token)
			}
			cmd.Append.Flags = appendValue(cmd.Append.Flags, p.Scanner.Value)
		}
		p.Scanner.Next(wire.TokenUnknown)
	}
	if p.Scanner.Token == wire.TokenString {
		cmd.Append.Date = append(cmd.Append.Date, p.Scanner.Value...)
		p.Scanner.Next(wire.TokenLiteral)
	}
	if p.Scanner.Token != wire.TokenLiteral {
		return p.errorf("APPEND missing message literal")
	}
	cmd.Literal = p.Scanner.Literal
	return nil
}

func (p *Parser) parseFetch(cmd *Command) error {
	if !p.Scanner.Next(wire.TokenSequenceSet) {
		return p.errorf("FETCH missing sequence set")
	}
	cmd.Sequences = append(cmd.Sequences, p.Scanner.Sequences...)

	if p.Scanner.Next(wire.TokenListStart) {
		for p.Scanner.Next(wire.TokenFetchItem) {
			switch p.Scanner.FetchItem.Type {
			case wire.FetchAll, wire.FetchFast, wire.FetchFull:
				return p.errorf("FETCH: %s is only valid as a top-level item", p.Scanner.FetchItem.Type)
			}
			cmd.FetchItems = appendFetchItem(cmd.FetchItems, &p.Scanner.FetchItem)
		}
		if p.Scanner.Error != nil {
			return p.Scanner.Error
		}
		if !p.Scanner.Next(wire.TokenListEnd) {
			return p.errorf("FETCH missing item list end")
		}
		if len(cmd.FetchItems) == 0 {
			return p.errorf("FETCH empty item list")
		}
	} else if p.Scanner.Next(wire.TokenFetchItem) {
		cmd.FetchItems = appendFetchItem(cmd.FetchItems, &p.Scanner.FetchItem)
	} else {
		return p.errorf("FETCH missing items")
	}

	if cmd.UID {
		hasUID := false
		for _, item := range cmd.FetchItems {
			if item.Type == wire.FetchUID {
				hasUID = true
				break
			}
		}
		if !hasUID {
			cmd.FetchItems = append(cmd.FetchItems, wire.FetchItem{Type: wire.FetchUID})
		}
	}
	return nil
}

func (p *Parser) parseStore(cmd *Command) error {
	if !p.Scanner.Next(wire.TokenSequenceSet) {
		return p.errorf("STORE missing sequence set")
	}
	cmd.Sequences = append(cmd.Sequences, p.Scanner.Sequences...)

	if !p.Scanner.Next(wire.TokenAtom) {
		return p.errorf("STORE missing data item name")
	}
	switch string(p.Scanner.Value) {
	case "+FLAGS":
		cmd.Store.Mode = StoreAdd
	case "+FLAGS.SILENT":
		cmd.Store.Mode, cmd.Store.Silent = StoreAdd, true
	case "-FLAGS":
		cmd.Store.Mode = StoreRemove
	case "-FLAGS.SILENT":
		cmd.Store.Mode, cmd.Store.Silent = StoreRemove, true
	case "FLAGS":
		cmd.Store.Mode = StoreReplace
	case "FLAGS.SILENT":
		cmd.Store.Mode, cmd.Store.Silent = StoreReplace, true
	default:
		return fmt.Errorf("STORE invalid data item %q", p.Scanner.Value)
	}

	if !p.Scanner.Next(wire.TokenListStart) {
		return p.errorf("STORE missing flag list")
	}
	for p.Scanner.Next(wire.TokenFlag) {
		cmd.Store.Flags = appendValue(cmd.Store.Flags, p.Scanner.Value)
	}
	if !p.Scanner.Next(wire.TokenListEnd) {
		return p.errorf("STORE missing flag list end")
	}
	return nil
}

func (p *Parser) parseSearch(cmd *Command) error {
	if !p.Scanner.Next(wire.TokenSearchKey) {
		return p.errorf("SEARCH missing key")
	}
	upperASCII(p.Scanner.Value)

	if string(p.Scanner.Value) == "CHARSET" {
		if !p.Scanner.Next(wire.TokenString) {
			return p.errorf("SEARCH missing CHARSET value")
		}
		charset := string(p.Scanner.Value)
		switch strings.ToUpper(charset) {
		case "UTF-8", "US-ASCII":
			cmd.Search.Charset = strings.ToUpper(charset)
		default:
			if p.DecodeCharset == nil {
				return badCharsetError{charset: charset}
			}
			if _, err := p.DecodeCharset(charset, []byte("x")); err != nil {
				return badCharsetError{charset: charset}
			}
			cmd.Search.Charset = charset
		}
		if !p.Scanner.Next(wire.TokenSearchKey) {
			return p.errorf("SEARCH missing key")
		}
		upperASCII(p.Scanner.Value)
	}

	root := &SearchOp{Key: "AND"}
	for {
		op, err := p.parseSearchKey(cmd.Search.Charset)
		if err != nil {
			return err
		}
		root.Children = append(root.Children, *op)

		if !p.Scanner.NextOrEnd(wire.TokenSearchKey) {
			break
		}
		if p.Scanner.Token == wire.TokenEnd {
			break
		}
		upperASCII(p.Scanner.Value)
	}
	if len(root.Children) == 1 {
		cmd.Search.Op = &root.Children[0]
	} else {
		cmd.Search.Op = root
	}
	return p.Scanner.Error
}

// badCharsetError is distinguished so the session layer can map it to
// "NO [BADCHARSET]" rather than a generic BAD, per SPEC_FULL §7.G.
type badCharsetError struct{ charset string }

func (e badCharsetError) Error() string { return "unsupported CHARSET " + e.charset }

// IsBadCharset reports whether err originated from an unsupported SEARCH
// CHARSET, for response-code mapping in the session layer.
func IsBadCharset(err error) bool {
	_, ok := err.(badCharsetError)
	return ok
}

func (p *Parser) parseSearchKey(charset string) (*SearchOp, error) {
	op := &SearchOp{}
	if len(p.Scanner.Sequences) > 0 {
		op.Key = "SEQSET"
		op.Sequences = append([]wire.SeqRange(nil), p.Scanner.Sequences...)
		return op, nil
	}
	if len(p.Scanner.Value) == 1 && p.Scanner.Value[0] == '(' {
		op.Key = "AND"
		for {
			if !p.Scanner.Next(wire.TokenSearchKey) {
				return nil, p.errorf("SEARCH unterminated group")
			}
			if len(p.Scanner.Value) == 1 && p.Scanner.Value[0] == ')' {
				break
			}
			upperASCII(p.Scanner.Value)
			child, err := p.parseSearchKey(charset)
			if err != nil {
				return nil, err
			}
			op.Children = append(op.Children, *child)
		}
		return op, nil
	}

	key, ok := searchLeafKeys[string(p.Scanner.Value)]
	if !ok {
		return nil, fmt.Errorf("SEARCH unknown key %q", p.Scanner.Value)
	}
	op.Key = key

	switch op.Key {
	case "ALL", "ANSWERED", "DELETED", "DRAFT", "FLAGGED", "NEW", "OLD",
		"RECENT", "SEEN", "UNANSWERED", "UNDELETED", "UNDRAFT",
		"UNFLAGGED", "UNSEEN":
		return op, nil

	case "BCC", "BODY", "CC", "FROM", "SUBJECT", "TEXT", "TO":
		if !p.Scanner.Next(wire.TokenString) {
			return nil, fmt.Errorf("SEARCH %s missing string argument", op.Key)
		}
		val, err := p.decodeSearchString(charset, p.Scanner.Value)
		if err != nil {
			return nil, err
		}
		op.Value = val
		return op, nil

	case "KEYWORD", "UNKEYWORD":
		if !p.Scanner.Next(wire.TokenAtom) {
			return nil, fmt.Errorf("SEARCH %s missing flag argument", op.Key)
		}
		op.Value = string(p.Scanner.Value)
		return op, nil

	case "BEFORE", "ON", "SINCE", "SENTBEFORE", "SENTON", "SENTSINCE":
		if !p.Scanner.Next(wire.TokenDate) {
			return nil, fmt.Errorf("SEARCH %s missing date", op.Key)
		}
		op.Date = p.Scanner.Date
		return op, nil

	case "HEADER":
		if !p.Scanner.Next(wire.TokenString) {
			return nil, fmt.Errorf("SEARCH HEADER missing field name")
		}
		name := append([]byte(nil), p.Scanner.Value...)
		if !p.Scanner.Next(wire.TokenString) {
			return nil, fmt.Errorf("SEARCH HEADER missing field value")
		}
		value, err := p.decodeSearchString(charset, p.Scanner.Value)
		if err != nil {
			return nil, err
		}
		op.Value = string(name) + ": " + value
		return op, nil

	case "LARGER", "SMALLER":
		if !p.Scanner.Next(wire.TokenNumber) {
			return nil, fmt.Errorf("SEARCH %s invalid number", op.Key)
		}
		op.Num = int64(p.Scanner.Number)
		return op, nil

	case "UID":
		if !p.Scanner.Next(wire.TokenSequenceSet) {
			return nil, fmt.Errorf("SEARCH UID missing sequence set")
		}
		op.Sequences = append([]wire.SeqRange(nil), p.Scanner.Sequences...)
		return op, nil

	case "NOT":
		if !p.Scanner.Next(wire.TokenSearchKey) {
			return nil, fmt.Errorf("SEARCH NOT missing term")
		}
		upperASCII(p.Scanner.Value)
		child, err := p.parseSearchKey(charset)
		if err != nil {
			return nil, err
		}
		op.Children = append(op.Children, *child)
		return op, nil

	case "OR":
		if !p.Scanner.Next(wire.TokenSearchKey) {
			return nil, fmt.Errorf("SEARCH OR missing first term")
		}
		upperASCII(p.Scanner.Value)
		lhs, err := p.parseSearchKey(charset)
		if err != nil {
			return nil, err
		}
		if !p.Scanner.Next(wire.TokenSearchKey) {
			return nil, fmt.Errorf("SEARCH OR missing second term")
		}
		upperASCII(p.Scanner.Value)
		rhs, err := p.parseSearchKey(charset)
		if err != nil {
			return nil, err
		}
		op.Children = append(op.Children, *lhs, *rhs)
		return op, nil

	default:
		return nil, fmt.Errorf("SEARCH unimplemented key %q", op.Key)
	}
}

func (p *Parser) decodeSearchString(charset string, raw []byte) (string, error) {
	switch charset {
	case "", "UTF-8", "US-ASCII":
		return string(raw), nil
	default:
		if p.DecodeCharset == nil {
			return "", badCharsetError{charset: charset}
		}
		decoded, err := p.DecodeCharset(charset, raw)
		if err != nil {
			return "", badCharsetError{charset: charset}
		}
		return string(decoded), nil
	}
}
