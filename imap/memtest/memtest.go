// Package memtest implements an in-memory backend.Backend, grounded on
// the teacher's imap/imaptest.MemoryStore: enough of a mailbox store to
// drive the session layer end to end in tests without a real storage
// engine behind it.
package memtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"imapd/imap/backend"
	"imapd/imap/command"
	"imapd/imap/mailview"
	"imapd/imap/wire"
)

// Store is a backend.Backend holding every user's mailboxes in memory.
type Store struct {
	mu    sync.Mutex
	users map[string]*user
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{users: make(map[string]*user)}
}

// AddUser registers a user with the given cleartext password and seeds
// the standard mailbox set, mirroring the teacher's AddUser.
func (s *Store) AddUser(username, password string) error {
	s.mu.Lock()
	if _, exists := s.users[username]; exists {
		s.mu.Unlock()
		return fmt.Errorf("memtest: user %q already exists", username)
	}
	u := &user{
		name:            username,
		password:        password,
		mailboxes:       make(map[string]*mailbox),
		uidValidityNext: 1,
	}
	s.users[username] = u
	s.mu.Unlock()

	for _, m := range []struct {
		name       string
		specialUse string
	}{
		{"INBOX", ""},
		{"Archive", `\Archive`},
		{"Drafts", `\Drafts`},
		{"Sent", `\Sent`},
		{"Trash", `\Trash`},
		{"Junk", `\Junk`},
	} {
		u.createMailbox(m.name, m.specialUse)
	}
	return nil
}

func (s *Store) Login(ctx context.Context, username, password string) (backend.Session, error) {
	s.mu.Lock()
	u := s.users[username]
	s.mu.Unlock()
	if u == nil || u.password != password {
		return nil, backend.NewError(backend.ErrUnknown, "no such user or bad password")
	}
	return &session{user: u}, nil
}

type user struct {
	mu              sync.Mutex
	name            string
	password        string
	mailboxes       map[string]*mailbox
	subscriptions   map[string]bool
	uidValidityNext uint32
}

func (u *user) createMailbox(name, specialUse string) *mailbox {
	u.mu.Lock()
	defer u.mu.Unlock()
	m := &mailbox{
		owner:       u,
		name:        name,
		specialUse:  specialUse,
		uidNext:     1,
		uidValidity: u.uidValidityNext,
	}
	u.uidValidityNext++
	u.mailboxes[name] = m
	return m
}

func (u *user) lookup(name string) *mailbox {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mailboxes[name]
}

type session struct {
	user *user
}

func (s *session) ListMailboxes(ctx context.Context, ref, pattern string, subscribedOnly bool) ([]backend.MailboxInfo, error) {
	s.user.mu.Lock()
	defer s.user.mu.Unlock()

	var out []backend.MailboxInfo
	for name, m := range s.user.mailboxes {
		if subscribedOnly && !s.user.subscriptions[name] {
			continue
		}
		if !matchListPattern(pattern, name) {
			continue
		}
		out = append(out, backend.MailboxInfo{
			Name:       name,
			Delimiter:  '/',
			SpecialUse: m.specialUse,
		})
	}
	sort.Slice(out, func(i, j int) bool { return listSortKey(out[i].Name) < listSortKey(out[j].Name) })
	return out, nil
}

func listSortKey(name string) string {
	if strings.EqualFold(name, "INBOX") {
		return ""
	}
	return name
}

// matchListPattern implements RFC 3501 section 6.3.8's "*" (any
// characters, including hierarchy delimiters) and "%" (any characters
// except the delimiter) wildcards.
func matchListPattern(pattern, name string) bool {
	return globMatch(pattern, name)
}

func globMatch(pattern, name string) bool {
	if pattern == "" {
		return name == ""
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(name); i++ {
			if globMatch(pattern[1:], name[i:]) {
				return true
			}
		}
		return false
	case '%':
		for i := 0; i <= len(name); i++ {
			if name[:i] != "" && strings.Contains(name[:i], "/") {
				break
			}
			if globMatch(pattern[1:], name[i:]) {
				return true
			}
		}
		return false
	default:
		if len(name) == 0 || name[0] != pattern[0] {
			return false
		}
		return globMatch(pattern[1:], name[1:])
	}
}

func (s *session) StatusMailbox(ctx context.Context, name string, items []command.StatusItem) (backend.MailboxStatus, error) {
	s.user.mu.Lock()
	m := s.user.mailboxes[name]
	s.user.mu.Unlock()
	if m == nil {
		return backend.MailboxStatus{}, backend.NewError(backend.ErrNotFound, "no such mailbox")
	}
	return m.status(), nil
}

func (s *session) CreateMailbox(ctx context.Context, name string) error {
	s.user.mu.Lock()
	defer s.user.mu.Unlock()
	if _, exists := s.user.mailboxes[name]; exists {
		return backend.NewError(backend.ErrAlreadyExists, "mailbox already exists")
	}
	m := &mailbox{owner: s.user, name: name, uidNext: 1, uidValidity: s.user.uidValidityNext}
	s.user.uidValidityNext++
	s.user.mailboxes[name] = m
	return nil
}

func (s *session) DeleteMailbox(ctx context.Context, name string) error {
	if strings.EqualFold(name, "INBOX") {
		return backend.NewError(backend.ErrBadName, "INBOX cannot be deleted")
	}
	s.user.mu.Lock()
	defer s.user.mu.Unlock()
	if _, exists := s.user.mailboxes[name]; !exists {
		return backend.NewError(backend.ErrNotFound, "no such mailbox")
	}
	delete(s.user.mailboxes, name)
	return nil
}

func (s *session) RenameMailbox(ctx context.Context, old, neu string) error {
	s.user.mu.Lock()
	defer s.user.mu.Unlock()
	m, exists := s.user.mailboxes[old]
	if !exists {
		return backend.NewError(backend.ErrNotFound, "no such mailbox")
	}
	if _, dstExists := s.user.mailboxes[neu]; dstExists {
		return backend.NewError(backend.ErrAlreadyExists, "destination mailbox exists")
	}
	delete(s.user.mailboxes, old)
	m.mu.Lock()
	m.name = neu
	m.mu.Unlock()
	s.user.mailboxes[neu] = m
	if strings.EqualFold(old, "INBOX") {
		s.user.createMailbox("INBOX", "")
	}
	return nil
}

func (s *session) Subscribe(ctx context.Context, name string) error {
	s.user.mu.Lock()
	defer s.user.mu.Unlock()
	if s.user.subscriptions == nil {
		s.user.subscriptions = make(map[string]bool)
	}
	s.user.subscriptions[name] = true
	return nil
}

func (s *session) Unsubscribe(ctx context.Context, name string) error {
	s.user.mu.Lock()
	defer s.user.mu.Unlock()
	delete(s.user.subscriptions, name)
	return nil
}

func (s *session) Select(ctx context.Context, name string, readOnly bool) (backend.MailboxSession, error) {
	s.user.mu.Lock()
	m := s.user.mailboxes[name]
	s.user.mu.Unlock()
	if m == nil {
		return nil, backend.NewError(backend.ErrNotFound, "no such mailbox")
	}
	updates := make(chan mailview.Update, 32)
	m.mu.Lock()
	m.listeners = append(m.listeners, updates)
	// Messages reported as \Recent by a previous SELECT/EXAMINE lose the
	// flag now; messages still \Recent after this pass are reported to
	// this session and scheduled to clear on the next one.
	for _, msg := range m.msgs {
		if msg.clearRecentOnSelect {
			delete(msg.flags, `\Recent`)
			msg.clearRecentOnSelect = false
		}
	}
	for _, msg := range m.msgs {
		if msg.flags[`\Recent`] {
			msg.clearRecentOnSelect = true
		}
	}
	m.mu.Unlock()
	return &mailboxSession{m: m, readOnly: readOnly, updates: updates}, nil
}

func (s *session) Close() {}

// message is one stored message. raw holds the exact RFC 3501 6.3.11
// literal bytes; header/body are parsed lazily from it.
type message struct {
	uid          mailview.UID
	flags        map[string]bool
	internalDate time.Time
	raw          []byte

	// clearRecentOnSelect marks a message whose \Recent flag was already
	// reported to a session via SELECT/EXAMINE; the next SELECT of this
	// mailbox by any session clears it, per RFC 3501 section 2.3.2.
	clearRecentOnSelect bool
}

func (m *message) flagList() []string {
	out := make([]string, 0, len(m.flags))
	for f := range m.flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (m *message) header() mail.Header {
	msg, err := mail.ReadMessage(bytes.NewReader(m.raw))
	if err != nil {
		return mail.Header{}
	}
	return msg.Header
}

func (m *message) body() []byte {
	msg, err := mail.ReadMessage(bytes.NewReader(m.raw))
	if err != nil {
		return nil
	}
	var buf bytes.Buffer
	buf.ReadFrom(msg.Body)
	return buf.Bytes()
}

type mailbox struct {
	owner *user

	mu          sync.Mutex
	name        string
	specialUse  string
	msgs        []*message
	uidNext     uint32
	uidValidity uint32
	listeners   []chan mailview.Update
}

func (m *mailbox) status() backend.MailboxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recent, unseen uint32
	for _, msg := range m.msgs {
		if msg.flags[`\Recent`] {
			recent++
		}
		if !msg.flags[`\Seen`] {
			unseen++
		}
	}
	return backend.MailboxStatus{
		Messages:    uint32(len(m.msgs)),
		Recent:      recent,
		UIDNext:     m.uidNext,
		UIDValidity: m.uidValidity,
		Unseen:      unseen,
	}
}

// broadcast fans an update out to every registered listener without
// blocking; a slow listener (one whose Updates reader has gone away)
// simply misses it, the same tradeoff a bounded channel always makes.
func (m *mailbox) broadcast(u mailview.Update) {
	m.mu.Lock()
	listeners := append([]chan mailview.Update(nil), m.listeners...)
	m.mu.Unlock()
	for _, ch := range listeners {
		sendUpdate(ch, u)
	}
}

// sendUpdate guards against the listener's Close racing this send: the
// channel may have been removed from m.listeners and closed between the
// snapshot above and this send.
func sendUpdate(ch chan mailview.Update, u mailview.Update) {
	defer func() { recover() }()
	select {
	case ch <- u:
	default:
	}
}

func (m *mailbox) removeListener(ch chan mailview.Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			break
		}
	}
}

type mailboxSession struct {
	m        *mailbox
	readOnly bool
	updates  chan mailview.Update
}

func (ms *mailboxSession) Info(ctx context.Context) (backend.MailboxStatus, error) {
	return ms.m.status(), nil
}

func (ms *mailboxSession) ReadOnly() bool { return ms.readOnly }

func (ms *mailboxSession) Append(ctx context.Context, flags []string, date time.Time, r io.Reader, size int64) (mailview.UID, uint32, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, 0, backend.NewError(backend.ErrTransient, "reading literal failed")
	}

	msg := &message{
		flags:        make(map[string]bool),
		internalDate: date,
		raw:          raw,
	}
	for _, f := range flags {
		if f == `\Recent` {
			continue // cannot be set by the client, server-assigned below
		}
		msg.flags[f] = true
	}
	msg.flags[`\Recent`] = true

	ms.m.mu.Lock()
	msg.uid = mailview.UID(ms.m.uidNext)
	ms.m.uidNext++
	ms.m.msgs = append(ms.m.msgs, msg)
	count := uint32(len(ms.m.msgs))
	uidValidity := ms.m.uidValidity
	ms.m.mu.Unlock()

	ms.m.broadcast(mailview.Update{Kind: mailview.UpdateExists, Count: count, UID: msg.uid})
	return msg.uid, uidValidity, nil
}

func (ms *mailboxSession) Close() error {
	ms.m.removeListener(ms.updates)
	close(ms.updates)
	return nil
}

func (ms *mailboxSession) Updates(ctx context.Context) <-chan mailview.Update {
	return ms.updates
}

func (ms *mailboxSession) Search(ctx context.Context, op *command.SearchOp) ([]mailview.UID, error) {
	ms.m.mu.Lock()
	defer ms.m.mu.Unlock()

	var out []mailview.UID
	for i, msg := range ms.m.msgs {
		if matchSearch(op, msg, uint32(i+1), time.Now()) {
			out = append(out, msg.uid)
		}
	}
	return out, nil
}

func matchSearch(op *command.SearchOp, msg *message, seqNum uint32, now time.Time) bool {
	switch op.Key {
	case "AND":
		for _, child := range op.Children {
			if !matchSearch(&child, msg, seqNum, now) {
				return false
			}
		}
		return true
	case "OR":
		return matchSearch(&op.Children[0], msg, seqNum, now) || matchSearch(&op.Children[1], msg, seqNum, now)
	case "NOT":
		return !matchSearch(&op.Children[0], msg, seqNum, now)
	case "SEQSET":
		return command.SeqContains(op.Sequences, seqNum)
	case "UID":
		return command.SeqContains(op.Sequences, uint32(msg.uid))
	case "ALL":
		return true
	case "SEEN":
		return msg.flags[`\Seen`]
	case "UNSEEN":
		return !msg.flags[`\Seen`]
	case "DELETED":
		return msg.flags[`\Deleted`]
	case "UNDELETED":
		return !msg.flags[`\Deleted`]
	case "FLAGGED":
		return msg.flags[`\Flagged`]
	case "UNFLAGGED":
		return !msg.flags[`\Flagged`]
	case "ANSWERED":
		return msg.flags[`\Answered`]
	case "UNANSWERED":
		return !msg.flags[`\Answered`]
	case "DRAFT":
		return msg.flags[`\Draft`]
	case "UNDRAFT":
		return !msg.flags[`\Draft`]
	case "RECENT":
		return msg.flags[`\Recent`]
	case "OLD":
		return !msg.flags[`\Recent`]
	case "NEW":
		return msg.flags[`\Recent`] && !msg.flags[`\Seen`]
	case "KEYWORD":
		return msg.flags[op.Value]
	case "UNKEYWORD":
		return !msg.flags[op.Value]
	case "FROM":
		return headerContains(msg, "From", op.Value)
	case "TO":
		return headerContains(msg, "To", op.Value)
	case "CC":
		return headerContains(msg, "Cc", op.Value)
	case "BCC":
		return headerContains(msg, "Bcc", op.Value)
	case "SUBJECT":
		return headerContains(msg, "Subject", op.Value)
	case "HEADER":
		name, _, value := strings.Cut(op.Value, ": ")
		return headerContains(msg, name, value)
	case "BODY":
		return bytes.Contains(bytes.ToLower(msg.body()), []byte(strings.ToLower(op.Value)))
	case "TEXT":
		return bytes.Contains(bytes.ToLower(msg.raw), []byte(strings.ToLower(op.Value)))
	case "BEFORE":
		return dateOnly(msg.internalDate).Before(dateOnly(op.Date))
	case "ON":
		return dateOnly(msg.internalDate).Equal(dateOnly(op.Date))
	case "SINCE":
		return !dateOnly(msg.internalDate).Before(dateOnly(op.Date))
	case "SENTBEFORE", "SENTON", "SENTSINCE":
		sent, err := mail.ParseDate(headerGet(msg, "Date"))
		if err != nil {
			return false
		}
		switch op.Key {
		case "SENTBEFORE":
			return dateOnly(sent).Before(dateOnly(op.Date))
		case "SENTON":
			return dateOnly(sent).Equal(dateOnly(op.Date))
		default:
			return !dateOnly(sent).Before(dateOnly(op.Date))
		}
	case "LARGER":
		return int64(len(msg.raw)) > op.Num
	case "SMALLER":
		return int64(len(msg.raw)) < op.Num
	default:
		return false
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func headerGet(msg *message, name string) string {
	return msg.header().Get(name)
}

func headerContains(msg *message, name, substr string) bool {
	return strings.Contains(strings.ToLower(headerGet(msg, name)), strings.ToLower(substr))
}

func (ms *mailboxSession) Fetch(ctx context.Context, uids []mailview.UID, items []wire.FetchItem, fn func(backend.FetchResult) error) error {
	ms.m.mu.Lock()
	type found struct {
		idx int
		msg *message
	}
	var matched []found
	for i, msg := range ms.m.msgs {
		for _, u := range uids {
			if msg.uid == u {
				matched = append(matched, found{i, msg})
				break
			}
		}
	}
	ms.m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].msg.uid < matched[j].msg.uid })

	for _, f := range matched {
		res := backend.FetchResult{
			SeqNum:       uint32(f.idx + 1),
			UID:          f.msg.uid,
			Flags:        f.msg.flagList(),
			InternalDate: f.msg.internalDate,
			RFC822Size:   uint32(len(f.msg.raw)),
			Sections:     make([][]byte, len(items)),
		}
		for i, item := range items {
			switch item.Type {
			case wire.FetchEnvelope:
				res.Envelope = []byte(renderEnvelope(f.msg))
			case wire.FetchBodyStructure:
				res.BodyStructure = []byte(renderBodyStructure(f.msg))
			case wire.FetchBody, wire.FetchBinary:
				res.Sections[i] = renderSection(f.msg, item)
			case wire.FetchRFC822Header:
				res.Sections[i] = headerBytes(f.msg)
			case wire.FetchRFC822Text:
				res.Sections[i] = f.msg.body()
			case wire.FetchFlags, wire.FetchUID, wire.FetchInternalDate, wire.FetchRFC822Size:
				// carried on the FetchResult fields above, not Sections.
			}
		}
		if !ms.readOnly {
			setSeen(f.msg, items)
		}
		if err := fn(res); err != nil {
			return err
		}
	}
	return nil
}

func setSeen(msg *message, items []wire.FetchItem) {
	for _, item := range items {
		if item.Type == wire.FetchBody && !item.Peek {
			if msg.flags == nil {
				msg.flags = make(map[string]bool)
			}
			msg.flags[`\Seen`] = true
		}
	}
}

func headerBytes(msg *message) []byte {
	idx := bytes.Index(msg.raw, []byte("\r\n\r\n"))
	if idx < 0 {
		return msg.raw
	}
	return msg.raw[:idx+4]
}

func renderSection(msg *message, item wire.FetchItem) []byte {
	var data []byte
	switch item.Section.Name {
	case "HEADER", "HEADER.FIELDS", "HEADER.FIELDS.NOT":
		data = headerBytes(msg)
	case "TEXT":
		data = msg.body()
	default:
		data = msg.raw
	}
	if item.HasPartial {
		start := int(item.Partial.Start)
		if start > len(data) {
			start = len(data)
		}
		end := len(data)
		if item.Partial.Length > 0 && start+int(item.Partial.Length) < end {
			end = start + int(item.Partial.Length)
		}
		data = data[start:end]
	}
	return data
}

func renderEnvelope(msg *message) string {
	h := msg.header()
	addr := func(name string) string {
		v := h.Get(name)
		if v == "" {
			return "NIL"
		}
		a, err := mail.ParseAddress(v)
		if err != nil {
			return "NIL"
		}
		user, host, _ := strings.Cut(a.Address, "@")
		return fmt.Sprintf(`((%q NIL %q %q))`, a.Name, user, host)
	}
	quote := func(name string) string {
		v := h.Get(name)
		if v == "" {
			return "NIL"
		}
		return strconv.Quote(v)
	}
	return fmt.Sprintf("(%s %s %s %s %s NIL NIL NIL %s)",
		quote("Date"), quote("Subject"), addr("From"), addr("From"),
		addr("Reply-To"), quote("Message-Id"))
}

func renderBodyStructure(msg *message) string {
	return fmt.Sprintf(`("TEXT" "PLAIN" ("CHARSET" "UTF-8") NIL NIL "7BIT" %d %d)`, len(msg.raw), bytes.Count(msg.raw, []byte("\n")))
}

func (ms *mailboxSession) Store(ctx context.Context, uids []mailview.UID, mode command.StoreMode, flags []string, fn func(uid mailview.UID, newFlags []string) error) error {
	ms.m.mu.Lock()
	var touched []*message
	for _, msg := range ms.m.msgs {
		for _, u := range uids {
			if msg.uid == u {
				touched = append(touched, msg)
				break
			}
		}
	}
	for _, msg := range touched {
		if msg.flags == nil {
			msg.flags = make(map[string]bool)
		}
		switch mode {
		case command.StoreAdd:
			for _, f := range flags {
				msg.flags[f] = true
			}
		case command.StoreRemove:
			for _, f := range flags {
				delete(msg.flags, f)
			}
		case command.StoreReplace:
			recent := msg.flags[`\Recent`]
			msg.flags = make(map[string]bool)
			for _, f := range flags {
				msg.flags[f] = true
			}
			if recent {
				msg.flags[`\Recent`] = true
			}
		}
	}
	ms.m.mu.Unlock()

	for _, msg := range touched {
		newFlags := msg.flagList()
		ms.m.broadcast(mailview.Update{Kind: mailview.UpdateFetch, UID: msg.uid, Flags: newFlags})
		if err := fn(msg.uid, newFlags); err != nil {
			return err
		}
	}
	return nil
}

func (ms *mailboxSession) Copy(ctx context.Context, uids []mailview.UID, dst string) ([]mailview.UID, []mailview.UID, uint32, error) {
	return ms.copyOrMove(uids, dst, false)
}

func (ms *mailboxSession) Move(ctx context.Context, uids []mailview.UID, dst string) ([]mailview.UID, []mailview.UID, uint32, error) {
	return ms.copyOrMove(uids, dst, true)
}

func (ms *mailboxSession) copyOrMove(uids []mailview.UID, dstName string, remove bool) ([]mailview.UID, []mailview.UID, uint32, error) {
	dstBox := ms.m.owner.lookup(dstName)
	if dstBox == nil {
		return nil, nil, 0, backend.NewError(backend.ErrNotFound, "no such destination mailbox")
	}

	ms.m.mu.Lock()
	var srcUIDs, copied []*message
	for _, msg := range ms.m.msgs {
		for _, u := range uids {
			if msg.uid == u {
				srcUIDs = append(srcUIDs, msg)
				cp := *msg
				cp.flags = map[string]bool{}
				for f, v := range msg.flags {
					cp.flags[f] = v
				}
				copied = append(copied, &cp)
				break
			}
		}
	}
	ms.m.mu.Unlock()

	dstBox.mu.Lock()
	var dstUIDs []mailview.UID
	for _, msg := range copied {
		msg.uid = mailview.UID(dstBox.uidNext)
		dstBox.uidNext++
		dstBox.msgs = append(dstBox.msgs, msg)
		dstUIDs = append(dstUIDs, msg.uid)
	}
	uidValidity := dstBox.uidValidity
	dstBox.mu.Unlock()
	for _, msg := range copied {
		dstBox.broadcast(mailview.Update{Kind: mailview.UpdateExists, Count: uint32(len(dstBox.msgs)), UID: msg.uid})
	}

	srcOut := make([]mailview.UID, len(srcUIDs))
	for i, msg := range srcUIDs {
		srcOut[i] = msg.uid
	}

	if remove {
		for _, msg := range srcUIDs {
			ms.removeAndBroadcast(msg.uid)
		}
	}

	return srcOut, dstUIDs, uidValidity, nil
}

func (ms *mailboxSession) removeAndBroadcast(uid mailview.UID) {
	ms.m.mu.Lock()
	idx := -1
	for i, msg := range ms.m.msgs {
		if msg.uid == uid {
			idx = i
			break
		}
	}
	if idx < 0 {
		ms.m.mu.Unlock()
		return
	}
	ms.m.msgs = append(ms.m.msgs[:idx], ms.m.msgs[idx+1:]...)
	ms.m.mu.Unlock()
	ms.m.broadcast(mailview.Update{Kind: mailview.UpdateExpunge, UID: uid})
}

func (ms *mailboxSession) Expunge(ctx context.Context, uids []mailview.UID, fn func(uid mailview.UID) error) error {
	ms.m.mu.Lock()
	var toRemove []mailview.UID
	for _, msg := range ms.m.msgs {
		if !msg.flags[`\Deleted`] {
			continue
		}
		if uids != nil && !containsUID(uids, msg.uid) {
			continue
		}
		toRemove = append(toRemove, msg.uid)
	}
	ms.m.mu.Unlock()

	for _, uid := range toRemove {
		ms.removeAndBroadcast(uid)
		if err := fn(uid); err != nil {
			return err
		}
	}
	return nil
}

func containsUID(uids []mailview.UID, uid mailview.UID) bool {
	for _, u := range uids {
		if u == uid {
			return true
		}
	}
	return false
}
