package session

import (
	"context"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"imapd/imap/backend"
	"imapd/imap/command"
	"imapd/imap/mailview"
	"imapd/imap/response"
	"imapd/imap/wire"
	"imapd/imap/wire/utf7"
	"imapd/internal/metrics"
)

// parseAppendDate parses the optional APPEND date-time argument (RFC
// 3501 section 6.3.11 date-time), returning the current time if date
// is empty.
func parseAppendDate(date []byte) (time.Time, error) {
	if len(date) == 0 {
		return time.Now(), nil
	}
	return time.Parse("_2-Jan-2006 15:04:05 -0700", string(date))
}

func mailboxDisplayName(raw []byte) string {
	if strings.EqualFold(string(raw), "INBOX") {
		return "INBOX"
	}
	decoded, err := utf7.Decode(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func (s *Session) cmdSelect(ctx context.Context, tag string, cmd *command.Command) {
	s.closeMailbox()

	readOnly := cmd.Name == command.ExamineCmd
	name := mailboxDisplayName(cmd.Mailbox)

	mbox, err := s.beSession.Select(ctx, name, readOnly)
	if err != nil {
		s.respondBackendError(tag, "SELECT", err)
		return
	}

	info, err := mbox.Info(ctx)
	if err != nil {
		mbox.Close()
		s.respW.Tagged(tag, response.NO, "", "SELECT internal error")
		return
	}

	uids, err := mbox.Search(ctx, &command.SearchOp{Key: "ALL"})
	if err != nil {
		mbox.Close()
		s.respW.Tagged(tag, response.NO, "", "SELECT internal error")
		return
	}
	vUIDs := make([]mailview.UID, len(uids))
	copy(vUIDs, uids)

	s.mbox = mbox
	s.view = mailview.NewView(name, mbox.ReadOnly(), vUIDs)
	s.state = Selected

	go s.forwardBackendUpdates(s.mbox, s.view)

	s.respW.Untagged("%d EXISTS", info.Messages)
	s.respW.Untagged("%d RECENT", info.Recent)
	s.respW.Untagged(`FLAGS (\Answered \Flagged \Draft \Deleted \Seen)`)
	if mbox.ReadOnly() {
		s.respW.Untagged("OK [PERMANENTFLAGS ()] No permanent flags permitted")
	} else {
		s.respW.Untagged("OK [" + response.CodePermanentFlags(`\Answered \Flagged \Draft \Deleted \Seen`) + "] Ok")
	}
	s.respW.Untagged("OK [" + response.CodeUIDValidity(info.UIDValidity) + "]")
	s.respW.Untagged("OK [" + response.CodeUIDNext(info.UIDNext) + "]")

	if mbox.ReadOnly() {
		s.respW.Tagged(tag, response.OK, response.CodeReadOnly, "EXAMINE completed")
	} else {
		s.respW.Tagged(tag, response.OK, response.CodeReadWrite, "SELECT completed")
	}
}

// forwardBackendUpdates relays a MailboxSession's change-notification
// channel into the connection's View for as long as that mailbox stays
// selected. The goroutine exits once Updates' channel closes, which a
// well-behaved backend.MailboxSession does when Close is called.
func (s *Session) forwardBackendUpdates(mbox backend.MailboxSession, view *mailview.View) {
	ch := mbox.Updates(context.Background())
	for u := range ch {
		view.Queue(u)
	}
}

func (s *Session) respondBackendError(tag, op string, err error) {
	if be, ok := err.(*backend.Error); ok {
		switch be.Kind {
		case backend.ErrNotFound:
			s.respW.Tagged(tag, response.NO, "", "%s: no such mailbox", op)
			return
		case backend.ErrAlreadyExists:
			s.respW.Tagged(tag, response.NO, "", "%s: mailbox already exists", op)
			return
		case backend.ErrBadName:
			s.respW.Tagged(tag, response.NO, "", "%s: invalid mailbox name", op)
			return
		case backend.ErrReadOnly:
			s.respW.Tagged(tag, response.NO, response.CodeTryCreate, "%s: mailbox does not allow append", op)
			return
		case backend.ErrOverQuota:
			s.respW.Tagged(tag, response.NO, "", "%s: over quota", op)
			return
		case backend.ErrTransient:
			s.respW.Tagged(tag, response.NO, "", "%s: temporary failure, try again", op)
			return
		}
	}
	s.respW.Tagged(tag, response.NO, "", "%s failed: %v", op, err)
}

func (s *Session) cmdCreate(ctx context.Context, tag string, cmd *command.Command) {
	name := mailboxDisplayName(cmd.Mailbox)
	if err := s.beSession.CreateMailbox(ctx, name); err != nil {
		s.respondBackendError(tag, "CREATE", err)
		return
	}
	s.respW.Tagged(tag, response.OK, "", "CREATE completed")
}

func (s *Session) cmdDelete(ctx context.Context, tag string, cmd *command.Command) {
	name := mailboxDisplayName(cmd.Mailbox)
	if err := s.beSession.DeleteMailbox(ctx, name); err != nil {
		s.respondBackendError(tag, "DELETE", err)
		return
	}
	s.respW.Tagged(tag, response.OK, "", "DELETE completed")
}

func (s *Session) cmdRename(ctx context.Context, tag string, cmd *command.Command) {
	old := mailboxDisplayName(cmd.Rename.OldMailbox)
	neu := mailboxDisplayName(cmd.Rename.NewMailbox)
	if err := s.beSession.RenameMailbox(ctx, old, neu); err != nil {
		s.respondBackendError(tag, "RENAME", err)
		return
	}
	s.respW.Tagged(tag, response.OK, "", "RENAME completed")
}

func (s *Session) cmdSubscribe(ctx context.Context, tag string, cmd *command.Command, subscribe bool) {
	name := mailboxDisplayName(cmd.Mailbox)
	var err error
	op := "SUBSCRIBE"
	if subscribe {
		err = s.beSession.Subscribe(ctx, name)
	} else {
		op = "UNSUBSCRIBE"
		err = s.beSession.Unsubscribe(ctx, name)
	}
	if err != nil {
		s.respondBackendError(tag, op, err)
		return
	}
	s.respW.Tagged(tag, response.OK, "", "%s completed", op)
}

func (s *Session) cmdList(ctx context.Context, tag string, cmd *command.Command, lsub bool) {
	ref := mailboxDisplayName(cmd.List.ReferenceName)
	pattern := mailboxDisplayName(cmd.List.MailboxGlob)

	if pattern == "" {
		// RFC 3501 6.3.8: an empty mailbox name asks only whether ref
		// denotes a valid mailbox-name-hierarchy root.
		delim := "/"
		s.respW.Untagged(`LIST (\Noselect) "%s" ""`, delim)
		s.respW.Tagged(tag, response.OK, "", "LIST completed")
		return
	}

	full := path.Join(ref, pattern)
	if ref != "" && strings.HasSuffix(ref, "/") {
		full = ref + pattern
	}

	infos, err := s.beSession.ListMailboxes(ctx, ref, full, lsub)
	if err != nil {
		s.respondBackendError(tag, "LIST", err)
		return
	}
	name := "LIST"
	if lsub {
		name = "LSUB"
	}
	for _, info := range infos {
		s.respW.Untagged("%s (%s) %q %s", name, listAttrString(info), string(info.Delimiter), encodeMailboxForList(info.Name))
	}
	s.respW.Tagged(tag, response.OK, "", "%s completed", name)
}

func encodeMailboxForList(name string) string {
	if strings.EqualFold(name, "INBOX") {
		return "INBOX"
	}
	return string(utf7.Encode([]byte(name)))
}

func listAttrString(info backend.MailboxInfo) string {
	var attrs []string
	if info.Noinferiors {
		attrs = append(attrs, `\Noinferiors`)
	}
	if info.Noselect {
		attrs = append(attrs, `\Noselect`)
	}
	if info.Marked {
		attrs = append(attrs, `\Marked`)
	}
	if info.Unmarked {
		attrs = append(attrs, `\Unmarked`)
	}
	if info.SpecialUse != "" {
		attrs = append(attrs, info.SpecialUse)
	}
	return strings.Join(attrs, " ")
}

func (s *Session) cmdStatus(ctx context.Context, tag string, cmd *command.Command) {
	name := mailboxDisplayName(cmd.Mailbox)
	st, err := s.beSession.StatusMailbox(ctx, name, cmd.Status.Items)
	if err != nil {
		s.respondBackendError(tag, "STATUS", err)
		return
	}

	var parts []string
	for _, item := range cmd.Status.Items {
		switch item {
		case command.StatusMessages:
			parts = append(parts, "MESSAGES "+strconv.Itoa(int(st.Messages)))
		case command.StatusRecent:
			parts = append(parts, "RECENT "+strconv.Itoa(int(st.Recent)))
		case command.StatusUIDNext:
			parts = append(parts, "UIDNEXT "+strconv.Itoa(int(st.UIDNext)))
		case command.StatusUIDValidity:
			parts = append(parts, "UIDVALIDITY "+strconv.Itoa(int(st.UIDValidity)))
		case command.StatusUnseen:
			parts = append(parts, "UNSEEN "+strconv.Itoa(int(st.Unseen)))
		}
	}
	s.respW.Untagged("STATUS %s (%s)", encodeMailboxForList(name), strings.Join(parts, " "))
	s.respW.Tagged(tag, response.OK, "", "STATUS completed")
}

func (s *Session) cmdAppend(ctx context.Context, tag string, cmd *command.Command) {
	if cmd.Literal == nil {
		s.respW.Tagged(tag, response.BAD, "", "APPEND missing message literal")
		return
	}
	name := mailboxDisplayName(cmd.Mailbox)

	flags := make([]string, len(cmd.Append.Flags))
	for i, f := range cmd.Append.Flags {
		flags[i] = string(f)
	}

	date, err := parseAppendDate(cmd.Append.Date)
	if err != nil {
		s.respW.Tagged(tag, response.BAD, "", "APPEND invalid date")
		return
	}

	size, err := cmd.Literal.Seek(0, io.SeekEnd)
	if err != nil {
		s.respW.Tagged(tag, response.BAD, "", "APPEND malformed literal")
		return
	}
	if _, err := cmd.Literal.Seek(0, io.SeekStart); err != nil {
		s.respW.Tagged(tag, response.BAD, "", "APPEND malformed literal")
		return
	}

	var mbox backend.MailboxSession
	var closeAfter bool
	if s.mbox != nil && s.view != nil && s.view.Mailbox() == name {
		mbox = s.mbox
	} else {
		mbox, err = s.beSession.Select(ctx, name, false)
		if err != nil {
			s.respondBackendError(tag, "APPEND", err)
			return
		}
		closeAfter = true
	}

	uid, uidValidity, err := mbox.Append(ctx, flags, date, cmd.Literal, size)
	if closeAfter {
		mbox.Close()
	} else {
		s.view.ApplyAppend(uid)
	}
	if err != nil {
		s.respondBackendError(tag, "APPEND", err)
		return
	}
	metrics.MessagesAppended.Inc()
	metrics.LiteralBytes.Observe(float64(size))
	s.respW.Tagged(tag, response.OK, response.CodeAppendUID(uidValidity, uint32(uid)), "APPEND completed")
}

func (s *Session) cmdClose(ctx context.Context, tag string) {
	if s.mbox != nil {
		s.mbox.Expunge(ctx, nil, func(mailview.UID) error { return nil })
	}
	s.closeMailbox()
	s.state = Authenticated
	s.respW.Tagged(tag, response.OK, "", "CLOSE completed")
}

func (s *Session) cmdExpunge(ctx context.Context, tag string, cmd *command.Command) {
	var uids []mailview.UID
	if cmd.UID {
		uids = s.view.Resolve(toSeqRangeLike(cmd.Sequences), mailview.ByUID)
	}

	err := s.mbox.Expunge(ctx, uids, func(uid mailview.UID) error {
		if seq, ok := s.view.ApplyExpunge(uid); ok {
			s.respW.Untagged("%d EXPUNGE", seq)
		}
		metrics.MessagesExpunged.Inc()
		return nil
	})
	if err != nil {
		s.respondBackendError(tag, "EXPUNGE", err)
		return
	}
	s.respW.Tagged(tag, response.OK, "", "EXPUNGE completed")
}

func toSeqRangeLike(ranges []wire.SeqRange) []mailview.SeqRangeLike {
	out := make([]mailview.SeqRangeLike, len(ranges))
	for i, r := range ranges {
		out[i] = mailview.SeqRangeLike{Min: r.Min, Max: r.Max}
	}
	return out
}
