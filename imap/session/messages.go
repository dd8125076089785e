package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"imapd/imap/backend"
	"imapd/imap/command"
	"imapd/imap/mailview"
	"imapd/imap/response"
	"imapd/imap/wire"
	"imapd/internal/metrics"
)

func (s *Session) resolveSequences(cmd *command.Command) []mailview.UID {
	kind := mailview.BySeqNum
	if cmd.UID {
		kind = mailview.ByUID
	}
	return s.view.Resolve(toSeqRangeLike(cmd.Sequences), kind)
}

func (s *Session) cmdSearch(ctx context.Context, tag string, cmd *command.Command) {
	if cmd.Search.Op == nil {
		s.respW.Tagged(tag, response.BAD, "", "SEARCH missing criteria")
		return
	}
	uids, err := s.mbox.Search(ctx, cmd.Search.Op)
	if err != nil {
		if command.IsBadCharset(err) {
			s.respW.Tagged(tag, response.NO, response.CodeBadCharset, "SEARCH unsupported charset")
			return
		}
		s.respondBackendError(tag, "SEARCH", err)
		return
	}

	parts := make([]string, 0, len(uids))
	for _, u := range uids {
		if cmd.UID {
			parts = append(parts, strconv.FormatUint(uint64(u), 10))
		} else if seq := s.view.SeqNum(u); seq != 0 {
			parts = append(parts, strconv.FormatUint(uint64(seq), 10))
		}
	}
	if len(parts) == 0 {
		s.respW.Untagged("SEARCH")
	} else {
		s.respW.Untagged("SEARCH %s", strings.Join(parts, " "))
	}
	s.respW.Tagged(tag, response.OK, "", "SEARCH completed")
}

func (s *Session) cmdFetch(ctx context.Context, tag string, cmd *command.Command) {
	uids := s.resolveSequences(cmd)
	if len(uids) == 0 && len(cmd.Sequences) > 0 {
		s.respW.Tagged(tag, response.OK, "", "FETCH completed")
		return
	}

	err := s.mbox.Fetch(ctx, uids, cmd.FetchItems, func(r backend.FetchResult) error {
		s.writeFetchResponse(cmd, r)
		return nil
	})
	if err != nil {
		s.respondBackendError(tag, "FETCH", err)
		return
	}
	s.respW.Tagged(tag, response.OK, "", "FETCH completed")
}

func (s *Session) writeFetchResponse(cmd *command.Command, r backend.FetchResult) {
	var parts []string
	for i, item := range cmd.FetchItems {
		switch item.Type {
		case wire.FetchFlags:
			parts = append(parts, "FLAGS ("+strings.Join(r.Flags, " ")+")")
		case wire.FetchUID:
			parts = append(parts, fmt.Sprintf("UID %d", r.UID))
		case wire.FetchInternalDate:
			parts = append(parts, fmt.Sprintf("INTERNALDATE %q", r.InternalDate.Format("_2-Jan-2006 15:04:05 -0700")))
		case wire.FetchRFC822Size:
			parts = append(parts, fmt.Sprintf("RFC822.SIZE %d", r.RFC822Size))
		case wire.FetchEnvelope:
			if r.Envelope != nil {
				parts = append(parts, "ENVELOPE "+string(r.Envelope))
			}
		case wire.FetchBodyStructure:
			if r.BodyStructure != nil {
				parts = append(parts, "BODYSTRUCTURE "+string(r.BodyStructure))
			}
		default:
			if i < len(r.Sections) && r.Sections[i] != nil {
				parts = append(parts, fetchItemLabel(item)+" {"+strconv.Itoa(len(r.Sections[i]))+"}\r\n"+string(r.Sections[i]))
			}
		}
	}
	s.respW.Untagged("%d FETCH (%s)", r.SeqNum, strings.Join(parts, " "))
}

func fetchItemLabel(item wire.FetchItem) string {
	name := string(item.Type)
	if len(item.Section.Path) > 0 || item.Section.Name != "" {
		name += "[" + item.Section.Name + "]"
	} else if item.Type == wire.FetchBody || item.Type == wire.FetchBinary {
		name += "[]"
	}
	if item.HasPartial {
		name += fmt.Sprintf("<%d>", item.Partial.Start)
	}
	return name
}

func (s *Session) cmdStore(ctx context.Context, tag string, cmd *command.Command) {
	uids := s.resolveSequences(cmd)
	flags := make([]string, len(cmd.Store.Flags))
	for i, f := range cmd.Store.Flags {
		flags[i] = string(f)
	}

	err := s.mbox.Store(ctx, uids, cmd.Store.Mode, flags, func(uid mailview.UID, newFlags []string) error {
		if !cmd.Store.Silent {
			seq := s.view.SeqNum(uid)
			extra := ""
			if cmd.UID {
				extra = fmt.Sprintf(" UID %d", uid)
			}
			s.respW.Untagged("%d FETCH (FLAGS (%s)%s)", seq, strings.Join(newFlags, " "), extra)
		}
		return nil
	})
	if err != nil {
		s.respondBackendError(tag, "STORE", err)
		return
	}
	s.respW.Tagged(tag, response.OK, "", "STORE completed")
}

func (s *Session) cmdCopyOrMove(ctx context.Context, tag string, cmd *command.Command) {
	uids := s.resolveSequences(cmd)
	dst := mailboxDisplayName(cmd.Mailbox)

	var srcUIDs, dstUIDs []mailview.UID
	var dstValidity uint32
	var err error
	op := "COPY"
	if cmd.Name == command.MoveCmd {
		op = "MOVE"
		srcUIDs, dstUIDs, dstValidity, err = s.mbox.Move(ctx, uids, dst)
	} else {
		srcUIDs, dstUIDs, dstValidity, err = s.mbox.Copy(ctx, uids, dst)
	}
	if err != nil {
		s.respondBackendError(tag, op, err)
		return
	}

	if cmd.Name == command.MoveCmd {
		for _, uid := range srcUIDs {
			if seq, ok := s.view.ApplyExpunge(uid); ok {
				s.respW.Untagged("%d EXPUNGE", seq)
			}
		}
	}

	code := response.CodeCopyUID(dstValidity, formatUIDSet(srcUIDs), formatUIDSet(dstUIDs))
	s.respW.Tagged(tag, response.OK, code, "%s completed", op)
}

func formatUIDSet(uids []mailview.UID) string {
	parts := make([]string, len(uids))
	for i, u := range uids {
		parts[i] = strconv.FormatUint(uint64(u), 10)
	}
	return strings.Join(parts, ",")
}

// cmdIdle implements the IDLE extension (RFC 2177): the server streams
// untagged updates as they arrive until the client sends a line
// consisting solely of "DONE". Unlike every other command, IDLE's
// response cycle spans a second read, so it manages its own read
// deadline independent of the Serve loop's per-command deadline.
func (s *Session) cmdIdle(ctx context.Context, tag string) {
	s.respW.Continuation("idling")
	if err := s.respW.Flush(); err != nil {
		s.state = Closed
		return
	}

	metrics.IdleSessions.Inc()
	defer metrics.IdleSessions.Dec()

	doneLine := make(chan error, 1)
	go func() {
		line, err := s.br.ReadSlice('\n')
		if err != nil {
			doneLine <- err
			return
		}
		if !strings.EqualFold(strings.TrimRight(string(line), "\r\n"), "DONE") {
			doneLine <- fmt.Errorf("unrecognized response %q", line)
			return
		}
		doneLine <- nil
	}()

	deadline := s.cfg.IdleIdleTimeout
	if deadline <= 0 {
		deadline = 29 * time.Minute
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var notify <-chan struct{}
	if s.view != nil {
		notify = s.view.Notify()
	}

	var idleErr error
loop:
	for {
		select {
		case err := <-doneLine:
			idleErr = err
			break loop
		case <-notify:
			s.flushPendingUpdates()
			s.respW.Flush()
		case <-timer.C:
			s.respW.Untagged("OK still here")
			s.respW.Flush()
			timer.Reset(deadline)
		case <-ctx.Done():
			idleErr = ctx.Err()
			break loop
		}
	}

	s.flushPendingUpdates()
	if idleErr != nil {
		s.respW.Tagged(tag, response.BAD, "", "IDLE terminated: %v", idleErr)
		return
	}
	s.respW.Tagged(tag, response.OK, "", "IDLE terminated")
}
