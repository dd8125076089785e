// Package mailview implements the selected-mailbox view (component C4):
// the sequence-number <-> UID mapping for the mailbox currently SELECTed
// on a connection, and the queue of pending EXISTS/EXPUNGE/FETCH updates
// that accumulate while other connections (or the IDLE loop) mutate the
// mailbox underneath it.
//
// A View has exactly one writer goroutine: the connection's own command
// loop drains Pending via Flush at the point the protocol allows
// untagged updates (RFC 3501 section 5.2), and a backend notifier
// pushes into the same queue with Queue. This single-writer-per-field
// split (Queue only appends, Flush only the owning goroutine drains)
// means the two sides never need a shared mutex beyond the one
// guarding the slice itself.
package mailview

import "sync"

// UID is a 32-bit message identifier, unique and non-reused within a
// mailbox's UIDVALIDITY epoch (RFC 3501 section 2.3.1.1).
type UID uint32

// UpdateKind distinguishes the three untagged update shapes a Selected
// view can emit.
type UpdateKind int

const (
	UpdateExists UpdateKind = iota + 1
	UpdateExpunge
	UpdateFetch
)

// Update is one pending untagged response. For UpdateExists, Count is
// the new total message count and UID is the UID of the newly
// appended message, so Flush can extend this view's seqnum mapping
// even when the append happened on a different connection. For
// UpdateExpunge, UID/SeqNum identify the removed message (SeqNum is
// resolved lazily at Flush time, since sequence numbers shift as
// earlier expunges are applied). For UpdateFetch, UID and Flags
// describe the new flag state.
type Update struct {
	Kind  UpdateKind
	UID   UID
	Flags []string
	Count uint32

	seqResolved uint32 // set by Flush when Kind == UpdateExpunge
}

// View tracks the seqnum<->UID mapping for one SELECTed mailbox and
// buffers updates pending delivery to the client.
type View struct {
	mu sync.Mutex

	mailbox  string
	readOnly bool

	seqToUID []UID       // seqnum_array: index 0 is sequence number 1
	uidIndex map[UID]int // uid_to_seq_index: UID -> index into seqToUID

	pending []Update

	recentCount uint32

	// notify is signaled (non-blockingly) whenever Queue adds an entry,
	// so an IDLE loop can wake up and Flush without polling.
	notify chan struct{}
}

// NewView constructs a View for mailbox over an initial ordered UID
// list (oldest first, matching sequence number order).
func NewView(mailbox string, readOnly bool, uids []UID) *View {
	v := &View{
		mailbox:  mailbox,
		readOnly: readOnly,
		seqToUID: append([]UID(nil), uids...),
		uidIndex: make(map[UID]int, len(uids)),
		notify:   make(chan struct{}, 1),
	}
	for i, u := range uids {
		v.uidIndex[u] = i
	}
	return v
}

func (v *View) Mailbox() string { return v.mailbox }
func (v *View) ReadOnly() bool  { return v.readOnly }

// Count returns the current EXISTS count.
func (v *View) Count() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return uint32(len(v.seqToUID))
}

// SeqNum returns the 1-based sequence number of uid, or 0 if uid is not
// present in the view (already expunged, or never delivered to this
// connection: the view's copy of the mailbox only grows by Append/Exists).
func (v *View) SeqNum(uid UID) uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx, ok := v.uidIndex[uid]
	if !ok {
		return 0
	}
	return uint32(idx + 1)
}

// UIDAt returns the UID at 1-based sequence number seq, or 0 if out of
// range.
func (v *View) UIDAt(seq uint32) UID {
	v.mu.Lock()
	defer v.mu.Unlock()
	if seq == 0 || int(seq) > len(v.seqToUID) {
		return 0
	}
	return v.seqToUID[seq-1]
}

// ResolveKind distinguishes whether a SeqRange (imap/wire.SeqRange) is
// to be interpreted as sequence numbers or UIDs.
type ResolveKind int

const (
	BySeqNum ResolveKind = iota
	ByUID
)

// SeqRangeLike is satisfied by imap/wire.SeqRange without this package
// importing the wire package, keeping C4 decoupled from C2's token
// representation.
type SeqRangeLike struct {
	Min, Max uint32
}

// Resolve expands a set of sequence ranges into the UIDs currently in
// the view. For ByUID ranges, Max == 0 means "highest UID currently
// known" (the "*" placeholder); for BySeqNum ranges, Max == 0 means the
// highest sequence number, i.e. Count().
func (v *View) Resolve(ranges []SeqRangeLike, kind ResolveKind) []UID {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.seqToUID) == 0 {
		return nil
	}

	var out []UID
	seen := make(map[UID]bool)
	add := func(u UID) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	switch kind {
	case BySeqNum:
		top := uint32(len(v.seqToUID))
		for _, r := range ranges {
			min, max := r.Min, r.Max
			if max == 0 {
				max = top
			}
			if min == 0 {
				min = 1
			}
			if min > top {
				continue
			}
			if max > top {
				max = top
			}
			for s := min; s <= max; s++ {
				add(v.seqToUID[s-1])
			}
		}
	case ByUID:
		top := v.seqToUID[len(v.seqToUID)-1]
		for _, r := range ranges {
			min, max := UID(r.Min), UID(r.Max)
			if max == 0 {
				max = top
			}
			for _, u := range v.seqToUID {
				if u >= min && u <= max {
					add(u)
				}
			}
		}
	}
	return out
}

// ApplyAppend extends the view with a newly-appended UID, for when the
// appending connection is itself the one with this mailbox SELECTed
// (RFC 3501 requires an EXISTS response in that case too).
func (v *View) ApplyAppend(uid UID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, present := v.uidIndex[uid]; present {
		return
	}
	v.uidIndex[uid] = len(v.seqToUID)
	v.seqToUID = append(v.seqToUID, uid)
}

// ApplyExpunge removes uid from the view's mapping, shifting every
// later sequence number down by one. It is a no-op if uid is not
// present (already removed, or never seen).
func (v *View) ApplyExpunge(uid UID) (seq uint32, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx, present := v.uidIndex[uid]
	if !present {
		return 0, false
	}
	seq = uint32(idx + 1)
	v.seqToUID = append(v.seqToUID[:idx], v.seqToUID[idx+1:]...)
	delete(v.uidIndex, uid)
	for u, i := range v.uidIndex {
		if i > idx {
			v.uidIndex[u] = i - 1
		}
	}
	return seq, true
}

// Queue appends an update to the pending queue. It is the only method
// safe to call from a goroutine other than the one that owns this View
// (a backend change-notifier goroutine, typically).
//
// FETCH updates are deduplicated by UID: a later flag-state update for
// a UID already queued replaces the earlier one, since only the latest
// state matters to the client. EXPUNGE updates are never coalesced or
// dropped: RFC 3501 section 5.5 requires the client see every expunge,
// in order, with sequence numbers computed as if each were applied one
// at a time.
func (v *View) Queue(u Update) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if u.Kind == UpdateFetch {
		for i, p := range v.pending {
			if p.Kind == UpdateFetch && p.UID == u.UID {
				v.pending[i] = u
				return
			}
		}
	}
	if u.Kind == UpdateExists {
		for i, p := range v.pending {
			if p.Kind == UpdateExists {
				v.pending[i] = u
				return
			}
		}
	}
	v.pending = append(v.pending, u)
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// Notify returns the channel an IDLE loop can select on to learn that
// Flush now has something to return, without polling.
func (v *View) Notify() <-chan struct{} { return v.notify }

// Flush drains and returns the pending queue, applying each EXPUNGE to
// the view's own seqnum mapping (so SeqNum/UIDAt stay in sync with
// what has been reported to the client) before returning it. Only the
// connection's own command-processing goroutine should call Flush.
func (v *View) Flush() []Update {
	v.mu.Lock()
	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	out := make([]Update, 0, len(pending))
	for _, u := range pending {
		switch u.Kind {
		case UpdateExpunge:
			if seq, ok := v.ApplyExpunge(u.UID); ok {
				u.seqResolved = seq
				out = append(out, u)
			}
		case UpdateExists:
			if u.UID != 0 {
				v.ApplyAppend(u.UID)
			}
			out = append(out, u)
		default:
			out = append(out, u)
		}
	}
	return out
}

// SeqNumOf returns the sequence number an already-flushed EXPUNGE update
// referred to at the moment it was applied.
func (u Update) SeqNumOf() uint32 { return u.seqResolved }
