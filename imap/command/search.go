package command

import (
	"time"

	"imapd/imap/wire"
)

// SearchOp is one node of a SEARCH criteria tree. Boolean combinators
// (AND/OR/NOT) hold Children; leaf keys hold whichever of Value/Num/Date/
// Sequences their key needs.
type SearchOp struct {
	Key       string
	Value     string
	Num       int64
	Date      time.Time
	Sequences []wire.SeqRange
	Children  []SearchOp
}

var searchLeafKeys = map[string]string{
	"ALL": "ALL", "ANSWERED": "ANSWERED", "BCC": "BCC", "BEFORE": "BEFORE",
	"BODY": "BODY", "CC": "CC", "DELETED": "DELETED", "DRAFT": "DRAFT",
	"FLAGGED": "FLAGGED", "FROM": "FROM", "HEADER": "HEADER",
	"KEYWORD": "KEYWORD", "LARGER": "LARGER", "NEW": "NEW", "NOT": "NOT",
	"OLD": "OLD", "ON": "ON", "OR": "OR", "RECENT": "RECENT",
	"SEEN": "SEEN", "SENTBEFORE": "SENTBEFORE", "SENTON": "SENTON",
	"SENTSINCE": "SENTSINCE", "SINCE": "SINCE", "SMALLER": "SMALLER",
	"SUBJECT": "SUBJECT", "TEXT": "TEXT", "TO": "TO", "UID": "UID",
	"UNANSWERED": "UNANSWERED", "UNDELETED": "UNDELETED",
	"UNDRAFT": "UNDRAFT", "UNFLAGGED": "UNFLAGGED", "UNKEYWORD": "UNKEYWORD",
	"UNSEEN": "UNSEEN",
}

// SeqContains reports whether seqNum falls within any of the ranges,
// treating Max == 0 as "*": unbounded above.
func SeqContains(ranges []wire.SeqRange, seqNum uint32) bool {
	for _, r := range ranges {
		if r.Min <= seqNum && (r.Max == 0 || seqNum <= r.Max) {
			return true
		}
	}
	return false
}
