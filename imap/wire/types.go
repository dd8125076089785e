package wire

import "strings"

// SeqRange is a normalized range within an IMAP sequence-set. Normalized
// means Min <= Max. The value 0 stands in for '*' (the highest sequence
// number or UID known to the session at resolution time).
type SeqRange struct {
	Min uint32
	Max uint32
}

// FetchItemType enumerates the attribute names a FETCH/UID FETCH request
// may name.
type FetchItemType string

const (
	FetchUnknown       FetchItemType = ""
	FetchAll           FetchItemType = "ALL"
	FetchFast          FetchItemType = "FAST"
	FetchFull          FetchItemType = "FULL"
	FetchEnvelope      FetchItemType = "ENVELOPE"
	FetchFlags         FetchItemType = "FLAGS"
	FetchInternalDate  FetchItemType = "INTERNALDATE"
	FetchRFC822Header  FetchItemType = "RFC822.HEADER"
	FetchRFC822Size    FetchItemType = "RFC822.SIZE"
	FetchRFC822Text    FetchItemType = "RFC822.TEXT"
	FetchUID           FetchItemType = "UID"
	FetchModSeq        FetchItemType = "MODSEQ"
	FetchBodyStructure FetchItemType = "BODYSTRUCTURE"
	FetchBody          FetchItemType = "BODY"
	FetchBinary        FetchItemType = "BINARY" // RFC 3516, optional
)

// FetchItemSection describes a BODY[...] section specifier: a dotted
// numeric part path plus an optional named subpart (HEADER, TEXT, MIME,
// HEADER.FIELDS[.NOT]).
type FetchItemSection struct {
	Path    []uint16
	Name    string
	Headers [][]byte
}

// FetchItem is one attribute of a FETCH attribute list.
type FetchItem struct {
	Type    FetchItemType
	Peek    bool // BODY.PEEK[...] — fetch without marking \Seen
	Section FetchItemSection
	Partial struct {
		Start  uint32
		Length uint32
	}
	HasPartial bool
}

func (s *Scanner) readFetchItem() bool {
	if !s.readAlnumDot() {
		return false
	}
	item := &s.FetchItem
	name := string(s.Value)
	switch name {
	case "ALL", "FAST", "FULL", "ENVELOPE", "FLAGS", "INTERNALDATE",
		"RFC822.HEADER", "RFC822.SIZE", "RFC822.TEXT", "UID", "MODSEQ",
		"BODYSTRUCTURE":
		item.Type = FetchItemType(name)
	case "BODY":
		item.Type = FetchBody
	case "BODY.PEEK":
		item.Type = FetchBody
		item.Peek = true
	case "BINARY":
		item.Type = FetchBinary
	case "BINARY.PEEK":
		item.Type = FetchBinary
		item.Peek = true
	default:
		s.Error = &unknownFetchItemError{name: name}
		return false
	}
	s.Value = s.Value[:0]

	if s.peek() != '[' {
		s.skipBlanks()
		return true
	}
	if item.Type != FetchBody && item.Type != FetchBinary {
		s.Error = &unknownFetchItemError{name: name + "[...]"}
		return false
	}
	s.advance() // '['
	sec := &item.Section
	for isDigit(s.peek()) {
		v, err := s.readUint32()
		if err != nil || v >= 1<<16 {
			s.Error = &unknownFetchItemError{name: "section path"}
			return false
		}
		sec.Path = append(sec.Path, uint16(v))
		if s.peek() == '.' {
			s.advance()
		}
	}
	if item.Type == FetchBody && s.readAlnumDot() {
		switch string(s.Value) {
		case "HEADER", "HEADER.FIELDS", "HEADER.FIELDS.NOT", "TEXT":
			sec.Name = string(s.Value)
		case "MIME":
			if len(sec.Path) == 0 {
				s.Error = &unknownFetchItemError{name: "MIME without a part path"}
				return false
			}
			sec.Name = "MIME"
		default:
			s.Error = &unknownFetchItemError{name: string(s.Value)}
			return false
		}
		s.Value = s.Value[:0]

		if strings.HasPrefix(sec.Name, "HEADER.FIELDS") {
			s.skipBlanks()
			if s.peek() != '(' {
				s.Error = &unknownFetchItemError{name: "HEADER.FIELDS without header list"}
				return false
			}
			s.advance()
			for {
				s.skipBlanks()
				s.Value = s.Value[:0]
				if !s.readAstring() {
					break
				}
				hdr := append([]byte(nil), s.Value...)
				sec.Headers = append(sec.Headers, hdr)
			}
			if s.peek() != ')' {
				s.Error = &unknownFetchItemError{name: "unterminated header list"}
				return false
			}
			s.advance()
		}
	}
	if s.peek() != ']' {
		s.Error = &unknownFetchItemError{name: "unterminated section"}
		return false
	}
	s.advance()

	if s.peek() != '<' {
		return true
	}
	s.advance()
	start, err := s.readUint32()
	if err != nil {
		s.Error = &unknownFetchItemError{name: "partial range start"}
		return false
	}
	if s.advance() != '.' {
		s.Error = &unknownFetchItemError{name: "partial range"}
		return false
	}
	length, err := s.readUint32()
	if err != nil {
		s.Error = &unknownFetchItemError{name: "partial range length"}
		return false
	}
	if s.advance() != '>' {
		s.Error = &unknownFetchItemError{name: "partial range"}
		return false
	}
	item.Partial.Start = start
	item.Partial.Length = length
	item.HasPartial = true
	return true
}

type unknownFetchItemError struct{ name string }

func (e *unknownFetchItemError) Error() string { return "wire: unknown FETCH item: " + e.name }
