package session

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// lookupCharset resolves a SEARCH CHARSET name (RFC 3501 section
// 6.4.4) to a decoder. Most real-world clients only ever declare
// UTF-8 or US-ASCII (handled upstream in command.Parser before this is
// called), but some older Windows and Japanese mail clients declare
// legacy charsets like "ISO-2022-JP" or "GBK" when searching non-ASCII
// text; ianaindex resolves the IANA name to one of x/text's encodings,
// covering those without this engine hand-maintaining a charset table.
func lookupCharset(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.MIME.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("session: unknown charset %q", name)
	}
	return enc, nil
}
