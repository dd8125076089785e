// Package utf7 implements "modified UTF-7" (RFC 3501 section 5.1.3),
// the mailbox-name encoding IMAP uses in place of plain UTF-8: a variant
// of RFC 2152 UTF-7 where "&" (not "+") starts a shift sequence and "/"
// is replaced by "," in the modified base64 alphabet.
package utf7

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrInvalid is returned for malformed modified UTF-7 input.
var ErrInvalid = errors.New("utf7: invalid modified UTF-7 sequence")

const modifiedAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,"

var encoding = base64.NewEncoding(modifiedAlphabet).WithPadding(base64.NoPadding)

// Decode converts a modified-UTF-7 mailbox name to UTF-8.
func Decode(src []byte) ([]byte, error) {
	return AppendDecode(nil, src)
}

// AppendDecode appends the UTF-8 decoding of src to dst.
func AppendDecode(dst, src []byte) ([]byte, error) {
	for len(src) > 0 {
		c := src[0]
		src = src[1:]
		if c != '&' {
			dst = append(dst, c)
			continue
		}
		end := bytes.IndexByte(src, '-')
		if end == -1 {
			return nil, ErrInvalid
		}
		if end == 0 {
			dst = append(dst, '&')
			src = src[1:]
			continue
		}
		decoded, err := decodeShiftedRun(src[:end])
		if err != nil {
			return nil, fmt.Errorf("utf7: %w", err)
		}
		dst = appendUTF16BEAsUTF8(dst, decoded)
		src = src[end+1:]
	}
	return dst, nil
}

func decodeShiftedRun(b64 []byte) ([]byte, error) {
	out := make([]byte, encoding.DecodedLen(len(b64)))
	n, err := encoding.Decode(out, b64)
	if err != nil {
		return nil, err
	}
	out = out[:n]
	if len(out)%2 != 0 {
		return nil, ErrInvalid
	}
	return out, nil
}

func appendUTF16BEAsUTF8(dst, utf16be []byte) []byte {
	for len(utf16be) > 0 {
		r := rune(utf16be[0])<<8 | rune(utf16be[1])
		utf16be = utf16be[2:]
		if utf16.IsSurrogate(r) && len(utf16be) >= 2 {
			r2 := rune(utf16be[0])<<8 | rune(utf16be[1])
			utf16be = utf16be[2:]
			r = utf16.DecodeRune(r, r2)
		}
		var buf [4]byte
		dst = append(dst, buf[:utf8.EncodeRune(buf[:], r)]...)
	}
	return dst
}

// Encode converts a UTF-8 mailbox name to modified UTF-7. Encoding never
// fails: every UTF-8 string is representable.
func Encode(src []byte) []byte {
	return AppendEncode(nil, src)
}

// AppendEncode appends the modified-UTF-7 encoding of src to dst.
func AppendEncode(dst, src []byte) []byte {
	for len(src) > 0 {
		r, _ := utf8.DecodeRune(src)
		switch {
		case r == '&':
			dst = append(dst, '&', '-')
			src = src[1:]
		case r < utf8.RuneSelf:
			dst = append(dst, byte(r))
			src = src[1:]
		default:
			var run []byte
			for len(src) > 0 {
				r, sz := utf8.DecodeRune(src)
				if r < utf8.RuneSelf {
					break
				}
				src = src[sz:]
				r1, r2 := utf16.EncodeRune(r)
				if r1 != utf8.RuneError {
					run = append(run, byte(r1>>8), byte(r1))
					r = r2
				}
				run = append(run, byte(r>>8), byte(r))
			}
			encLen := encoding.EncodedLen(len(run))
			dst = append(dst, '&')
			dst = append(dst, make([]byte, encLen)...)
			encoding.Encode(dst[len(dst)-encLen:], run)
			dst = append(dst, '-')
		}
	}
	return dst
}
