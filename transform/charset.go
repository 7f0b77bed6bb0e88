package transform

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	xtransform "golang.org/x/text/transform"
)

const byteOrderMark = "\ufeff"

// Decode converts b from charset into a Go string.
func Decode(b []byte, charset string) (string, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", &DecodeError{Charset: charset, Err: err}
	}
	return strings.TrimPrefix(string(out), byteOrderMark), nil
}

// Encode converts s into charset. Runes outside the charset's repertoire are
// written as '?'.
func Encode(s string, charset string) ([]byte, error) {
	return encode(s, charset, func(rune) string { return "?" })
}

// encodeMarkup is Encode for html text: unrepresentable runes become numeric
// character references so the client can still render them.
func encodeMarkup(s string, charset string) ([]byte, error) {
	return encode(s, charset, func(r rune) string {
		return "&#" + strconv.Itoa(int(r)) + ";"
	})
}

func encode(s string, charset string, substitute func(rune) string) ([]byte, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}

	encoder := enc.NewEncoder()
	var buf bytes.Buffer
	buf.Grow(len(s))
	for {
		out, n, err := xtransform.String(encoder, s)
		buf.WriteString(out)
		if err == nil {
			return buf.Bytes(), nil
		}
		if n >= len(s) {
			return nil, &DecodeError{Charset: charset, Err: err}
		}

		// s[n:] starts with a rune the target cannot hold
		r, size := utf8.DecodeRuneInString(s[n:])
		sub, subErr := encoder.String(substitute(r))
		if subErr != nil {
			sub = "?"
		}
		buf.WriteString(sub)
		s = s[n+size:]
	}
}

func lookupCharset(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(strings.TrimSpace(name))
	if err != nil || enc == nil {
		return nil, &UnsupportedCharsetError{Charset: name}
	}
	return enc, nil
}

// CharsetLabel returns the MIME name of charset as it should appear in a
// Content-Type parameter, e.g. "sjis" -> "Shift_JIS".
func CharsetLabel(charset string) (string, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return "", err
	}
	if name, err := ianaindex.MIME.Name(enc); err == nil && name != "" {
		return name, nil
	}
	if name, err := htmlindex.Name(enc); err == nil {
		return name, nil
	}
	return charset, nil
}
