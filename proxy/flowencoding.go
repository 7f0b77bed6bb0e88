package proxy

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding is sent upstream so that every body can be decoded before
// it is transformed.
const AcceptEncoding = "gzip, deflate, br, zstd"

// maxDecodedRatio bounds a decoded body to this many times
// Options.StreamLargeBodies, the cap on the encoded body.
const maxDecodedRatio = 8

var (
	errEncodingNotSupport = errors.New("content-encoding not support")
	errDecodedTooLarge    = errors.New("decoded body too large")
)

func (r *Response) DecodedBody() ([]byte, error) {
	limit := r.decodeLimit
	if limit <= 0 {
		limit = defaultStreamLargeBodies * maxDecodedRatio
	}
	return decodedBody(r.Header, r.Body, limit)
}

// ReplaceToDecodedBody swaps an encoded body for its decoded form and fixes
// the framing headers. On a decode error the response is left untouched.
func (r *Response) ReplaceToDecodedBody() error {
	body, err := r.DecodedBody()
	if err != nil {
		return err
	}
	if body == nil {
		return nil
	}

	r.Body = body
	r.Header.Del("Content-Encoding")
	r.Header.Del("Transfer-Encoding")
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

func decodedBody(header http.Header, body []byte, limit int64) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}

	// codings are listed in the order they were applied
	codings := strings.Split(header.Get("Content-Encoding"), ",")
	for i := len(codings) - 1; i >= 0; i-- {
		enc := strings.ToLower(strings.TrimSpace(codings[i]))
		if enc == "" || enc == "identity" {
			continue
		}
		decoded, err := decode(enc, body, limit)
		if err != nil {
			return nil, fmt.Errorf("decode %s body: %w", enc, err)
		}
		body = decoded
	}
	return body, nil
}

func decode(enc string, body []byte, limit int64) ([]byte, error) {
	zr, err := newDecodeReader(enc, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	decoded, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(decoded)) > limit {
		return nil, fmt.Errorf("over %d bytes: %w", limit, errDecodedTooLarge)
	}
	return decoded, nil
}

func newDecodeReader(enc string, r io.Reader) (io.ReadCloser, error) {
	switch enc {
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	case "deflate":
		// zlib wrapped per RFC 9110, though some servers send raw deflate
		br := bufio.NewReader(r)
		if h, err := br.Peek(2); err == nil && h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0 {
			return zlib.NewReader(br)
		}
		return flate.NewReader(br), nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
	return nil, errEncodingNotSupport
}

// acceptsEncoding reports whether the Accept-Encoding of header offers enc.
func acceptsEncoding(header http.Header, enc string) bool {
	for _, field := range strings.Split(header.Get("Accept-Encoding"), ",") {
		name, params, _ := strings.Cut(field, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name != enc && name != "*" {
			continue
		}
		q := strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		if q == "q=0" || q == "q=0.0" || q == "q=0.00" || q == "q=0.000" {
			return false
		}
		return true
	}
	return false
}

// decodeStreamFor wraps a streamed body in a decoder when the client of req
// did not offer the response's content-coding.
func (r *Response) decodeStreamFor(req *Request) error {
	enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
	if enc == "" || enc == "identity" || r.BodyReader == nil {
		return nil
	}
	if acceptsEncoding(req.Header, enc) {
		return nil
	}
	if strings.Contains(enc, ",") {
		return fmt.Errorf("stream with stacked content-coding %q: %w", enc, errEncodingNotSupport)
	}
	zr, err := newDecodeReader(enc, r.BodyReader)
	if err != nil {
		return err
	}
	r.BodyReader = zr
	r.Header.Del("Content-Encoding")
	r.Header.Del("Content-Length")
	return nil
}
