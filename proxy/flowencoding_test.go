package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func compress(t *testing.T, enc string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch enc {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "br":
		w = brotli.NewWriter(&buf)
	case "deflate":
		w = zlib.NewWriter(&buf)
	case "raw-deflate":
		w, _ = flate.NewWriter(&buf, flate.DefaultCompression)
	case "zstd":
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}
		w = zw
	default:
		t.Fatalf("no writer for %s", enc)
	}
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func TestResponse_DecodedBody(t *testing.T) {
	plain := []byte("<html>body</html>")
	cases := []struct {
		header string
		body   []byte
	}{
		{"gzip", compress(t, "gzip", plain)},
		{"x-gzip", compress(t, "gzip", plain)},
		{"br", compress(t, "br", plain)},
		{"deflate", compress(t, "deflate", plain)},
		{"deflate", compress(t, "raw-deflate", plain)},
		{"zstd", compress(t, "zstd", plain)},
		{"GZIP", compress(t, "gzip", plain)},
		{"identity", plain},
		{"", plain},
		{"gzip, br", compress(t, "br", compress(t, "gzip", plain))},
	}

	for _, c := range cases {
		resp := &Response{Header: http.Header{}, Body: c.body}
		if c.header != "" {
			resp.Header.Set("Content-Encoding", c.header)
		}
		got, err := resp.DecodedBody()
		if err != nil {
			t.Errorf("%q: %v", c.header, err)
			continue
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("%q: got %q", c.header, got)
		}
	}
}

func TestResponse_DecodedBody_Empty(t *testing.T) {
	resp := &Response{Header: http.Header{"Content-Encoding": {"gzip"}}}
	body, err := resp.DecodedBody()
	if err != nil || body != nil {
		t.Errorf("want nil body and no error, got %q %v", body, err)
	}
}

func TestResponse_DecodedBody_Errors(t *testing.T) {
	for _, enc := range []string{"gzip", "deflate", "zstd", "compress"} {
		resp := &Response{Header: http.Header{"Content-Encoding": {enc}}, Body: []byte("invalid")}
		if _, err := resp.DecodedBody(); err == nil {
			t.Errorf("%s: expected error", enc)
		}
	}

	resp := &Response{Header: http.Header{"Content-Encoding": {"compress"}}, Body: []byte("x")}
	if _, err := resp.DecodedBody(); !errors.Is(err, errEncodingNotSupport) {
		t.Errorf("want errEncodingNotSupport, got %v", err)
	}
}

func TestResponse_DecodedBody_Limit(t *testing.T) {
	bomb := bytes.Repeat([]byte{0}, 64*1024)
	for _, enc := range []string{"gzip", "zstd", "br"} {
		resp := &Response{
			Header:      http.Header{"Content-Encoding": {enc}},
			Body:        compress(t, enc, bomb),
			decodeLimit: 1024,
		}
		if _, err := resp.DecodedBody(); !errors.Is(err, errDecodedTooLarge) {
			t.Errorf("%s: want errDecodedTooLarge, got %v", enc, err)
		}
		if err := resp.ReplaceToDecodedBody(); err == nil || resp.Header.Get("Content-Encoding") != enc {
			t.Errorf("%s: oversized body must stay encoded", enc)
		}
	}

	exact := &Response{
		Header:      http.Header{"Content-Encoding": {"gzip"}},
		Body:        compress(t, "gzip", bomb[:1024]),
		decodeLimit: 1024,
	}
	if body, err := exact.DecodedBody(); err != nil || len(body) != 1024 {
		t.Errorf("body at the limit: got %d bytes, %v", len(body), err)
	}
}

func TestResponse_ReplaceToDecodedBody(t *testing.T) {
	resp := &Response{
		Header: http.Header{
			"Content-Encoding":  {"br"},
			"Transfer-Encoding": {"chunked"},
		},
		Body: compress(t, "br", []byte("decodable")),
	}
	if err := resp.ReplaceToDecodedBody(); err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "decodable" {
		t.Errorf("body not decoded: %q", resp.Body)
	}
	if resp.Header.Get("Content-Encoding") != "" || resp.Header.Get("Transfer-Encoding") != "" {
		t.Error("coding headers not removed")
	}
	if resp.Header.Get("Content-Length") != "9" {
		t.Errorf("want Content-Length 9, got %q", resp.Header.Get("Content-Length"))
	}

	broken := &Response{Header: http.Header{"Content-Encoding": {"gzip"}}, Body: []byte("nope")}
	if err := broken.ReplaceToDecodedBody(); err == nil {
		t.Error("expected error")
	}
	if string(broken.Body) != "nope" || broken.Header.Get("Content-Encoding") != "gzip" {
		t.Error("failed decode must leave the response untouched")
	}
}

func TestAcceptsEncoding(t *testing.T) {
	cases := []struct {
		accept string
		enc    string
		want   bool
	}{
		{"gzip, deflate", "gzip", true},
		{"gzip, deflate", "br", false},
		{"GZIP;q=0.8", "gzip", true},
		{"gzip;q=0", "gzip", false},
		{"*", "zstd", true},
		{"", "gzip", false},
	}
	for _, c := range cases {
		h := http.Header{}
		if c.accept != "" {
			h.Set("Accept-Encoding", c.accept)
		}
		if got := acceptsEncoding(h, c.enc); got != c.want {
			t.Errorf("%q offers %s: want %v, got %v", c.accept, c.enc, c.want, got)
		}
	}
}

func TestResponse_DecodeStreamFor(t *testing.T) {
	plain := bytes.Repeat([]byte("stream "), 100)

	t.Run("client lacks coding", func(t *testing.T) {
		resp := &Response{
			Header:     http.Header{"Content-Encoding": {"zstd"}, "Content-Length": {"10"}},
			BodyReader: bytes.NewReader(compress(t, "zstd", plain)),
		}
		req := &Request{Header: http.Header{"Accept-Encoding": {"gzip"}}}
		if err := resp.decodeStreamFor(req); err != nil {
			t.Fatal(err)
		}
		got, _ := io.ReadAll(resp.BodyReader)
		if !bytes.Equal(got, plain) {
			t.Error("stream not decoded")
		}
		if resp.Header.Get("Content-Encoding") != "" || resp.Header.Get("Content-Length") != "" {
			t.Error("stale framing headers kept")
		}
	})

	t.Run("client offers coding", func(t *testing.T) {
		encoded := compress(t, "gzip", plain)
		resp := &Response{
			Header:     http.Header{"Content-Encoding": {"gzip"}},
			BodyReader: bytes.NewReader(encoded),
		}
		req := &Request{Header: http.Header{"Accept-Encoding": {"gzip"}}}
		if err := resp.decodeStreamFor(req); err != nil {
			t.Fatal(err)
		}
		got, _ := io.ReadAll(resp.BodyReader)
		if !bytes.Equal(got, encoded) || resp.Header.Get("Content-Encoding") != "gzip" {
			t.Error("stream the client can read must pass untouched")
		}
	})

	t.Run("stacked codings", func(t *testing.T) {
		resp := &Response{
			Header:     http.Header{"Content-Encoding": {"gzip, br"}},
			BodyReader: bytes.NewReader(nil),
		}
		if err := resp.decodeStreamFor(&Request{Header: http.Header{}}); err == nil {
			t.Error("expected error for stacked codings")
		}
	})
}
