package helper

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/match"
	"gopkg.in/yaml.v3"
)

// NewStructFromFile reads filename into v. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func NewStructFromFile(filename string, v any) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// ReaderToBuffer reads r into memory when it is shorter than limit. Otherwise
// it returns a nil buffer and a reader yielding everything r would have.
func ReaderToBuffer(r io.Reader, limit int64) ([]byte, io.Reader, error) {
	buf := bytes.NewBuffer(make([]byte, 0))
	lr := io.LimitReader(r, limit)

	_, err := io.Copy(buf, lr)
	if err != nil {
		return nil, nil, err
	}

	// reached the limit
	if int64(buf.Len()) == limit {
		return nil, io.MultiReader(bytes.NewBuffer(buf.Bytes()), r), nil
	}

	return buf.Bytes(), nil, nil
}

var portMap = map[string]string{
	"http":   "80",
	"https":  "443",
	"socks5": "1080",
}

// CanonicalAddr returns url.Host but always with a ":port" suffix.
func CanonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = portMap[u.Scheme]
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// MatchHost reports whether address (host or host:port) matches one of the
// glob patterns. A pattern without a port matches any port.
func MatchHost(address string, patterns []string) bool {
	hostname, port := splitHostPort(address)
	for _, pattern := range patterns {
		h, p := splitHostPort(pattern)
		if p != "" && p != port {
			continue
		}
		if match.Match(strings.ToLower(hostname), strings.ToLower(h)) {
			return true
		}
	}
	return false
}

func splitHostPort(address string) (string, string) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address, ""
	}
	return host, port
}

var (
	tlsKeyLogWriter io.Writer
	tlsKeyLogOnce   sync.Once
)

// GetTlsKeyLogWriter returns the SSLKEYLOGFILE writer, or nil when the
// variable is unset.
func GetTlsKeyLogWriter() io.Writer {
	tlsKeyLogOnce.Do(func() {
		logfile := os.Getenv("SSLKEYLOGFILE")
		if logfile == "" {
			return
		}

		writer, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			log.WithField("in", "GetTlsKeyLogWriter").Debug(err)
			return
		}

		tlsKeyLogWriter = writer
	})
	return tlsKeyLogWriter
}
