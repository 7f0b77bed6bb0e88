package proxy

import (
	"bytes"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestBaseAddon(t *testing.T) {
	addon := &BaseAddon{}
	// Call all methods to ensure no panic
	addon.ClientConnected(nil)
	addon.ClientDisconnected(nil)
	addon.Requestheaders(nil)
	addon.Request(nil)
	addon.Responseheaders(nil)
	addon.Response(nil)
}

func TestLogAddon(t *testing.T) {
	var buf syncBuffer
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.DebugLevel)
	defer func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	}()

	addon := &LogAddon{}
	connCtx := newConnContext(&mockConn{}, nil)

	addon.ClientConnected(connCtx.ClientConn)
	addon.ClientDisconnected(connCtx.ClientConn)
	if !strings.Contains(buf.String(), "client disconnect") {
		t.Errorf("missing disconnect log: %s", buf.String())
	}

	u, _ := url.Parse("http://example.com/page")
	f := NewFlow()
	f.Request = &Request{Method: "GET", URL: u}
	f.ConnContext = connCtx
	addon.Requestheaders(f)

	f.Response = &Response{StatusCode: 200, Body: []byte("OK")}
	f.Finish()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(buf.String(), "http://example.com/page 200 2") {
		if time.Now().After(deadline) {
			t.Fatalf("flow not logged: %s", buf.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLogAddon_NoConnContext(t *testing.T) {
	addon := &LogAddon{}
	u, _ := url.Parse("http://example.com")
	f := NewFlow()
	f.Request = &Request{Method: "GET", URL: u}
	addon.Requestheaders(f)
	f.Finish()
}

// syncBuffer is a bytes.Buffer safe for the logging goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
