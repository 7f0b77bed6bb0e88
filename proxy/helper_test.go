package proxy

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

type mockConn struct {
	net.Conn
	readErr  error
	writeErr error
	data     []byte
	closed   bool
}

func (m *mockConn) Read(b []byte) (n int, err error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	if len(m.data) > 0 {
		n = copy(b, m.data)
		m.data = m.data[n:]
		return n, nil
	}
	return 0, io.EOF
}

func (m *mockConn) Write(b []byte) (n int, err error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return len(b), nil
}

func (m *mockConn) Close() error        { m.closed = true; return nil }
func (m *mockConn) LocalAddr() net.Addr  { return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345} }
func (m *mockConn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 54321} }

func TestTransfer_Error(t *testing.T) {
	log := logrus.NewEntry(logrus.New())

	server := &mockConn{readErr: errors.New("server read error")}
	client := &mockConn{data: []byte("hello")}

	transfer(log, server, client)
	if !server.closed || !client.closed {
		t.Error("transfer should close both sides")
	}
}

func TestTransfer_Pipe(t *testing.T) {
	log := logrus.NewEntry(logrus.New())

	clientSide, clientProxy := net.Pipe()
	serverProxy, serverSide := net.Pipe()

	go transfer(log, serverProxy, clientProxy)

	go func() {
		buf := make([]byte, 4)
		io.ReadFull(serverSide, buf)
		serverSide.Write(bytes.ToUpper(buf))
		serverSide.Close()
	}()

	clientSide.Write([]byte("ping"))
	got, _ := io.ReadAll(clientSide)
	if string(got) != "PING" {
		t.Errorf("want PING through the tunnel, got %q", got)
	}
}

func TestLogErr(t *testing.T) {
	var buf bytes.Buffer
	logrus.SetOutput(&buf)
	defer logrus.SetOutput(os.Stderr)
	log := logrus.WithField("test", "logErr")

	logrus.SetLevel(logrus.DebugLevel)
	for _, msg := range normalErrMsgs {
		buf.Reset()
		err := errors.New("some prefix " + msg + " some suffix")
		if logErr(log, err) {
			t.Errorf("expected logErr to return false (handled as normal) for msg: %s", msg)
		}
		if buf.Len() == 0 {
			t.Errorf("expected debug log for normal error: %s", msg)
		}
	}

	logrus.SetLevel(logrus.InfoLevel)
	buf.Reset()
	err := errors.New("unexpected error")
	if !logErr(log, err) {
		t.Error("expected logErr to return true for unexpected error")
	}
	if buf.Len() == 0 {
		t.Error("expected error log for unexpected error")
	}
}

func TestHttpError(t *testing.T) {
	w := httptest.NewRecorder()
	httpError(w, badGatewayMessage, http.StatusBadGateway)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("want status 502, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(resp.Body)
	if string(bytes.TrimSpace(body)) != badGatewayMessage {
		t.Errorf("unexpected body %q", string(body))
	}
}

func TestRemoveHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive, X-Private")
	h.Set("X-Private", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Proxy-Connection", "keep-alive")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Content-Type", "text/html")

	removeHopHeaders(h)

	for _, name := range []string{"Connection", "X-Private", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding"} {
		if h.Get(name) != "" {
			t.Errorf("%s not removed", name)
		}
	}
	if h.Get("Content-Type") != "text/html" {
		t.Error("end-to-end header removed")
	}
}
