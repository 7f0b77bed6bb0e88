package helper

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestGetTlsKeyLogWriter(t *testing.T) {
	reset := func() {
		tlsKeyLogOnce = sync.Once{}
		tlsKeyLogWriter = nil
	}
	defer reset()

	reset()
	t.Setenv("SSLKEYLOGFILE", "")
	if GetTlsKeyLogWriter() != nil {
		t.Error("want nil writer without SSLKEYLOGFILE")
	}

	reset()
	path := filepath.Join(t.TempDir(), "keys.log")
	t.Setenv("SSLKEYLOGFILE", path)
	w := GetTlsKeyLogWriter()
	if w == nil {
		t.Fatal("want a writer when SSLKEYLOGFILE is set")
	}
	w.Write([]byte("CLIENT_RANDOM x y\n"))
	if f, ok := w.(*os.File); ok {
		f.Close()
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "CLIENT_RANDOM x y\n" {
		t.Errorf("key log not written: %q %v", data, err)
	}
	if GetTlsKeyLogWriter() != w {
		t.Error("writer must be opened once")
	}
}
