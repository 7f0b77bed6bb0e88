package proxy

import (
	"net"
	"testing"

	utls "github.com/refraction-networking/utls"
)

func TestNewUtlsConn_Fingerprints(t *testing.T) {
	fps := []string{"chrome", "firefox", "ios", "android", "edge", "safari", "random", "Chrome"}

	for _, fp := range fps {
		opts := &Options{
			TlsFingerprint: fp,
			SslInsecure:    true,
		}
		// creation only, the handshake would need a peer
		conn := &net.TCPConn{}
		uConn, err := newUtlsConn(conn, opts, "example.com")
		if err != nil {
			t.Errorf("newUtlsConn failed for %s: %v", fp, err)
			continue
		}
		if uConn == nil {
			t.Errorf("newUtlsConn returned nil for %s", fp)
		}
	}
}

func TestNewUtlsConn_Unknown(t *testing.T) {
	_, err := newUtlsConn(&net.TCPConn{}, &Options{TlsFingerprint: "netscape"}, "example.com")
	if err == nil {
		t.Error("expected error for unknown fingerprint")
	}
	if _, err := NewProxy(&Options{Addr: ":0", TlsFingerprint: "netscape"}); err == nil {
		t.Error("NewProxy should reject an unknown fingerprint")
	}
}

func TestForceHTTP11(t *testing.T) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		t.Fatal(err)
	}
	forceHTTP11(&spec)

	found := false
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.ALPNExtension:
			found = true
			if len(e.AlpnProtocols) != 1 || e.AlpnProtocols[0] != "http/1.1" {
				t.Errorf("unexpected ALPN %v", e.AlpnProtocols)
			}
		case *utls.ApplicationSettingsExtension:
			t.Error("ALPS extension kept")
		}
	}
	if !found {
		t.Error("ALPN extension missing")
	}
}
