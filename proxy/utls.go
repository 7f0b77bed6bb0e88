package proxy

import (
	"fmt"
	"net"
	"strings"

	utls "github.com/refraction-networking/utls"
	"github.com/retutils/retroproxy/internal/helper"
)

// newUtlsConn wraps conn in a TLS client that presents the browser
// fingerprint named by opts.TlsFingerprint. The handshake only ever offers
// http/1.1 since the upstream transport does not speak h2 over custom conns.
func newUtlsConn(conn net.Conn, opts *Options, serverName string) (*utls.UConn, error) {
	id, ok := getClientHelloID(opts.TlsFingerprint)
	if !ok {
		return nil, fmt.Errorf("unknown tls fingerprint %q", opts.TlsFingerprint)
	}

	config := &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: opts.SslInsecure,
		KeyLogWriter:       helper.GetTlsKeyLogWriter(),
	}

	if id == utls.HelloRandomizedNoALPN {
		return utls.UClient(conn, config, id), nil
	}

	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, err
	}
	forceHTTP11(&spec)

	uConn := utls.UClient(conn, config, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, err
	}
	return uConn, nil
}

func getClientHelloID(name string) (utls.ClientHelloID, bool) {
	switch strings.ToLower(name) {
	case "chrome":
		return utls.HelloChrome_Auto, true
	case "firefox":
		return utls.HelloFirefox_Auto, true
	case "ios":
		return utls.HelloIOS_Auto, true
	case "android":
		return utls.HelloAndroid_11_OkHttp, true
	case "edge":
		return utls.HelloEdge_Auto, true
	case "safari":
		return utls.HelloSafari_Auto, true
	case "360":
		return utls.Hello360_Auto, true
	case "qq":
		return utls.HelloQQ_Auto, true
	case "random":
		return utls.HelloRandomizedNoALPN, true
	default:
		return utls.HelloCustom, false
	}
}

// forceHTTP11 narrows ALPN to http/1.1 and drops ALPS, which only makes
// sense next to h2.
func forceHTTP11(spec *utls.ClientHelloSpec) {
	exts := spec.Extensions[:0]
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.ALPNExtension:
			e.AlpnProtocols = []string{"http/1.1"}
		case *utls.ApplicationSettingsExtension:
			continue
		}
		exts = append(exts, ext)
	}
	spec.Extensions = exts
}
