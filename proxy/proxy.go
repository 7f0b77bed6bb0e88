package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/projectdiscovery/fastdialer/fastdialer"
	"github.com/retutils/retroproxy/internal/helper"
	log "github.com/sirupsen/logrus"
)

const Version = "0.1.0"

const defaultStreamLargeBodies int64 = 1024 * 1024 * 5

type Options struct {
	Debug             int
	Addr              string
	StreamLargeBodies int64 // bodies at least this large are streamed, not buffered
	SslInsecure       bool
	Upstream          string // upstream proxy url
	TlsFingerprint    string // browser fingerprint for upstream TLS, empty for crypto/tls
	DnsResolvers      []string
	DnsRetries        int
}

type Proxy struct {
	Opts    *Options
	Version string
	Addons  []Addon

	entry         *entry
	client        *http.Client
	dialer        *fastdialer.Dialer
	upstreamProxy func(*http.Request) (*url.URL, error)
}

func NewProxy(opts *Options) (*Proxy, error) {
	if opts.StreamLargeBodies <= 0 {
		opts.StreamLargeBodies = defaultStreamLargeBodies
	}
	if opts.TlsFingerprint != "" {
		if _, ok := getClientHelloID(opts.TlsFingerprint); !ok {
			return nil, errors.New("unknown tls fingerprint: " + opts.TlsFingerprint)
		}
	}
	if opts.Upstream != "" {
		if _, err := url.Parse(opts.Upstream); err != nil {
			return nil, err
		}
	}

	dialerOpts := fastdialer.DefaultOptions
	if len(opts.DnsResolvers) > 0 {
		dialerOpts.BaseResolvers = opts.DnsResolvers
	}
	if opts.DnsRetries > 0 {
		dialerOpts.MaxRetries = opts.DnsRetries
	}
	dialer, err := fastdialer.NewDialer(dialerOpts)
	if err != nil {
		return nil, err
	}

	proxy := &Proxy{
		Opts:    opts,
		Version: Version,
		Addons:  make([]Addon, 0),
		dialer:  dialer,
	}

	transport := &http.Transport{
		Proxy:                 proxy.realUpstreamProxy(),
		DialContext:           proxy.dial,
		ForceAttemptHTTP2:     false,
		DisableCompression:    true, // Accept-Encoding is set per request
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.SslInsecure,
			KeyLogWriter:       helper.GetTlsKeyLogWriter(),
		},
	}
	if opts.TlsFingerprint != "" {
		transport.DialTLSContext = proxy.dialTLS
	}
	proxy.client = &http.Client{
		Transport: transport,
		// the client follows redirects itself
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	proxy.entry = newEntry(proxy)
	return proxy, nil
}

// AddAddon appends an addon. Addons run in the order they were added and
// must all be added before Start.
func (proxy *Proxy) AddAddon(addon Addon) {
	proxy.Addons = append(proxy.Addons, addon)
}

func (proxy *Proxy) Start() error {
	log.Infof("Proxy start listen at %v\n", proxy.Opts.Addr)
	return proxy.entry.start()
}

// Addr blocks until the proxy listens and returns the bound address.
func (proxy *Proxy) Addr() string {
	return proxy.entry.addr()
}

func (proxy *Proxy) Close() error {
	err := proxy.entry.close()
	proxy.dialer.Close()
	return err
}

func (proxy *Proxy) Shutdown(ctx context.Context) error {
	err := proxy.entry.shutdown(ctx)
	proxy.dialer.Close()
	return err
}

// SetUpstreamProxy overrides Options.Upstream with a per request choice.
func (proxy *Proxy) SetUpstreamProxy(fn func(req *http.Request) (*url.URL, error)) {
	proxy.upstreamProxy = fn
}

func (proxy *Proxy) realUpstreamProxy() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		return proxy.getUpstreamProxyUrl(req)
	}
}

func (proxy *Proxy) getUpstreamProxyUrl(req *http.Request) (*url.URL, error) {
	if proxy.upstreamProxy != nil {
		return proxy.upstreamProxy(req)
	}
	if len(proxy.Opts.Upstream) > 0 {
		return url.Parse(proxy.Opts.Upstream)
	}
	scheme := req.URL.Scheme
	if scheme == "" {
		scheme = "https" // CONNECT
	}
	cReq := &http.Request{URL: &url.URL{Scheme: scheme, Host: req.URL.Host}}
	return http.ProxyFromEnvironment(cReq)
}

func (proxy *Proxy) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	return proxy.dialer.Dial(ctx, network, addr)
}

func (proxy *Proxy) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := proxy.dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	uConn, err := newUtlsConn(conn, proxy.Opts, host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := uConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return uConn, nil
}

// getUpstreamConn opens a raw connection to the host of req, through the
// upstream proxy when one applies.
func (proxy *Proxy) getUpstreamConn(ctx context.Context, req *http.Request) (net.Conn, error) {
	address := helper.CanonicalAddr(req.URL)
	proxyUrl, err := proxy.getUpstreamProxyUrl(req)
	if err != nil {
		return nil, err
	}
	if proxyUrl != nil {
		return helper.GetProxyConn(ctx, proxyUrl, address, proxy.Opts.SslInsecure)
	}
	return proxy.dial(ctx, "tcp", address)
}
