package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/retutils/retroproxy/internal/helper"
	log "github.com/sirupsen/logrus"
)

const badGatewayMessage = "Bad Gateway or Proxy Error."

// entry accepts client connections and drives every request through the
// addons and the upstream client.
type entry struct {
	proxy  *Proxy
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
	once     sync.Once
}

func newEntry(proxy *Proxy) *entry {
	e := &entry{proxy: proxy, ready: make(chan struct{})}
	e.server = &http.Server{
		Addr:    proxy.Opts.Addr,
		Handler: e,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if wc, ok := c.(*wrapClientConn); ok {
				return context.WithValue(ctx, connContextKey, wc.connCtx)
			}
			return ctx
		},
	}
	return e
}

func (e *entry) start() error {
	ln, err := net.Listen("tcp", e.server.Addr)
	if err != nil {
		e.markReady(nil)
		return err
	}
	e.markReady(ln)
	return e.server.Serve(&wrapListener{Listener: ln, proxy: e.proxy})
}

func (e *entry) markReady(ln net.Listener) {
	e.once.Do(func() {
		e.mu.Lock()
		e.listener = ln
		e.mu.Unlock()
		close(e.ready)
	})
}

func (e *entry) addr() string {
	<-e.ready
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

func (e *entry) close() error {
	e.markReady(nil)
	return e.server.Close()
}

func (e *entry) shutdown(ctx context.Context) error {
	e.markReady(nil)
	return e.server.Shutdown(ctx)
}

func (e *entry) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodConnect {
		e.handleConnect(res, req)
		return
	}
	e.handleHTTP(res, req)
}

// handleConnect tunnels the client to the requested host without looking
// at the bytes.
func (e *entry) handleConnect(res http.ResponseWriter, req *http.Request) {
	proxy := e.proxy
	log := log.WithFields(log.Fields{
		"in":   "Proxy.entry.handleConnect",
		"host": req.Host,
	})

	hijacker, ok := res.(http.Hijacker)
	if !ok {
		httpError(res, "CONNECT not supported", http.StatusInternalServerError)
		return
	}

	conn, err := proxy.getUpstreamConn(req.Context(), req)
	if err != nil {
		logErr(log, err)
		httpError(res, badGatewayMessage, http.StatusBadGateway)
		return
	}

	cconn, _, err := hijacker.Hijack()
	if err != nil {
		log.Error(err)
		conn.Close()
		return
	}
	if _, err := io.WriteString(cconn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		logErr(log, err)
		cconn.Close()
		conn.Close()
		return
	}

	transfer(log, conn, cconn)
}

func (e *entry) handleHTTP(res http.ResponseWriter, req *http.Request) {
	proxy := e.proxy
	log := log.WithFields(log.Fields{
		"in":     "Proxy.entry.handleHTTP",
		"url":    req.URL.String(),
		"method": req.Method,
	})

	f := NewFlow()
	f.Request = NewRequest(req)
	if connCtx, ok := req.Context().Value(connContextKey).(*ConnContext); ok {
		f.ConnContext = connCtx
		connCtx.FlowCount.Add(1)
	}
	defer f.Finish()

	for _, addon := range proxy.Addons {
		addon.Requestheaders(f)
		if f.Response != nil {
			e.reply(res, f, log)
			return
		}
	}

	// a request the proxy would send to itself
	if !f.Request.URL.IsAbs() || f.Request.URL.Host == "" {
		httpError(res, "This is a proxy server. Does not respond to non-proxy requests.", http.StatusBadRequest)
		return
	}

	if req.Body == nil {
		req.Body = http.NoBody
	}
	var reqBody io.Reader
	body, rest, err := helper.ReaderToBuffer(req.Body, proxy.Opts.StreamLargeBodies)
	if err != nil {
		log.Error(err)
		httpError(res, "error reading request body", http.StatusBadGateway)
		return
	}
	if body != nil {
		f.Request.Body = body
		for _, addon := range proxy.Addons {
			addon.Request(f)
			if f.Response != nil {
				e.reply(res, f, log)
				return
			}
		}
		reqBody = bytes.NewReader(f.Request.Body)
	} else {
		f.Stream = true
		reqBody = rest
	}

	proxyReq, err := http.NewRequestWithContext(req.Context(), f.Request.Method, f.Request.URL.String(), reqBody)
	if err != nil {
		log.Error(err)
		httpError(res, badGatewayMessage, http.StatusBadGateway)
		return
	}
	proxyReq.Header = f.Request.Header.Clone()
	removeHopHeaders(proxyReq.Header)
	proxyReq.Header.Set("Accept-Encoding", AcceptEncoding)
	if f.Stream {
		proxyReq.ContentLength = req.ContentLength
	}

	proxyRes, err := proxy.client.Do(proxyReq)
	if err != nil {
		logErr(log, err)
		httpError(res, badGatewayMessage, http.StatusBadGateway)
		return
	}
	defer proxyRes.Body.Close()

	f.Response = &Response{
		StatusCode: proxyRes.StatusCode,
		Header:     proxyRes.Header.Clone(),
		close:      proxyRes.Close,

		decodeLimit: proxy.Opts.StreamLargeBodies * maxDecodedRatio,
	}
	removeHopHeaders(f.Response.Header)

	for _, addon := range proxy.Addons {
		addon.Responseheaders(f)
	}

	if f.Stream {
		f.Response.BodyReader = proxyRes.Body
	} else {
		resBody, rest, err := helper.ReaderToBuffer(proxyRes.Body, proxy.Opts.StreamLargeBodies)
		if err != nil {
			logErr(log, err)
			httpError(res, badGatewayMessage, http.StatusBadGateway)
			return
		}
		if resBody != nil {
			f.Response.Body = resBody
		} else {
			f.Stream = true
			f.Response.BodyReader = rest
		}
	}

	if f.Stream {
		// the upstream coding may be one the client never offered
		if err := f.Response.decodeStreamFor(f.Request); err != nil {
			log.Warnf("streamed body left encoded: %v", err)
		}
		if c, ok := f.Response.BodyReader.(io.Closer); ok {
			defer c.Close()
		}
	} else {
		for _, addon := range proxy.Addons {
			addon.Response(f)
		}
	}

	e.reply(res, f, log)
}

func (e *entry) reply(res http.ResponseWriter, f *Flow, log *log.Entry) {
	response := f.Response
	header := res.Header()
	for key, values := range response.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	if response.close {
		header.Set("Connection", "close")
	}
	statusCode := response.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	if response.Body != nil && f.Request.Method != http.MethodHead && bodyAllowedForStatus(statusCode) {
		header.Set("Content-Length", strconv.Itoa(len(response.Body)))
	}
	res.WriteHeader(statusCode)

	var err error
	if response.Body != nil {
		_, err = res.Write(response.Body)
	} else if response.BodyReader != nil {
		_, err = io.Copy(res, response.BodyReader)
	}
	if err != nil {
		logErr(log, err)
	}
}

func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
