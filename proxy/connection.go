package proxy

import (
	"net"
	"sync"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
)

// client connection
type ClientConn struct {
	Id   uuid.UUID
	Conn net.Conn
}

func newClientConn(c net.Conn) *ClientConn {
	return &ClientConn{
		Id:   uuid.NewV4(),
		Conn: c,
	}
}

// connection context ctx key
var connContextKey = new(struct{})

// connection context
type ConnContext struct {
	ClientConn *ClientConn

	proxy     *Proxy
	FlowCount atomic.Uint32
}

func newConnContext(c net.Conn, proxy *Proxy) *ConnContext {
	return &ConnContext{
		ClientConn: newClientConn(c),
		proxy:      proxy,
	}
}

func (connCtx *ConnContext) Id() uuid.UUID {
	return connCtx.ClientConn.Id
}

// wrap tcpListener so every accepted conn reports its lifetime to the addons
type wrapListener struct {
	net.Listener
	proxy *Proxy
}

func (l *wrapListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return newWrapClientConn(c, l.proxy), nil
}

// wrap tcpConn for remote client
type wrapClientConn struct {
	net.Conn
	proxy   *Proxy
	connCtx *ConnContext

	closeOnce sync.Once
	closeErr  error
}

func newWrapClientConn(c net.Conn, proxy *Proxy) *wrapClientConn {
	wc := &wrapClientConn{
		Conn:  c,
		proxy: proxy,
	}
	wc.connCtx = newConnContext(wc, proxy)
	for _, addon := range proxy.Addons {
		addon.ClientConnected(wc.connCtx.ClientConn)
	}
	return wc
}

func (c *wrapClientConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
		for _, addon := range c.proxy.Addons {
			addon.ClientDisconnected(c.connCtx.ClientConn)
		}
	})
	return c.closeErr
}
