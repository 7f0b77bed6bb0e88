package proxy

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type Addon interface {
	// A client has connected to the proxy. Note that a connection can correspond to multiple HTTP requests.
	ClientConnected(*ClientConn)

	// A client connection has been closed (either by us or the client).
	ClientDisconnected(*ClientConn)

	// HTTP request headers were successfully read. At this point, the body is empty.
	// Setting f.Response answers the request without contacting the upstream server.
	Requestheaders(*Flow)

	// The full HTTP request has been read.
	Request(*Flow)

	// HTTP response headers were successfully read. At this point, the body is empty.
	Responseheaders(*Flow)

	// The full HTTP response has been read.
	Response(*Flow)
}

// BaseAddon do nothing
type BaseAddon struct{}

func (addon *BaseAddon) ClientConnected(*ClientConn)    {}
func (addon *BaseAddon) ClientDisconnected(*ClientConn) {}
func (addon *BaseAddon) Requestheaders(*Flow)           {}
func (addon *BaseAddon) Request(*Flow)                  {}
func (addon *BaseAddon) Responseheaders(*Flow)          {}
func (addon *BaseAddon) Response(*Flow)                 {}

// LogAddon log connection and flow
type LogAddon struct {
	BaseAddon
}

func (addon *LogAddon) ClientConnected(client *ClientConn) {
	log.Debugf("%v client connect\n", remoteAddr(client))
}

func (addon *LogAddon) ClientDisconnected(client *ClientConn) {
	log.Debugf("%v client disconnect\n", remoteAddr(client))
}

func (addon *LogAddon) Requestheaders(f *Flow) {
	start := time.Now()
	go func() {
		<-f.Done()
		var statusCode int
		var contentLen int
		if f.Response != nil {
			statusCode = f.Response.StatusCode
			contentLen = len(f.Response.Body)
		}
		var client interface{} = "-"
		if f.ConnContext != nil {
			client = remoteAddr(f.ConnContext.ClientConn)
		}
		log.WithFields(log.Fields{
			"in":     "LogAddon",
			"stream": f.Stream,
		}).Infof("%v %v %v %v %v - %v ms", client, f.Request.Method, f.Request.URL.String(), statusCode, contentLen, time.Since(start).Milliseconds())
	}()
}

func remoteAddr(client *ClientConn) interface{} {
	if client == nil || client.Conn == nil {
		return "-"
	}
	return client.Conn.RemoteAddr()
}
