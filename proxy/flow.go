package proxy

import (
	"io"
	"net/http"
	"net/url"

	uuid "github.com/satori/go.uuid"
)

// flow http request
type Request struct {
	Method string
	URL    *url.URL
	Proto  string
	Header http.Header
	Body   []byte

	raw *http.Request
}

func NewRequest(req *http.Request) *Request {
	return &Request{
		Method: req.Method,
		URL:    req.URL,
		Proto:  req.Proto,
		Header: req.Header,
		raw:    req,
	}
}

func (r *Request) Raw() *http.Request {
	return r.raw
}

// flow http response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	BodyReader io.Reader

	close       bool  // connection close
	decodeLimit int64 // decoded body cap, see maxDecodedRatio
}

// flow
type Flow struct {
	Id          uuid.UUID
	ConnContext *ConnContext
	Request     *Request
	Response    *Response

	// Stream is set when a body is larger than Options.StreamLargeBodies.
	// Streamed bodies are not buffered and never reach Addon.Request or
	// Addon.Response.
	Stream bool

	// Metadata passes data between addons.
	Metadata map[string]interface{}

	done chan struct{}
}

func NewFlow() *Flow {
	return &Flow{
		Id:       uuid.NewV4(),
		done:     make(chan struct{}),
		Metadata: make(map[string]interface{}),
	}
}

func (f *Flow) Done() <-chan struct{} {
	return f.done
}

func (f *Flow) Finish() {
	close(f.done)
}
