package transform

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Kind is the branch of the pipeline a response body is routed to.
type Kind int

const (
	KindPassThrough Kind = iota
	KindMarkup
	KindStylesheet
	KindImage
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindMarkup:
		return "markup"
	case KindStylesheet:
		return "stylesheet"
	case KindImage:
		return "image"
	case KindScript:
		return "script"
	default:
		return "pass-through"
	}
}

// Classify maps a declared media type to a pipeline branch. Parameters are
// ignored; matching is by substring like the Content-Type sniffing of most
// proxies.
func Classify(mediaType string) Kind {
	mt := strings.ToLower(mediaType)
	switch {
	case strings.Contains(mt, "text/html"):
		return KindMarkup
	case strings.Contains(mt, "text/css"):
		return KindStylesheet
	case strings.Contains(mt, "image/"):
		return KindImage
	case strings.Contains(mt, "application/javascript"), strings.Contains(mt, "text/javascript"):
		return KindScript
	}
	return KindPassThrough
}

// Envelope is a fully buffered upstream response. Dispatch never modifies it.
type Envelope struct {
	URL        *url.URL // page the body was fetched from, may be nil
	StatusCode int
	MediaType  string // declared media type; empty means Header's Content-Type
	Header     http.Header
	Body       []byte
}

func (e Envelope) mediaType() string {
	if e.MediaType != "" {
		return e.MediaType
	}
	return e.Header.Get("Content-Type")
}

// Outcome replaces the body and headers of an Envelope.
type Outcome struct {
	Kind      Kind
	Body      []byte
	MediaType string
	Charset   string // empty for binary or untouched bodies
	Header    http.Header

	// Err is the transformer failure that made the dispatcher fall back to
	// the original body. Nil when the branch ran cleanly.
	Err error
}

// ContentType renders MediaType and Charset as a Content-Type value.
func (o Outcome) ContentType() string {
	if o.Charset == "" {
		return o.MediaType
	}
	return o.MediaType + "; charset=" + o.Charset
}

// Dispatcher routes response bodies to the matching transformer. It holds no
// per-request state and is safe for concurrent use.
type Dispatcher struct {
	opts        Options
	targetLabel string
	markup      *MarkupDowngrader
	transcoder  *Transcoder
}

// NewDispatcher validates the target charset and builds the transformers.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	opts = opts.withDefaults()
	label, err := CharsetLabel(opts.TargetCharset)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		opts:        opts,
		targetLabel: label,
		markup:      NewMarkupDowngrader(opts),
		transcoder:  NewTranscoder(opts),
	}, nil
}

func (d *Dispatcher) Options() Options {
	return d.opts
}

// TargetCharset is the label text outcomes are tagged with, e.g. "Shift_JIS".
func (d *Dispatcher) TargetCharset() string {
	return d.targetLabel
}

// Dispatch classifies env by its media type and runs the matching branch.
func (d *Dispatcher) Dispatch(env Envelope) Outcome {
	return d.DispatchAs(env, Classify(env.mediaType()))
}

// DispatchAs runs the branch for kind regardless of the declared media type.
// Any transformer failure, panics included, yields the original body.
func (d *Dispatcher) DispatchAs(env Envelope, kind Kind) (out Outcome) {
	if len(env.Body) == 0 {
		// a HEAD or 304 reply keeps the length of the entity it describes
		out = d.passThrough(env, nil)
		if cl := env.Header.Get("Content-Length"); cl != "" {
			out.Header.Set("Content-Length", cl)
		}
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out = d.passThrough(env, fmt.Errorf("transform: %s branch panicked: %v", kind, r))
			out.Kind = kind
		}
	}()

	switch kind {
	case KindMarkup, KindStylesheet:
		return d.text(env, kind)
	case KindImage:
		body, err := d.transcoder.Transcode(env.Body, env.mediaType())
		if err != nil {
			out = d.passThrough(env, err)
			out.Kind = KindImage
			return out
		}
		return d.outcome(env, KindImage, body, "image/jpeg", "", true)
	case KindScript:
		return d.outcome(env, KindScript, []byte{}, env.mediaType(), "", false)
	}
	return d.passThrough(env, nil)
}

func (d *Dispatcher) text(env Envelope, kind Kind) Outcome {
	fail := func(err error) Outcome {
		out := d.passThrough(env, err)
		out.Kind = kind
		return out
	}

	text, err := d.decode(env.Body)
	if err != nil {
		return fail(err)
	}

	var body []byte
	mediaType := "text/css"
	if kind == KindMarkup {
		mediaType = "text/html"
		doc, err := d.markup.DowngradeHTMLAt(text, env.URL)
		if err != nil {
			return fail(err)
		}
		body, err = encodeMarkup(doc, d.opts.TargetCharset)
		if err != nil {
			return fail(err)
		}
	} else {
		body, err = Encode(DowngradeCSS(text), d.opts.TargetCharset)
		if err != nil {
			return fail(err)
		}
	}
	return d.outcome(env, kind, body, mediaType, d.targetLabel, true)
}

// decode reads the body in the source charset, retrying as UTF-8 when the
// source charset is unknown or rejects the bytes.
func (d *Dispatcher) decode(body []byte) (string, error) {
	text, err := Decode(body, d.opts.SourceCharset)
	if err == nil {
		return text, nil
	}
	var unsupported *UnsupportedCharsetError
	var decodeErr *DecodeError
	if !errors.As(err, &unsupported) && !errors.As(err, &decodeErr) {
		return "", err
	}
	if fallback, ferr := Decode(body, DefaultSourceCharset); ferr == nil {
		return fallback, nil
	}
	return "", err
}

func (d *Dispatcher) passThrough(env Envelope, err error) Outcome {
	out := d.outcome(env, KindPassThrough, env.Body, env.mediaType(), "", false)
	out.Err = err
	return out
}

func (d *Dispatcher) outcome(env Envelope, kind Kind, body []byte, mediaType, charset string, retype bool) Outcome {
	header := env.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Encoding")
	header.Del("Transfer-Encoding")
	header.Set("Content-Length", strconv.Itoa(len(body)))

	out := Outcome{
		Kind:      kind,
		Body:      body,
		MediaType: mediaType,
		Charset:   charset,
		Header:    header,
	}
	if retype || (header.Get("Content-Type") == "" && mediaType != "") {
		header.Set("Content-Type", out.ContentType())
	}
	return out
}
