package addon

import (
	"github.com/retutils/retroproxy/proxy"
	"github.com/retutils/retroproxy/transform"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Transformer downgrades every buffered response for the legacy client.
// Bodies are decoded first; responses of bypassed hosts are only decoded.
type Transformer struct {
	proxy.BaseAddon
	dispatcher *transform.Dispatcher
	bypass     []HostRule

	transformed atomic.Uint64
	failed      atomic.Uint64
	untouched   atomic.Uint64
	bypassed    atomic.Uint64
}

// Stats counts responses by what the Transformer did with them.
type Stats struct {
	Transformed uint64
	Failed      uint64 // served unchanged after a transformer error
	Untouched   uint64 // pass-through media types and undecodable bodies
	Bypassed    uint64
}

func NewTransformer(dispatcher *transform.Dispatcher, bypass []HostRule) *Transformer {
	return &Transformer{
		dispatcher: dispatcher,
		bypass:     bypass,
	}
}

func (t *Transformer) Response(f *proxy.Flow) {
	if f.Response == nil {
		return
	}
	log := log.WithFields(log.Fields{
		"in":  "Transformer.Response",
		"url": f.Request.URL.String(),
	})

	if err := f.Response.ReplaceToDecodedBody(); err != nil {
		log.Warnf("body left as received: %v", err)
		t.untouched.Inc()
		return
	}
	if matchAny(t.bypass, f.Request) {
		t.bypassed.Inc()
		return
	}

	env := transform.Envelope{
		URL:        f.Request.URL,
		StatusCode: f.Response.StatusCode,
		Header:     f.Response.Header,
		Body:       f.Response.Body,
	}
	var out transform.Outcome
	if kind, ok := forcedKind(f); ok {
		out = t.dispatcher.DispatchAs(env, kind)
	} else {
		out = t.dispatcher.Dispatch(env)
	}

	switch {
	case out.Err != nil:
		log.Warnf("%v branch failed, original body served: %v", out.Kind, out.Err)
		t.failed.Inc()
	case out.Kind == transform.KindPassThrough:
		t.untouched.Inc()
	default:
		log.Debugf("%v %d -> %d bytes", out.Kind, len(env.Body), len(out.Body))
		t.transformed.Inc()
	}

	f.Response.Body = out.Body
	f.Response.Header = out.Header
}

func (t *Transformer) Stats() Stats {
	return Stats{
		Transformed: t.transformed.Load(),
		Failed:      t.failed.Load(),
		Untouched:   t.untouched.Load(),
		Bypassed:    t.bypassed.Load(),
	}
}
