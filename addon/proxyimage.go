package addon

import (
	"net/http"
	"net/url"

	"github.com/retutils/retroproxy/proxy"
	"github.com/retutils/retroproxy/transform"
	log "github.com/sirupsen/logrus"
)

// metadataKind holds the transform.Kind a flow must be dispatched as,
// regardless of the upstream media type.
const metadataKind = "retroproxy.kind"

// ProxyImage serves the image route that rewritten pages point at:
// GET <Path>?url=<escaped image url>. The route is recognized on any host,
// since a relative reference resolves against the page's own origin.
type ProxyImage struct {
	proxy.BaseAddon
	Path string
}

func NewProxyImage(path string) *ProxyImage {
	if path == "" {
		path = transform.DefaultProxyImagePath
	}
	return &ProxyImage{Path: path}
}

func (p *ProxyImage) Requestheaders(f *proxy.Flow) {
	req := f.Request
	if req.URL.Path != p.Path || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return
	}
	log := log.WithFields(log.Fields{
		"in":  "ProxyImage.Requestheaders",
		"url": req.URL.String(),
	})

	target, ok := p.target(req)
	if !ok {
		log.Debug("invalid image url")
		f.Response = &proxy.Response{
			StatusCode: http.StatusBadRequest,
			Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
			Body:       []byte("Invalid image url."),
		}
		return
	}

	log.Debugf("fetch image %v", target)
	req.URL = target
	// the route's cookies and referer belong to the page, not the image host
	req.Header.Del("Cookie")
	f.Metadata[metadataKind] = transform.KindImage
}

// target resolves the url parameter. Relative references resolve against
// the Referer, or the request's own origin when it was sent absolute-form.
func (p *ProxyImage) target(req *proxy.Request) (*url.URL, bool) {
	raw := req.URL.Query().Get("url")
	if raw == "" {
		return nil, false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	if !ref.IsAbs() {
		base := req.URL
		if referer, err := url.Parse(req.Header.Get("Referer")); err == nil && referer.IsAbs() {
			base = referer
		}
		if !base.IsAbs() {
			return nil, false
		}
		ref = base.ResolveReference(ref)
	}
	if (ref.Scheme != "http" && ref.Scheme != "https") || ref.Host == "" {
		return nil, false
	}
	return ref, true
}

func forcedKind(f *proxy.Flow) (transform.Kind, bool) {
	kind, ok := f.Metadata[metadataKind].(transform.Kind)
	return kind, ok
}
