package transform

import (
	"net/url"
	"strings"
)

const (
	DefaultSourceCharset  = "utf-8"
	DefaultTargetCharset  = "Shift_JIS"
	DefaultImageQuality   = 50
	DefaultProxyImagePath = "/proxy_image"

	// decoded images above this many pixels are not transcoded
	defaultMaxImagePixels = 40 * 1000 * 1000
)

// Options is the single configuration value threaded into the pipeline.
type Options struct {
	SourceCharset string // charset assumed for upstream text bodies
	TargetCharset string // legacy charset emitted to the client

	ImageQuality   int // jpeg quality, 1-100
	MaxImageWidth  int // 0 disables resizing
	MaxImageHeight int // 0 disables resizing
	MaxImagePixels int // 0 means defaultMaxImagePixels

	ProxyImagePath string // path of the synthetic image route
	BaseURL        string // proxy's own base url; empty keeps image references same-origin

	// ResolveRelativeLinks lets the link normalization rule resolve relative
	// href/src values against the page url. Off by default.
	ResolveRelativeLinks bool
}

func DefaultOptions() Options {
	return Options{
		SourceCharset:  DefaultSourceCharset,
		TargetCharset:  DefaultTargetCharset,
		ImageQuality:   DefaultImageQuality,
		ProxyImagePath: DefaultProxyImagePath,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SourceCharset == "" {
		o.SourceCharset = def.SourceCharset
	}
	if o.TargetCharset == "" {
		o.TargetCharset = def.TargetCharset
	}
	if o.ImageQuality <= 0 || o.ImageQuality > 100 {
		o.ImageQuality = def.ImageQuality
	}
	if o.ProxyImagePath == "" {
		o.ProxyImagePath = def.ProxyImagePath
	}
	if o.MaxImagePixels <= 0 {
		o.MaxImagePixels = defaultMaxImagePixels
	}
	return o
}

// ProxyImageURL returns the reference that routes raw back through the proxy's
// image route: <BaseURL><ProxyImagePath>?url=<escaped raw>. Spaces are
// escaped as %20, never as +.
func (o Options) ProxyImageURL(raw string) string {
	path := o.ProxyImagePath
	if path == "" {
		path = DefaultProxyImagePath
	}
	return strings.TrimSuffix(o.BaseURL, "/") + path + "?url=" + strings.ReplaceAll(url.QueryEscape(raw), "+", "%20")
}
