package transform

import (
	"net/url"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/net/html"
)

// RewriteRule is one named step applied to a DocumentTree. Rules run in
// the order of rewriteRules; each sees the tree left by the previous one.
type RewriteRule struct {
	Name  string
	apply func(t *DocumentTree, rc *rewriteContext)
}

type rewriteContext struct {
	opts         Options
	page         *url.URL
	charsetLabel string
}

var rewriteRules = []RewriteRule{
	{"strip-scripts", stripScripts},
	{"simplify-styles", simplifyStyles},
	{"normalize-links", normalizeLinks},
	{"downgrade-modern-elements", downgradeModernElements},
	{"prune-attributes", pruneAttributes},
	{"rewrite-image-urls", rewriteImageURLs},
	{"declare-charset", declareCharset},
}

// RewriteRules lists the markup rules in application order.
func RewriteRules() []RewriteRule {
	return append([]RewriteRule(nil), rewriteRules...)
}

// MarkupDowngrader turns modern HTML into markup a legacy renderer can use.
// It holds configuration only and may be shared between goroutines.
type MarkupDowngrader struct {
	opts         Options
	charsetLabel string
}

func NewMarkupDowngrader(opts Options) *MarkupDowngrader {
	opts = opts.withDefaults()
	label, _ := CharsetLabel(opts.TargetCharset)
	return &MarkupDowngrader{opts: opts, charsetLabel: label}
}

// DowngradeHTML applies every rewrite rule with the default options.
func DowngradeHTML(text string) (string, error) {
	return NewMarkupDowngrader(DefaultOptions()).DowngradeHTML(text)
}

func (m *MarkupDowngrader) DowngradeHTML(text string) (string, error) {
	return m.DowngradeHTMLAt(text, nil)
}

// DowngradeHTMLAt is DowngradeHTML for a document fetched from page. page is
// only consulted when relative link resolution is enabled.
func (m *MarkupDowngrader) DowngradeHTMLAt(text string, page *url.URL) (string, error) {
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return "", &ParseError{Err: err}
	}

	tree := newDocumentTree(doc)
	rc := &rewriteContext{opts: m.opts, page: page, charsetLabel: m.charsetLabel}
	for _, rule := range rewriteRules {
		rule.apply(tree, rc)
	}

	var b strings.Builder
	if err := tree.Render(&b); err != nil {
		return "", &ParseError{Err: err}
	}
	return b.String(), nil
}

func stripScripts(t *DocumentTree, _ *rewriteContext) {
	for _, id := range t.Elements("script") {
		t.Remove(id)
	}
}

func simplifyStyles(t *DocumentTree, _ *rewriteContext) {
	for _, id := range t.Elements("style") {
		t.SetText(id, DowngradeCSS(t.Text(id)))
	}
}

// normalizeLinks looks at every link-bearing attribute. Unless relative link
// resolution is switched on it leaves them untouched.
func normalizeLinks(t *DocumentTree, rc *rewriteContext) {
	resolve := rc.opts.ResolveRelativeLinks && rc.page != nil && rc.page.IsAbs()
	for _, id := range t.Elements("a", "link", "img") {
		key := "href"
		if t.Tag(id) == "img" {
			key = "src"
		}
		val, ok := t.Attr(id, key)
		if !ok || !resolve {
			continue
		}
		val = strings.TrimSpace(val)
		if val == "" || strings.HasPrefix(val, "#") {
			continue
		}
		ref, err := url.Parse(val)
		if err != nil || ref.IsAbs() {
			continue
		}
		t.SetAttr(id, key, rc.page.ResolveReference(ref).String())
	}
}

var modernElements = []string{
	"video", "audio", "canvas", "svg",
	"nav", "article", "section", "header", "footer",
}

func downgradeModernElements(t *DocumentTree, _ *rewriteContext) {
	for _, id := range t.Elements(modernElements...) {
		// already gone with an enclosing video
		if !t.Attached(id) {
			continue
		}
		if t.Tag(id) != "video" {
			t.Unwrap(id)
			continue
		}
		poster, ok := t.Attr(id, "poster")
		if !ok || poster == "" {
			t.Remove(id)
			continue
		}
		t.ReplaceWith(id, "img",
			html.Attribute{Key: "src", Val: poster},
			html.Attribute{Key: "alt", Val: "Video thumbnail"},
		)
	}
}

func pruneAttributes(t *DocumentTree, _ *rewriteContext) {
	for _, id := range t.Elements() {
		t.RemoveAttrs(id, func(a html.Attribute) bool {
			key := strings.ToLower(a.Key)
			return strings.HasPrefix(key, "data-") || strings.HasPrefix(key, "aria-")
		})
	}
}

var iconRels = []string{"icon", "shortcut icon"}

func rewriteImageURLs(t *DocumentTree, rc *rewriteContext) {
	for _, id := range t.Elements("img", "link") {
		key := "src"
		if t.Tag(id) == "link" {
			rel, _ := t.Attr(id, "rel")
			if !lo.Contains(iconRels, strings.ToLower(strings.TrimSpace(rel))) {
				continue
			}
			key = "href"
		}
		if val, ok := t.Attr(id, key); ok && val != "" {
			t.SetAttr(id, key, rc.opts.ProxyImageURL(val))
		}
	}
}

// declareCharset keeps in-document charset declarations in line with the
// bytes the client will actually receive.
func declareCharset(t *DocumentTree, rc *rewriteContext) {
	if rc.charsetLabel == "" {
		return
	}
	for _, id := range t.Elements("meta") {
		if _, ok := t.Attr(id, "charset"); ok {
			t.SetAttr(id, "charset", rc.charsetLabel)
			continue
		}
		equiv, _ := t.Attr(id, "http-equiv")
		if strings.EqualFold(strings.TrimSpace(equiv), "content-type") {
			t.SetAttr(id, "content", "text/html; charset="+rc.charsetLabel)
		}
	}
}
