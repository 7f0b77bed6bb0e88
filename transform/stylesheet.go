package transform

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Stylesheet rewriting works on the text, not on a parsed stylesheet. Steps
// run in the order below and are not commutative; CSS hidden in string
// literals (content: "var(--x)") is rewritten like any other text.

var (
	cssBlockComment = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	cssPunctSpace   = regexp.MustCompile(`\s*([{};,:])\s*`)
	cssSemiBrace    = regexp.MustCompile(`;\s*}`)
	cssMediaStart   = regexp.MustCompile(`@media[^{]*\{`)
	cssVarRef       = regexp.MustCompile(`var\(\s*--[A-Za-z0-9_-]+\s*(?:,[^()]*)?\)`)
	cssInnerBlock   = regexp.MustCompile(`\{[^{}]*\}`)
)

var modernDisplayValues = []string{"flex", "grid", "inline-flex", "inline-grid"}

var layoutProperties = []string{
	"align-items",
	"justify-content",
	"gap",
	"grid-template-columns",
	"grid-row-gap",
	"flex-direction",
}

type cssStep struct {
	name  string
	apply func(string) string
}

var cssSteps = []cssStep{
	{"strip-comments", stripCSSComments},
	{"collapse-whitespace", func(css string) string { return strings.TrimSpace(cssPunctSpace.ReplaceAllString(css, "$1")) }},
	{"trailing-semicolon", func(css string) string { return cssSemiBrace.ReplaceAllString(css, "}") }},
	{"strip-media", stripMediaBlocks},
	{"custom-properties", replaceVarRefs},
	{"layout-declarations", stripLayoutDeclarations},
}

// DowngradeCSS rewrites a stylesheet into something a legacy renderer can
// digest: no comments, no media queries, no custom properties and no
// flexbox/grid layout.
func DowngradeCSS(css string) string {
	for _, step := range cssSteps {
		css = step.apply(css)
	}
	return css
}

func stripCSSComments(css string) string {
	css = cssBlockComment.ReplaceAllString(css, "")
	return stripLineComments(css)
}

// stripLineComments drops "//" comments up to the end of the line. Slashes
// inside strings, url() arguments and right after a colon are part of a value.
func stripLineComments(css string) string {
	var b strings.Builder
	var quote byte
	inURL := false
	for i := 0; i < len(css); i++ {
		c := css[i]
		switch {
		case quote != 0:
			if c == '\\' && i+1 < len(css) {
				b.WriteByte(c)
				i++
				c = css[i]
			} else if c == quote {
				quote = 0
			}
		case inURL:
			if c == ')' {
				inURL = false
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '\\' && i+1 < len(css):
			b.WriteByte(c)
			i++
			c = css[i]
		case c == '(' && i >= 3 && strings.EqualFold(css[i-3:i], "url"):
			inURL = true
		case c == '/' && i+1 < len(css) && css[i+1] == '/' && (i == 0 || css[i-1] != ':'):
			end := strings.IndexByte(css[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// stripMediaBlocks removes every @media rule with its whole, brace-balanced body.
// An unterminated block swallows the rest of the sheet, as a browser would.
func stripMediaBlocks(css string) string {
	var b strings.Builder
	for {
		loc := cssMediaStart.FindStringIndex(css)
		if loc == nil {
			b.WriteString(css)
			return b.String()
		}
		head := css[:loc[0]]
		end := matchingBrace(css, loc[1]-1)
		if end < 0 {
			b.WriteString(head)
			return b.String()
		}
		css = css[end+1:]
		if strings.HasSuffix(head, ";") && strings.HasPrefix(css, "}") {
			head = head[:len(head)-1]
		}
		b.WriteString(head)
	}
}

func matchingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// replaceVarRefs substitutes custom property references, innermost first, so
// var(--a, var(--b)) collapses in two passes.
func replaceVarRefs(css string) string {
	for cssVarRef.MatchString(css) {
		css = cssVarRef.ReplaceAllString(css, "initial")
	}
	return css
}

func stripLayoutDeclarations(css string) string {
	return cssInnerBlock.ReplaceAllStringFunc(css, func(block string) string {
		decls := strings.Split(block[1:len(block)-1], ";")
		kept := lo.Filter(decls, func(decl string, _ int) bool {
			return !isLayoutDeclaration(decl)
		})
		if len(kept) == len(decls) {
			return block
		}
		for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
			kept = kept[:len(kept)-1]
		}
		return "{" + strings.Join(kept, ";") + "}"
	})
}

func isLayoutDeclaration(decl string) bool {
	prop, value, ok := strings.Cut(decl, ":")
	if !ok {
		return false
	}
	prop = strings.ToLower(strings.TrimSpace(prop))
	if prop == "display" {
		value = strings.ToLower(strings.TrimSpace(value))
		value = strings.TrimSpace(strings.TrimSuffix(value, "!important"))
		return lo.Contains(modernDisplayValues, value)
	}
	return lo.Contains(layoutProperties, prop)
}
