package addon

import (
	"fmt"
	"strings"

	"github.com/retutils/retroproxy/internal/helper"
	"github.com/retutils/retroproxy/proxy"
	"github.com/samber/lo"
	"github.com/tidwall/match"
)

// HostRule selects requests by scheme, host glob, method and path glob.
// Empty fields match everything.
type HostRule struct {
	Protocol string   `json:"protocol" yaml:"protocol"`
	Host     string   `json:"host" yaml:"host"`
	Method   []string `json:"method" yaml:"method"`
	Path     string   `json:"path" yaml:"path"`
}

// ParseHostRule reads the short "host[/path]" form used on the command line,
// e.g. "*.example.com" or "example.com:8080/static/*".
func ParseHostRule(s string) (HostRule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return HostRule{}, fmt.Errorf("empty host rule")
	}
	if scheme, rest, ok := strings.Cut(s, "://"); ok {
		r, err := ParseHostRule(rest)
		r.Protocol = scheme
		if err != nil {
			return r, err
		}
		return r, r.Validate()
	}
	host, path, found := strings.Cut(s, "/")
	r := HostRule{Host: host}
	if found {
		r.Path = "/" + path
	}
	return r, nil
}

func (r *HostRule) Match(req *proxy.Request) bool {
	if r.Protocol != "" && r.Protocol != req.URL.Scheme {
		return false
	}
	if r.Host != "" && !helper.MatchHost(req.URL.Host, []string{r.Host}) {
		return false
	}
	if len(r.Method) > 0 && !lo.Contains(r.Method, req.Method) {
		return false
	}
	if r.Path != "" && !match.Match(req.URL.Path, r.Path) {
		return false
	}
	return true
}

func (r *HostRule) Validate() error {
	if r.Protocol != "" && r.Protocol != "http" && r.Protocol != "https" {
		return fmt.Errorf("invalid protocol %v", r.Protocol)
	}
	return nil
}

func matchAny(rules []HostRule, req *proxy.Request) bool {
	return lo.SomeBy(rules, func(r HostRule) bool { return r.Match(req) })
}
