package auth

import (
	"net/http"
	"strings"
)

// Rule grants access to one route. A Path ending in "/" or "." matches as a
// prefix; an empty Method matches any method.
type Rule struct {
	Path   string
	Method string
	Role   Role
}

func (r Rule) matches(method, path string) bool {
	if r.Method != "" && r.Method != method {
		return false
	}
	if strings.HasSuffix(r.Path, "/") || strings.HasSuffix(r.Path, ".") {
		return strings.HasPrefix(path, r.Path)
	}
	return path == r.Path
}

// readAPIRules is evaluated in order; the first match wins.
var readAPIRules = []Rule{
	{Path: "/api/v1/feed/export.", Role: RoleOperator},
	{Path: "/api/v1/feed/stream", Role: RoleViewer},
	{Path: "/api/v1/feed", Role: RoleViewer},
	{Path: "/api/v1/components", Method: http.MethodPost, Role: RoleAdmin},
	{Path: "/api/v1/components", Role: RoleViewer},
	{Path: "/api/v1/devices", Role: RoleViewer},
	{Path: "/api/v1/devices/", Role: RoleViewer},
	{Path: "/api/v1/expiry", Role: RoleOperator},
}

// Policy maps requests to the role they require.
type Policy struct {
	Rules          []Rule
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy returns the read API policy with the given exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{Rules: readAPIRules, ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt reports whether the request skips token checks.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves the role for the request. Unlisted /api/ routes need
// viewer to read and operator to write; anything else is open.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	for _, rule := range p.Rules {
		if rule.matches(r.Method, r.URL.Path) {
			return rule.Role, true
		}
	}
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		return "", false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer, true
	default:
		return RoleOperator, true
	}
}
