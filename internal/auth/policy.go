package auth

import (
	"net/http"
	"strings"
)

// routeRule grants access to paths under prefix. An empty method matches
// any method; exact rules match the path only.
type routeRule struct {
	prefix string
	exact  bool
	method string
	role   Role
}

func (rule routeRule) matches(path, method string) bool {
	if rule.method != "" && rule.method != method {
		return false
	}
	if rule.exact {
		return path == rule.prefix
	}
	return strings.HasPrefix(path, rule.prefix)
}

// First match wins.
var defaultRules = []routeRule{
	{prefix: "/api/v1/aggregation/cache/stats", exact: true, role: RoleOperator},
	{prefix: "/api/v1/aggregation/cache", method: http.MethodDelete, role: RoleAdmin},
	{prefix: "/api/v1/aggregation/cache", role: RoleOperator},
	{prefix: "/api/v1/aggregation/", role: RoleViewer},
	{prefix: "/api/v1/realtime/", method: http.MethodGet, role: RoleOperator},
	{prefix: "/api/v1/realtime/", role: RoleAdmin},
}

// Policy decides which requests need a token and which role they need.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	rules          []routeRule
}

// NewDefaultPolicy builds the service policy with the given exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes, rules: defaultRules}
}

// IsExempt reports whether a request skips authentication entirely.
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

// RequiredRole returns the minimum role for the request. Unlisted /api/
// routes need viewer for reads and operator for writes; anything else
// needs no role.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path, method := r.URL.Path, r.Method
	for _, rule := range p.rules {
		if rule.matches(path, method) {
			return rule.role, true
		}
	}
	if !strings.HasPrefix(path, "/api/") {
		return "", false
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer, true
	default:
		return RoleOperator, true
	}
}
