package auth

import (
	"net/http"
	"strings"
)

// BalancePathPrefix is the route guarded by the default policy.
const BalancePathPrefix = "/total_balance_as_of_date/"

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	// BalanceRole guards BalancePathPrefix; empty means RoleViewer.
	BalanceRole Role
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes, BalanceRole: RoleViewer}
}

// IsExempt returns true when a request should skip auth/RBAC.
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

// RequiredRole resolves the role required for the request.
// Totals and their exports need BalanceRole; unknown paths need no role.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	if strings.HasPrefix(r.URL.Path, BalancePathPrefix) {
		if p.BalanceRole == "" {
			return RoleViewer, true
		}
		return p.BalanceRole, true
	}
	return "", false
}
