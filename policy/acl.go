package policy

import (
	"strings"

	"github.com/ryanuber/go-glob"

	"github.com/helixcare/secrets-core/interfaces"
)

// ACL is the effective capability view of a set of policies attached to
// one token. It is immutable once built; the router builds one per
// request from a policy snapshot.
type ACL struct {
	policies []*Policy
	root     bool
}

// NewACL builds an ACL from resolved policies. A nil entry (an attached
// policy that no longer exists) is skipped: a dangling reference must not
// grant anything.
func NewACL(policies []*Policy, root bool) *ACL {
	kept := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &ACL{policies: kept, root: root}
}

// Capabilities computes the effective capability set for a path: the
// union of each policy's most specific matching rule, collapsed to deny
// if any of those rules denies.
func (a *ACL) Capabilities(path string) []Capability {
	if a.root {
		return []Capability{ReadCapability, WriteCapability, DeleteCapability, ListCapability, SudoCapability}
	}

	granted := make(map[Capability]struct{})
	for _, p := range a.policies {
		rule := mostSpecificRule(p, path)
		if rule == nil {
			continue
		}
		for _, capability := range rule.Capabilities {
			if capability == DenyCapability {
				return []Capability{DenyCapability}
			}
			granted[capability] = struct{}{}
		}
	}

	out := make([]Capability, 0, len(granted))
	for _, capability := range []Capability{ReadCapability, WriteCapability, DeleteCapability, ListCapability, SudoCapability} {
		if _, ok := granted[capability]; ok {
			out = append(out, capability)
		}
	}
	return out
}

// Allows reports whether the operation is permitted on the path.
// Deny-by-default: absence of a matching grant denies.
func (a *ACL) Allows(op interfaces.Operation, path string) bool {
	required, err := CapabilityForOperation(op)
	if err != nil {
		return false
	}
	for _, capability := range a.Capabilities(path) {
		if capability == DenyCapability {
			return false
		}
		if capability == required {
			return true
		}
	}
	return false
}

// mostSpecificRule selects the policy's most specific rule matching the
// path. Exact (glob-free) matches rank above glob matches; glob matches
// rank by literal prefix length; a bare wildcard ranks last.
func mostSpecificRule(p *Policy, path string) *PathRule {
	var (
		best      *PathRule
		bestExact bool
		bestLen   = -1
	)

	for i := range p.Rules {
		rule := &p.Rules[i]

		exact := !strings.Contains(rule.Pattern, "*")
		if exact {
			if rule.Pattern != path {
				continue
			}
			if !bestExact || len(rule.Pattern) > bestLen {
				best, bestExact, bestLen = rule, true, len(rule.Pattern)
			}
			continue
		}

		if bestExact || !glob.Glob(rule.Pattern, path) {
			continue
		}
		prefixLen := strings.Index(rule.Pattern, "*")
		if prefixLen > bestLen {
			best, bestLen = rule, prefixLen
		}
	}
	return best
}
