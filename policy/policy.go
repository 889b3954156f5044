package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/helixcare/secrets-core/interfaces"
)

// Capability is a permitted (or explicitly denied) operation class on a
// path pattern.
type Capability string

const (
	ReadCapability   Capability = "read"
	WriteCapability  Capability = "write"
	DeleteCapability Capability = "delete"
	ListCapability   Capability = "list"

	// SudoCapability marks privileged administrative paths.
	SudoCapability Capability = "sudo"

	// DenyCapability explicitly denies access; it overrides any grant from
	// another policy attached to the same token.
	DenyCapability Capability = "deny"
)

// Valid reports whether the capability is one of the known set.
func (c Capability) Valid() bool {
	switch c {
	case ReadCapability, WriteCapability, DeleteCapability, ListCapability, SudoCapability, DenyCapability:
		return true
	default:
		return false
	}
}

// CapabilityForOperation maps a logical operation to the capability it
// requires.
func CapabilityForOperation(op interfaces.Operation) (Capability, error) {
	switch op {
	case interfaces.ReadOperation:
		return ReadCapability, nil
	case interfaces.WriteOperation:
		return WriteCapability, nil
	case interfaces.DeleteOperation:
		return DeleteCapability, nil
	case interfaces.ListOperation:
		return ListCapability, nil
	default:
		return "", fmt.Errorf("%w: unknown operation %q", interfaces.ErrValidation, op)
	}
}

// PathRule binds a glob pattern over logical paths to a capability set.
type PathRule struct {
	Pattern      string       `json:"path"`
	Capabilities []Capability `json:"capabilities"`
}

// Policy is a named, ordered set of path rules, optionally scoped to a
// realm. Policies are referenced by name from tokens, never owned by them.
type Policy struct {
	Name    string     `json:"name"`
	RealmID string     `json:"realm_id,omitempty"`
	Rules   []PathRule `json:"rules"`
}

// RootPolicyName is the reserved policy carried by root tokens. It is not
// evaluated rule-by-rule; the core treats it as an unconditional grant.
const RootPolicyName = "root"

// Parse decodes and validates a policy document.
func Parse(raw []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed policy document: %v", interfaces.ErrValidation, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the policy for structural problems.
func (p *Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: policy name is required", interfaces.ErrValidation)
	}
	if p.Name == RootPolicyName {
		return fmt.Errorf("%w: policy name %q is reserved", interfaces.ErrValidation, RootPolicyName)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("%w: policy %q has no rules", interfaces.ErrValidation, p.Name)
	}

	for _, rule := range p.Rules {
		if rule.Pattern == "" || strings.HasPrefix(rule.Pattern, "/") {
			return fmt.Errorf("%w: policy %q has invalid path pattern %q", interfaces.ErrValidation, p.Name, rule.Pattern)
		}
		if len(rule.Capabilities) == 0 {
			return fmt.Errorf("%w: policy %q rule %q has no capabilities", interfaces.ErrValidation, p.Name, rule.Pattern)
		}
		for _, capability := range rule.Capabilities {
			if !capability.Valid() {
				return fmt.Errorf("%w: policy %q has unknown capability %q", interfaces.ErrValidation, p.Name, capability)
			}
		}
	}
	return nil
}

// Marshal encodes the policy for storage.
func (p *Policy) Marshal() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy %q: %w", p.Name, err)
	}
	return raw, nil
}
