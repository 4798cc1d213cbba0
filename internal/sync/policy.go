package sync

import (
	"github.com/mschirtzinger/bugwarrior/internal/config"
	"github.com/mschirtzinger/bugwarrior/internal/issue"
)

// Policy selects how a field is reconciled when a remote issue meets an
// existing task.
type Policy string

const (
	// PolicyOverwrite replaces the local value with the remote one on
	// every create and update. It is the default.
	PolicyOverwrite Policy = config.PolicyOverwrite

	// PolicyMerge unions list values, keeping local additions.
	PolicyMerge Policy = config.PolicyMerge

	// PolicyKeep makes the remote list authoritative except for protected
	// local items.
	PolicyKeep Policy = config.PolicyKeep

	// PolicyStatic writes the field when the task is created and never
	// again.
	PolicyStatic Policy = config.PolicyStatic
)

// Policies is the per-field policy table of one sync run.
type Policies struct {
	// Fields maps a field name to its policy; unlisted fields overwrite.
	Fields map[string]Policy

	// Protect lists, per keep field, the local items that survive
	// replacement.
	Protect map[string][]string

	// Rough lists the merge fields compared with rough equality.
	Rough map[string]bool
}

// DefaultPolicies returns the policies used when nothing is configured:
// annotations merge roughly, tags merge, priority is static.
func DefaultPolicies() Policies {
	return Policies{
		Fields: map[string]Policy{
			issue.FieldAnnotations: PolicyMerge,
			issue.FieldTags:        PolicyMerge,
			issue.FieldPriority:    PolicyStatic,
		},
		Protect: map[string][]string{},
		Rough:   map[string]bool{issue.FieldAnnotations: true},
	}
}

// PoliciesFromFlavor builds the policy table of a configured flavor.
func PoliciesFromFlavor(f *config.Flavor) Policies {
	p := Policies{
		Fields:  make(map[string]Policy),
		Protect: make(map[string][]string),
		Rough:   make(map[string]bool),
	}

	for field, policy := range config.BuiltinPolicies {
		p.Fields[field] = Policy(policy)
	}
	for _, field := range f.StaticFields {
		p.Fields[field] = PolicyStatic
	}
	for field, policy := range f.Policies {
		p.Fields[field] = Policy(policy)
	}
	for field, items := range f.Protect {
		p.Protect[field] = append([]string(nil), items...)
	}
	for _, field := range f.RoughFields {
		p.Rough[field] = true
	}
	return p
}

// For returns the policy of field.
func (p Policies) For(field string) Policy {
	if policy, ok := p.Fields[field]; ok {
		return policy
	}
	return PolicyOverwrite
}
