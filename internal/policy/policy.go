// Package policy implements the authorization gate consulted by the proxy
// pipeline after authentication succeeds. Deciders are synchronous and must
// be safe for concurrent use by many in-flight requests.
package policy

import (
	"path"
	"strings"

	"github.com/prn-tf/alexander-gateway/internal/domain"
)

// Decision is the outcome of a policy evaluation.
type Decision int

const (
	// Deny rejects the request. The pipeline never forwards or re-signs a
	// denied request.
	Deny Decision = iota

	// Allow permits the request.
	Allow
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	if d == Allow {
		return "Allow"
	}
	return "Deny"
}

// Policy decides whether an authenticated request may proceed. Decide is
// pure with respect to the request.
type Policy interface {
	Decide(req *domain.ParsedS3Request) Decision
}

// AllowAll permits every authenticated request.
type AllowAll struct{}

// Decide implements Policy.
func (AllowAll) Decide(*domain.ParsedS3Request) Decision {
	return Allow
}

// =============================================================================
// Rule-based policy
// =============================================================================

// Rule matches a class of requests and carries an effect. Empty match fields
// are wildcards.
type Rule struct {
	// AccessKeys limits the rule to requests authenticated with one of
	// these emulated access keys.
	AccessKeys []string

	// Methods limits the rule to these HTTP verbs (uppercase).
	Methods []string

	// BucketPattern is a path.Match glob checked against the bucket name.
	BucketPattern string

	// KeyPrefix limits the rule to keys under this prefix.
	KeyPrefix string

	// Effect is the decision when the rule matches.
	Effect Decision
}

func (r Rule) matches(req *domain.ParsedS3Request) bool {
	if len(r.AccessKeys) > 0 && !contains(r.AccessKeys, req.AccessKey) {
		return false
	}
	if len(r.Methods) > 0 && !contains(r.Methods, req.Method) {
		return false
	}
	if r.BucketPattern != "" {
		ok, err := path.Match(r.BucketPattern, req.Bucket)
		if err != nil || !ok {
			return false
		}
	}
	if r.KeyPrefix != "" && !strings.HasPrefix(req.Key, r.KeyPrefix) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// RulePolicy evaluates an ordered rule list; the first matching rule wins.
// Requests matching no rule get the default decision. The rule list is
// immutable after construction, which is what makes the policy safe for
// concurrent use.
type RulePolicy struct {
	rules        []Rule
	defaultAllow bool
}

// NewRulePolicy builds a policy from an ordered rule list.
func NewRulePolicy(rules []Rule, defaultAllow bool) *RulePolicy {
	return &RulePolicy{rules: rules, defaultAllow: defaultAllow}
}

// Decide implements Policy.
func (p *RulePolicy) Decide(req *domain.ParsedS3Request) Decision {
	for _, rule := range p.rules {
		if rule.matches(req) {
			return rule.Effect
		}
	}
	if p.defaultAllow {
		return Allow
	}
	return Deny
}
