package domain

import "fmt"

// Decision is an eligibility verdict. Reason is set only on denial.
type Decision struct {
	Eligible bool         `json:"eligible"`
	Reason   DenialReason `json:"reason,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

func deny(reason DenialReason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// ReputationSummary is a read-only aggregate queried from the reputation
// registry, already filtered to the trusted sources in effect.
type ReputationSummary struct {
	FeedbackCount int   `json:"feedback_count"`
	Value         int64 `json:"value"`
	ValueDecimals int   `json:"value_decimals"`
}

// Score normalizes Value to whole units for threshold comparison.
func (r ReputationSummary) Score() int64 {
	v := r.Value
	for i := 0; i < r.ValueDecimals; i++ {
		v /= 10
	}
	return v
}

// EligibilityInput bundles everything Evaluate reads. All fields are
// snapshots; Evaluate has no other state and no side effects.
type EligibilityInput struct {
	Identity Identity
	Hat      HatID
	Snapshot PolicySnapshot

	// Agent is the registry record for the identity, nil when unlinked.
	Agent *AgentRecord

	// Basic is the externally-owned basic eligibility verdict
	// (hat-hierarchy membership etc.). A denial is passed through verbatim.
	Basic Decision

	// Reputation is the summary filtered to the org's trusted sources.
	// An empty trusted-source list means the query ran unfiltered.
	Reputation ReputationSummary

	// CurrentTally is the weighted tally of the most recent matching vouch
	// request, zero when none exists.
	CurrentTally int

	// BaseHatQuorum is the hat's ordinary non-agent vouch requirement.
	BaseHatQuorum int
}

// RequiredVouches computes the vouch count a candidate needs for a hat.
// When org-wide agent vouching is on, the org quorum replaces the hat's
// ordinary requirement; per-hat extra vouching stacks on top.
func RequiredVouches(org AgentPolicy, rules HatAgentRules, baseHatQuorum int) int {
	base := baseHatQuorum
	if org.AgentVouchingRequired {
		base = org.AgentVouchQuorum
	}
	if rules.RequireExtraVouching {
		base += rules.ExtraVouchesRequired
	}
	return base
}

// WeightedQuorum converts a vouch count into weighted tally units.
func WeightedQuorum(count int) int {
	return count * BaseVouchWeight
}

// Evaluate runs the ordered eligibility pipeline, short-circuiting on the
// first failing gate. Repeated calls with the same input return the same
// verdict.
func Evaluate(in EligibilityInput) Decision {
	if !in.Basic.Eligible {
		return in.Basic
	}
	if !in.Agent.IsAgent() {
		// Agent gates do not apply to humans.
		return Decision{Eligible: true}
	}

	// Disallow gates come first: an org- or role-level agent ban denies
	// every agent identity with the same reason, declared or not.
	org := in.Snapshot.Org
	if !org.AllowAgents {
		return deny(ReasonOrgDisallowsAgents, "organization policy disallows agents")
	}

	rules := in.Snapshot.RulesFor(in.Hat)
	if !rules.AllowAgents {
		return deny(ReasonRoleDisallowsAgents, fmt.Sprintf("hat %s disallows agents", in.Hat))
	}
	if org.RequireAgentDeclaration && in.Agent.DeclaredType == "" {
		return deny(ReasonAgentDeclarationRequired, "registry record has no declared type")
	}
	if org.MinAgentReputation > 0 && in.Reputation.Score() < int64(org.MinAgentReputation) {
		return deny(ReasonInsufficientOrgReputation,
			fmt.Sprintf("reputation %d below org minimum %d", in.Reputation.Score(), org.MinAgentReputation))
	}
	if org.MinAgentFeedbackCount > 0 && in.Reputation.FeedbackCount < org.MinAgentFeedbackCount {
		return deny(ReasonInsufficientFeedbackCount,
			fmt.Sprintf("feedback count %d below org minimum %d", in.Reputation.FeedbackCount, org.MinAgentFeedbackCount))
	}
	if rules.MinReputation > 0 && in.Reputation.Score() < int64(rules.MinReputation) {
		return deny(ReasonInsufficientRoleReputation,
			fmt.Sprintf("reputation %d below hat minimum %d", in.Reputation.Score(), rules.MinReputation))
	}

	if org.AgentVouchingRequired || rules.RequireExtraVouching {
		quorum := WeightedQuorum(RequiredVouches(org, rules, in.BaseHatQuorum))
		if in.CurrentTally < quorum {
			return deny(ReasonInsufficientVouches,
				fmt.Sprintf("weighted tally %d below quorum %d", in.CurrentTally, quorum))
		}
	}

	return Decision{Eligible: true}
}
