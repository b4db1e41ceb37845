package domain

// Identity is an opaque account handle. It may or may not be linked to an
// ERC-8004 identity-registry record; the governance core only reads that
// linkage, it never writes it.
type Identity string

// HatID names an assignable organizational role.
type HatID string

type AgentType string

const (
	AgentTypeAI     AgentType = "AI"
	AgentTypeHuman  AgentType = "HUMAN"
	AgentTypeHybrid AgentType = "HYBRID"
)

// AgentRecord is the registry linkage for an identity. DeclaredType may be
// empty when the record exists but no declaration was filed.
type AgentRecord struct {
	AgentID      string    `json:"agent_id"`
	DeclaredType AgentType `json:"declared_type"`
}

// IsAgent reports whether the linked identity counts as agent-operated.
// A record with no declaration is still treated as an agent: registering
// in the agent registry is itself the signal.
func (r *AgentRecord) IsAgent() bool {
	return r != nil && r.DeclaredType != AgentTypeHuman
}

// AgentPolicy is the org-wide agent policy, one per organization.
type AgentPolicy struct {
	AllowAgents              bool     `json:"allow_agents"`
	RequireAgentDeclaration  bool     `json:"require_agent_declaration"`
	AgentVouchingRequired    bool     `json:"agent_vouching_required"`
	AgentVouchQuorum         int      `json:"agent_vouch_quorum"`
	MinAgentReputation       int      `json:"min_agent_reputation"`
	MinAgentFeedbackCount    int      `json:"min_agent_feedback_count"`
	TrustedReputationSources []string `json:"trusted_reputation_sources"`
}

// HatAgentRules are the per-hat agent rules. They can only tighten an
// org-level disallow, never loosen it.
type HatAgentRules struct {
	AllowAgents          bool `json:"allow_agents"`
	RequireExtraVouching bool `json:"require_extra_vouching"`
	ExtraVouchesRequired int  `json:"extra_vouches_required"`
	MinReputation        int  `json:"min_reputation"`
	CanVouchForAgents    bool `json:"can_vouch_for_agents"`
	CanVouchForHumans    bool `json:"can_vouch_for_humans"`
}

// BaseVouchWeight is the unit one ordinary vouch is worth. Quorums are
// compared in these weighted units throughout.
const BaseVouchWeight = 100

// VouchingMatrix authorizes (voucher kind -> candidate kind) pairs and
// assigns a weight per voucher kind.
type VouchingMatrix struct {
	HumansVouchForHumans bool `json:"humans_vouch_for_humans"`
	HumansVouchForAgents bool `json:"humans_vouch_for_agents"`
	AgentsVouchForHumans bool `json:"agents_vouch_for_humans"`
	AgentsVouchForAgents bool `json:"agents_vouch_for_agents"`
	HumanVouchWeight     int  `json:"human_vouch_weight"`
	AgentVouchWeight     int  `json:"agent_vouch_weight"`
}

// Allows reports whether a voucher of the given kind may vouch for a
// candidate of the given kind.
func (m VouchingMatrix) Allows(voucherIsAgent, candidateIsAgent bool) bool {
	switch {
	case voucherIsAgent && candidateIsAgent:
		return m.AgentsVouchForAgents
	case voucherIsAgent:
		return m.AgentsVouchForHumans
	case candidateIsAgent:
		return m.HumansVouchForAgents
	default:
		return m.HumansVouchForHumans
	}
}

// Weight returns the weighted units one vouch from the given kind carries.
func (m VouchingMatrix) Weight(voucherIsAgent bool) int {
	if voucherIsAgent {
		return m.AgentVouchWeight
	}
	return m.HumanVouchWeight
}

// AgentCapabilities gates whole action classes for agents, independent of
// any per-hat eligibility.
type AgentCapabilities struct {
	TaskActions       bool `json:"task_actions"`
	GovernanceActions bool `json:"governance_actions"`
	VouchingActions   bool `json:"vouching_actions"`
}

// PolicySnapshot is one immutable version of the full policy configuration.
// Evaluators take it as an explicit input; they never read live state.
type PolicySnapshot struct {
	Version      int                     `json:"version"`
	Org          AgentPolicy             `json:"org"`
	HatRules     map[HatID]HatAgentRules `json:"hat_rules"`
	Matrix       VouchingMatrix          `json:"matrix"`
	Capabilities AgentCapabilities       `json:"capabilities"`
}

// RulesFor returns the rules for a hat, falling back to the defaults when
// none were configured for it.
func (s PolicySnapshot) RulesFor(hat HatID) HatAgentRules {
	if r, ok := s.HatRules[hat]; ok {
		return r
	}
	return DefaultHatAgentRules()
}

func DefaultAgentPolicy() AgentPolicy {
	return AgentPolicy{
		AllowAgents:           true,
		AgentVouchingRequired: true,
		AgentVouchQuorum:      2,
	}
}

func DefaultHatAgentRules() HatAgentRules {
	return HatAgentRules{
		AllowAgents:       true,
		CanVouchForAgents: true,
		CanVouchForHumans: true,
	}
}

func DefaultVouchingMatrix() VouchingMatrix {
	return VouchingMatrix{
		HumansVouchForHumans: true,
		HumansVouchForAgents: true,
		AgentsVouchForAgents: true,
		HumanVouchWeight:     BaseVouchWeight,
		AgentVouchWeight:     50,
	}
}

func DefaultAgentCapabilities() AgentCapabilities {
	return AgentCapabilities{
		TaskActions:     true,
		VouchingActions: true,
	}
}

func DefaultPolicySnapshot() PolicySnapshot {
	return PolicySnapshot{
		Version:      1,
		Org:          DefaultAgentPolicy(),
		HatRules:     map[HatID]HatAgentRules{},
		Matrix:       DefaultVouchingMatrix(),
		Capabilities: DefaultAgentCapabilities(),
	}
}
