package domain

import "errors"

// DenialReason tags exactly which gate blocked an identity. Reasons are
// never collapsed into a generic failure; callers surface them verbatim.
type DenialReason string

const (
	ReasonNone                       DenialReason = ""
	ReasonAgentDeclarationRequired   DenialReason = "AGENT_DECLARATION_REQUIRED"
	ReasonOrgDisallowsAgents         DenialReason = "ORG_DISALLOWS_AGENTS"
	ReasonRoleDisallowsAgents        DenialReason = "ROLE_DISALLOWS_AGENTS"
	ReasonInsufficientOrgReputation  DenialReason = "INSUFFICIENT_ORG_REPUTATION"
	ReasonInsufficientFeedbackCount  DenialReason = "INSUFFICIENT_FEEDBACK_COUNT"
	ReasonInsufficientRoleReputation DenialReason = "INSUFFICIENT_ROLE_REPUTATION"
	ReasonInsufficientVouches        DenialReason = "INSUFFICIENT_VOUCHES"
)

// Operational failures of the vouching engine. Every one aborts the whole
// call and leaves state untouched; nothing is retried internally.
var (
	ErrNotAuthorized    = errors.New("not authorized")
	ErrAlreadyRequested = errors.New("an open vouch request already exists for this candidate and hat")
	ErrAlreadyVouched   = errors.New("voucher already responded to this request")
	ErrAlreadyFulfilled = errors.New("vouch request is already fulfilled")
	ErrNotFound         = errors.New("vouch request not found")
)
