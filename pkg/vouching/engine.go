// Package vouching implements the vouch-request consensus engine: request
// lifecycle, authorization-checked vote casting, weighted tally
// accumulation and one-shot finalization into a hat grant.
package vouching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/policystore"
)

// IdentityPort is the ERC-8004 identity registry collaborator.
type IdentityPort interface {
	ResolveAgentRecord(ctx context.Context, id domain.Identity) (*domain.AgentRecord, error)
	BasicEligibility(ctx context.Context, id domain.Identity, hat domain.HatID) (domain.Decision, error)
}

// ReputationPort is the ERC-8004 reputation registry collaborator.
type ReputationPort interface {
	QuerySummary(ctx context.Context, agentID string, sources, tags []string) (domain.ReputationSummary, error)
}

// RoleGrantPort grants hats. Invoked exactly once per fulfilled request.
type RoleGrantPort interface {
	GrantHat(ctx context.Context, id domain.Identity, hat domain.HatID) error
}

// HatQuorumPort reports a hat's ordinary non-agent vouch requirement.
type HatQuorumPort interface {
	BaseVouchQuorum(ctx context.Context, hat domain.HatID) (int, error)
}

const (
	EventRequestOpened    = "REQUEST_OPENED"
	EventResponseReceived = "RESPONSE_RECEIVED"
)

// Event is an append-only audit record. The engine only ever writes these;
// it never reads them back.
type Event struct {
	Type             string          `json:"type"`
	RequestID        string          `json:"request_id"`
	Candidate        domain.Identity `json:"candidate"`
	CandidateIsAgent bool            `json:"candidate_is_agent"`
	Hat              domain.HatID    `json:"hat_id"`
	Voucher          domain.Identity `json:"voucher,omitempty"`
	Support          *bool           `json:"support,omitempty"`
	Weight           int             `json:"weight,omitempty"`
	Tally            int             `json:"tally"`
	RequiredQuorum   int             `json:"required_quorum"`
	Fulfilled        bool            `json:"fulfilled"`
	EvidenceURL      string          `json:"evidence_url,omitempty"`
	At               time.Time       `json:"at"`
}

type AuditSink interface {
	Emit(Event)
}

type noopSink struct{}

func (noopSink) Emit(Event) {}

// EligibilityError carries the exact denial verdict that blocked a
// candidate from opening a request.
type EligibilityError struct {
	Decision domain.Decision
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("candidate not eligible: %s", e.Decision.Reason)
}

type Config struct {
	Policies   *policystore.Store
	Identity   IdentityPort
	Reputation ReputationPort
	Grants     RoleGrantPort
	Quorums    HatQuorumPort
	Audit      AuditSink

	// Delegates may open requests on behalf of a candidate.
	Delegates policystore.Authorizer
}

// Engine owns vouch request state. Every public operation runs to
// completion as one transaction: all checks pass or nothing mutates.
type Engine struct {
	policies   *policystore.Store
	identity   IdentityPort
	reputation ReputationPort
	grants     RoleGrantPort
	quorums    HatQuorumPort
	audit      AuditSink
	delegates  policystore.Authorizer
	clock      func() time.Time

	mu          sync.Mutex
	requests    map[string]*domain.VouchRequest
	openByKey   map[string]string
	latestByKey map[string]string
}

func New(cfg Config) *Engine {
	audit := cfg.Audit
	if audit == nil {
		audit = noopSink{}
	}
	return &Engine{
		policies:    cfg.Policies,
		identity:    cfg.Identity,
		reputation:  cfg.Reputation,
		grants:      cfg.Grants,
		quorums:     cfg.Quorums,
		audit:       audit,
		delegates:   cfg.Delegates,
		clock:       time.Now,
		requests:    map[string]*domain.VouchRequest{},
		openByKey:   map[string]string{},
		latestByKey: map[string]string{},
	}
}

func pairKey(candidate domain.Identity, hat domain.HatID) string {
	return string(candidate) + "|" + string(hat)
}

type gathered struct {
	snap  domain.PolicySnapshot
	rec   *domain.AgentRecord
	basic domain.Decision
	rep   domain.ReputationSummary
	base  int
}

func (e *Engine) gather(ctx context.Context, id domain.Identity, hat domain.HatID) (gathered, error) {
	g := gathered{snap: e.policies.Snapshot()}
	var err error
	if g.basic, err = e.identity.BasicEligibility(ctx, id, hat); err != nil {
		return g, fmt.Errorf("basic eligibility for %s: %w", id, err)
	}
	if g.rec, err = e.identity.ResolveAgentRecord(ctx, id); err != nil {
		return g, fmt.Errorf("resolve agent record for %s: %w", id, err)
	}
	if g.rec.IsAgent() {
		g.rep, err = e.reputation.QuerySummary(ctx, g.rec.AgentID, g.snap.Org.TrustedReputationSources, nil)
		if err != nil {
			return g, fmt.Errorf("reputation summary for %s: %w", g.rec.AgentID, err)
		}
	}
	if g.base, err = e.quorums.BaseVouchQuorum(ctx, hat); err != nil {
		return g, fmt.Errorf("base quorum for %s: %w", hat, err)
	}
	return g, nil
}

// Evaluate returns the current eligibility verdict for an identity and hat.
func (e *Engine) Evaluate(ctx context.Context, id domain.Identity, hat domain.HatID) (domain.Decision, error) {
	g, err := e.gather(ctx, id, hat)
	if err != nil {
		return domain.Decision{}, err
	}
	return domain.Evaluate(domain.EligibilityInput{
		Identity:      id,
		Hat:           hat,
		Snapshot:      g.snap,
		Agent:         g.rec,
		Basic:         g.basic,
		Reputation:    g.rep,
		CurrentTally:  e.TallyFor(id, hat),
		BaseHatQuorum: g.base,
	}), nil
}

// RequestVouch opens a vouch request for (candidate, hat). The caller must
// be the candidate or an authorized delegate. The required quorum is frozen
// here from the policy snapshot now in effect.
func (e *Engine) RequestVouch(ctx context.Context, caller, candidate domain.Identity, hat domain.HatID, evidenceURL string) (*domain.VouchRequest, error) {
	if caller != candidate && (e.delegates == nil || !e.delegates.IsAdmin(caller)) {
		return nil, domain.ErrNotAuthorized
	}

	g, err := e.gather(ctx, candidate, hat)
	if err != nil {
		return nil, err
	}
	d := domain.Evaluate(domain.EligibilityInput{
		Identity:      candidate,
		Hat:           hat,
		Snapshot:      g.snap,
		Agent:         g.rec,
		Basic:         g.basic,
		Reputation:    g.rep,
		CurrentTally:  e.TallyFor(candidate, hat),
		BaseHatQuorum: g.base,
	})
	// Missing vouches is the one gate a request exists to clear; anything
	// else blocks the request itself.
	if !d.Eligible && d.Reason != domain.ReasonInsufficientVouches {
		return nil, &EligibilityError{Decision: d}
	}

	// Agent candidates get the layered quorum formula; humans keep the
	// hat's ordinary requirement.
	requiredCount := g.base
	if g.rec.IsAgent() {
		requiredCount = domain.RequiredVouches(g.snap.Org, g.snap.RulesFor(hat), g.base)
	}

	now := e.clock().UTC()
	req := &domain.VouchRequest{
		RequestID:        domain.RequestKey(candidate, hat, now),
		Candidate:        candidate,
		Hat:              hat,
		CandidateIsAgent: g.rec.IsAgent(),
		RequiredQuorum:   domain.WeightedQuorum(requiredCount),
		Status:           domain.VouchOpen,
		EvidenceURL:      evidenceURL,
		CreatedAt:        now,
		Voted:            map[domain.Identity]bool{},
	}

	key := pairKey(candidate, hat)
	e.mu.Lock()
	if _, open := e.openByKey[key]; open {
		e.mu.Unlock()
		return nil, domain.ErrAlreadyRequested
	}
	// The deterministic key rounds to seconds: a re-request in the same
	// second as an already-stored one would overwrite its history.
	if _, dup := e.requests[req.RequestID]; dup {
		e.mu.Unlock()
		return nil, domain.ErrAlreadyRequested
	}
	e.requests[req.RequestID] = req
	e.openByKey[key] = req.RequestID
	e.latestByKey[key] = req.RequestID
	out := req.Clone()
	e.mu.Unlock()

	e.audit.Emit(Event{
		Type:             EventRequestOpened,
		RequestID:        out.RequestID,
		Candidate:        out.Candidate,
		CandidateIsAgent: out.CandidateIsAgent,
		Hat:              out.Hat,
		RequiredQuorum:   out.RequiredQuorum,
		EvidenceURL:      evidenceURL,
		At:               now,
	})
	return out, nil
}

// SubmitVouch records one voucher's response. Checks run in a fixed order
// and any failure aborts the call with no state change. On the tally
// reaching the frozen quorum the request turns FULFILLED strictly before
// the external grant call, so a reentrant caller observes a terminal
// request and cannot double-grant.
func (e *Engine) SubmitVouch(ctx context.Context, requestID string, voucher domain.Identity, support bool, evidenceURL string) (*domain.VouchRequest, error) {
	// Request-state checks run before any collaborator call, so an unknown
	// or terminal request never surfaces as an upstream error.
	if err := e.checkVotable(requestID, voucher); err != nil {
		return nil, err
	}

	rec, err := e.identity.ResolveAgentRecord(ctx, voucher)
	if err != nil {
		return nil, fmt.Errorf("resolve agent record for %s: %w", voucher, err)
	}
	voucherIsAgent := rec.IsAgent()
	snap := e.policies.Snapshot()

	// Re-checked under the lock: the request may have moved while the
	// voucher record was being resolved.
	e.mu.Lock()
	req, ok := e.requests[requestID]
	if !ok {
		e.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if req.Status == domain.VouchFulfilled {
		e.mu.Unlock()
		return nil, domain.ErrAlreadyFulfilled
	}
	if _, voted := req.Voted[voucher]; voted {
		e.mu.Unlock()
		return nil, domain.ErrAlreadyVouched
	}
	if !authorizedToVouch(snap, voucherIsAgent, req.CandidateIsAgent, snap.RulesFor(req.Hat)) {
		e.mu.Unlock()
		return nil, domain.ErrNotAuthorized
	}

	req.Voted[voucher] = support
	weight := 0
	fulfilled := false
	if support {
		weight = snap.Matrix.Weight(voucherIsAgent)
		req.Tally += weight
		if req.Tally >= req.RequiredQuorum {
			req.Status = domain.VouchFulfilled
			delete(e.openByKey, pairKey(req.Candidate, req.Hat))
			fulfilled = true
		}
	}
	out := req.Clone()
	e.mu.Unlock()

	e.audit.Emit(Event{
		Type:           EventResponseReceived,
		RequestID:      out.RequestID,
		Candidate:      out.Candidate,
		Hat:            out.Hat,
		Voucher:        voucher,
		Support:        &support,
		Weight:         weight,
		Tally:          out.Tally,
		RequiredQuorum: out.RequiredQuorum,
		Fulfilled:      fulfilled,
		EvidenceURL:    evidenceURL,
		At:             e.clock().UTC(),
	})

	if fulfilled {
		if err := e.grants.GrantHat(ctx, out.Candidate, out.Hat); err != nil {
			return out, fmt.Errorf("hat grant for %s: %w", out.RequestID, err)
		}
	}
	return out, nil
}

func (e *Engine) checkVotable(requestID string, voucher domain.Identity) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[requestID]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status == domain.VouchFulfilled {
		return domain.ErrAlreadyFulfilled
	}
	if _, voted := req.Voted[voucher]; voted {
		return domain.ErrAlreadyVouched
	}
	return nil
}

func authorizedToVouch(snap domain.PolicySnapshot, voucherIsAgent, candidateIsAgent bool, rules domain.HatAgentRules) bool {
	if !snap.Matrix.Allows(voucherIsAgent, candidateIsAgent) {
		return false
	}
	if candidateIsAgent && !rules.CanVouchForAgents {
		return false
	}
	if !candidateIsAgent && !rules.CanVouchForHumans {
		return false
	}
	if voucherIsAgent && !snap.Capabilities.VouchingActions {
		return false
	}
	return true
}

// Request returns a copy of the request with the given id.
func (e *Engine) Request(requestID string) (*domain.VouchRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[requestID]
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// RequestFor returns the most recent request for (candidate, hat).
func (e *Engine) RequestFor(candidate domain.Identity, hat domain.HatID) (*domain.VouchRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.latestByKey[pairKey(candidate, hat)]
	if !ok {
		return nil, false
	}
	return e.requests[id].Clone(), true
}

// TallyFor returns the weighted tally of the most recent request for
// (candidate, hat), zero when none exists.
func (e *Engine) TallyFor(candidate domain.Identity, hat domain.HatID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.latestByKey[pairKey(candidate, hat)]
	if !ok {
		return 0
	}
	return e.requests[id].Tally
}

// OpenRequests lists all requests still collecting responses.
func (e *Engine) OpenRequests() []*domain.VouchRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.VouchRequest, 0, len(e.openByKey))
	for _, id := range e.openByKey {
		out = append(out, e.requests[id].Clone())
	}
	return out
}

// Restore rehydrates persisted requests at boot, preserving their frozen
// quorums, tallies and voted sets.
func (e *Engine) Restore(reqs []*domain.VouchRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range reqs {
		cp := r.Clone()
		if cp.Voted == nil {
			cp.Voted = map[domain.Identity]bool{}
		}
		e.requests[cp.RequestID] = cp
		key := pairKey(cp.Candidate, cp.Hat)
		if cp.Status == domain.VouchOpen {
			e.openByKey[key] = cp.RequestID
		}
		if prev, ok := e.latestByKey[key]; !ok || e.requests[prev].CreatedAt.Before(cp.CreatedAt) {
			e.latestByKey[key] = cp.RequestID
		}
	}
}

// ActionClass names the agent capability groups.
type ActionClass string

const (
	ActionTask       ActionClass = "TASK"
	ActionGovernance ActionClass = "GOVERNANCE"
	ActionVouching   ActionClass = "VOUCHING"
)

// AgentMayAct reports whether agents may perform the given action class at
// all, independent of per-hat eligibility.
func (e *Engine) AgentMayAct(class ActionClass) bool {
	caps := e.policies.Snapshot().Capabilities
	switch class {
	case ActionTask:
		return caps.TaskActions
	case ActionGovernance:
		return caps.GovernanceActions
	case ActionVouching:
		return caps.VouchingActions
	default:
		return false
	}
}
