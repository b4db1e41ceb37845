package vouching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/policystore"
)

type fakePorts struct {
	records    map[domain.Identity]*domain.AgentRecord
	basic      map[domain.Identity]domain.Decision
	rep        map[string]domain.ReputationSummary
	base       int
	grants     []string
	grantErr   error
	resolveErr error
	events     []Event
}

func (f *fakePorts) ResolveAgentRecord(_ context.Context, id domain.Identity) (*domain.AgentRecord, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.records[id], nil
}

func (f *fakePorts) BasicEligibility(_ context.Context, id domain.Identity, _ domain.HatID) (domain.Decision, error) {
	if d, ok := f.basic[id]; ok {
		return d, nil
	}
	return domain.Decision{Eligible: true}, nil
}

func (f *fakePorts) QuerySummary(_ context.Context, agentID string, _, _ []string) (domain.ReputationSummary, error) {
	return f.rep[agentID], nil
}

func (f *fakePorts) BaseVouchQuorum(_ context.Context, _ domain.HatID) (int, error) {
	return f.base, nil
}

func (f *fakePorts) GrantHat(_ context.Context, id domain.Identity, hat domain.HatID) error {
	f.grants = append(f.grants, string(id)+"/"+string(hat))
	return f.grantErr
}

func (f *fakePorts) Emit(ev Event) { f.events = append(f.events, ev) }

const hatTreasurer = domain.HatID("hat_treasurer")

func newTestEngine(t *testing.T) (*Engine, *fakePorts, *policystore.Store) {
	t.Helper()
	admins := policystore.NewAllowList("admin")
	policies := policystore.New(admins)

	org := domain.DefaultAgentPolicy()
	org.AgentVouchingRequired = true
	org.AgentVouchQuorum = 3
	if err := policies.SetAgentPolicy("admin", org); err != nil {
		t.Fatalf("seed agent policy: %v", err)
	}
	rules := domain.DefaultHatAgentRules()
	rules.RequireExtraVouching = true
	rules.ExtraVouchesRequired = 2
	if err := policies.SetHatAgentRules("admin", hatTreasurer, rules); err != nil {
		t.Fatalf("seed hat rules: %v", err)
	}

	ports := &fakePorts{
		records: map[domain.Identity]*domain.AgentRecord{
			"agent_a": {AgentID: "8004:42", DeclaredType: domain.AgentTypeAI},
			"agent_b": {AgentID: "8004:43", DeclaredType: domain.AgentTypeAI},
		},
		basic: map[domain.Identity]domain.Decision{},
		rep:   map[string]domain.ReputationSummary{},
		base:  1,
	}
	eng := New(Config{
		Policies:   policies,
		Identity:   ports,
		Reputation: ports,
		Grants:     ports,
		Quorums:    ports,
		Audit:      ports,
		Delegates:  admins,
	})
	return eng, ports, policies
}

func mustOpen(t *testing.T, eng *Engine, candidate domain.Identity, hat domain.HatID) *domain.VouchRequest {
	t.Helper()
	req, err := eng.RequestVouch(context.Background(), candidate, candidate, hat, "ipfs://evidence")
	if err != nil {
		t.Fatalf("request vouch: %v", err)
	}
	return req
}

func TestQuorumLifecycleGrantsExactlyOnce(t *testing.T) {
	eng, ports, _ := newTestEngine(t)
	ctx := context.Background()

	req := mustOpen(t, eng, "agent_a", hatTreasurer)
	// 3 org quorum + 2 extra, in weighted units.
	if req.RequiredQuorum != domain.WeightedQuorum(5) {
		t.Fatalf("expected frozen quorum %d, got %d", domain.WeightedQuorum(5), req.RequiredQuorum)
	}

	vouchers := []domain.Identity{"h1", "h2", "h3", "h4"}
	for _, v := range vouchers {
		got, err := eng.SubmitVouch(ctx, req.RequestID, v, true, "")
		if err != nil {
			t.Fatalf("vouch from %s: %v", v, err)
		}
		if got.Status != domain.VouchOpen {
			t.Fatalf("request fulfilled early at tally %d", got.Tally)
		}
	}
	if len(ports.grants) != 0 {
		t.Fatalf("grant fired before quorum: %v", ports.grants)
	}

	got, err := eng.SubmitVouch(ctx, req.RequestID, "h5", true, "")
	if err != nil {
		t.Fatalf("fifth vouch: %v", err)
	}
	if got.Status != domain.VouchFulfilled || got.Tally != 500 {
		t.Fatalf("expected FULFILLED at tally 500, got %+v", got)
	}
	if len(ports.grants) != 1 || ports.grants[0] != "agent_a/hat_treasurer" {
		t.Fatalf("expected exactly one grant, got %v", ports.grants)
	}
}

func TestIdempotentVoting(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	req := mustOpen(t, eng, "agent_a", hatTreasurer)

	first, err := eng.SubmitVouch(ctx, req.RequestID, "h1", true, "")
	if err != nil {
		t.Fatalf("first vouch: %v", err)
	}
	if _, err := eng.SubmitVouch(ctx, req.RequestID, "h1", true, ""); err != domain.ErrAlreadyVouched {
		t.Fatalf("expected ErrAlreadyVouched, got %v", err)
	}
	after, _ := eng.Request(req.RequestID)
	if after.Tally != first.Tally {
		t.Fatalf("rejected revote changed tally: %d -> %d", first.Tally, after.Tally)
	}
}

func TestFulfilledRequestIsImmutable(t *testing.T) {
	eng, ports, _ := newTestEngine(t)
	ctx := context.Background()
	req := mustOpen(t, eng, "agent_a", hatTreasurer)
	for _, v := range []domain.Identity{"h1", "h2", "h3", "h4", "h5"} {
		if _, err := eng.SubmitVouch(ctx, req.RequestID, v, true, ""); err != nil {
			t.Fatalf("vouch from %s: %v", v, err)
		}
	}

	if _, err := eng.SubmitVouch(ctx, req.RequestID, "h6", true, ""); err != domain.ErrAlreadyFulfilled {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
	after, _ := eng.Request(req.RequestID)
	if after.Status != domain.VouchFulfilled || after.Tally != 500 {
		t.Fatalf("terminal request mutated: %+v", after)
	}
	if len(ports.grants) != 1 {
		t.Fatalf("expected exactly one grant, got %v", ports.grants)
	}
}

func TestSubmitVouchUnknownRequest(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	if _, err := eng.SubmitVouch(context.Background(), "vreq_missing", "h1", true, ""); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMatrixBlocksAgentVouchingForHumans(t *testing.T) {
	eng, _, policies := newTestEngine(t)
	ctx := context.Background()

	// Human candidate: matrix defaults leave agents_vouch_for_humans off.
	req := mustOpen(t, eng, "human_c", hatTreasurer)
	if req.CandidateIsAgent {
		t.Fatalf("candidate without registry record classified as agent")
	}

	if _, err := eng.SubmitVouch(ctx, req.RequestID, "agent_b", true, ""); err != domain.ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	after, _ := eng.Request(req.RequestID)
	if after.Tally != 0 {
		t.Fatalf("unauthorized vouch changed tally: %d", after.Tally)
	}
	if _, voted := after.Voted["agent_b"]; voted {
		t.Fatal("unauthorized voucher was recorded as having voted")
	}

	// Opening the matrix pair authorizes the same vouch.
	m := domain.DefaultVouchingMatrix()
	m.AgentsVouchForHumans = true
	if err := policies.SetVouchingMatrix("admin", m); err != nil {
		t.Fatalf("set matrix: %v", err)
	}
	if _, err := eng.SubmitVouch(ctx, req.RequestID, "agent_b", true, ""); err != nil {
		t.Fatalf("authorized vouch failed: %v", err)
	}
}

func TestWeightScaledQuorum(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Quorum of 150 weighted units: two agent vouches (50 each) fall short,
	// one human (100) plus one agent (50) lands exactly on it.
	short := &domain.VouchRequest{
		RequestID:        domain.RequestKey("agent_a", "hat_member", now),
		Candidate:        "agent_a",
		Hat:              "hat_member",
		CandidateIsAgent: true,
		RequiredQuorum:   150,
		Status:           domain.VouchOpen,
		CreatedAt:        now,
		Voted:            map[domain.Identity]bool{},
	}
	exact := &domain.VouchRequest{
		RequestID:        domain.RequestKey("agent_b", "hat_member", now),
		Candidate:        "agent_b",
		Hat:              "hat_member",
		CandidateIsAgent: true,
		RequiredQuorum:   150,
		Status:           domain.VouchOpen,
		CreatedAt:        now,
		Voted:            map[domain.Identity]bool{},
	}
	eng.Restore([]*domain.VouchRequest{short, exact})

	other := &domain.AgentRecord{AgentID: "8004:90", DeclaredType: domain.AgentTypeAI}
	engPorts := eng.identity.(*fakePorts)
	engPorts.records["agent_v1"] = other
	engPorts.records["agent_v2"] = &domain.AgentRecord{AgentID: "8004:91", DeclaredType: domain.AgentTypeAI}

	for _, v := range []domain.Identity{"agent_v1", "agent_v2"} {
		got, err := eng.SubmitVouch(ctx, short.RequestID, v, true, "")
		if err != nil {
			t.Fatalf("agent vouch: %v", err)
		}
		if got.Status != domain.VouchOpen {
			t.Fatalf("two agent vouches must not reach 150, tally %d", got.Tally)
		}
	}

	if _, err := eng.SubmitVouch(ctx, exact.RequestID, "h1", true, ""); err != nil {
		t.Fatalf("human vouch: %v", err)
	}
	got, err := eng.SubmitVouch(ctx, exact.RequestID, "agent_v1", true, "")
	if err != nil {
		t.Fatalf("agent vouch: %v", err)
	}
	if got.Status != domain.VouchFulfilled || got.Tally != 150 {
		t.Fatalf("expected FULFILLED at 150, got %+v", got)
	}
}

func TestNegativeVotesAreRecordedButInert(t *testing.T) {
	eng, ports, _ := newTestEngine(t)
	ctx := context.Background()
	req := mustOpen(t, eng, "agent_a", hatTreasurer)

	got, err := eng.SubmitVouch(ctx, req.RequestID, "h1", false, "")
	if err != nil {
		t.Fatalf("negative vouch: %v", err)
	}
	if got.Tally != 0 || got.Status != domain.VouchOpen {
		t.Fatalf("negative vote moved state: %+v", got)
	}
	if support, voted := got.Voted["h1"]; !voted || support {
		t.Fatalf("negative vote not recorded: %+v", got.Voted)
	}
	// The voucher is spent either way.
	if _, err := eng.SubmitVouch(ctx, req.RequestID, "h1", true, ""); err != domain.ErrAlreadyVouched {
		t.Fatalf("expected ErrAlreadyVouched after negative vote, got %v", err)
	}
	if len(ports.grants) != 0 {
		t.Fatalf("negative votes must never finalize: %v", ports.grants)
	}
}

func TestDuplicateOpenRequestRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustOpen(t, eng, "agent_a", hatTreasurer)

	if _, err := eng.RequestVouch(ctx, "agent_a", "agent_a", hatTreasurer, ""); err != domain.ErrAlreadyRequested {
		t.Fatalf("expected ErrAlreadyRequested, got %v", err)
	}
	// A different hat is a different request.
	if _, err := eng.RequestVouch(ctx, "agent_a", "agent_a", "hat_member", ""); err != nil {
		t.Fatalf("request for second hat: %v", err)
	}
}

func TestQuorumFrozenAcrossPolicyChanges(t *testing.T) {
	eng, ports, policies := newTestEngine(t)
	ctx := context.Background()
	req := mustOpen(t, eng, "agent_a", hatTreasurer)

	org := domain.DefaultAgentPolicy()
	org.AgentVouchingRequired = true
	org.AgentVouchQuorum = 50
	if err := policies.SetAgentPolicy("admin", org); err != nil {
		t.Fatalf("tighten policy: %v", err)
	}

	for _, v := range []domain.Identity{"h1", "h2", "h3", "h4", "h5"} {
		if _, err := eng.SubmitVouch(ctx, req.RequestID, v, true, ""); err != nil {
			t.Fatalf("vouch from %s: %v", v, err)
		}
	}
	got, _ := eng.Request(req.RequestID)
	if got.Status != domain.VouchFulfilled {
		t.Fatalf("request must fulfill at its frozen quorum, got %+v", got)
	}
	if len(ports.grants) != 1 {
		t.Fatalf("expected one grant, got %v", ports.grants)
	}
}

func TestRequestVouchCallerAuthorization(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.RequestVouch(ctx, "stranger", "agent_a", hatTreasurer, ""); err != domain.ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized for stranger, got %v", err)
	}
	if _, err := eng.RequestVouch(ctx, "admin", "agent_a", hatTreasurer, ""); err != nil {
		t.Fatalf("delegate request failed: %v", err)
	}
}

func TestRequestVouchBlockedByEligibilityGate(t *testing.T) {
	eng, _, policies := newTestEngine(t)
	ctx := context.Background()

	org := domain.DefaultAgentPolicy()
	org.AllowAgents = false
	if err := policies.SetAgentPolicy("admin", org); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	_, err := eng.RequestVouch(ctx, "agent_a", "agent_a", hatTreasurer, "")
	var elig *EligibilityError
	if !errors.As(err, &elig) {
		t.Fatalf("expected EligibilityError, got %v", err)
	}
	if elig.Decision.Reason != domain.ReasonOrgDisallowsAgents {
		t.Fatalf("expected ORG_DISALLOWS_AGENTS, got %+v", elig.Decision)
	}
}

func TestCapabilityFlagGatesAgentVouching(t *testing.T) {
	eng, _, policies := newTestEngine(t)
	ctx := context.Background()
	req := mustOpen(t, eng, "agent_a", hatTreasurer)

	caps := domain.DefaultAgentCapabilities()
	caps.VouchingActions = false
	if err := policies.SetAgentCapabilities("admin", caps); err != nil {
		t.Fatalf("set capabilities: %v", err)
	}

	// Matrix allows agent->agent, but the capability flag wins.
	if _, err := eng.SubmitVouch(ctx, req.RequestID, "agent_b", true, ""); err != domain.ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	// Humans are unaffected.
	if _, err := eng.SubmitVouch(ctx, req.RequestID, "h1", true, ""); err != nil {
		t.Fatalf("human vouch: %v", err)
	}
	if !eng.AgentMayAct(ActionTask) || eng.AgentMayAct(ActionVouching) {
		t.Fatal("capability accessor out of sync with policy")
	}
}

func TestGrantFailureLeavesRequestTerminal(t *testing.T) {
	eng, ports, _ := newTestEngine(t)
	ctx := context.Background()
	ports.grantErr = errors.New("hats tree unavailable")
	req := mustOpen(t, eng, "agent_a", hatTreasurer)

	var lastErr error
	for _, v := range []domain.Identity{"h1", "h2", "h3", "h4", "h5"} {
		_, lastErr = eng.SubmitVouch(ctx, req.RequestID, v, true, "")
	}
	if lastErr == nil {
		t.Fatal("expected grant failure to surface")
	}
	got, _ := eng.Request(req.RequestID)
	if got.Status != domain.VouchFulfilled {
		t.Fatalf("grant failure must not reopen the request: %+v", got)
	}
	// No retry happens inside the engine.
	if len(ports.grants) != 1 {
		t.Fatalf("expected a single grant attempt, got %v", ports.grants)
	}
}

func TestRestorePreservesStateAndLookups(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	req := mustOpen(t, eng, "agent_a", hatTreasurer)
	if _, err := eng.SubmitVouch(ctx, req.RequestID, "h1", true, ""); err != nil {
		t.Fatalf("vouch: %v", err)
	}
	persisted, _ := eng.Request(req.RequestID)

	fresh, _, _ := newTestEngine(t)
	fresh.Restore([]*domain.VouchRequest{persisted})

	got, ok := fresh.Request(req.RequestID)
	if !ok || got.RequiredQuorum != persisted.RequiredQuorum || got.Tally != 100 {
		t.Fatalf("restore lost state: %+v", got)
	}
	if _, err := fresh.SubmitVouch(ctx, req.RequestID, "h1", true, ""); err != domain.ErrAlreadyVouched {
		t.Fatalf("restore lost voted set: %v", err)
	}
	if tally := fresh.TallyFor("agent_a", hatTreasurer); tally != 100 {
		t.Fatalf("TallyFor after restore: %d", tally)
	}
	if _, err := fresh.RequestVouch(ctx, "agent_a", "agent_a", hatTreasurer, ""); err != domain.ErrAlreadyRequested {
		t.Fatalf("restored open request must block duplicates, got %v", err)
	}
}

func TestEvaluateReflectsCurrentTally(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	req := mustOpen(t, eng, "agent_a", hatTreasurer)

	d, err := eng.Evaluate(ctx, "agent_a", hatTreasurer)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Eligible || d.Reason != domain.ReasonInsufficientVouches {
		t.Fatalf("expected INSUFFICIENT_VOUCHES before quorum, got %+v", d)
	}

	for _, v := range []domain.Identity{"h1", "h2", "h3", "h4", "h5"} {
		if _, err := eng.SubmitVouch(ctx, req.RequestID, v, true, ""); err != nil {
			t.Fatalf("vouch from %s: %v", v, err)
		}
	}
	d, err = eng.Evaluate(ctx, "agent_a", hatTreasurer)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Eligible {
		t.Fatalf("expected eligible after quorum, got %+v", d)
	}
}

func TestUnknownRequestBeatsResolverFailure(t *testing.T) {
	eng, ports, _ := newTestEngine(t)
	ports.resolveErr = errors.New("identity registry unreachable")
	if _, err := eng.SubmitVouch(context.Background(), "vreq_missing", "h1", true, ""); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound before any collaborator call, got %v", err)
	}
}

func TestSameSecondRerequestDoesNotOverwriteFulfilled(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return at }

	req := mustOpen(t, eng, "agent_a", hatTreasurer)
	for _, v := range []domain.Identity{"h1", "h2", "h3", "h4", "h5"} {
		if _, err := eng.SubmitVouch(ctx, req.RequestID, v, true, ""); err != nil {
			t.Fatalf("vouch from %s: %v", v, err)
		}
	}
	got, _ := eng.Request(req.RequestID)
	if got.Status != domain.VouchFulfilled {
		t.Fatalf("expected fulfilled request, got %+v", got)
	}

	// Same wall-clock second: the deterministic key would collide with the
	// fulfilled request.
	if _, err := eng.RequestVouch(ctx, "agent_a", "agent_a", hatTreasurer, ""); err != domain.ErrAlreadyRequested {
		t.Fatalf("expected ErrAlreadyRequested on key collision, got %v", err)
	}
	after, _ := eng.Request(req.RequestID)
	if after.Status != domain.VouchFulfilled || after.Tally != got.Tally {
		t.Fatalf("fulfilled request mutated by re-request: %+v", after)
	}
}
