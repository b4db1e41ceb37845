package domain

import (
	"testing"
	"time"
)

func TestRequestKeyIsRecomputable(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	a := RequestKey("agent_a", "hat_treasurer", at)
	b := RequestKey("agent_a", "hat_treasurer", at)
	if a != b {
		t.Fatalf("same inputs produced different keys: %s vs %s", a, b)
	}
	if a[:5] != "vreq_" || len(a) != 5+16 {
		t.Fatalf("unexpected key shape: %s", a)
	}
	// Sub-second precision does not change the key.
	if RequestKey("agent_a", "hat_treasurer", at.Add(500*time.Millisecond)) != a {
		t.Fatalf("key should round to whole seconds")
	}
	if RequestKey("agent_b", "hat_treasurer", at) == a {
		t.Fatalf("different candidates must not collide")
	}
	if RequestKey("agent_a", "hat_member", at) == a {
		t.Fatalf("different hats must not collide")
	}
}

func TestMatrixAuthorizationAndWeights(t *testing.T) {
	m := VouchingMatrix{
		HumansVouchForHumans: true,
		HumansVouchForAgents: true,
		AgentsVouchForAgents: true,
		HumanVouchWeight:     100,
		AgentVouchWeight:     50,
	}
	if m.Allows(true, false) {
		t.Fatal("agents vouching for humans should be disallowed")
	}
	if !m.Allows(false, true) || !m.Allows(true, true) || !m.Allows(false, false) {
		t.Fatalf("unexpected matrix authorization: %+v", m)
	}
	if m.Weight(false) != 100 || m.Weight(true) != 50 {
		t.Fatalf("unexpected weights: human=%d agent=%d", m.Weight(false), m.Weight(true))
	}
}

func TestCloneIsolatesVotedSet(t *testing.T) {
	req := &VouchRequest{RequestID: "vreq_x", Voted: map[Identity]bool{"v1": true}}
	cp := req.Clone()
	cp.Voted["v2"] = false
	if _, leaked := req.Voted["v2"]; leaked {
		t.Fatal("clone shares the voted map with the original")
	}
}

func TestAgentRecordClassification(t *testing.T) {
	var nilRec *AgentRecord
	if nilRec.IsAgent() {
		t.Fatal("unlinked identity must not classify as agent")
	}
	if (&AgentRecord{AgentID: "8004:1", DeclaredType: AgentTypeHuman}).IsAgent() {
		t.Fatal("declared human must not classify as agent")
	}
	for _, typ := range []AgentType{AgentTypeAI, AgentTypeHybrid, ""} {
		if !(&AgentRecord{AgentID: "8004:1", DeclaredType: typ}).IsAgent() {
			t.Fatalf("declared type %q should classify as agent", typ)
		}
	}
}
