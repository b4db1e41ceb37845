package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

type VouchStatus string

const (
	VouchOpen      VouchStatus = "OPEN"
	VouchFulfilled VouchStatus = "FULFILLED"
)

// VouchRequest collects weighted endorsements toward granting a hat.
// RequiredQuorum is frozen from the policy snapshot at creation time;
// later policy changes never move an open request's threshold. Once the
// status reaches FULFILLED the request is immutable.
type VouchRequest struct {
	RequestID        string      `json:"request_id"`
	Candidate        Identity    `json:"candidate"`
	Hat              HatID       `json:"hat_id"`
	CandidateIsAgent bool        `json:"candidate_is_agent"`
	RequiredQuorum   int         `json:"required_quorum"`
	Tally            int         `json:"tally"`
	Status           VouchStatus `json:"status"`
	EvidenceURL      string      `json:"evidence_url,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`

	// Voted maps each voucher that has responded to their support value.
	// Negative responses are recorded but carry no tally weight.
	Voted map[Identity]bool `json:"voted"`
}

// RequestKey derives the deterministic request id. Anyone holding the
// candidate, hat and creation time can recompute it.
func RequestKey(candidate Identity, hat HatID, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(
		string(candidate) + "|" + string(hat) + "|" + strconv.FormatInt(createdAt.UTC().Unix(), 10),
	))
	return "vreq_" + hex.EncodeToString(sum[:8])
}

// Clone returns a deep copy safe to hand to callers.
func (r *VouchRequest) Clone() *VouchRequest {
	cp := *r
	cp.Voted = make(map[Identity]bool, len(r.Voted))
	for k, v := range r.Voted {
		cp.Voted[k] = v
	}
	return &cp
}
