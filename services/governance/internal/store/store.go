package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/vouching"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// SavePolicyVersion appends one immutable policy snapshot version.
func (s *Store) SavePolicyVersion(ctx context.Context, snap domain.PolicySnapshot, group string, actor domain.Identity) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO gov_policy_versions(version,changed_group,actor,snapshot)
VALUES($1,$2,$3,$4::jsonb)
ON CONFLICT (version) DO NOTHING
`, snap.Version, group, string(actor), string(b))
	return err
}

// LoadLatestPolicy returns the newest persisted snapshot, or nil when the
// service has never written one.
func (s *Store) LoadLatestPolicy(ctx context.Context) (*domain.PolicySnapshot, error) {
	var b []byte
	err := s.DB.QueryRow(ctx, `
SELECT snapshot FROM gov_policy_versions ORDER BY version DESC LIMIT 1
`).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var snap domain.PolicySnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SaveRequest(ctx context.Context, r *domain.VouchRequest) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO gov_vouch_requests(request_id,candidate,hat_id,candidate_is_agent,required_quorum,tally,status,evidence_url,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (request_id) DO UPDATE SET
  tally=EXCLUDED.tally,
  status=EXCLUDED.status,
  updated_at=now()
`, r.RequestID, string(r.Candidate), string(r.Hat), r.CandidateIsAgent, r.RequiredQuorum, r.Tally, string(r.Status), r.EvidenceURL, r.CreatedAt)
	return err
}

func (s *Store) SaveResponse(ctx context.Context, requestID string, voucher domain.Identity, support bool, evidenceURL string) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO gov_vouch_responses(request_id,voucher,support,evidence_url)
VALUES($1,$2,$3,$4)
ON CONFLICT (request_id,voucher) DO NOTHING
`, requestID, string(voucher), support, evidenceURL)
	return err
}

// LoadOpenRequests rebuilds every OPEN request with its voted set for
// boot-time engine rehydration.
func (s *Store) LoadOpenRequests(ctx context.Context) ([]*domain.VouchRequest, error) {
	rows, err := s.DB.Query(ctx, `
SELECT request_id,candidate,hat_id,candidate_is_agent,required_quorum,tally,status,evidence_url,created_at
FROM gov_vouch_requests WHERE status='OPEN'
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := map[string]*domain.VouchRequest{}
	var out []*domain.VouchRequest
	for rows.Next() {
		var r domain.VouchRequest
		var candidate, hat, status string
		if err := rows.Scan(&r.RequestID, &candidate, &hat, &r.CandidateIsAgent, &r.RequiredQuorum, &r.Tally, &status, &r.EvidenceURL, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Candidate = domain.Identity(candidate)
		r.Hat = domain.HatID(hat)
		r.Status = domain.VouchStatus(status)
		r.Voted = map[domain.Identity]bool{}
		byID[r.RequestID] = &r
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := s.DB.Query(ctx, `
SELECT r.request_id,r.voucher,r.support
FROM gov_vouch_responses r
JOIN gov_vouch_requests q ON q.request_id=r.request_id
WHERE q.status='OPEN'
`)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var id, voucher string
		var support bool
		if err := vrows.Scan(&id, &voucher, &support); err != nil {
			return nil, err
		}
		if req, ok := byID[id]; ok {
			req.Voted[domain.Identity(voucher)] = support
		}
	}
	return out, vrows.Err()
}

func (s *Store) AppendAuditEvent(ctx context.Context, eventID string, ev vouching.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO gov_audit_events(event_id,event_type,request_id,payload)
VALUES($1,$2,$3,$4::jsonb)
`, eventID, ev.Type, ev.RequestID, string(b))
	return err
}

type AuditRecord struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) ListAuditEvents(ctx context.Context, requestID string, limit int) ([]AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
SELECT event_id,event_type,request_id,payload,created_at
FROM gov_audit_events
WHERE ($1='' OR request_id=$1)
ORDER BY created_at DESC LIMIT $2
`, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(&rec.EventID, &rec.EventType, &rec.RequestID, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
