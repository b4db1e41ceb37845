package store

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// SummaryDecimals is the fixed-point scale summaries are reported in.
const SummaryDecimals = 2

type Feedback struct {
	FeedbackID string    `json:"feedback_id"`
	AgentID    string    `json:"agent_id"`
	Source     string    `json:"source"`
	Tag        string    `json:"tag,omitempty"`
	Value      int64     `json:"value"`
	Decimals   uint8     `json:"decimals"`
	URI        string    `json:"uri,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) AppendFeedback(ctx context.Context, f Feedback) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO rep_feedback(feedback_id,agent_id,source,tag,value,decimals,uri)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (feedback_id) DO NOTHING
`, f.FeedbackID, f.AgentID, f.Source, f.Tag, f.Value, f.Decimals, f.URI)
	return err
}

type Summary struct {
	FeedbackCount int   `json:"feedback_count"`
	Value         int64 `json:"value"`
	ValueDecimals uint8 `json:"value_decimals"`
}

// QuerySummary averages the matching feedback, each row normalized to
// SummaryDecimals before aggregation. Empty sources/tags mean no filter.
func (s *Store) QuerySummary(ctx context.Context, agentID string, sources, tags []string) (Summary, error) {
	q := `
SELECT count(*),
       COALESCE(round(avg(value * power(10, $2 - decimals))), 0)::bigint
FROM rep_feedback
WHERE agent_id=$1`
	args := []any{agentID, SummaryDecimals}
	if len(sources) > 0 {
		args = append(args, sources)
		q += ` AND source = ANY($3)`
		if len(tags) > 0 {
			args = append(args, tags)
			q += ` AND tag = ANY($4)`
		}
	} else if len(tags) > 0 {
		args = append(args, tags)
		q += ` AND tag = ANY($3)`
	}

	out := Summary{ValueDecimals: SummaryDecimals}
	if err := s.DB.QueryRow(ctx, q, args...).Scan(&out.FeedbackCount, &out.Value); err != nil {
		return Summary{}, err
	}
	return out, nil
}

func (s *Store) ListFeedback(ctx context.Context, agentID string, limit int) ([]Feedback, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
SELECT feedback_id,agent_id,source,tag,value,decimals,uri,created_at
FROM rep_feedback
WHERE agent_id=$1
ORDER BY created_at DESC
LIMIT $2
`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var f Feedback
		if err := rows.Scan(&f.FeedbackID, &f.AgentID, &f.Source, &f.Tag, &f.Value, &f.Decimals, &f.URI, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SplitFilter turns a comma-separated query parameter into a clean list.
func SplitFilter(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
