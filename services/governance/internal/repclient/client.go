// Package repclient queries the ERC-8004 reputation registry shim for
// feedback summaries, optionally filtered to trusted sources and tags.
package repclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{}}
}

// QuerySummary runs unfiltered when sources is empty.
func (c *Client) QuerySummary(ctx context.Context, agentID string, sources, tags []string) (domain.ReputationSummary, error) {
	q := url.Values{}
	q.Set("agent_id", agentID)
	if len(sources) > 0 {
		q.Set("sources", strings.Join(sources, ","))
	}
	if len(tags) > 0 {
		q.Set("tags", strings.Join(tags, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/reputation/summary?"+q.Encode(), nil)
	if err != nil {
		return domain.ReputationSummary{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.ReputationSummary{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.ReputationSummary{}, fmt.Errorf("reputation registry returned %d", resp.StatusCode)
	}
	var out domain.ReputationSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ReputationSummary{}, err
	}
	return out, nil
}
