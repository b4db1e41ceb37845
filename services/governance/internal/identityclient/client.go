// Package identityclient talks to the ERC-8004 identity registry shim:
// agent record lookups and the basic (hat-hierarchy) eligibility check.
package identityclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{}}
}

// ResolveAgentRecord returns nil without error when the identity has no
// registry linkage.
func (c *Client) ResolveAgentRecord(ctx context.Context, id domain.Identity) (*domain.AgentRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/agents/%s", c.BaseURL, id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity registry returned %d", resp.StatusCode)
	}
	var out struct {
		Agent domain.AgentRecord `json:"agent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out.Agent, nil
}

func (c *Client) BasicEligibility(ctx context.Context, id domain.Identity, hat domain.HatID) (domain.Decision, error) {
	body, _ := json.Marshal(map[string]any{"identity": id, "hat_id": hat})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/eligibility:check", bytes.NewReader(body))
	if err != nil {
		return domain.Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.Decision{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.Decision{}, fmt.Errorf("identity registry returned %d", resp.StatusCode)
	}
	var out domain.Decision
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Decision{}, err
	}
	return out, nil
}
