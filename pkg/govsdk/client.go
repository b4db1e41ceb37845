// Package govsdk is a thin typed client for the governance service API.
package govsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Bearer     string
}

func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Bearer:     bearer,
	}
}

type ActorContext struct {
	Identity string `json:"identity"`
}

type EligibilityResponse struct {
	RequestID string          `json:"request_id"`
	Identity  domain.Identity `json:"identity"`
	HatID     domain.HatID    `json:"hat_id"`
	Decision  domain.Decision `json:"decision"`
}

type VouchRequestResponse struct {
	RequestID    string              `json:"request_id"`
	VouchRequest *domain.VouchRequest `json:"vouch_request"`
}

type PoliciesResponse struct {
	RequestID string                `json:"request_id"`
	Policies  domain.PolicySnapshot `json:"policies"`
}

type RequestVouchInput struct {
	ActorContext ActorContext `json:"actor_context"`
	Candidate    string       `json:"candidate"`
	HatID        string       `json:"hat_id"`
	EvidenceURL  string       `json:"evidence_url,omitempty"`
}

type SubmitVouchInput struct {
	ActorContext ActorContext `json:"actor_context"`
	Support      bool         `json:"support"`
	EvidenceURL  string       `json:"evidence_url,omitempty"`
}

func (c *Client) Eligibility(ctx context.Context, identity, hatID string) (*EligibilityResponse, error) {
	q := url.Values{}
	q.Set("identity", identity)
	q.Set("hat_id", hatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/gov/eligibility?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return doJSON[EligibilityResponse](c, req)
}

func (c *Client) RequestVouch(ctx context.Context, in RequestVouchInput) (*VouchRequestResponse, error) {
	return c.postJSON(ctx, c.BaseURL+"/gov/vouch-requests", in)
}

func (c *Client) SubmitVouch(ctx context.Context, requestID string, in SubmitVouchInput) (*VouchRequestResponse, error) {
	return c.postJSON(ctx, fmt.Sprintf("%s/gov/vouch-requests/%s/responses", c.BaseURL, url.PathEscape(requestID)), in)
}

func (c *Client) VouchRequest(ctx context.Context, requestID string) (*VouchRequestResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/gov/vouch-requests/%s", c.BaseURL, url.PathEscape(requestID)), nil)
	if err != nil {
		return nil, err
	}
	return doJSON[VouchRequestResponse](c, req)
}

func (c *Client) RequestFor(ctx context.Context, identity, hatID string) (*VouchRequestResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/gov/identities/%s/hats/%s/request", c.BaseURL, url.PathEscape(identity), url.PathEscape(hatID)), nil)
	if err != nil {
		return nil, err
	}
	return doJSON[VouchRequestResponse](c, req)
}

func (c *Client) Policies(ctx context.Context) (*PoliciesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/gov/policies", nil)
	if err != nil {
		return nil, err
	}
	return doJSON[PoliciesResponse](c, req)
}

func (c *Client) SetAgentPolicy(ctx context.Context, actor string, p domain.AgentPolicy) error {
	_, err := postJSONAs[map[string]any](c, ctx, c.BaseURL+"/gov/admin/agent-policy", map[string]any{
		"actor_context": ActorContext{Identity: actor},
		"policy":        p,
	})
	return err
}

func (c *Client) SetHatAgentRules(ctx context.Context, actor, hatID string, r domain.HatAgentRules) error {
	_, err := postJSONAs[map[string]any](c, ctx,
		fmt.Sprintf("%s/gov/admin/hat-rules/%s", c.BaseURL, url.PathEscape(hatID)), map[string]any{
			"actor_context": ActorContext{Identity: actor},
			"rules":         r,
		})
	return err
}

func (c *Client) postJSON(ctx context.Context, u string, in any) (*VouchRequestResponse, error) {
	return postJSONAs[VouchRequestResponse](c, ctx, u, in)
}

func postJSONAs[T any](c *Client, ctx context.Context, u string, in any) (*T, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON[T](c, req)
}

func doJSON[T any](c *Client, req *http.Request) (*T, error) {
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, fmt.Errorf("http %d: %v", resp.StatusCode, errBody)
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
