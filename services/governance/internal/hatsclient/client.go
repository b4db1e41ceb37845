// Package hatsclient wraps the hat-membership collaborator: wearer
// lookups, base vouch quorums, and the one grant call per fulfilled
// request.
package hatsclient

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

func (c *Client) IsMember(ctx context.Context, id domain.Identity, hat domain.HatID) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/hats/%s/wearers/%s", c.BaseURL, hat, id), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("hats service returned %d", resp.StatusCode)
	}
	var out struct {
		Member bool `json:"member"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Member, nil
}

// BaseVouchQuorum is the hat's ordinary non-agent vouch requirement.
func (c *Client) BaseVouchQuorum(ctx context.Context, hat domain.HatID) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/hats/%s", c.BaseURL, hat), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("hats service returned %d", resp.StatusCode)
	}
	var out struct {
		VouchQuorum int `json:"vouch_quorum"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.VouchQuorum, nil
}

func (c *Client) GrantHat(ctx context.Context, id domain.Identity, hat domain.HatID) error {
	body, _ := json.Marshal(map[string]any{"identity": id})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/hats/%s/mint", c.BaseURL, hat), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hats service returned %d", resp.StatusCode)
	}
	return nil
}
