package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// IdentityClient implements service.IdentityClientInterface against the
// platform identity HTTP API. It is only used to address notifications;
// authorization is role-based and carried on every workflow call.
type IdentityClient struct {
	baseURL string
	client  *http.Client
}

// NewIdentityClient creates an identity client for the given base URL.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type usersWithRoleResponse struct {
	UserIDs []string `json:"user_ids"`
}

// GetUsersWithRole returns user IDs that hold the given role.
func (c *IdentityClient) GetUsersWithRole(ctx context.Context, role string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users?role=%s", c.baseURL, url.QueryEscape(role))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var body usersWithRoleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	return body.UserIDs, nil
}
