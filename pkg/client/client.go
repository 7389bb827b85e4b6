// Package client provides the Go SDK for the hireledger notarization
// service: chain account provisioning, job posting management, and
// attestation reads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrNotFound is returned when the service reports 404 for a lookup.
var ErrNotFound = errors.New("not found")

// ChainAccount is the service's view of a provisioned chain account.
type ChainAccount struct {
	ID          string    `json:"id"`
	OwnerType   string    `json:"owner_type"`
	OwnerID     string    `json:"owner_id"`
	Address     string    `json:"address"`
	PublicKey   string    `json:"public_key"`
	ProfileID   string    `json:"profile_id,omitempty"`
	RegistryID  string    `json:"registry_id,omitempty"`
	DID         string    `json:"did,omitempty"`
	DidAnchored bool      `json:"did_anchored"`
	CreatedAt   time.Time `json:"created_at"`
}

// Posting is a job posting record.
type Posting struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Status           string            `json:"status"`
	OrganizationID   string            `json:"organization_id"`
	OrganizationName string            `json:"organization_name"`
	Description      string            `json:"description,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Location         map[string]string `json:"location,omitempty"`
	Contact          map[string]string `json:"contact,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CreatePostingRequest is the payload for CreatePosting.
type CreatePostingRequest struct {
	Title            string            `json:"title"`
	Status           string            `json:"status,omitempty"`
	OrganizationID   string            `json:"organization_id"`
	OrganizationName string            `json:"organization_name"`
	Description      string            `json:"description,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Location         map[string]string `json:"location,omitempty"`
	Contact          map[string]string `json:"contact,omitempty"`
}

// UpdatePostingRequest is the payload for UpdatePosting. Nil fields are
// left unchanged.
type UpdatePostingRequest struct {
	Title       *string            `json:"title,omitempty"`
	Status      *string            `json:"status,omitempty"`
	Description *string            `json:"description,omitempty"`
	Metadata    *map[string]string `json:"metadata,omitempty"`
	Location    *map[string]string `json:"location,omitempty"`
	Contact     *map[string]string `json:"contact,omitempty"`
}

// Attestation is the ledger link of a posting.
type Attestation struct {
	ID           string    `json:"id"`
	JobPostingID string    `json:"job_posting_id"`
	EntryID      string    `json:"entry_id"`
	RegistryID   string    `json:"registry_id"`
	TxHash       string    `json:"tx_hash"`
	Revoked      bool      `json:"revoked"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Client is the SDK entry point.
type Client struct {
	base       string
	apiKey     string
	caller     string
	httpClient *http.Client

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey authenticates with the static API key. caller names this
// consumer in issued session tokens.
func WithAPIKey(key, caller string) Option {
	return func(c *Client) {
		c.apiKey = key
		c.caller = caller
	}
}

// WithBearerToken attaches a pre-obtained session token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
	}
}

// New creates a Client connected to base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchToken exchanges the API key for a session token, caches it, and
// returns it. Subsequent requests reuse it until it approaches expiry.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return token, nil
}

func (c *Client) fetchTokenRaw(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{"caller": c.caller})
	if err != nil {
		return "", time.Time{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/token", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("token endpoint error %d: %s", resp.StatusCode, respBytes)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBytes, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}

	// Refresh well before the server-side TTL to absorb clock skew.
	return payload.Token, time.Now().Add(30 * time.Minute), nil
}

// ProvisionOrganization requests a chain account for an organization. With
// wait true the call blocks until the account is fully provisioned and
// returns it; otherwise it returns nil once provisioning is accepted.
func (c *Client) ProvisionOrganization(ctx context.Context, orgID, name string, wait bool) (*ChainAccount, error) {
	path := "/v1/organizations/" + url.PathEscape(orgID) + "/chain-account"
	if wait {
		path += "?wait=true"
		var acct ChainAccount
		if err := c.do(ctx, http.MethodPost, path, map[string]string{"name": name}, &acct); err != nil {
			return nil, err
		}
		return &acct, nil
	}
	return nil, c.do(ctx, http.MethodPost, path, map[string]string{"name": name}, nil)
}

// ProvisionUser requests a chain account for a user, analogous to
// ProvisionOrganization.
func (c *Client) ProvisionUser(ctx context.Context, userID string, wait bool) (*ChainAccount, error) {
	path := "/v1/users/" + url.PathEscape(userID) + "/chain-account"
	if wait {
		path += "?wait=true"
		var acct ChainAccount
		if err := c.do(ctx, http.MethodPost, path, nil, &acct); err != nil {
			return nil, err
		}
		return &acct, nil
	}
	return nil, c.do(ctx, http.MethodPost, path, nil, nil)
}

// GetOrganizationAccount returns the chain account of an organization.
func (c *Client) GetOrganizationAccount(ctx context.Context, orgID string) (*ChainAccount, error) {
	var acct ChainAccount
	if err := c.do(ctx, http.MethodGet, "/v1/organizations/"+url.PathEscape(orgID)+"/chain-account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetUserAccount returns the chain account of a user.
func (c *Client) GetUserAccount(ctx context.Context, userID string) (*ChainAccount, error) {
	var acct ChainAccount
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/chain-account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// CreatePosting creates a job posting and schedules its notarization.
func (c *Client) CreatePosting(ctx context.Context, req *CreatePostingRequest) (*Posting, error) {
	var p Posting
	if err := c.do(ctx, http.MethodPost, "/v1/postings", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPosting returns one posting by id.
func (c *Client) GetPosting(ctx context.Context, id string) (*Posting, error) {
	var p Posting
	if err := c.do(ctx, http.MethodGet, "/v1/postings/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePosting patches a posting and schedules re-notarization.
func (c *Client) UpdatePosting(ctx context.Context, id string, req *UpdatePostingRequest) (*Posting, error) {
	var p Posting
	if err := c.do(ctx, http.MethodPatch, "/v1/postings/"+url.PathEscape(id), req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPostings returns an organization's postings, newest first.
func (c *Client) ListPostings(ctx context.Context, orgID string, limit, offset int) ([]Posting, error) {
	path := fmt.Sprintf("/v1/organizations/%s/postings?limit=%d&offset=%d", url.PathEscape(orgID), limit, offset)
	var resp struct {
		Postings []Posting `json:"postings"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Postings, nil
}

// GetAttestation returns the ledger attestation of a posting.
func (c *Client) GetAttestation(ctx context.Context, postingID string) (*Attestation, error) {
	var a Attestation
	if err := c.do(ctx, http.MethodGet, "/v1/postings/"+url.PathEscape(postingID)+"/attestation", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ensureToken returns a valid bearer token, fetching a fresh one when the
// cached token is absent or stale. Thread-safe.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.apiKey == "" {
		return "", nil
	}
	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.ensureToken(ctx)
	if err != nil {
		return fmt.Errorf("obtain session token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, respBytes)
	}

	if respBody != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
