// Package deployclient talks to the external deployment platform that runs
// tenant infrastructure jobs.
package deployclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrRequestFailed is wrapped by every non-2xx response.
	ErrRequestFailed = errors.New("deployment request failed")
	// ErrMissingCredentials means the base URL or the API token is not configured.
	ErrMissingCredentials = errors.New("deployment platform credentials missing")
)

const maxErrorBody = 4 << 10

// RequestError carries the HTTP status of a failed call.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, ErrRequestFailed, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status %d): %s", e.Op, ErrRequestFailed, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error { return ErrRequestFailed }

// Config holds the deployment platform endpoint and bearer token.
type Config struct {
	BaseURL string
	Token   string
}

// Client is a thin bearer-token client for the deployment platform.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client. A nil httpClient uses http.DefaultClient. Credentials
// are not checked here; see CheckCredentials.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)
	return &Client{cfg: cfg, http: httpClient}
}

// CheckCredentials fails with ErrMissingCredentials when the base URL or token is blank.
func (c *Client) CheckCredentials() error {
	var missing []string
	if c.cfg.BaseURL == "" {
		missing = append(missing, "base url")
	}
	if c.cfg.Token == "" {
		missing = append(missing, "api token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// CreateRequest is the body of POST /deployments.
type CreateRequest struct {
	TenantID string `json:"tenantId"`
	Force    bool   `json:"force"`
}

// Deployment is the platform's answer to a create call.
type Deployment struct {
	ID  string
	Raw json.RawMessage
}

// CreateDeployment asks the platform to start a deployment. ID is empty when
// the platform answers without one.
func (c *Client) CreateDeployment(ctx context.Context, req CreateRequest) (Deployment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Deployment{}, fmt.Errorf("marshal create deployment: %w", err)
	}

	raw, err := c.do(ctx, "create deployment", http.MethodPost, "/deployments", body)
	if err != nil {
		return Deployment{}, err
	}
	if len(raw) == 0 {
		return Deployment{}, nil
	}

	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Deployment{}, fmt.Errorf("decode create deployment: %w", err)
	}
	id, err := decodeID(envelope.ID)
	if err != nil {
		return Deployment{}, err
	}
	return Deployment{ID: id, Raw: raw}, nil
}

// GetDeploymentStatus returns the raw provider payload for a deployment, or
// nil when the platform answers 204.
func (c *Client) GetDeploymentStatus(ctx context.Context, deploymentID string) (json.RawMessage, error) {
	if strings.TrimSpace(deploymentID) == "" {
		return nil, errors.New("deployment id is required")
	}
	return c.do(ctx, "get deployment status", http.MethodGet, "/deployments/"+url.PathEscape(deploymentID), nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (json.RawMessage, error) {
	if err := c.CheckCredentials(); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// decodeID accepts the deployment id as a JSON string or number.
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("decode deployment id %s: %w", raw, err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", fmt.Errorf("decode deployment id %s: %w", raw, err)
	}
	return n.String(), nil
}

// ProviderState extracts the raw status string from a provider payload: the
// top-level state, else status, else deployment.state or deployment.status.
func ProviderState(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ""
	}
	if s := firstString(doc, "state", "status"); s != "" {
		return s
	}
	if nested, ok := doc["deployment"].(map[string]any); ok {
		return firstString(nested, "state", "status")
	}
	return ""
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := doc[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
