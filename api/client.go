// Package api provides a typed HTTP client for the secrets service. It
// covers the operator flow (init, unseal, seal) and day-to-day logical
// and system operations.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/helixcare/secrets-core/interfaces"
	"github.com/helixcare/secrets-core/seal"
)

// TokenHeader carries the client token on authenticated requests. It
// mirrors the server-side header name.
const TokenHeader = "X-Secrets-Token"

// Client talks to one secrets service instance.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL.
//
// Parameters:
//   - baseURL: The base URL of the service (e.g., "http://localhost:8200")
//   - timeout: Request timeout duration (optional, default 30 seconds)
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// SetToken attaches a client token to subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// InitResult is the response to Initialize.
type InitResult struct {
	Shares    [][]byte
	RootToken string
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errorForStatus(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// errorForStatus maps HTTP statuses back onto the service's sentinel
// errors so callers can use errors.Is on both sides of the wire.
func errorForStatus(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	detail := body.Error
	if detail == "" {
		detail = resp.Status
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		sentinel = interfaces.ErrSealed
	case http.StatusUnauthorized:
		sentinel = interfaces.ErrUnauthorized
	case http.StatusForbidden:
		sentinel = interfaces.ErrForbidden
	case http.StatusNotFound:
		sentinel = interfaces.ErrNotFound
	case http.StatusBadRequest:
		sentinel = interfaces.ErrValidation
	default:
		return fmt.Errorf("request failed with code %d: %s", resp.StatusCode, detail)
	}
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// Initialize performs one-time initialization and returns the unseal
// shares and root token. Both appear exactly once; store them safely.
func (c *Client) Initialize(ctx context.Context, shares, threshold int) (*InitResult, error) {
	var resp struct {
		Shares    []string `json:"shares"`
		RootToken string   `json:"root_token"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/sys/init", map[string]int{
		"secret_shares":    shares,
		"secret_threshold": threshold,
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &InitResult{RootToken: resp.RootToken}
	for _, encoded := range resp.Shares {
		share, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode share: %w", err)
		}
		result.Shares = append(result.Shares, share)
	}
	return result, nil
}

// SealStatus reports initialization and unseal progress.
func (c *Client) SealStatus(ctx context.Context) (*seal.Status, error) {
	var status seal.Status
	if err := c.do(ctx, http.MethodGet, "/v1/sys/seal-status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Unseal submits one share and returns the updated status.
func (c *Client) Unseal(ctx context.Context, share []byte) (*seal.Status, error) {
	var status seal.Status
	err := c.do(ctx, http.MethodPost, "/v1/sys/unseal", map[string]string{
		"share": base64.StdEncoding.EncodeToString(share),
	}, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// Seal re-seals the service. Requires sudo on sys/seal.
func (c *Client) Seal(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/sys/seal", map[string]string{}, nil)
}

// InitRootToken fetches the stashed root token, at most once after
// initialization.
func (c *Client) InitRootToken(ctx context.Context) (string, error) {
	var resp struct {
		RootToken string `json:"root_token"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sys/init-token", nil, &resp); err != nil {
		return "", err
	}
	return resp.RootToken, nil
}

// Secret is a logical read result.
type Secret struct {
	Data      map[string]interface{} `json:"data"`
	LeaseTTL  string                 `json:"lease_ttl,omitempty"`
	Renewable bool                   `json:"renewable,omitempty"`
}

// Read fetches the secret at a logical path.
func (c *Client) Read(ctx context.Context, path string) (*Secret, error) {
	var secret Secret
	if err := c.do(ctx, http.MethodGet, "/v1/"+path, nil, &secret); err != nil {
		return nil, err
	}
	return &secret, nil
}

// Write stores data at a logical path, overwriting any prior value.
func (c *Client) Write(ctx context.Context, path string, data map[string]interface{}) error {
	return c.do(ctx, http.MethodPut, "/v1/"+path, data, nil)
}

// Delete removes the secret at a logical path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/v1/"+path, nil, nil)
}

// List names the entries directly under a logical path prefix.
func (c *Client) List(ctx context.Context, path string) ([]string, error) {
	var secret Secret
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	if err := c.do(ctx, http.MethodGet, "/v1/"+path, nil, &secret); err != nil {
		return nil, err
	}

	raw, _ := secret.Data["keys"].([]interface{})
	keys := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

// Login authenticates against an auth mount and switches the client to
// the minted token.
func (c *Client) Login(ctx context.Context, mountPath string, credentials map[string]interface{}) (string, error) {
	var secret Secret
	path := "/v1/" + strings.TrimSuffix(mountPath, "/") + "/login"
	if err := c.do(ctx, http.MethodPost, path, credentials, &secret); err != nil {
		return "", err
	}

	minted, _ := secret.Data["token"].(string)
	if minted == "" {
		return "", fmt.Errorf("login response carried no token")
	}
	c.token = minted
	return minted, nil
}

// Capabilities reports what the client's token may do on a path.
func (c *Client) Capabilities(ctx context.Context, path string) ([]string, error) {
	var resp struct {
		Capabilities []string `json:"capabilities"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/sys/capabilities", map[string]string{"path": path}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Capabilities, nil
}
