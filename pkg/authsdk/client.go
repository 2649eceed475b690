package authsdk

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the gateway. It is safe for concurrent use as long as
// Token is not mutated; use WithToken to derive an authenticated copy.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithToken returns a copy of c that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.Token = token
	return &cp
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error) {
	var out SignupResponse
	if err := c.do(ctx, http.MethodPost, "/signup", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/login", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the client's token until it would have expired.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil, http.StatusOK)
}

func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var out MeResponse
	if err := c.do(ctx, http.MethodGet, "/me", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AuditLogs(ctx context.Context, q AuditLogQuery) ([]AuditEntry, error) {
	var out AuditLogsResponse
	if err := c.do(ctx, http.MethodGet, "/admin/logs"+q.encode(), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// DownloadAuditLogs returns the CSV export as raw bytes.
func (c *Client) DownloadAuditLogs(ctx context.Context, q AuditLogQuery) ([]byte, error) {
	resp, err := c.raw(ctx, http.MethodGet, "/admin/logs/download"+q.encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp.StatusCode, raw)
	}
	return raw, nil
}

func (c *Client) VerifyAuditChain(ctx context.Context) (*ChainReport, error) {
	var out ChainReport
	if err := c.do(ctx, http.MethodGet, "/admin/logs/verify", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]UserSummary, error) {
	var out UsersResponse
	if err := c.do(ctx, http.MethodGet, "/admin/users", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*UserSummary, error) {
	var out UserSummary
	if err := c.do(ctx, http.MethodGet, "/admin/users/"+url.PathEscape(id), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateUserRole(ctx context.Context, id, role string) (*UserSummary, error) {
	var out UserSummary
	path := "/admin/users/" + url.PathEscape(id) + "/role"
	if err := c.do(ctx, http.MethodPut, path, UpdateRoleRequest{Role: role}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetUserStatus(ctx context.Context, id string, active bool) (*UserSummary, error) {
	var out UserSummary
	path := "/admin/users/" + url.PathEscape(id) + "/status"
	if err := c.do(ctx, http.MethodPut, path, UpdateStatusRequest{Active: &active}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Livez(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/livez", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (q AuditLogQuery) encode() string {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Action != "" {
		v.Set("action", q.Action)
	}
	if q.UserID != "" {
		v.Set("user_id", q.UserID)
	}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		v.Set("until", q.Until.UTC().Format(time.RFC3339))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}
