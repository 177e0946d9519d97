// Package clients is a typed HTTP client for the bookmanager API.
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"bookmanager/internal/apperr"
	"bookmanager/internal/audit"
	"bookmanager/internal/circulation"
	"bookmanager/internal/membership"
	"bookmanager/internal/web"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New returns a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates and keeps the issued token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*membership.LoginResult, error) {
	var res membership.LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", body, &res); err != nil {
		return nil, err
	}
	c.token = res.Token
	return &res, nil
}

func (c *Client) Borrow(ctx context.Context, req circulation.BorrowRequest) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, "/loans", req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) Return(ctx context.Context, loanID int64, outcome circulation.Outcome) (*circulation.Loan, error) {
	var loan circulation.Loan
	body := map[string]string{"outcome": string(outcome)}
	if err := c.do(ctx, http.MethodPost, "/loans/"+strconv.FormatInt(loanID, 10)+"/return", body, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) Renew(ctx context.Context, loanID int64) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, "/loans/"+strconv.FormatInt(loanID, 10)+"/renew", struct{}{}, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) ListLoans(ctx context.Context, f circulation.LoanFilter) ([]*circulation.Loan, error) {
	q := url.Values{}
	if f.ReaderID != 0 {
		q.Set("reader_id", strconv.FormatInt(f.ReaderID, 10))
	}
	if f.TitleID != 0 {
		q.Set("title_id", strconv.FormatInt(f.TitleID, 10))
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.OverdueOnly {
		q.Set("overdue", "true")
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	path := "/loans"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var loans []*circulation.Loan
	if err := c.do(ctx, http.MethodGet, path, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// Audit runs the consistency checks. An unhealthy report is returned
// without an error.
func (c *Client) Audit(ctx context.Context) (*audit.Report, error) {
	resp, err := c.send(ctx, http.MethodGet, "/admin/audit", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return nil, decodeError(resp)
	}
	var report audit.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode audit report: %w", err)
	}
	return &report, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	return resp, nil
}

// decodeError turns an error envelope back into a classified error.
func decodeError(resp *http.Response) error {
	var body web.ErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil || body.Error.Kind == "" {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return apperr.New(body.Error.Kind, body.Error.Message)
}
