package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPConfig configures the accounting REST client.
type HTTPConfig struct {
	BaseURL string
	RealmID string // account identifier in the upstream service
	Tokens  *TokenManager
	Timeout time.Duration // per-request wall clock, default 30s
	// RateLimit caps requests per second against the upstream quota.
	// Zero means the default of 5 rps with a burst of 10.
	RateLimit rate.Limit
}

// HTTPClient is the production accounting client.
type HTTPClient struct {
	baseURL    string
	realmID    string
	tokens     *TokenManager
	limiter    *rate.Limiter
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates the REST accounting client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("accounting base url is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token manager is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 5
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		realmID: cfg.RealmID,
		tokens:  cfg.Tokens,
		limiter: rate.NewLimiter(limit, 10),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:    20,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}, nil
}

func (c *HTTPClient) ListCustomers(ctx context.Context) ([]Customer, error) {
	var out struct {
		Customers []Customer `json:"customers"`
	}
	if err := c.do(ctx, http.MethodGet, c.path("customers"), nil, &out); err != nil {
		return nil, err
	}
	return out.Customers, nil
}

func (c *HTTPClient) FindCustomerByName(ctx context.Context, displayName string) (*Customer, error) {
	var out struct {
		Customers []Customer `json:"customers"`
	}
	p := c.path("customers") + "?display_name=" + url.QueryEscape(displayName)
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Customers) == 0 {
		return nil, nil
	}
	return &out.Customers[0], nil
}

func (c *HTTPClient) CreateCustomer(ctx context.Context, cust Customer) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodPost, c.path("customers"), cust, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateCustomer(ctx context.Context, cust Customer) (*Customer, error) {
	if cust.ID == "" {
		return nil, errors.New("update customer requires id")
	}
	var out Customer
	if err := c.do(ctx, http.MethodPut, c.path("customers/"+cust.ID), cust, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListInvoices(ctx context.Context) ([]Invoice, error) {
	var out struct {
		Invoices []Invoice `json:"invoices"`
	}
	if err := c.do(ctx, http.MethodGet, c.path("invoices"), nil, &out); err != nil {
		return nil, err
	}
	return out.Invoices, nil
}

func (c *HTTPClient) FindInvoiceByDocNumber(ctx context.Context, docNumber string) (*Invoice, error) {
	var out struct {
		Invoices []Invoice `json:"invoices"`
	}
	p := c.path("invoices") + "?doc_number=" + url.QueryEscape(docNumber)
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Invoices) == 0 {
		return nil, nil
	}
	return &out.Invoices[0], nil
}

func (c *HTTPClient) CreateInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	var out Invoice
	if err := c.do(ctx, http.MethodPost, c.path("invoices"), inv, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	if inv.ID == "" {
		return nil, errors.New("update invoice requires id")
	}
	var out Invoice
	if err := c.do(ctx, http.MethodPut, c.path("invoices/"+inv.ID), inv, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListEstimates(ctx context.Context) ([]Estimate, error) {
	var out struct {
		Estimates []Estimate `json:"estimates"`
	}
	if err := c.do(ctx, http.MethodGet, c.path("estimates"), nil, &out); err != nil {
		return nil, err
	}
	return out.Estimates, nil
}

func (c *HTTPClient) FindEstimateByDocNumber(ctx context.Context, docNumber string) (*Estimate, error) {
	var out struct {
		Estimates []Estimate `json:"estimates"`
	}
	p := c.path("estimates") + "?doc_number=" + url.QueryEscape(docNumber)
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Estimates) == 0 {
		return nil, nil
	}
	return &out.Estimates[0], nil
}

func (c *HTTPClient) CreateEstimate(ctx context.Context, est Estimate) (*Estimate, error) {
	var out Estimate
	if err := c.do(ctx, http.MethodPost, c.path("estimates"), est, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateEstimate(ctx context.Context, est Estimate) (*Estimate, error) {
	if est.ID == "" {
		return nil, errors.New("update estimate requires id")
	}
	var out Estimate
	if err := c.do(ctx, http.MethodPut, c.path("estimates/"+est.ID), est, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) path(resource string) string {
	return fmt.Sprintf("/v3/company/%s/%s", url.PathEscape(c.realmID), resource)
}

// do performs one request with bearer auth. A 401 invalidates the access
// token and retries once with a refreshed credential; a second rejection is
// surfaced as ErrUnavailable per the refresh-once contract.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(ErrUnavailable, err.Error())
	}

	err := c.doOnce(ctx, method, path, in, out)
	if !errors.Is(err, ErrAuthExpired) {
		return err
	}

	// Exactly one transparent refresh-and-retry.
	if err := c.doOnce(ctx, method, path, in, out); err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return errors.Wrap(ErrUnavailable, "credential rejected after refresh")
		}
		return err
	}
	return nil
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate(token)
		return errors.Wrapf(ErrAuthExpired, "%s %s", method, path)
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(ErrNotFound, "%s %s", method, path)
	case resp.StatusCode == http.StatusConflict:
		return errors.Wrapf(ErrConflict, "%s %s", method, path)
	case resp.StatusCode >= 500:
		return errors.Wrapf(ErrUnavailable, "%s %s: status %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}
