package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const defaultRequestTimeout = 30 * time.Second

// SheetsConfig configures the HTTP record store client.
type SheetsConfig struct {
	BaseURL       string
	SpreadsheetID string
	APIKey        string
	Timeout       time.Duration // per-request wall clock, default 30s
}

// SheetsClient speaks a Sheets-style values API: tabs are addressed as
// ranges, the first row of each tab is the header row.
type SheetsClient struct {
	baseURL       string
	spreadsheetID string
	apiKey        string
	httpClient    *http.Client
}

var _ Client = (*SheetsClient)(nil)

// NewSheetsClient creates an HTTP record store client.
func NewSheetsClient(cfg SheetsConfig) (*SheetsClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("record store base url is required")
	}
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &SheetsClient{
		baseURL:       cfg.BaseURL,
		spreadsheetID: cfg.SpreadsheetID,
		apiKey:        cfg.APIKey,
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

type valuesResponse struct {
	Values [][]string `json:"values"`
}

type valuesRequest struct {
	Values [][]string `json:"values"`
}

func (c *SheetsClient) ReadRows(ctx context.Context, tab string, filter *Filter) ([]Row, error) {
	header, values, err := c.readTab(ctx, tab)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(values))
	for _, cells := range values {
		rows = append(rows, zipRow(header, cells))
	}
	return ApplyFilter(rows, filter)
}

func (c *SheetsClient) UpsertRow(ctx context.Context, tab, keyColumn string, row Row) (Row, bool, error) {
	key := row.Get(keyColumn)
	if key == "" {
		return nil, false, errors.Wrapf(ErrMissingKey, "column %s", keyColumn)
	}

	header, values, err := c.readTab(ctx, tab)
	if err != nil {
		return nil, false, err
	}

	keyIdx := indexOf(header, keyColumn)
	if keyIdx < 0 {
		return nil, false, errors.Errorf("tab %s has no column %s", tab, keyColumn)
	}

	// Update in place when the natural key already exists.
	for i, cells := range values {
		if keyIdx < len(cells) && cells[keyIdx] == key {
			merged := zipRow(header, cells)
			for col, val := range row {
				merged[col] = val
			}
			// Row 1 is the header, data starts at sheet row 2.
			if err := c.writeRow(ctx, tab, i+2, projectRow(header, merged)); err != nil {
				return nil, false, err
			}
			slog.Debug("recordstore: row updated", "tab", tab, "key", key)
			return merged, false, nil
		}
	}

	if err := c.appendRow(ctx, tab, projectRow(header, row)); err != nil {
		return nil, false, err
	}
	slog.Debug("recordstore: row appended", "tab", tab, "key", key)
	return row, true, nil
}

func (c *SheetsClient) AddColumn(ctx context.Context, tab, column string) error {
	header, _, err := c.readTab(ctx, tab)
	if err != nil {
		return err
	}
	if indexOf(header, column) >= 0 {
		return nil
	}
	header = append(header, column)
	return c.writeRow(ctx, tab, 1, header)
}

// readTab returns the header row and the data rows of a tab.
func (c *SheetsClient) readTab(ctx context.Context, tab string) ([]string, [][]string, error) {
	var resp valuesResponse
	path := fmt.Sprintf("/v1/spreadsheets/%s/values/%s", url.PathEscape(c.spreadsheetID), url.PathEscape(tab))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, nil, err
	}
	if len(resp.Values) == 0 {
		return nil, nil, errors.Wrapf(ErrTabNotFound, "tab %s", tab)
	}
	return resp.Values[0], resp.Values[1:], nil
}

func (c *SheetsClient) writeRow(ctx context.Context, tab string, sheetRow int, cells []string) error {
	path := fmt.Sprintf("/v1/spreadsheets/%s/values/%s!A%d",
		url.PathEscape(c.spreadsheetID), url.PathEscape(tab), sheetRow)
	return c.do(ctx, http.MethodPut, path, &valuesRequest{Values: [][]string{cells}}, nil)
}

func (c *SheetsClient) appendRow(ctx context.Context, tab string, cells []string) error {
	path := fmt.Sprintf("/v1/spreadsheets/%s/values/%s:append",
		url.PathEscape(c.spreadsheetID), url.PathEscape(tab))
	return c.do(ctx, http.MethodPost, path, &valuesRequest{Values: [][]string{cells}}, nil)
}

func (c *SheetsClient) do(ctx context.Context, method, path string, in, out any) error {
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
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and transport failures both mean the collaborator is
		// unreachable for this call.
		return errors.Wrapf(ErrUnavailable, "%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return errors.Wrapf(ErrUnavailable, "%s %s: status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrapf(ErrTabNotFound, "%s %s", method, path)
	}
	if resp.StatusCode >= 400 {
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

func zipRow(header, cells []string) Row {
	row := make(Row, len(header))
	for i, col := range header {
		if i < len(cells) {
			row[col] = cells[i]
		} else {
			row[col] = ""
		}
	}
	return row
}

func projectRow(header []string, row Row) []string {
	cells := make([]string, len(header))
	for i, col := range header {
		cells[i] = row[col]
	}
	return cells
}

func indexOf(header []string, column string) int {
	for i, col := range header {
		if col == column {
			return i
		}
	}
	return -1
}
