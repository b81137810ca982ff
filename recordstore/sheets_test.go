package recordstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSheets is a minimal in-memory values API: one tab per key, first row
// is the header.
type fakeSheets struct {
	mu   sync.Mutex
	tabs map[string][][]string

	puts    []string // paths of writeRow calls, in order
	appends []string // paths of appendRow calls, in order
}

func newFakeSheets(tabs map[string][][]string) *fakeSheets {
	return &fakeSheets{tabs: tabs}
}

func (f *fakeSheets) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			tab := r.URL.Path[len("/v1/spreadsheets/sheet1/values/"):]
			values, ok := f.tabs[tab]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"values": values}))
		case http.MethodPut:
			f.puts = append(f.puts, r.URL.Path)
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			f.appends = append(f.appends, r.URL.Path)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func newTestSheetsClient(t *testing.T, handler http.Handler) (*SheetsClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewSheetsClient(SheetsConfig{
		BaseURL:       srv.URL,
		SpreadsheetID: "sheet1",
		APIKey:        "test-key",
	})
	require.NoError(t, err)
	return client, srv
}

func TestSheetsReadRows(t *testing.T) {
	fake := newFakeSheets(map[string][][]string{
		"Clients": {
			{"Name", "Status"},
			{"Acme Builders", "active"},
			{"Beta Paving", "inactive"},
			{"Shorty"}, // fewer cells than the header
		},
	})
	client, _ := newTestSheetsClient(t, fake.handler(t))

	rows, err := client.ReadRows(context.Background(), "Clients", nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Acme Builders", rows[0].Get("Name"))
	assert.Equal(t, "inactive", rows[1].Get("Status"))
	// Short rows are padded with empty cells.
	assert.Equal(t, "", rows[2].Get("Status"))
}

func TestSheetsReadRowsAppliesFilter(t *testing.T) {
	fake := newFakeSheets(map[string][][]string{
		"Clients": {
			{"Name", "Status"},
			{"Acme Builders", "active"},
			{"Beta Paving", "inactive"},
		},
	})
	client, _ := newTestSheetsClient(t, fake.handler(t))

	rows, err := client.ReadRows(context.Background(), "Clients", &Filter{Column: "Status", Value: "active"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme Builders", rows[0].Get("Name"))
}

func TestSheetsUpsertRowUpdatesInPlace(t *testing.T) {
	fake := newFakeSheets(map[string][][]string{
		"Clients": {
			{"Name", "Status"},
			{"Acme Builders", "active"},
			{"Beta Paving", "inactive"},
		},
	})
	client, _ := newTestSheetsClient(t, fake.handler(t))

	row, created, err := client.UpsertRow(context.Background(), "Clients", "Name",
		Row{"Name": "Beta Paving", "Status": "active"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "active", row.Get("Status"))

	// Beta Paving is the second data row, so sheet row 3.
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "/v1/spreadsheets/sheet1/values/Clients!A3", fake.puts[0])
	assert.Empty(t, fake.appends)
}

func TestSheetsUpsertRowMergesExistingCells(t *testing.T) {
	fake := newFakeSheets(map[string][][]string{
		"Clients": {
			{"Name", "Contact", "Status"},
			{"Acme Builders", "sam@acme.test", "active"},
		},
	})
	client, _ := newTestSheetsClient(t, fake.handler(t))

	row, created, err := client.UpsertRow(context.Background(), "Clients", "Name",
		Row{"Name": "Acme Builders", "Status": "inactive"})
	require.NoError(t, err)
	assert.False(t, created)
	// Columns not present in the update keep their current value.
	assert.Equal(t, "sam@acme.test", row.Get("Contact"))
	assert.Equal(t, "inactive", row.Get("Status"))
}

func TestSheetsUpsertRowAppendsNewKey(t *testing.T) {
	fake := newFakeSheets(map[string][][]string{
		"Clients": {
			{"Name", "Status"},
			{"Acme Builders", "active"},
		},
	})
	client, _ := newTestSheetsClient(t, fake.handler(t))

	_, created, err := client.UpsertRow(context.Background(), "Clients", "Name",
		Row{"Name": "New Venture", "Status": "active"})
	require.NoError(t, err)
	assert.True(t, created)

	require.Len(t, fake.appends, 1)
	assert.Equal(t, "/v1/spreadsheets/sheet1/values/Clients:append", fake.appends[0])
	assert.Empty(t, fake.puts)
}

func TestSheetsUpsertRowRequiresKey(t *testing.T) {
	fake := newFakeSheets(map[string][][]string{
		"Clients": {{"Name", "Status"}},
	})
	client, _ := newTestSheetsClient(t, fake.handler(t))

	_, _, err := client.UpsertRow(context.Background(), "Clients", "Name", Row{"Status": "active"})
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestSheetsAddColumn(t *testing.T) {
	fake := newFakeSheets(map[string][][]string{
		"Clients": {
			{"Name", "Status"},
			{"Acme Builders", "active"},
		},
	})
	client, _ := newTestSheetsClient(t, fake.handler(t))

	// Existing column is a no-op.
	require.NoError(t, client.AddColumn(context.Background(), "Clients", "Status"))
	assert.Empty(t, fake.puts)

	// A new column rewrites the header row.
	require.NoError(t, client.AddColumn(context.Background(), "Clients", "Region"))
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "/v1/spreadsheets/sheet1/values/Clients!A1", fake.puts[0])
}

func TestSheetsMissingTab(t *testing.T) {
	fake := newFakeSheets(map[string][][]string{})
	client, _ := newTestSheetsClient(t, fake.handler(t))

	_, err := client.ReadRows(context.Background(), "Nope", nil)
	require.ErrorIs(t, err, ErrTabNotFound)
}

func TestSheetsEmptyTabIsNotFound(t *testing.T) {
	fake := newFakeSheets(map[string][][]string{"Clients": {}})
	client, _ := newTestSheetsClient(t, fake.handler(t))

	_, err := client.ReadRows(context.Background(), "Clients", nil)
	require.ErrorIs(t, err, ErrTabNotFound)
}

func TestSheetsServerErrorIsUnavailable(t *testing.T) {
	client, _ := newTestSheetsClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.ReadRows(context.Background(), "Clients", nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSheetsTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	client, err := NewSheetsClient(SheetsConfig{
		BaseURL:       srv.URL,
		SpreadsheetID: "sheet1",
	})
	require.NoError(t, err)

	_, err = client.ReadRows(context.Background(), "Clients", nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSheetsSendsBearerToken(t *testing.T) {
	var gotAuth string
	client, _ := newTestSheetsClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"values": [][]string{{"Name"}}})
	}))

	_, err := client.ReadRows(context.Background(), "Clients", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
}
