package recordstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryClient is an in-memory record store used by demo mode and tests.
type MemoryClient struct {
	mu      sync.RWMutex
	headers map[string][]string
	rows    map[string][]Row

	// FailNext, when set, makes the next call fail with the given error.
	failNext error
	// CallCount tracks the number of calls, failed ones included.
	callCount int
}

var _ Client = (*MemoryClient)(nil)

// NewMemoryClient creates an in-memory record store with the standard
// tabs present and empty.
func NewMemoryClient() *MemoryClient {
	m := &MemoryClient{
		headers: make(map[string][]string),
		rows:    make(map[string][]Row),
	}
	m.headers[TabClients] = []string{"Name", "Contact", "Phone", "Address", "Status"}
	m.headers[TabProjects] = []string{"Name", "Client", "Status", "Start", "Notes"}
	m.headers[TabPermits] = []string{"Number", "Project", "Type", "Status", "Inspection"}
	for tab := range m.headers {
		m.rows[tab] = []Row{}
	}
	return m
}

// Seed replaces the contents of a tab.
func (m *MemoryClient) Seed(tab string, header []string, rows []Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[tab] = append([]string(nil), header...)
	m.rows[tab] = append([]Row(nil), rows...)
}

// FailNext makes the next client call return err.
func (m *MemoryClient) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// CallCount returns the number of calls made so far.
func (m *MemoryClient) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

func (m *MemoryClient) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	m.callCount++
	return err
}

func (m *MemoryClient) ReadRows(ctx context.Context, tab string, filter *Filter) ([]Row, error) {
	m.mu.Lock()
	err := m.takeFailure()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.rows[tab]
	if !ok {
		return nil, errors.Wrapf(ErrTabNotFound, "tab %s", tab)
	}
	copied := make([]Row, len(rows))
	for i, row := range rows {
		copied[i] = cloneRow(row)
	}
	return ApplyFilter(copied, filter)
}

func (m *MemoryClient) UpsertRow(ctx context.Context, tab, keyColumn string, row Row) (Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, false, err
	}

	key := row.Get(keyColumn)
	if key == "" {
		return nil, false, errors.Wrapf(ErrMissingKey, "column %s", keyColumn)
	}
	if _, ok := m.rows[tab]; !ok {
		return nil, false, errors.Wrapf(ErrTabNotFound, "tab %s", tab)
	}

	for i, existing := range m.rows[tab] {
		if existing.Get(keyColumn) == key {
			merged := cloneRow(existing)
			for col, val := range row {
				merged[col] = val
			}
			merged = m.padToHeader(tab, merged)
			m.rows[tab][i] = merged
			return cloneRow(merged), false, nil
		}
	}

	stored := m.padToHeader(tab, row)
	m.rows[tab] = append(m.rows[tab], stored)
	return cloneRow(stored), true, nil
}

// padToHeader fills header columns the row does not set with empty cells,
// the same shape a sheet read produces for short rows.
func (m *MemoryClient) padToHeader(tab string, row Row) Row {
	padded := cloneRow(row)
	for _, col := range m.headers[tab] {
		if _, ok := padded[col]; !ok {
			padded[col] = ""
		}
	}
	return padded
}

func (m *MemoryClient) AddColumn(ctx context.Context, tab, column string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}

	header, ok := m.headers[tab]
	if !ok {
		return errors.Wrapf(ErrTabNotFound, "tab %s", tab)
	}
	if indexOf(header, column) >= 0 {
		return nil
	}
	m.headers[tab] = append(header, column)
	for i, row := range m.rows[tab] {
		row[column] = ""
		m.rows[tab][i] = row
	}
	return nil
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
