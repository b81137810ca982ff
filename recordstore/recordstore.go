// Package recordstore provides the client for the spreadsheet-backed record
// store that holds clients, projects, and permits. Rows are addressed by
// (tab, key column) and read back as typed header→cell maps.
package recordstore

import (
	"context"

	"github.com/pkg/errors"
)

// Row is one spreadsheet row keyed by header name.
type Row map[string]string

// Get returns the cell value for a column, empty when absent.
func (r Row) Get(column string) string {
	return r[column]
}

// Filter selects rows from a tab. Either Column/Value equality or a CEL
// expression over the row map; Expr wins when both are set.
type Filter struct {
	Column string
	Value  string
	Expr   string // CEL expression, e.g. `row["Status"] == "active"`
}

// Canonical returns a stable string form of the filter, used as a cache key
// component. Nil filters canonicalize to "".
func (f *Filter) Canonical() string {
	if f == nil {
		return ""
	}
	if f.Expr != "" {
		return "expr:" + f.Expr
	}
	if f.Column == "" {
		return ""
	}
	return "eq:" + f.Column + "=" + f.Value
}

// Well-known tabs.
const (
	TabClients  = "Clients"
	TabProjects = "Projects"
	TabPermits  = "Permits"
)

// Errors surfaced by record store implementations.
var (
	// ErrUnavailable means the store was unreachable or timed out.
	ErrUnavailable = errors.New("record store unavailable")
	// ErrTabNotFound means the addressed tab does not exist.
	ErrTabNotFound = errors.New("tab not found")
	// ErrMissingKey means an upsert row lacks a value for the key column.
	ErrMissingKey = errors.New("row is missing key column value")
)

// Client is the consumed interface of the record store.
type Client interface {
	// ReadRows returns rows of the tab matching the filter, in sheet order.
	ReadRows(ctx context.Context, tab string, filter *Filter) ([]Row, error)

	// UpsertRow writes the row addressed by its keyColumn value: an existing
	// row with the same key is updated, otherwise the row is appended.
	// Returns the stored row and whether it was newly created.
	UpsertRow(ctx context.Context, tab, keyColumn string, row Row) (Row, bool, error)

	// AddColumn appends a new header column to the tab. Adding a column that
	// already exists is a no-op.
	AddColumn(ctx context.Context, tab, column string) error
}
