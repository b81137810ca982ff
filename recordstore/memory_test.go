package recordstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUpsertRow(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()

	row, created, err := m.UpsertRow(ctx, TabClients, "Name", Row{"Name": "Acme Builders", "Status": "active"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "active", row.Get("Status"))

	// Same key updates in place and keeps columns the update does not set.
	row, created, err = m.UpsertRow(ctx, TabClients, "Name", Row{"Name": "Acme Builders", "Contact": "sam@acme.test"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "active", row.Get("Status"))
	assert.Equal(t, "sam@acme.test", row.Get("Contact"))

	rows, err := m.ReadRows(ctx, TabClients, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMemoryUpsertPadsRowsToHeader(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()

	// The upsert sets only two of the five Projects columns.
	_, _, err := m.UpsertRow(ctx, TabProjects, "Name", Row{"Name": "Patio rebuild", "Status": "active"})
	require.NoError(t, err)

	// A filter touching an unset column still evaluates; a sheet read pads
	// short rows the same way.
	rows, err := m.ReadRows(ctx, TabProjects, &Filter{Expr: `row["Client"] == "Acme" && row["Status"] == "active"`})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = m.ReadRows(ctx, TabProjects, &Filter{Expr: `row["Client"] == "" && row["Status"] == "active"`})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Patio rebuild", rows[0].Get("Name"))
}

func TestMemoryUpsertRequiresKeyAndTab(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()

	_, _, err := m.UpsertRow(ctx, TabClients, "Name", Row{"Status": "active"})
	require.ErrorIs(t, err, ErrMissingKey)

	_, _, err = m.UpsertRow(ctx, "Nope", "Name", Row{"Name": "X"})
	require.ErrorIs(t, err, ErrTabNotFound)
}

func TestMemoryAddColumnBackfillsRows(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()

	_, _, err := m.UpsertRow(ctx, TabClients, "Name", Row{"Name": "Acme Builders"})
	require.NoError(t, err)
	require.NoError(t, m.AddColumn(ctx, TabClients, "Region"))

	rows, err := m.ReadRows(ctx, TabClients, &Filter{Expr: `row["Region"] == ""`})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
