package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ledgerdesk/accounting"
	"github.com/hrygo/ledgerdesk/ai/cache"
	"github.com/hrygo/ledgerdesk/ai/intent"
	"github.com/hrygo/ledgerdesk/ai/tools"
	"github.com/hrygo/ledgerdesk/recordstore"
)

func newTestAssembler(t *testing.T) (*Assembler, *recordstore.MemoryClient, *accounting.MemoryClient) {
	t.Helper()
	registry := tools.NewRegistry(cache.New(time.Minute))
	rs := recordstore.NewMemoryClient()
	ac := accounting.NewMemoryClient()
	tools.RegisterRecordTools(registry, rs)
	tools.RegisterAccountingTools(registry, ac)
	return New(registry, slog.Default()), rs, ac
}

func TestAssembleRecordsSection(t *testing.T) {
	a, rs, _ := newTestAssembler(t)
	rs.Seed(recordstore.TabClients, []string{"Name", "Status"}, []recordstore.Row{
		{"Name": "Acme Builders", "Status": "active"},
	})

	bundle := a.Assemble(context.Background(), []intent.Kind{intent.KindRecords})
	require.Len(t, bundle.Sections, 1)

	sec := bundle.Sections[0]
	assert.Equal(t, intent.KindRecords, sec.Kind)
	assert.False(t, sec.Degraded)
	assert.Contains(t, sec.Payload, "Acme Builders")
	assert.Empty(t, bundle.Degraded())
}

func TestAssembleNoneYieldsEmptyBundle(t *testing.T) {
	a, _, _ := newTestAssembler(t)
	bundle := a.Assemble(context.Background(), []intent.Kind{intent.KindNone})
	assert.Empty(t, bundle.Sections)
	assert.Equal(t, "", bundle.Render())
}

func TestAssembleBothKinds(t *testing.T) {
	a, rs, ac := newTestAssembler(t)
	rs.Seed(recordstore.TabProjects, []string{"Name", "Client"}, []recordstore.Row{
		{"Name": "Deck Rebuild", "Client": "Henderson"},
	})
	_, err := ac.CreateCustomer(context.Background(), accounting.Customer{DisplayName: "Henderson"})
	require.NoError(t, err)

	bundle := a.Assemble(context.Background(), []intent.Kind{intent.KindRecords, intent.KindAccounting})
	require.Len(t, bundle.Sections, 2)

	rendered := bundle.Render()
	assert.Contains(t, rendered, "Business records")
	assert.Contains(t, rendered, "Accounting data")
	assert.Contains(t, rendered, "Deck Rebuild")
	assert.Contains(t, rendered, "Henderson")
}

func TestAssembleDegradesOnFailure(t *testing.T) {
	a, rs, _ := newTestAssembler(t)
	rs.FailNext(recordstore.ErrUnavailable)

	bundle := a.Assemble(context.Background(), []intent.Kind{intent.KindRecords})
	require.Len(t, bundle.Sections, 1)

	sec := bundle.Sections[0]
	assert.True(t, sec.Degraded)
	assert.Contains(t, sec.Payload, "unavailable")
	assert.Equal(t, []intent.Kind{intent.KindRecords}, bundle.Degraded())
	assert.Contains(t, bundle.Render(), "currently unavailable")
}

func TestTruncationKeepsTrailingItems(t *testing.T) {
	a, rs, _ := newTestAssembler(t)

	rows := make([]recordstore.Row, 0, 15)
	for i := 1; i <= 15; i++ {
		rows = append(rows, recordstore.Row{"Name": fmt.Sprintf("Client %02d", i)})
	}
	rs.Seed(recordstore.TabClients, []string{"Name"}, rows)

	bundle := a.Assemble(context.Background(), []intent.Kind{intent.KindRecords})
	require.Len(t, bundle.Sections, 1)
	sec := bundle.Sections[0]

	assert.Equal(t, 15, sec.Count)
	assert.Contains(t, sec.Payload, "showing last 10 of 15")
	assert.Contains(t, sec.Payload, "Client 15")
	assert.NotContains(t, sec.Payload, "Client 01")
}

func TestSetMaxItemsDisablesTruncation(t *testing.T) {
	a, rs, _ := newTestAssembler(t)
	a.SetMaxItems(0)

	rows := make([]recordstore.Row, 0, 12)
	for i := 1; i <= 12; i++ {
		rows = append(rows, recordstore.Row{"Name": fmt.Sprintf("Client %02d", i)})
	}
	rs.Seed(recordstore.TabClients, []string{"Name"}, rows)

	bundle := a.Assemble(context.Background(), []intent.Kind{intent.KindRecords})
	sec := bundle.Sections[0]
	assert.Contains(t, sec.Payload, "Client 01")
	assert.NotContains(t, sec.Payload, "showing last")
}
