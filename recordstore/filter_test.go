package recordstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	row := Row{"Name": "Acme Builders", "Status": "active", "City": "Portland"}

	tests := []struct {
		name    string
		filter  *Filter
		want    bool
		wantErr bool
	}{
		{
			name:   "nil filter matches everything",
			filter: nil,
			want:   true,
		},
		{
			name:   "equality match",
			filter: &Filter{Column: "Status", Value: "active"},
			want:   true,
		},
		{
			name:   "equality mismatch",
			filter: &Filter{Column: "Status", Value: "inactive"},
			want:   false,
		},
		{
			name:   "equality on absent column",
			filter: &Filter{Column: "Zip", Value: "97201"},
			want:   false,
		},
		{
			name:   "cel expression",
			filter: &Filter{Expr: `row["Status"] == "active" && row["City"] == "Portland"`},
			want:   true,
		},
		{
			name:   "cel expression mismatch",
			filter: &Filter{Expr: `row["Status"] == "inactive"`},
			want:   false,
		},
		{
			name:   "expr wins over column",
			filter: &Filter{Column: "Status", Value: "inactive", Expr: `row["Status"] == "active"`},
			want:   true,
		},
		{
			name:    "invalid expression",
			filter:  &Filter{Expr: `row["Status" ==`},
			wantErr: true,
		},
		{
			name:    "non-boolean expression",
			filter:  &Filter{Expr: `row["Status"]`},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.filter.Matches(row)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyFilterPreservesOrder(t *testing.T) {
	rows := []Row{
		{"Name": "A", "Status": "active"},
		{"Name": "B", "Status": "inactive"},
		{"Name": "C", "Status": "active"},
	}

	out, err := ApplyFilter(rows, &Filter{Column: "Status", Value: "active"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Get("Name"))
	assert.Equal(t, "C", out[1].Get("Name"))
}

func TestFilterCanonical(t *testing.T) {
	assert.Equal(t, "", (*Filter)(nil).Canonical())
	assert.Equal(t, "", (&Filter{}).Canonical())
	assert.Equal(t, "eq:Status=active", (&Filter{Column: "Status", Value: "active"}).Canonical())
	assert.Equal(t, `expr:row["A"] == "1"`, (&Filter{Expr: `row["A"] == "1"`}).Canonical())
}
