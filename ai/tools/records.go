package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hrygo/ledgerdesk/ai/cache"
	"github.com/hrygo/ledgerdesk/recordstore"
)

// Key columns per tab. Upserts address rows through these.
var recordKeyColumns = map[string]string{
	recordstore.TabClients:  "Name",
	recordstore.TabProjects: "Name",
	recordstore.TabPermits:  "Number",
}

// RecordTag returns the cache tag covering reads of a tab.
func RecordTag(tab string) string {
	return "records:" + tab
}

// RegisterRecordTools wires the record-store read and write handlers.
func RegisterRecordTools(r *Registry, rs recordstore.Client) {
	r.MustRegister(&Descriptor{
		Name:        "list_clients",
		Description: "List clients from the record store, optionally filtered by status.",
		Parameters: ObjectSchema(map[string]*JSONSchema{
			"status": {Type: "string", Description: "Filter to clients with this status."},
		}),
		Tags:    []string{RecordTag(recordstore.TabClients)},
		Handler: listRowsHandler(r, rs, recordstore.TabClients, "Status"),
	})

	r.MustRegister(&Descriptor{
		Name:        "list_projects",
		Description: "List projects from the record store, optionally filtered by client name and status.",
		Parameters: ObjectSchema(map[string]*JSONSchema{
			"client": {Type: "string", Description: "Filter to projects of this client."},
			"status": {Type: "string", Description: "Filter to projects with this status."},
		}),
		Tags:    []string{RecordTag(recordstore.TabProjects)},
		Handler: listProjectsHandler(r, rs),
	})

	r.MustRegister(&Descriptor{
		Name:        "list_permits",
		Description: "List permits from the record store, optionally filtered by project and status.",
		Parameters: ObjectSchema(map[string]*JSONSchema{
			"project": {Type: "string", Description: "Filter to permits of this project."},
			"status":  {Type: "string", Description: "Filter to permits with this status."},
		}),
		Tags:    []string{RecordTag(recordstore.TabPermits)},
		Handler: listPermitsHandler(r, rs),
	})

	r.MustRegister(&Descriptor{
		Name:        "update_record_field",
		Description: "Set one field of a client, project, or permit record, creating the record if it does not exist.",
		Parameters: ObjectSchema(map[string]*JSONSchema{
			"tab":    {Type: "string", Enum: []string{recordstore.TabClients, recordstore.TabProjects, recordstore.TabPermits}},
			"key":    {Type: "string", Description: "Value of the record's key column (client name, project name, permit number)."},
			"column": {Type: "string", Description: "Column to set."},
			"value":  {Type: "string", Description: "New value."},
		}, "tab", "key", "column", "value"),
		Write:   true,
		Tags:    []string{RecordTag(recordstore.TabClients), RecordTag(recordstore.TabProjects), RecordTag(recordstore.TabPermits)},
		Handler: updateRecordFieldHandler(rs),
	})

	r.MustRegister(&Descriptor{
		Name:        "add_record_column",
		Description: "Add a new column to a record store tab.",
		Parameters: ObjectSchema(map[string]*JSONSchema{
			"tab":    {Type: "string", Enum: []string{recordstore.TabClients, recordstore.TabProjects, recordstore.TabPermits}},
			"column": {Type: "string", Description: "Name of the column to add."},
		}, "tab", "column"),
		Write:   true,
		Tags:    []string{RecordTag(recordstore.TabClients), RecordTag(recordstore.TabProjects), RecordTag(recordstore.TabPermits)},
		Handler: addRecordColumnHandler(rs),
	})
}

// listRowsHandler serves a tab read through the downstream cache with an
// optional single-column equality filter.
func listRowsHandler(r *Registry, rs recordstore.Client, tab, filterColumn string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		var filter *recordstore.Filter
		if v := stringArg(args, strings.ToLower(filterColumn)); v != "" {
			filter = &recordstore.Filter{Column: filterColumn, Value: v}
		}
		return readRowsCached(ctx, r, rs, tab, filter)
	}
}

func listProjectsHandler(r *Registry, rs recordstore.Client) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		filter := exprFilter(map[string]string{
			"Client": stringArg(args, "client"),
			"Status": stringArg(args, "status"),
		})
		return readRowsCached(ctx, r, rs, recordstore.TabProjects, filter)
	}
}

func listPermitsHandler(r *Registry, rs recordstore.Client) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		filter := exprFilter(map[string]string{
			"Project": stringArg(args, "project"),
			"Status":  stringArg(args, "status"),
		})
		return readRowsCached(ctx, r, rs, recordstore.TabPermits, filter)
	}
}

// exprFilter builds a CEL conjunction over the non-empty column constraints.
// A single constraint degrades to a plain equality filter.
func exprFilter(columns map[string]string) *recordstore.Filter {
	var clauses []string
	var lastCol, lastVal string
	for col, val := range columns {
		if val == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf(`row[%q] == %q`, col, val))
		lastCol, lastVal = col, val
	}
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return &recordstore.Filter{Column: lastCol, Value: lastVal}
	}
	// Sort for a canonical expression: map iteration order is random and the
	// expression doubles as a cache key.
	sort.Strings(clauses)
	return &recordstore.Filter{Expr: strings.Join(clauses, " && ")}
}

func readRowsCached(ctx context.Context, r *Registry, rs recordstore.Client, tab string, filter *recordstore.Filter) (any, error) {
	key := cache.Key{Service: "records", Resource: tab, Filter: filter.Canonical()}
	rows, _, err := r.Cache().GetOrLoad(ctx, key, []string{RecordTag(tab)}, func(ctx context.Context) (any, error) {
		return rs.ReadRows(ctx, tab, filter)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func updateRecordFieldHandler(rs recordstore.Client) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tab := stringArg(args, "tab")
		keyColumn := recordKeyColumns[tab]
		row := recordstore.Row{}
		row[stringArg(args, "column")] = stringArg(args, "value")
		// Key column last: it addresses the row even if the update names it.
		row[keyColumn] = stringArg(args, "key")
		updated, created, err := rs.UpsertRow(ctx, tab, keyColumn, row)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"row":     updated,
			"created": created,
		}, nil
	}
}

func addRecordColumnHandler(rs recordstore.Client) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		tab := stringArg(args, "tab")
		column := stringArg(args, "column")
		if err := rs.AddColumn(ctx, tab, column); err != nil {
			return nil, err
		}
		return map[string]any{"tab": tab, "column": column, "added": true}, nil
	}
}
