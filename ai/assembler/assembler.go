// Package assembler builds the per-turn context bundle handed to the
// language model. For each intent kind it pulls fresh data through the
// registered read tools, truncates long listings, and marks sections
// degraded when a collaborator cannot be reached so the turn can still
// proceed on partial context.
package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/ledgerdesk/ai/intent"
	"github.com/hrygo/ledgerdesk/ai/tools"
)

// DefaultMaxItems is how many trailing items of a listing survive truncation.
const DefaultMaxItems = 10

// Section is the assembled context for one intent kind.
type Section struct {
	Kind     intent.Kind
	Payload  string
	Degraded bool
	// Count is the total item count before truncation, summed over sources.
	Count int
}

// Bundle is the full assembled context for a turn.
type Bundle struct {
	Kinds    []intent.Kind
	Sections []Section
}

// Degraded reports the kinds whose sections came back degraded.
func (b *Bundle) Degraded() []intent.Kind {
	var out []intent.Kind
	for _, s := range b.Sections {
		if s.Degraded {
			out = append(out, s.Kind)
		}
	}
	return out
}

// Render flattens the bundle into system-prompt text.
func (b *Bundle) Render() string {
	if len(b.Sections) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, s := range b.Sections {
		sb.WriteString("### ")
		sb.WriteString(sectionTitle(s.Kind))
		if s.Degraded {
			sb.WriteString(" (currently unavailable, answer from what follows and say so)")
		}
		sb.WriteString("\n")
		sb.WriteString(s.Payload)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sectionTitle(kind intent.Kind) string {
	switch kind {
	case intent.KindRecords:
		return "Business records"
	case intent.KindAccounting:
		return "Accounting data"
	default:
		return string(kind)
	}
}

// kindSources maps an intent kind to the read tools that feed its section.
var kindSources = map[intent.Kind][]string{
	intent.KindRecords:    {"list_clients", "list_projects", "list_permits"},
	intent.KindAccounting: {"list_customers", "list_invoices", "list_estimates"},
}

// Assembler pulls context through the tool registry so reads share the
// same cache and tag invalidation as tool-call dispatch.
type Assembler struct {
	registry *tools.Registry
	maxItems int
	logger   *slog.Logger
}

func New(registry *tools.Registry, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{registry: registry, maxItems: DefaultMaxItems, logger: logger}
}

// SetMaxItems overrides the truncation threshold. Zero or negative keeps all items.
func (a *Assembler) SetMaxItems(n int) { a.maxItems = n }

// Assemble builds one section per kind. A failing source degrades its
// section instead of failing the turn; KindNone yields an empty bundle.
func (a *Assembler) Assemble(ctx context.Context, kinds []intent.Kind) *Bundle {
	bundle := &Bundle{Kinds: kinds}
	for _, kind := range kinds {
		sources, ok := kindSources[kind]
		if !ok {
			continue
		}
		bundle.Sections = append(bundle.Sections, a.assembleSection(ctx, kind, sources))
	}
	return bundle
}

func (a *Assembler) assembleSection(ctx context.Context, kind intent.Kind, sources []string) Section {
	sec := Section{Kind: kind}
	var parts []string
	for _, name := range sources {
		result, err := a.registry.Execute(ctx, name, map[string]any{})
		if err != nil {
			a.logger.Warn("context source failed", "kind", kind, "tool", name, "error", err)
			sec.Degraded = true
			parts = append(parts, fmt.Sprintf("%s: unavailable", name))
			continue
		}
		rendered, count := renderListing(result, a.maxItems)
		sec.Count += count
		parts = append(parts, fmt.Sprintf("%s:\n%s", name, rendered))
	}
	sec.Payload = strings.Join(parts, "\n")
	return sec
}

// renderListing serializes a source result to compact JSON. Slices longer
// than max keep only the trailing items, prefixed with an elision note so
// the model knows the listing is partial.
func renderListing(v any, max int) (string, int) {
	items, ok := asSlice(v)
	if !ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), 1
		}
		return string(raw), 1
	}
	total := len(items)
	note := ""
	if max > 0 && total > max {
		note = fmt.Sprintf("(showing last %d of %d)\n", max, total)
		items = items[total-max:]
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Sprintf("%v", items), total
	}
	return note + string(raw), total
}

// asSlice normalizes a result into []any through JSON so typed slices
// from any collaborator are handled the same way.
func asSlice(v any) ([]any, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}
