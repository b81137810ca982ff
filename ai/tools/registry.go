// Package tools provides the static registry of actions callable by the LLM
// and the read/write handlers against the collaborator systems.
package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/ledgerdesk/accounting"
	"github.com/hrygo/ledgerdesk/ai/cache"
	"github.com/hrygo/ledgerdesk/ai/llm"
	"github.com/hrygo/ledgerdesk/internal/turnctx"
	"github.com/hrygo/ledgerdesk/recordstore"
)

// ErrUnknownTool is returned when a call names a tool absent from the registry.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes one tool call. Args have been schema-validated.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Descriptor is the immutable description of one registered tool. Built once
// at process start and shared read-only across all conversations.
type Descriptor struct {
	Name        string
	Description string
	Parameters  *JSONSchema
	// Write marks handlers with side effects. Read handlers are free of side
	// effects and safe to retry at will.
	Write bool
	// Tags name the cache tags a successful write invalidates.
	Tags    []string
	Handler Handler
}

// Registry maps tool names to descriptors. It is immutable after startup.
type Registry struct {
	cache   *cache.Cache
	byName  map[string]*Descriptor
	ordered []*Descriptor
}

// NewRegistry creates an empty registry over the given downstream cache.
func NewRegistry(c *cache.Cache) *Registry {
	return &Registry{
		cache:  c,
		byName: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor. Names must be unique.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return errors.New("descriptor requires a name")
	}
	if d.Handler == nil {
		return errors.Errorf("tool %s has no handler", d.Name)
	}
	if _, exists := r.byName[d.Name]; exists {
		return errors.Errorf("tool %s already registered", d.Name)
	}
	r.byName[d.Name] = d
	r.ordered = append(r.ordered, d)
	return nil
}

// MustRegister panics on registration failure; used during startup wiring
// where a duplicate name is a programming error.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the descriptor for a name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Cache exposes the downstream cache handlers read through.
func (r *Registry) Cache() *cache.Cache {
	return r.cache
}

// Descriptors returns the tool schemas handed verbatim to the LLM provider,
// in registration order.
func (r *Registry) Descriptors() []llm.ToolDescriptor {
	out := make([]llm.ToolDescriptor, len(r.ordered))
	for i, d := range r.ordered {
		out[i] = llm.ToolDescriptor{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters.String(),
		}
	}
	return out
}

// Execute validates args and runs the named handler. After a successful
// write, every cache entry carrying one of the descriptor's tags is removed
// before the result is returned, so the next read observes fresh data.
// Transient failures of a write are retried silently once; the natural-key
// idempotency of write handlers makes the retry safe.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownTool, name)
	}
	if err := ValidateArgs(name, args, d.Parameters); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := d.Handler(ctx, args)
	if err != nil && d.Write && isTransient(err) {
		turnctx.Incr(ctx, turnctx.CounterSilentRetry)
		slog.Warn("tools: transient write failure, retrying once", "tool", name, "error", err)
		result, err = d.Handler(ctx, args)
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	slog.Debug("tools: handler executed",
		"tool", name,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err != nil {
		return nil, err
	}

	if d.Write && r.cache != nil && len(d.Tags) > 0 {
		r.cache.Invalidate(d.Tags...)
	}
	return result, nil
}

func isTransient(err error) bool {
	return errors.Is(err, accounting.ErrUnavailable) || errors.Is(err, recordstore.ErrUnavailable)
}

// stringArg returns the trimmed string value of an argument.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// numberArg returns the numeric value of an argument.
func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
