// Package conversation runs the multi-round turn loop: classify intent,
// assemble context, let the model decide between answering and calling
// tools, dispatch tool calls, and format the final reply. The loop is an
// explicit state machine with a hard round cap so a confused model can
// never spin a turn forever.
package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/ledgerdesk/ai/assembler"
	"github.com/hrygo/ledgerdesk/ai/intent"
	"github.com/hrygo/ledgerdesk/ai/llm"
	"github.com/hrygo/ledgerdesk/ai/tools"
	"github.com/hrygo/ledgerdesk/internal/turnctx"
)

// State is the loop's position within a turn.
type State int

const (
	StateStart State = iota
	StateAwaitingDecision
	StateDispatching
	StateTerminalSuccess
	StateTerminalCapped
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateDispatching:
		return "dispatching"
	case StateTerminalSuccess:
		return "terminal_success"
	case StateTerminalCapped:
		return "terminal_capped"
	default:
		return "unknown"
	}
}

// DefaultMaxRounds caps model decisions per turn.
const DefaultMaxRounds = 5

const defaultSystemPrompt = `You are LedgerDesk, an assistant for a small contracting business.
You can look up and update business records (clients, projects, permits) and
accounting data (customers, invoices, estimates) through the tools provided.
Use tools when the user asks about or changes business data. Answer directly
when no data is needed. Be concise and state amounts in dollars.`

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	MaxRounds    int
	SystemPrompt string
	// StructuredReply makes the engine demand a JSON object as the final
	// answer and run one repair round when the model's output won't parse.
	StructuredReply bool
}

// Result is one completed turn.
type Result struct {
	Reply       string
	Structured  json.RawMessage
	History     []llm.Message
	Diagnostics Diagnostics
}

// Recorder receives per-turn observations. Satisfied by ai/metrics.
type Recorder interface {
	ObserveTurn(rounds int, capped bool, duration time.Duration)
	ObserveToolCall(name string, err error)
}

// counterRecorder is implemented by recorders that also track the
// collaborator counters collected during a turn.
type counterRecorder interface {
	ObserveTurnCounters(authRefreshes, silentRetries int64)
}

// Engine orchestrates turns against the model and the tool registry.
type Engine struct {
	llm        llm.Service
	registry   *tools.Registry
	assembler  *assembler.Assembler
	classifier *intent.Classifier
	recorder   Recorder
	logger     *slog.Logger
	cfg        Config
}

func NewEngine(svc llm.Service, registry *tools.Registry, asm *assembler.Assembler, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		llm:        svc,
		registry:   registry,
		assembler:  asm,
		classifier: intent.NewClassifier(),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetRecorder attaches a metrics sink. Nil disables recording.
func (e *Engine) SetRecorder(r Recorder) { e.recorder = r }

// HandleTurn runs one user message to completion. history is the prior
// turns of the conversation; the returned History includes this turn's
// user message and final reply but not the intermediate tool traffic.
func (e *Engine) HandleTurn(ctx context.Context, history []llm.Message, userMessage string) (*Result, error) {
	start := time.Now()
	ctx, counters := turnctx.WithCounters(ctx)

	diag := Diagnostics{TurnID: uuid.NewString()}
	logger := e.logger.With("turn_id", diag.TurnID)

	kinds := e.classifier.Classify(userMessage)
	bundle := e.assembler.Assemble(ctx, kinds)
	for _, k := range bundle.Degraded() {
		diag.DegradedKinds = append(diag.DegradedKinds, string(k))
	}
	logger.Debug("turn context assembled",
		"kinds", kinds,
		"degraded", diag.DegradedKinds,
	)

	messages := e.seedMessages(bundle, history, userMessage)

	state := StateStart
	var reply string
	var structured json.RawMessage
	var lastResults []llm.Message
	repaired := false

	for round := 0; round < e.cfg.MaxRounds; round++ {
		state = StateAwaitingDecision
		diag.Rounds = round + 1

		resp, stats, err := e.llm.ChatWithTools(ctx, messages, e.registry.Descriptors())
		if err != nil {
			return e.failTurn(ctx, err, history, userMessage, &diag, start, counters)
		}
		if stats != nil {
			logger.Debug("model decision",
				"round", round+1,
				"tool_calls", len(resp.ToolCalls),
				"tokens", stats.TotalTokens,
			)
		}

		if len(resp.ToolCalls) == 0 {
			if e.cfg.StructuredReply {
				raw, perr := ExtractJSON(resp.Content)
				if perr != nil {
					if !repaired {
						// One repair round: show the model its own output
						// and ask again. A second failure is terminal.
						repaired = true
						messages = append(messages,
							llm.AssistantMessage(resp.Content),
							llm.UserMessage("That response was not valid JSON. Reply again with a single JSON object and nothing else."),
						)
						continue
					}
					return e.failTurn(ctx, ErrParseFailure, history, userMessage, &diag, start, counters)
				}
				structured = raw
			}
			state = StateTerminalSuccess
			reply = resp.Content
			break
		}

		state = StateDispatching
		assistant := llm.AssistantMessage(resp.Content)
		assistant.ToolCalls = resp.ToolCalls
		messages = append(messages, assistant)
		lastResults = e.dispatch(ctx, resp.ToolCalls, &diag, logger)
		messages = append(messages, lastResults...)
		reply = resp.Content
	}

	if state != StateTerminalSuccess {
		state = StateTerminalCapped
		diag.Capped = true
		reply = cappedMessage(reply, lastResults)
		logger.Warn("turn hit round cap", "rounds", diag.Rounds)
	}

	e.finishDiagnostics(&diag, counters, start)
	e.observeTurn(&diag, start)
	logger.Info("turn completed",
		"state", state.String(),
		"rounds", diag.Rounds,
		"tool_calls", diag.ToolCalls,
		"duration_ms", diag.DurationMs,
	)

	return &Result{
		Reply:      reply,
		Structured: structured,
		History: append(append([]llm.Message{}, history...),
			llm.UserMessage(userMessage),
			llm.AssistantMessage(reply),
		),
		Diagnostics: diag,
	}, nil
}

func (e *Engine) seedMessages(bundle *assembler.Bundle, history []llm.Message, userMessage string) []llm.Message {
	prompt := e.cfg.SystemPrompt
	if rendered := bundle.Render(); rendered != "" {
		prompt += "\n\nCurrent business context:\n" + rendered
	}
	if e.cfg.StructuredReply {
		prompt += "\n\nWhen you give your final answer, reply with a single JSON object."
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.SystemPrompt(prompt))
	messages = append(messages, history...)
	return append(messages, llm.UserMessage(userMessage))
}

// dispatch runs one round's tool calls concurrently and returns their
// result messages in the order the model issued the calls. A failing
// tool becomes an error payload the model can react to; it does not end
// the turn.
func (e *Engine) dispatch(ctx context.Context, calls []llm.ToolCall, diag *Diagnostics, logger *slog.Logger) []llm.Message {
	results := make([]llm.Message, len(calls))
	failures := make([]*Category, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			payload, failed := e.executeCall(gctx, call, logger)
			results[i] = llm.ToolResultMessage(call.ID, payload)
			failures[i] = failed
			return nil
		})
	}
	_ = g.Wait()

	// Diagnostics are folded in after the round; the goroutines only write
	// their own slice slots.
	diag.ToolCalls += len(calls)
	for _, cat := range failures {
		if cat != nil {
			diag.recordError(*cat)
		}
	}
	return results
}

// executeCall runs one tool call and returns the result payload, plus the
// error category when the call failed.
func (e *Engine) executeCall(ctx context.Context, call llm.ToolCall, logger *slog.Logger) (string, *Category) {
	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			cat := CategoryValidation
			return errorPayload(cat, "arguments were not valid JSON"), &cat
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	out, err := e.registry.Execute(ctx, call.Function.Name, args)
	if e.recorder != nil {
		e.recorder.ObserveToolCall(call.Function.Name, err)
	}
	if err != nil {
		classified := Classify(err)
		logger.Warn("tool call failed",
			"tool", call.Function.Name,
			"category", classified.Category.String(),
			"error", err,
		)
		return errorPayload(classified.Category, toolErrorHint(classified.Category)), &classified.Category
	}

	raw, err := json.Marshal(out)
	if err != nil {
		cat := CategoryInternal
		return errorPayload(cat, "result could not be serialized"), &cat
	}
	return string(raw), nil
}

// toolErrorHint is what the model sees when a tool fails. Collaborator
// error text stays out of the transcript.
func toolErrorHint(cat Category) string {
	switch cat {
	case CategoryValidation:
		return "the arguments were rejected; check required fields and types"
	case CategoryAuthExpired:
		return "the accounting connection is no longer authorized; tell the user to reconnect"
	case CategoryUnavailable:
		return "the service is unavailable; tell the user to try again later"
	default:
		return "the tool failed; do not retry, tell the user something went wrong"
	}
}

func errorPayload(cat Category, hint string) string {
	raw, _ := json.Marshal(map[string]string{
		"error":    hint,
		"category": cat.String(),
	})
	return string(raw)
}

// failTurn converts an unrecoverable error into a safe reply. The turn
// still returns a Result so the caller can persist it; the classified
// error travels alongside for logging.
func (e *Engine) failTurn(ctx context.Context, err error, history []llm.Message, userMessage string, diag *Diagnostics, start time.Time, counters *turnctx.Counters) (*Result, error) {
	classified := Classify(err)
	diag.recordError(classified.Category)
	e.finishDiagnostics(diag, counters, start)
	e.observeTurn(diag, start)
	e.logger.Error("turn failed",
		"turn_id", diag.TurnID,
		"category", classified.Category.String(),
		"error", err,
	)

	reply := safeReply(classified.Category)
	return &Result{
		Reply: reply,
		History: append(append([]llm.Message{}, history...),
			llm.UserMessage(userMessage),
			llm.AssistantMessage(reply),
		),
		Diagnostics: *diag,
	}, classified
}

func (e *Engine) finishDiagnostics(diag *Diagnostics, counters *turnctx.Counters, start time.Time) {
	diag.AuthRefreshes = counters.Get(turnctx.CounterAuthRefresh)
	diag.SilentRetries = counters.Get(turnctx.CounterSilentRetry)
	diag.DurationMs = time.Since(start).Milliseconds()
}

func (e *Engine) observeTurn(diag *Diagnostics, start time.Time) {
	if e.recorder == nil {
		return
	}
	e.recorder.ObserveTurn(diag.Rounds, diag.Capped, time.Since(start))
	if cr, ok := e.recorder.(counterRecorder); ok {
		cr.ObserveTurnCounters(diag.AuthRefreshes, diag.SilentRetries)
	}
}
