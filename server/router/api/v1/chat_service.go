package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/ledgerdesk/ai/llm"
	"github.com/hrygo/ledgerdesk/store"
)

// historyTurns caps how many prior exchanges are replayed to the model.
const historyTurns = 10

type chatRequest struct {
	ConversationUID string `json:"conversation_uid"`
	Message         string `json:"message"`
}

type chatResponse struct {
	ConversationUID string                   `json:"conversation_uid"`
	Reply           string                   `json:"reply"`
	Structured      json.RawMessage          `json:"structured,omitempty"`
	Diagnostics     *conversationDiagnostics `json:"diagnostics,omitempty"`
}

type conversationDiagnostics struct {
	TurnID        string   `json:"turn_id"`
	Rounds        int      `json:"rounds"`
	Capped        bool     `json:"capped"`
	ToolCalls     int      `json:"tool_calls"`
	DegradedKinds []string `json:"degraded_kinds,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
}

// Chat runs one turn. A missing conversation_uid starts a new thread.
func (s *APIV1Service) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	ctx := c.Request().Context()
	now := time.Now().Unix()

	conv, err := s.resolveConversation(c, req.ConversationUID, req.Message, now)
	if err != nil {
		return err
	}

	history, err := s.loadHistory(c, conv.ID)
	if err != nil {
		return err
	}

	result, turnErr := s.Engine.HandleTurn(ctx, history, req.Message)
	if result == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "turn produced no result")
	}

	diagJSON, err := json.Marshal(result.Diagnostics)
	if err != nil {
		diagJSON = []byte("{}")
	}
	if _, err := s.Store.CreateTurn(ctx, &store.Turn{
		UID:            result.Diagnostics.TurnID,
		ConversationID: conv.ID,
		UserMessage:    req.Message,
		Reply:          result.Reply,
		Diagnostics:    string(diagJSON),
		Rounds:         int32(result.Diagnostics.Rounds),
		Capped:         result.Diagnostics.Capped,
		CreatedTs:      now,
	}); err != nil {
		slog.Error("failed to persist turn", "conversation", conv.UID, "error", err)
	}
	if _, err := s.Store.UpdateConversation(ctx, &store.UpdateConversation{
		ID:        conv.ID,
		UpdatedTs: &now,
	}); err != nil {
		slog.Warn("failed to touch conversation", "conversation", conv.UID, "error", err)
	}

	if turnErr != nil {
		slog.Error("turn ended with error", "conversation", conv.UID, "error", turnErr)
	}

	return c.JSON(http.StatusOK, chatResponse{
		ConversationUID: conv.UID,
		Reply:           result.Reply,
		Structured:      result.Structured,
		Diagnostics: &conversationDiagnostics{
			TurnID:        result.Diagnostics.TurnID,
			Rounds:        result.Diagnostics.Rounds,
			Capped:        result.Diagnostics.Capped,
			ToolCalls:     result.Diagnostics.ToolCalls,
			DegradedKinds: result.Diagnostics.DegradedKinds,
			DurationMs:    result.Diagnostics.DurationMs,
		},
	})
}

func (s *APIV1Service) resolveConversation(c echo.Context, uid, firstMessage string, now int64) (*store.Conversation, error) {
	ctx := c.Request().Context()
	if uid != "" {
		conv, err := s.Store.GetConversation(ctx, &store.FindConversation{UID: &uid})
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
		}
		if conv == nil {
			return nil, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return conv, nil
	}

	// Truncate on runes so a multi-byte character never gets split.
	title := firstMessage
	if runes := []rune(title); len(runes) > 64 {
		title = string(runes[:64])
	}
	conv, err := s.Store.CreateConversation(ctx, &store.Conversation{
		UID:       shortuuid.New(),
		Title:     title,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
	}
	return conv, nil
}

// loadHistory replays the most recent persisted turns as alternating
// user and assistant messages.
func (s *APIV1Service) loadHistory(c echo.Context, conversationID int32) ([]llm.Message, error) {
	turns, err := s.Store.ListTurns(c.Request().Context(), &store.FindTurn{ConversationID: &conversationID})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load history")
	}
	if len(turns) > historyTurns {
		turns = turns[len(turns)-historyTurns:]
	}
	history := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		history = append(history,
			llm.UserMessage(t.UserMessage),
			llm.AssistantMessage(t.Reply),
		)
	}
	return history, nil
}
