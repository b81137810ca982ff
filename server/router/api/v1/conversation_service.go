package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/ledgerdesk/store"
)

type conversationPayload struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	CreatedTs int64  `json:"created_ts"`
	UpdatedTs int64  `json:"updated_ts"`
}

type turnPayload struct {
	UID         string          `json:"uid"`
	UserMessage string          `json:"user_message"`
	Reply       string          `json:"reply"`
	Rounds      int32           `json:"rounds"`
	Capped      bool            `json:"capped"`
	CreatedTs   int64           `json:"created_ts"`
	Diagnostics json.RawMessage `json:"diagnostics,omitempty"`
}

func (s *APIV1Service) ListConversations(c echo.Context) error {
	list, err := s.Store.ListConversations(c.Request().Context(), &store.FindConversation{})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations")
	}
	payload := make([]conversationPayload, 0, len(list))
	for _, conv := range list {
		payload = append(payload, conversationPayload{
			UID:       conv.UID,
			Title:     conv.Title,
			CreatedTs: conv.CreatedTs,
			UpdatedTs: conv.UpdatedTs,
		})
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *APIV1Service) ListTurns(c echo.Context) error {
	uid := c.Param("uid")
	conv, err := s.Store.GetConversation(c.Request().Context(), &store.FindConversation{UID: &uid})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}
	if conv == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	turns, err := s.Store.ListTurns(c.Request().Context(), &store.FindTurn{ConversationID: &conv.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list turns")
	}

	payload := make([]turnPayload, 0, len(turns))
	for _, t := range turns {
		p := turnPayload{
			UID:         t.UID,
			UserMessage: t.UserMessage,
			Reply:       t.Reply,
			Rounds:      t.Rounds,
			Capped:      t.Capped,
			CreatedTs:   t.CreatedTs,
		}
		if json.Valid([]byte(t.Diagnostics)) {
			p.Diagnostics = json.RawMessage(t.Diagnostics)
		}
		payload = append(payload, p)
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *APIV1Service) DeleteConversation(c echo.Context) error {
	uid := c.Param("uid")
	conv, err := s.Store.GetConversation(c.Request().Context(), &store.FindConversation{UID: &uid})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}
	if conv == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err := s.Store.DeleteConversation(c.Request().Context(), &store.DeleteConversation{ID: conv.ID}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete conversation")
	}
	return c.NoContent(http.StatusNoContent)
}
