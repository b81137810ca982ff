package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ledgerdesk/accounting"
	"github.com/hrygo/ledgerdesk/ai/assembler"
	"github.com/hrygo/ledgerdesk/ai/cache"
	"github.com/hrygo/ledgerdesk/ai/conversation"
	"github.com/hrygo/ledgerdesk/ai/llm"
	"github.com/hrygo/ledgerdesk/ai/tools"
	"github.com/hrygo/ledgerdesk/internal/profile"
	"github.com/hrygo/ledgerdesk/recordstore"
	"github.com/hrygo/ledgerdesk/store"
	"github.com/hrygo/ledgerdesk/store/db/sqlite"
)

// canned is an llm.Service always answering with the same content.
type canned struct {
	reply string
}

func (c *canned) Chat(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	return c.reply, &llm.CallStats{}, nil
}

func (c *canned) ChatWithTools(ctx context.Context, messages []llm.Message, descriptors []llm.ToolDescriptor) (*llm.ChatResponse, *llm.CallStats, error) {
	return &llm.ChatResponse{Content: c.reply}, &llm.CallStats{}, nil
}

func newTestService(t *testing.T, secret string) (*APIV1Service, *echo.Echo) {
	t.Helper()

	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "ledgerdesk_test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))

	c := cache.New(time.Minute)
	registry := tools.NewRegistry(c)
	tools.RegisterRecordTools(registry, recordstore.NewMemoryClient())
	tools.RegisterAccountingTools(registry, accounting.NewMemoryClient())
	asm := assembler.New(registry, nil)
	engine := conversation.NewEngine(&canned{reply: "All set."}, registry, asm, conversation.Config{}, nil)

	svc := NewAPIV1Service(secret, p, st, engine)
	e := echo.New()
	svc.Register(e)
	return svc, e
}

func doJSON(e *echo.Echo, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestChatStartsNewConversation(t *testing.T) {
	_, e := newTestService(t, "")

	rec := doJSON(e, http.MethodPost, "/api/v1/chat", "", map[string]any{
		"message": "Show me the active clients",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ConversationUID string `json:"conversation_uid"`
		Reply           string `json:"reply"`
		Diagnostics     struct {
			TurnID string `json:"turn_id"`
			Rounds int    `json:"rounds"`
		} `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ConversationUID)
	assert.Equal(t, "All set.", resp.Reply)
	assert.NotEmpty(t, resp.Diagnostics.TurnID)
	assert.Equal(t, 1, resp.Diagnostics.Rounds)

	// The turn is persisted on the new conversation.
	rec = doJSON(e, http.MethodGet, "/api/v1/conversations/"+resp.ConversationUID+"/turns", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var turns []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turns))
	require.Len(t, turns, 1)
	assert.Equal(t, "Show me the active clients", turns[0]["user_message"])
}

func TestChatContinuesExistingConversation(t *testing.T) {
	_, e := newTestService(t, "")

	rec := doJSON(e, http.MethodPost, "/api/v1/chat", "", map[string]any{"message": "first"})
	require.Equal(t, http.StatusOK, rec.Code)
	var first struct {
		ConversationUID string `json:"conversation_uid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = doJSON(e, http.MethodPost, "/api/v1/chat", "", map[string]any{
		"conversation_uid": first.ConversationUID,
		"message":          "second",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/conversations/"+first.ConversationUID+"/turns", "", nil)
	var turns []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turns))
	assert.Len(t, turns, 2)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	_, e := newTestService(t, "")

	rec := doJSON(e, http.MethodPost, "/api/v1/chat", "", map[string]any{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUnknownConversationIs404(t *testing.T) {
	_, e := newTestService(t, "")

	rec := doJSON(e, http.MethodPost, "/api/v1/chat", "", map[string]any{
		"conversation_uid": "missing",
		"message":          "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteConversation(t *testing.T) {
	_, e := newTestService(t, "")

	rec := doJSON(e, http.MethodPost, "/api/v1/chat", "", map[string]any{"message": "hello"})
	var resp struct {
		ConversationUID string `json:"conversation_uid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = doJSON(e, http.MethodDelete, "/api/v1/conversations/"+resp.ConversationUID, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/conversations/"+resp.ConversationUID+"/turns", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	_, e := newTestService(t, "instance-secret")

	rec := doJSON(e, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/conversations", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenIssuanceAndUse(t *testing.T) {
	_, e := newTestService(t, "instance-secret")

	// Wrong secret is rejected.
	rec := doJSON(e, http.MethodPost, "/api/v1/auth/token", "", map[string]any{"secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/token", "", map[string]any{"secret": "instance-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.AccessToken)

	rec = doJSON(e, http.MethodGet, "/api/v1/conversations", tok.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenEndpointDisabledWithoutSecret(t *testing.T) {
	_, e := newTestService(t, "")

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/token", "", map[string]any{"secret": "anything"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationTitleTruncatesOnRunes(t *testing.T) {
	_, e := newTestService(t, "")

	// 70 multi-byte characters; a byte-wise cut at 64 would split one.
	message := strings.Repeat("预", 70)
	rec := doJSON(e, http.MethodPost, "/api/v1/chat", "", map[string]any{"message": message})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/conversations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []struct {
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, strings.Repeat("预", 64), list[0].Title)
	assert.True(t, utf8.ValidString(list[0].Title))
}

func TestListConversationsNewestFirst(t *testing.T) {
	_, e := newTestService(t, "")

	doJSON(e, http.MethodPost, "/api/v1/chat", "", map[string]any{"message": "first thread"})
	doJSON(e, http.MethodPost, "/api/v1/chat", "", map[string]any{"message": "second thread"})

	rec := doJSON(e, http.MethodGet, "/api/v1/conversations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}
