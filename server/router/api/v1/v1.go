// Package v1 exposes the JSON API: token issuance, chat turns, and
// conversation history.
package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/ledgerdesk/ai/conversation"
	"github.com/hrygo/ledgerdesk/internal/profile"
	"github.com/hrygo/ledgerdesk/server/auth"
	"github.com/hrygo/ledgerdesk/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Engine  *conversation.Engine
	Secret  string
}

func NewAPIV1Service(secret string, profile *profile.Profile, store *store.Store, engine *conversation.Engine) *APIV1Service {
	return &APIV1Service{
		Secret:  secret,
		Profile: profile,
		Store:   store,
		Engine:  engine,
	}
}

// Register mounts the v1 routes. Everything under /api/v1 except token
// issuance requires a bearer token when a secret is configured.
func (s *APIV1Service) Register(root *echo.Echo) {
	apiGroup := root.Group("/api/v1")
	apiGroup.POST("/auth/token", s.IssueToken)

	protected := root.Group("/api/v1", s.authMiddleware)
	protected.POST("/chat", s.Chat)
	protected.GET("/conversations", s.ListConversations)
	protected.GET("/conversations/:uid/turns", s.ListTurns)
	protected.DELETE("/conversations/:uid", s.DeleteConversation)
}

type issueTokenRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// IssueToken exchanges the instance secret for a signed access token.
func (s *APIV1Service) IssueToken(c echo.Context) error {
	var req issueTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if s.Secret == "" {
		return echo.NewHTTPError(http.StatusNotFound, "authentication is not configured")
	}
	if req.Secret != s.Secret {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid secret")
	}
	if req.Name == "" {
		req.Name = "operator"
	}

	expiresAt := time.Now().Add(auth.AccessTokenDuration)
	token, err := auth.GenerateAccessToken(req.Name, expiresAt, []byte(s.Secret))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue token")
	}
	return c.JSON(http.StatusOK, issueTokenResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Unix(),
	})
}

// authMiddleware verifies the bearer token. With no secret configured
// the API runs open, which is only sensible for local development.
func (s *APIV1Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Secret == "" {
			return next(c)
		}
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
		}
		claims, err := auth.ParseAccessToken(token, []byte(s.Secret))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
		}
		c.Set("username", claims.Name)
		return next(c)
	}
}
