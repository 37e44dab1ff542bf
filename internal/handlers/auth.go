package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/meerkat-chat/meerkat/internal/auth"
	"github.com/meerkat-chat/meerkat/internal/backend"
)

// AuthHandler issues development tokens and refreshes presented ones.
type AuthHandler struct {
	store     *backend.Store
	logger    *slog.Logger
	jwtSecret string
	expiresIn time.Duration
}

type TokenRequest struct {
	UserID int64 `json:"userId"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
	UserID      int64  `json:"user_id"`
}

func NewAuthHandler(log *slog.Logger, store *backend.Store, jwtSecret string, expiresIn time.Duration) *AuthHandler {
	return &AuthHandler{
		store:     store,
		logger:    log.With(slog.String("handler", "auth")),
		jwtSecret: jwtSecret,
		expiresIn: expiresIn,
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/token", h.Token)
	e.POST("/auth/refresh", h.Refresh)
}

// Token mints a token for any known user. It exists for local development
// only; there is no password check.
func (h *AuthHandler) Token(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !h.store.HasUser(req.UserID) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown user")
	}
	token, expiresAt, err := auth.GenerateToken(req.UserID, h.jwtSecret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logger.Info("token issued", slog.Int64("user_id", req.UserID))
	return c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		UserID:      req.UserID,
	})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	token, expiresAt, err := auth.RefreshTokenFromContext(c, h.jwtSecret, h.expiresIn)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		UserID:      userID,
	})
}
