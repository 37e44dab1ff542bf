package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/auth"
	"github.com/meerkat-chat/meerkat/internal/backend"
)

// MessagesHandler serves read receipts.
type MessagesHandler struct {
	store  *backend.Store
	logger *slog.Logger
}

func NewMessagesHandler(log *slog.Logger, store *backend.Store) *MessagesHandler {
	return &MessagesHandler{
		store:  store,
		logger: log.With(slog.String("handler", "messages")),
	}
}

func (h *MessagesHandler) Register(e *echo.Echo) {
	group := e.Group("/messages")
	group.GET("/unread/:id", h.Unread)
	group.POST("/setRecentRead", h.SetRecentRead)
}

func (h *MessagesHandler) Unread(c echo.Context) error {
	messageID := strings.TrimSpace(c.Param("id"))
	if messageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message id is required")
	}
	users, err := h.store.Unread(messageID)
	if err != nil {
		return httpError(err)
	}
	return ok(c, users)
}

func (h *MessagesHandler) SetRecentRead(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req api.SetRecentReadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ChatroomID <= 0 || strings.TrimSpace(req.MessageID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chatroomId and messageId are required")
	}
	if !h.store.IsMember(req.ChatroomID, userID) {
		return echo.NewHTTPError(http.StatusForbidden, "not a member of this chatroom")
	}
	if err := h.store.SetRecentRead(userID, req.ChatroomID, req.MessageID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
