package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/auth"
	"github.com/meerkat-chat/meerkat/internal/backend"
)

// ChatroomHandler serves room metadata, members, commander and history.
type ChatroomHandler struct {
	store  *backend.Store
	logger *slog.Logger
}

func NewChatroomHandler(log *slog.Logger, store *backend.Store) *ChatroomHandler {
	return &ChatroomHandler{
		store:  store,
		logger: log.With(slog.String("handler", "chatroom")),
	}
}

func (h *ChatroomHandler) Register(e *echo.Echo) {
	group := e.Group("/chatroom")
	group.GET("/:id", h.Get)
	group.GET("/getAllUsersInfo/:id", h.Users)
	group.GET("/commander/:id", h.Commander)
	group.GET("/messages/:id", h.Messages)
}

func (h *ChatroomHandler) member(c echo.Context) (int64, error) {
	chatroomID, err := chatroomIDParam(c)
	if err != nil {
		return 0, err
	}
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return 0, err
	}
	if !h.store.IsMember(chatroomID, userID) {
		if _, err := h.store.Chatroom(chatroomID); err != nil {
			return 0, httpError(err)
		}
		return 0, echo.NewHTTPError(http.StatusForbidden, "not a member of this chatroom")
	}
	return chatroomID, nil
}

func (h *ChatroomHandler) Get(c echo.Context) error {
	chatroomID, err := h.member(c)
	if err != nil {
		return err
	}
	room, err := h.store.Chatroom(chatroomID)
	if err != nil {
		return httpError(err)
	}
	return ok(c, room)
}

func (h *ChatroomHandler) Users(c echo.Context) error {
	chatroomID, err := h.member(c)
	if err != nil {
		return err
	}
	users, err := h.store.Roster(chatroomID)
	if err != nil {
		return httpError(err)
	}
	return ok(c, users)
}

func (h *ChatroomHandler) Commander(c echo.Context) error {
	chatroomID, err := h.member(c)
	if err != nil {
		return err
	}
	commanderID, err := h.store.Commander(chatroomID)
	if err != nil {
		h.logger.Warn("commander lookup failed", slog.Int64("chatroom_id", chatroomID), slog.Any("error", err))
		return httpError(err)
	}
	return ok(c, api.Commander{UserID: commanderID})
}

func (h *ChatroomHandler) Messages(c echo.Context) error {
	chatroomID, err := h.member(c)
	if err != nil {
		return err
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	page, err := h.store.History(chatroomID, c.QueryParam("before"), limit)
	if err != nil {
		return httpError(err)
	}
	return ok(c, page)
}
