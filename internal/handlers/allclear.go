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

// AllClearHandler accepts all-clear reports.
type AllClearHandler struct {
	store  *backend.Store
	logger *slog.Logger
}

func NewAllClearHandler(log *slog.Logger, store *backend.Store) *AllClearHandler {
	return &AllClearHandler{
		store:  store,
		logger: log.With(slog.String("handler", "allclear")),
	}
}

func (h *AllClearHandler) Register(e *echo.Echo) {
	e.PUT("/allclear/response/create", h.Create)
}

func (h *AllClearHandler) Create(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req api.AllClearResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.MessageID == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "messageId and content are required")
	}
	switch req.AllClearResponseType {
	case api.AllClearClear, api.AllClearProblem:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid allClearResponseType")
	}
	if err := h.store.SubmitAllClear(userID, req); err != nil {
		h.logger.Warn("all-clear report rejected", slog.String("message_id", req.MessageID), slog.Any("error", err))
		return httpError(err)
	}
	h.logger.Info("all-clear report filed",
		slog.Int64("user_id", userID),
		slog.String("message_id", req.MessageID),
		slog.String("type", string(req.AllClearResponseType)),
	)
	return c.NoContent(http.StatusCreated)
}
