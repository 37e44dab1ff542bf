package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/backend"
)

// httpError maps backend errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, backend.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, backend.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func chatroomIDParam(c echo.Context) (int64, error) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid chatroom id")
	}
	return id, nil
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, api.Envelope{Data: data})
}
