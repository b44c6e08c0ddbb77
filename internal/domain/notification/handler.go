package notification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rxtrust/rxtrust/internal/platform/auth"
	"github.com/rxtrust/rxtrust/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the inbox. Every authenticated user owns one, so no
// role is required beyond a valid identity.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.POST("/notifications/read-all", h.MarkAllRead)
	api.POST("/notifications/:id/read", h.MarkRead)
}

func currentOwners(c echo.Context) ([]string, error) {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	if uid == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return Owners(uid, auth.EmailFromContext(ctx)), nil
}

func (h *Handler) List(c echo.Context) error {
	owners, err := currentOwners(c)
	if err != nil {
		return err
	}
	unreadOnly, _ := strconv.ParseBool(c.QueryParam("unread"))
	pg := pagination.FromContext(c)

	ctx := c.Request().Context()
	items, total, err := h.svc.List(ctx, owners, unreadOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load notifications")
	}
	if items == nil {
		items = []*Notification{}
	}
	unread, err := h.svc.UnreadCount(ctx, owners)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load notifications")
	}
	c.Response().Header().Set("X-Unread-Count", strconv.Itoa(unread))
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) MarkRead(c echo.Context) error {
	owners, err := currentOwners(c)
	if err != nil {
		return err
	}
	if err := h.svc.MarkRead(c.Request().Context(), owners, c.Param("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "notification not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update notification")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	owners, err := currentOwners(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), owners)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update notifications")
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}
