package schedule

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxtrust/rxtrust/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePatient))
	g.GET("/schedule", h.List)
	g.POST("/schedule", h.Add)
	g.POST("/schedule/:id/toggle", h.Toggle)
}

func toHTTP(err error) error {
	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "schedule entry not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "schedule unavailable")
	}
}

func (h *Handler) List(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	items, err := h.svc.List(c.Request().Context(), uid, c.QueryParam("date"))
	if err != nil {
		return toHTTP(err)
	}
	if items == nil {
		items = []*Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"schedule": items})
}

func (h *Handler) Add(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	e, err := h.svc.Add(c.Request().Context(), uid, req)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Toggle(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	e, err := h.svc.Toggle(c.Request().Context(), uid, id)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}
