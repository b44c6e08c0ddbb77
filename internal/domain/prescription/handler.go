package prescription

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rxtrust/rxtrust/internal/platform/auth"
	"github.com/rxtrust/rxtrust/pkg/pagination"
)

// RetryAfterSeconds is advertised on store_unavailable responses.
const RetryAfterSeconds = 2

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the prescription API. scanMW wraps the verify and
// inspect endpoints, typically with rate limiting and idempotency.
func (h *Handler) RegisterRoutes(api *echo.Group, scanMW ...echo.MiddlewareFunc) {
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/prescriptions", h.Create)
	doctor.GET("/prescriptions/issued", h.ListIssued)
	doctor.POST("/prescriptions/:id/signature", h.Sign)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.GET("/prescriptions/patient", h.ListForPatient)

	scan := api.Group("", append([]echo.MiddlewareFunc{auth.RequireRole(auth.RolePharmacy)}, scanMW...)...)
	scan.POST("/prescriptions/verify", h.Verify)
	scan.POST("/prescriptions/inspect", h.Inspect)

	// Access to a single record depends on the caller's relation to it and
	// is decided by the service.
	api.GET("/prescriptions/:id", h.Get)
	api.GET("/prescriptions/:id/token", h.Token)
	api.GET("/prescriptions/:id/qr", h.QR)
	api.GET("/prescriptions/:id/redemptions", h.Redemptions)
}

func callerFrom(c echo.Context) Caller {
	ctx := c.Request().Context()
	return Caller{
		UserID: auth.UserIDFromContext(ctx),
		Email:  auth.EmailFromContext(ctx),
		Roles:  auth.RolesFromContext(ctx),
	}
}

// fail translates a domain error into an HTTP error whose body is the
// Failure.
func (h *Handler) fail(c echo.Context, err error) error {
	f := Classify(err)
	if f.Retryable {
		c.Response().Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	if f.Status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("reason", f.Reason).Msg("prescription request failed")
	}
	return echo.NewHTTPError(f.Status, f)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.Create(c.Request().Context(), callerFrom(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

type signRequest struct {
	Signature Signature `json:"issuer_signature"`
}

func (h *Handler) Sign(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.Sign(c.Request().Context(), callerFrom(c), id, req.Signature)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Get(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Token(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	token, err := h.svc.Token(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) QR(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	size, _ := strconv.Atoi(c.QueryParam("size"))
	png, err := h.svc.QR(c.Request().Context(), callerFrom(c), id, size)
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}

func (h *Handler) Redemptions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Redemptions(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	if items == nil {
		items = []*Redemption{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) ListForPatient(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForPatient(c.Request().Context(), callerFrom(c), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) ListIssued(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListIssued(c.Request().Context(), callerFrom(c), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

// ScanRequest carries the raw string read by the scanner.
type ScanRequest struct {
	Token string `json:"token"`
}

// VerifyResponse is returned on a successful redemption.
type VerifyResponse struct {
	Result       string `json:"result"`
	Prescription *View  `json:"prescription"`
}

func (h *Handler) Verify(c echo.Context) error {
	var req ScanRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, ErrInvalidToken)
	}
	caller := callerFrom(c)
	v, err := h.svc.Verify(c.Request().Context(), req.Token, caller.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, VerifyResponse{Result: "ok", Prescription: v})
}

func (h *Handler) Inspect(c echo.Context) error {
	var req ScanRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, ErrInvalidToken)
	}
	v, err := h.svc.Inspect(c.Request().Context(), req.Token)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, VerifyResponse{Result: "redeemable", Prescription: v})
}
