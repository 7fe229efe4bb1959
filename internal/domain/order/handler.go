package order

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/orderconsole/internal/platform/auth"
	"github.com/ehr/orderconsole/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("physician", "nurse", "billing"))
	read.GET("/orders", h.ListOrders)
	read.GET("/orders/:id", h.GetOrder)
	read.GET("/orders/:id/groups", h.GetGroups)
	read.GET("/orders/:id/prescription", h.GetPrescription)
	read.GET("/orders/:id/calendar.ics", h.GetCalendar)

	api.POST("/orders/:id/cancel", h.CancelOrder, auth.RequireRole("physician"))
	api.POST("/orders/:id/paid", h.MarkPaid, auth.RequireRole("billing"))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStatusChanged):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) ListOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("patient_id"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) GetGroups(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	groups, err := h.svc.Groups(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, groups)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rx, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) GetCalendar(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ics, err := h.svc.CalendarInvite(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set("Content-Disposition", `attachment; filename="order-`+id.String()+`.ics"`)
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(ics))
}

func (h *Handler) CancelOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, _, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, _, err := h.svc.MarkOrdered(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}
