package catalog

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/orderconsole/internal/platform/auth"
)

type Handler struct {
	catalog Provider
}

func NewHandler(p Provider) *Handler {
	return &Handler{catalog: p}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("physician", "nurse"))
	read.GET("/catalog", h.Search)
	read.GET("/catalog/:id", h.Get)
}

func (h *Handler) Search(c echo.Context) error {
	var category Category
	if v := c.QueryParam("category"); v != "" {
		parsed, err := ParseCategory(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		category = parsed
	}
	items := h.catalog.Search(c.QueryParam("q"), category)
	if items == nil {
		items = []*Item{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	it, ok := h.catalog.LookupID(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "catalog item not found")
	}
	return c.JSON(http.StatusOK, it)
}
