package draft

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/ehr/orderconsole/internal/domain/consent"
	"github.com/ehr/orderconsole/internal/domain/coverage"
	"github.com/ehr/orderconsole/internal/domain/recommend"
	"github.com/ehr/orderconsole/internal/platform/auth"
)

type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/drafts", auth.RequireRole("physician", "nurse"))
	g.POST("", h.CreateDraft)
	g.GET("/:id", h.GetDraft)
	g.DELETE("/:id", h.DiscardDraft)
	g.PUT("/:id/patient", h.SetPatient)
	g.GET("/:id/summary", h.GetCheckout)

	g.POST("/:id/items", h.AddItem)
	g.DELETE("/:id/items/:name", h.RemoveItem)
	g.DELETE("/:id/items", h.ClearItems)

	g.POST("/:id/consents/:itemId/request", h.RequestConsent)
	g.POST("/:id/coverage", h.VerifyCoverage)

	g.POST("/:id/analysis", h.StartAnalysis)
	g.POST("/:id/answers", h.Answer)
	g.POST("/:id/skip", h.Skip)
	g.GET("/:id/recommendations", h.GetRecommendations)

	g.POST("/:id/finalize", h.Finalize, auth.RequireRole("physician"))

	// Called by the signing service as well as the console.
	api.POST("/drafts/:id/consents/:itemId/signed", h.SignalSigned, auth.RequireRole("physician", "nurse", "signer"))
}

func httpError(err error) error {
	var incomplete *ConsentIncompleteError
	switch {
	case errors.As(err, &incomplete):
		return echo.NewHTTPError(http.StatusConflict, map[string]any{
			"code":    "consent_incomplete",
			"message": incomplete.Error(),
			"items":   incomplete.Items,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "draft not found")
	case errors.Is(err, ErrNotInCart), errors.Is(err, consent.ErrNoRecord):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrMissingPatient):
		return echo.NewHTTPError(http.StatusConflict, map[string]any{"code": "missing_patient", "message": err.Error()})
	case errors.Is(err, ErrEmptyCart):
		return echo.NewHTTPError(http.StatusConflict, map[string]any{"code": "empty_cart", "message": err.Error()})
	case errors.Is(err, recommend.ErrNotAsking),
		errors.Is(err, recommend.ErrAlreadyAnswered),
		errors.Is(err, ErrVerificationInProgress),
		errors.Is(err, consent.ErrNotRequesting),
		errors.Is(err, consent.ErrRequestMismatch):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPatientIDRequired),
		errors.Is(err, ErrInvalidRouting),
		errors.Is(err, ErrUnknownRecommendation),
		errors.Is(err, ErrConsentNotRequired),
		errors.Is(err, recommend.ErrUnknownQuestion),
		errors.Is(err, recommend.ErrInvalidAnswer):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) session(c echo.Context) (*Session, error) {
	s, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		return nil, httpError(err)
	}
	return s, nil
}

type createRequest struct {
	Patient *Patient `json:"patient"`
}

func (h *Handler) CreateDraft(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s, err := h.mgr.Create(req.Patient)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, s.Summary())
}

func (h *Handler) GetDraft(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Summary())
}

func (h *Handler) DiscardDraft(c echo.Context) error {
	if err := h.mgr.Discard(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetPatient(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.SetPatient(p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s.Summary())
}

func (h *Handler) GetCheckout(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Checkout())
}

type addItemRequest struct {
	Name             string `json:"name"`
	Dosage           string `json:"dosage"`
	RecommendationID string `json:"recommendation_id"`
}

// AddItem adds a catalog name or an offered recommendation. Adding an item
// already in the cart answers 200 with the existing entry.
func (h *Handler) AddItem(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req addItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var added bool
	var entry any
	switch {
	case req.RecommendationID != "":
		e, ok, err := s.Accept(req.RecommendationID)
		if err != nil {
			return httpError(err)
		}
		entry, added = e, ok
	case req.Name != "":
		e, ok := s.Add(req.Name, req.Dosage)
		entry, added = e, ok
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "name or recommendation_id is required")
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]any{"entry": entry, "added": added, "draft": s.Summary()})
}

func (h *Handler) RemoveItem(c echo.Context) error {
	name, err := url.PathUnescape(c.Param("name"))
	if err != nil {
		name = c.Param("name")
	}
	removed, err := h.mgr.RemoveItem(c.Param("id"), name)
	if err != nil {
		return httpError(err)
	}
	if !removed {
		return httpError(ErrNotInCart)
	}
	return c.NoContent(http.StatusNoContent)
}

// ClearItems empties the cart, or with ?recommendation_id= removes only the
// item that recommendation added.
func (h *Handler) ClearItems(c echo.Context) error {
	if recID := c.QueryParam("recommendation_id"); recID != "" {
		removed, err := h.mgr.DismissRecommendation(c.Param("id"), recID)
		if err != nil {
			return httpError(err)
		}
		if !removed {
			return httpError(ErrNotInCart)
		}
		return c.NoContent(http.StatusNoContent)
	}
	if err := h.mgr.Clear(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RequestConsent(c echo.Context) error {
	rec, err := h.mgr.RequestConsent(c.Param("id"), c.Param("itemId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, rec)
}

type signedRequest struct {
	RequestID string `json:"request_id"`
}

func (h *Handler) SignalSigned(c echo.Context) error {
	var req signedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.mgr.SignalSigned(c.Param("id"), c.Param("itemId"), req.RequestID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type coverageRequest struct {
	Profile string `json:"profile"`
}

func (h *Handler) VerifyCoverage(c echo.Context) error {
	var req coverageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	profile, err := coverage.ParseProfile(req.Profile)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err := h.mgr.VerifyCoverage(c.Param("id"), profile); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "verifying"})
}

func (h *Handler) StartAnalysis(c echo.Context) error {
	started, err := h.mgr.StartAnalysis(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"started": started})
}

type answerRequest struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

func (h *Handler) Answer(c echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	recs, completed, err := h.mgr.Answer(c.Param("id"), req.QuestionID, req.Answer)
	if err != nil {
		return httpError(err)
	}
	if recs == nil {
		recs = []recommend.Recommendation{}
	}
	return c.JSON(http.StatusOK, map[string]any{"recommendations": recs, "completed": completed})
}

func (h *Handler) Skip(c echo.Context) error {
	recs, err := h.mgr.Skip(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"recommendations": recs})
}

func (h *Handler) GetRecommendations(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Recommendation())
}

func (h *Handler) Finalize(c echo.Context) error {
	var in FinalizeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.mgr.Finalize(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}
