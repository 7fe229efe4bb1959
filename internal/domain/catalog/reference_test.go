package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewReference_DefaultSeed(t *testing.T) {
	r := MustDefaultReference()
	if r.Len() != len(DefaultItems()) {
		t.Fatalf("expected %d items, got %d", len(DefaultItems()), r.Len())
	}
}

func TestNewReference_RejectsDuplicateName(t *testing.T) {
	_, err := NewReference([]Item{
		{ID: "a", Name: "TSH", Category: CategoryTest, Price: 1},
		{ID: "b", Name: "  tsh ", Category: CategoryTest, Price: 1},
	})
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestNewReference_RejectsInvalid(t *testing.T) {
	cases := []Item{
		{ID: "", Name: "X", Category: CategoryTest},
		{ID: "x", Name: " ", Category: CategoryTest},
		{ID: "x", Name: "X", Category: "other"},
		{ID: "x", Name: "X", Category: CategoryTest, Price: -1},
	}
	for _, it := range cases {
		if _, err := NewReference([]Item{it}); err == nil {
			t.Errorf("expected error for %+v", it)
		}
	}
}

func TestLookup_CaseAndSpaceInsensitive(t *testing.T) {
	r := MustDefaultReference()
	it, ok := r.Lookup("  levothyroxine   50MCG ")
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if it.ID != "med-levo-50" {
		t.Errorf("expected med-levo-50, got %s", it.ID)
	}
}

func TestLookup_UnknownIsMiss(t *testing.T) {
	r := MustDefaultReference()
	if _, ok := r.Lookup("Unobtainium assay"); ok {
		t.Error("expected miss for unknown name")
	}
	if _, ok := r.LookupID("nope"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestSearch_FiltersByCategoryAndCode(t *testing.T) {
	r := MustDefaultReference()

	dx := r.Search("e03", CategoryDiagnosis)
	if len(dx) != 1 || dx[0].ID != "dx-e03.9" {
		t.Fatalf("expected hypothyroidism diagnosis, got %v", dx)
	}

	meds := r.Search("", CategoryMedicine)
	for _, m := range meds {
		if m.Category != CategoryMedicine {
			t.Errorf("unexpected category %s for %s", m.Category, m.Name)
		}
	}
	if len(meds) == 0 {
		t.Error("expected medicines in default catalog")
	}
}

func TestParseCategory(t *testing.T) {
	if c, err := ParseCategory(" Procedure "); err != nil || c != CategoryProcedure {
		t.Errorf("expected procedure, got %q %v", c, err)
	}
	if _, err := ParseCategory("other"); err == nil {
		t.Error("expected other to be rejected")
	}
}

func TestHandler_Search(t *testing.T) {
	h := NewHandler(MustDefaultReference())
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog?q=panel&category=test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Search(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Item
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 3 {
		t.Errorf("expected 3 panels, got %d", len(items))
	}
}

func TestHandler_Search_InvalidCategory(t *testing.T) {
	h := NewHandler(MustDefaultReference())
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog?category=toys", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Search(c); err == nil {
		t.Error("expected error for invalid category")
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h := NewHandler(MustDefaultReference())
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	if err := h.Get(c); err == nil {
		t.Error("expected error for unknown id")
	}
}
