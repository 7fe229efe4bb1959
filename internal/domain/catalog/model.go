package catalog

import (
	"fmt"
	"strings"
)

// Category is the orderable kind of a catalog item.
type Category string

const (
	CategoryTest      Category = "test"
	CategoryProcedure Category = "procedure"
	CategoryMedicine  Category = "medicine"
	CategoryDiagnosis Category = "diagnosis"
	// CategoryOther holds names that could not be resolved or classified.
	CategoryOther Category = "other"
)

// DisplayOrder is the fixed order in which grouped items are presented.
var DisplayOrder = []Category{CategoryTest, CategoryProcedure, CategoryMedicine, CategoryDiagnosis}

var validCategories = map[Category]bool{
	CategoryTest: true, CategoryProcedure: true, CategoryMedicine: true, CategoryDiagnosis: true,
}

// ParseCategory accepts the four orderable categories. "other" is not orderable.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !validCategories[c] {
		return "", fmt.Errorf("invalid category: %s", s)
	}
	return c, nil
}

// Item maps to the catalog_item table. Items are immutable once loaded.
type Item struct {
	ID              string   `db:"id" json:"id"`
	Name            string   `db:"name" json:"name"`
	Category        Category `db:"category" json:"category"`
	Price           int64    `db:"price" json:"price"`
	RequiresConsent bool     `db:"requires_consent" json:"requires_consent"`
	BodySystem      *string  `db:"body_system" json:"body_system,omitempty"`
	Code            *string  `db:"code" json:"code,omitempty"`
	Form            *string  `db:"form" json:"form,omitempty"`
	Dosage          *string  `db:"dosage" json:"dosage,omitempty"`
}

func (it *Item) validate() error {
	if it.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(it.Name) == "" {
		return fmt.Errorf("item %s: name is required", it.ID)
	}
	if !validCategories[it.Category] {
		return fmt.Errorf("item %s: invalid category: %s", it.ID, it.Category)
	}
	if it.Price < 0 {
		return fmt.Errorf("item %s: price must be non-negative", it.ID)
	}
	return nil
}

// NormalizeName folds a display name into the form used for lookups.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func strPtr(s string) *string { return &s }
