package order

import (
	"regexp"
	"strings"

	"github.com/ehr/orderconsole/internal/domain/catalog"
)

// ICD-10 codes: letter, two digits, optional dotted extension.
var icd10Pattern = regexp.MustCompile(`^[A-TV-Z][0-9][0-9AB](\.[0-9A-TV-Z]{1,4})?(\s|$)`)

var dosePattern = regexp.MustCompile(`\b\d+(\.\d+)?\s?(mg|mcg|g|ml|iu|units?)\b`)

var (
	medicineKeywords  = []string{"tablet", "capsule", "syrup", "injection", "inhaler", "cream", "ointment", "drops"}
	procedureKeywords = []string{"ultrasound", "x-ray", "xray", "mri", "ct scan", "scan", "ecg", "ekg", "electrocardiogram", "echocardiogram", "endoscopy", "colonoscopy", "biopsy", "surgery", "excision", "repair"}
	testKeywords      = []string{"panel", "test", "count", "culture", "level", "tsh", "t4", "hba1c", "troponin", "urinalysis", "protein", "antibody", "ab/ag", "screen", "assay"}
)

// Classify guesses a category from an item name. It only serves line items
// stored without a category.
func Classify(name string) catalog.Category {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return catalog.CategoryOther
	}
	lower := strings.ToLower(trimmed)
	if m := icd10Pattern.FindStringSubmatch(trimmed); m != nil {
		// An undotted code shape also starts names like "B12 Level".
		if m[1] != "" {
			return catalog.CategoryDiagnosis
		}
		if cat := byKeyword(lower); cat != catalog.CategoryOther {
			return cat
		}
		return catalog.CategoryDiagnosis
	}
	return byKeyword(lower)
}

func byKeyword(lower string) catalog.Category {
	if dosePattern.MatchString(lower) || containsAny(lower, medicineKeywords) {
		return catalog.CategoryMedicine
	}
	if containsAny(lower, procedureKeywords) {
		return catalog.CategoryProcedure
	}
	if containsAny(lower, testKeywords) {
		return catalog.CategoryTest
	}
	return catalog.CategoryOther
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
