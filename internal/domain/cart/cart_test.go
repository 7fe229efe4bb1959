package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/orderconsole/internal/domain/catalog"
)

func newTestCart() *Cart {
	return New(catalog.MustDefaultReference())
}

func TestAdd_IsIdempotent(t *testing.T) {
	c := newTestCart()

	first, added := c.Add("TSH")
	require.True(t, added)
	rev := c.Revision()

	second, added := c.Add("tsh")
	assert.False(t, added)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, rev, c.Revision(), "no-op add must not bump revision")
}

func TestAdd_UnknownNameFallsIntoOther(t *testing.T) {
	c := newTestCart()

	e, added := c.Add("Legacy Vitamin Panel")
	require.True(t, added)
	assert.Equal(t, catalog.CategoryOther, e.Category)
	assert.Empty(t, e.ItemID())
	assert.Equal(t, int64(0), c.Total())

	_, added = c.Add("legacy  vitamin panel")
	assert.False(t, added, "unresolved names dedupe on normalized name")
}

func TestRemove(t *testing.T) {
	c := newTestCart()
	c.Add("TSH")
	c.Add("Free T4")
	c.Add("Lipid Panel")

	removed, ok := c.Remove("Free T4")
	require.True(t, ok)
	assert.Equal(t, "lab-ft4", removed.ItemID())
	assert.False(t, c.Contains("Free T4"))
	assert.True(t, c.Contains("Lipid Panel"))

	// index must survive the shift
	e, ok := c.Get("Lipid Panel")
	require.True(t, ok)
	assert.Equal(t, "lab-lipid", e.ItemID())

	_, ok = c.Remove("Free T4")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := newTestCart()
	c.Add("TSH")
	c.Add("Electrocardiogram")

	removed := c.Clear()
	assert.Len(t, removed, 2)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Total())
}

func TestTotal_IndependentOfOperationOrder(t *testing.T) {
	a := newTestCart()
	a.Add("TSH")
	a.Add("Chest X-Ray")
	a.Add("Unknown Thing")
	a.Add("Aspirin 81mg")
	a.Remove("Chest X-Ray")

	b := newTestCart()
	b.Add("Aspirin 81mg")
	b.Add("Unknown Thing")
	b.Add("TSH")

	assert.Equal(t, int64(45000+9000), a.Total())
	assert.Equal(t, a.Total(), b.Total())
}

func TestGroups_FixedOrderAndOtherBucket(t *testing.T) {
	c := newTestCart()
	c.Add("Levothyroxine 50mcg")
	c.Add("Mystery Tonic")
	c.Add("TSH")
	c.Add("E03.9 Hypothyroidism, unspecified")
	c.Add("Thyroid Ultrasound")

	groups := c.Groups()
	require.Len(t, groups, 5)

	want := []catalog.Category{
		catalog.CategoryTest, catalog.CategoryProcedure, catalog.CategoryMedicine,
		catalog.CategoryDiagnosis, catalog.CategoryOther,
	}
	for i, g := range groups {
		assert.Equal(t, want[i], g.Category)
		assert.Len(t, g.Entries, 1, "category %s", g.Category)
	}
	assert.Equal(t, "Mystery Tonic", groups[4].Entries[0].Name)
}

func TestGroups_SameSetSamePartition(t *testing.T) {
	a := newTestCart()
	a.Add("TSH")
	a.Add("Aspirin 81mg")

	b := newTestCart()
	b.Add("Aspirin 81mg")
	b.Add("TSH")

	for i, g := range a.Groups() {
		other := b.Groups()[i]
		assert.Equal(t, g.Category, other.Category)
		assert.ElementsMatch(t, g.Entries, other.Entries)
	}
}
