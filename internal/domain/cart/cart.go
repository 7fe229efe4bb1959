// Package cart holds the working set of items for an order being drafted.
//
// The cart is a set: entries are keyed by catalog id when the name resolves
// and by normalized name otherwise, so adding an item twice is a no-op.
package cart

import (
	"github.com/ehr/orderconsole/internal/domain/catalog"
)

// Entry is one selected item. Item is nil when the name did not resolve
// against the catalog.
type Entry struct {
	Key      string           `json:"key"`
	Name     string           `json:"name"`
	Category catalog.Category `json:"category"`
	Item     *catalog.Item    `json:"-"`
}

// ItemID returns the catalog id, or "" for unresolved entries.
func (e Entry) ItemID() string {
	if e.Item == nil {
		return ""
	}
	return e.Item.ID
}

// Price contributes zero for unresolved entries.
func (e Entry) Price() int64 {
	if e.Item == nil {
		return 0
	}
	return e.Item.Price
}

func (e Entry) RequiresConsent() bool {
	return e.Item != nil && e.Item.RequiresConsent
}

// Group is the entries of one category in insertion order.
type Group struct {
	Category catalog.Category `json:"category"`
	Entries  []Entry          `json:"entries"`
}

type Cart struct {
	catalog  catalog.Provider
	entries  []Entry
	index    map[string]int
	revision uint64
}

func New(p catalog.Provider) *Cart {
	return &Cart{catalog: p, index: make(map[string]int)}
}

func (c *Cart) resolve(name string) Entry {
	if it, ok := c.catalog.Lookup(name); ok {
		return Entry{Key: it.ID, Name: it.Name, Category: it.Category, Item: it}
	}
	return Entry{Key: "name:" + catalog.NormalizeName(name), Name: name, Category: catalog.CategoryOther}
}

// Add appends name unless it is already present. The returned entry is the
// one held by the cart in either case.
func (c *Cart) Add(name string) (Entry, bool) {
	e := c.resolve(name)
	if i, ok := c.index[e.Key]; ok {
		return c.entries[i], false
	}
	c.index[e.Key] = len(c.entries)
	c.entries = append(c.entries, e)
	c.revision++
	return e, true
}

// Remove deletes name from the cart and reports the removed entry.
func (c *Cart) Remove(name string) (Entry, bool) {
	e := c.resolve(name)
	i, ok := c.index[e.Key]
	if !ok {
		return Entry{}, false
	}
	removed := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	delete(c.index, e.Key)
	for j := i; j < len(c.entries); j++ {
		c.index[c.entries[j].Key] = j
	}
	c.revision++
	return removed, true
}

// Clear empties the cart and returns what was removed.
func (c *Cart) Clear() []Entry {
	removed := c.entries
	c.entries = nil
	c.index = make(map[string]int)
	if len(removed) > 0 {
		c.revision++
	}
	return removed
}

func (c *Cart) Contains(name string) bool {
	_, ok := c.index[c.resolve(name).Key]
	return ok
}

// Get returns the entry held under name's key.
func (c *Cart) Get(name string) (Entry, bool) {
	i, ok := c.index[c.resolve(name).Key]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Entries returns a copy of the cart in insertion order.
func (c *Cart) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Cart) Len() int { return len(c.entries) }

// Revision increases on every mutation that changes membership.
func (c *Cart) Revision() uint64 { return c.revision }

// Total sums catalog prices; unresolved entries contribute zero.
func (c *Cart) Total() int64 {
	var total int64
	for _, e := range c.entries {
		total += e.Price()
	}
	return total
}

// Groups partitions the cart into the catalog display order followed by an
// "other" bucket for unresolved names. All five groups are always present.
func (c *Cart) Groups() []Group {
	return GroupEntries(c.entries)
}

// GroupEntries partitions entries by their stored category.
func GroupEntries(entries []Entry) []Group {
	order := append(append([]catalog.Category{}, catalog.DisplayOrder...), catalog.CategoryOther)
	pos := make(map[catalog.Category]int, len(order))
	groups := make([]Group, len(order))
	for i, cat := range order {
		pos[cat] = i
		groups[i] = Group{Category: cat, Entries: []Entry{}}
	}
	for _, e := range entries {
		i, ok := pos[e.Category]
		if !ok {
			i = pos[catalog.CategoryOther]
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	return groups
}
