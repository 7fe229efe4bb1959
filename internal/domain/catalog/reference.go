package catalog

import (
	"fmt"
	"strings"
)

// Provider is the read-only catalog lookup consumed by the order composer.
// Lookups never fail on unknown names; they report a miss instead.
type Provider interface {
	Lookup(name string) (*Item, bool)
	LookupID(id string) (*Item, bool)
	Search(query string, category Category) []*Item
}

// Reference is an in-memory, immutable catalog. It is safe for concurrent
// reads because nothing mutates it after NewReference returns.
type Reference struct {
	items  []*Item
	byID   map[string]*Item
	byName map[string]*Item
}

// NewReference validates and indexes items. Ids and normalized names must be unique.
func NewReference(items []Item) (*Reference, error) {
	r := &Reference{
		items:  make([]*Item, 0, len(items)),
		byID:   make(map[string]*Item, len(items)),
		byName: make(map[string]*Item, len(items)),
	}
	for i := range items {
		it := items[i]
		if err := it.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[it.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog id: %s", it.ID)
		}
		key := NormalizeName(it.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("duplicate catalog name: %s", it.Name)
		}
		r.items = append(r.items, &it)
		r.byID[it.ID] = &it
		r.byName[key] = &it
	}
	return r, nil
}

func (r *Reference) Lookup(name string) (*Item, bool) {
	it, ok := r.byName[NormalizeName(name)]
	return it, ok
}

func (r *Reference) LookupID(id string) (*Item, bool) {
	it, ok := r.byID[id]
	return it, ok
}

// Search matches query case-insensitively against name and code. An empty
// category searches all categories; an empty query matches everything.
// Results keep catalog order.
func (r *Reference) Search(query string, category Category) []*Item {
	q := NormalizeName(query)
	var out []*Item
	for _, it := range r.items {
		if category != "" && it.Category != category {
			continue
		}
		if q != "" && !matches(it, q) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func matches(it *Item, q string) bool {
	if strings.Contains(NormalizeName(it.Name), q) {
		return true
	}
	return it.Code != nil && strings.Contains(strings.ToLower(*it.Code), q)
}

// Items returns every item in catalog order.
func (r *Reference) Items() []*Item {
	out := make([]*Item, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Reference) Len() int { return len(r.items) }
