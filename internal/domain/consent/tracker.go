// Package consent tracks signature state for cart items that cannot be
// ordered without a captured patient signature.
package consent

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StatePending    State = "pending"
	StateRequesting State = "requesting"
	StateSigned     State = "signed"
)

var (
	ErrNoRecord        = errors.New("no consent record for item")
	ErrNotRequesting   = errors.New("consent has not been requested")
	ErrRequestMismatch = errors.New("signature does not match the outstanding request")
)

// Record is the signature state of one consent-required cart item.
type Record struct {
	ItemID      string     `json:"item_id"`
	ItemName    string     `json:"item_name"`
	State       State      `json:"state"`
	RequestID   string     `json:"request_id,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`
}

func (r Record) Signed() bool { return r.State == StateSigned }

// Tracker owns the records for one draft. It is not safe for concurrent use;
// the owning draft serializes access.
type Tracker struct {
	records map[string]*Record
	order   []string
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*Record), now: time.Now}
}

// Track creates a pending record for itemID if none exists.
func (t *Tracker) Track(itemID, name string) Record {
	if r, ok := t.records[itemID]; ok {
		return *r
	}
	r := &Record{ItemID: itemID, ItemName: name, State: StatePending}
	t.records[itemID] = r
	t.order = append(t.order, itemID)
	return *r
}

// Discard drops the record, abandoning any outstanding request.
func (t *Tracker) Discard(itemID string) bool {
	if _, ok := t.records[itemID]; !ok {
		return false
	}
	delete(t.records, itemID)
	for i, id := range t.order {
		if id == itemID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *Tracker) Reset() {
	t.records = make(map[string]*Record)
	t.order = nil
}

// Request moves a pending record to requesting and issues a new request id.
// The bool is false when nothing changed: an outstanding request or an
// existing signature are left as they are.
func (t *Tracker) Request(itemID string) (Record, bool, error) {
	r, ok := t.records[itemID]
	if !ok {
		return Record{}, false, ErrNoRecord
	}
	if r.State != StatePending {
		return *r, false, nil
	}
	now := t.now().UTC()
	r.State = StateRequesting
	r.RequestID = uuid.New().String()
	r.RequestedAt = &now
	return *r, true, nil
}

// Sign completes an outstanding request. An empty requestID accepts whichever
// request is outstanding. Signing an already signed record is a no-op.
func (t *Tracker) Sign(itemID, requestID string) (Record, bool, error) {
	r, ok := t.records[itemID]
	if !ok {
		return Record{}, false, ErrNoRecord
	}
	switch r.State {
	case StateSigned:
		return *r, false, nil
	case StatePending:
		return *r, false, ErrNotRequesting
	}
	if requestID != "" && requestID != r.RequestID {
		return *r, false, ErrRequestMismatch
	}
	now := t.now().UTC()
	r.State = StateSigned
	r.SignedAt = &now
	return *r, true, nil
}

// Expire returns a requesting record to pending so it can be requested again.
// It only applies to the request identified by requestID.
func (t *Tracker) Expire(itemID, requestID string) bool {
	r, ok := t.records[itemID]
	if !ok || r.State != StateRequesting || r.RequestID != requestID {
		return false
	}
	r.State = StatePending
	r.RequestID = ""
	r.RequestedAt = nil
	return true
}

func (t *Tracker) Get(itemID string) (Record, bool) {
	r, ok := t.records[itemID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Records returns all records in the order their items were added.
func (t *Tracker) Records() []Record {
	out := make([]Record, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.records[id])
	}
	return out
}

// Unsigned returns the records still blocking checkout.
func (t *Tracker) Unsigned() []Record {
	var out []Record
	for _, id := range t.order {
		if r := t.records[id]; r.State != StateSigned {
			out = append(out, *r)
		}
	}
	return out
}

func (t *Tracker) Len() int { return len(t.order) }
