package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrStatusChanged reports a compare-and-set miss on the stored status.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

// Ledger is the durable order store. Append writes an order and its
// prescription as one unit. Listings are most recent first.
type Ledger interface {
	Append(ctx context.Context, o *Order, rx *Prescription) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	GetPrescription(ctx context.Context, orderID uuid.UUID) (*Prescription, error)
	List(ctx context.Context, limit, offset int) ([]*Order, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Order, int, error)
	// UpdateStatus moves id from one status to another, failing with
	// ErrStatusChanged if the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error
}

type memoryLedger struct {
	mu            sync.RWMutex
	orders        []*Order
	byID          map[uuid.UUID]*Order
	prescriptions map[uuid.UUID]*Prescription
}

// NewMemoryLedger keeps orders in process memory. It is used when no
// database is configured.
func NewMemoryLedger() Ledger {
	return &memoryLedger{
		byID:          make(map[uuid.UUID]*Order),
		prescriptions: make(map[uuid.UUID]*Prescription),
	}
}

func (l *memoryLedger) Append(_ context.Context, o *Order, rx *Prescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.byID[o.ID]; dup {
		return errors.New("duplicate order id")
	}
	c := o.clone()
	l.orders = append(l.orders, c)
	l.byID[c.ID] = c
	if rx != nil {
		l.prescriptions[o.ID] = rx.clone()
	}
	return nil
}

func (l *memoryLedger) Get(_ context.Context, id uuid.UUID) (*Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

func (l *memoryLedger) GetPrescription(_ context.Context, orderID uuid.UUID) (*Prescription, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rx, ok := l.prescriptions[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return rx.clone(), nil
}

func (l *memoryLedger) List(ctx context.Context, limit, offset int) ([]*Order, int, error) {
	return l.list(func(*Order) bool { return true }, limit, offset)
}

func (l *memoryLedger) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Order, int, error) {
	return l.list(func(o *Order) bool { return o.PatientID == patientID }, limit, offset)
}

func (l *memoryLedger) list(keep func(*Order) bool, limit, offset int) ([]*Order, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var matched []*Order
	for i := len(l.orders) - 1; i >= 0; i-- {
		if keep(l.orders[i]) {
			matched = append(matched, l.orders[i])
		}
	}
	total := len(matched)
	if offset >= total {
		return []*Order{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Order, 0, end-offset)
	for _, o := range matched[offset:end] {
		out = append(out, o.clone())
	}
	return out, total, nil
}

func (l *memoryLedger) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.byID[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStatusChanged
	}
	applyStatus(o, to, at)
	return nil
}

func applyStatus(o *Order, to Status, at time.Time) {
	o.Status = to
	o.UpdatedAt = at
	switch to {
	case StatusOrdered:
		o.OrderedAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
	}
}
