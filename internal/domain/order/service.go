// Package order is the ledger of finalized orders and their prescriptions,
// with the status lifecycle applied after creation.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/orderconsole/internal/platform/metrics"
)

type Service struct {
	ledger Ledger
	now    func() time.Time
}

func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger, now: time.Now}
}

// Record validates a new order and appends it with its optional prescription.
func (s *Service) Record(ctx context.Context, o *Order, rx *Prescription) error {
	if strings.TrimSpace(o.PatientID) == "" {
		return fmt.Errorf("patient_id is required")
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("order must contain at least one item")
	}
	if o.Status == "" {
		o.Status = StatusPendingPayment
	}
	if o.Status != StatusPendingPayment {
		return fmt.Errorf("new orders must be %s, got %s", StatusPendingPayment, o.Status)
	}
	if o.SurgicalRouting != nil {
		if err := o.SurgicalRouting.Validate(); err != nil {
			return err
		}
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now().UTC()
	}
	o.UpdatedAt = o.CreatedAt
	o.Total = 0
	for _, li := range o.Items {
		if li.Price < 0 {
			return fmt.Errorf("item %s: price must be non-negative", li.Name)
		}
		o.Total += li.Price
	}
	if rx != nil {
		if rx.ID == uuid.Nil {
			rx.ID = uuid.New()
		}
		rx.OrderID = o.ID
		rx.PatientID = o.PatientID
		rx.CreatedAt = o.CreatedAt
		id := rx.ID
		o.PrescriptionID = &id
	}
	return s.ledger.Append(ctx, o, rx)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.ledger.Get(ctx, id)
}

func (s *Service) GetPrescription(ctx context.Context, orderID uuid.UUID) (*Prescription, error) {
	return s.ledger.GetPrescription(ctx, orderID)
}

// List returns orders most recent first, optionally for one patient.
func (s *Service) List(ctx context.Context, patientID string, limit, offset int) ([]*Order, int, error) {
	if patientID != "" {
		return s.ledger.ListByPatient(ctx, patientID, limit, offset)
	}
	return s.ledger.List(ctx, limit, offset)
}

// Cancel is idempotent: cancelling a cancelled order returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Order, bool, error) {
	o, changed, err := s.transition(ctx, id, StatusCancelled)
	if changed {
		metrics.OrdersCancelled.Inc()
	}
	return o, changed, err
}

// MarkOrdered records payment confirmation for a pending-payment order.
func (s *Service) MarkOrdered(ctx context.Context, id uuid.UUID) (*Order, bool, error) {
	return s.transition(ctx, id, StatusOrdered)
}

const maxTransitionAttempts = 3

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status) (*Order, bool, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		o, err := s.ledger.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if o.Status == to {
			return o, false, nil
		}
		if !o.Status.CanTransition(to) {
			return o, false, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, to)
		}
		err = s.ledger.UpdateStatus(ctx, id, o.Status, to, s.now().UTC())
		if errors.Is(err, ErrStatusChanged) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		o, err = s.ledger.Get(ctx, id)
		return o, err == nil, err
	}
	return nil, false, ErrStatusChanged
}

func (s *Service) Groups(ctx context.Context, id uuid.UUID) ([]Group, error) {
	o, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.Groups(), nil
}

func (s *Service) CalendarInvite(ctx context.Context, id uuid.UUID) (string, error) {
	o, err := s.ledger.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return CalendarInvite(o, s.now().UTC()), nil
}
