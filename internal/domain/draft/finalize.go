package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/orderconsole/internal/domain/cart"
	"github.com/ehr/orderconsole/internal/domain/catalog"
	"github.com/ehr/orderconsole/internal/domain/consent"
	"github.com/ehr/orderconsole/internal/domain/order"
)

var (
	ErrMissingPatient    = errors.New("no patient selected")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrConsentIncomplete = errors.New("consent incomplete")
	ErrInvalidRouting    = errors.New("invalid surgical routing")
)

// ConsentIncompleteError names the consent-required items that are not signed.
type ConsentIncompleteError struct {
	Items []consent.Record
}

func (e *ConsentIncompleteError) Error() string {
	names := make([]string, len(e.Items))
	for i, r := range e.Items {
		names[i] = fmt.Sprintf("%s (%s)", r.ItemName, r.State)
	}
	return "consent not signed for: " + strings.Join(names, ", ")
}

func (e *ConsentIncompleteError) Unwrap() error { return ErrConsentIncomplete }

// Recorder appends a finalized order and its prescription to the ledger.
type Recorder interface {
	Record(ctx context.Context, o *order.Order, rx *order.Prescription) error
}

type FinalizeInput struct {
	Timeframe       string                 `json:"timeframe"`
	Notes           string                 `json:"notes"`
	SurgicalRouting *order.SurgicalRouting `json:"surgical_routing,omitempty"`
}

type Finalized struct {
	Order        *order.Order        `json:"order"`
	Prescription *order.Prescription `json:"prescription,omitempty"`
}

// Finalize turns the draft into an order. Preconditions are checked in order
// and the first failure is returned. Nothing in the session changes unless
// the ledger accepted the order.
func (s *Session) Finalize(ctx context.Context, in FinalizeInput, rec Recorder, dosing order.DosingPolicy) (*Finalized, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discarded() {
		return nil, ErrNotFound
	}
	if s.patient == nil {
		return nil, ErrMissingPatient
	}
	entries := s.cart.Entries()
	if len(entries) == 0 {
		return nil, ErrEmptyCart
	}
	if blocking := s.unsignedLocked(entries); len(blocking) > 0 {
		return nil, &ConsentIncompleteError{Items: blocking}
	}

	if in.SurgicalRouting != nil {
		r := *in.SurgicalRouting
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRouting, err)
		}
		in.SurgicalRouting = &r
	}

	o, rx := s.buildLocked(entries, in, dosing)
	if err := rec.Record(ctx, o, rx); err != nil {
		return nil, fmt.Errorf("record order: %w", err)
	}

	s.clearLocked()
	s.recs.Reset()
	s.analysisGen++
	s.coverage = nil
	return &Finalized{Order: o, Prescription: rx}, nil
}

func (s *Session) unsignedLocked(entries []cart.Entry) []consent.Record {
	var out []consent.Record
	for _, e := range entries {
		if !e.RequiresConsent() {
			continue
		}
		r, ok := s.consents.Get(e.ItemID())
		if !ok {
			r = consent.Record{ItemID: e.ItemID(), ItemName: e.Name, State: consent.StatePending}
		}
		if !r.Signed() {
			out = append(out, r)
		}
	}
	return out
}

func (s *Session) buildLocked(entries []cart.Entry, in FinalizeInput, dosing order.DosingPolicy) (*order.Order, *order.Prescription) {
	o := &order.Order{
		PatientID:   s.patient.ID,
		PatientName: s.patient.Name,
		Items:       make([]order.LineItem, 0, len(entries)),
		Timeframe:   strings.TrimSpace(in.Timeframe),
		Notes:       strings.TrimSpace(in.Notes),
	}
	if in.SurgicalRouting != nil {
		r := *in.SurgicalRouting
		o.SurgicalRouting = &r
	}

	rx := &order.Prescription{Notes: o.Notes}
	for _, e := range entries {
		li := order.LineItem{ItemID: e.ItemID(), Name: e.Name, Category: e.Category, Price: e.Price()}
		o.Items = append(o.Items, li)

		switch e.Category {
		case catalog.CategoryMedicine:
			rx.Medications = append(rx.Medications, dosing.MedicationLine(li, e.Item, s.dosages[e.Key]))
		case catalog.CategoryDiagnosis:
			d := order.DiagnosisLine{ItemID: li.ItemID, Name: li.Name}
			if e.Item != nil && e.Item.Code != nil {
				d.Code = *e.Item.Code
			}
			rx.Diagnoses = append(rx.Diagnoses, d)
		}
	}
	if len(rx.Medications) == 0 {
		return o, nil
	}
	return o, rx
}
