package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/orderconsole/internal/domain/catalog"
)

func newTestService() *Service {
	svc := NewService(NewMemoryLedger())
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	svc.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
	return svc
}

func sampleOrder(patientID string) *Order {
	return &Order{
		PatientID:   patientID,
		PatientName: "Ana Souza",
		Items: []LineItem{
			{ItemID: "lab-tsh", Name: "TSH", Category: catalog.CategoryTest, Price: 45000},
			{ItemID: "med-levo-50", Name: "Levothyroxine 50mcg", Category: catalog.CategoryMedicine, Price: 18000},
		},
		Timeframe: "within 2 weeks",
		Notes:     "fasting not required",
	}
}

func TestService_Record(t *testing.T) {
	svc := newTestService()
	o := sampleOrder("p-1")
	rx := &Prescription{Medications: []MedicationLine{{Name: "Levothyroxine 50mcg", Quantity: 30}}}

	if err := svc.Record(context.Background(), o, rx); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if o.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if o.Status != StatusPendingPayment {
		t.Errorf("expected pending-payment, got %s", o.Status)
	}
	if o.Total != 63000 {
		t.Errorf("expected total 63000, got %d", o.Total)
	}
	if o.PrescriptionID == nil || *o.PrescriptionID != rx.ID {
		t.Error("expected prescription to be linked")
	}

	gotRx, err := svc.GetPrescription(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("GetPrescription: %v", err)
	}
	if gotRx.OrderID != o.ID || gotRx.PatientID != "p-1" {
		t.Errorf("unexpected prescription linkage: %+v", gotRx)
	}
}

func TestService_RecordValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if err := svc.Record(ctx, &Order{Items: sampleOrder("x").Items}, nil); err == nil {
		t.Error("expected error for missing patient")
	}
	if err := svc.Record(ctx, &Order{PatientID: "p-1"}, nil); err == nil {
		t.Error("expected error for empty items")
	}
	o := sampleOrder("p-1")
	o.Status = StatusOrdered
	if err := svc.Record(ctx, o, nil); err == nil {
		t.Error("expected error for non-pending initial status")
	}
	o = sampleOrder("p-1")
	o.SurgicalRouting = &SurgicalRouting{Facility: "Main", Department: "General Surgery", Urgency: "whenever"}
	if err := svc.Record(ctx, o, nil); err == nil {
		t.Error("expected error for invalid urgency")
	}
}

func TestService_RecordDefaultsUrgency(t *testing.T) {
	svc := newTestService()
	o := sampleOrder("p-1")
	o.SurgicalRouting = &SurgicalRouting{Facility: "Main", Department: "General Surgery"}
	if err := svc.Record(context.Background(), o, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, _ := svc.Get(context.Background(), o.ID)
	if got.SurgicalRouting == nil || got.SurgicalRouting.Urgency != "routine" {
		t.Errorf("expected routine urgency, got %+v", got.SurgicalRouting)
	}
}

func TestService_CancelIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	o := sampleOrder("p-1")
	svc.Record(ctx, o, nil)

	first, changed, err := svc.Cancel(ctx, o.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !changed || first.Status != StatusCancelled || first.CancelledAt == nil {
		t.Fatalf("expected cancelled order, got %+v", first)
	}

	second, changed, err := svc.Cancel(ctx, o.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if changed {
		t.Error("expected second cancel to be a no-op")
	}
	if !second.CancelledAt.Equal(*first.CancelledAt) || !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("expected second cancel to leave the order unchanged")
	}
}

func TestService_Lifecycle(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	o := sampleOrder("p-1")
	svc.Record(ctx, o, nil)

	paid, changed, err := svc.MarkOrdered(ctx, o.ID)
	if err != nil || !changed || paid.Status != StatusOrdered || paid.OrderedAt == nil {
		t.Fatalf("MarkOrdered: %+v changed=%v err=%v", paid, changed, err)
	}
	if _, changed, _ := svc.MarkOrdered(ctx, o.ID); changed {
		t.Error("expected repeated MarkOrdered to be a no-op")
	}

	if _, _, err := svc.Cancel(ctx, o.ID); err != nil {
		t.Fatalf("cancel ordered: %v", err)
	}
	if _, _, err := svc.MarkOrdered(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestService_CancelNotFound(t *testing.T) {
	svc := newTestService()
	if _, _, err := svc.Cancel(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_ListRecentFirst(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	var ids []uuid.UUID
	for _, p := range []string{"p-1", "p-2", "p-1"} {
		o := sampleOrder(p)
		svc.Record(ctx, o, nil)
		ids = append(ids, o.ID)
	}

	all, total, err := svc.List(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Errorf("expected most recent first, got total=%d", total)
	}

	mine, total, _ := svc.List(ctx, "p-1", 1, 0)
	if total != 2 || len(mine) != 1 || mine[0].ID != ids[2] {
		t.Errorf("unexpected patient page: total=%d len=%d", total, len(mine))
	}
	rest, _, _ := svc.List(ctx, "p-1", 10, 5)
	if len(rest) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(rest))
	}
}

func TestMemoryLedger_ReturnsCopies(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	o := sampleOrder("p-1")
	svc.Record(ctx, o, nil)

	o.Items[0].Name = "mutated"
	got, _ := svc.Get(ctx, o.ID)
	if got.Items[0].Name != "TSH" {
		t.Error("ledger must not share line items with the caller")
	}
	got.Items[0].Name = "mutated again"
	again, _ := svc.Get(ctx, o.ID)
	if again.Items[0].Name != "TSH" {
		t.Error("ledger must not share line items with readers")
	}
}

func TestMemoryLedger_UpdateStatusCompareAndSet(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	o := sampleOrder("p-1")
	o.ID = uuid.New()
	o.Status = StatusPendingPayment
	l.Append(ctx, o, nil)

	if err := l.UpdateStatus(ctx, o.ID, StatusOrdered, StatusCancelled, time.Now()); !errors.Is(err, ErrStatusChanged) {
		t.Errorf("expected ErrStatusChanged, got %v", err)
	}
	if err := l.UpdateStatus(ctx, uuid.New(), StatusPendingPayment, StatusCancelled, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDosingPolicy_MedicationLine(t *testing.T) {
	p := DosingPolicy{DefaultLine: "Use as directed", DefaultQuantity: 14, DefaultForm: "tablet"}
	capsule, catalogDose := "capsule", "Take 1 capsule every 8 hours"
	item := &catalog.Item{ID: "med-amox-500", Name: "Amoxicillin 500mg", Form: &capsule, Dosage: &catalogDose}
	li := LineItem{ItemID: item.ID, Name: item.Name}

	line := p.MedicationLine(li, item, "Take 1 capsule twice daily")
	if line.Instructions != "Take 1 capsule twice daily" || line.Form != "capsule" || line.Quantity != 14 {
		t.Errorf("drafted dosage should win: %+v", line)
	}
	if line := p.MedicationLine(li, item, ""); line.Instructions != catalogDose {
		t.Errorf("expected catalog dosage, got %q", line.Instructions)
	}
	if line := p.MedicationLine(LineItem{Name: "Unlisted syrup"}, nil, ""); line.Instructions != "Use as directed" || line.Form != "tablet" {
		t.Errorf("expected policy defaults, got %+v", line)
	}
}
