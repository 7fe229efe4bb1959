package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/orderconsole/internal/domain/catalog"
)

type Status string

const (
	StatusPendingPayment Status = "pending-payment"
	StatusOrdered        Status = "ordered"
	StatusCancelled      Status = "cancelled"
)

var validTransitions = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusOrdered: true, StatusCancelled: true},
	StatusOrdered:        {StatusCancelled: true},
}

func (s Status) CanTransition(to Status) bool {
	return validTransitions[s][to]
}

var validUrgencies = map[string]bool{
	"routine": true, "urgent": true, "emergent": true,
}

// LineItem is one ordered item. Category is recorded at finalize time;
// rows written without one are classified from the name on read.
type LineItem struct {
	ItemID   string           `db:"item_id" json:"item_id,omitempty"`
	Name     string           `db:"name" json:"name"`
	Category catalog.Category `db:"category" json:"category,omitempty"`
	Price    int64            `db:"price" json:"price"`
}

func (li LineItem) ResolvedCategory() catalog.Category {
	if li.Category != "" {
		return li.Category
	}
	return Classify(li.Name)
}

type SurgicalRouting struct {
	Facility   string `json:"facility"`
	Department string `json:"department"`
	Urgency    string `json:"urgency"`
}

// Validate checks the routing and defaults the urgency to routine.
func (r *SurgicalRouting) Validate() error {
	if r.Facility == "" || r.Department == "" {
		return fmt.Errorf("surgical routing needs facility and department")
	}
	if r.Urgency == "" {
		r.Urgency = "routine"
	}
	if !validUrgencies[r.Urgency] {
		return fmt.Errorf("invalid surgical urgency: %s", r.Urgency)
	}
	return nil
}

// Order maps to the clinical_order table. Apart from its status it never
// changes after creation.
type Order struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	PatientID       string           `db:"patient_id" json:"patient_id"`
	PatientName     string           `db:"patient_name" json:"patient_name"`
	Items           []LineItem       `db:"-" json:"items"`
	Total           int64            `db:"total" json:"total"`
	Status          Status           `db:"status" json:"status"`
	Timeframe       string           `db:"timeframe" json:"timeframe,omitempty"`
	Notes           string           `db:"notes" json:"notes,omitempty"`
	SurgicalRouting *SurgicalRouting `db:"surgical_routing" json:"surgical_routing,omitempty"`
	PrescriptionID  *uuid.UUID       `db:"prescription_id" json:"prescription_id,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
	OrderedAt       *time.Time       `db:"ordered_at" json:"ordered_at,omitempty"`
	CancelledAt     *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

func (o *Order) Names() []string {
	out := make([]string, len(o.Items))
	for i, li := range o.Items {
		out[i] = li.Name
	}
	return out
}

func (o *Order) clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.SurgicalRouting != nil {
		r := *o.SurgicalRouting
		c.SurgicalRouting = &r
	}
	return &c
}

// Group is the line items of one category, in order.
type Group struct {
	Category catalog.Category `json:"category"`
	Items    []LineItem       `json:"items"`
}

// Groups partitions the line items in display order with a trailing other
// bucket. Empty categories are kept so the shape is stable.
func (o *Order) Groups() []Group {
	order := append(append([]catalog.Category(nil), catalog.DisplayOrder...), catalog.CategoryOther)
	idx := make(map[catalog.Category]int, len(order))
	groups := make([]Group, len(order))
	for i, c := range order {
		idx[c] = i
		groups[i] = Group{Category: c, Items: []LineItem{}}
	}
	for _, li := range o.Items {
		i, ok := idx[li.ResolvedCategory()]
		if !ok {
			i = idx[catalog.CategoryOther]
		}
		groups[i].Items = append(groups[i].Items, li)
	}
	return groups
}

type MedicationLine struct {
	ItemID       string `json:"item_id,omitempty"`
	Name         string `json:"name"`
	Form         string `json:"form"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions"`
}

type DiagnosisLine struct {
	ItemID string `json:"item_id,omitempty"`
	Code   string `json:"code,omitempty"`
	Name   string `json:"name"`
}

// Prescription is created with its order from the medicine and diagnosis
// lines and is never mutated.
type Prescription struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	OrderID     uuid.UUID        `db:"order_id" json:"order_id"`
	PatientID   string           `db:"patient_id" json:"patient_id"`
	Medications []MedicationLine `db:"medications" json:"medications"`
	Diagnoses   []DiagnosisLine  `db:"diagnoses" json:"diagnoses"`
	Notes       string           `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

func (rx *Prescription) clone() *Prescription {
	c := *rx
	c.Medications = append([]MedicationLine(nil), rx.Medications...)
	c.Diagnoses = append([]DiagnosisLine(nil), rx.Diagnoses...)
	return &c
}

// DosingPolicy supplies medication line defaults when neither the accepted
// recommendation nor the catalog carries dosage text.
type DosingPolicy struct {
	DefaultLine     string
	DefaultQuantity int
	DefaultForm     string
}

var DefaultDosingPolicy = DosingPolicy{
	DefaultLine:     "Take as directed by the prescribing physician",
	DefaultQuantity: 30,
	DefaultForm:     "tablet",
}

// MedicationLine builds the prescription line for a medicine. dosage is the
// dosage text chosen while drafting, if any.
func (p DosingPolicy) MedicationLine(li LineItem, item *catalog.Item, dosage string) MedicationLine {
	line := MedicationLine{
		ItemID:       li.ItemID,
		Name:         li.Name,
		Form:         p.DefaultForm,
		Quantity:     p.DefaultQuantity,
		Instructions: dosage,
	}
	if item != nil {
		if item.Form != nil && *item.Form != "" {
			line.Form = *item.Form
		}
		if line.Instructions == "" && item.Dosage != nil {
			line.Instructions = *item.Dosage
		}
	}
	if line.Instructions == "" {
		line.Instructions = p.DefaultLine
	}
	return line
}
