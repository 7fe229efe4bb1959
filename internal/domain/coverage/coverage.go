// Package coverage splits a cart total between the insurance payer and the
// patient.
package coverage

import (
	"context"
	"fmt"
	"time"
)

type Profile string

const (
	ProfilePublic  Profile = "public"
	ProfilePrivate Profile = "private"
)

func ParseProfile(s string) (Profile, error) {
	switch p := Profile(s); p {
	case ProfilePublic, ProfilePrivate:
		return p, nil
	}
	return "", fmt.Errorf("invalid insurance profile: %q", s)
}

// Result is valid only for the total it was computed from.
type Result struct {
	Profile    Profile   `json:"profile"`
	Total      int64     `json:"total"`
	Covered    int64     `json:"covered"`
	PatientPay int64     `json:"patient_pay"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Rates are whole percentages of the total paid by the insurer.
type Rates struct {
	PublicPercent  int64
	PrivatePercent int64
}

// DefaultRates cover 80% for public and 60% for private profiles.
var DefaultRates = Rates{PublicPercent: 80, PrivatePercent: 60}

func (r Rates) Validate() error {
	for _, p := range []int64{r.PublicPercent, r.PrivatePercent} {
		if p < 0 || p > 100 {
			return fmt.Errorf("coverage rate must be between 0 and 100, got %d", p)
		}
	}
	return nil
}

// Compute floors the covered amount; the patient pays the remainder.
func (r Rates) Compute(total int64, profile Profile) (Result, error) {
	if total < 0 {
		return Result{}, fmt.Errorf("total must be non-negative, got %d", total)
	}
	var pct int64
	switch profile {
	case ProfilePublic:
		pct = r.PublicPercent
	case ProfilePrivate:
		pct = r.PrivatePercent
	default:
		return Result{}, fmt.Errorf("invalid insurance profile: %q", profile)
	}
	// split so large totals cannot overflow; still floor(total*pct/100)
	covered := total/100*pct + total%100*pct/100
	return Result{
		Profile:    profile,
		Total:      total,
		Covered:    covered,
		PatientPay: total - covered,
	}, nil
}

// ComputeCoverage applies DefaultRates.
func ComputeCoverage(total int64, profile Profile) (Result, error) {
	return DefaultRates.Compute(total, profile)
}

// Adjudicator verifies coverage for a total. A real insurer integration
// replaces RateAdjudicator behind this interface.
type Adjudicator interface {
	Verify(ctx context.Context, total int64, profile Profile) (Result, error)
}

// RateAdjudicator applies fixed rates after an optional verification delay.
type RateAdjudicator struct {
	Rates Rates
	Delay time.Duration
	Now   func() time.Time
}

func NewRateAdjudicator(rates Rates, delay time.Duration) *RateAdjudicator {
	return &RateAdjudicator{Rates: rates, Delay: delay, Now: time.Now}
}

func (a *RateAdjudicator) Verify(ctx context.Context, total int64, profile Profile) (Result, error) {
	if a.Delay > 0 {
		timer := time.NewTimer(a.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	res, err := a.Rates.Compute(total, profile)
	if err != nil {
		return Result{}, err
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	res.VerifiedAt = now().UTC()
	return res, nil
}
