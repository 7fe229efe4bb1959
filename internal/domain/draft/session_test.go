package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/orderconsole/internal/domain/catalog"
	"github.com/ehr/orderconsole/internal/domain/consent"
	"github.com/ehr/orderconsole/internal/domain/coverage"
	"github.com/ehr/orderconsole/internal/domain/order"
)

type recorderFunc func(ctx context.Context, o *order.Order, rx *order.Prescription) error

func (f recorderFunc) Record(ctx context.Context, o *order.Order, rx *order.Prescription) error {
	return f(ctx, o, rx)
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := newSession(catalog.MustDefaultReference(), nil, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	t.Cleanup(s.cancel)
	return s
}

func withPatient(t *testing.T, s *Session) *Session {
	t.Helper()
	require.NoError(t, s.SetPatient(Patient{ID: "p-100", Name: "Jane Doe", Contact: "+15551234567"}))
	return s
}

func newLedger() (*order.Service, order.Ledger) {
	l := order.NewMemoryLedger()
	return order.NewService(l), l
}

func TestFinalize_HappyPath(t *testing.T) {
	s := withPatient(t, newTestSession(t))
	s.Add("TSH", "")
	s.Add("Levothyroxine 50mcg", "")
	svc, ledger := newLedger()

	out, err := s.Finalize(context.Background(), FinalizeInput{Timeframe: "2 weeks", Notes: "fasting"}, svc, order.DefaultDosingPolicy)
	require.NoError(t, err)

	o := out.Order
	assert.Equal(t, order.StatusPendingPayment, o.Status)
	assert.Equal(t, "p-100", o.PatientID)
	assert.Equal(t, []string{"TSH", "Levothyroxine 50mcg"}, o.Names())
	assert.Equal(t, int64(45000+18000), o.Total)
	assert.Equal(t, catalog.CategoryMedicine, o.Items[1].Category)
	assert.Equal(t, "med-levo-50", o.Items[1].ItemID)

	require.NotNil(t, out.Prescription)
	require.Len(t, out.Prescription.Medications, 1)
	med := out.Prescription.Medications[0]
	assert.Equal(t, "Levothyroxine 50mcg", med.Name)
	assert.Equal(t, "tablet", med.Form)
	assert.Equal(t, "Take 1 tablet by mouth every morning on an empty stomach", med.Instructions)
	assert.Equal(t, o.ID, out.Prescription.OrderID)

	sum := s.Summary()
	assert.Zero(t, sum.Total)
	assert.False(t, sum.Open)
	assert.Empty(t, sum.Consents)
	for _, g := range sum.Groups {
		assert.Empty(t, g.Entries)
	}

	stored, err := ledger.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Names(), stored.Names())
}

func TestFinalize_PreconditionOrder(t *testing.T) {
	svc, _ := newLedger()
	s := newTestSession(t)

	_, err := s.Finalize(context.Background(), FinalizeInput{}, svc, order.DefaultDosingPolicy)
	assert.ErrorIs(t, err, ErrMissingPatient, "patient is checked before the cart")

	withPatient(t, s)
	_, err = s.Finalize(context.Background(), FinalizeInput{}, svc, order.DefaultDosingPolicy)
	assert.ErrorIs(t, err, ErrEmptyCart)

	s.Add("HIV Ab/Ag Combo", "")
	s.Add("TSH", "")
	_, err = s.Finalize(context.Background(), FinalizeInput{}, svc, order.DefaultDosingPolicy)
	require.ErrorIs(t, err, ErrConsentIncomplete)

	var incomplete *ConsentIncompleteError
	require.True(t, errors.As(err, &incomplete))
	require.Len(t, incomplete.Items, 1)
	assert.Equal(t, "HIV Ab/Ag Combo", incomplete.Items[0].ItemName)
	assert.Contains(t, err.Error(), "HIV Ab/Ag Combo")
}

func TestFinalize_ConsentBlocksUntilSigned(t *testing.T) {
	s := withPatient(t, newTestSession(t))
	s.Add("HIV Ab/Ag Combo", "")
	svc, _ := newLedger()

	_, err := s.Finalize(context.Background(), FinalizeInput{}, svc, order.DefaultDosingPolicy)
	require.ErrorIs(t, err, ErrConsentIncomplete)

	rec, req, changed, err := s.requestConsent("lab-hiv")
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, consent.StateRequesting, rec.State)
	assert.Equal(t, "+15551234567", req.Recipient)

	_, err = s.Finalize(context.Background(), FinalizeInput{}, svc, order.DefaultDosingPolicy)
	require.ErrorIs(t, err, ErrConsentIncomplete, "requesting is not signed")

	_, _, err = s.sign("lab-hiv", req.RequestID)
	require.NoError(t, err)

	out, err := s.Finalize(context.Background(), FinalizeInput{}, svc, order.DefaultDosingPolicy)
	require.NoError(t, err)
	assert.Equal(t, []string{"HIV Ab/Ag Combo"}, out.Order.Names())
	assert.Nil(t, out.Prescription)
}

func TestFinalize_FailureLeavesDraftUnchanged(t *testing.T) {
	s := withPatient(t, newTestSession(t))
	s.Add("Complete Blood Count", "")
	s.Add("Paracetamol 500mg", "")
	s.Add("HIV Ab/Ag Combo", "")
	_, req, _, _ := s.requestConsent("lab-hiv")
	s.sign("lab-hiv", req.RequestID)
	verifyNow(t, s)
	s.recs.StartAnalysis()
	s.recs.CompleteAnalysis()
	s.recs.Answer("thyroid-symptoms", "Yes")

	before := s.Summary()
	failing := recorderFunc(func(context.Context, *order.Order, *order.Prescription) error {
		return errors.New("ledger unavailable")
	})
	_, err := s.Finalize(context.Background(), FinalizeInput{}, failing, order.DefaultDosingPolicy)
	require.Error(t, err)
	assert.Equal(t, before, s.Summary())

	// Precondition failures leave it untouched too.
	s.Remove("Complete Blood Count")
	s.Add("Colonoscopy", "")
	before = s.Summary()
	_, err = s.Finalize(context.Background(), FinalizeInput{}, failing, order.DefaultDosingPolicy)
	require.ErrorIs(t, err, ErrConsentIncomplete)
	assert.Equal(t, before, s.Summary())
}

// verifyNow stores a public coverage result for the current cart.
func verifyNow(t *testing.T, s *Session) {
	t.Helper()
	total, rev, err := s.beginVerification()
	require.NoError(t, err)
	res, err := coverage.ComputeCoverage(total, coverage.ProfilePublic)
	require.NoError(t, err)
	require.True(t, s.finishVerification(&res, rev))
}

func TestFinalize_DosageSources(t *testing.T) {
	s := withPatient(t, newTestSession(t))
	s.Add("Atorvastatin 20mg", "")
	s.Add("Amoxicillin 500mg", "Take 1 capsule three times daily for 7 days")
	s.Add("E03.9 Hypothyroidism, unspecified", "")
	svc, _ := newLedger()

	policy := order.DosingPolicy{DefaultLine: "Use as instructed", DefaultQuantity: 14, DefaultForm: "tablet"}
	out, err := s.Finalize(context.Background(), FinalizeInput{}, svc, policy)
	require.NoError(t, err)

	meds := out.Prescription.Medications
	require.Len(t, meds, 2)
	assert.Equal(t, "Use as instructed", meds[0].Instructions)
	assert.Equal(t, 14, meds[0].Quantity)
	assert.Equal(t, "Take 1 capsule three times daily for 7 days", meds[1].Instructions)
	assert.Equal(t, "capsule", meds[1].Form)

	require.Len(t, out.Prescription.Diagnoses, 1)
	assert.Equal(t, "E03.9", out.Prescription.Diagnoses[0].Code)
}

func TestFinalize_AcceptedRecommendationCarriesDosage(t *testing.T) {
	s := withPatient(t, newTestSession(t))
	s.recs.StartAnalysis()
	s.recs.CompleteAnalysis()
	recs, _, err := s.Answer("thyroid-symptoms", "Yes")
	require.NoError(t, err)

	var levoID string
	for _, r := range recs {
		if r.Name == "Levothyroxine 50mcg" {
			levoID = r.ID
		}
	}
	require.NotEmpty(t, levoID)
	_, added, err := s.Accept(levoID)
	require.NoError(t, err)
	require.True(t, added)

	_, _, err = s.Accept("nope:0")
	assert.ErrorIs(t, err, ErrUnknownRecommendation)

	svc, _ := newLedger()
	out, err := s.Finalize(context.Background(), FinalizeInput{}, svc, order.DefaultDosingPolicy)
	require.NoError(t, err)
	assert.Equal(t, "Take 1 tablet by mouth every morning, recheck TSH in 6 weeks", out.Prescription.Medications[0].Instructions)
	assert.Equal(t, "idle", string(s.Recommendation().State), "finalize starts a fresh recommendation session")
}

func TestFinalize_SurgicalRouting(t *testing.T) {
	s := withPatient(t, newTestSession(t))
	s.Add("Echocardiogram", "")
	svc, _ := newLedger()

	_, err := s.Finalize(context.Background(), FinalizeInput{SurgicalRouting: &order.SurgicalRouting{Facility: "North"}}, svc, order.DefaultDosingPolicy)
	require.ErrorIs(t, err, ErrInvalidRouting)
	assert.Equal(t, 1, len(s.cart.Entries()))

	out, err := s.Finalize(context.Background(), FinalizeInput{
		SurgicalRouting: &order.SurgicalRouting{Facility: "North", Department: "Cardiology"},
	}, svc, order.DefaultDosingPolicy)
	require.NoError(t, err)
	assert.Equal(t, "routine", out.Order.SurgicalRouting.Urgency)
}

func TestSession_ConsentFollowsCartMembership(t *testing.T) {
	s := newTestSession(t)
	s.Add("HIV Ab/Ag Combo", "")
	s.Add("TSH", "")
	require.Len(t, s.Consents(), 1, "only consent-required items get a record")

	_, req, _, err := s.requestConsent("lab-hiv")
	require.NoError(t, err)

	removed, closed := s.Remove("HIV Ab/Ag Combo")
	assert.True(t, removed)
	assert.False(t, closed)
	assert.Empty(t, s.Consents())

	s.Add("HIV Ab/Ag Combo", "")
	recs := s.Consents()
	require.Len(t, recs, 1)
	assert.Equal(t, consent.StatePending, recs[0].State, "re-added item starts over")

	_, _, err = s.sign("lab-hiv", req.RequestID)
	assert.ErrorIs(t, err, consent.ErrNotRequesting, "signature for the abandoned request is not applied")

	_, _, _, err = s.requestConsent("lab-tsh")
	assert.ErrorIs(t, err, ErrConsentNotRequired)
	_, _, _, err = s.requestConsent("lab-brca")
	assert.ErrorIs(t, err, ErrNotInCart)
}

func TestSession_RemovingLastEntryCloses(t *testing.T) {
	s := newTestSession(t)
	_, added := s.Add("TSH", "")
	require.True(t, added)
	_, added = s.Add("tsh", "")
	assert.False(t, added, "adding the same item twice is a no-op")
	assert.True(t, s.Summary().Open)

	removed, closed := s.Remove("TSH")
	assert.True(t, removed)
	assert.True(t, closed)
	assert.False(t, s.Summary().Open)

	removed, _ = s.Remove("TSH")
	assert.False(t, removed)
}

func TestSession_ClearDropsConsents(t *testing.T) {
	s := newTestSession(t)
	s.Add("HIV Ab/Ag Combo", "")
	s.Add("Colonoscopy", "")
	s.Clear()
	assert.Empty(t, s.Consents())
	assert.Zero(t, s.Summary().Total)
	assert.False(t, s.Summary().Open)
}

func TestSession_CoverageGoesStaleOnMutation(t *testing.T) {
	s := newTestSession(t)
	s.Add("TSH", "")
	verifyNow(t, s)

	cov, current := s.Coverage()
	require.NotNil(t, cov)
	assert.True(t, current)

	s.Add("Free T4", "")
	_, current = s.Coverage()
	assert.False(t, current)

	// Adding an existing item does not change the revision.
	verifyNow(t, s)
	s.Add("TSH", "")
	_, current = s.Coverage()
	assert.True(t, current)
}

func TestSession_CheckoutView(t *testing.T) {
	s := newTestSession(t)
	assert.False(t, s.Checkout().Ready)

	withPatient(t, s)
	s.Add("BRCA1/2 Genetic Panel", "")
	co := s.Checkout()
	assert.False(t, co.Ready)
	require.Len(t, co.Blocking, 1)
	assert.Equal(t, "BRCA1/2 Genetic Panel", co.Blocking[0].ItemName)

	_, req, _, _ := s.requestConsent("lab-brca")
	s.sign("lab-brca", req.RequestID)
	co = s.Checkout()
	assert.True(t, co.Ready)
	assert.Empty(t, co.Blocking)
	assert.Equal(t, int64(2_400_000), co.Total)
	require.Len(t, co.Consents, 1)
	assert.Equal(t, consent.StateSigned, co.Consents[0].State)
	var grouped int
	for _, g := range co.Groups {
		grouped += len(g.Entries)
	}
	assert.Equal(t, 1, grouped)
}

func TestSession_RecommendationsFlagCartMembership(t *testing.T) {
	s := withPatient(t, newTestSession(t))
	s.recs.StartAnalysis()
	s.recs.CompleteAnalysis()
	_, _, err := s.Answer("thyroid-symptoms", "Yes")
	require.NoError(t, err)

	offered := s.Recommendation().Recommendations
	require.NotEmpty(t, offered)
	for _, r := range offered {
		assert.False(t, r.InCart, r.Name)
	}

	picked := offered[0]
	_, added, err := s.Accept(picked.ID)
	require.NoError(t, err)
	require.True(t, added)

	for _, r := range s.Recommendation().Recommendations {
		assert.Equal(t, r.ID == picked.ID, r.InCart, r.Name)
	}
	for _, r := range s.Summary().Recommendation.Recommendations {
		assert.Equal(t, r.ID == picked.ID, r.InCart, r.Name)
	}

	removed, closed, err := s.Dismiss(picked.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, closed)
	assert.False(t, s.Recommendation().Recommendations[0].InCart)

	_, _, err = s.Dismiss("nope:0")
	assert.ErrorIs(t, err, ErrUnknownRecommendation)
}

func TestSession_UnresolvedNamesGroupAsOther(t *testing.T) {
	s := withPatient(t, newTestSession(t))
	s.Add("Vitamin D level", "")
	s.Add("TSH", "")

	sum := s.Summary()
	assert.Equal(t, int64(45000), sum.Total)
	other := sum.Groups[len(sum.Groups)-1]
	assert.Equal(t, catalog.CategoryOther, other.Category)
	require.Len(t, other.Entries, 1)
	assert.Equal(t, "Vitamin D level", other.Entries[0].Name)

	svc, _ := newLedger()
	out, err := s.Finalize(context.Background(), FinalizeInput{}, svc, order.DefaultDosingPolicy)
	require.NoError(t, err)
	assert.Equal(t, "", out.Order.Items[0].ItemID)
	assert.Equal(t, int64(0), out.Order.Items[0].Price)
}
