// Package draft is the order being composed: one cart, its consent records,
// a recommendation session and the last coverage check, all mutated through
// the Session aggregate.
package draft

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/orderconsole/internal/domain/cart"
	"github.com/ehr/orderconsole/internal/domain/catalog"
	"github.com/ehr/orderconsole/internal/domain/consent"
	"github.com/ehr/orderconsole/internal/domain/coverage"
	"github.com/ehr/orderconsole/internal/domain/recommend"
)

var (
	ErrNotFound               = errors.New("draft not found")
	ErrPatientIDRequired      = errors.New("patient id is required")
	ErrUnknownRecommendation  = errors.New("unknown recommendation")
	ErrNotInCart              = errors.New("item is not in the cart")
	ErrConsentNotRequired     = errors.New("item does not require consent")
	ErrVerificationInProgress = errors.New("coverage verification already in progress")
)

// Patient is the identity supplied by the patient directory. Contact is the
// phone number or email used for consent requests.
type Patient struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
}

// CoverageState is the last verified coverage and the cart revision it was
// computed for.
type CoverageState struct {
	Result   coverage.Result `json:"result"`
	Revision uint64          `json:"revision"`
}

// Session is one drafting session. All methods are safe for concurrent use;
// async completions are applied under the same lock and dropped once the
// session is discarded.
type Session struct {
	mu sync.Mutex

	id        string
	patient   *Patient
	cart      *cart.Cart
	consents  *consent.Tracker
	recs      *recommend.Session
	coverage  *CoverageState
	verifying bool
	dosages   map[string]string
	open      bool

	analysisGen uint64
	createdAt   time.Time
	touchedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(p catalog.Provider, rules *recommend.RuleSet, now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        uuid.New().String(),
		cart:      cart.New(p),
		consents:  consent.NewTracker(),
		recs:      recommend.NewSession(rules),
		dosages:   make(map[string]string),
		createdAt: now,
		touchedAt: now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Session) ID() string { return s.id }

// Done is closed when the session is discarded.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) discarded() bool { return s.ctx.Err() != nil }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchedAt = now
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchedAt
}

// SetPatient selects the patient the order is for.
func (s *Session) SetPatient(p Patient) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return ErrPatientIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patient = &p
	return nil
}

// Add puts name in the cart. Consent-required items get a pending consent
// record. dosage, when set, is kept for the prescription line.
func (s *Session) Add(name, dosage string) (cart.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(name, dosage)
}

func (s *Session) addLocked(name, dosage string) (cart.Entry, bool) {
	e, added := s.cart.Add(name)
	if !added {
		return e, false
	}
	if e.RequiresConsent() {
		s.consents.Track(e.ItemID(), e.Name)
	}
	if dosage = strings.TrimSpace(dosage); dosage != "" {
		s.dosages[e.Key] = dosage
	}
	s.open = true
	return e, true
}

// Accept adds the recommendation with the given id through the same path as
// a manual add.
func (s *Session) Accept(recID string) (cart.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs.Recommendations() {
		if r.ID != recID {
			continue
		}
		var dosage string
		if r.Dosage != nil {
			dosage = *r.Dosage
		}
		e, added := s.addLocked(r.Name, dosage)
		return e, added, nil
	}
	return cart.Entry{}, false, ErrUnknownRecommendation
}

// Dismiss removes the item a recommendation added.
func (s *Session) Dismiss(recID string) (removed bool, closed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs.Recommendations() {
		if r.ID == recID {
			removed, closed = s.removeLocked(r.Name)
			return removed, closed, nil
		}
	}
	return false, false, ErrUnknownRecommendation
}

// Remove drops name and its consent record. closed reports that the cart
// became empty, which closes the drafting surface.
func (s *Session) Remove(name string) (removed bool, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Session) removeLocked(name string) (bool, bool) {
	e, ok := s.cart.Remove(name)
	if !ok {
		return false, false
	}
	if id := e.ItemID(); id != "" {
		s.consents.Discard(id)
	}
	delete(s.dosages, e.Key)
	if s.cart.Len() == 0 {
		s.open = false
		return true, true
	}
	return true, false
}

// Clear empties the cart and all consent records and closes the surface.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Session) clearLocked() {
	s.cart.Clear()
	s.consents.Reset()
	s.dosages = make(map[string]string)
	s.open = false
}

// Coverage returns the last verification and whether it still matches the
// cart.
func (s *Session) Coverage() (*CoverageState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coverageLocked()
}

func (s *Session) coverageLocked() (*CoverageState, bool) {
	if s.coverage == nil {
		return nil, false
	}
	c := *s.coverage
	return &c, c.Revision == s.cart.Revision()
}

// beginVerification marks a verification in flight and returns the total and
// revision to verify.
func (s *Session) beginVerification() (total int64, revision uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verifying {
		return 0, 0, ErrVerificationInProgress
	}
	s.verifying = true
	return s.cart.Total(), s.cart.Revision(), nil
}

func (s *Session) finishVerification(res *coverage.Result, revision uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifying = false
	if res == nil || s.discarded() {
		return false
	}
	s.coverage = &CoverageState{Result: *res, Revision: revision}
	return true
}

// Summary is the read model of a session.
type Summary struct {
	ID              string             `json:"id"`
	Patient         *Patient           `json:"patient,omitempty"`
	Open            bool               `json:"open"`
	Groups          []cart.Group       `json:"groups"`
	Total           int64              `json:"total"`
	Revision        uint64             `json:"revision"`
	Consents        []consent.Record   `json:"consents"`
	Coverage        *CoverageState     `json:"coverage,omitempty"`
	CoverageCurrent bool               `json:"coverage_current"`
	Verifying       bool               `json:"verifying"`
	Recommendation  RecommendationView `json:"recommendation"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// RecommendationView is the recommendation session as the console sees it.
type RecommendationView struct {
	State           recommend.State            `json:"state"`
	Analyzing       bool                       `json:"analyzing"`
	Skipped         bool                       `json:"skipped"`
	Pending         []recommend.Question       `json:"pending"`
	Answers         map[string]string          `json:"answers"`
	Recommendations []OfferedRecommendation    `json:"recommendations"`
}

// OfferedRecommendation is offered for adding, or for removal once InCart.
type OfferedRecommendation struct {
	recommend.Recommendation
	InCart bool `json:"in_cart"`
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	cov, current := s.coverageLocked()
	sum := Summary{
		ID:              s.id,
		Open:            s.open,
		Groups:          s.cart.Groups(),
		Total:           s.cart.Total(),
		Revision:        s.cart.Revision(),
		Consents:        s.consents.Records(),
		Coverage:        cov,
		CoverageCurrent: current,
		Verifying:       s.verifying,
		Recommendation:  s.recommendationLocked(),
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.touchedAt,
	}
	if s.patient != nil {
		p := *s.patient
		sum.Patient = &p
	}
	return sum
}

func (s *Session) Recommendation() RecommendationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recommendationLocked()
}

func (s *Session) recommendationLocked() RecommendationView {
	recs := s.recs.Recommendations()
	offered := make([]OfferedRecommendation, len(recs))
	for i, r := range recs {
		offered[i] = OfferedRecommendation{Recommendation: r, InCart: s.cart.Contains(r.Name)}
	}
	return RecommendationView{
		State:           s.recs.State(),
		Analyzing:       s.recs.Analyzing(),
		Skipped:         s.recs.Skipped(),
		Pending:         s.recs.Pending(),
		Answers:         s.recs.Answers(),
		Recommendations: offered,
	}
}

// startAnalysis returns the generation the completion must present.
func (s *Session) startAnalysis() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recs.StartAnalysis() {
		return 0, false
	}
	s.analysisGen++
	return s.analysisGen, true
}

func (s *Session) completeAnalysis(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discarded() || gen != s.analysisGen {
		return false
	}
	return s.recs.CompleteAnalysis()
}

func (s *Session) cancelAnalysis(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.analysisGen {
		s.recs.CancelAnalysis()
	}
}

// Answer applies one answer. The emitted recommendations and the state change
// are applied together under the session lock.
func (s *Session) Answer(questionID, value string) ([]recommend.Recommendation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs.Answer(questionID, value)
}

func (s *Session) Skip() ([]recommend.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs.Skip()
}

// requestConsent moves the item's record to requesting and builds the
// outbound request. changed is false when a request is already outstanding
// or the item is signed.
func (s *Session) requestConsent(itemID string) (consent.Record, consent.SignatureRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents.Get(itemID); !ok {
		if s.hasItemLocked(itemID) {
			return consent.Record{}, consent.SignatureRequest{}, false, ErrConsentNotRequired
		}
		return consent.Record{}, consent.SignatureRequest{}, false, ErrNotInCart
	}
	rec, changed, err := s.consents.Request(itemID)
	if err != nil || !changed {
		return rec, consent.SignatureRequest{}, false, err
	}
	req := consent.SignatureRequest{
		DraftID:   s.id,
		ItemID:    rec.ItemID,
		ItemName:  rec.ItemName,
		RequestID: rec.RequestID,
	}
	if s.patient != nil {
		req.PatientID = s.patient.ID
		req.PatientName = s.patient.Name
		req.Recipient = s.patient.Contact
	}
	return rec, req, true, nil
}

func (s *Session) hasItemLocked(itemID string) bool {
	for _, e := range s.cart.Entries() {
		if e.ItemID() == itemID {
			return true
		}
	}
	return false
}

// sign completes the outstanding request for itemID. A discarded session
// reports ErrNotFound so late callbacks are dropped.
func (s *Session) sign(itemID, requestID string) (consent.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discarded() {
		return consent.Record{}, false, ErrNotFound
	}
	return s.consents.Sign(itemID, requestID)
}

func (s *Session) expireConsent(itemID, requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discarded() {
		return false
	}
	return s.consents.Expire(itemID, requestID)
}

func (s *Session) Consents() []consent.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consents.Records()
}

// Checkout is the pre-finalize view: what the order costs and what still
// blocks it.
// Checkout is the summary shown before finalizing: the grouped cart with its
// consents, plus what still blocks the order.
type Checkout struct {
	Groups          []cart.Group     `json:"groups"`
	Total           int64            `json:"total"`
	Coverage        *CoverageState   `json:"coverage,omitempty"`
	CoverageCurrent bool             `json:"coverage_current"`
	Consents        []consent.Record `json:"consents"`
	PatientSelected bool             `json:"patient_selected"`
	Blocking        []consent.Record `json:"blocking"`
	Ready           bool             `json:"ready"`
}

func (s *Session) Checkout() Checkout {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.cart.Entries()
	cov, current := s.coverageLocked()
	blocking := s.unsignedLocked(entries)
	if blocking == nil {
		blocking = []consent.Record{}
	}
	return Checkout{
		Groups:          s.cart.Groups(),
		Total:           s.cart.Total(),
		Coverage:        cov,
		CoverageCurrent: current,
		Consents:        s.consents.Records(),
		PatientSelected: s.patient != nil,
		Blocking:        blocking,
		Ready:           s.patient != nil && len(entries) > 0 && len(blocking) == 0,
	}
}
