package draft

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/ehr/orderconsole/internal/domain/catalog"
	"github.com/ehr/orderconsole/internal/domain/consent"
	"github.com/ehr/orderconsole/internal/domain/coverage"
	"github.com/ehr/orderconsole/internal/domain/order"
	"github.com/ehr/orderconsole/internal/domain/recommend"
	"github.com/ehr/orderconsole/internal/platform/metrics"
	"github.com/ehr/orderconsole/internal/platform/websocket"
)

// Config holds the timings and policies applied to every session.
type Config struct {
	AnalysisDelay  time.Duration
	ConsentTimeout time.Duration
	IdleTTL        time.Duration
	Dosing         order.DosingPolicy
}

// Deps are the collaborators a Manager drives. Signer and Events may be nil.
type Deps struct {
	Catalog     catalog.Provider
	Rules       *recommend.RuleSet
	Orders      Recorder
	Signer      consent.SignatureChannel
	Adjudicator coverage.Adjudicator
	Events      websocket.EventPublisher
	Logger      zerolog.Logger
}

// Manager owns the live sessions and the async work started on their behalf.
// Async work runs under the session's context and stops when it is discarded.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	deps Deps
	cfg  Config
	now  func() time.Time
	wg   sync.WaitGroup
}

func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Rules == nil {
		deps.Rules = recommend.DefaultRuleSet()
	}
	if deps.Adjudicator == nil {
		deps.Adjudicator = coverage.NewRateAdjudicator(coverage.DefaultRates, 0)
	}
	if cfg.Dosing.DefaultLine == "" {
		cfg.Dosing = order.DefaultDosingPolicy
	}
	return &Manager{
		sessions: make(map[string]*Session),
		deps:     deps,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Create opens a new session, optionally for an already selected patient.
func (m *Manager) Create(p *Patient) (*Session, error) {
	s := newSession(m.deps.Catalog, m.deps.Rules, m.now().UTC())
	if p != nil {
		if err := s.SetPatient(*p); err != nil {
			s.cancel()
			return nil, err
		}
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	metrics.DraftsActive.Inc()
	m.deps.Logger.Debug().Str("draft_id", s.id).Msg("draft created")
	return s, nil
}

// Get returns the session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now().UTC())
	return s, nil
}

// Discard removes the session and cancels its pending async work. Late
// completions for it are ignored.
func (m *Manager) Discard(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.cancel()
	metrics.DraftsActive.Dec()
	m.publish(websocket.EventDraftClosed, id, map[string]string{"reason": "discarded"})
	m.deps.Logger.Debug().Str("draft_id", id).Msg("draft discarded")
	return nil
}

func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RemoveItem removes name from the cart; an emptied cart closes the surface.
func (m *Manager) RemoveItem(id, name string) (bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return false, err
	}
	removed, closed := s.Remove(name)
	if closed {
		m.publish(websocket.EventDraftClosed, id, map[string]string{"reason": "empty"})
	}
	return removed, nil
}

// DismissRecommendation removes the cart item added from recID.
func (m *Manager) DismissRecommendation(id, recID string) (bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return false, err
	}
	removed, closed, err := s.Dismiss(recID)
	if err != nil {
		return false, err
	}
	if closed {
		m.publish(websocket.EventDraftClosed, id, map[string]string{"reason": "empty"})
	}
	return removed, nil
}

func (m *Manager) Clear(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Clear()
	m.publish(websocket.EventDraftClosed, id, map[string]string{"reason": "cleared"})
	return nil
}

// StartAnalysis begins the question analysis. It reports false without side
// effects when an analysis is running or the session already left idle.
func (m *Manager) StartAnalysis(id string) (bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return false, err
	}
	gen, ok := s.startAnalysis()
	if !ok {
		return false, nil
	}
	m.async(s, func(ctx context.Context) {
		if !wait(ctx, m.cfg.AnalysisDelay) {
			s.cancelAnalysis(gen)
			return
		}
		if s.completeAnalysis(gen) {
			m.publish(websocket.EventAnalysisComplete, id, s.Recommendation())
		}
	})
	return true, nil
}

// Answer records one answer. Completing the battery publishes an event.
func (m *Manager) Answer(id, questionID, value string) ([]recommend.Recommendation, bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, false, err
	}
	recs, completed, err := s.Answer(questionID, value)
	if completed {
		m.publish(websocket.EventQuestionsCompleted, id, s.Recommendation())
	}
	return recs, completed, err
}

func (m *Manager) Skip(id string) ([]recommend.Recommendation, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	recs, err := s.Skip()
	if err == nil {
		m.publish(websocket.EventQuestionsCompleted, id, s.Recommendation())
	}
	return recs, err
}

// RequestConsent moves the item to requesting and sends the request over the
// signature channel. Re-requesting an outstanding or signed item is a no-op.
func (m *Manager) RequestConsent(id, itemID string) (consent.Record, error) {
	s, err := m.Get(id)
	if err != nil {
		return consent.Record{}, err
	}
	rec, req, changed, err := s.requestConsent(itemID)
	if err != nil || !changed {
		return rec, err
	}
	metrics.ConsentTransitions.WithLabelValues(string(consent.StateRequesting)).Inc()
	m.publish(websocket.EventConsentRequested, id, rec)

	m.async(s, func(ctx context.Context) {
		if m.deps.Signer != nil {
			err := m.deps.Signer.RequestSignature(ctx, req)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return
			case errors.Is(err, consent.ErrNoRecipient):
				// nothing to deliver; the item waits for a signature taken in the console
				m.deps.Logger.Info().Str("draft_id", id).Str("item_id", itemID).Msg("patient has no contact, awaiting in-console signature")
			default:
				m.deps.Logger.Warn().Err(err).Str("draft_id", id).Str("item_id", itemID).Msg("signature request not delivered")
				m.expire(s, itemID, req.RequestID, "delivery_failed")
				return
			}
		}
		if m.cfg.ConsentTimeout <= 0 {
			return
		}
		if wait(ctx, m.cfg.ConsentTimeout) {
			m.expire(s, itemID, req.RequestID, "timeout")
		}
	})
	return rec, nil
}

func (m *Manager) expire(s *Session, itemID, requestID, reason string) {
	if !s.expireConsent(itemID, requestID) {
		return
	}
	metrics.ConsentTransitions.WithLabelValues(string(consent.StatePending)).Inc()
	m.publish(websocket.EventConsentExpired, s.id, map[string]string{
		"item_id":    itemID,
		"request_id": requestID,
		"reason":     reason,
	})
}

// SignalSigned applies a signed event. Events for discarded drafts report
// ErrNotFound; events for a superseded request report a mismatch.
func (m *Manager) SignalSigned(id, itemID, requestID string) (consent.Record, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return consent.Record{}, ErrNotFound
	}
	rec, changed, err := s.sign(itemID, requestID)
	if err != nil {
		return rec, err
	}
	if changed {
		metrics.ConsentTransitions.WithLabelValues(string(consent.StateSigned)).Inc()
		m.publish(websocket.EventConsentSigned, id, rec)
	}
	return rec, nil
}

// VerifyCoverage starts an adjudication of the current total. The result is
// stored with the cart revision it was computed for.
func (m *Manager) VerifyCoverage(id string, profile coverage.Profile) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	total, revision, err := s.beginVerification()
	if err != nil {
		return err
	}
	m.async(s, func(ctx context.Context) {
		res, err := m.deps.Adjudicator.Verify(ctx, total, profile)
		if err != nil {
			s.finishVerification(nil, revision)
			if ctx.Err() == nil {
				m.deps.Logger.Warn().Err(err).Str("draft_id", id).Msg("coverage verification failed")
			}
			return
		}
		if s.finishVerification(&res, revision) {
			m.publish(websocket.EventCoverageVerified, id, CoverageState{Result: res, Revision: revision})
		}
	})
	return nil
}

// Finalize records the draft as an order and clears it.
func (m *Manager) Finalize(ctx context.Context, id string, in FinalizeInput) (*Finalized, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	out, err := s.Finalize(ctx, in, m.deps.Orders, m.cfg.Dosing)
	if err != nil {
		if reason := rejectionReason(err); reason != "" {
			metrics.FinalizeRejections.WithLabelValues(reason).Inc()
		}
		return nil, err
	}
	metrics.OrdersFinalized.Inc()
	m.publish(websocket.EventDraftFinalized, id, map[string]any{
		"order_id": out.Order.ID,
		"total":    out.Order.Total,
	})
	m.deps.Logger.Info().
		Str("draft_id", id).
		Str("order_id", out.Order.ID.String()).
		Int("items", len(out.Order.Items)).
		Bool("prescription", out.Prescription != nil).
		Msg("order finalized")
	return out, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingPatient):
		return "missing_patient"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrConsentIncomplete):
		return "consent_incomplete"
	case errors.Is(err, ErrInvalidRouting):
		return "invalid_routing"
	}
	return ""
}

// Sweep discards sessions idle for longer than the configured TTL.
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if now.Sub(s.idleSince()) > m.cfg.IdleTTL {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if m.Discard(id) == nil {
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval, followed by each extra job.
func (m *Manager) StartSweeper(interval time.Duration, extra ...func()) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.Local)
	_, err := s.Every(interval).Do(func() {
		if n := m.Sweep(m.now().UTC()); n > 0 {
			m.deps.Logger.Info().Int("discarded", n).Msg("swept idle drafts")
		}
		for _, fn := range extra {
			fn()
		}
	})
	if err != nil {
		return nil, err
	}
	s.StartAsync()
	return s, nil
}

// Close discards every session and waits for async work to stop.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Discard(id)
	}
	m.wg.Wait()
}

func (m *Manager) async(s *Session, fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(s.ctx)
	}()
}

func (m *Manager) publish(eventType, id string, payload any) {
	if m.deps.Events == nil {
		return
	}
	ev, err := websocket.NewDraftEvent(eventType, id, payload)
	if err != nil {
		m.deps.Logger.Error().Err(err).Str("type", eventType).Msg("failed to build draft event")
		return
	}
	if err := m.deps.Events.Publish(context.Background(), ev); err != nil {
		m.deps.Logger.Warn().Err(err).Str("type", eventType).Msg("failed to publish draft event")
	}
}

// wait blocks for d or until ctx is done and reports whether d elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
