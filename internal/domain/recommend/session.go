// Package recommend implements the question driven recommendation flow: a
// fixed battery of clinical questions whose answers deterministically map to
// suggested catalog items.
package recommend

import (
	"errors"
	"fmt"

	"github.com/ehr/orderconsole/internal/domain/catalog"
)

type State string

const (
	StateIdle            State = "idle"
	StateQuestions       State = "questions"
	StateRecommendations State = "recommendations"
)

var (
	ErrNotAsking       = errors.New("recommendation session is not asking questions")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrInvalidAnswer   = errors.New("answer is not one of the allowed options")
	ErrAlreadyAnswered = errors.New("question already answered")
)

// Recommendation is an offered catalog item. It becomes part of the order
// only when added to the cart.
type Recommendation struct {
	ID         string           `json:"id"`
	QuestionID string           `json:"question_id,omitempty"`
	Answer     string           `json:"answer,omitempty"`
	Name       string           `json:"name"`
	Category   catalog.Category `json:"category"`
	Rationale  string           `json:"rationale"`
	Code       *string          `json:"code,omitempty"`
	Dosage     *string          `json:"dosage,omitempty"`
}

// Session is one pass through idle, questions and recommendations. It is not
// safe for concurrent use.
type Session struct {
	rules     *RuleSet
	state     State
	analyzing bool
	questions []Question
	answers   map[string]string
	recs      []Recommendation
	skipped   bool
}

func NewSession(rules *RuleSet) *Session {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &Session{rules: rules, state: StateIdle, answers: map[string]string{}}
}

func (s *Session) State() State    { return s.state }
func (s *Session) Analyzing() bool { return s.analyzing }
func (s *Session) Skipped() bool   { return s.skipped }

func (s *Session) Questions() []Question {
	out := make([]Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// StartAnalysis marks an analysis as in flight. It reports false when the
// session has already left idle or an analysis is running.
func (s *Session) StartAnalysis() bool {
	if s.state != StateIdle || s.analyzing {
		return false
	}
	s.analyzing = true
	return true
}

func (s *Session) CancelAnalysis() { s.analyzing = false }

// CompleteAnalysis loads the question battery and enters the questions state.
// Completions without a matching StartAnalysis are ignored.
func (s *Session) CompleteAnalysis() bool {
	if !s.analyzing || s.state != StateIdle {
		return false
	}
	s.analyzing = false
	s.questions = s.rules.Questions()
	s.state = StateQuestions
	return true
}

// Answer records value for questionID and returns the recommendations the
// answer produced. completed is true when this answer finished the battery.
func (s *Session) Answer(questionID, value string) (emitted []Recommendation, completed bool, err error) {
	if s.state != StateQuestions {
		return nil, false, ErrNotAsking
	}
	q, ok := s.rules.question(questionID)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if !q.allows(value) {
		return nil, false, fmt.Errorf("%w: %q for %s", ErrInvalidAnswer, value, questionID)
	}
	if _, done := s.answers[questionID]; done {
		return nil, false, fmt.Errorf("%w: %s", ErrAlreadyAnswered, questionID)
	}

	if r, ok := s.rules.lookup(questionID, value); ok {
		emitted = expand(questionID, value, r)
	}
	s.answers[questionID] = value
	s.recs = append(s.recs, emitted...)

	if s.allAnswered() {
		s.state = StateRecommendations
		completed = true
	}
	return emitted, completed, nil
}

// Skip ends questioning and replaces any per-answer recommendations with the
// default set.
func (s *Session) Skip() ([]Recommendation, error) {
	if s.state != StateQuestions {
		return nil, ErrNotAsking
	}
	s.recs = expand("", "", s.rules.defaults)
	s.skipped = true
	s.state = StateRecommendations
	return s.Recommendations(), nil
}

// allAnswered compares the answered ids against the battery as sets.
func (s *Session) allAnswered() bool {
	if len(s.answers) != len(s.questions) {
		return false
	}
	for _, q := range s.questions {
		if _, ok := s.answers[q.ID]; !ok {
			return false
		}
	}
	return true
}

func (s *Session) Answers() map[string]string {
	out := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// Pending lists the questions not yet answered, in battery order.
func (s *Session) Pending() []Question {
	if s.state != StateQuestions {
		return nil
	}
	var out []Question
	for _, q := range s.questions {
		if _, ok := s.answers[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}

func (s *Session) Recommendations() []Recommendation {
	out := make([]Recommendation, len(s.recs))
	copy(out, s.recs)
	return out
}

// Reset returns the session to idle, dropping answers and recommendations.
func (s *Session) Reset() {
	s.state = StateIdle
	s.analyzing = false
	s.questions = nil
	s.answers = map[string]string{}
	s.recs = nil
	s.skipped = false
}

func expand(questionID, answer string, r Rule) []Recommendation {
	prefix := questionID
	if prefix == "" {
		prefix = "default"
	}
	out := make([]Recommendation, 0, len(r.Suggestions))
	for i, sg := range r.Suggestions {
		out = append(out, Recommendation{
			ID:         fmt.Sprintf("%s:%d", prefix, i),
			QuestionID: questionID,
			Answer:     answer,
			Name:       sg.Name,
			Category:   sg.Category,
			Rationale:  r.Rationale,
			Code:       sg.Code,
			Dosage:     sg.Dosage,
		})
	}
	return out
}
