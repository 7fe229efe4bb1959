package recommend

import (
	"fmt"

	"github.com/ehr/orderconsole/internal/domain/catalog"
)

// Question is one item of the clinical question battery.
type Question struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"prompt"`
	Category string   `json:"category"`
	Options  []string `json:"options"`
}

func (q Question) allows(value string) bool {
	for _, o := range q.Options {
		if o == value {
			return true
		}
	}
	return false
}

// Suggestion is a catalog item a rule proposes.
type Suggestion struct {
	Name     string
	Category catalog.Category
	Code     *string
	Dosage   *string
}

// Rule maps one (question, answer) pair to suggestions sharing a rationale.
type Rule struct {
	QuestionID  string
	Answer      string
	Rationale   string
	Suggestions []Suggestion
}

type ruleKey struct{ question, answer string }

// RuleSet is the immutable question battery plus its answer rules and the
// default set offered when the questions are skipped.
type RuleSet struct {
	questions []Question
	rules     map[ruleKey]Rule
	defaults  Rule
}

// NewRuleSet checks that every rule answers a known question with one of its
// options and that question ids are unique.
func NewRuleSet(questions []Question, rules []Rule, defaults Rule) (*RuleSet, error) {
	rs := &RuleSet{rules: make(map[ruleKey]Rule, len(rules)), defaults: defaults}
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		if q.ID == "" || len(q.Options) == 0 {
			return nil, fmt.Errorf("question %q needs an id and options", q.ID)
		}
		if _, dup := byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id: %s", q.ID)
		}
		byID[q.ID] = q
		rs.questions = append(rs.questions, q)
	}
	for _, r := range rules {
		q, ok := byID[r.QuestionID]
		if !ok {
			return nil, fmt.Errorf("rule references unknown question: %s", r.QuestionID)
		}
		if !q.allows(r.Answer) {
			return nil, fmt.Errorf("rule for %s uses invalid answer: %q", r.QuestionID, r.Answer)
		}
		k := ruleKey{r.QuestionID, r.Answer}
		if _, dup := rs.rules[k]; dup {
			return nil, fmt.Errorf("duplicate rule for %s=%q", r.QuestionID, r.Answer)
		}
		rs.rules[k] = r
	}
	return rs, nil
}

// Questions returns a copy of the battery in presentation order.
func (rs *RuleSet) Questions() []Question {
	out := make([]Question, len(rs.questions))
	copy(out, rs.questions)
	return out
}

func (rs *RuleSet) question(id string) (Question, bool) {
	for _, q := range rs.questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

func (rs *RuleSet) lookup(questionID, answer string) (Rule, bool) {
	r, ok := rs.rules[ruleKey{questionID, answer}]
	return r, ok
}

// Suggestions lists every suggestion the rule set can emit, defaults included.
func (rs *RuleSet) Suggestions() []Suggestion {
	var out []Suggestion
	for _, q := range rs.questions {
		for _, o := range q.Options {
			if r, ok := rs.lookup(q.ID, o); ok {
				out = append(out, r.Suggestions...)
			}
		}
	}
	return append(out, rs.defaults.Suggestions...)
}

func sp(s string) *string { return &s }

var defaultQuestions = []Question{
	{
		ID:       "symptom-duration",
		Prompt:   "How long has the patient had the presenting symptoms?",
		Category: "history",
		Options:  []string{"Less than 1 week", "1 to 4 weeks", "More than 1 month"},
	},
	{
		ID:       "thyroid-symptoms",
		Prompt:   "Is there fatigue, weight gain or cold intolerance?",
		Category: "endocrine",
		Options:  []string{"Yes", "No"},
	},
	{
		ID:       "infection-risk",
		Prompt:   "Any fever or recent high-risk exposure?",
		Category: "infectious",
		Options:  []string{"Fever", "High-risk exposure", "Neither"},
	},
	{
		ID:       "cardiac-symptoms",
		Prompt:   "Does the patient report chest pain or palpitations?",
		Category: "cardiovascular",
		Options:  []string{"Yes", "No"},
	},
}

var defaultRules = []Rule{
	{
		QuestionID: "symptom-duration", Answer: "1 to 4 weeks",
		Rationale: "Subacute symptoms justify a baseline blood count.",
		Suggestions: []Suggestion{
			{Name: "Complete Blood Count", Category: catalog.CategoryTest},
		},
	},
	{
		QuestionID: "symptom-duration", Answer: "More than 1 month",
		Rationale: "Symptoms persisting beyond a month warrant a hematologic and metabolic workup.",
		Suggestions: []Suggestion{
			{Name: "Complete Blood Count", Category: catalog.CategoryTest},
			{Name: "Comprehensive Metabolic Panel", Category: catalog.CategoryTest},
			{Name: "R53.83 Other fatigue", Category: catalog.CategoryDiagnosis, Code: sp("R53.83")},
		},
	},
	{
		QuestionID: "thyroid-symptoms", Answer: "Yes",
		Rationale: "Fatigue with weight gain and cold intolerance suggests hypothyroidism.",
		Suggestions: []Suggestion{
			{Name: "TSH", Category: catalog.CategoryTest},
			{Name: "Free T4", Category: catalog.CategoryTest},
			{Name: "Thyroid Ultrasound", Category: catalog.CategoryProcedure},
			{Name: "Levothyroxine 50mcg", Category: catalog.CategoryMedicine, Dosage: sp("Take 1 tablet by mouth every morning, recheck TSH in 6 weeks")},
			{Name: "E03.9 Hypothyroidism, unspecified", Category: catalog.CategoryDiagnosis, Code: sp("E03.9")},
		},
	},
	{
		QuestionID: "infection-risk", Answer: "Fever",
		Rationale: "Fever calls for inflammatory markers and cultures before antibiotics.",
		Suggestions: []Suggestion{
			{Name: "Complete Blood Count", Category: catalog.CategoryTest},
			{Name: "C-Reactive Protein", Category: catalog.CategoryTest},
			{Name: "Blood Culture", Category: catalog.CategoryTest},
			{Name: "Paracetamol 500mg", Category: catalog.CategoryMedicine, Dosage: sp("Take 1 tablet by mouth every 8 hours while febrile")},
			{Name: "R50.9 Fever, unspecified", Category: catalog.CategoryDiagnosis, Code: sp("R50.9")},
		},
	},
	{
		QuestionID: "infection-risk", Answer: "High-risk exposure",
		Rationale: "Reported exposure indicates HIV screening, which needs signed consent.",
		Suggestions: []Suggestion{
			{Name: "HIV Ab/Ag Combo", Category: catalog.CategoryTest},
			{Name: "Z20.6 Contact with and exposure to HIV", Category: catalog.CategoryDiagnosis, Code: sp("Z20.6")},
		},
	},
	{
		QuestionID: "cardiac-symptoms", Answer: "Yes",
		Rationale: "Chest pain or palpitations need ischemia to be ruled out.",
		Suggestions: []Suggestion{
			{Name: "Electrocardiogram", Category: catalog.CategoryProcedure},
			{Name: "Troponin I", Category: catalog.CategoryTest},
			{Name: "Lipid Panel", Category: catalog.CategoryTest},
			{Name: "Echocardiogram", Category: catalog.CategoryProcedure},
			{Name: "Aspirin 81mg", Category: catalog.CategoryMedicine, Dosage: sp("Take 1 tablet by mouth once daily")},
			{Name: "I20.9 Angina pectoris, unspecified", Category: catalog.CategoryDiagnosis, Code: sp("I20.9")},
		},
	},
}

var defaultSkip = Rule{
	Rationale: "Standard adult screening panel offered when the questionnaire is skipped.",
	Suggestions: []Suggestion{
		{Name: "Complete Blood Count", Category: catalog.CategoryTest},
		{Name: "Comprehensive Metabolic Panel", Category: catalog.CategoryTest},
		{Name: "TSH", Category: catalog.CategoryTest},
		{Name: "Lipid Panel", Category: catalog.CategoryTest},
		{Name: "Z00.00 General adult medical examination", Category: catalog.CategoryDiagnosis, Code: sp("Z00.00")},
	},
}

// DefaultRuleSet is the built-in four question battery.
func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(defaultQuestions, defaultRules, defaultSkip)
	if err != nil {
		panic(err)
	}
	return rs
}
