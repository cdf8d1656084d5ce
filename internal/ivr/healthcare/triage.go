package healthcare

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

//go:embed triage.yaml
var triageYAML []byte

type QuestionKind string

const (
	KindYesNo          QuestionKind = "yes_no"
	KindScale          QuestionKind = "scale"
	KindMultipleChoice QuestionKind = "multiple_choice"
)

type Recommendation string

const (
	RecommendEmergency           Recommendation = "emergency"
	RecommendImmediateCare       Recommendation = "immediate_care"
	RecommendScheduleAppointment Recommendation = "schedule_appointment"
	RecommendEscalateNurse       Recommendation = "escalate_nurse"
	RecommendSelfCare            Recommendation = "self_care"
)

func (r Recommendation) Valid() bool {
	switch r {
	case RecommendEmergency, RecommendImmediateCare, RecommendScheduleAppointment,
		RecommendEscalateNurse, RecommendSelfCare:
		return true
	}
	return false
}

// Escalation ends a triage session as soon as the answer matches Response:
// numerically at or above it for scale questions, case-insensitively equal
// otherwise.
type Escalation struct {
	Response       string         `yaml:"response"`
	Severity       Severity       `yaml:"severity"`
	Recommendation Recommendation `yaml:"recommendation"`
	Message        string         `yaml:"message"`
}

type Question struct {
	ID         string       `yaml:"id" json:"id"`
	Text       string       `yaml:"text" json:"text"`
	Kind       QuestionKind `yaml:"kind" json:"kind"`
	Options    []string     `yaml:"options,omitempty" json:"options,omitempty"`
	Required   bool         `yaml:"required" json:"required"`
	Escalation *Escalation  `yaml:"escalation,omitempty" json:"-"`
}

// Normalize maps keypad or spoken input onto the canonical answer stored for
// the question: "yes"/"no", an integer 1-10, or the chosen option text.
func (q Question) Normalize(input string) (string, error) {
	in := strings.TrimSpace(input)
	switch q.Kind {
	case KindYesNo:
		switch strings.ToLower(in) {
		case "1", "yes", "y":
			return "yes", nil
		case "2", "no", "n":
			return "no", nil
		}
	case KindScale:
		if n, err := strconv.Atoi(in); err == nil && n >= 1 && n <= 10 {
			return strconv.Itoa(n), nil
		}
	case KindMultipleChoice:
		if n, err := strconv.Atoi(in); err == nil && n >= 1 && n <= len(q.Options) {
			return q.Options[n-1], nil
		}
		for _, o := range q.Options {
			if strings.EqualFold(o, in) {
				return o, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q for %s", ErrInvalidAnswer, input, q.ID)
}

func (q Question) escalates(answer string) bool {
	if q.Escalation == nil {
		return false
	}
	if q.Kind == KindScale {
		return compareNumeric(answer, q.Escalation.Response, func(a, b float64) bool { return a >= b })
	}
	return strings.EqualFold(answer, q.Escalation.Response)
}

// Clause compares one stored answer with a value. Ops: eq, neq, gte, lt.
type Clause struct {
	Question string `yaml:"question"`
	Op       string `yaml:"op"`
	Value    string `yaml:"value"`
}

func (c Clause) holds(answers map[string]string) bool {
	a, ok := answers[c.Question]
	if !ok {
		return false
	}
	switch c.Op {
	case "eq":
		return strings.EqualFold(a, c.Value)
	case "neq":
		return !strings.EqualFold(a, c.Value)
	case "gte":
		return compareNumeric(a, c.Value, func(x, y float64) bool { return x >= y })
	case "lt":
		return compareNumeric(a, c.Value, func(x, y float64) bool { return x < y })
	}
	return false
}

func compareNumeric(a, b string, cmp func(x, y float64) bool) bool {
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return false
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return false
	}
	return cmp(x, y)
}

// Rule matches when every clause holds.
type Rule struct {
	When           []Clause       `yaml:"when"`
	Severity       Severity       `yaml:"severity"`
	Recommendation Recommendation `yaml:"recommendation"`
	Message        string         `yaml:"message"`
}

type Tree struct {
	Condition string     `yaml:"condition"`
	Name      string     `yaml:"name"`
	Questions []Question `yaml:"questions"`
	Rules     []Rule     `yaml:"rules"`
}

func (t Tree) question(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

func (t Tree) validate() error {
	if t.Condition == "" || len(t.Questions) == 0 {
		return fmt.Errorf("tree %q: condition and questions are required", t.Condition)
	}
	seen := map[string]bool{}
	for _, q := range t.Questions {
		if seen[q.ID] {
			return fmt.Errorf("tree %s: duplicate question %q", t.Condition, q.ID)
		}
		seen[q.ID] = true
		switch q.Kind {
		case KindYesNo, KindScale:
		case KindMultipleChoice:
			if len(q.Options) == 0 {
				return fmt.Errorf("tree %s: %s has no options", t.Condition, q.ID)
			}
		default:
			return fmt.Errorf("tree %s: %s: unknown kind %q", t.Condition, q.ID, q.Kind)
		}
		if e := q.Escalation; e != nil && (!e.Severity.Valid() || !e.Recommendation.Valid()) {
			return fmt.Errorf("tree %s: %s: bad escalation", t.Condition, q.ID)
		}
	}
	for i, r := range t.Rules {
		if !r.Severity.Valid() || !r.Recommendation.Valid() || len(r.When) == 0 {
			return fmt.Errorf("tree %s: rule %d is incomplete", t.Condition, i)
		}
		for _, c := range r.When {
			if !seen[c.Question] {
				return fmt.Errorf("tree %s: rule %d references unknown question %q", t.Condition, i, c.Question)
			}
			switch c.Op {
			case "eq", "neq", "gte", "lt":
			default:
				return fmt.Errorf("tree %s: rule %d: unknown op %q", t.Condition, i, c.Op)
			}
		}
	}
	return nil
}

// LoadTrees parses a YAML document of triage trees.
func LoadTrees(data []byte) ([]Tree, error) {
	var doc struct {
		Trees []Tree `yaml:"trees"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode triage trees: %w", err)
	}
	for _, t := range doc.Trees {
		if err := t.validate(); err != nil {
			return nil, err
		}
	}
	return doc.Trees, nil
}

// DefaultTrees returns the embedded chest pain, fever and shortness of
// breath trees.
func DefaultTrees() []Tree {
	trees, err := LoadTrees(triageYAML)
	if err != nil {
		panic(err)
	}
	return trees
}

type TriageStatus string

const (
	TriageInProgress TriageStatus = "in_progress"
	TriageCompleted  TriageStatus = "completed"
)

type TriageResult struct {
	SessionID          string         `json:"session_id"`
	Condition          string         `json:"condition"`
	Severity           Severity       `json:"severity"`
	Recommendation     Recommendation `json:"recommendation"`
	Message            string         `json:"message"`
	NextSteps          []string       `json:"next_steps"`
	RequiresEscalation bool           `json:"requires_escalation"`
	RedFlags           []string       `json:"red_flags,omitempty"`
	AlertIDs           []string       `json:"alert_ids,omitempty"`
}

// IsEmergency reports a result that must end the call with a 911 instruction.
func (r TriageResult) IsEmergency() bool { return r.Recommendation == RecommendEmergency }

type TriageSession struct {
	SessionID       string            `json:"session_id"`
	TenantID        string            `json:"tenant_id"`
	CallID          string            `json:"call_id"`
	PatientID       string            `json:"patient_id"`
	Condition       string            `json:"condition"`
	Status          TriageStatus      `json:"status"`
	CurrentQuestion string            `json:"current_question,omitempty"`
	Answers         map[string]string `json:"answers"`
	Result          *TriageResult     `json:"result,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

func (s TriageSession) clone() TriageSession {
	out := s
	out.Answers = make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	return out
}

// TriageStep is the outcome of starting or answering: either the next
// question to ask or the final result.
type TriageStep struct {
	Session  TriageSession `json:"session"`
	Question *Question     `json:"question,omitempty"`
	Result   *TriageResult `json:"result,omitempty"`
}

var nextSteps = map[Recommendation][]string{
	RecommendEmergency: {
		"Call 911 or go to the nearest emergency room immediately",
		"Do not drive yourself - have someone drive you or call an ambulance",
		"Bring a list of current medications",
	},
	RecommendImmediateCare: {
		"Visit urgent care center or schedule same-day appointment",
		"Monitor symptoms closely",
		"Call back if symptoms worsen",
	},
	RecommendScheduleAppointment: {
		"Schedule appointment within 24-48 hours",
		"Monitor symptoms",
		"Call back if symptoms worsen or new symptoms develop",
	},
	RecommendEscalateNurse: {
		"A nurse will call you back within 1-2 hours",
		"Monitor symptoms",
		"Call 911 if symptoms worsen",
	},
	RecommendSelfCare: {
		"Rest and monitor symptoms",
		"Follow home care instructions",
		"Call back if symptoms persist or worsen",
		"Schedule appointment if no improvement in 2-3 days",
	},
}

// NextSteps returns the patient instructions for a recommendation.
func NextSteps(r Recommendation) []string {
	return append([]string(nil), nextSteps[r]...)
}

// Triage runs symptom assessment sessions over the loaded trees. A session
// that reaches high or urgent severity raises the matching clinical workflow
// and is documented to the EHR.
type Triage struct {
	trees    map[string]Tree
	workflow *Workflow
	ehr      *EHR
	rec      recorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*TriageSession
}

// NewTriage wires the triage service. workflow and ehr may be nil.
func NewTriage(trees []Tree, workflow *Workflow, ehr *EHR, audit *service.AuditLog, logger *slog.Logger) *Triage {
	t := &Triage{
		trees:    make(map[string]Tree, len(trees)),
		workflow: workflow,
		ehr:      ehr,
		rec:      recorder{audit: audit, logger: logger, service: "symptom_triage"},
		logger:   logger,
		now:      utcNow,
		sessions: make(map[string]*TriageSession),
	}
	for _, tr := range trees {
		t.trees[tr.Condition] = tr
	}
	return t
}

// Conditions lists the tree conditions in sorted order.
func (t *Triage) Conditions() []string {
	out := make([]string, 0, len(t.trees))
	for c := range t.trees {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (t *Triage) Tree(condition string) (Tree, bool) {
	tr, ok := t.trees[condition]
	return tr, ok
}

// Start opens a session for condition and returns its first question.
func (t *Triage) Start(ctx context.Context, tenantID, callID, patientID, condition string) (TriageStep, error) {
	tree, ok := t.trees[condition]
	if !ok {
		return TriageStep{}, fmt.Errorf("%w: %q", ErrUnknownCondition, condition)
	}
	if strings.TrimSpace(tenantID) == "" {
		return TriageStep{}, fmt.Errorf("%w: tenant is required", ErrInvalidRequest)
	}
	now := t.now()
	first := tree.Questions[0]
	s := &TriageSession{
		SessionID:       types.NewID("triage", now),
		TenantID:        tenantID,
		CallID:          callID,
		PatientID:       patientID,
		Condition:       condition,
		Status:          TriageInProgress,
		CurrentQuestion: first.ID,
		Answers:         map[string]string{},
		StartedAt:       now,
	}
	t.mu.Lock()
	t.sessions[s.SessionID] = s
	out := s.clone()
	t.mu.Unlock()

	t.rec.record(ctx, tenantID, callID, types.EventDataAccess, map[string]any{
		"action":     "triage_session_started",
		"session_id": s.SessionID,
		"condition":  condition,
		"patient_id": patientID,
	}, nil)
	return TriageStep{Session: out, Question: &first}, nil
}

func (t *Triage) Session(id string) (TriageSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return TriageSession{}, fmt.Errorf("%w: %s", ErrTriageSessionNotFound, id)
	}
	return s.clone(), nil
}

// CurrentQuestion returns the question the session is waiting on.
func (t *Triage) CurrentQuestion(id string) (Question, error) {
	s, err := t.Session(id)
	if err != nil {
		return Question{}, err
	}
	if s.Status == TriageCompleted {
		return Question{}, fmt.Errorf("%w: %s", ErrTriageCompleted, id)
	}
	q, _ := t.trees[s.Condition].question(s.CurrentQuestion)
	return q, nil
}

// Answer records input for the current question. Invalid input returns
// ErrInvalidAnswer and leaves the session unchanged. A question escalation
// completes the session at once; otherwise the next unanswered question is
// returned, and once none remain the rules decide the result.
func (t *Triage) Answer(ctx context.Context, sessionID, input string) (TriageStep, error) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return TriageStep{}, fmt.Errorf("%w: %s", ErrTriageSessionNotFound, sessionID)
	}
	if s.Status == TriageCompleted {
		t.mu.Unlock()
		return TriageStep{}, fmt.Errorf("%w: %s", ErrTriageCompleted, sessionID)
	}
	tree := t.trees[s.Condition]
	q, _ := tree.question(s.CurrentQuestion)
	answer, err := q.Normalize(input)
	if err != nil {
		t.mu.Unlock()
		return TriageStep{}, err
	}
	s.Answers[q.ID] = answer

	var result *TriageResult
	if q.escalates(answer) {
		e := q.Escalation
		result = &TriageResult{
			Severity:       e.Severity,
			Recommendation: e.Recommendation,
			Message:        e.Message,
			RedFlags:       []string{q.ID + ": " + answer},
		}
	} else if next, more := nextUnanswered(tree, s.Answers); more {
		s.CurrentQuestion = next.ID
		out := s.clone()
		t.mu.Unlock()
		return TriageStep{Session: out, Question: &next}, nil
	} else {
		result = evaluateRules(tree, s.Answers)
	}

	now := t.now()
	result.SessionID = s.SessionID
	result.Condition = s.Condition
	result.NextSteps = NextSteps(result.Recommendation)
	result.RequiresEscalation = result.Severity == SeverityHigh || result.Severity == SeverityUrgent
	s.Status = TriageCompleted
	s.CurrentQuestion = ""
	s.CompletedAt = &now
	s.Result = result
	snapshot := s.clone()
	t.mu.Unlock()

	alertIDs := t.complete(ctx, tree, snapshot)

	t.mu.Lock()
	s.Result.AlertIDs = alertIDs
	snapshot = s.clone()
	t.mu.Unlock()
	return TriageStep{Session: snapshot, Result: snapshot.Result}, nil
}

func nextUnanswered(tree Tree, answers map[string]string) (Question, bool) {
	for _, q := range tree.Questions {
		if _, done := answers[q.ID]; !done {
			return q, true
		}
	}
	return Question{}, false
}

func evaluateRules(tree Tree, answers map[string]string) *TriageResult {
	rules := append([]Rule(nil), tree.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Severity.Rank() > rules[j].Severity.Rank() })
	for _, r := range rules {
		matched := true
		for _, c := range r.When {
			if !c.holds(answers) {
				matched = false
				break
			}
		}
		if matched {
			return &TriageResult{Severity: r.Severity, Recommendation: r.Recommendation, Message: r.Message}
		}
	}
	return &TriageResult{
		Severity:       SeverityLow,
		Recommendation: RecommendSelfCare,
		Message:        "Based on your symptoms, home care is recommended.",
	}
}

// complete raises the workflow, documents the note and audits the result.
// Collaborator failures are logged; the result stands regardless.
func (t *Triage) complete(ctx context.Context, tree Tree, s TriageSession) []string {
	r := s.Result
	var alertIDs []string
	patient := orUnknown(s.PatientID)

	if r.RequiresEscalation && t.workflow != nil {
		res, err := t.workflow.Evaluate(ctx, s.TenantID, patient, TriageCondition(s.Condition, r.Severity), WorkflowContext{
			CallID:  s.CallID,
			Message: r.Message,
			Metadata: map[string]any{
				"triage_session_id": s.SessionID,
				"recommendation":    string(r.Recommendation),
			},
		})
		if err != nil {
			t.logger.Warn("triage workflow failed", "session_id", s.SessionID, "error", err)
		}
		alertIDs = res.AlertIDs
	}

	if t.ehr != nil {
		symptoms := make([]string, 0, len(tree.Questions))
		for _, q := range tree.Questions {
			if a, ok := s.Answers[q.ID]; ok {
				symptoms = append(symptoms, q.Text+" "+a)
			}
		}
		note := t.ehr.CreateStructuredNote(patient, NoteTriage, NoteData{
			ChiefComplaint: tree.Name,
			Symptoms:       symptoms,
			Assessment:     r.Message,
			Plan:           strings.Join(r.NextSteps, "; "),
			TriageSeverity: r.Severity,
			RedFlags:       r.RedFlags,
		}, s.CallID, "")
		if _, err := t.ehr.DocumentToEHR(ctx, s.TenantID, note); err != nil {
			t.logger.Warn("triage note not documented", "session_id", s.SessionID, "error", err)
		}
	}

	t.rec.record(ctx, s.TenantID, s.CallID, types.EventDataAccess, map[string]any{
		"action":              "triage_completed",
		"session_id":          s.SessionID,
		"condition":           s.Condition,
		"severity":            string(r.Severity),
		"recommendation":      string(r.Recommendation),
		"requires_escalation": r.RequiresEscalation,
	}, nil)
	return alertIDs
}
