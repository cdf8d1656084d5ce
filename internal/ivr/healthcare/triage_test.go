package healthcare_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// answerAll starts a session and feeds inputs until a result appears.
func answerAll(t *testing.T, f *fixture, condition string, inputs ...string) healthcare.TriageStep {
	t.Helper()
	ctx := context.Background()
	step, err := f.triage.Start(ctx, tenant, "call-1", "pat-1", condition)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i, in := range inputs {
		step, err = f.triage.Answer(ctx, step.Session.SessionID, in)
		if err != nil {
			t.Fatalf("Answer #%d (%q): %v", i, in, err)
		}
		if step.Result != nil {
			if i != len(inputs)-1 {
				t.Fatalf("result after answer #%d, %d inputs unused", i, len(inputs)-1-i)
			}
			return step
		}
	}
	t.Fatalf("no result after %d answers; waiting on %v", len(inputs), step.Question)
	return step
}

// ── Trees ──

func TestDefaultTrees(t *testing.T) {
	f := newFixture(t)
	got := f.triage.Conditions()
	want := []string{"chest_pain", "fever", "shortness_of_breath"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Conditions = %v, want %v", got, want)
	}
	tree, ok := f.triage.Tree("chest_pain")
	if !ok || tree.Name != "Chest Pain Assessment" || len(tree.Questions) != 5 || len(tree.Rules) != 5 {
		t.Errorf("chest_pain tree = %+v", tree)
	}
}

func TestLoadTrees_RejectsBadRules(t *testing.T) {
	cases := map[string]string{
		"unknown op": `
trees:
  - condition: c
    questions: [{id: q, text: Q, kind: yes_no}]
    rules: [{when: [{question: q, op: like, value: "yes"}], severity: low, recommendation: self_care}]`,
		"unknown question": `
trees:
  - condition: c
    questions: [{id: q, text: Q, kind: yes_no}]
    rules: [{when: [{question: nope, op: eq, value: "yes"}], severity: low, recommendation: self_care}]`,
		"choice without options": `
trees:
  - condition: c
    questions: [{id: q, text: Q, kind: multiple_choice}]`,
		"bad recommendation": `
trees:
  - condition: c
    questions: [{id: q, text: Q, kind: yes_no}]
    rules: [{when: [{question: q, op: eq, value: "yes"}], severity: low, recommendation: home_care}]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := healthcare.LoadTrees([]byte(doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestQuestion_Normalize(t *testing.T) {
	yesNo := healthcare.Question{ID: "q", Kind: healthcare.KindYesNo}
	scale := healthcare.Question{ID: "s", Kind: healthcare.KindScale}
	choice := healthcare.Question{ID: "c", Kind: healthcare.KindMultipleChoice, Options: []string{"At rest", "With activity"}}

	cases := []struct {
		q       healthcare.Question
		in      string
		want    string
		wantErr bool
	}{
		{yesNo, "1", "yes", false},
		{yesNo, "2", "no", false},
		{yesNo, " Yes ", "yes", false},
		{yesNo, "3", "", true},
		{scale, "7", "7", false},
		{scale, "10", "10", false},
		{scale, "0", "", true},
		{scale, "11", "", true},
		{scale, "seven", "", true},
		{choice, "2", "With activity", false},
		{choice, "at rest", "At rest", false},
		{choice, "3", "", true},
	}
	for _, tc := range cases {
		got, err := tc.q.Normalize(tc.in)
		if tc.wantErr {
			if !errors.Is(err, healthcare.ErrInvalidAnswer) {
				t.Errorf("%s.Normalize(%q) err = %v, want ErrInvalidAnswer", tc.q.ID, tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%s.Normalize(%q) = %q, %v; want %q", tc.q.ID, tc.in, got, err, tc.want)
		}
	}
}

// ── Sessions ──

func TestTriage_EmergencyShortCircuits(t *testing.T) {
	f := newFixture(t)
	step := answerAll(t, f, "chest_pain", "1") // Less than 5 minutes

	r := step.Result
	if !r.IsEmergency() || r.Severity != healthcare.SeverityUrgent || !r.RequiresEscalation {
		t.Fatalf("result = %+v", r)
	}
	if !strings.Contains(r.NextSteps[0], "911") {
		t.Errorf("next steps = %v", r.NextSteps)
	}
	if step.Session.Status != healthcare.TriageCompleted || step.Session.CompletedAt == nil {
		t.Errorf("session = %+v", step.Session)
	}
	if len(r.RedFlags) != 1 || !strings.HasPrefix(r.RedFlags[0], "chest_pain_duration") {
		t.Errorf("red flags = %v", r.RedFlags)
	}

	// chest_pain_urgent pages, flags and raises one alert.
	if len(r.AlertIDs) != 1 {
		t.Errorf("alert ids = %v", r.AlertIDs)
	}
	if len(f.pages) != 1 || f.pages[0].Priority != healthcare.SeverityUrgent {
		t.Errorf("pages = %+v", f.pages)
	}
	if flags := f.workflow.PatientChartFlags("pat-1"); len(flags) != 1 || flags[0].Type != healthcare.FlagUrgentReview {
		t.Errorf("chart flags = %+v", flags)
	}
	notes := f.ehrStore.ForPatient("pat-1")
	if len(notes) != 1 || notes[0].Type.Coding[0].Code != "51847-2" {
		t.Errorf("ehr notes = %+v", notes)
	}

	evs := f.events(t)
	acts := actionsOf(evs)
	if acts[0] != "triage_session_started" || !contains(acts, "triage_completed") || !contains(acts, "ehr_documentation") {
		t.Errorf("data.access actions = %v", acts)
	}
	if n := countType(evs, types.EventEscalationTriggered); n != 3 {
		t.Errorf("escalation.triggered events = %d, want 3", n)
	}
}

func TestTriage_RulesPickHighestSeverity(t *testing.T) {
	cases := []struct {
		name      string
		condition string
		inputs    []string
		severity  healthcare.Severity
		rec       healthcare.Recommendation
	}{
		{"chest pain moderate onset", "chest_pain", []string{"3", "6", "2", "1", "4"},
			healthcare.SeverityHigh, healthcare.RecommendImmediateCare},
		{"chest pain long and mild", "chest_pain", []string{"4", "3", "2", "2", "1"},
			healthcare.SeverityMedium, healthcare.RecommendScheduleAppointment},
		{"chest pain no rule", "chest_pain", []string{"2", "3", "2", "1", "4"},
			healthcare.SeverityLow, healthcare.RecommendSelfCare},
		{"prolonged fever", "fever", []string{"2", "4", "2"},
			healthcare.SeverityHigh, healthcare.RecommendScheduleAppointment},
		{"fever symptoms escalate", "fever", []string{"1", "1", "1"},
			healthcare.SeverityHigh, healthcare.RecommendImmediateCare},
		{"breathless at rest", "shortness_of_breath", []string{"5", "2", "1", "2"},
			healthcare.SeverityHigh, healthcare.RecommendImmediateCare},
		{"severe breathlessness", "shortness_of_breath", []string{"9"},
			healthcare.SeverityUrgent, healthcare.RecommendEmergency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			r := answerAll(t, f, tc.condition, tc.inputs...).Result
			if r.Severity != tc.severity || r.Recommendation != tc.rec {
				t.Errorf("result = %s/%s, want %s/%s", r.Severity, r.Recommendation, tc.severity, tc.rec)
			}
			wantEsc := tc.severity == healthcare.SeverityHigh || tc.severity == healthcare.SeverityUrgent
			if r.RequiresEscalation != wantEsc {
				t.Errorf("RequiresEscalation = %v", r.RequiresEscalation)
			}
			if len(r.NextSteps) == 0 {
				t.Error("next steps missing")
			}
		})
	}
}

func TestTriage_SelfCareRaisesNoWorkflow(t *testing.T) {
	f := newFixture(t)
	answerAll(t, f, "chest_pain", "2", "3", "2", "1", "4")
	if alerts := f.workflow.PatientAlerts("pat-1"); len(alerts) != 0 {
		t.Errorf("alerts = %+v", alerts)
	}
	if n := countType(f.events(t), types.EventEscalationTriggered); n != 0 {
		t.Errorf("escalation.triggered = %d", n)
	}
}

func TestTriage_HighRaisesNurseEscalation(t *testing.T) {
	f := newFixture(t)
	answerAll(t, f, "fever", "2", "4", "2")
	alerts := f.workflow.PatientAlerts("pat-1")
	if len(alerts) != 1 || alerts[0].AssignedTo != "nursing_station" {
		t.Fatalf("alerts = %+v", alerts)
	}
	if len(f.pages) != 0 {
		t.Errorf("high severity should not page: %+v", f.pages)
	}
}

func TestTriage_InvalidAnswerKeepsQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	step, err := f.triage.Start(ctx, tenant, "call-1", "pat-1", "chest_pain")
	if err != nil {
		t.Fatal(err)
	}
	id := step.Session.SessionID

	if _, err := f.triage.Answer(ctx, id, "9"); !errors.Is(err, healthcare.ErrInvalidAnswer) {
		t.Fatalf("err = %v", err)
	}
	q, err := f.triage.CurrentQuestion(id)
	if err != nil || q.ID != "chest_pain_duration" {
		t.Errorf("current question = %s, %v", q.ID, err)
	}
	s, _ := f.triage.Session(id)
	if len(s.Answers) != 0 {
		t.Errorf("answers = %v", s.Answers)
	}
}

func TestTriage_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.triage.Start(ctx, tenant, "c", "p", "headache"); !errors.Is(err, healthcare.ErrUnknownCondition) {
		t.Errorf("unknown condition err = %v", err)
	}
	if _, err := f.triage.Answer(ctx, "triage_missing", "1"); !errors.Is(err, healthcare.ErrTriageSessionNotFound) {
		t.Errorf("missing session err = %v", err)
	}
	step := answerAll(t, f, "shortness_of_breath", "10")
	if _, err := f.triage.Answer(ctx, step.Session.SessionID, "1"); !errors.Is(err, healthcare.ErrTriageCompleted) {
		t.Errorf("answer after completion err = %v", err)
	}
}
