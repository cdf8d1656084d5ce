package healthcare_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/healthcare"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// midnightDaysAgo returns 00:00 UTC n days before today.
func midnightDaysAgo(n int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -n)
}

func newSchedule(t *testing.T, f *fixture, req healthcare.ScheduleRequest) healthcare.MedicationSchedule {
	t.Helper()
	if req.PatientID == "" {
		req.PatientID = "pat-1"
	}
	if req.MedicationName == "" {
		req.MedicationName = "Metformin"
		req.Dosage = "500mg"
	}
	if req.Frequency == "" {
		req.Frequency = healthcare.TwiceDaily
	}
	s, err := f.adherence.CreateSchedule(context.Background(), tenant, req)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	return s
}

// ── Schedules ──

func TestAdherence_CreateSchedule(t *testing.T) {
	f := newFixture(t)
	s := newSchedule(t, f, healthcare.ScheduleRequest{MedicationID: "rx-1", PhoneNumber: "+15550002222"})

	if s.Status != healthcare.ScheduleActive || len(s.Times) != 2 || s.Times[0] != "08:00" || s.Times[1] != "20:00" {
		t.Errorf("schedule = %+v", s)
	}
	rems := f.reminders.ForPatient("pat-1")
	if n := len(rems); n < 13 || n > 14 {
		t.Errorf("dose reminders for a week = %d", n)
	}
	for _, r := range rems {
		if r.Type != healthcare.ReminderMedication || r.MedicationID != "rx-1" || len(r.Channels) != 2 {
			t.Errorf("reminder = %+v", r)
			break
		}
	}
	if acts := actionsOf(f.events(t)); !contains(acts, "medication_schedule_created") {
		t.Errorf("actions = %v", acts)
	}
}

func TestAdherence_CreateScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]healthcare.ScheduleRequest{
		"missing medication": {PatientID: "p"},
		"bad time":           {PatientID: "p", MedicationName: "m", Times: []string{"8am"}},
		"hour out of range":  {PatientID: "p", MedicationName: "m", Times: []string{"24:00"}},
	}
	for name, req := range cases {
		if _, err := f.adherence.CreateSchedule(ctx, tenant, req); !errors.Is(err, healthcare.ErrInvalidRequest) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

// ── Doses ──

func TestAdherence_TakenAndLate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSchedule(t, f, healthcare.ScheduleRequest{})
	day := midnightDaysAgo(1)

	onTime, err := f.adherence.RecordTaken(ctx, s.ScheduleID, day.Add(8*time.Hour+20*time.Minute), "sms", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if onTime.Status != healthcare.DoseTaken || !onTime.ScheduledAt.Equal(day.Add(8*time.Hour)) {
		t.Errorf("on-time record = %+v", onTime)
	}

	late, err := f.adherence.RecordTaken(ctx, s.ScheduleID, day.Add(22*time.Hour), "", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if late.Status != healthcare.DoseLate || !late.ScheduledAt.Equal(day.Add(20*time.Hour)) || late.ConfirmationMethod != "voice" {
		t.Errorf("late record = %+v", late)
	}

	if recs := f.adherence.PatientRecords("pat-1", s.ScheduleID); len(recs) != 2 {
		t.Errorf("records = %d", len(recs))
	}
}

func TestAdherence_MissedDoseRaisesNonAdherence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSchedule(t, f, healthcare.ScheduleRequest{StartDate: midnightDaysAgo(3)})

	rec, err := f.adherence.RecordMissed(ctx, s.ScheduleID, midnightDaysAgo(1).Add(8*time.Hour), "forgot")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != healthcare.DoseMissed || rec.Notes != "forgot" {
		t.Errorf("record = %+v", rec)
	}

	var pharmacy bool
	for _, a := range f.workflow.PatientAlerts("pat-1") {
		if a.AssignedTo == "pharmacy" && a.Severity == healthcare.SeverityMedium {
			pharmacy = true
		}
	}
	if !pharmacy {
		t.Errorf("no pharmacy alert: %+v", f.workflow.PatientAlerts("pat-1"))
	}
	if flags := f.workflow.PatientChartFlags("pat-1"); len(flags) != 1 {
		t.Errorf("chart flags = %+v", flags)
	}
}

func TestAdherence_DiscontinuedRejectsDoses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSchedule(t, f, healthcare.ScheduleRequest{})

	if _, err := f.adherence.DiscontinueSchedule(ctx, s.ScheduleID, "switched medication"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.adherence.RecordTaken(ctx, s.ScheduleID, time.Time{}, "", nil, ""); !errors.Is(err, healthcare.ErrScheduleInactive) {
		t.Errorf("err = %v", err)
	}
	if active := f.adherence.PatientSchedules("pat-1", true); len(active) != 0 {
		t.Errorf("active schedules = %+v", active)
	}
	if _, err := f.adherence.RecordTaken(ctx, "sched_missing", time.Time{}, "", nil, ""); !errors.Is(err, healthcare.ErrScheduleNotFound) {
		t.Errorf("missing schedule err = %v", err)
	}
}

// ── Checks and side effects ──

func TestAdherence_CompleteCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSchedule(t, f, healthcare.ScheduleRequest{})

	check, err := f.adherence.InitiateCheck(ctx, s.ScheduleID, "")
	if err != nil {
		t.Fatal(err)
	}
	if check.Type != healthcare.CheckAutomatedCall || check.Status != healthcare.CheckPending {
		t.Errorf("check = %+v", check)
	}

	done, rec, err := f.adherence.CompleteCheck(ctx, check.CheckID, healthcare.CheckResponse{
		Taken: true, SideEffects: []string{"nausea"}, SideEffectSeverity: healthcare.EffectModerate,
	})
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != healthcare.CheckCompleted || done.CompletedAt == nil || rec.TakenAt == nil {
		t.Errorf("check = %+v, record = %+v", done, rec)
	}
	reports := f.adherence.SideEffectReports("pat-1")
	if len(reports) != 1 || reports[0].Severity != healthcare.EffectModerate {
		t.Errorf("reports = %+v", reports)
	}
	if notes := f.ehrStore.ForPatient("pat-1"); len(notes) != 1 {
		t.Errorf("ehr notes = %d", len(notes))
	}
	if len(f.pages) != 0 {
		t.Errorf("moderate effects paged: %+v", f.pages)
	}

	second, _ := f.adherence.InitiateCheck(ctx, s.ScheduleID, healthcare.CheckSMS)
	_, missed, err := f.adherence.CompleteCheck(ctx, second.CheckID, healthcare.CheckResponse{Taken: false})
	if err != nil {
		t.Fatal(err)
	}
	if missed.Status != healthcare.DoseMissed || missed.Notes != "Patient reported not taken" {
		t.Errorf("missed record = %+v", missed)
	}

	if _, _, err := f.adherence.CompleteCheck(ctx, "check_missing", healthcare.CheckResponse{}); !errors.Is(err, healthcare.ErrCheckNotFound) {
		t.Errorf("missing check err = %v", err)
	}
}

func TestAdherence_SevereSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSchedule(t, f, healthcare.ScheduleRequest{})

	r, err := f.adherence.ReportSideEffects(ctx, s.ScheduleID, []string{"swelling", "hives"}, healthcare.EffectSevere)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.SideEffects) != 2 {
		t.Errorf("report = %+v", r)
	}
	if len(f.pages) != 1 || f.pages[0].ProviderID != "prescribing_physician" {
		t.Errorf("pages = %+v", f.pages)
	}
	notes := f.ehrStore.ForPatient("pat-1")
	if len(notes) != 1 || notes[0].Title != "Side Effect Note - Voice AI" {
		t.Errorf("ehr notes = %+v", notes)
	}
	if n := countType(f.events(t), types.EventEscalationTriggered); n != 3 {
		t.Errorf("escalation.triggered = %d", n)
	}

	if _, err := f.adherence.ReportSideEffects(ctx, s.ScheduleID, []string{"x"}, "catastrophic"); !errors.Is(err, healthcare.ErrInvalidRequest) {
		t.Errorf("bad severity err = %v", err)
	}
}

// ── Refills and metrics ──

func TestAdherence_RequestRefill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSchedule(t, f, healthcare.ScheduleRequest{MedicationID: "rx-1", TotalRefills: 1})

	out, err := f.adherence.RequestRefill(ctx, s.ScheduleID, "patient")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.RefillID == "" || out.Message != "Refill request submitted. 0 refills remaining." {
		t.Errorf("first refill = %+v", out)
	}
	out, _ = f.adherence.RequestRefill(ctx, s.ScheduleID, "patient")
	if out.Success || out.Message != "No refills remaining. Please contact your prescriber for a new prescription." {
		t.Errorf("second refill = %+v", out)
	}

	noRx := newSchedule(t, f, healthcare.ScheduleRequest{TotalRefills: 3})
	out, _ = f.adherence.RequestRefill(ctx, noRx.ScheduleID, "patient")
	if out.Success || out.Message != "A prescription number is required." {
		t.Errorf("refill without prescription = %+v", out)
	}
	if got, _ := f.adherence.Schedule(noRx.ScheduleID); got.RefillsRemaining != 3 {
		t.Errorf("refills remaining = %d", got.RefillsRemaining)
	}
}

func TestAdherence_Metrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := midnightDaysAgo(3)
	s := newSchedule(t, f, healthcare.ScheduleRequest{StartDate: base})

	if _, err := f.adherence.RecordTaken(ctx, s.ScheduleID, base.Add(8*time.Hour+10*time.Minute), "", []string{"dizziness"}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.adherence.RecordTaken(ctx, s.ScheduleID, base.Add(22*time.Hour), "", nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.adherence.RecordMissed(ctx, s.ScheduleID, base.Add(32*time.Hour), ""); err != nil {
		t.Fatal(err)
	}

	m := f.adherence.Metrics("pat-1", s.ScheduleID, base, base.Add(36*time.Hour))
	if m.TotalDoses != 3 || m.DosesTaken != 1 || m.DosesLate != 1 || m.DosesMissed != 1 {
		t.Fatalf("metrics = %+v", m)
	}
	if m.AdherenceRate != 66.7 {
		t.Errorf("rate = %v", m.AdherenceRate)
	}
	if m.AverageDelayMinutes != 120 || m.SideEffectCount != 1 {
		t.Errorf("delay = %d, side effects = %d", m.AverageDelayMinutes, m.SideEffectCount)
	}
	if m.LastMissed == nil || !m.LastMissed.Equal(base.Add(32*time.Hour)) {
		t.Errorf("last missed = %v", m.LastMissed)
	}
}
