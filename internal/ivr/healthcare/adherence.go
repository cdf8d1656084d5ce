package healthcare

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type Frequency string

const (
	OnceDaily       Frequency = "once_daily"
	TwiceDaily      Frequency = "twice_daily"
	ThreeTimesDaily Frequency = "three_times_daily"
	FourTimesDaily  Frequency = "four_times_daily"
	AsNeeded        Frequency = "as_needed"
	CustomFrequency Frequency = "custom"
)

// DefaultTimes returns the HH:MM dose times used when a schedule names none.
func DefaultTimes(f Frequency) []string {
	switch f {
	case TwiceDaily:
		return []string{"08:00", "20:00"}
	case ThreeTimesDaily:
		return []string{"08:00", "14:00", "20:00"}
	case FourTimesDaily:
		return []string{"08:00", "12:00", "18:00", "22:00"}
	case AsNeeded:
		return nil
	}
	return []string{"09:00"}
}

type ScheduleStatus string

const (
	ScheduleActive       ScheduleStatus = "active"
	ScheduleCompleted    ScheduleStatus = "completed"
	ScheduleDiscontinued ScheduleStatus = "discontinued"
	ScheduleOnHold       ScheduleStatus = "on_hold"
)

// MedicationSchedule dose times are HH:MM in UTC.
type MedicationSchedule struct {
	ScheduleID       string         `json:"schedule_id"`
	TenantID         string         `json:"tenant_id"`
	PatientID        string         `json:"patient_id"`
	MedicationID     string         `json:"medication_id"`
	MedicationName   string         `json:"medication_name"`
	Dosage           string         `json:"dosage"`
	Frequency        Frequency      `json:"frequency"`
	Times            []string       `json:"times"`
	StartDate        time.Time      `json:"start_date"`
	EndDate          *time.Time     `json:"end_date,omitempty"`
	RefillsRemaining int            `json:"refills_remaining"`
	TotalRefills     int            `json:"total_refills"`
	PharmacyID       string         `json:"pharmacy_id,omitempty"`
	PrescriberID     string         `json:"prescriber_id,omitempty"`
	Instructions     string         `json:"instructions,omitempty"`
	PhoneNumber      string         `json:"phone_number,omitempty"`
	Status           ScheduleStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type DoseStatus string

const (
	DoseTaken   DoseStatus = "taken"
	DoseLate    DoseStatus = "late"
	DoseMissed  DoseStatus = "missed"
	DoseSkipped DoseStatus = "skipped"
)

type AdherenceRecord struct {
	RecordID           string     `json:"record_id"`
	ScheduleID         string     `json:"schedule_id"`
	PatientID          string     `json:"patient_id"`
	ScheduledAt        time.Time  `json:"scheduled_at"`
	TakenAt            *time.Time `json:"taken_at,omitempty"`
	Status             DoseStatus `json:"status"`
	ConfirmationMethod string     `json:"confirmation_method,omitempty"`
	SideEffects        []string   `json:"side_effects,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	RecordedAt         time.Time  `json:"recorded_at"`
}

type CheckType string

const (
	CheckAutomatedCall CheckType = "automated_call"
	CheckSMS           CheckType = "sms"
	CheckAppPush       CheckType = "app_notification"
)

type CheckStatus string

const (
	CheckPending   CheckStatus = "pending"
	CheckCompleted CheckStatus = "completed"
)

type CheckResponse struct {
	Taken              bool       `json:"taken"`
	TakenAt            *time.Time `json:"taken_at,omitempty"`
	SideEffects        []string   `json:"side_effects,omitempty"`
	SideEffectSeverity string     `json:"side_effect_severity,omitempty"`
	Notes              string     `json:"notes,omitempty"`
}

type AdherenceCheck struct {
	CheckID        string         `json:"check_id"`
	TenantID       string         `json:"tenant_id"`
	ScheduleID     string         `json:"schedule_id"`
	PatientID      string         `json:"patient_id"`
	MedicationName string         `json:"medication_name"`
	ScheduledAt    time.Time      `json:"scheduled_at"`
	Type           CheckType      `json:"check_type"`
	Status         CheckStatus    `json:"status"`
	Response       *CheckResponse `json:"response,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Side-effect severities.
const (
	EffectMild     = "mild"
	EffectModerate = "moderate"
	EffectSevere   = "severe"
)

type SideEffectReport struct {
	ReportID       string    `json:"report_id"`
	PatientID      string    `json:"patient_id"`
	ScheduleID     string    `json:"schedule_id"`
	MedicationName string    `json:"medication_name"`
	SideEffects    []string  `json:"side_effects"`
	Severity       string    `json:"severity"`
	ReportedAt     time.Time `json:"reported_at"`
}

type AdherenceMetrics struct {
	PatientID           string     `json:"patient_id"`
	ScheduleID          string     `json:"schedule_id,omitempty"`
	PeriodStart         time.Time  `json:"period_start"`
	PeriodEnd           time.Time  `json:"period_end"`
	TotalDoses          int        `json:"total_doses"`
	DosesTaken          int        `json:"doses_taken"`
	DosesLate           int        `json:"doses_late"`
	DosesMissed         int        `json:"doses_missed"`
	AdherenceRate       float64    `json:"adherence_rate"`
	AverageDelayMinutes int        `json:"average_delay_minutes,omitempty"`
	SideEffectCount     int        `json:"side_effect_count"`
	LastTaken           *time.Time `json:"last_taken,omitempty"`
	LastMissed          *time.Time `json:"last_missed,omitempty"`
}

type RefillOutcome struct {
	Success  bool   `json:"success"`
	RefillID string `json:"refill_id,omitempty"`
	Message  string `json:"message"`
}

const (
	lateAfter         = 60 * time.Minute
	reminderHorizon   = 7 * 24 * time.Hour
	adherenceWindow   = 7 * 24 * time.Hour
	adherenceFloorPct = 80.0
)

// Adherence tracks medication schedules, dose records, automated adherence
// checks and side-effect reports.
type Adherence struct {
	reminders *Reminders
	workflow  *Workflow
	ehr       *EHR
	backend   Backend
	rec       recorder
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	schedules map[string]*MedicationSchedule
	records   []AdherenceRecord
	checks    map[string]*AdherenceCheck
	reports   []SideEffectReport
}

// NewAdherence wires the adherence service. Every collaborator may be nil.
func NewAdherence(reminders *Reminders, workflow *Workflow, ehr *EHR, backend Backend, audit *service.AuditLog, logger *slog.Logger) *Adherence {
	return &Adherence{
		reminders: reminders,
		workflow:  workflow,
		ehr:       ehr,
		backend:   backend,
		rec:       recorder{audit: audit, logger: logger, service: "medication_adherence"},
		logger:    logger,
		now:       utcNow,
		schedules: make(map[string]*MedicationSchedule),
		checks:    make(map[string]*AdherenceCheck),
	}
}

type ScheduleRequest struct {
	PatientID      string
	MedicationID   string
	MedicationName string
	Dosage         string
	Frequency      Frequency
	Times          []string
	StartDate      time.Time
	EndDate        *time.Time
	TotalRefills   int
	PharmacyID     string
	PrescriberID   string
	Instructions   string
	PhoneNumber    string
}

func parseClock(s string) (int, int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: dose time %q is not HH:MM", ErrInvalidRequest, s)
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("%w: dose time %q is not HH:MM", ErrInvalidRequest, s)
	}
	return hh, mm, nil
}

// CreateSchedule stores an active schedule and books dose reminders for the
// coming week.
func (a *Adherence) CreateSchedule(ctx context.Context, tenantID string, req ScheduleRequest) (MedicationSchedule, error) {
	if strings.TrimSpace(tenantID) == "" || req.PatientID == "" || req.MedicationName == "" {
		return MedicationSchedule{}, fmt.Errorf("%w: tenant, patient and medication are required", ErrInvalidRequest)
	}
	times := req.Times
	if len(times) == 0 {
		times = DefaultTimes(req.Frequency)
	}
	for _, t := range times {
		if _, _, err := parseClock(t); err != nil {
			return MedicationSchedule{}, err
		}
	}
	now := a.now()
	start := req.StartDate
	if start.IsZero() {
		start = now
	}
	s := &MedicationSchedule{
		ScheduleID:       types.NewID("sched", now),
		TenantID:         tenantID,
		PatientID:        req.PatientID,
		MedicationID:     req.MedicationID,
		MedicationName:   req.MedicationName,
		Dosage:           req.Dosage,
		Frequency:        req.Frequency,
		Times:            append([]string(nil), times...),
		StartDate:        start.UTC(),
		EndDate:          req.EndDate,
		RefillsRemaining: req.TotalRefills,
		TotalRefills:     req.TotalRefills,
		PharmacyID:       req.PharmacyID,
		PrescriberID:     req.PrescriberID,
		Instructions:     req.Instructions,
		PhoneNumber:      req.PhoneNumber,
		Status:           ScheduleActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	a.mu.Lock()
	a.schedules[s.ScheduleID] = s
	out := *s
	a.mu.Unlock()

	a.scheduleReminders(ctx, out)
	a.rec.record(ctx, tenantID, s.ScheduleID, types.EventDataAccess, map[string]any{
		"action":          "medication_schedule_created",
		"schedule_id":     s.ScheduleID,
		"patient_id":      s.PatientID,
		"medication_name": s.MedicationName,
	}, nil)
	return out, nil
}

// doseTimes returns the schedule's dose instants within [from, to].
func doseTimes(s MedicationSchedule, from, to time.Time) []time.Time {
	var out []time.Time
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	for ; !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, t := range s.Times {
			h, m, err := parseClock(t)
			if err != nil {
				continue
			}
			at := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
			if at.Before(from) || at.After(to) {
				continue
			}
			if s.EndDate != nil && at.After(*s.EndDate) {
				continue
			}
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (a *Adherence) scheduleReminders(ctx context.Context, s MedicationSchedule) {
	if a.reminders == nil {
		return
	}
	now := a.now()
	from := now
	if s.StartDate.After(from) {
		from = s.StartDate
	}
	for _, at := range doseTimes(s, from.Add(time.Second), now.Add(reminderHorizon)) {
		if _, err := a.reminders.ScheduleMedicationReminder(ctx, s.TenantID, s.PatientID, s.MedicationID,
			s.MedicationName, s.Dosage, at, s.PhoneNumber, ChannelSMS, ChannelVoice); err != nil {
			a.logger.Warn("schedule dose reminder", "schedule_id", s.ScheduleID, "at", at, "error", err)
		}
	}
}

// nearestDose returns the dose instant closest to t, or t itself for a
// schedule without fixed times.
func nearestDose(s MedicationSchedule, t time.Time) time.Time {
	doses := doseTimes(s, t.Add(-24*time.Hour), t.Add(24*time.Hour))
	best, bestGap := t, time.Duration(math.MaxInt64)
	for _, d := range doses {
		gap := t.Sub(d)
		if gap < 0 {
			gap = -gap
		}
		if gap < bestGap {
			best, bestGap = d, gap
		}
	}
	return best
}

func (a *Adherence) schedule(id string) (*MedicationSchedule, error) {
	s, ok := a.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return s, nil
}

// RecordTaken records a dose taken at takenAt (zero means now). A dose taken
// more than an hour after its scheduled time is late. Reported side effects
// are filed as a mild side-effect report.
func (a *Adherence) RecordTaken(ctx context.Context, scheduleID string, takenAt time.Time, method string, sideEffects []string, notes string) (AdherenceRecord, error) {
	return a.recordTaken(ctx, scheduleID, takenAt, method, sideEffects, EffectMild, notes)
}

func (a *Adherence) recordTaken(ctx context.Context, scheduleID string, takenAt time.Time, method string, sideEffects []string, severity, notes string) (AdherenceRecord, error) {
	a.mu.Lock()
	s, err := a.schedule(scheduleID)
	if err != nil {
		a.mu.Unlock()
		return AdherenceRecord{}, err
	}
	if s.Status != ScheduleActive {
		a.mu.Unlock()
		return AdherenceRecord{}, fmt.Errorf("%w: %s", ErrScheduleInactive, scheduleID)
	}
	sched := *s
	now := a.now()
	if takenAt.IsZero() {
		takenAt = now
	}
	takenAt = takenAt.UTC()
	due := nearestDose(sched, takenAt)
	status := DoseTaken
	if takenAt.Sub(due) > lateAfter {
		status = DoseLate
	}
	rec := AdherenceRecord{
		RecordID:           types.NewID("adh", now),
		ScheduleID:         scheduleID,
		PatientID:          sched.PatientID,
		ScheduledAt:        due,
		TakenAt:            &takenAt,
		Status:             status,
		ConfirmationMethod: firstNonEmpty(method, "voice"),
		SideEffects:        append([]string(nil), sideEffects...),
		Notes:              notes,
		RecordedAt:         now,
	}
	a.records = append(a.records, rec)
	a.mu.Unlock()

	if len(sideEffects) > 0 {
		if _, err := a.ReportSideEffects(ctx, scheduleID, sideEffects, severity); err != nil {
			a.logger.Warn("side effect report failed", "schedule_id", scheduleID, "error", err)
		}
	}
	a.rec.record(ctx, sched.TenantID, rec.RecordID, types.EventDataAccess, map[string]any{
		"action":       "medication_taken_recorded",
		"schedule_id":  scheduleID,
		"patient_id":   sched.PatientID,
		"status":       string(status),
		"side_effects": len(sideEffects),
	}, nil)
	return rec, nil
}

// RecordMissed records a missed dose. When adherence over the last week
// falls below 80% the non-adherence workflow is raised.
func (a *Adherence) RecordMissed(ctx context.Context, scheduleID string, scheduledAt time.Time, reason string) (AdherenceRecord, error) {
	a.mu.Lock()
	s, err := a.schedule(scheduleID)
	if err != nil {
		a.mu.Unlock()
		return AdherenceRecord{}, err
	}
	sched := *s
	now := a.now()
	rec := AdherenceRecord{
		RecordID:    types.NewID("adh", now),
		ScheduleID:  scheduleID,
		PatientID:   sched.PatientID,
		ScheduledAt: scheduledAt.UTC(),
		Status:      DoseMissed,
		Notes:       reason,
		RecordedAt:  now,
	}
	a.records = append(a.records, rec)
	a.mu.Unlock()

	a.rec.record(ctx, sched.TenantID, rec.RecordID, types.EventDataAccess, map[string]any{
		"action":      "medication_missed_recorded",
		"schedule_id": scheduleID,
		"patient_id":  sched.PatientID,
		"reason":      reason,
	}, nil)

	m := a.Metrics(sched.PatientID, scheduleID, now.Add(-adherenceWindow), now)
	if a.workflow != nil && m.AdherenceRate < adherenceFloorPct {
		if _, err := a.workflow.Evaluate(ctx, sched.TenantID, sched.PatientID, ConditionMedicationNonAdherence, WorkflowContext{
			CallID:  rec.RecordID,
			Message: fmt.Sprintf("Patient missed %s dose; adherence is %.1f%%", sched.MedicationName, m.AdherenceRate),
			Metadata: map[string]any{
				"schedule_id":     scheduleID,
				"medication_name": sched.MedicationName,
				"adherence_rate":  m.AdherenceRate,
			},
		}); err != nil {
			a.logger.Warn("non-adherence workflow failed", "schedule_id", scheduleID, "error", err)
		}
	}
	return rec, nil
}

// InitiateCheck opens an adherence check for the schedule's dose nearest to
// now.
func (a *Adherence) InitiateCheck(ctx context.Context, scheduleID string, typ CheckType) (AdherenceCheck, error) {
	if typ == "" {
		typ = CheckAutomatedCall
	}
	a.mu.Lock()
	s, err := a.schedule(scheduleID)
	if err != nil {
		a.mu.Unlock()
		return AdherenceCheck{}, err
	}
	now := a.now()
	c := &AdherenceCheck{
		CheckID:        types.NewID("check", now),
		TenantID:       s.TenantID,
		ScheduleID:     scheduleID,
		PatientID:      s.PatientID,
		MedicationName: s.MedicationName,
		ScheduledAt:    nearestDose(*s, now),
		Type:           typ,
		Status:         CheckPending,
		CreatedAt:      now,
	}
	a.checks[c.CheckID] = c
	out := *c
	a.mu.Unlock()

	a.rec.record(ctx, out.TenantID, out.CheckID, types.EventDataAccess, map[string]any{
		"action":      "adherence_check_initiated",
		"check_id":    out.CheckID,
		"schedule_id": scheduleID,
		"patient_id":  out.PatientID,
		"check_type":  string(typ),
	}, nil)
	return out, nil
}

func (a *Adherence) Check(checkID string) (AdherenceCheck, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.checks[checkID]
	if !ok {
		return AdherenceCheck{}, fmt.Errorf("%w: %s", ErrCheckNotFound, checkID)
	}
	return *c, nil
}

// CompleteCheck stores the patient's response and records the dose as taken
// or missed accordingly.
func (a *Adherence) CompleteCheck(ctx context.Context, checkID string, resp CheckResponse) (AdherenceCheck, AdherenceRecord, error) {
	a.mu.Lock()
	c, ok := a.checks[checkID]
	if !ok {
		a.mu.Unlock()
		return AdherenceCheck{}, AdherenceRecord{}, fmt.Errorf("%w: %s", ErrCheckNotFound, checkID)
	}
	now := a.now()
	c.Status = CheckCompleted
	c.Response = &resp
	c.CompletedAt = &now
	check := *c
	a.mu.Unlock()

	var (
		rec AdherenceRecord
		err error
	)
	if resp.Taken {
		var at time.Time
		if resp.TakenAt != nil {
			at = *resp.TakenAt
		}
		rec, err = a.recordTaken(ctx, check.ScheduleID, at, "voice", resp.SideEffects, resp.SideEffectSeverity, resp.Notes)
	} else {
		rec, err = a.RecordMissed(ctx, check.ScheduleID, check.ScheduledAt, firstNonEmpty(resp.Notes, "Patient reported not taken"))
	}
	if err != nil {
		return check, AdherenceRecord{}, err
	}
	a.rec.record(ctx, check.TenantID, checkID, types.EventDataAccess, map[string]any{
		"action":   "adherence_check_completed",
		"check_id": checkID,
		"taken":    resp.Taken,
	}, nil)
	return check, rec, nil
}

// ReportSideEffects files a report. Severe effects raise the
// severe_side_effect workflow; every report is documented to the EHR.
func (a *Adherence) ReportSideEffects(ctx context.Context, scheduleID string, effects []string, severity string) (SideEffectReport, error) {
	switch severity {
	case EffectMild, EffectModerate, EffectSevere:
	case "":
		severity = EffectMild
	default:
		return SideEffectReport{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidRequest, severity)
	}
	a.mu.Lock()
	s, err := a.schedule(scheduleID)
	if err != nil {
		a.mu.Unlock()
		return SideEffectReport{}, err
	}
	sched := *s
	now := a.now()
	r := SideEffectReport{
		ReportID:       types.NewID("se", now),
		PatientID:      sched.PatientID,
		ScheduleID:     scheduleID,
		MedicationName: sched.MedicationName,
		SideEffects:    append([]string(nil), effects...),
		Severity:       severity,
		ReportedAt:     now,
	}
	a.reports = append(a.reports, r)
	a.mu.Unlock()

	joined := strings.Join(effects, ", ")
	if severity == EffectSevere && a.workflow != nil {
		if _, err := a.workflow.Evaluate(ctx, sched.TenantID, sched.PatientID, ConditionSevereSideEffect, WorkflowContext{
			CallID:  r.ReportID,
			Message: fmt.Sprintf("Severe side effects reported for %s: %s", sched.MedicationName, joined),
			Metadata: map[string]any{
				"report_id":       r.ReportID,
				"medication_name": sched.MedicationName,
			},
		}); err != nil {
			a.logger.Warn("side effect workflow failed", "report_id", r.ReportID, "error", err)
		}
	}
	if a.ehr != nil {
		note := a.ehr.CreateStructuredNote(sched.PatientID, NoteSideEffect, NoteData{
			ChiefComplaint: "Side effects: " + joined,
			Medications:    []string{sched.MedicationName + " " + sched.Dosage},
			Symptoms:       effects,
			Assessment:     fmt.Sprintf("Patient reported %s side effects from %s", severity, sched.MedicationName),
			Plan:           "Review medication and consider adjustment if needed",
		}, "", "")
		if _, err := a.ehr.DocumentToEHR(ctx, sched.TenantID, note); err != nil {
			a.logger.Warn("side effect note not documented", "report_id", r.ReportID, "error", err)
		}
	}
	a.rec.record(ctx, sched.TenantID, r.ReportID, types.EventDataAccess, map[string]any{
		"action":            "side_effect_reported",
		"report_id":         r.ReportID,
		"patient_id":        sched.PatientID,
		"medication_name":   sched.MedicationName,
		"severity":          severity,
		"side_effect_count": len(effects),
	}, nil)
	return r, nil
}

// RequestRefill asks the backend for a refill and decrements the remaining
// count on success. Business outcomes come back in the RefillOutcome; only
// an unknown schedule is an error.
func (a *Adherence) RequestRefill(ctx context.Context, scheduleID, requestedBy string) (RefillOutcome, error) {
	a.mu.Lock()
	s, err := a.schedule(scheduleID)
	if err != nil {
		a.mu.Unlock()
		return RefillOutcome{}, err
	}
	sched := *s
	a.mu.Unlock()

	if sched.RefillsRemaining <= 0 {
		return RefillOutcome{Message: "No refills remaining. Please contact your prescriber for a new prescription."}, nil
	}
	if a.backend == nil {
		return RefillOutcome{Message: "Error processing refill request. Please contact your pharmacy directly."}, nil
	}
	res, err := a.backend.ProcessPrescriptionRefill(ctx, sched.MedicationID, sched.PatientID)
	if err != nil {
		a.logger.Warn("refill request failed", "schedule_id", scheduleID, "error", err)
		return RefillOutcome{Message: "Error processing refill request. Please contact your pharmacy directly."}, nil
	}
	if !res.Success {
		return RefillOutcome{Message: firstNonEmpty(res.Message, "Refill request failed. Please contact your pharmacy.")}, nil
	}

	a.mu.Lock()
	if s.RefillsRemaining > 0 {
		s.RefillsRemaining--
	}
	s.UpdatedAt = a.now()
	remaining := s.RefillsRemaining
	a.mu.Unlock()

	a.rec.record(ctx, sched.TenantID, scheduleID, types.EventDataAccess, map[string]any{
		"action":            "medication_refill_requested",
		"schedule_id":       scheduleID,
		"patient_id":        sched.PatientID,
		"medication_name":   sched.MedicationName,
		"refills_remaining": remaining,
	}, map[string]any{"requested_by": requestedBy})
	return RefillOutcome{
		Success:  true,
		RefillID: res.RefillID,
		Message:  fmt.Sprintf("Refill request submitted. %d refills remaining.", remaining),
	}, nil
}

// Metrics summarises dose records whose scheduled time falls in [from, to].
// Taken and late doses both count toward the adherence rate; expected doses
// are counted from the schedule's start when it falls inside the window.
// An empty scheduleID aggregates every schedule of the patient.
func (a *Adherence) Metrics(patientID, scheduleID string, from, to time.Time) AdherenceMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := AdherenceMetrics{PatientID: patientID, ScheduleID: scheduleID, PeriodStart: from, PeriodEnd: to}
	for _, s := range a.schedules {
		if s.PatientID != patientID || (scheduleID != "" && s.ScheduleID != scheduleID) {
			continue
		}
		start := from
		if s.StartDate.After(start) {
			start = s.StartDate
		}
		m.TotalDoses += len(doseTimes(*s, start, to))
	}

	var delay time.Duration
	for _, r := range a.records {
		if r.PatientID != patientID || (scheduleID != "" && r.ScheduleID != scheduleID) {
			continue
		}
		if r.ScheduledAt.Before(from) || r.ScheduledAt.After(to) {
			continue
		}
		m.SideEffectCount += len(r.SideEffects)
		switch r.Status {
		case DoseTaken:
			m.DosesTaken++
		case DoseLate:
			m.DosesLate++
			delay += r.TakenAt.Sub(r.ScheduledAt)
		case DoseMissed, DoseSkipped:
			m.DosesMissed++
			if m.LastMissed == nil || r.ScheduledAt.After(*m.LastMissed) {
				t := r.ScheduledAt
				m.LastMissed = &t
			}
		}
		if r.TakenAt != nil && (m.LastTaken == nil || r.TakenAt.After(*m.LastTaken)) {
			t := *r.TakenAt
			m.LastTaken = &t
		}
	}
	if m.DosesLate > 0 {
		m.AverageDelayMinutes = int(math.Round(delay.Minutes() / float64(m.DosesLate)))
	}
	if m.TotalDoses > 0 {
		rate := float64(m.DosesTaken+m.DosesLate) / float64(m.TotalDoses) * 100
		m.AdherenceRate = math.Min(100, math.Round(rate*10)/10)
	}
	return m
}

func (a *Adherence) Schedule(scheduleID string) (MedicationSchedule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.schedule(scheduleID)
	if err != nil {
		return MedicationSchedule{}, err
	}
	return *s, nil
}

// PatientSchedules returns the patient's schedules, oldest first.
func (a *Adherence) PatientSchedules(patientID string, activeOnly bool) []MedicationSchedule {
	a.mu.Lock()
	var out []MedicationSchedule
	for _, s := range a.schedules {
		if s.PatientID == patientID && (!activeOnly || s.Status == ScheduleActive) {
			out = append(out, *s)
		}
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PatientRecords returns dose records, most recent first.
func (a *Adherence) PatientRecords(patientID, scheduleID string) []AdherenceRecord {
	a.mu.Lock()
	var out []AdherenceRecord
	for _, r := range a.records {
		if r.PatientID == patientID && (scheduleID == "" || r.ScheduleID == scheduleID) {
			out = append(out, r)
		}
	}
	a.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out
}

// SideEffectReports returns the patient's reports in filing order.
func (a *Adherence) SideEffectReports(patientID string) []SideEffectReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []SideEffectReport
	for _, r := range a.reports {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out
}

func (a *Adherence) DiscontinueSchedule(ctx context.Context, scheduleID, reason string) (MedicationSchedule, error) {
	a.mu.Lock()
	s, err := a.schedule(scheduleID)
	if err != nil {
		a.mu.Unlock()
		return MedicationSchedule{}, err
	}
	s.Status = ScheduleDiscontinued
	s.UpdatedAt = a.now()
	out := *s
	a.mu.Unlock()

	a.rec.record(ctx, out.TenantID, scheduleID, types.EventDataAccess, map[string]any{
		"action":      "medication_schedule_discontinued",
		"schedule_id": scheduleID,
		"patient_id":  out.PatientID,
		"reason":      reason,
	}, nil)
	return out, nil
}
