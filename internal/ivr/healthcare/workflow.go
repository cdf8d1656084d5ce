package healthcare

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type ActionType string

const (
	ActionPageProvider        ActionType = "page_provider"
	ActionFlagChart           ActionType = "flag_chart"
	ActionCreateAlert         ActionType = "create_alert"
	ActionScheduleUrgentVisit ActionType = "schedule_urgent_visit"
	ActionNotifyDepartment    ActionType = "notify_department"
	ActionEscalateToNurse     ActionType = "escalate_to_nurse"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionPageProvider, ActionFlagChart, ActionCreateAlert,
		ActionScheduleUrgentVisit, ActionNotifyDepartment, ActionEscalateToNurse:
		return true
	}
	return false
}

// Workflow conditions raised by the healthcare services.
const (
	ConditionChestPain              = "chest_pain_detected"
	ConditionMedicationReaction     = "medication_adverse_reaction"
	ConditionVitalSignAbnormal      = "vital_sign_abnormal"
	ConditionMedicationNonAdherence = "medication_non_adherence"
	ConditionSevereSideEffect       = "severe_side_effect"
)

// TriageCondition names the workflow condition raised when a triage of
// condition completes at sev.
func TriageCondition(condition string, sev Severity) string {
	return condition + "_" + string(sev)
}

type WorkflowAction struct {
	Type    ActionType
	Target  string
	Message string
	// Severity overrides the trigger priority for create_alert.
	Severity Severity
	Metadata map[string]any
}

type Trigger struct {
	ID        string
	Condition string
	Priority  Severity
	Enabled   bool
	Actions   []WorkflowAction
}

type AlertType string

const (
	AlertSymptom    AlertType = "symptom"
	AlertMedication AlertType = "medication"
	AlertVitalSign  AlertType = "vital_sign"
	AlertAdherence  AlertType = "adherence"
	AlertTriage     AlertType = "triage"
	AlertGeneral    AlertType = "general"
)

type Alert struct {
	AlertID        string         `json:"alert_id"`
	TenantID       string         `json:"tenant_id"`
	PatientID      string         `json:"patient_id"`
	Type           AlertType      `json:"alert_type"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	AssignedTo     string         `json:"assigned_to,omitempty"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type FlagType string

const (
	FlagUrgentReview     FlagType = "urgent_review"
	FlagMedicationAlert  FlagType = "medication_alert"
	FlagSymptomAlert     FlagType = "symptom_alert"
	FlagFollowUpRequired FlagType = "follow_up_required"
)

type ChartFlag struct {
	PatientID string    `json:"patient_id"`
	Type      FlagType  `json:"flag_type"`
	Message   string    `json:"message"`
	Priority  Severity  `json:"priority"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Resolved  bool      `json:"resolved"`
}

// Page is a request to reach a provider.
type Page struct {
	TenantID   string
	ProviderID string
	PatientID  string
	Message    string
	Priority   Severity
	Metadata   map[string]any
}

// Pager delivers provider pages. A nil Pager skips paging.
type Pager interface {
	Page(ctx context.Context, p Page) error
}

// PagerFunc adapts a function to Pager.
type PagerFunc func(ctx context.Context, p Page) error

func (f PagerFunc) Page(ctx context.Context, p Page) error { return f(ctx, p) }

// WorkflowContext carries the call details that triggered a workflow.
type WorkflowContext struct {
	CallID   string
	Message  string
	Metadata map[string]any
}

type WorkflowResult struct {
	Triggered       bool     `json:"triggered"`
	ActionsExecuted int      `json:"actions_executed"`
	AlertIDs        []string `json:"alert_ids"`
}

const systemAuthor = "voice-ai-system"

// Workflow evaluates named clinical conditions and runs the actions of the
// matching trigger: paging providers, flagging charts and raising alerts.
type Workflow struct {
	pager  Pager
	rec    recorder
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	triggers map[string]Trigger // by condition
	alerts   map[string]*Alert
	flags    map[string][]ChartFlag // by patient
}

// NewWorkflow returns a workflow engine loaded with the built-in triggers.
// triageConditions adds the <condition>_urgent and <condition>_high
// triggers raised by completed triage sessions.
func NewWorkflow(pager Pager, audit *service.AuditLog, logger *slog.Logger, triageConditions ...string) *Workflow {
	w := &Workflow{
		pager:    pager,
		rec:      recorder{audit: audit, logger: logger, service: "clinical_workflow"},
		logger:   logger,
		now:      utcNow,
		triggers: make(map[string]Trigger),
		alerts:   make(map[string]*Alert),
		flags:    make(map[string][]ChartFlag),
	}
	for _, t := range defaultTriggers() {
		w.triggers[t.Condition] = t
	}
	for _, c := range triageConditions {
		for _, t := range triageTriggers(c) {
			w.triggers[t.Condition] = t
		}
	}
	return w
}

func defaultTriggers() []Trigger {
	return []Trigger{
		{
			ID: "chest_pain", Condition: ConditionChestPain, Priority: SeverityUrgent, Enabled: true,
			Actions: []WorkflowAction{
				{Type: ActionPageProvider, Target: "on_call_cardiology", Message: "Patient reports chest pain - immediate review required"},
				{Type: ActionFlagChart, Target: "patient_chart", Message: "URGENT: Chest pain reported"},
				{Type: ActionCreateAlert, Target: "emergency_department", Message: "Chest pain case requires immediate attention", Severity: SeverityUrgent},
			},
		},
		{
			ID: "medication_reaction", Condition: ConditionMedicationReaction, Priority: SeverityHigh, Enabled: true,
			Actions: []WorkflowAction{
				{Type: ActionPageProvider, Target: "prescribing_physician", Message: "Patient reports adverse reaction to medication"},
				{Type: ActionFlagChart, Target: "patient_chart", Message: "Medication adverse reaction - review required"},
			},
		},
		{
			ID: "abnormal_vitals", Condition: ConditionVitalSignAbnormal, Priority: SeverityMedium, Enabled: true,
			Actions: []WorkflowAction{
				{Type: ActionCreateAlert, Target: "nursing_station", Message: "Abnormal vital signs detected", Severity: SeverityMedium},
				{Type: ActionFlagChart, Target: "patient_chart", Message: "Abnormal vital signs - follow-up recommended"},
			},
		},
		{
			ID: "medication_non_adherence", Condition: ConditionMedicationNonAdherence, Priority: SeverityMedium, Enabled: true,
			Actions: []WorkflowAction{
				{Type: ActionNotifyDepartment, Target: "pharmacy", Message: "Patient reports medication non-adherence", Metadata: map[string]any{"requires_follow_up": true}},
				{Type: ActionFlagChart, Target: "patient_chart", Message: "Medication adherence issue - intervention may be needed"},
			},
		},
		{
			ID: "severe_side_effect", Condition: ConditionSevereSideEffect, Priority: SeverityUrgent, Enabled: true,
			Actions: []WorkflowAction{
				{Type: ActionPageProvider, Target: "prescribing_physician"},
				{Type: ActionFlagChart, Target: "patient_chart"},
				{Type: ActionCreateAlert, Target: "nursing_station"},
			},
		},
	}
}

func triageTriggers(condition string) []Trigger {
	return []Trigger{
		{
			ID: "triage_" + condition + "_urgent", Condition: TriageCondition(condition, SeverityUrgent),
			Priority: SeverityUrgent, Enabled: true,
			Actions: []WorkflowAction{
				{Type: ActionPageProvider, Target: "on_call_provider"},
				{Type: ActionFlagChart, Target: "patient_chart"},
				{Type: ActionCreateAlert, Target: "emergency_department"},
			},
		},
		{
			ID: "triage_" + condition + "_high", Condition: TriageCondition(condition, SeverityHigh),
			Priority: SeverityHigh, Enabled: true,
			Actions: []WorkflowAction{
				{Type: ActionEscalateToNurse, Target: "nursing_station"},
				{Type: ActionFlagChart, Target: "patient_chart"},
			},
		},
	}
}

// RegisterTrigger adds or replaces the trigger for t.Condition.
func (w *Workflow) RegisterTrigger(t Trigger) error {
	if t.ID == "" || t.Condition == "" {
		return fmt.Errorf("%w: id and condition are required", ErrInvalidTrigger)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: %s: unknown priority %q", ErrInvalidTrigger, t.ID, t.Priority)
	}
	for _, a := range t.Actions {
		if !a.Type.Valid() {
			return fmt.Errorf("%w: %s: unknown action %q", ErrInvalidTrigger, t.ID, a.Type)
		}
	}
	w.mu.Lock()
	w.triggers[t.Condition] = t
	w.mu.Unlock()
	return nil
}

// Triggers lists the registered triggers ordered by condition.
func (w *Workflow) Triggers() []Trigger {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Trigger, 0, len(w.triggers))
	for _, t := range w.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Condition < out[j].Condition })
	return out
}

// Evaluate runs the trigger registered for condition. An unknown or disabled
// condition is not an error: the result reports Triggered=false.
//
// Each executed action is audited as escalation.triggered; a failing action
// is audited as error.occurred and the remaining actions still run.
func (w *Workflow) Evaluate(ctx context.Context, tenantID, patientID, condition string, wc WorkflowContext) (WorkflowResult, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(patientID) == "" {
		return WorkflowResult{}, fmt.Errorf("%w: tenant and patient are required", ErrInvalidRequest)
	}
	w.mu.Lock()
	trigger, ok := w.triggers[condition]
	w.mu.Unlock()
	if !ok || !trigger.Enabled {
		return WorkflowResult{AlertIDs: []string{}}, nil
	}

	res := WorkflowResult{Triggered: true, AlertIDs: []string{}}
	for _, action := range trigger.Actions {
		msg := firstNonEmpty(action.Message, wc.Message)
		meta := make(map[string]any, len(action.Metadata)+len(wc.Metadata))
		maps.Copy(meta, action.Metadata)
		maps.Copy(meta, wc.Metadata)

		alertID, err := w.execute(ctx, tenantID, patientID, condition, trigger, action, msg, meta)
		if err != nil {
			w.logger.Warn("workflow action failed",
				"condition", condition, "action", string(action.Type), "error", err)
			w.rec.record(ctx, tenantID, wc.CallID, types.EventErrorOccurred, map[string]any{
				"error":         "workflow_action_failed",
				"action_type":   string(action.Type),
				"condition":     condition,
				"error_message": err.Error(),
			}, nil)
			continue
		}
		res.ActionsExecuted++
		if alertID != "" {
			res.AlertIDs = append(res.AlertIDs, alertID)
		}
		w.rec.record(ctx, tenantID, wc.CallID, types.EventEscalationTriggered, map[string]any{
			"condition":   condition,
			"action_type": string(action.Type),
			"target":      action.Target,
			"patient_id":  patientID,
			"priority":    string(trigger.Priority),
		}, map[string]any{"trigger_id": trigger.ID})
	}
	return res, nil
}

func (w *Workflow) execute(ctx context.Context, tenantID, patientID, condition string, trigger Trigger, action WorkflowAction, msg string, meta map[string]any) (string, error) {
	switch action.Type {
	case ActionPageProvider:
		if w.pager == nil {
			w.logger.Warn("pager not configured, skipping provider page", "provider", action.Target)
			return "", nil
		}
		return "", w.pager.Page(ctx, Page{
			TenantID:   tenantID,
			ProviderID: action.Target,
			PatientID:  patientID,
			Message:    firstNonEmpty(msg, "Clinical alert requires attention"),
			Priority:   trigger.Priority,
			Metadata:   meta,
		})
	case ActionFlagChart:
		w.flagChart(ChartFlag{
			PatientID: patientID,
			Type:      flagTypeFor(condition),
			Message:   firstNonEmpty(msg, "Chart requires review"),
			Priority:  trigger.Priority,
			CreatedBy: systemAuthor,
		})
		return "", nil
	case ActionCreateAlert:
		sev := action.Severity
		if !sev.Valid() {
			sev = trigger.Priority
		}
		a := w.CreateAlert(tenantID, patientID, alertTypeFor(condition), sev, firstNonEmpty(msg, "Clinical alert"), action.Target, meta)
		return a.AlertID, nil
	case ActionScheduleUrgentVisit:
		w.CreateAlert(tenantID, patientID, AlertTriage, trigger.Priority, "Urgent visit requested: "+msg, action.Target, meta)
		return "", nil
	case ActionNotifyDepartment:
		w.CreateAlert(tenantID, patientID, AlertGeneral, trigger.Priority, firstNonEmpty(msg, "Department notification"), action.Target, meta)
		return "", nil
	case ActionEscalateToNurse:
		w.CreateAlert(tenantID, patientID, AlertTriage, trigger.Priority, firstNonEmpty(msg, "Patient requires nurse attention"), "nursing_station", meta)
		return "", nil
	}
	return "", fmt.Errorf("unknown action %q", action.Type)
}

func (w *Workflow) flagChart(f ChartFlag) {
	f.CreatedAt = w.now()
	w.mu.Lock()
	w.flags[f.PatientID] = append(w.flags[f.PatientID], f)
	w.mu.Unlock()
}

// CreateAlert raises an unacknowledged alert for a patient.
func (w *Workflow) CreateAlert(tenantID, patientID string, typ AlertType, sev Severity, msg, assignedTo string, meta map[string]any) Alert {
	now := w.now()
	a := &Alert{
		AlertID:    types.NewID("alert", now),
		TenantID:   tenantID,
		PatientID:  patientID,
		Type:       typ,
		Severity:   sev,
		Message:    msg,
		AssignedTo: assignedTo,
		CreatedAt:  now,
		Metadata:   meta,
	}
	w.mu.Lock()
	w.alerts[a.AlertID] = a
	w.mu.Unlock()
	return *a
}

// PatientAlerts returns the patient's unacknowledged alerts, oldest first.
func (w *Workflow) PatientAlerts(patientID string) []Alert {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Alert
	for _, a := range w.alerts {
		if a.PatientID == patientID && !a.Acknowledged {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (w *Workflow) PatientChartFlags(patientID string) []ChartFlag {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ChartFlag(nil), w.flags[patientID]...)
}

func (w *Workflow) AcknowledgeAlert(ctx context.Context, alertID, by string) (Alert, error) {
	w.mu.Lock()
	a, ok := w.alerts[alertID]
	if !ok {
		w.mu.Unlock()
		return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	now := w.now()
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &now
	out := *a
	w.mu.Unlock()

	w.rec.record(ctx, out.TenantID, out.AlertID, types.EventDataAccess, map[string]any{
		"action":          "alert_acknowledged",
		"alert_id":        out.AlertID,
		"acknowledged_by": by,
	}, nil)
	return out, nil
}

func flagTypeFor(condition string) FlagType {
	switch {
	case strings.Contains(condition, "chest_pain"), strings.Contains(condition, "urgent"):
		return FlagUrgentReview
	case strings.Contains(condition, "medication"):
		return FlagMedicationAlert
	case strings.Contains(condition, "symptom"), strings.Contains(condition, "triage"):
		return FlagSymptomAlert
	}
	return FlagFollowUpRequired
}

func alertTypeFor(condition string) AlertType {
	switch {
	case strings.Contains(condition, "adherence"):
		return AlertAdherence
	case strings.Contains(condition, "medication"), strings.Contains(condition, "side_effect"):
		return AlertMedication
	case strings.Contains(condition, "vital"):
		return AlertVitalSign
	case strings.Contains(condition, "triage"), strings.Contains(condition, "symptom"):
		return AlertTriage
	}
	return AlertGeneral
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
