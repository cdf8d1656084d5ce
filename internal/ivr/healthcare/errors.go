package healthcare

import "errors"

var (
	ErrUnknownTool           = errors.New("unknown tool")
	ErrUnknownCondition      = errors.New("unknown triage condition")
	ErrTriageSessionNotFound = errors.New("triage session not found")
	ErrTriageCompleted       = errors.New("triage session already completed")
	ErrInvalidAnswer         = errors.New("invalid triage answer")
	ErrAlertNotFound         = errors.New("clinical alert not found")
	ErrInvalidTrigger        = errors.New("invalid workflow trigger")
	ErrEHRNotConfigured      = errors.New("ehr writer not configured")
	ErrReminderNotFound      = errors.New("reminder not found")
	ErrReminderCancelled     = errors.New("reminder is cancelled")
	ErrTemplateNotFound      = errors.New("reminder template not found")
	ErrScheduleNotFound      = errors.New("medication schedule not found")
	ErrScheduleInactive      = errors.New("medication schedule is not active")
	ErrCheckNotFound         = errors.New("adherence check not found")
	ErrInvalidRequest        = errors.New("invalid request")
)
