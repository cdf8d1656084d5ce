package service

import "errors"

var (
	ErrInvalidTenant    = errors.New("tenant_id is required")
	ErrInvalidEventType = errors.New("unknown audit event type")
	ErrInvalidConsent   = errors.New("invalid consent request")
	ErrInvalidFormat    = errors.New("unsupported export format")
	ErrInvalidStatus    = errors.New("invalid session status")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session already ended")
	ErrFlowNotFound    = errors.New("call flow not found")
	ErrStepNotFound    = errors.New("flow step not found")
	ErrConsentNotFound = errors.New("consent record not found")
	ErrScriptNotFound  = errors.New("disclosure script not found")
	ErrInvalidPolicy   = errors.New("invalid compliance policy")
)
