package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// NoPolicyMode selects what the engine does when no policy matches a call.
type NoPolicyMode string

const (
	// NoPolicyProceed lets the call continue ungated.
	NoPolicyProceed NoPolicyMode = "proceed"
	// NoPolicyEscalate hands the call to a human.
	NoPolicyEscalate NoPolicyMode = "escalate"
)

func (m NoPolicyMode) Valid() bool { return m == NoPolicyProceed || m == NoPolicyEscalate }

// ReasonNoPolicy is the escalation reason used in NoPolicyEscalate mode.
const ReasonNoPolicy = "no_policy"

type PolicyEngine struct {
	store    store.PolicyStore
	noPolicy NoPolicyMode
	logger   *slog.Logger
}

func NewPolicyEngine(st store.PolicyStore, mode NoPolicyMode, logger *slog.Logger) *PolicyEngine {
	if !mode.Valid() {
		mode = NoPolicyProceed
	}
	return &PolicyEngine{store: st, noPolicy: mode, logger: logger}
}

// EvaluatePolicy decides the next action for the call. The first matching
// rule wins:
//
//  1. identity required and caller not authenticated → authenticate
//  2. disclosure required and consent not granted   → play_disclosure
//  3. escalation rules, in declared order            → escalate
//  4. consent_capture + "1"                          → capture_consent
//  5. consent_capture + "0"                          → escalate
//  6. otherwise                                      → proceed
func (e *PolicyEngine) EvaluatePolicy(ctx context.Context, req types.PolicyEvaluationRequest) (types.PolicyAction, error) {
	cc := req.CallContext
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = cc.TenantID
	}
	if strings.TrimSpace(tenantID) == "" {
		return types.PolicyAction{}, ErrInvalidTenant
	}

	policy, ok, err := e.SelectPolicy(ctx, tenantID, cc.Industry, cc.Region)
	if err != nil {
		return types.PolicyAction{}, err
	}
	if !ok {
		e.logger.Warn("no compliance policy matched",
			"tenant_id", tenantID,
			"industry", cc.Industry,
			"region", cc.Region,
			"call_id", req.CallID,
			"mode", string(e.noPolicy),
		)
		if e.noPolicy == NoPolicyEscalate {
			return types.PolicyAction{
				Action:           types.ActionEscalate,
				NextStep:         types.StepTransferAgent,
				EscalationReason: ReasonNoPolicy,
				Priority:         "high",
				NoPolicy:         true,
			}, nil
		}
		return types.PolicyAction{Action: types.ActionProceed, NextStep: req.CurrentStep, NoPolicy: true}, nil
	}

	if policy.RequiresIdentityVerification && !cc.Authenticated {
		return types.PolicyAction{
			Action:   types.ActionAuthenticate,
			NextStep: types.StepIdentityVerification,
			PolicyID: policy.PolicyID,
		}, nil
	}

	if policy.RequiresDisclosure && !cc.ConsentGranted {
		script, err := e.GetScript(ctx, policy.DisclosureScriptID)
		if err != nil {
			return types.PolicyAction{}, fmt.Errorf("policy %s: %w", policy.PolicyID, err)
		}
		return types.PolicyAction{
			Action:            types.ActionPlayDisclosure,
			NextStep:          types.StepConsentCapture,
			PolicyID:          policy.PolicyID,
			ScriptID:          script.ScriptID,
			ScriptVersion:     script.Version,
			RequiresConsent:   true,
			RequiresRecording: policy.RequiresConsentRecording,
		}, nil
	}

	for _, rule := range policy.EscalationRules {
		if !conditionHolds(rule.Condition, cc, req.UserInput) {
			continue
		}
		next := rule.Destination
		if next == "" {
			next = types.StepTransferAgent
		}
		return types.PolicyAction{
			Action:           types.ActionEscalate,
			NextStep:         next,
			PolicyID:         policy.PolicyID,
			EscalationReason: string(rule.Condition),
			Destination:      rule.Destination,
			Priority:         rule.Priority,
		}, nil
	}

	if req.CurrentStep == types.StepConsentCapture {
		switch strings.TrimSpace(req.UserInput) {
		case "1":
			return types.PolicyAction{
				Action:            types.ActionCaptureConsent,
				NextStep:          types.StepMainMenu,
				PolicyID:          policy.PolicyID,
				RequiresRecording: policy.RequiresConsentRecording,
				ConsentType:       types.ConsentCallRecording,
				Granted:           true,
			}, nil
		case "0":
			return types.PolicyAction{
				Action:           types.ActionEscalate,
				NextStep:         types.StepTransferAgent,
				PolicyID:         policy.PolicyID,
				EscalationReason: string(types.ConditionUserRequestedAgent),
			}, nil
		}
	}

	return types.PolicyAction{Action: types.ActionProceed, NextStep: req.CurrentStep, PolicyID: policy.PolicyID}, nil
}

// SelectPolicy resolves the policy governing a call:
//
//  1. active policy of the tenant whose industry matches or is empty
//  2. active default policy for the industry in the caller's region
//  3. active default policy for the industry in any region
//  4. active global default (default tenant, no industry)
//
// Region refinement only ever applies to defaults, never to tenant policies.
func (e *PolicyEngine) SelectPolicy(ctx context.Context, tenantID, industry, region string) (types.CompliancePolicy, bool, error) {
	all, err := e.store.ListPolicies(ctx)
	if err != nil {
		return types.CompliancePolicy{}, false, fmt.Errorf("list policies: %w", err)
	}

	if tenantID != types.DefaultTenant {
		for _, p := range all {
			if p.IsActive && p.TenantID == tenantID && (p.Industry == "" || strings.EqualFold(p.Industry, industry)) {
				return p, true, nil
			}
		}
	}

	var anyRegion *types.CompliancePolicy
	if industry != "" {
		for i, p := range all {
			if !p.IsActive || p.TenantID != types.DefaultTenant || !strings.EqualFold(p.Industry, industry) {
				continue
			}
			if region != "" && strings.EqualFold(p.Region, region) {
				return p, true, nil
			}
			if anyRegion == nil {
				anyRegion = &all[i]
			}
		}
	}
	if anyRegion != nil {
		return *anyRegion, true, nil
	}

	for _, p := range all {
		if p.IsActive && p.TenantID == types.DefaultTenant && p.Industry == "" {
			return p, true, nil
		}
	}
	return types.CompliancePolicy{}, false, nil
}

// GetScript returns the highest active version of a disclosure script.
func (e *PolicyEngine) GetScript(ctx context.Context, scriptID string) (types.DisclosureScript, error) {
	if scriptID == "" {
		return types.DisclosureScript{}, ErrScriptNotFound
	}
	s, err := e.store.ActiveScript(ctx, scriptID)
	if errors.Is(err, store.ErrNotFound) {
		return types.DisclosureScript{}, fmt.Errorf("%w: %s", ErrScriptNotFound, scriptID)
	}
	return s, err
}

func (e *PolicyEngine) GetScriptVersion(ctx context.Context, scriptID string, version int) (types.DisclosureScript, error) {
	s, err := e.store.ScriptVersion(ctx, scriptID, version)
	if errors.Is(err, store.ErrNotFound) {
		return types.DisclosureScript{}, fmt.Errorf("%w: %s v%d", ErrScriptNotFound, scriptID, version)
	}
	return s, err
}

// UpsertPolicy validates and stores p.
func (e *PolicyEngine) UpsertPolicy(ctx context.Context, p types.CompliancePolicy) error {
	if strings.TrimSpace(p.PolicyID) == "" {
		return fmt.Errorf("%w: policy_id is required", ErrInvalidPolicy)
	}
	if strings.TrimSpace(p.TenantID) == "" {
		return fmt.Errorf("%w: %s: tenant_id is required", ErrInvalidPolicy, p.PolicyID)
	}
	for _, r := range p.EscalationRules {
		if !r.Condition.Valid() {
			return fmt.Errorf("%w: %s: unknown escalation condition %q", ErrInvalidPolicy, p.PolicyID, r.Condition)
		}
	}
	if p.RequiresDisclosure && p.DisclosureScriptID == "" {
		return fmt.Errorf("%w: %s: disclosure required but no script", ErrInvalidPolicy, p.PolicyID)
	}
	p.UpdatedAt = time.Now().UTC()
	return e.store.PutPolicy(ctx, p)
}

func (e *PolicyEngine) PutScript(ctx context.Context, s types.DisclosureScript) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return e.store.PutScript(ctx, s)
}

func (e *PolicyEngine) ListPolicies(ctx context.Context) ([]types.CompliancePolicy, error) {
	return e.store.ListPolicies(ctx)
}

func (e *PolicyEngine) ListScripts(ctx context.Context) ([]types.DisclosureScript, error) {
	return e.store.ListScripts(ctx)
}
