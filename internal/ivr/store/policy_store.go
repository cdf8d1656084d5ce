package store

import (
	"context"

	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type PolicyStore interface {
	ListPolicies(ctx context.Context) ([]types.CompliancePolicy, error)
	PutPolicy(ctx context.Context, p types.CompliancePolicy) error

	// PutScript stores a script version. Re-putting an identical version is
	// a no-op; different text for an existing version is ErrScriptVersionExists.
	PutScript(ctx context.Context, s types.DisclosureScript) error

	// ActiveScript returns the highest active version of scriptID.
	ActiveScript(ctx context.Context, scriptID string) (types.DisclosureScript, error)
	ScriptVersion(ctx context.Context, scriptID string, version int) (types.DisclosureScript, error)
	ListScripts(ctx context.Context) ([]types.DisclosureScript, error)
}

// FlowStore holds the static call flows loaded at startup.
type FlowStore interface {
	PutFlow(ctx context.Context, f types.CallFlow) error
	GetFlow(ctx context.Context, id string) (types.CallFlow, error)
	ListFlows(ctx context.Context) ([]types.CallFlow, error)
}
