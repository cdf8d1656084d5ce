package service

import (
	"strings"

	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// Predicate decides whether an escalation condition holds for the call.
type Predicate func(cc types.CallContext, userInput string) bool

// MaxFailedVerifications is the number of failed identity attempts after
// which a call is escalated.
const MaxFailedVerifications = 3

// predicates is the closed registry of escalation conditions. Adding a
// condition means adding a constant in types and an entry here.
var predicates = map[types.EscalationCondition]Predicate{
	types.ConditionVerificationFailed3Times: func(cc types.CallContext, _ string) bool {
		return cc.FailedVerifications >= MaxFailedVerifications
	},
	types.ConditionUserRequestedAgent: func(_ types.CallContext, in string) bool {
		in = strings.ToLower(strings.TrimSpace(in))
		return in == "0" ||
			strings.Contains(in, "agent") ||
			strings.Contains(in, "representative") ||
			strings.Contains(in, "human")
	},
	types.ConditionPaymentProcessingRequired: func(_ types.CallContext, in string) bool {
		in = strings.ToLower(in)
		return strings.Contains(in, "payment") || strings.Contains(in, "pay")
	},
}

// conditionHolds evaluates c. Unknown conditions never hold; catalog
// loading rejects them before they reach the engine.
func conditionHolds(c types.EscalationCondition, cc types.CallContext, userInput string) bool {
	p, ok := predicates[c]
	return ok && p(cc, userInput)
}
