package orchestrator

import (
	"context"
	"strings"

	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// IdentityVerifier resolves the identifier a caller keys in to a customer.
// ok=false is a failed attempt; err is reserved for the verifier itself
// being unavailable.
type IdentityVerifier interface {
	Verify(ctx context.Context, cc types.CallContext, input string) (customerID string, ok bool, err error)
}

// DigitsVerifier accepts any identifier of MinDigits to MaxDigits digits
// (4 and 10 when zero) and uses it as the customer id.
type DigitsVerifier struct {
	MinDigits int
	MaxDigits int
}

func (v DigitsVerifier) Verify(_ context.Context, _ types.CallContext, input string) (string, bool, error) {
	lo, hi := v.MinDigits, v.MaxDigits
	if lo <= 0 {
		lo = 4
	}
	if hi <= 0 {
		hi = 10
	}
	id := strings.TrimSpace(input)
	if len(id) < lo || len(id) > hi {
		return "", false, nil
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false, nil
		}
	}
	return id, true, nil
}

// VerifierFunc adapts a function to IdentityVerifier.
type VerifierFunc func(ctx context.Context, cc types.CallContext, input string) (string, bool, error)

func (f VerifierFunc) Verify(ctx context.Context, cc types.CallContext, input string) (string, bool, error) {
	return f(ctx, cc, input)
}
