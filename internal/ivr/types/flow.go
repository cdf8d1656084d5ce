package types

import (
	"errors"
	"fmt"
)

var ErrInvalidFlow = errors.New("invalid call flow")

type StepType string

const (
	StepSay      StepType = "say"
	StepGather   StepType = "gather"
	StepDial     StepType = "dial"
	StepRecord   StepType = "record"
	StepRedirect StepType = "redirect"
	StepHangup   StepType = "hangup"
)

func (t StepType) Valid() bool {
	switch t {
	case StepSay, StepGather, StepDial, StepRecord, StepRedirect, StepHangup:
		return true
	}
	return false
}

// Option actions understood by the session manager.
const (
	OptionRoute    = "route"
	OptionTransfer = "transfer"
)

type StepOption struct {
	Digit    string `json:"digit" yaml:"digit"`
	Label    string `json:"label" yaml:"label"`
	Action   string `json:"action" yaml:"action"`
	NextStep string `json:"next_step,omitempty" yaml:"next_step,omitempty"`
}

type Step struct {
	ID        string       `json:"id" yaml:"id"`
	Type      StepType     `json:"type" yaml:"type"`
	Message   string       `json:"message,omitempty" yaml:"message,omitempty"`
	Options   []StepOption `json:"options,omitempty" yaml:"options,omitempty"`
	Timeout   int          `json:"timeout,omitempty" yaml:"timeout,omitempty"` // seconds
	MaxDigits int          `json:"max_digits,omitempty" yaml:"max_digits,omitempty"`
	NextStep  string       `json:"next_step,omitempty" yaml:"next_step,omitempty"`

	// Dial target; empty falls back to the configured escalation number.
	PhoneNumber string `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	// Record limit in seconds.
	MaxLength         int  `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	SpeechRecognition bool `json:"speech_recognition,omitempty" yaml:"speech_recognition,omitempty"`
}

// Option returns the option bound to digit, if any.
func (s Step) Option(digit string) (StepOption, bool) {
	for _, o := range s.Options {
		if o.Digit == digit {
			return o, true
		}
	}
	return StepOption{}, false
}

// CallFlow is a directed graph of steps for one industry menu.
type CallFlow struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Industry string `json:"industry" yaml:"industry"`
	Steps    []Step `json:"steps" yaml:"steps"`
}

func (f CallFlow) Step(id string) (Step, bool) {
	for _, s := range f.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Validate checks that step ids are unique, step types are known and every
// nextStep reference resolves inside the flow.
func (f CallFlow) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidFlow)
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidFlow, f.ID)
	}
	ids := make(map[string]struct{}, len(f.Steps))
	for _, s := range f.Steps {
		if s.ID == "" {
			return fmt.Errorf("%w: %s has a step without id", ErrInvalidFlow, f.ID)
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("%w: %s: duplicate step %q", ErrInvalidFlow, f.ID, s.ID)
		}
		if !s.Type.Valid() {
			return fmt.Errorf("%w: %s/%s: unknown step type %q", ErrInvalidFlow, f.ID, s.ID, s.Type)
		}
		ids[s.ID] = struct{}{}
	}
	ref := func(step, next string) error {
		if next == "" {
			return nil
		}
		if _, ok := ids[next]; !ok {
			return fmt.Errorf("%w: %s/%s: next step %q not in flow", ErrInvalidFlow, f.ID, step, next)
		}
		return nil
	}
	for _, s := range f.Steps {
		if err := ref(s.ID, s.NextStep); err != nil {
			return err
		}
		for _, o := range s.Options {
			if o.Action != OptionRoute && o.Action != OptionTransfer {
				return fmt.Errorf("%w: %s/%s: option %s has unknown action %q", ErrInvalidFlow, f.ID, s.ID, o.Digit, o.Action)
			}
			if err := ref(s.ID, o.NextStep); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlowIDFor returns the main flow id for an industry.
func FlowIDFor(industry string) string { return industry + "_main" }
