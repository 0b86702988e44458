package findings

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Kind is the request kind being validated.
type Kind int

const (
	Create Kind = iota
	Update
	PartialUpdate
)

// Flags are the status flags of a payload; nil means not supplied.
type Flags struct {
	Active       *bool `json:"active,omitempty"`
	Verified     *bool `json:"verified,omitempty"`
	Duplicate    *bool `json:"duplicate,omitempty"`
	FalseP       *bool `json:"false_p,omitempty"`
	RiskAccepted *bool `json:"risk_accepted,omitempty"`
}

// State is a fully resolved flag set.
type State struct {
	Active       bool
	Verified     bool
	Duplicate    bool
	FalseP       bool
	RiskAccepted bool
}

// DefaultState is the flag set of a new finding before payload values apply.
var DefaultState = State{Active: true, Verified: true}

// StateOf returns the flags currently stored on f.
func StateOf(f models.Finding) State {
	return State{
		Active:       f.Active,
		Verified:     f.Verified,
		Duplicate:    f.Duplicate,
		FalseP:       f.FalseP,
		RiskAccepted: f.RiskAccepted,
	}
}

// Apply copies s onto f.
func (s State) Apply(f *models.Finding) {
	f.Active = s.Active
	f.Verified = s.Verified
	f.Duplicate = s.Duplicate
	f.FalseP = s.FalseP
	f.RiskAccepted = s.RiskAccepted
}

// Resolve fills unsupplied flags from base.
func (fl Flags) Resolve(base State) State {
	pick := func(v *bool, d bool) bool {
		if v != nil {
			return *v
		}
		return d
	}
	return State{
		Active:       pick(fl.Active, base.Active),
		Verified:     pick(fl.Verified, base.Verified),
		Duplicate:    pick(fl.Duplicate, base.Duplicate),
		FalseP:       pick(fl.FalseP, base.FalseP),
		RiskAccepted: pick(fl.RiskAccepted, base.RiskAccepted),
	}
}

// PolicySource answers product-level feature gates for a test's product.
type PolicySource interface {
	SimpleRiskAcceptance(ctx context.Context, testID int64) (bool, error)
}

// Validator enforces the finding status invariants.
type Validator struct {
	policy PolicySource
}

func NewValidator(policy PolicySource) *Validator {
	return &Validator{policy: policy}
}

// Validate resolves the effective flags for a write and checks them. On
// create existing is nil and testID names the parent test; on update the
// unsupplied flags come from existing. The first violated rule is returned.
func (v *Validator) Validate(ctx context.Context, kind Kind, flags Flags, testID int64, existing *models.Finding) (State, error) {
	base, previous := DefaultState, State{}
	if kind != Create {
		if existing == nil {
			return State{}, fmt.Errorf("findings: update without an existing instance")
		}
		base = StateOf(*existing)
		previous = base
		testID = existing.TestID
	}
	s := flags.Resolve(base)

	if s.Duplicate && (s.Active || s.Verified) {
		return s, apierr.New(apierr.KindStateConflict, "Duplicate findings cannot be verified or active").WithCode("duplicate")
	}
	if s.FalseP && s.Verified {
		return s, apierr.New(apierr.KindStateConflict, "False positive findings cannot be verified.").WithCode("false_p")
	}
	if s.RiskAccepted && s.Active && !(previous.RiskAccepted && previous.Active) {
		return s, apierr.New(apierr.KindStateConflict, "Active findings cannot be risk accepted.").WithCode("risk_accepted")
	}
	if s.RiskAccepted && !previous.RiskAccepted {
		ok, err := v.policy.SimpleRiskAcceptance(ctx, testID)
		if err != nil {
			return s, fmt.Errorf("checking simple risk acceptance: %w", err)
		}
		if !ok {
			return s, apierr.New(apierr.KindPolicyDenied,
				"Simple risk acceptance is disabled for this product, use the UI to accept this finding.").
				WithCode("risk_accepted")
		}
	}
	return s, nil
}
