package evaluation

import (
	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
	"github.com/Strob0t/ChangeGuard/internal/domain/template"
)

// Inputs are the stage results the reconciler decides on.
type Inputs struct {
	TicketFound bool
	PolicyRisk  risk.Level
	// LLMRisk is empty when the LLM stage is disabled.
	LLMRisk     risk.Level
	Declaration template.Declaration
}

// Decision is the reconciled result for a run.
type Decision struct {
	Status      Status       `json:"status"`
	ReasonCodes []ReasonCode `json:"reason_codes"`
	SystemRisk  risk.Level   `json:"system_risk"`
}

// Reconcile applies the precedence rules in order; the first failing rule
// decides the outcome and is the only reason code reported.
func Reconcile(in Inputs) Decision {
	llm := in.LLMRisk
	if llm == "" {
		llm = risk.Low
	}
	system := risk.Max(in.PolicyRisk, llm)
	user := in.Declaration.UserRisk

	switch {
	case !in.TicketFound:
		return actionRequired(system, ReasonMissingTicketNumber)
	case user == risk.Unknown || user != system:
		return actionRequired(system, ReasonMismatchRiskLevel)
	case system == risk.Low:
		return Decision{Status: StatusCompliant, ReasonCodes: []ReasonCode{}, SystemRisk: system}
	case !in.Declaration.HasBackout():
		return actionRequired(system, ReasonMissingBackoutPlan)
	}
	return Decision{Status: StatusCompliant, ReasonCodes: []ReasonCode{}, SystemRisk: system}
}

func actionRequired(system risk.Level, code ReasonCode) Decision {
	return Decision{Status: StatusActionRequired, ReasonCodes: []ReasonCode{code}, SystemRisk: system}
}
