// Package approval exposes the pending-decision queue and the risk-tier
// approval policy.
package approval

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
)

// Policy decides whether a repair requires human approval. The rule is an
// expr expression over tier, confidence, and auto_threshold, compiled once
// at construction. Whatever the expression says, production tier always
// requires sign-off: that invariant is enforced here and again inside the
// record's own transition guards, it is not configurable per tenant.
type Policy struct {
	source  string
	program *vm.Program
}

// policyEnv is the variable environment a policy expression sees.
func policyEnv(tier healing.RiskTier, confidence, autoThreshold float64) map[string]interface{} {
	return map[string]interface{}{
		"tier":           string(tier),
		"confidence":     confidence,
		"auto_threshold": autoThreshold,
	}
}

// NewPolicy compiles an approval policy expression.
func NewPolicy(source string) (*Policy, error) {
	if source == "" {
		return nil, fmt.Errorf("approval policy expression cannot be empty")
	}

	program, err := expr.Compile(source,
		expr.Env(policyEnv("", 0, 0)),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile approval policy %q: %w", source, err)
	}
	return &Policy{source: source, program: program}, nil
}

// RequiresHumanApproval evaluates the policy for one scored record.
func (p *Policy) RequiresHumanApproval(tenant types.TenantID, tier healing.RiskTier, confidence, autoThreshold float64) (bool, error) {
	if tier.IsProduction() {
		return true, nil
	}

	out, err := vm.Run(p.program, policyEnv(tier, confidence, autoThreshold))
	if err != nil {
		return true, fmt.Errorf("approval policy evaluation failed for tenant %s: %w", tenant, err)
	}
	required, ok := out.(bool)
	if !ok {
		return true, fmt.Errorf("approval policy %q did not evaluate to a boolean", p.source)
	}
	return required, nil
}
