package lossy

import (
	"fmt"
	"math/rand/v2"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// A datagram as seen by the simulator
type Unit struct {
	Kind string // DATA, ACK or END
	Seq  uint64
	Data []byte
}

// Decides whether a unit is lost. count is how many times a unit with the
// same kind and sequence number went through the link, this one included.
type Policy interface {
	Drop(unit Unit, count int) bool
}

//
// Factory function to create the drop policy of a link
//
func BuildPolicy(loss float64, rules []string, rng *rand.Rand) (Policy, error) {
	if loss < 0 || loss > 1 {
		return nil, fmt.Errorf("loss probability %v outside [0, 1]", loss)
	}

	policies := chain{}

	if len(rules) > 0 {
		rp, err := CompileRules(rules)
		if err != nil {
			return nil, err
		}
		policies = append(policies, rp)
	}

	if loss > 0 {
		policies = append(policies, &RandomPolicy{loss, rng})
	}

	return policies, nil
}

type chain []Policy

func (c chain) Drop(unit Unit, count int) bool {
	for _, p := range c {
		if p.Drop(unit, count) {
			return true
		}
	}

	return false
}

//
// Uniform random loss, one draw per unit
//
type RandomPolicy struct {
	Loss float64
	Rng  *rand.Rand
}

func (rp *RandomPolicy) Drop(unit Unit, count int) bool {
	return rp.Rng.Float64() < rp.Loss
}

//
// Scripted loss: boolean expressions over kind, seq, count and size, e.g.
// `kind == "DATA" && seq == 0 && count == 1`
//
type RulePolicy struct {
	programs []*vm.Program
}

func ruleEnv(unit Unit, count int) map[string]any {
	return map[string]any{
		"kind":  unit.Kind,
		"seq":   int(unit.Seq),
		"count": count,
		"size":  len(unit.Data),
	}
}

func CompileRules(rules []string) (*RulePolicy, error) {
	rp := &RulePolicy{}
	env := ruleEnv(Unit{}, 0)

	for _, rule := range rules {
		program, err := expr.Compile(rule, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("can't compile drop rule %q: %w", rule, err)
		}

		rp.programs = append(rp.programs, program)
	}

	return rp, nil
}

func (rp *RulePolicy) Drop(unit Unit, count int) bool {
	env := ruleEnv(unit, count)

	for _, program := range rp.programs {
		out, err := expr.Run(program, env)
		if err != nil {
			continue
		}

		if drop, ok := out.(bool); ok && drop {
			return true
		}
	}

	return false
}
