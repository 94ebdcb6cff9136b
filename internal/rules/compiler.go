// Package rules provides rule validation, the condition evaluator and the
// first-match decision engine.
package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/shopspring/decimal"
)

// CompiledRule is an immutable, ready-to-run rule inside a snapshot.
type CompiledRule struct {
	Rule      domain.FraudRule
	Condition *Condition

	// Action is the parsed config. When the stored config cannot be read,
	// Action is nil and ActionErr explains why.
	Action    domain.ActionConfig
	ActionErr error

	enrich map[string]cel.Program
}

// Compiler validates rules and turns them into CompiledRules. It is safe
// for concurrent use.
type Compiler struct {
	env       *cel.Env
	validator *Validator
}

// NewCompiler creates the CEL environment used by ENRICH expressions.
// The application record is exposed as the map variable `app`.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("app", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &Compiler{env: env}
	c.validator = newValidator(c)
	return c, nil
}

// Validate reports every problem with a rule submission as a
// *domain.ValidationError.
func (c *Compiler) Validate(rule *domain.FraudRule) error {
	return c.validator.Validate(rule)
}

// Compile prepares a stored rule for evaluation. It never rejects a rule:
// a bad condition faults at evaluation time and a bad action config falls
// back at dispatch time.
func (c *Compiler) Compile(rule *domain.FraudRule) *CompiledRule {
	cr := &CompiledRule{
		Rule:      *rule,
		Condition: NewCondition(rule.FieldPath, rule.Operator, rule.Value),
	}

	cfg, err := domain.ParseActionConfig(rule.ActionType, rule.ActionConfig)
	if err != nil {
		cr.ActionErr = err
		return cr
	}

	if enrich, ok := cfg.(domain.EnrichConfig); ok && len(enrich.Expressions) > 0 {
		programs, err := c.compileExpressions(enrich.Expressions)
		if err != nil {
			cr.ActionErr = err
			return cr
		}
		cr.enrich = programs
	}

	cr.Action = cfg
	return cr
}

func (c *Compiler) compileExpressions(exprs map[string]string) (map[string]cel.Program, error) {
	programs := make(map[string]cel.Program, len(exprs))
	for name, expr := range exprs {
		ast, issues := c.env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("expression %q: %w", name, issues.Err())
		}
		program, err := c.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", name, err)
		}
		programs[name] = program
	}
	return programs, nil
}

// Enrichment evaluates the rule's ENRICH expressions against an
// application record. Expressions that fail are skipped and reported
// together in the returned error.
func (cr *CompiledRule) Enrichment(ctx context.Context, record domain.Value) (map[string]domain.Value, error) {
	if len(cr.enrich) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(cr.enrich))
	for name := range cr.enrich {
		names = append(names, name)
	}
	sort.Strings(names)

	activation := map[string]any{"app": record.Interface()}
	out := make(map[string]domain.Value, len(names))
	var failed []string

	for _, name := range names {
		val, _, err := cr.enrich[name].ContextEval(ctx, activation)
		if err != nil {
			failed = append(failed, name)
			continue
		}
		v, err := celToValue(val)
		if err != nil {
			failed = append(failed, name)
			continue
		}
		out[name] = v
	}

	if len(failed) > 0 {
		return out, fmt.Errorf("enrichment expressions failed: %v", failed)
	}
	return out, nil
}

// celToValue converts a CEL result into the record value tree.
func celToValue(val ref.Val) (domain.Value, error) {
	switch v := val.(type) {
	case types.Null:
		return domain.NullValue(), nil
	case types.String:
		return domain.StringValue(string(v)), nil
	case types.Bool:
		return domain.BoolValue(bool(v)), nil
	case types.Int:
		return domain.ValueOf(int64(v))
	case types.Uint:
		return domain.NumberValue(decimal.NewFromUint64(uint64(v))), nil
	case types.Double:
		return domain.ValueOf(float64(v))
	case traits.Lister:
		n, ok := v.Size().(types.Int)
		if !ok {
			return domain.Value{}, fmt.Errorf("unsupported list size %v", v.Size())
		}
		items := make([]domain.Value, 0, int(n))
		for i := types.Int(0); i < n; i++ {
			item, err := celToValue(v.Get(i))
			if err != nil {
				return domain.Value{}, err
			}
			items = append(items, item)
		}
		return domain.ListValue(items...), nil
	case traits.Mapper:
		fields := make(map[string]domain.Value)
		it := v.Iterator()
		for it.HasNext() == types.True {
			key := it.Next()
			child, err := celToValue(v.Get(key))
			if err != nil {
				return domain.Value{}, err
			}
			fields[fmt.Sprint(key.Value())] = child
		}
		return domain.MapValue(fields), nil
	default:
		return domain.Value{}, fmt.Errorf("unsupported CEL result type %s", val.Type().TypeName())
	}
}
