package rules

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	// fieldPathPattern accepts dot-separated segments of word characters
	// and dashes, e.g. "applicant.address.0.zip".
	fieldPathPattern = regexp.MustCompile(`^[A-Za-z0-9_\-$]+(\.[A-Za-z0-9_\-$]+)*$`)

	// topicPattern mirrors the characters Kafka and NATS both accept.
	topicPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,249}$`)
)

// Validator checks rule submissions. Struct-level constraints come from
// validate tags; cross-field constraints are checked by hand.
type Validator struct {
	validate *validator.Validate
	compiler *Compiler
}

func newValidator(compiler *Compiler) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	v.RegisterValidation("fieldpath", func(fl validator.FieldLevel) bool {
		return fieldPathPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
		return domain.RuleOperator(fl.Field().String()).Valid()
	})
	v.RegisterValidation("action", func(fl validator.FieldLevel) bool {
		return domain.RuleAction(fl.Field().String()).Valid()
	})
	v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return domain.Severity(fl.Field().String()).Valid()
	})
	v.RegisterValidation("topic", func(fl validator.FieldLevel) bool {
		return topicPattern.MatchString(fl.Field().String())
	})

	return &Validator{validate: v, compiler: compiler}
}

// Validate returns nil or a *domain.ValidationError listing every rejected
// field of rule.
func (v *Validator) Validate(rule *domain.FraudRule) error {
	verr := domain.NewValidationError()
	if rule == nil {
		verr.Add("rule", "is required")
		return verr
	}

	v.collect(verr, "", rule)

	if _, bad := verr.Fields["operator"]; !bad {
		v.checkValue(verr, rule)
	}
	if _, bad := verr.Fields["actionType"]; !bad {
		v.checkActionConfig(verr, rule)
	}

	return verr.OrNil()
}

// checkValue enforces operator-specific constraints on the comparison value.
func (v *Validator) checkValue(verr *domain.ValidationError, rule *domain.FraudRule) {
	if rule.Operator.IgnoresValue() {
		return
	}
	if strings.TrimSpace(rule.Value) == "" {
		verr.Add("value", fmt.Sprintf("is required for operator %s", rule.Operator))
		return
	}

	switch {
	case rule.Operator.Numeric():
		if _, err := decimal.NewFromString(strings.TrimSpace(rule.Value)); err != nil {
			verr.Add("value", fmt.Sprintf("must be numeric for operator %s", rule.Operator))
		}
	case rule.Operator == domain.OpRegex:
		if _, err := regexp.Compile(rule.Value); err != nil {
			verr.Add("value", "is not a valid regular expression: "+err.Error())
		}
	}
}

// checkActionConfig parses the action config and validates its shape.
func (v *Validator) checkActionConfig(verr *domain.ValidationError, rule *domain.FraudRule) {
	cfg, err := domain.ParseActionConfig(rule.ActionType, rule.ActionConfig)
	if err != nil {
		verr.Add("actionConfig", strings.TrimPrefix(err.Error(), domain.ErrInvalidInput.Error()+": "))
		return
	}

	switch c := cfg.(type) {
	case domain.FlagConfig:
		v.collect(verr, "actionConfig.", c)
	case domain.BlockConfig:
		v.collect(verr, "actionConfig.", c)
	case domain.RouteConfig:
		v.collect(verr, "actionConfig.", c)
	case domain.EnrichConfig:
		if len(c.Expressions) > 0 {
			if _, err := v.compiler.compileExpressions(c.Expressions); err != nil {
				verr.Add("actionConfig.expressions", err.Error())
			}
		}
	}
}

// collect runs struct validation and files each failure under its JSON name.
func (v *Validator) collect(verr *domain.ValidationError, prefix string, s any) {
	err := v.validate.Struct(s)
	if err == nil {
		return
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("rule", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.Add(prefix+fe.Field(), describe(fe))
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "fieldpath":
		return "must be dot-separated segments, e.g. applicant.name"
	case "operator":
		return fmt.Sprintf("unknown operator %q", fe.Value())
	case "action":
		return fmt.Sprintf("unknown action %q", fe.Value())
	case "severity":
		return "must be one of LOW, MEDIUM, HIGH"
	case "topic":
		return "must be a valid topic name"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
