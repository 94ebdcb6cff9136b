package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ListDelimiter separates members of an IN_LIST / NOT_IN_LIST value.
const ListDelimiter = ","

// Evaluation faults. They are never returned past the engine; a faulting
// condition is a non-match.
var (
	ErrTypeMismatch = errors.New("type mismatch")
	ErrBadPattern   = errors.New("invalid pattern")
)

// Condition is the precompiled predicate of one rule.
type Condition struct {
	path string
	op   domain.RuleOperator
	raw  string

	// Coerced forms of raw, prepared once per snapshot.
	num      decimal.Decimal
	numErr   error
	boolean  bool
	boolErr  error
	jsonText string
	folded   string
	members  map[string]struct{}
	numbers  []decimal.Decimal
	re       *regexp.Regexp
	reErr    error
}

// NewCondition prepares the predicate for a rule. It never fails; values
// that cannot be coerced surface as faults at evaluation time.
func NewCondition(fieldPath string, op domain.RuleOperator, value string) *Condition {
	c := &Condition{path: fieldPath, op: op, raw: value}

	switch op {
	case domain.OpEquals, domain.OpNotEquals:
		c.num, c.numErr = decimal.NewFromString(strings.TrimSpace(value))
		c.boolean, c.boolErr = strconv.ParseBool(strings.TrimSpace(value))
		if parsed, err := domain.ParseValue([]byte(value)); err == nil {
			if data, err := json.Marshal(parsed); err == nil {
				c.jsonText = string(data)
			}
		}
	case domain.OpContains, domain.OpNotContains:
		c.folded = fold(value)
	case domain.OpGreaterThan, domain.OpLessThan, domain.OpGreaterThanOrEquals, domain.OpLessThanOrEquals:
		c.num, c.numErr = decimal.NewFromString(strings.TrimSpace(value))
	case domain.OpRegex:
		c.re, c.reErr = regexp.Compile(value)
	case domain.OpInList, domain.OpNotInList:
		c.members = make(map[string]struct{})
		for _, member := range strings.Split(value, ListDelimiter) {
			member = strings.TrimSpace(member)
			c.members[fold(member)] = struct{}{}
			if d, err := decimal.NewFromString(member); err == nil {
				c.numbers = append(c.numbers, d)
			}
		}
	}
	return c
}

// Match resolves the field in record and applies the operator. A JSON null
// counts as absent. Absent fields satisfy IS_NULL only.
func (c *Condition) Match(record domain.Value) (bool, error) {
	field, ok := record.Resolve(c.path)
	present := ok && !field.IsNull()

	switch c.op {
	case domain.OpIsNull:
		return !present, nil
	case domain.OpIsNotNull:
		return present, nil
	}
	if !present {
		return false, nil
	}

	switch c.op {
	case domain.OpEquals:
		return c.equals(field)
	case domain.OpNotEquals:
		eq, err := c.equals(field)
		return !eq && err == nil, err
	case domain.OpContains:
		return strings.Contains(fold(field.Text()), c.folded), nil
	case domain.OpNotContains:
		return !strings.Contains(fold(field.Text()), c.folded), nil
	case domain.OpGreaterThan:
		cmp, err := c.compare(field)
		return err == nil && cmp > 0, err
	case domain.OpLessThan:
		cmp, err := c.compare(field)
		return err == nil && cmp < 0, err
	case domain.OpGreaterThanOrEquals:
		cmp, err := c.compare(field)
		return err == nil && cmp >= 0, err
	case domain.OpLessThanOrEquals:
		cmp, err := c.compare(field)
		return err == nil && cmp <= 0, err
	case domain.OpRegex:
		if c.reErr != nil {
			return false, fmt.Errorf("%w: %v", ErrBadPattern, c.reErr)
		}
		return c.re.MatchString(field.Text()), nil
	case domain.OpInList:
		return c.inList(field), nil
	case domain.OpNotInList:
		return !c.inList(field), nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.op)
	}
}

// equals compares the rule value coerced to the field's own type.
func (c *Condition) equals(field domain.Value) (bool, error) {
	switch field.Kind() {
	case domain.KindNumber:
		if c.numErr != nil {
			return false, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, c.raw)
		}
		return field.Num().Equal(c.num), nil
	case domain.KindBool:
		if c.boolErr != nil {
			return false, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, c.raw)
		}
		return field.Bool() == c.boolean, nil
	case domain.KindList, domain.KindMap:
		if c.jsonText == "" {
			return false, fmt.Errorf("%w: %q is not JSON", ErrTypeMismatch, c.raw)
		}
		return field.Text() == c.jsonText, nil
	default:
		return field.Str() == c.raw, nil
	}
}

// inList reports list membership. Number fields match members by decimal
// value, so 1.50 is in "1.5,2".
func (c *Condition) inList(field domain.Value) bool {
	if field.Kind() == domain.KindNumber {
		for _, d := range c.numbers {
			if field.Num().Equal(d) {
				return true
			}
		}
		return false
	}
	_, in := c.members[fold(field.Text())]
	return in
}

// compare orders the field against the rule value. Numeric strings are
// accepted on the field side.
func (c *Condition) compare(field domain.Value) (int, error) {
	if c.numErr != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, c.raw)
	}

	var n decimal.Decimal
	switch field.Kind() {
	case domain.KindNumber:
		n = field.Num()
	case domain.KindString:
		parsed, err := decimal.NewFromString(strings.TrimSpace(field.Str()))
		if err != nil {
			return 0, fmt.Errorf("%w: field %s is not numeric", ErrTypeMismatch, c.path)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("%w: field %s is %s", ErrTypeMismatch, c.path, field.Kind())
	}
	return n.Cmp(c.num), nil
}

// fold normalises text for case-insensitive comparison. Casers carry state,
// so one is built per call.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// Evaluate tests rule against record. Faults are treated as non-matches.
func Evaluate(rule *domain.FraudRule, record domain.Value) bool {
	ok, err := NewCondition(rule.FieldPath, rule.Operator, rule.Value).Match(record)
	return ok && err == nil
}
