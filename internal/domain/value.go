package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is an immutable tagged tree decoded from an application record.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  decimal.Decimal
	b    bool
	list []Value
	m    map[string]Value
}

// Constructors for each variant.
func NullValue() Value {
	return Value{}
}

func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

func NumberValue(d decimal.Decimal) Value {
	return Value{kind: KindNumber, num: d}
}

func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func ListValue(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

func MapValue(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindMap, m: fields}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) Str() string {
	return v.str
}

func (v Value) Num() decimal.Decimal {
	return v.num
}

func (v Value) Bool() bool {
	return v.b
}

func (v Value) Items() []Value {
	return v.list
}

// Field returns a direct child of a map value.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	child, ok := v.m[key]
	return child, ok
}

// Keys returns the sorted keys of a map value.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of a map value with key set. Non-map values are
// promoted to an empty map first.
func (v Value) With(key string, child Value) Value {
	fields := make(map[string]Value, len(v.m)+1)
	if v.kind == KindMap {
		for k, c := range v.m {
			fields[k] = c
		}
	}
	fields[key] = child
	return Value{kind: KindMap, m: fields}
}

// Resolve walks a dot-separated path. Map segments select keys, list
// segments must be non-negative indexes. A missing segment anywhere
// yields ok=false; an explicit JSON null yields (null, true).
func (v Value) Resolve(path string) (Value, bool) {
	if path == "" {
		return Value{}, false
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch cur.kind {
		case KindMap:
			next, ok := cur.m[seg]
			if !ok {
				return Value{}, false
			}
			cur = next
		case KindList:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.list) {
				return Value{}, false
			}
			cur = cur.list[idx]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Text is the string form used by substring, list and regex operators.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList, KindMap:
		data, _ := json.Marshal(v)
		return string(data)
	default:
		return ""
	}
}

// Interface converts the tree to plain Go values. Numbers become float64,
// which is what CEL activations expect.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num.InexactFloat64()
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, child := range v.m {
			out[k] = child.Interface()
		}
		return out
	default:
		return nil
	}
}

// jsonValue is like Interface but keeps numbers exact.
func (v Value) jsonValue() any {
	switch v.kind {
	case KindNumber:
		return json.Number(v.num.String())
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.jsonValue()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, child := range v.m {
			out[k] = child.jsonValue()
		}
		return out
	default:
		return v.Interface()
	}
}

// MarshalJSON encodes the tree with sorted map keys.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.jsonValue())
}

// UnmarshalJSON decodes any JSON document into the tree.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue decodes a JSON document, keeping numbers as decimals.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return ValueOf(raw)
}

// ValueOf converts decoded JSON (or plain Go scalars) into a Value.
func ValueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return x, nil
	case string:
		return StringValue(x), nil
	case bool:
		return BoolValue(x), nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return Value{}, fmt.Errorf("%w: bad number %q", ErrInvalidInput, x)
		}
		return NumberValue(d), nil
	case float64:
		return NumberValue(decimal.NewFromFloat(x)), nil
	case float32:
		return NumberValue(decimal.NewFromFloat32(x)), nil
	case int:
		return NumberValue(decimal.NewFromInt(int64(x))), nil
	case int64:
		return NumberValue(decimal.NewFromInt(x)), nil
	case decimal.Decimal:
		return NumberValue(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return ListValue(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return MapValue(fields), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported value type %T", ErrInvalidInput, raw)
	}
}
