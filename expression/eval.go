//
// Copyright 2023 Bytedance Ltd. and/or its affiliates
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package expression

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is a single record a predicate is matched against.
//
// Get returns the value stored under a field name. Scalars are returned as
// string, bool, integers, floats, decimal.Decimal or time.Time; a many2one
// field returns a Record (nil when unset), a one2many field returns []Record
// and a list field returns []string.
type Record interface {
	Get(field string) (any, error)
}

// MapRecord is a Record backed by a plain map, handy for tests and ad hoc data
type MapRecord map[string]any

func (m MapRecord) Get(field string) (any, error) {
	v, ok := m[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return v, nil
}

// Evaluate reports whether the record matches the tree. The empty tree
// matches every record.
func Evaluate(n Node, rec Record) (bool, error) {
	switch v := n.(type) {
	case nil:
		return true, nil
	case Const:
		return bool(v), nil
	case And:
		for _, c := range v {
			ok, err := Evaluate(c, rec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, c := range v {
			ok, err := Evaluate(c, rec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Evaluate(v.X, rec)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case Condition:
		return evalCondition(v, rec)
	}
	return false, fmt.Errorf("%w: unexpected node %T", ErrSyntax, n)
}

// negative operators match when their positive counterpart matches no value
var negations = map[Operator]Operator{
	OpNotEqual:    OpEqual,
	OpNotEqualAlt: OpEqual,
	OpNotIn:       OpIn,
	OpNotLike:     OpLike,
	OpNotILike:    OpILike,
}

func evalCondition(c Condition, rec Record) (bool, error) {
	if !c.Operator.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
	values, err := collect(rec, strings.Split(c.Field, "."))
	if err != nil {
		return false, err
	}
	if len(values) == 0 {
		values = []any{nil}
	}

	op, negate := c.Operator, false
	if pos, ok := negations[op]; ok {
		op, negate = pos, true
	}
	matched := false
	for _, v := range values {
		ok, err := match(op, v, c.Value)
		if err != nil {
			return false, fmt.Errorf("%s: %w", c, err)
		}
		if ok {
			matched = true
			break
		}
	}
	return matched != negate, nil
}

// collect follows the path and returns every value found at its end. Related
// records at the end of the path are reduced to their identity.
func collect(rec Record, path []string) ([]any, error) {
	if rec == nil || isNilRecord(rec) {
		return nil, nil
	}
	v, err := rec.Get(path[0])
	if err != nil {
		return nil, err
	}
	rest := path[1:]
	if v == nil && len(rest) > 0 {
		return nil, nil
	}

	switch t := v.(type) {
	case Record:
		if isNilRecord(t) {
			return nil, nil
		}
		if len(rest) == 0 {
			id, err := t.Get("id")
			if err != nil {
				return nil, err
			}
			return []any{id}, nil
		}
		return collect(t, rest)
	case []Record:
		res := make([]any, 0, len(t))
		for _, r := range t {
			if len(rest) == 0 {
				id, err := r.Get("id")
				if err != nil {
					return nil, err
				}
				res = append(res, id)
				continue
			}
			sub, err := collect(r, rest)
			if err != nil {
				return nil, err
			}
			res = append(res, sub...)
		}
		return res, nil
	case []string:
		if len(rest) > 0 {
			return nil, fmt.Errorf("%w: %q is not relational", ErrUnknownField, path[0])
		}
		res := make([]any, len(t))
		for i, s := range t {
			res[i] = s
		}
		return res, nil
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: %q is not relational", ErrUnknownField, path[0])
	}
	return []any{v}, nil
}

func isNilRecord(r Record) bool {
	if r == nil {
		return true
	}
	rv := reflect.ValueOf(r)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func match(op Operator, v, target any) (bool, error) {
	switch op {
	case OpEqualIfSet:
		if target == nil || target == false {
			return true, nil
		}
		return equal(v, target), nil
	case OpEqual:
		if target == nil || target == false {
			return isFalsy(v), nil
		}
		return equal(v, target), nil
	case OpIn:
		items, ok := target.([]any)
		if !ok {
			return false, fmt.Errorf("%w: in expects a list", ErrInvalidValue)
		}
		for _, item := range items {
			if (item == nil || item == false) && isFalsy(v) {
				return true, nil
			}
			if equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		if v == nil || target == nil {
			return false, nil
		}
		cmp, ok := compare(v, target)
		if !ok {
			return false, nil
		}
		switch op {
		case OpLess:
			return cmp < 0, nil
		case OpLessEqual:
			return cmp <= 0, nil
		case OpGreater:
			return cmp > 0, nil
		}
		return cmp >= 0, nil
	case OpLike, OpILike, OpEqualLike, OpEqualILike:
		pattern, ok := target.(string)
		if !ok {
			// like False matches unset values
			return isFalsy(v), nil
		}
		s, ok := asString(v)
		if !ok {
			return false, nil
		}
		// like and ilike match anywhere in the value
		if op == OpLike || op == OpILike {
			pattern = "%" + pattern + "%"
		}
		re, err := likeRegexp(pattern, op == OpILike || op == OpEqualILike)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return re.MatchString(s), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
}

// likeRegexp translates an SQL pattern where % matches any run of characters
// and _ a single one
func likeRegexp(pattern string, fold bool) (*regexp.Regexp, error) {
	var sb strings.Builder
	if fold {
		sb.WriteString("(?i)")
	}
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case decimal.Decimal:
		return t.IsZero()
	case time.Time:
		return t.IsZero()
	case *time.Time:
		return t == nil || t.IsZero()
	case Record:
		return isNilRecord(t)
	}
	if d, ok := asDecimal(v); ok {
		return d.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Ptr:
		return rv.IsNil()
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if da, ok := asDecimal(a); ok {
		if db, ok := asDecimal(b); ok {
			return da.Equal(db)
		}
		if s, ok := b.(string); ok {
			return formatDecimal(da) == s
		}
		return false
	}
	if db, ok := asDecimal(b); ok {
		if s, ok := a.(string); ok {
			return formatDecimal(db) == s
		}
		return false
	}
	if cmp, ok := compareTime(a, b); ok {
		return cmp == 0
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	if da, ok := asDecimal(a); ok {
		if db, ok := asDecimal(b); ok {
			return da.Cmp(db), true
		}
		return 0, false
	}
	if cmp, ok := compareTime(a, b); ok {
		return cmp, true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func compareTime(a, b any) (int, bool) {
	ta, okA := asTime(a)
	tb, okB := asTime(b)
	if !okA || !okB {
		return 0, false
	}
	// at least one side must be an actual time, two strings compare as text
	if _, isStr := a.(string); isStr {
		if _, isStr := b.(string); isStr {
			return 0, false
		}
	}
	return ta.Compare(tb), true
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		tm, err := parseTime(t)
		return tm, err == nil
	}
	return time.Time{}, false
}

var timeLayouts = []string{time.DateTime, time.DateOnly, time.RFC3339}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case *decimal.Decimal:
		if t == nil {
			return decimal.Zero, false
		}
		return *t, true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int8:
		return decimal.NewFromInt(int64(t)), true
	case int16:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case uint:
		return decimal.NewFromInt(int64(t)), true
	case uint32:
		return decimal.NewFromInt(int64(t)), true
	case uint64:
		return decimal.NewFromInt(int64(t)), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case float64:
		return decimal.NewFromFloat(t), true
	}
	return decimal.Zero, false
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return "", false
	}
	if d, ok := asDecimal(v); ok {
		return formatDecimal(d), true
	}
	return fmt.Sprint(v), true
}

func formatDecimal(d decimal.Decimal) string {
	return d.String()
}
