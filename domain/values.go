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

package domain

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bytedance/saleloyalty/expression"
)

var ErrReadonlyField = fmt.Errorf("field is read only")
var ErrInvalidValue = fmt.Errorf("invalid field value")

// Values maps field names to new values for a write
type Values map[string]any

// Fields returns the sorted field names
func (v Values) Fields() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (v Values) Has(field string) bool {
	_, ok := v[field]
	return ok
}

// Without returns a copy of the values minus the given fields
func (v Values) Without(fields ...string) Values {
	res := make(Values, len(v))
	for k, val := range v {
		res[k] = val
	}
	for _, f := range fields {
		delete(res, f)
	}
	return res
}

// Apply assigns the values to the fields of entity, a pointer to a domain
// struct. Relational collections can't be assigned this way.
func Apply(entity any, vals Values) error {
	for _, name := range vals.Fields() {
		if name == "id" {
			return fmt.Errorf("%w: %s", ErrReadonlyField, name)
		}
		fv, typ, err := expression.FieldValue(entity, name)
		if err != nil {
			return err
		}
		if err := assign(fv, typ, vals[name]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func assign(fv reflect.Value, typ expression.FieldType, val any) error {
	switch typ {
	case expression.TypeChar:
		switch t := val.(type) {
		case nil:
			fv.SetString("")
		case bool:
			if t {
				return fmt.Errorf("%w: %v", ErrInvalidValue, val)
			}
			fv.SetString("")
		case string:
			fv.SetString(t)
		default:
			rv := reflect.ValueOf(val)
			if rv.Kind() != reflect.String {
				return fmt.Errorf("%w: %v (%T)", ErrInvalidValue, val, val)
			}
			fv.SetString(rv.String())
		}
	case expression.TypeBoolean:
		b, ok := val.(bool)
		if !ok && val != nil {
			return fmt.Errorf("%w: %v (%T)", ErrInvalidValue, val, val)
		}
		fv.SetBool(b)
	case expression.TypeInteger:
		d, err := toDecimal(val)
		if err != nil {
			return err
		}
		if fv.CanInt() {
			fv.SetInt(d.IntPart())
		} else {
			fv.SetUint(uint64(d.IntPart()))
		}
	case expression.TypeFloat:
		d, err := toDecimal(val)
		if err != nil {
			return err
		}
		if fv.Type() == reflect.TypeOf(decimal.Decimal{}) {
			fv.Set(reflect.ValueOf(d))
		} else {
			fv.SetFloat(d.InexactFloat64())
		}
	case expression.TypeDatetime:
		return assignTime(fv, val)
	case expression.TypeList:
		ids, err := toStrings(val)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(ids))
	default:
		return fmt.Errorf("%w: %s field", ErrReadonlyField, typ)
	}
	return nil
}

func toDecimal(val any) (decimal.Decimal, error) {
	switch t := val.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return t, nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int32:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidValue, t)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %v (%T)", ErrInvalidValue, val, val)
}

func toStrings(val any) ([]string, error) {
	switch t := val.(type) {
	case nil:
		return nil, nil
	case []string:
		return cloneStrings(t), nil
	case []any:
		res := make([]string, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %v (%T)", ErrInvalidValue, item, item)
			}
			res[i] = s
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: %v (%T)", ErrInvalidValue, val, val)
}

func assignTime(fv reflect.Value, val any) error {
	var tm *time.Time
	switch t := val.(type) {
	case nil:
	case time.Time:
		tm = &t
	case *time.Time:
		if t != nil {
			c := *t
			tm = &c
		}
	case string:
		p, err := time.ParseInLocation(time.DateTime, t, time.UTC)
		if err != nil {
			if p, err = time.ParseInLocation(time.DateOnly, t, time.UTC); err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidValue, t)
			}
		}
		tm = &p
	default:
		return fmt.Errorf("%w: %v (%T)", ErrInvalidValue, val, val)
	}
	if fv.Kind() == reflect.Ptr {
		if tm == nil {
			fv.Set(reflect.Zero(fv.Type()))
		} else {
			fv.Set(reflect.ValueOf(tm))
		}
		return nil
	}
	if tm == nil {
		fv.Set(reflect.ValueOf(time.Time{}))
	} else {
		fv.Set(reflect.ValueOf(*tm))
	}
	return nil
}
