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
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/schema"
)

// Struct fields are exposed under the gorm column name of the field. The
// `domain` tag overrides the name, `domain:"-"` hides the field.
const TagName = "domain"

var strategy = schema.NamingStrategy{IdentifierMaxLength: 64}

var (
	decimalType = reflect.TypeOf(decimal.Decimal{})
	timeType    = reflect.TypeOf(time.Time{})
)

type structField struct {
	index []int
	typ   FieldType
}

type structInfo struct {
	schema *Schema
	fields map[string]structField
}

var (
	infoMu sync.Mutex
	infos  = map[reflect.Type]*structInfo{}
)

func getTagValue(tag, attr string) string {
	for _, p := range strings.Split(tag, ";") {
		if strings.HasPrefix(p, attr+":") {
			return strings.TrimSpace(strings.TrimPrefix(p, attr+":"))
		}
	}
	return ""
}

func fieldName(field reflect.StructField) string {
	if name := field.Tag.Get(TagName); name != "" {
		return name
	}
	if col := getTagValue(field.Tag.Get("gorm"), "column"); col != "" {
		return col
	}
	return strategy.ColumnName("", field.Name)
}

func kindOf(t reflect.Type) (FieldType, reflect.Type) {
	switch {
	case t == decimalType:
		return TypeFloat, nil
	case t == timeType, t.Kind() == reflect.Ptr && t.Elem() == timeType:
		return TypeDatetime, nil
	case t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct:
		return TypeMany2one, t.Elem()
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Ptr && t.Elem().Elem().Kind() == reflect.Struct:
		return TypeOne2many, t.Elem().Elem()
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.String:
		return TypeList, nil
	}
	switch t.Kind() {
	case reflect.String:
		return TypeChar, nil
	case reflect.Bool:
		return TypeBoolean, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger, nil
	case reflect.Float32, reflect.Float64:
		return TypeFloat, nil
	}
	return TypeUnknown, nil
}

// structInfoOf builds the field table of a struct type. Related types are
// registered before recursing so cyclic relations terminate.
func structInfoOf(t reflect.Type) *structInfo {
	infoMu.Lock()
	defer infoMu.Unlock()
	return buildInfo(t)
}

func buildInfo(t reflect.Type) *structInfo {
	if info, ok := infos[t]; ok {
		return info
	}
	info := &structInfo{
		schema: NewSchema(strategy.TableName(t.Name())),
		fields: map[string]structField{},
	}
	infos[t] = info
	addFields(info, t, nil)
	return info
}

func addFields(info *structInfo, t reflect.Type, index []int) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || field.Tag.Get(TagName) == "-" {
			continue
		}
		idx := append(append([]int{}, index...), i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			addFields(info, field.Type, idx)
			continue
		}
		typ, related := kindOf(field.Type)
		if typ == TypeUnknown {
			continue
		}
		name := fieldName(field)
		f := &Field{Name: name, Type: typ}
		if related != nil {
			f.Relation = buildInfo(related).schema
		}
		info.schema.Add(f)
		info.fields[name] = structField{index: idx, typ: typ}
	}
}

// SchemaOf derives the predicate schema of a struct (or pointer to struct)
func SchemaOf(v any) *Schema {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("SchemaOf expects a struct, got %T", v))
	}
	return structInfoOf(t).schema
}

type structRecord struct {
	val  reflect.Value
	info *structInfo
}

// StructRecord exposes a struct (or pointer to struct) as a Record. A nil
// pointer gives a nil Record.
func StructRecord(v any) Record {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		panic(fmt.Sprintf("StructRecord expects a struct, got %T", v))
	}
	return &structRecord{val: rv, info: structInfoOf(rv.Type())}
}

func (r *structRecord) Get(name string) (any, error) {
	f, ok := r.info.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %s", ErrUnknownField, name, r.info.schema.Name)
	}
	return exportValue(r.val.FieldByIndex(f.index), f.typ), nil
}

func exportValue(fv reflect.Value, typ FieldType) any {
	switch typ {
	case TypeMany2one:
		if fv.IsNil() {
			return nil
		}
		return StructRecord(fv.Interface())
	case TypeOne2many:
		res := make([]Record, 0, fv.Len())
		for i := 0; i < fv.Len(); i++ {
			if item := fv.Index(i); !item.IsNil() {
				res = append(res, StructRecord(item.Interface()))
			}
		}
		return res
	case TypeList:
		res := make([]string, fv.Len())
		for i := range res {
			res[i] = fv.Index(i).String()
		}
		return res
	case TypeDatetime:
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				return nil
			}
			return fv.Elem().Interface()
		}
		return fv.Interface()
	case TypeInteger:
		if fv.CanInt() {
			return fv.Int()
		}
		return int64(fv.Uint())
	case TypeChar:
		return fv.String()
	case TypeBoolean:
		return fv.Bool()
	}
	if fv.Type() == decimalType {
		return fv.Interface()
	}
	return fv.Float()
}

// FieldValue returns the addressable struct field stored under a predicate
// field name, so callers can read or assign it by name.
func FieldValue(v any, name string) (reflect.Value, FieldType, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, TypeUnknown, fmt.Errorf("FieldValue expects a non nil pointer to struct, got %T", v)
	}
	rv = rv.Elem()
	info := structInfoOf(rv.Type())
	f, ok := info.fields[name]
	if !ok {
		return reflect.Value{}, TypeUnknown, fmt.Errorf("%w: %q on %s", ErrUnknownField, name, info.schema.Name)
	}
	return rv.FieldByIndex(f.index), f.typ, nil
}
