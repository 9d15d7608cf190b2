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
	"sort"
	"strings"
)

type FieldType int8

const (
	TypeUnknown FieldType = iota
	TypeChar
	TypeBoolean
	TypeInteger
	TypeFloat
	TypeDatetime
	TypeMany2one // reference to a single related record
	TypeOne2many // owned collection of related records
	TypeList     // list of scalar references, compared member by member
)

func (t FieldType) String() string {
	switch t {
	case TypeChar:
		return "char"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeDatetime:
		return "datetime"
	case TypeMany2one:
		return "many2one"
	case TypeOne2many:
		return "one2many"
	case TypeList:
		return "list"
	}
	return "unknown"
}

// Relational reports whether a path may continue past a field of this type
func (t FieldType) Relational() bool {
	return t == TypeMany2one || t == TypeOne2many
}

type Field struct {
	Name     string
	Type     FieldType
	Relation *Schema // set for relational fields
}

// Schema lists the fields a predicate may reference on one record type
type Schema struct {
	Name   string
	fields map[string]*Field
}

func NewSchema(name string, fields ...*Field) *Schema {
	s := &Schema{Name: name, fields: make(map[string]*Field, len(fields))}
	for _, f := range fields {
		s.Add(f)
	}
	return s
}

func (s *Schema) Add(f *Field) {
	s.fields[f.Name] = f
}

func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// FieldNames returns the sorted field names
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve walks a dotted path and returns the field found at each step
func (s *Schema) Resolve(path string) ([]*Field, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrUnknownField)
	}
	parts := strings.Split(path, ".")
	chain := make([]*Field, 0, len(parts))
	curr := s
	for i, part := range parts {
		if curr == nil {
			return nil, fmt.Errorf("%w: %s has no sub field %q", ErrUnknownField, strings.Join(parts[:i], "."), part)
		}
		f, ok := curr.Field(part)
		if !ok {
			return nil, fmt.Errorf("%w: %q on %s", ErrUnknownField, part, curr.Name)
		}
		chain = append(chain, f)
		if i < len(parts)-1 && !f.Type.Relational() {
			return nil, fmt.Errorf("%w: %q on %s is not relational", ErrUnknownField, part, curr.Name)
		}
		curr = f.Relation
	}
	return chain, nil
}
