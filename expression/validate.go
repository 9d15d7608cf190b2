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
)

var ErrUnknownField = fmt.Errorf("unknown field")
var ErrUnknownOperator = fmt.Errorf("unknown operator")
var ErrInvalidValue = fmt.Errorf("invalid value")

// Validate checks that every condition of the tree references an existing
// field with a supported operator and a value of a usable shape.
func Validate(n Node, s *Schema) error {
	switch v := n.(type) {
	case nil, Const:
		return nil
	case And:
		for _, c := range v {
			if err := Validate(c, s); err != nil {
				return err
			}
		}
	case Or:
		for _, c := range v {
			if err := Validate(c, s); err != nil {
				return err
			}
		}
	case Not:
		if v.X == nil {
			return fmt.Errorf("%w: negation without operand", ErrSyntax)
		}
		return Validate(v.X, s)
	case Condition:
		return validateCondition(v, s)
	default:
		return fmt.Errorf("%w: unexpected node %T", ErrSyntax, n)
	}
	return nil
}

func validateCondition(c Condition, s *Schema) error {
	if !c.Operator.Valid() {
		return fmt.Errorf("%w: %q in %s", ErrUnknownOperator, c.Operator, c)
	}
	chain, err := s.Resolve(c.Field)
	if err != nil {
		return err
	}
	last := chain[len(chain)-1]

	switch c.Operator {
	case OpIn, OpNotIn:
		if _, ok := c.Value.([]any); !ok {
			return fmt.Errorf("%w: %s expects a list, got %s", ErrInvalidValue, c.Operator, FormatValue(c.Value))
		}
		return nil
	case OpLike, OpNotLike, OpILike, OpNotILike, OpEqualLike, OpEqualILike:
		switch c.Value.(type) {
		case string, nil, bool:
			return nil
		}
		return fmt.Errorf("%w: %s expects a string, got %s", ErrInvalidValue, c.Operator, FormatValue(c.Value))
	}

	if _, ok := c.Value.([]any); ok {
		return fmt.Errorf("%w: %s does not accept a list", ErrInvalidValue, c.Operator)
	}
	if last.Type == TypeDatetime {
		if text, ok := c.Value.(string); ok {
			if _, err := parseTime(text); err != nil {
				return fmt.Errorf("%w: %q is not a date on %s", ErrInvalidValue, text, c.Field)
			}
		}
	}
	return nil
}

// Compile parses and validates predicate text in one step
func Compile(text string, s *Schema) (Node, error) {
	n, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if err := Validate(n, s); err != nil {
		return nil, err
	}
	return n, nil
}
