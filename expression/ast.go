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

// Package expression implements the record-matching predicate language used to
// restrict loyalty programs and rules to a subset of orders.
//
// A predicate is stored as text, a list of field comparisons in prefix (Polish)
// notation:
//
//	[('state', '=', 'draft'), '|', ('partner_id', '=', 42), ('origin', '!=', False)]
//
// Parse turns the text into a tree of Node values, Validate checks the tree
// against a Schema and Evaluate matches it against a single Record. The three
// stages are independent so a predicate can be checked when it is saved and
// evaluated later when an order asks for it.
package expression

import (
	"fmt"
)

type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpNotEqualAlt  Operator = "<>"
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqualIfSet   Operator = "=?"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not in"
	OpLike         Operator = "like"
	OpNotLike      Operator = "not like"
	OpILike        Operator = "ilike"
	OpNotILike     Operator = "not ilike"
	OpEqualLike    Operator = "=like"
	OpEqualILike   Operator = "=ilike"
)

var operators = map[Operator]bool{
	OpEqual: true, OpNotEqual: true, OpNotEqualAlt: true,
	OpLess: true, OpLessEqual: true, OpGreater: true, OpGreaterEqual: true,
	OpEqualIfSet: true, OpIn: true, OpNotIn: true,
	OpLike: true, OpNotLike: true, OpILike: true, OpNotILike: true,
	OpEqualLike: true, OpEqualILike: true,
}

// Valid reports whether the operator is part of the language
func (o Operator) Valid() bool {
	return operators[o]
}

// Node is a predicate tree. The set of implementations is closed: And, Or, Not,
// Condition and Const.
type Node interface {
	node()
}

// And matches when every child matches. An empty And always matches.
type And []Node

// Or matches when at least one child matches. An empty Or never matches.
type Or []Node

// Not inverts its child
type Not struct {
	X Node
}

// Condition compares the value found at Field (a dotted path) with Value
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Const is the constant leaf, written (1, '=', 1) or (0, '=', 1) in text form
type Const bool

func (And) node()       {}
func (Or) node()        {}
func (Not) node()       {}
func (Condition) node() {}
func (Const) node()     {}

// True is the empty predicate, satisfied by every record
var True Node = And{}

// Cond is a shorthand constructor for a Condition leaf
func Cond(field string, op Operator, value any) Condition {
	return Condition{Field: field, Operator: op, Value: value}
}

// Conjunction combines nodes with And, flattening nested conjunctions and
// dropping empty ones, which is how an applicability domain is narrowed.
func Conjunction(nodes ...Node) Node {
	res := And{}
	for _, n := range nodes {
		switch v := n.(type) {
		case nil:
			continue
		case And:
			res = append(res, v...)
		default:
			res = append(res, v)
		}
	}
	if len(res) == 1 {
		return res[0]
	}
	return res
}

// IsEmpty reports whether the node is the always-true empty predicate
func IsEmpty(n Node) bool {
	if n == nil {
		return true
	}
	a, ok := n.(And)
	return ok && len(a) == 0
}

func (c Condition) String() string {
	return fmt.Sprintf("(%s %s %v)", c.Field, c.Operator, c.Value)
}
