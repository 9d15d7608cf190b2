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

package saleloyalty

import (
	"fmt"

	"github.com/bytedance/saleloyalty/domain"
	"github.com/bytedance/saleloyalty/expression"
)

var ErrUnknownTrigger = fmt.Errorf("unknown trigger field")

// ITriggerProvider gives the fields whose change refreshes rewards
type ITriggerProvider interface {
	OrderTriggers() []string
	LineTriggers() []string
}

var (
	// DefaultOrderTriggers are the line membership and the customer
	DefaultOrderTriggers = []string{"lines", "partner_id"}
	DefaultLineTriggers  = []string{"discount", "product_id", "price_unit", "uom_id", "quantity", "tax_ids"}
)

// Triggers is a static ITriggerProvider
type Triggers struct {
	Order []string
	Line  []string
}

func DefaultTriggers() Triggers {
	return Triggers{
		Order: append([]string{}, DefaultOrderTriggers...),
		Line:  append([]string{}, DefaultLineTriggers...),
	}
}

func (t Triggers) OrderTriggers() []string {
	return t.Order
}

func (t Triggers) LineTriggers() []string {
	return t.Line
}

// With returns the triggers extended with extra order and line fields, as a
// deployment configures them
func (t Triggers) With(order, line []string) Triggers {
	o := domain.MakeIDSet(t.Order...)
	o.Add(order...)
	l := domain.MakeIDSet(t.Line...)
	l.Add(line...)
	return Triggers{Order: o.ToSlice(), Line: l.ToSlice()}
}

func checkTriggers(order, line []string) error {
	orderSchema := expression.SchemaOf(&domain.Order{})
	for _, f := range order {
		if _, ok := orderSchema.Field(f); !ok {
			return fmt.Errorf("%w: order field %q", ErrUnknownTrigger, f)
		}
	}
	lineSchema := expression.SchemaOf(&domain.Line{})
	for _, f := range line {
		if _, ok := lineSchema.Field(f); !ok {
			return fmt.Errorf("%w: line field %q", ErrUnknownTrigger, f)
		}
	}
	return nil
}
