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

// Package domain holds the sale order aggregate and the loyalty programs that
// grant rewards on it.
//
// Field names used by triggers, Values and predicates are the gorm column
// names of the struct fields (PartnerID is partner_id), unless a `domain` tag
// says otherwise.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrEntityNotFound = fmt.Errorf("entity not found")

type State string

const (
	StateDraft  State = "draft"
	StateSent   State = "sent"
	StateSale   State = "sale"
	StateDone   State = "done"
	StateCancel State = "cancel"
)

// Editable reports whether rewards of an order in this state are still
// maintained
func (s State) Editable() bool {
	return s == StateDraft || s == StateSent
}

type TriggerMode string

const (
	TriggerAuto     TriggerMode = "auto"
	TriggerWithCode TriggerMode = "with_code"
)

type DiscountMode string

const (
	DiscountPercent  DiscountMode = "percent"
	DiscountPerOrder DiscountMode = "per_order"
)

// Company owns orders and programs and carries the auto refresh setting
type Company struct {
	ID                string
	Name              string
	AutoRefreshCoupon bool
}

type Order struct {
	ID             string
	Name           string
	CompanyID      string
	PartnerID      string
	State          State
	Origin         string
	AmountDiscount decimal.Decimal // sum of reward lines, maintained by recompute
	ProgramIDs     []string        // programs applied explicitly, by code or by hand
	Lines          []*Line
	RewardLines    []*RewardLine
}

func (o *Order) GetID() string {
	return o.ID
}

func (o *Order) Line(id string) *Line {
	for _, l := range o.Lines {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (o *Order) LineIDs() []string {
	ids := make([]string, len(o.Lines))
	for i, l := range o.Lines {
		ids[i] = l.ID
	}
	return ids
}

func (o *Order) HasProgram(programID string) bool {
	for _, id := range o.ProgramIDs {
		if id == programID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the order, its lines and its reward lines
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.ProgramIDs = cloneStrings(o.ProgramIDs)
	if o.Lines != nil {
		c.Lines = make([]*Line, len(o.Lines))
		for i, l := range o.Lines {
			c.Lines[i] = l.Clone()
		}
	}
	if o.RewardLines != nil {
		c.RewardLines = make([]*RewardLine, len(o.RewardLines))
		for i, r := range o.RewardLines {
			cr := *r
			c.RewardLines[i] = &cr
		}
	}
	return &c
}

type Line struct {
	ID        string
	OrderID   string
	ProductID string
	Name      string
	Quantity  decimal.Decimal
	PriceUnit decimal.Decimal
	Discount  decimal.Decimal // percent
	UomID     string
	TaxIDs    []string
}

func (l *Line) GetID() string {
	return l.ID
}

// Subtotal is quantity * unit price with the line discount applied
func (l *Line) Subtotal() decimal.Decimal {
	gross := l.Quantity.Mul(l.PriceUnit)
	if l.Discount.IsZero() {
		return gross
	}
	return gross.Sub(gross.Mul(l.Discount).Div(hundred))
}

func (l *Line) Clone() *Line {
	if l == nil {
		return nil
	}
	c := *l
	c.TaxIDs = cloneStrings(l.TaxIDs)
	return &c
}

var hundred = decimal.NewFromInt(100)

type Program struct {
	ID          string
	Name        string
	Active      bool
	ProgramType string
	Trigger     TriggerMode
	CompanyID   string
	DateFrom    *time.Time
	DateTo      *time.Time
	OrderDomain string // predicate an order must match, "[]" matches every order
	Rules       []*Rule
	Rewards     []*Reward
}

func (p *Program) GetID() string {
	return p.ID
}

// Running reports whether the program is active and inside its date window
func (p *Program) Running(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.DateFrom != nil && now.Before(*p.DateFrom) {
		return false
	}
	if p.DateTo != nil && now.After(*p.DateTo) {
		return false
	}
	return true
}

// Clone copies the program with its rules and rewards. The copied rules point
// back to the copy.
func (p *Program) Clone() *Program {
	if p == nil {
		return nil
	}
	c := *p
	c.Rules = make([]*Rule, len(p.Rules))
	for i, r := range p.Rules {
		cr := *r
		cr.Program = &c
		c.Rules[i] = &cr
	}
	c.Rewards = make([]*Reward, len(p.Rewards))
	for i, r := range p.Rewards {
		cr := *r
		c.Rewards[i] = &cr
	}
	return &c
}

// Link sets the back references of rules and rewards to the program
func (p *Program) Link() {
	for _, r := range p.Rules {
		r.ProgramID = p.ID
		r.Program = p
	}
	for _, r := range p.Rewards {
		r.ProgramID = p.ID
	}
}

type Rule struct {
	ID            string
	ProgramID     string   `domain:"-"`
	Program       *Program `domain:"program_id"`
	Mode          TriggerMode
	Code          string
	MinimumQty    decimal.Decimal
	MinimumAmount decimal.Decimal
	OrderDomain   string // checked in addition to the program predicate, "" is skipped
}

// NewRule builds a rule with the default minimum quantity of one
func NewRule(mode TriggerMode, code string) *Rule {
	return &Rule{
		Mode:       mode,
		Code:       code,
		MinimumQty: decimal.NewFromInt(1),
	}
}

type Reward struct {
	ID           string
	ProgramID    string
	Description  string
	DiscountMode DiscountMode
	Discount     decimal.Decimal // percentage or fixed amount depending on the mode
}

// RewardLine is derived by recompute only
type RewardLine struct {
	ID          string
	OrderID     string
	ProgramID   string
	RewardID    string
	Description string
	Amount      decimal.Decimal
}

// Key identifies the reward a line stands for on its order
func (r *RewardLine) Key() string {
	return r.ProgramID + "/" + r.RewardID
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}
