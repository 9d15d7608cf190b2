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

// Package reward computes the reward lines an order earns from a set of
// loyalty programs.
package reward

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bytedance/saleloyalty/domain"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

var ErrInsufficientQuantity = fmt.Errorf("insufficient product quantity")

// MinimumAmountError reports an order below the amount a rule asks for
type MinimumAmountError struct {
	Minimum decimal.Decimal
}

func (e *MinimumAmountError) Error() string {
	return fmt.Sprintf("minimum amount %s not reached", e.Minimum.StringFixed(2))
}

// Subtotal sums the discounted line subtotals of the order
func Subtotal(order *domain.Order) decimal.Decimal {
	sum := zero
	for _, l := range order.Lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

// TotalQuantity sums the quantities of all lines
func TotalQuantity(order *domain.Order) decimal.Decimal {
	sum := zero
	for _, l := range order.Lines {
		sum = sum.Add(l.Quantity)
	}
	return sum
}

// CheckRule verifies the quantity and amount thresholds of a rule
func CheckRule(order *domain.Order, rule *domain.Rule) error {
	if rule.MinimumQty.IsPositive() && TotalQuantity(order).LessThan(rule.MinimumQty) {
		return ErrInsufficientQuantity
	}
	if rule.MinimumAmount.IsPositive() && Subtotal(order).LessThan(rule.MinimumAmount) {
		return &MinimumAmountError{Minimum: rule.MinimumAmount}
	}
	return nil
}

// Reached reports whether at least one rule of the program is satisfied. A
// program without rules is always reached. Code rules only count once the
// program is applied on the order.
func Reached(order *domain.Order, program *domain.Program) bool {
	if len(program.Rules) == 0 {
		return true
	}
	for _, r := range program.Rules {
		if r.Mode == domain.TriggerWithCode && !order.HasProgram(program.ID) {
			continue
		}
		if CheckRule(order, r) == nil {
			return true
		}
	}
	return false
}

// Amount is the discount a reward grants on the given subtotal, never more
// than the subtotal itself
func Amount(r *domain.Reward, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch r.DiscountMode {
	case domain.DiscountPercent:
		amount = subtotal.Mul(r.Discount).Div(hundred)
	case domain.DiscountPerOrder:
		amount = decimal.Min(r.Discount, subtotal)
	default:
		return zero
	}
	if amount.IsNegative() {
		amount = zero
	}
	return amount.Round(2)
}

// Compute returns one reward line per reward of every program the order
// reaches. Lines are computed against the order subtotal; rewards that
// grant nothing are left out. The result carries no ids.
func Compute(order *domain.Order, programs []*domain.Program) []*domain.RewardLine {
	subtotal := Subtotal(order)
	res := make([]*domain.RewardLine, 0)
	if !subtotal.IsPositive() {
		return res
	}
	for _, p := range programs {
		if !Reached(order, p) {
			continue
		}
		for _, r := range p.Rewards {
			amount := Amount(r, subtotal)
			if amount.IsZero() {
				continue
			}
			res = append(res, &domain.RewardLine{
				OrderID:     order.ID,
				ProgramID:   p.ID,
				RewardID:    r.ID,
				Description: describe(p, r),
				Amount:      amount,
			})
		}
	}
	return res
}

// Total sums the amounts of reward lines
func Total(lines []*domain.RewardLine) decimal.Decimal {
	sum := zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	return sum
}

func describe(p *domain.Program, r *domain.Reward) string {
	if r.Description != "" {
		return r.Description
	}
	if r.DiscountMode == domain.DiscountPercent {
		return fmt.Sprintf("%s: %s%% on your order", p.Name, r.Discount.String())
	}
	return fmt.Sprintf("%s: %s off", p.Name, r.Discount.StringFixed(2))
}
