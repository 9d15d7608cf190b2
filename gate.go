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
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/saleloyalty/domain"
	"github.com/bytedance/saleloyalty/expression"
	"github.com/bytedance/saleloyalty/reward"
)

const (
	MsgCodeUnavailable      = "This code (%s) is not available for this order."
	MsgProgramUnavailable   = "The program is not available for this order."
	MsgProgramApplied       = "This program is already applied to this order."
	MsgInsufficientQuantity = "You don't have the required product quantities on your sales order."
	MsgMinimumAmount        = "A minimum of %s should be purchased to get the reward"
)

const (
	ModelProgram = "program"
	ModelRule    = "rule"
)

// ApplyResult is the outcome of applying a code or a program. A non empty
// Error is a denial meant for the user, not a failure.
type ApplyResult struct {
	Error   string
	Program *domain.Program
	Rule    *domain.Rule
	Rewards []*domain.RewardLine // reward lines the program grants on the order
}

func (r *ApplyResult) Denied() bool {
	return r.Error != ""
}

func deny(format string, args ...any) *ApplyResult {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	return &ApplyResult{Error: format}
}

// ValidationError blocks saving a predicate that does not parse or refers to
// unknown order fields
type ValidationError struct {
	Model string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Invalid domain on %s", e.Model)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IPredicateEvaluator checks and evaluates order predicates
type IPredicateEvaluator interface {
	Validate(text string) error
	Match(text string, order *domain.Order) (bool, error)
}

// DomainEvaluator evaluates predicates against the order fields. Parsed
// predicates are cached by text.
type DomainEvaluator struct {
	schema *expression.Schema
	cache  sync.Map
}

func NewDomainEvaluator() *DomainEvaluator {
	return &DomainEvaluator{schema: expression.SchemaOf(&domain.Order{})}
}

func (d *DomainEvaluator) compile(text string) (expression.Node, error) {
	if n, ok := d.cache.Load(text); ok {
		return n.(expression.Node), nil
	}
	n, err := expression.Compile(text, d.schema)
	if err != nil {
		return nil, err
	}
	d.cache.Store(text, n)
	return n, nil
}

func (d *DomainEvaluator) Validate(text string) error {
	_, err := d.compile(text)
	return err
}

// Match reports whether the order satisfies the predicate. Blank text and
// the empty predicate match every order.
func (d *DomainEvaluator) Match(text string, order *domain.Order) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return true, nil
	}
	n, err := d.compile(text)
	if err != nil {
		return false, err
	}
	if expression.IsEmpty(n) {
		return true, nil
	}
	return expression.Evaluate(n, expression.StructRecord(order))
}

// IsValidOrder evaluates a stored predicate against a single order
func (e *Engine) IsValidOrder(text string, order *domain.Order) (bool, error) {
	return e.evaluator.Match(text, order)
}

// normalizeProgramDomain turns an unset program predicate into the empty one
func normalizeProgramDomain(text string) string {
	if strings.TrimSpace(text) == "" {
		return "[]"
	}
	return text
}

func (e *Engine) validateProgram(p *domain.Program) error {
	p.OrderDomain = normalizeProgramDomain(p.OrderDomain)
	if err := e.evaluator.Validate(p.OrderDomain); err != nil {
		return &ValidationError{Model: ModelProgram, Err: err}
	}
	for _, r := range p.Rules {
		if err := e.validateRuleDomain(r.OrderDomain); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) validateRuleDomain(text string) error {
	if text == "" {
		return nil
	}
	if err := e.evaluator.Validate(text); err != nil {
		return &ValidationError{Model: ModelRule, Err: err}
	}
	return nil
}

// SaveProgram validates the predicates of the program and its rules, then
// stores it. Missing ids are generated.
func (e *Engine) SaveProgram(ctx context.Context, p *domain.Program) error {
	if err := e.validateProgram(p); err != nil {
		return err
	}
	if p.Trigger == "" {
		p.Trigger = domain.TriggerAuto
	}
	if p.ID == "" {
		id, err := e.newID()
		if err != nil {
			return err
		}
		p.ID = id
	}
	for _, r := range p.Rules {
		if r.Mode == "" {
			r.Mode = p.Trigger
		}
		if r.ID == "" {
			id, err := e.newID()
			if err != nil {
				return err
			}
			r.ID = id
		}
	}
	for _, r := range p.Rewards {
		if r.ID == "" {
			id, err := e.newID()
			if err != nil {
				return err
			}
			r.ID = id
		}
	}
	p.Link()
	return e.run(ctx, func(ctx context.Context) error {
		return e.repo.SavePrograms(ctx, p)
	})
}

// SetProgramDomain replaces the order predicate of a program
func (e *Engine) SetProgramDomain(ctx context.Context, programID, text string) error {
	text = normalizeProgramDomain(text)
	if err := e.evaluator.Validate(text); err != nil {
		return &ValidationError{Model: ModelProgram, Err: err}
	}
	return e.run(ctx, func(ctx context.Context) error {
		programs, err := e.repo.GetPrograms(ctx, programID)
		if err != nil {
			return err
		}
		programs[0].OrderDomain = text
		return e.repo.SavePrograms(ctx, programs[0])
	})
}

// SetRuleDomain replaces the order predicate of a rule, "" clears it
func (e *Engine) SetRuleDomain(ctx context.Context, ruleID, text string) error {
	if err := e.validateRuleDomain(text); err != nil {
		return err
	}
	return e.run(ctx, func(ctx context.Context) error {
		rule, err := e.repo.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		p := rule.Program
		if p == nil {
			programs, err := e.repo.GetPrograms(ctx, rule.ProgramID)
			if err != nil {
				return err
			}
			p = programs[0]
		}
		for _, r := range p.Rules {
			if r.ID == ruleID {
				r.OrderDomain = text
			}
		}
		return e.repo.SavePrograms(ctx, p)
	})
}

// triggerDomain selects the rules of running programs the order may use
func (e *Engine) triggerDomain(order *domain.Order) expression.Node {
	now := e.now()
	return expression.Conjunction(
		expression.Cond("program_id.active", expression.OpEqual, true),
		expression.Or{
			expression.Cond("program_id.company_id", expression.OpEqual, false),
			expression.Cond("program_id.company_id", expression.OpEqual, order.CompanyID),
		},
		expression.Or{
			expression.Cond("program_id.date_from", expression.OpEqual, false),
			expression.Cond("program_id.date_from", expression.OpLessEqual, now),
		},
		expression.Or{
			expression.Cond("program_id.date_to", expression.OpEqual, false),
			expression.Cond("program_id.date_to", expression.OpGreaterEqual, now),
		},
	)
}

// findCodeRules returns the rules matching the code within the trigger domain
func (e *Engine) findCodeRules(ctx context.Context, order *domain.Order, code string) ([]*domain.Rule, error) {
	programs, err := e.repo.ListPrograms(ctx)
	if err != nil {
		return nil, err
	}
	filter := expression.Conjunction(
		e.triggerDomain(order),
		expression.Cond("mode", expression.OpEqual, string(domain.TriggerWithCode)),
		expression.Cond("code", expression.OpEqual, code),
	)
	res := make([]*domain.Rule, 0)
	for _, p := range programs {
		for _, r := range p.Rules {
			ok, err := expression.Evaluate(filter, expression.StructRecord(r))
			if err != nil {
				return nil, err
			}
			if ok {
				res = append(res, r)
			}
		}
	}
	return res, nil
}

// TryApplyCode applies a coupon code to an order. The code must designate
// exactly one rule whose predicate accepts the order. The program gate is
// checked next, then the rule thresholds.
func (e *Engine) TryApplyCode(ctx context.Context, orderID, code string) (*ApplyResult, error) {
	var res *ApplyResult
	err := e.run(ctx, func(ctx context.Context) error {
		order, err := e.getOrder(ctx, orderID)
		if err != nil {
			return err
		}
		rules, err := e.findCodeRules(ctx, order, code)
		if err != nil {
			return err
		}
		if len(rules) != 1 {
			e.logger.V(1).Info("code denied", "order", orderID, "code", code, "rules", len(rules))
			res = deny(MsgCodeUnavailable, code)
			return nil
		}
		rule := rules[0]
		ok, err := e.evaluator.Match(rule.OrderDomain, order)
		if err != nil {
			return err
		}
		if !ok {
			e.logger.V(1).Info("code denied by rule predicate", "order", orderID, "code", code, "rule", rule.ID)
			res = deny(MsgCodeUnavailable, code)
			return nil
		}

		if res, err = e.checkProgram(order, rule.Program); err != nil || res != nil {
			return err
		}
		if err := reward.CheckRule(order, rule); err != nil {
			var amountErr *reward.MinimumAmountError
			switch {
			case errors.Is(err, reward.ErrInsufficientQuantity):
				res = deny(MsgInsufficientQuantity)
				return nil
			case errors.As(err, &amountErr):
				res = deny(MsgMinimumAmount, amountErr.Minimum.StringFixed(2))
				return nil
			}
			return err
		}
		if res, err = e.applyProgram(ctx, order, rule.Program); err != nil {
			return err
		}
		res.Rule = rule
		return nil
	}, orderID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TryApplyProgram applies a program to an order when the program predicate
// accepts it
func (e *Engine) TryApplyProgram(ctx context.Context, orderID, programID string) (*ApplyResult, error) {
	var res *ApplyResult
	err := e.run(ctx, func(ctx context.Context) error {
		order, err := e.getOrder(ctx, orderID)
		if err != nil {
			return err
		}
		var program *domain.Program
		programs, err := e.repo.GetPrograms(ctx, programID)
		switch {
		case errors.Is(err, domain.ErrEntityNotFound):
		case err != nil:
			return err
		default:
			program = programs[0]
		}
		res, err = e.applyProgram(ctx, order, program)
		return err
	}, orderID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// checkProgram returns the denial of p for the order, nil when the program
// can be applied
func (e *Engine) checkProgram(order *domain.Order, p *domain.Program) (*ApplyResult, error) {
	if p == nil {
		return deny(MsgProgramUnavailable), nil
	}
	ok, err := e.evaluator.Match(p.OrderDomain, order)
	if err != nil {
		return nil, err
	}
	if !ok || !p.Running(e.now()) || !order.State.Editable() ||
		(p.CompanyID != "" && p.CompanyID != order.CompanyID) {
		e.logger.V(1).Info("program denied", "order", order.ID, "program", p.ID)
		return deny(MsgProgramUnavailable), nil
	}
	if order.HasProgram(p.ID) {
		return deny(MsgProgramApplied), nil
	}
	return nil, nil
}

// applyProgram checks the program gate then records the program on the
// order and recomputes its rewards
func (e *Engine) applyProgram(ctx context.Context, order *domain.Order, p *domain.Program) (*ApplyResult, error) {
	if res, err := e.checkProgram(order, p); err != nil || res != nil {
		return res, err
	}

	programIDs := append(append([]string{}, order.ProgramIDs...), p.ID)
	if err := e.WriteOrders(ctx, SkipAutoRefresh, []string{order.ID}, domain.Values{"program_ids": programIDs}); err != nil {
		return nil, err
	}
	order, err := e.getOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if err := e.recomputer.Recompute(ctx, e, SkipAutoRefresh, []*domain.Order{order}); err != nil {
		return nil, err
	}
	if order, err = e.getOrder(ctx, order.ID); err != nil {
		return nil, err
	}

	res := &ApplyResult{Program: p, Rewards: make([]*domain.RewardLine, 0)}
	for _, l := range order.RewardLines {
		if l.ProgramID == p.ID {
			res.Rewards = append(res.Rewards, l)
		}
	}
	e.logger.Info("program applied", "order", order.ID, "program", p.ID, "rewards", len(res.Rewards))
	return res, nil
}

func (e *Engine) getOrder(ctx context.Context, id string) (*domain.Order, error) {
	orders, err := e.repo.GetOrders(ctx, id)
	if err != nil {
		return nil, err
	}
	return orders[0], nil
}
