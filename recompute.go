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

	"github.com/bytedance/saleloyalty/domain"
	"github.com/bytedance/saleloyalty/reward"
)

// IRecomputer rebuilds the reward lines of orders from their lines and the
// programs that apply. It must be idempotent. Writes back to orders and
// lines go through the engine entry points with the guard it receives.
type IRecomputer interface {
	Recompute(ctx context.Context, e *Engine, g Guard, orders []*domain.Order) error
}

type defaultRecomputer struct {
}

// Recompute applies the running automatic programs plus the programs applied
// on the order, each subject to its order predicate and to the predicates
// and thresholds of its rules.
func (r *defaultRecomputer) Recompute(ctx context.Context, e *Engine, g Guard, orders []*domain.Order) error {
	programs, err := e.repo.ListPrograms(ctx)
	if err != nil {
		return err
	}
	for _, o := range orders {
		candidates, err := r.candidates(e, o, programs)
		if err != nil {
			return err
		}
		if err := r.apply(ctx, e, g, o, reward.Compute(o, candidates)); err != nil {
			return err
		}
	}
	return nil
}

func (r *defaultRecomputer) candidates(e *Engine, o *domain.Order, programs []*domain.Program) ([]*domain.Program, error) {
	now := e.now()
	res := make([]*domain.Program, 0)
	for _, p := range programs {
		if !p.Running(now) || (p.CompanyID != "" && p.CompanyID != o.CompanyID) {
			continue
		}
		if p.Trigger != domain.TriggerAuto && !o.HasProgram(p.ID) {
			continue
		}
		ok, err := e.evaluator.Match(p.OrderDomain, o)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		// a program reaches the order through rules whose predicate matches
		rules := make([]*domain.Rule, 0, len(p.Rules))
		for _, rule := range p.Rules {
			ok, err := e.evaluator.Match(rule.OrderDomain, o)
			if err != nil {
				return nil, err
			}
			if ok {
				rules = append(rules, rule)
			}
		}
		if len(p.Rules) > 0 && len(rules) == 0 {
			continue
		}
		cp := *p
		cp.Rules = rules
		res = append(res, &cp)
	}
	return res, nil
}

// apply stores the computed lines, keeping the ids of rewards the order
// already had, and keeps amount_discount in line with them
func (r *defaultRecomputer) apply(ctx context.Context, e *Engine, g Guard, o *domain.Order, computed []*domain.RewardLine) error {
	existing := make(map[string]*domain.RewardLine, len(o.RewardLines))
	for _, l := range o.RewardLines {
		existing[l.Key()] = l
	}

	changed := len(computed) != len(o.RewardLines)
	for _, l := range computed {
		prev, ok := existing[l.Key()]
		if !ok {
			id, err := e.newID()
			if err != nil {
				return err
			}
			l.ID = id
			changed = true
			continue
		}
		l.ID = prev.ID
		if !prev.Amount.Equal(l.Amount) || prev.Description != l.Description {
			changed = true
		}
	}
	if changed {
		if err := e.repo.ReplaceRewardLines(ctx, o.ID, computed); err != nil {
			return err
		}
	}

	total := reward.Total(computed)
	if total.Equal(o.AmountDiscount) {
		return nil
	}
	return e.WriteOrders(ctx, g, []string{o.ID}, domain.Values{"amount_discount": total})
}
