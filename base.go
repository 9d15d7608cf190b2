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
	"fmt"

	"github.com/bytedance/saleloyalty/domain"
)

var ErrMissingOrder = fmt.Errorf("line has no order")

// base mutations: what every entry point runs under SkipAutoRefresh

func (e *Engine) createOrders(ctx context.Context, orders []*domain.Order) error {
	heads := make([]*domain.Order, 0, len(orders))
	lines := make([]*domain.Line, 0)
	for _, o := range orders {
		if o.ID == "" {
			id, err := e.newID()
			if err != nil {
				return err
			}
			o.ID = id
		}
		if o.State == "" {
			o.State = domain.StateDraft
		}
		for _, l := range o.Lines {
			l.OrderID = o.ID
			lines = append(lines, l)
		}
		head := o.Clone()
		head.Lines, head.RewardLines = nil, nil
		heads = append(heads, head)
	}
	if err := e.repo.CreateOrders(ctx, heads...); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return e.CreateLines(ctx, SkipAutoRefresh, lines...)
}

func (e *Engine) writeOrders(ctx context.Context, ids []string, vals domain.Values) error {
	orders, err := e.repo.GetOrders(ctx, ids...)
	if err != nil {
		return err
	}

	var lines []*domain.Line
	replaceLines := vals.Has("lines")
	if replaceLines {
		if len(orders) != 1 {
			return fmt.Errorf("%w: lines are replaced on one order at a time", domain.ErrInvalidValue)
		}
		switch v := vals["lines"].(type) {
		case nil:
		case []*domain.Line:
			lines = v
		default:
			return fmt.Errorf("%w: lines expects []*domain.Line, got %T", domain.ErrInvalidValue, v)
		}
	}

	rest := vals.Without("lines")
	if fields := rest.Fields(); len(fields) > 0 {
		for _, o := range orders {
			if err := domain.Apply(o, rest); err != nil {
				return fmt.Errorf("order %s: %w", o.ID, err)
			}
		}
		if err := e.repo.UpdateOrders(ctx, fields, orders...); err != nil {
			return err
		}
	}

	if replaceLines {
		return e.setOrderLines(ctx, orders[0], lines)
	}
	return nil
}

// setOrderLines makes lines the line set of the order. Lines without id are
// created, lines of other orders are moved and missing ones are unlinked.
func (e *Engine) setOrderLines(ctx context.Context, o *domain.Order, lines []*domain.Line) error {
	keep := domain.IDSet{}
	created := make([]*domain.Line, 0)
	for _, l := range lines {
		if l.ID == "" {
			l.OrderID = o.ID
			created = append(created, l)
			continue
		}
		keep.Add(l.ID)
	}
	current := domain.MakeIDSet(o.LineIDs()...)

	if drop := current.Diff(keep); !drop.Empty() {
		if err := e.UnlinkLines(ctx, SkipAutoRefresh, drop.ToSlice()...); err != nil {
			return err
		}
	}
	if moved := keep.Diff(current); !moved.Empty() {
		if err := e.WriteLines(ctx, SkipAutoRefresh, moved.ToSlice(), domain.Values{"order_id": o.ID}); err != nil {
			return err
		}
	}
	if len(created) > 0 {
		return e.CreateLines(ctx, SkipAutoRefresh, created...)
	}
	return nil
}

func (e *Engine) unlinkOrders(ctx context.Context, ids []string) error {
	return e.repo.DeleteOrders(ctx, ids...)
}

func (e *Engine) createLines(ctx context.Context, lines []*domain.Line) error {
	parents := domain.IDSet{}
	for _, l := range lines {
		if l.OrderID == "" {
			return ErrMissingOrder
		}
		parents.Add(l.OrderID)
	}
	if _, err := e.repo.GetOrders(ctx, parents.ToSlice()...); err != nil {
		return err
	}
	for _, l := range lines {
		if l.ID == "" {
			id, err := e.newID()
			if err != nil {
				return err
			}
			l.ID = id
		}
	}
	return e.repo.CreateLines(ctx, lines...)
}

func (e *Engine) writeLines(ctx context.Context, ids []string, vals domain.Values) error {
	lines, err := e.repo.GetLines(ctx, ids...)
	if err != nil {
		return err
	}
	if v, ok := vals["order_id"]; ok {
		target, _ := v.(string)
		if target == "" {
			return ErrMissingOrder
		}
		if _, err := e.repo.GetOrders(ctx, target); err != nil {
			return err
		}
	}
	for _, l := range lines {
		if err := domain.Apply(l, vals); err != nil {
			return fmt.Errorf("line %s: %w", l.ID, err)
		}
	}
	return e.repo.UpdateLines(ctx, vals.Fields(), lines...)
}

func (e *Engine) unlinkLines(ctx context.Context, ids []string) error {
	return e.repo.DeleteLines(ctx, ids...)
}
