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

// IRefreshPolicy decides which orders get their rewards refreshed
// automatically
type IRefreshPolicy interface {
	// AllowRecompute is called with the company owning the order, nil when the
	// order has none
	AllowRecompute(order *domain.Order, company *domain.Company) bool
}

type defaultRefreshPolicy struct {
}

// AllowRecompute requires the company setting and an order still in quotation
func (p *defaultRefreshPolicy) AllowRecompute(order *domain.Order, company *domain.Company) bool {
	return company != nil && company.AutoRefreshCoupon && order.State.Editable()
}

// CreateOrders creates orders with their lines and refreshes the rewards of
// the new orders
func (e *Engine) CreateOrders(ctx context.Context, g Guard, orders ...*domain.Order) error {
	if g.Suppressed() {
		return e.createOrders(ctx, orders)
	}
	return e.run(ctx, func(ctx context.Context) error {
		if err := e.createOrders(ctx, orders); err != nil {
			return err
		}
		ids := make([]string, len(orders))
		for i, o := range orders {
			ids[i] = o.ID
		}
		return e.refresh(ctx, ids)
	})
}

// WriteOrders writes vals on the orders. The "lines" key takes the complete
// []*domain.Line set of a single order.
func (e *Engine) WriteOrders(ctx context.Context, g Guard, ids []string, vals domain.Values) error {
	if g.Suppressed() {
		return e.writeOrders(ctx, ids, vals)
	}
	// orders losing a line to the written ones are refreshed with them
	affected, err := e.movedLineParents(ctx, ids, vals)
	if err != nil {
		return err
	}
	affected.Add(ids...)
	affectedIDs := affected.ToSlice()

	return e.run(ctx, func(ctx context.Context) error {
		before, err := e.orderSnapshots(ctx, affectedIDs)
		if err != nil {
			return err
		}
		if err := e.writeOrders(ctx, ids, vals); err != nil {
			return err
		}
		after, err := e.orderSnapshots(ctx, affectedIDs)
		if err != nil {
			return err
		}
		if changed := domain.Changed(before, after); len(changed) == 0 {
			e.logger.V(1).Info("no order trigger changed", "orders", ids, "fields", vals.Fields())
			return nil
		}
		return e.refresh(ctx, affectedIDs)
	}, affectedIDs...)
}

// movedLineParents returns the orders other than ids that own lines listed
// in the "lines" value
func (e *Engine) movedLineParents(ctx context.Context, ids []string, vals domain.Values) (domain.IDSet, error) {
	res := domain.IDSet{}
	lines, ok := vals["lines"].([]*domain.Line)
	if !ok {
		return res, nil
	}
	lineIDs := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.ID != "" {
			lineIDs = append(lineIDs, l.ID)
		}
	}
	if len(lineIDs) == 0 {
		return res, nil
	}
	parents, err := e.lineParents(ctx, lineIDs)
	if err != nil {
		return nil, err
	}
	return parents.Diff(domain.MakeIDSet(ids...)), nil
}

// ConfirmOrders moves quotations to the sale state, which freezes their
// rewards
func (e *Engine) ConfirmOrders(ctx context.Context, g Guard, ids ...string) error {
	confirm := func(ctx context.Context) error {
		orders, err := e.repo.GetOrders(ctx, ids...)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if !o.State.Editable() {
				return fmt.Errorf("%w: order %s is %s", ErrInvalidState, o.ID, o.State)
			}
		}
		return e.WriteOrders(ctx, g, ids, domain.Values{"state": string(domain.StateSale)})
	}
	if g.Suppressed() {
		return confirm(ctx)
	}
	return e.run(ctx, confirm, ids...)
}

// UnlinkOrders deletes orders with their lines and rewards
func (e *Engine) UnlinkOrders(ctx context.Context, g Guard, ids ...string) error {
	if g.Suppressed() {
		return e.unlinkOrders(ctx, ids)
	}
	return e.run(ctx, func(ctx context.Context) error {
		return e.unlinkOrders(ctx, ids)
	}, ids...)
}

// CreateLines creates lines on existing orders and refreshes those orders
func (e *Engine) CreateLines(ctx context.Context, g Guard, lines ...*domain.Line) error {
	if g.Suppressed() {
		return e.createLines(ctx, lines)
	}
	parents := domain.IDSet{}
	for _, l := range lines {
		parents.Add(l.OrderID)
	}
	return e.run(ctx, func(ctx context.Context) error {
		if err := e.createLines(ctx, lines); err != nil {
			return err
		}
		return e.refresh(ctx, parents.ToSlice())
	}, parents.ToSlice()...)
}

// WriteLines writes vals on the lines. Orders owning the lines before or
// after the write are refreshed when a line trigger changed or a line moved
// to another order.
func (e *Engine) WriteLines(ctx context.Context, g Guard, ids []string, vals domain.Values) error {
	if g.Suppressed() {
		return e.writeLines(ctx, ids, vals)
	}
	lockIDs, err := e.lineParents(ctx, ids)
	if err != nil {
		return err
	}
	if target, ok := vals["order_id"].(string); ok {
		lockIDs.Add(target)
	}

	return e.run(ctx, func(ctx context.Context) error {
		lines, err := e.repo.GetLines(ctx, ids...)
		if err != nil {
			return err
		}
		before, err := domain.TakeSnapshots(lines, e.lineTriggers)
		if err != nil {
			return err
		}
		parentsBefore := parentsOf(lines)

		if err := e.writeLines(ctx, ids, vals); err != nil {
			return err
		}

		if lines, err = e.repo.GetLines(ctx, ids...); err != nil {
			return err
		}
		after, err := domain.TakeSnapshots(lines, e.lineTriggers)
		if err != nil {
			return err
		}
		parentsAfter := parentsOf(lines)

		moved := !parentsAfter.Diff(parentsBefore).Empty() || !parentsBefore.Diff(parentsAfter).Empty()
		if changed := domain.Changed(before, after); len(changed) == 0 && !moved {
			e.logger.V(1).Info("no line trigger changed", "lines", ids, "fields", vals.Fields())
			return nil
		}
		return e.refresh(ctx, parentsBefore.Union(parentsAfter).ToSlice())
	}, lockIDs.ToSlice()...)
}

// UnlinkLines deletes lines and refreshes the orders that owned them
func (e *Engine) UnlinkLines(ctx context.Context, g Guard, ids ...string) error {
	if g.Suppressed() {
		return e.unlinkLines(ctx, ids)
	}
	parents, err := e.lineParents(ctx, ids)
	if err != nil {
		return err
	}
	return e.run(ctx, func(ctx context.Context) error {
		lines, err := e.repo.GetLines(ctx, ids...)
		if err != nil {
			return err
		}
		parents := parentsOf(lines)
		if err := e.unlinkLines(ctx, ids); err != nil {
			return err
		}
		return e.refresh(ctx, parents.ToSlice())
	}, parents.ToSlice()...)
}

// RecomputeRewards recomputes the rewards of the quotations among ids, with or
// without the company setting
func (e *Engine) RecomputeRewards(ctx context.Context, ids ...string) error {
	return e.run(ctx, func(ctx context.Context) error {
		orders, err := e.repo.GetOrders(ctx, ids...)
		if err != nil {
			return err
		}
		eligible := make([]*domain.Order, 0, len(orders))
		for _, o := range orders {
			if o.State.Editable() {
				eligible = append(eligible, o)
			}
		}
		if len(eligible) == 0 {
			return nil
		}
		return e.recomputer.Recompute(ctx, e, SkipAutoRefresh, eligible)
	}, ids...)
}

// refresh recomputes the orders the refresh policy lets through, in a single
// recompute call
func (e *Engine) refresh(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	orders, err := e.repo.GetOrders(ctx, ids...)
	if err != nil {
		return err
	}
	companyIDs := domain.IDSet{}
	for _, o := range orders {
		companyIDs.Add(o.CompanyID)
	}
	companies := make(map[string]*domain.Company)
	if !companyIDs.Empty() {
		found, err := e.repo.GetCompanies(ctx, companyIDs.ToSlice()...)
		if err != nil {
			return err
		}
		for _, c := range found {
			companies[c.ID] = c
		}
	}

	eligible := make([]*domain.Order, 0, len(orders))
	for _, o := range orders {
		if !e.policy.AllowRecompute(o, companies[o.CompanyID]) {
			e.logger.V(1).Info("skip reward refresh", "order", o.ID, "state", o.State)
			continue
		}
		eligible = append(eligible, o)
	}
	if len(eligible) == 0 {
		return nil
	}
	e.logger.V(1).Info("refresh rewards", "orders", ids)
	return e.recomputer.Recompute(ctx, e, SkipAutoRefresh, eligible)
}

func (e *Engine) orderSnapshots(ctx context.Context, ids []string) (domain.Snapshots, error) {
	orders, err := e.repo.GetOrders(ctx, ids...)
	if err != nil {
		return nil, err
	}
	return domain.TakeSnapshots(orders, e.orderTriggers)
}

func (e *Engine) lineParents(ctx context.Context, ids []string) (domain.IDSet, error) {
	lines, err := e.repo.GetLines(ctx, ids...)
	if err != nil {
		return nil, err
	}
	return parentsOf(lines), nil
}

func parentsOf(lines []*domain.Line) domain.IDSet {
	res := domain.IDSet{}
	for _, l := range lines {
		res.Add(l.OrderID)
	}
	return res
}
