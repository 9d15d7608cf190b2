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

// Package mem is an in-memory repository for the loyalty engine. Records are
// copied on the way in and out, so callers never share memory with the
// store.
package mem

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/bytedance/saleloyalty/domain"
	"github.com/bytedance/saleloyalty/expression"
)

type state struct {
	seq       int
	orders    map[string]*domain.Order // heads, without lines and reward lines
	lines     map[string]*domain.Line
	rewards   map[string][]*domain.RewardLine
	companies map[string]*domain.Company
	programs  map[string]*domain.Program
	created   map[string]int // creation sequence of every record
}

func newState() *state {
	return &state{
		orders:    map[string]*domain.Order{},
		lines:     map[string]*domain.Line{},
		rewards:   map[string][]*domain.RewardLine{},
		companies: map[string]*domain.Company{},
		programs:  map[string]*domain.Program{},
		created:   map[string]int{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.orders {
		c.orders[k] = v.Clone()
	}
	for k, v := range s.lines {
		c.lines[k] = v.Clone()
	}
	for k, v := range s.rewards {
		c.rewards[k] = cloneRewards(v)
	}
	for k, v := range s.companies {
		cp := *v
		c.companies[k] = &cp
	}
	for k, v := range s.programs {
		c.programs[k] = v.Clone()
	}
	for k, v := range s.created {
		c.created[k] = v
	}
	return c
}

func (s *state) touch(kind, id string) {
	key := kind + ":" + id
	if _, ok := s.created[key]; !ok {
		s.seq++
		s.created[key] = s.seq
	}
}

func (s *state) rank(kind, id string) int {
	return s.created[kind+":"+id]
}

type Repository struct {
	mu    sync.RWMutex
	state *state
}

func NewRepository() *Repository {
	return &Repository{state: newState()}
}

type txKey struct{}

// Begin saves a copy of the store in the context, RollBack puts it back.
// Writes are visible to other callers before Commit.
func (r *Repository) Begin(ctx context.Context) (context.Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return context.WithValue(ctx, txKey{}, r.state.clone()), nil
}

func (r *Repository) Commit(ctx context.Context) error {
	if _, ok := ctx.Value(txKey{}).(*state); !ok {
		return fmt.Errorf("no transaction in context")
	}
	return nil
}

func (r *Repository) RollBack(ctx context.Context) error {
	saved, ok := ctx.Value(txKey{}).(*state)
	if !ok {
		return fmt.Errorf("no transaction in context")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = saved.clone()
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrEntityNotFound)
}

func (r *Repository) CreateOrders(ctx context.Context, orders ...*domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range orders {
		if _, ok := r.state.orders[o.ID]; ok {
			return fmt.Errorf("order %s already exists", o.ID)
		}
	}
	for _, o := range orders {
		head := o.Clone()
		head.Lines, head.RewardLines = nil, nil
		r.state.orders[o.ID] = head
		r.state.touch("order", o.ID)
	}
	return nil
}

func (r *Repository) UpdateOrders(ctx context.Context, fields []string, orders ...*domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range orders {
		stored, ok := r.state.orders[o.ID]
		if !ok {
			return notFound("order", o.ID)
		}
		if err := copyFields(stored, o, fields); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) DeleteOrders(ctx context.Context, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if _, ok := r.state.orders[id]; !ok {
			return notFound("order", id)
		}
	}
	for _, id := range ids {
		delete(r.state.orders, id)
		delete(r.state.rewards, id)
		for lid, l := range r.state.lines {
			if l.OrderID == id {
				delete(r.state.lines, lid)
			}
		}
	}
	return nil
}

func (r *Repository) GetOrders(ctx context.Context, ids ...string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		head, ok := r.state.orders[id]
		if !ok {
			return nil, notFound("order", id)
		}
		o := head.Clone()
		o.Lines = r.linesOf(id)
		o.RewardLines = cloneRewards(r.state.rewards[id])
		res = append(res, o)
	}
	return res, nil
}

func (r *Repository) linesOf(orderID string) []*domain.Line {
	res := make([]*domain.Line, 0)
	for _, l := range r.state.lines {
		if l.OrderID == orderID {
			res = append(res, l.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return r.state.rank("line", res[i].ID) < r.state.rank("line", res[j].ID)
	})
	return res
}

func (r *Repository) CreateLines(ctx context.Context, lines ...*domain.Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range lines {
		if _, ok := r.state.lines[l.ID]; ok {
			return fmt.Errorf("line %s already exists", l.ID)
		}
	}
	for _, l := range lines {
		r.state.lines[l.ID] = l.Clone()
		r.state.touch("line", l.ID)
	}
	return nil
}

func (r *Repository) UpdateLines(ctx context.Context, fields []string, lines ...*domain.Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range lines {
		stored, ok := r.state.lines[l.ID]
		if !ok {
			return notFound("line", l.ID)
		}
		if err := copyFields(stored, l, fields); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) DeleteLines(ctx context.Context, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if _, ok := r.state.lines[id]; !ok {
			return notFound("line", id)
		}
	}
	for _, id := range ids {
		delete(r.state.lines, id)
	}
	return nil
}

func (r *Repository) GetLines(ctx context.Context, ids ...string) ([]*domain.Line, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*domain.Line, 0, len(ids))
	for _, id := range ids {
		l, ok := r.state.lines[id]
		if !ok {
			return nil, notFound("line", id)
		}
		res = append(res, l.Clone())
	}
	return res, nil
}

func (r *Repository) ReplaceRewardLines(ctx context.Context, orderID string, lines []*domain.RewardLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.orders[orderID]; !ok {
		return notFound("order", orderID)
	}
	copied := cloneRewards(lines)
	for _, l := range copied {
		l.OrderID = orderID
	}
	r.state.rewards[orderID] = copied
	return nil
}

func (r *Repository) SaveCompany(ctx context.Context, company *domain.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *company
	r.state.companies[company.ID] = &cp
	return nil
}

func (r *Repository) GetCompanies(ctx context.Context, ids ...string) ([]*domain.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*domain.Company, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.state.companies[id]; ok {
			cp := *c
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (r *Repository) SavePrograms(ctx context.Context, programs ...*domain.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range programs {
		cp := p.Clone()
		cp.Link()
		r.state.programs[p.ID] = cp
		r.state.touch("program", p.ID)
	}
	return nil
}

func (r *Repository) GetPrograms(ctx context.Context, ids ...string) ([]*domain.Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*domain.Program, 0, len(ids))
	for _, id := range ids {
		p, ok := r.state.programs[id]
		if !ok {
			return nil, notFound("program", id)
		}
		res = append(res, p.Clone())
	}
	return res, nil
}

func (r *Repository) ListPrograms(ctx context.Context) ([]*domain.Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*domain.Program, 0, len(r.state.programs))
	for _, p := range r.state.programs {
		res = append(res, p.Clone())
	}
	sort.Slice(res, func(i, j int) bool {
		return r.state.rank("program", res[i].ID) < r.state.rank("program", res[j].ID)
	})
	return res, nil
}

func (r *Repository) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.state.programs {
		for _, rule := range p.Rules {
			if rule.ID == id {
				cp := p.Clone()
				for _, cr := range cp.Rules {
					if cr.ID == id {
						return cr, nil
					}
				}
			}
		}
	}
	return nil, notFound("rule", id)
}

// copyFields copies the named fields from src to dst, both pointers to the
// same struct type
func copyFields(dst, src any, fields []string) error {
	for _, f := range fields {
		to, typ, err := expression.FieldValue(dst, f)
		if err != nil {
			return err
		}
		if typ == expression.TypeOne2many || typ == expression.TypeMany2one {
			return fmt.Errorf("%w: %s", domain.ErrReadonlyField, f)
		}
		from, _, err := expression.FieldValue(src, f)
		if err != nil {
			return err
		}
		if from.Kind() == reflect.Slice && !from.IsNil() {
			cp := reflect.MakeSlice(from.Type(), from.Len(), from.Len())
			reflect.Copy(cp, from)
			from = cp
		}
		to.Set(from)
	}
	return nil
}

func cloneRewards(lines []*domain.RewardLine) []*domain.RewardLine {
	res := make([]*domain.RewardLine, len(lines))
	for i, l := range lines {
		cp := *l
		res[i] = &cp
	}
	return res
}
