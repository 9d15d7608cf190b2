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
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedance/saleloyalty/domain"
	"github.com/bytedance/saleloyalty/store/mem"
	"github.com/bytedance/saleloyalty/testsuit"
)

var testNow = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// countingRecomputer records the orders of every recompute call
type countingRecomputer struct {
	IRecomputer

	mu    sync.Mutex
	calls [][]string
}

func newCountingRecomputer() *countingRecomputer {
	return &countingRecomputer{IRecomputer: &defaultRecomputer{}}
}

func (c *countingRecomputer) Recompute(ctx context.Context, e *Engine, g Guard, orders []*domain.Order) error {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	c.mu.Lock()
	c.calls = append(c.calls, ids)
	c.mu.Unlock()
	return c.IRecomputer.Recompute(ctx, e, g, orders)
}

func (c *countingRecomputer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *countingRecomputer) last() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

type testEnv struct {
	ctx        context.Context
	repo       *mem.Repository
	recomputer *countingRecomputer
	engine     *Engine
}

// newTestEnv builds an engine over a memory store holding company c1 with
// auto refresh, company c2 without, and a 10% automatic program
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	ctx := context.Background()
	repo := mem.NewRepository()
	recomputer := newCountingRecomputer()
	opts = append([]Option{WithRecomputer(recomputer), WithNow(func() time.Time { return testNow })}, opts...)
	e := NewEngine(repo, opts...)

	require.NoError(t, repo.SaveCompany(ctx, &domain.Company{ID: "c1", Name: "Loyal", AutoRefreshCoupon: true}))
	require.NoError(t, repo.SaveCompany(ctx, &domain.Company{ID: "c2", Name: "Manual"}))
	require.NoError(t, e.SaveProgram(ctx, &domain.Program{
		Name:    "Ten percent",
		Active:  true,
		Trigger: domain.TriggerAuto,
		Rewards: []*domain.Reward{{DiscountMode: domain.DiscountPercent, Discount: dec(10)}},
	}))
	return &testEnv{ctx: ctx, repo: repo, recomputer: recomputer, engine: e}
}

func (env *testEnv) newOrder(t *testing.T, companyID string, g Guard) *domain.Order {
	o := &domain.Order{
		Name:      "S0001",
		CompanyID: companyID,
		PartnerID: "partner1",
		Lines: []*domain.Line{
			{ProductID: "desk", Quantity: dec(2), PriceUnit: dec(50)},
		},
	}
	require.NoError(t, env.engine.CreateOrders(env.ctx, g, o))
	return o
}

func (env *testEnv) order(t *testing.T, id string) *domain.Order {
	orders, err := env.repo.GetOrders(env.ctx, id)
	require.NoError(t, err)
	return orders[0]
}

func TestCreateOrders(t *testing.T) {
	env := newTestEnv(t)

	o := env.newOrder(t, "c1", AutoRefresh)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, 1, env.recomputer.count())
	assert.Equal(t, []string{o.ID}, env.recomputer.last())

	stored := env.order(t, o.ID)
	assert.Equal(t, domain.StateDraft, stored.State)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, o.ID, stored.Lines[0].OrderID)
	require.Len(t, stored.RewardLines, 1)
	assert.True(t, stored.RewardLines[0].Amount.Equal(dec(10)))
	assert.True(t, stored.AmountDiscount.Equal(dec(10)))
}

func TestCreateOrdersWithoutRefresh(t *testing.T) {
	env := newTestEnv(t)

	suppressed := env.newOrder(t, "c1", SkipAutoRefresh)
	assert.Equal(t, 0, env.recomputer.count())
	assert.Empty(t, env.order(t, suppressed.ID).RewardLines)

	// the company setting is off
	manual := env.newOrder(t, "c2", AutoRefresh)
	assert.Equal(t, 0, env.recomputer.count())
	assert.Empty(t, env.order(t, manual.ID).RewardLines)

	// no company at all
	orphan := env.newOrder(t, "", AutoRefresh)
	assert.Equal(t, 0, env.recomputer.count())
	assert.Empty(t, env.order(t, orphan.ID).RewardLines)
}

func TestTriggerWrites(t *testing.T) {
	env := newTestEnv(t)
	o := env.newOrder(t, "c1", AutoRefresh)
	lineID := o.Lines[0].ID
	require.Equal(t, 1, env.recomputer.count())

	// trigger field on the line
	require.NoError(t, env.engine.WriteLines(env.ctx, AutoRefresh, []string{lineID}, domain.Values{"quantity": 3}))
	assert.Equal(t, 2, env.recomputer.count())
	assert.True(t, env.order(t, o.ID).AmountDiscount.Equal(dec(15)))

	// same value again
	require.NoError(t, env.engine.WriteLines(env.ctx, AutoRefresh, []string{lineID}, domain.Values{"quantity": "3"}))
	assert.Equal(t, 2, env.recomputer.count())

	// not a trigger
	require.NoError(t, env.engine.WriteLines(env.ctx, AutoRefresh, []string{lineID}, domain.Values{"name": "Large desk"}))
	require.NoError(t, env.engine.WriteOrders(env.ctx, AutoRefresh, []string{o.ID}, domain.Values{"origin": "web"}))
	assert.Equal(t, 2, env.recomputer.count())
	assert.Equal(t, "web", env.order(t, o.ID).Origin)

	// trigger field on the order
	require.NoError(t, env.engine.WriteOrders(env.ctx, AutoRefresh, []string{o.ID}, domain.Values{"partner_id": "partner2"}))
	assert.Equal(t, 3, env.recomputer.count())

	// suppressed
	require.NoError(t, env.engine.WriteLines(env.ctx, SkipAutoRefresh, []string{lineID}, domain.Values{"price_unit": 10}))
	assert.Equal(t, 3, env.recomputer.count())
	assert.True(t, env.order(t, o.ID).AmountDiscount.Equal(dec(15)))
}

func TestConfiguredTriggers(t *testing.T) {
	env := newTestEnv(t, WithTriggers(DefaultTriggers().With([]string{"origin"}, nil)))
	assert.Contains(t, env.engine.OrderTriggers(), "origin")

	o := env.newOrder(t, "c1", AutoRefresh)
	require.NoError(t, env.engine.WriteOrders(env.ctx, AutoRefresh, []string{o.ID}, domain.Values{"origin": "web"}))
	assert.Equal(t, 2, env.recomputer.count())
}

func TestUnknownTrigger(t *testing.T) {
	repo := mem.NewRepository()
	assert.Panics(t, func() {
		NewEngine(repo, WithTriggers(DefaultTriggers().With([]string{"not_a_field"}, nil)))
	})
	assert.Panics(t, func() {
		NewEngine(repo, WithTriggers(Triggers{Line: []string{"lines"}}))
	})
	assert.Panics(t, func() {
		NewEngine(nil)
	})
}

func TestLineMembership(t *testing.T) {
	env := newTestEnv(t)
	o := env.newOrder(t, "c1", AutoRefresh)

	line := &domain.Line{OrderID: o.ID, ProductID: "chair", Quantity: dec(1), PriceUnit: dec(100)}
	require.NoError(t, env.engine.CreateLines(env.ctx, AutoRefresh, line))
	assert.Equal(t, 2, env.recomputer.count())
	assert.True(t, env.order(t, o.ID).AmountDiscount.Equal(dec(20)))

	require.NoError(t, env.engine.UnlinkLines(env.ctx, AutoRefresh, line.ID))
	assert.Equal(t, 3, env.recomputer.count())
	assert.True(t, env.order(t, o.ID).AmountDiscount.Equal(dec(10)))

	require.NoError(t, env.engine.UnlinkLines(env.ctx, AutoRefresh, o.Lines[0].ID))
	assert.Equal(t, 4, env.recomputer.count())
	stored := env.order(t, o.ID)
	assert.Empty(t, stored.Lines)
	assert.Empty(t, stored.RewardLines)
	assert.True(t, stored.AmountDiscount.IsZero())

	assert.ErrorIs(t, env.engine.CreateLines(env.ctx, AutoRefresh, &domain.Line{ProductID: "lamp"}), ErrMissingOrder)

	require.NoError(t, env.engine.UnlinkOrders(env.ctx, AutoRefresh, o.ID))
	assert.Equal(t, 4, env.recomputer.count())
	_, err := env.repo.GetOrders(env.ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestReplaceLines(t *testing.T) {
	env := newTestEnv(t)
	o := env.newOrder(t, "c1", AutoRefresh)
	require.Equal(t, 1, env.recomputer.count())

	lines := []*domain.Line{{ProductID: "lamp", Quantity: dec(1), PriceUnit: dec(20)}}
	require.NoError(t, env.engine.WriteOrders(env.ctx, AutoRefresh, []string{o.ID}, domain.Values{"lines": lines}))
	assert.Equal(t, 2, env.recomputer.count())

	stored := env.order(t, o.ID)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, "lamp", stored.Lines[0].ProductID)
	assert.True(t, stored.AmountDiscount.Equal(dec(2)))

	err := env.engine.WriteOrders(env.ctx, AutoRefresh, []string{o.ID}, domain.Values{"lines": "lamp"})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)
}

func TestMoveLine(t *testing.T) {
	lock := testsuit.NewMemLock()
	env := newTestEnv(t, WithLock(lock))
	o1 := env.newOrder(t, "c1", AutoRefresh)
	o2 := env.newOrder(t, "c1", AutoRefresh)
	require.Equal(t, 2, env.recomputer.count())

	require.NoError(t, env.engine.WriteLines(env.ctx, AutoRefresh, []string{o1.Lines[0].ID}, domain.Values{"order_id": o2.ID}))
	assert.Equal(t, 3, env.recomputer.count())
	assert.ElementsMatch(t, []string{o1.ID, o2.ID}, env.recomputer.last())
	assert.Subset(t, lock.Keys(), []string{"loyalty_order_" + o1.ID, "loyalty_order_" + o2.ID})

	assert.True(t, env.order(t, o1.ID).AmountDiscount.IsZero())
	assert.True(t, env.order(t, o2.ID).AmountDiscount.Equal(dec(20)))

	err := env.engine.WriteLines(env.ctx, AutoRefresh, []string{o1.Lines[0].ID}, domain.Values{"order_id": "missing"})
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestMoveLineWithOrderLines(t *testing.T) {
	lock := testsuit.NewMemLock()
	env := newTestEnv(t, WithLock(lock))
	o1 := env.newOrder(t, "c1", AutoRefresh)
	o2 := env.newOrder(t, "c1", AutoRefresh)
	require.Equal(t, 2, env.recomputer.count())

	lines := []*domain.Line{{ID: o1.Lines[0].ID}, {ID: o2.Lines[0].ID}}
	require.NoError(t, env.engine.WriteOrders(env.ctx, AutoRefresh, []string{o1.ID}, domain.Values{"lines": lines}))
	assert.Equal(t, 3, env.recomputer.count())
	assert.ElementsMatch(t, []string{o1.ID, o2.ID}, env.recomputer.last())
	assert.Subset(t, lock.Keys(), []string{"loyalty_order_" + o1.ID, "loyalty_order_" + o2.ID})

	stored := env.order(t, o1.ID)
	assert.Len(t, stored.Lines, 2)
	assert.True(t, stored.AmountDiscount.Equal(dec(20)))

	stored = env.order(t, o2.ID)
	assert.Empty(t, stored.Lines)
	assert.Empty(t, stored.RewardLines)
	assert.True(t, stored.AmountDiscount.IsZero())
}

func TestConfirmFreezesRewards(t *testing.T) {
	env := newTestEnv(t)
	o := env.newOrder(t, "c1", AutoRefresh)

	require.NoError(t, env.engine.ConfirmOrders(env.ctx, AutoRefresh, o.ID))
	assert.Equal(t, domain.StateSale, env.order(t, o.ID).State)

	require.NoError(t, env.engine.WriteLines(env.ctx, AutoRefresh, []string{o.Lines[0].ID}, domain.Values{"quantity": 10}))
	assert.Equal(t, 1, env.recomputer.count())
	assert.True(t, env.order(t, o.ID).AmountDiscount.Equal(dec(10)))

	assert.ErrorIs(t, env.engine.ConfirmOrders(env.ctx, AutoRefresh, o.ID), ErrInvalidState)

	// manual recompute skips confirmed orders as well
	require.NoError(t, env.engine.RecomputeRewards(env.ctx, o.ID))
	assert.Equal(t, 1, env.recomputer.count())
}

func TestRecomputeRewards(t *testing.T) {
	env := newTestEnv(t)
	o := env.newOrder(t, "c2", AutoRefresh)
	require.Equal(t, 0, env.recomputer.count())

	require.NoError(t, env.engine.RecomputeRewards(env.ctx, o.ID))
	first := env.order(t, o.ID)
	require.Len(t, first.RewardLines, 1)

	require.NoError(t, env.engine.RecomputeRewards(env.ctx, o.ID))
	second := env.order(t, o.ID)
	assert.Equal(t, 2, env.recomputer.count())
	assert.Equal(t, first.RewardLines, second.RewardLines)
	assert.True(t, first.AmountDiscount.Equal(second.AmountDiscount))
}

// writingRecomputer writes a trigger field of every line during recompute
type writingRecomputer struct {
	calls int
}

func (w *writingRecomputer) Recompute(ctx context.Context, e *Engine, g Guard, orders []*domain.Order) error {
	w.calls++
	for _, o := range orders {
		if err := e.WriteLines(ctx, g, o.LineIDs(), domain.Values{"discount": w.calls}); err != nil {
			return err
		}
		if err := e.WriteOrders(ctx, g, []string{o.ID}, domain.Values{"partner_id": fmt.Sprintf("p%d", w.calls)}); err != nil {
			return err
		}
	}
	return nil
}

func TestRecomputeDoesNotRecurse(t *testing.T) {
	recomputer := &writingRecomputer{}
	env := newTestEnv(t, WithRecomputer(recomputer))

	o := env.newOrder(t, "c1", AutoRefresh)
	assert.Equal(t, 1, recomputer.calls)

	require.NoError(t, env.engine.WriteLines(env.ctx, AutoRefresh, []string{o.Lines[0].ID}, domain.Values{"quantity": 5}))
	assert.Equal(t, 2, recomputer.calls)

	stored := env.order(t, o.ID)
	assert.True(t, stored.Lines[0].Discount.Equal(dec(2)))
	assert.Equal(t, "p2", stored.PartnerID)
}

type failingRecomputer struct {
}

func (f *failingRecomputer) Recompute(ctx context.Context, e *Engine, g Guard, orders []*domain.Order) error {
	return errors.New("recompute failed")
}

func TestFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	o := env.newOrder(t, "c1", AutoRefresh)

	e := NewEngine(env.repo, WithRecomputer(&failingRecomputer{}), WithNow(func() time.Time { return testNow }))
	err := e.WriteLines(env.ctx, AutoRefresh, []string{o.Lines[0].ID}, domain.Values{"quantity": 7})
	assert.EqualError(t, err, "recompute failed")
	assert.True(t, env.order(t, o.ID).Lines[0].Quantity.Equal(dec(2)))

	// without a transaction the write stays
	e = NewEngine(env.repo, WithRecomputer(&failingRecomputer{}), WithoutTransaction)
	assert.Error(t, e.WriteLines(env.ctx, AutoRefresh, []string{o.Lines[0].ID}, domain.Values{"quantity": 7}))
	assert.True(t, env.order(t, o.ID).Lines[0].Quantity.Equal(dec(7)))
}

func TestConcurrentWrites(t *testing.T) {
	env := newTestEnv(t, WithLock(testsuit.NewMemLock()))
	o := env.newOrder(t, "c1", AutoRefresh)

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			assert.NoError(t, env.engine.WriteLines(env.ctx, AutoRefresh, []string{o.Lines[0].ID}, domain.Values{"quantity": qty}))
		}(i)
	}
	wg.Wait()

	stored := env.order(t, o.ID)
	expected := stored.Lines[0].Subtotal().Div(dec(10))
	assert.True(t, stored.AmountDiscount.Equal(expected), "%s != %s", stored.AmountDiscount, expected)
}

func TestConcurrentConfirm(t *testing.T) {
	lock := testsuit.NewMemLock()
	env := newTestEnv(t, WithLock(lock))
	o := env.newOrder(t, "c1", AutoRefresh)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.engine.ConfirmOrders(env.ctx, AutoRefresh, o.ID)
			if err != nil {
				assert.ErrorIs(t, err, ErrInvalidState)
				return
			}
			mu.Lock()
			confirmed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, confirmed)
	assert.Equal(t, domain.StateSale, env.order(t, o.ID).State)
	assert.Contains(t, lock.Keys(), "loyalty_order_"+o.ID)
}
