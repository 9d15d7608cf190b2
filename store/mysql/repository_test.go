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

package mysql

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedance/saleloyalty"
	"github.com/bytedance/saleloyalty/domain"
	"github.com/bytedance/saleloyalty/testsuit"
)

func newRepository(t *testing.T) *Repository {
	db := testsuit.InitSqlite(fmt.Sprintf("%s_%d", t.Name(), time.Now().UnixNano()), testsuit.DBOption{NoLog: true})
	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo
}

func TestOrders(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	o := &domain.Order{ID: "o1", Name: "S001", CompanyID: "c1", State: domain.StateDraft, ProgramIDs: []string{"p1"}}
	require.NoError(t, repo.CreateOrders(ctx, o))
	require.NoError(t, repo.CreateLines(ctx,
		&domain.Line{ID: "l2", OrderID: "o1", ProductID: "desk", Quantity: decimal.NewFromInt(2), PriceUnit: decimal.RequireFromString("12.5")},
		&domain.Line{ID: "l1", OrderID: "o1", ProductID: "lamp", Quantity: decimal.NewFromInt(1), TaxIDs: []string{"t1", "t2"}},
	))

	orders, err := repo.GetOrders(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	got := orders[0]
	assert.Equal(t, "S001", got.Name)
	assert.Equal(t, []string{"p1"}, got.ProgramIDs)
	assert.Equal(t, []string{"l2", "l1"}, got.LineIDs())
	assert.True(t, got.Lines[0].PriceUnit.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, []string{"t1", "t2"}, got.Lines[1].TaxIDs)

	_, err = repo.GetOrders(ctx, "o1", "o2")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	got.PartnerID = "partner1"
	got.Name = "ignored"
	require.NoError(t, repo.UpdateOrders(ctx, []string{"partner_id"}, got))
	orders, err = repo.GetOrders(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "partner1", orders[0].PartnerID)
	assert.Equal(t, "S001", orders[0].Name)

	assert.ErrorIs(t, repo.UpdateOrders(ctx, []string{"lines"}, got), domain.ErrReadonlyField)
	assert.ErrorIs(t, repo.UpdateOrders(ctx, []string{"id"}, got), domain.ErrReadonlyField)
	assert.ErrorIs(t, repo.UpdateOrders(ctx, []string{"name"}, &domain.Order{ID: "o2"}), domain.ErrEntityNotFound)

	line := orders[0].Lines[0]
	line.Quantity = decimal.NewFromInt(4)
	require.NoError(t, repo.UpdateLines(ctx, []string{"quantity"}, line))
	lines, err := repo.GetLines(ctx, "l2")
	require.NoError(t, err)
	assert.True(t, lines[0].Quantity.Equal(decimal.NewFromInt(4)))

	rewards := []*domain.RewardLine{
		{ID: "r1", ProgramID: "p1", RewardID: "w1", Amount: decimal.NewFromInt(5)},
		{ID: "r2", ProgramID: "p1", RewardID: "w2", Amount: decimal.NewFromInt(1)},
	}
	require.NoError(t, repo.ReplaceRewardLines(ctx, "o1", rewards))
	require.NoError(t, repo.ReplaceRewardLines(ctx, "o1", rewards[1:]))
	orders, err = repo.GetOrders(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, orders[0].RewardLines, 1)
	assert.Equal(t, "r2", orders[0].RewardLines[0].ID)
	assert.Equal(t, "o1", orders[0].RewardLines[0].OrderID)

	require.NoError(t, repo.DeleteLines(ctx, "l1"))
	assert.ErrorIs(t, repo.DeleteLines(ctx, "l1"), domain.ErrEntityNotFound)

	require.NoError(t, repo.DeleteOrders(ctx, "o1"))
	_, err = repo.GetLines(ctx, "l2")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestPrograms(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := domain.NewRule(domain.TriggerWithCode, "TEST")
	rule.ID = "r1"
	rule.OrderDomain = `[("state", "=", "draft")]`
	p1 := &domain.Program{
		ID:          "p1",
		Name:        "Coupon",
		Active:      true,
		Trigger:     domain.TriggerWithCode,
		DateTo:      &end,
		OrderDomain: "[]",
		Rules:       []*domain.Rule{rule},
		Rewards:     []*domain.Reward{{ID: "w1", DiscountMode: domain.DiscountPerOrder, Discount: decimal.NewFromInt(10)}},
	}
	p2 := &domain.Program{ID: "p2", Name: "Auto", Active: true, Trigger: domain.TriggerAuto}
	require.NoError(t, repo.SavePrograms(ctx, p1, p2))

	// saving again keeps the position and replaces the rules
	p1.Name = "Coupon v2"
	p1.Rules = append(p1.Rules, &domain.Rule{ID: "r2", Mode: domain.TriggerWithCode, Code: "OTHER"})
	require.NoError(t, repo.SavePrograms(ctx, p1))

	programs, err := repo.ListPrograms(ctx)
	require.NoError(t, err)
	require.Len(t, programs, 2)
	assert.Equal(t, "p1", programs[0].ID)
	assert.Equal(t, "Coupon v2", programs[0].Name)
	assert.Len(t, programs[0].Rules, 2)
	require.NotNil(t, programs[0].DateTo)
	assert.True(t, programs[0].DateTo.Equal(end))
	assert.Nil(t, programs[1].DateFrom)

	got, err := repo.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "TEST", got.Code)
	assert.True(t, got.MinimumQty.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, rule.OrderDomain, got.OrderDomain)
	require.NotNil(t, got.Program)
	assert.Equal(t, "p1", got.Program.ID)

	_, err = repo.GetRule(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
	_, err = repo.GetPrograms(ctx, "p3")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	require.NoError(t, repo.SaveCompany(ctx, &domain.Company{ID: "c1", AutoRefreshCoupon: true}))
	require.NoError(t, repo.SaveCompany(ctx, &domain.Company{ID: "c1", Name: "Renamed", AutoRefreshCoupon: true}))
	companies, err := repo.GetCompanies(ctx, "c1", "c2")
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "Renamed", companies[0].Name)
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	txCtx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.CreateOrders(txCtx, &domain.Order{ID: "o1"}))
	require.NoError(t, repo.RollBack(txCtx))
	_, err = repo.GetOrders(ctx, "o1")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	txCtx, err = repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.CreateOrders(txCtx, &domain.Order{ID: "o2"}))
	require.NoError(t, repo.Commit(txCtx))
	_, err = repo.GetOrders(ctx, "o2")
	assert.NoError(t, err)

	assert.ErrorIs(t, repo.Commit(ctx), ErrNoTransaction)
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	e := saleloyalty.NewEngine(repo, saleloyalty.WithLock(testsuit.NewMemLock()))

	require.NoError(t, repo.SaveCompany(ctx, &domain.Company{ID: "c1", AutoRefreshCoupon: true}))
	require.NoError(t, e.SaveProgram(ctx, &domain.Program{
		Name:    "Five percent",
		Active:  true,
		Rewards: []*domain.Reward{{DiscountMode: domain.DiscountPercent, Discount: decimal.NewFromInt(5)}},
	}))
	rule := domain.NewRule(domain.TriggerWithCode, "TEST")
	rule.OrderDomain = `[("state", "=", "draft")]`
	require.NoError(t, e.SaveProgram(ctx, &domain.Program{
		Name:    "Coupon",
		Active:  true,
		Trigger: domain.TriggerWithCode,
		Rules:   []*domain.Rule{rule},
		Rewards: []*domain.Reward{{DiscountMode: domain.DiscountPerOrder, Discount: decimal.NewFromInt(10)}},
	}))

	o := &domain.Order{
		CompanyID: "c1",
		Lines:     []*domain.Line{{ProductID: "desk", Quantity: decimal.NewFromInt(2), PriceUnit: decimal.NewFromInt(100)}},
	}
	require.NoError(t, e.CreateOrders(ctx, saleloyalty.AutoRefresh, o))
	orders, err := repo.GetOrders(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, orders[0].AmountDiscount.Equal(decimal.NewFromInt(10)))

	require.NoError(t, e.WriteLines(ctx, saleloyalty.AutoRefresh, []string{o.Lines[0].ID}, domain.Values{"quantity": 4}))
	orders, err = repo.GetOrders(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, orders[0].AmountDiscount.Equal(decimal.NewFromInt(20)))

	res, err := e.TryApplyCode(ctx, o.ID, "TEST")
	require.NoError(t, err)
	assert.False(t, res.Denied(), res.Error)
	orders, err = repo.GetOrders(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, orders[0].RewardLines, 2)
	assert.True(t, orders[0].AmountDiscount.Equal(decimal.NewFromInt(30)))

	require.NoError(t, e.ConfirmOrders(ctx, saleloyalty.AutoRefresh, o.ID))
	res, err = e.TryApplyCode(ctx, o.ID, "TEST")
	require.NoError(t, err)
	assert.Equal(t, "This code (TEST) is not available for this order.", res.Error)
}
