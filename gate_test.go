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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedance/saleloyalty/domain"
	"github.com/bytedance/saleloyalty/expression"
)

func (env *testEnv) codeProgram(t *testing.T, code string, configure func(p *domain.Program)) *domain.Program {
	p := &domain.Program{
		Name:    "Coupon " + code,
		Active:  true,
		Trigger: domain.TriggerWithCode,
		Rules:   []*domain.Rule{domain.NewRule(domain.TriggerWithCode, code)},
		Rewards: []*domain.Reward{{DiscountMode: domain.DiscountPerOrder, Discount: dec(5)}},
	}
	if configure != nil {
		configure(p)
	}
	require.NoError(t, env.engine.SaveProgram(env.ctx, p))
	return p
}

func TestApplyCode(t *testing.T) {
	env := newTestEnv(t)
	p := env.codeProgram(t, "TEST", func(p *domain.Program) {
		p.Rules[0].OrderDomain = `[("state", "=", "draft")]`
	})
	o := env.newOrder(t, "c1", AutoRefresh)

	res, err := env.engine.TryApplyCode(env.ctx, o.ID, "TEST")
	require.NoError(t, err)
	assert.False(t, res.Denied(), res.Error)
	assert.Equal(t, p.ID, res.Program.ID)
	assert.Equal(t, p.Rules[0].ID, res.Rule.ID)
	require.Len(t, res.Rewards, 1)
	assert.True(t, res.Rewards[0].Amount.Equal(dec(5)))

	stored := env.order(t, o.ID)
	assert.Equal(t, []string{p.ID}, stored.ProgramIDs)
	assert.Len(t, stored.RewardLines, 2)
	assert.True(t, stored.AmountDiscount.Equal(dec(15)))

	res, err = env.engine.TryApplyCode(env.ctx, o.ID, "TEST")
	require.NoError(t, err)
	assert.Equal(t, MsgProgramApplied, res.Error)

	require.NoError(t, env.engine.ConfirmOrders(env.ctx, AutoRefresh, o.ID))
	res, err = env.engine.TryApplyCode(env.ctx, o.ID, "TEST")
	require.NoError(t, err)
	assert.Equal(t, "This code (TEST) is not available for this order.", res.Error)
}

func TestApplyCodeDenials(t *testing.T) {
	env := newTestEnv(t)
	env.codeProgram(t, "BULK", func(p *domain.Program) {
		p.Rules[0].MinimumQty = dec(10)
	})
	env.codeProgram(t, "BIG", func(p *domain.Program) {
		p.Rules[0].MinimumAmount = dec(500)
	})
	env.codeProgram(t, "VIPBULK", func(p *domain.Program) {
		p.OrderDomain = `[("partner_id", "=", "vip")]`
		p.Rules[0].MinimumQty = dec(10)
	})
	env.codeProgram(t, "DUP", nil)
	env.codeProgram(t, "DUP", nil)
	env.codeProgram(t, "OLD", func(p *domain.Program) {
		end := testNow.Add(-24 * time.Hour)
		p.DateTo = &end
	})
	env.codeProgram(t, "OFF", func(p *domain.Program) {
		p.Active = false
	})
	env.codeProgram(t, "OTHER", func(p *domain.Program) {
		p.CompanyID = "c2"
	})
	o := env.newOrder(t, "c1", AutoRefresh)

	cases := []struct {
		code string
		want string
	}{
		{"BULK", MsgInsufficientQuantity},
		{"BIG", "A minimum of 500.00 should be purchased to get the reward"},
		{"VIPBULK", MsgProgramUnavailable},
		{"DUP", "This code (DUP) is not available for this order."},
		{"OLD", "This code (OLD) is not available for this order."},
		{"OFF", "This code (OFF) is not available for this order."},
		{"OTHER", "This code (OTHER) is not available for this order."},
		{"NOPE", "This code (NOPE) is not available for this order."},
	}
	for _, c := range cases {
		t.Run(c.code, func(t *testing.T) {
			res, err := env.engine.TryApplyCode(env.ctx, o.ID, c.code)
			require.NoError(t, err)
			assert.True(t, res.Denied())
			assert.Equal(t, c.want, res.Error)
		})
	}
	assert.Empty(t, env.order(t, o.ID).ProgramIDs)
}

func TestApplyProgram(t *testing.T) {
	env := newTestEnv(t)
	vip := env.codeProgram(t, "VIP", func(p *domain.Program) {
		p.OrderDomain = `[("partner_id", "=", "vip")]`
	})
	open := env.codeProgram(t, "OPEN", nil)
	o := env.newOrder(t, "c1", AutoRefresh)

	res, err := env.engine.TryApplyProgram(env.ctx, o.ID, vip.ID)
	require.NoError(t, err)
	assert.Equal(t, "The program is not available for this order.", res.Error)

	res, err = env.engine.TryApplyProgram(env.ctx, o.ID, "missing")
	require.NoError(t, err)
	assert.Equal(t, MsgProgramUnavailable, res.Error)

	res, err = env.engine.TryApplyProgram(env.ctx, o.ID, open.ID)
	require.NoError(t, err)
	assert.False(t, res.Denied())
	assert.Len(t, res.Rewards, 1)

	require.NoError(t, env.engine.WriteOrders(env.ctx, AutoRefresh, []string{o.ID}, domain.Values{"partner_id": "vip"}))
	res, err = env.engine.TryApplyProgram(env.ctx, o.ID, vip.ID)
	require.NoError(t, err)
	assert.False(t, res.Denied(), res.Error)
	assert.ElementsMatch(t, []string{open.ID, vip.ID}, env.order(t, o.ID).ProgramIDs)

	_, err = env.engine.TryApplyProgram(env.ctx, "missing", vip.ID)
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestProgramDomainValidation(t *testing.T) {
	env := newTestEnv(t)

	invalid := []string{
		`{"wrong": "wrong"}`,
		`wrong`,
		`[("wrong_field", "=", False)]`,
		`[("partner_id", "~", 1)]`,
	}
	for _, text := range invalid {
		err := env.engine.SaveProgram(env.ctx, &domain.Program{Name: "Invalid", OrderDomain: text})
		require.Error(t, err, text)
		assert.True(t, IsValidationError(err), text)
		assert.EqualError(t, err, "Invalid domain on program")

		p := &domain.Program{Name: "Invalid rule", Rules: []*domain.Rule{{OrderDomain: text}}}
		err = env.engine.SaveProgram(env.ctx, p)
		require.Error(t, err, text)
		assert.EqualError(t, err, "Invalid domain on rule")
	}

	p := env.codeProgram(t, "VALID", func(p *domain.Program) {
		p.OrderDomain = `[("partner_id", "=", 42)]`
	})
	require.NoError(t, env.engine.SetProgramDomain(env.ctx, p.ID, ""))
	programs, err := env.repo.GetPrograms(env.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "[]", programs[0].OrderDomain)

	err = env.engine.SetProgramDomain(env.ctx, p.ID, "wrong")
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, expression.ErrSyntax)

	ruleID := p.Rules[0].ID
	err = env.engine.SetRuleDomain(env.ctx, ruleID, `[("wrong_field", "=", False)]`)
	assert.EqualError(t, err, "Invalid domain on rule")
	assert.ErrorIs(t, err, expression.ErrUnknownField)

	require.NoError(t, env.engine.SetRuleDomain(env.ctx, ruleID, `[("partner_id", "=", 42)]`))
	rule, err := env.repo.GetRule(env.ctx, ruleID)
	require.NoError(t, err)
	assert.Equal(t, `[("partner_id", "=", 42)]`, rule.OrderDomain)
	assert.Equal(t, "[]", rule.Program.OrderDomain)
}

func TestIsValidOrder(t *testing.T) {
	env := newTestEnv(t)
	o1 := env.newOrder(t, "c1", SkipAutoRefresh)
	o2 := env.newOrder(t, "c1", SkipAutoRefresh)
	o1, o2 = env.order(t, o1.ID), env.order(t, o2.ID)

	byID := fmt.Sprintf(`[("id", "=", "%s")]`, o1.ID)
	ok, err := env.engine.IsValidOrder(byID, o1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.engine.IsValidOrder(byID, o2)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, text := range []string{"", "[]", "  "} {
		ok, err := env.engine.IsValidOrder(text, o1)
		require.NoError(t, err)
		assert.True(t, ok, text)
	}

	cases := []struct {
		text string
		want bool
	}{
		{`[("lines.product_id", "=", "desk")]`, true},
		{`[("lines.product_id", "=", "lamp")]`, false},
		{`[("lines.quantity", ">=", 2)]`, true},
		{`["|", ("partner_id", "=", "vip"), ("state", "in", ["draft", "sent"])]`, true},
		{`["!", ("company_id", "=", "c1")]`, false},
		{`[("name", "ilike", "s00")]`, true},
		{`[("program_ids", "=", False)]`, true},
		{`[("amount_discount", "=", 0)]`, true},
	}
	for _, c := range cases {
		ok, err := env.engine.IsValidOrder(c.text, o1)
		require.NoError(t, err, c.text)
		assert.Equal(t, c.want, ok, c.text)
	}

	_, err = env.engine.IsValidOrder("wrong", o1)
	assert.True(t, expression.IsSyntaxError(err))
}
