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
	"time"

	"github.com/shopspring/decimal"

	"github.com/bytedance/saleloyalty/domain"
)

// column names follow the domain field names, so field lists given to the
// update methods select columns directly

type CompanyPO struct {
	ID                string `gorm:"primaryKey;column:id;type:varchar(64)"`
	Name              string `gorm:"column:name"`
	AutoRefreshCoupon bool   `gorm:"column:auto_refresh_coupon"`
}

func (p *CompanyPO) GetID() string {
	return p.ID
}

func (p *CompanyPO) TableName() string {
	return "loyalty_company"
}

type OrderPO struct {
	ID             string          `gorm:"primaryKey;column:id;type:varchar(64)"`
	Name           string          `gorm:"column:name"`
	CompanyID      string          `gorm:"column:company_id;type:varchar(64);index"`
	PartnerID      string          `gorm:"column:partner_id;type:varchar(64)"`
	State          string          `gorm:"column:state;type:varchar(16)"`
	Origin         string          `gorm:"column:origin"`
	AmountDiscount decimal.Decimal `gorm:"column:amount_discount;type:decimal(20,6)"`
	ProgramIDs     []string        `gorm:"column:program_ids;serializer:json"`
}

func (p *OrderPO) GetID() string {
	return p.ID
}

func (p *OrderPO) TableName() string {
	return "loyalty_order"
}

type LinePO struct {
	ID        string          `gorm:"primaryKey;column:id;type:varchar(64)"`
	OrderID   string          `gorm:"column:order_id;type:varchar(64);index"`
	ProductID string          `gorm:"column:product_id;type:varchar(64)"`
	Name      string          `gorm:"column:name"`
	Quantity  decimal.Decimal `gorm:"column:quantity;type:decimal(20,6)"`
	PriceUnit decimal.Decimal `gorm:"column:price_unit;type:decimal(20,6)"`
	Discount  decimal.Decimal `gorm:"column:discount;type:decimal(20,6)"`
	UomID     string          `gorm:"column:uom_id;type:varchar(64)"`
	TaxIDs    []string        `gorm:"column:tax_ids;serializer:json"`
	Sequence  int64           `gorm:"column:sequence"`
}

func (p *LinePO) GetID() string {
	return p.ID
}

func (p *LinePO) TableName() string {
	return "loyalty_order_line"
}

type RewardLinePO struct {
	ID          string          `gorm:"primaryKey;column:id;type:varchar(64)"`
	OrderID     string          `gorm:"column:order_id;type:varchar(64);index"`
	ProgramID   string          `gorm:"column:program_id;type:varchar(64)"`
	RewardID    string          `gorm:"column:reward_id;type:varchar(64)"`
	Description string          `gorm:"column:description"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(20,6)"`
	Sequence    int             `gorm:"column:sequence"`
}

func (p *RewardLinePO) GetID() string {
	return p.ID
}

func (p *RewardLinePO) TableName() string {
	return "loyalty_reward_line"
}

type ProgramPO struct {
	ID          string     `gorm:"primaryKey;column:id;type:varchar(64)"`
	Name        string     `gorm:"column:name"`
	Active      bool       `gorm:"column:active"`
	ProgramType string     `gorm:"column:program_type;type:varchar(32)"`
	Trigger     string     `gorm:"column:trigger_mode;type:varchar(16)"`
	CompanyID   string     `gorm:"column:company_id;type:varchar(64)"`
	DateFrom    *time.Time `gorm:"column:date_from"`
	DateTo      *time.Time `gorm:"column:date_to"`
	OrderDomain string     `gorm:"column:order_domain;type:text"`
	Sequence    int64      `gorm:"column:sequence"`
}

func (p *ProgramPO) GetID() string {
	return p.ID
}

func (p *ProgramPO) TableName() string {
	return "loyalty_program"
}

type RulePO struct {
	ID            string          `gorm:"primaryKey;column:id;type:varchar(64)"`
	ProgramID     string          `gorm:"column:program_id;type:varchar(64);index"`
	Mode          string          `gorm:"column:mode;type:varchar(16)"`
	Code          string          `gorm:"column:code;type:varchar(64);index"`
	MinimumQty    decimal.Decimal `gorm:"column:minimum_qty;type:decimal(20,6)"`
	MinimumAmount decimal.Decimal `gorm:"column:minimum_amount;type:decimal(20,6)"`
	OrderDomain   string          `gorm:"column:order_domain;type:text"`
	Sequence      int             `gorm:"column:sequence"`
}

func (p *RulePO) GetID() string {
	return p.ID
}

func (p *RulePO) TableName() string {
	return "loyalty_rule"
}

type RewardPO struct {
	ID           string          `gorm:"primaryKey;column:id;type:varchar(64)"`
	ProgramID    string          `gorm:"column:program_id;type:varchar(64);index"`
	Description  string          `gorm:"column:description"`
	DiscountMode string          `gorm:"column:discount_mode;type:varchar(16)"`
	Discount     decimal.Decimal `gorm:"column:discount;type:decimal(20,6)"`
	Sequence     int             `gorm:"column:sequence"`
}

func (p *RewardPO) GetID() string {
	return p.ID
}

func (p *RewardPO) TableName() string {
	return "loyalty_reward"
}

// Models lists the tables of the store, for migrations
func Models() []interface{} {
	return []interface{}{
		&CompanyPO{}, &OrderPO{}, &LinePO{}, &RewardLinePO{}, &ProgramPO{}, &RulePO{}, &RewardPO{},
	}
}

func companyToPO(c *domain.Company) *CompanyPO {
	return &CompanyPO{ID: c.ID, Name: c.Name, AutoRefreshCoupon: c.AutoRefreshCoupon}
}

func companyFromPO(p *CompanyPO) *domain.Company {
	return &domain.Company{ID: p.ID, Name: p.Name, AutoRefreshCoupon: p.AutoRefreshCoupon}
}

func orderToPO(o *domain.Order) *OrderPO {
	return &OrderPO{
		ID:             o.ID,
		Name:           o.Name,
		CompanyID:      o.CompanyID,
		PartnerID:      o.PartnerID,
		State:          string(o.State),
		Origin:         o.Origin,
		AmountDiscount: o.AmountDiscount,
		ProgramIDs:     o.ProgramIDs,
	}
}

func orderFromPO(p *OrderPO) *domain.Order {
	return &domain.Order{
		ID:             p.ID,
		Name:           p.Name,
		CompanyID:      p.CompanyID,
		PartnerID:      p.PartnerID,
		State:          domain.State(p.State),
		Origin:         p.Origin,
		AmountDiscount: p.AmountDiscount,
		ProgramIDs:     p.ProgramIDs,
		Lines:          make([]*domain.Line, 0),
		RewardLines:    make([]*domain.RewardLine, 0),
	}
}

func lineToPO(l *domain.Line) *LinePO {
	return &LinePO{
		ID:        l.ID,
		OrderID:   l.OrderID,
		ProductID: l.ProductID,
		Name:      l.Name,
		Quantity:  l.Quantity,
		PriceUnit: l.PriceUnit,
		Discount:  l.Discount,
		UomID:     l.UomID,
		TaxIDs:    l.TaxIDs,
	}
}

func lineFromPO(p *LinePO) *domain.Line {
	return &domain.Line{
		ID:        p.ID,
		OrderID:   p.OrderID,
		ProductID: p.ProductID,
		Name:      p.Name,
		Quantity:  p.Quantity,
		PriceUnit: p.PriceUnit,
		Discount:  p.Discount,
		UomID:     p.UomID,
		TaxIDs:    p.TaxIDs,
	}
}

func rewardLineToPO(l *domain.RewardLine, seq int) *RewardLinePO {
	return &RewardLinePO{
		ID:          l.ID,
		OrderID:     l.OrderID,
		ProgramID:   l.ProgramID,
		RewardID:    l.RewardID,
		Description: l.Description,
		Amount:      l.Amount,
		Sequence:    seq,
	}
}

func rewardLineFromPO(p *RewardLinePO) *domain.RewardLine {
	return &domain.RewardLine{
		ID:          p.ID,
		OrderID:     p.OrderID,
		ProgramID:   p.ProgramID,
		RewardID:    p.RewardID,
		Description: p.Description,
		Amount:      p.Amount,
	}
}

func programToPO(p *domain.Program, seq int64) *ProgramPO {
	return &ProgramPO{
		ID:          p.ID,
		Name:        p.Name,
		Active:      p.Active,
		ProgramType: p.ProgramType,
		Trigger:     string(p.Trigger),
		CompanyID:   p.CompanyID,
		DateFrom:    p.DateFrom,
		DateTo:      p.DateTo,
		OrderDomain: p.OrderDomain,
		Sequence:    seq,
	}
}

func programFromPO(p *ProgramPO) *domain.Program {
	return &domain.Program{
		ID:          p.ID,
		Name:        p.Name,
		Active:      p.Active,
		ProgramType: p.ProgramType,
		Trigger:     domain.TriggerMode(p.Trigger),
		CompanyID:   p.CompanyID,
		DateFrom:    p.DateFrom,
		DateTo:      p.DateTo,
		OrderDomain: p.OrderDomain,
		Rules:       make([]*domain.Rule, 0),
		Rewards:     make([]*domain.Reward, 0),
	}
}

func ruleToPO(r *domain.Rule, programID string, seq int) *RulePO {
	return &RulePO{
		ID:            r.ID,
		ProgramID:     programID,
		Mode:          string(r.Mode),
		Code:          r.Code,
		MinimumQty:    r.MinimumQty,
		MinimumAmount: r.MinimumAmount,
		OrderDomain:   r.OrderDomain,
		Sequence:      seq,
	}
}

func ruleFromPO(p *RulePO) *domain.Rule {
	return &domain.Rule{
		ID:            p.ID,
		ProgramID:     p.ProgramID,
		Mode:          domain.TriggerMode(p.Mode),
		Code:          p.Code,
		MinimumQty:    p.MinimumQty,
		MinimumAmount: p.MinimumAmount,
		OrderDomain:   p.OrderDomain,
	}
}

func rewardToPO(r *domain.Reward, programID string, seq int) *RewardPO {
	return &RewardPO{
		ID:           r.ID,
		ProgramID:    programID,
		Description:  r.Description,
		DiscountMode: string(r.DiscountMode),
		Discount:     r.Discount,
		Sequence:     seq,
	}
}

func rewardFromPO(p *RewardPO) *domain.Reward {
	return &domain.Reward{
		ID:           p.ID,
		ProgramID:    p.ProgramID,
		Description:  p.Description,
		DiscountMode: domain.DiscountMode(p.DiscountMode),
		Discount:     p.Discount,
	}
}
