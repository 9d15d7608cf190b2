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

// Package mysql stores loyalty records with gorm. Any gorm dialector works;
// the tests run it on sqlite.
package mysql

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/bytedance/saleloyalty/domain"
)

var ErrInvalidDB = fmt.Errorf("invalid db")
var ErrNoTransaction = fmt.Errorf("no transaction")

var schemaCache = &sync.Map{}

// keeps the key out of reach of other packages
type contextKey string

type Repository struct {
	db    *gorm.DB
	txKey contextKey
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:    db,
		txKey: contextKey(fmt.Sprintf("loyalty_tx_%d", time.Now().UnixNano())),
	}
}

// AutoMigrate creates or updates the tables of the store
func (r *Repository) AutoMigrate(ctx context.Context) error {
	if r.db == nil {
		return ErrInvalidDB
	}
	return r.conn(ctx).AutoMigrate(Models()...)
}

func (r *Repository) Begin(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.db == nil {
		return ctx, ErrInvalidDB
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return ctx, fmt.Errorf("start transation failed, err=%s", tx.Error)
	}
	return context.WithValue(ctx, r.txKey, tx), nil
}

func (r *Repository) Commit(ctx context.Context) error {
	if r.db == nil {
		return ErrInvalidDB
	}
	tx, ok := ctx.Value(r.txKey).(*gorm.DB)
	if !ok {
		return ErrNoTransaction
	}
	return tx.Commit().Error
}

func (r *Repository) RollBack(ctx context.Context) error {
	if r.db == nil {
		return ErrInvalidDB
	}
	tx, ok := ctx.Value(r.txKey).(*gorm.DB)
	if !ok {
		return ErrNoTransaction
	}
	return tx.Rollback().Error
}

// conn returns the transaction carried by ctx, or the plain connection
func (r *Repository) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(r.txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// columns checks that fields are writable columns of model
func (r *Repository) columns(model interface{}, fields []string) ([]string, error) {
	s, err := schema.Parse(model, schemaCache, r.db.NamingStrategy)
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(fields))
	for _, f := range fields {
		field, ok := s.FieldsByDBName[f]
		if !ok || field.PrimaryKey || f == "sequence" {
			return nil, fmt.Errorf("%w: %s", domain.ErrReadonlyField, f)
		}
		res = append(res, f)
	}
	return res, nil
}

// mustExist fails with domain.ErrEntityNotFound unless every id has a row
func mustExist(db *gorm.DB, model interface{}, kind string, ids []string) error {
	unique := domain.MakeIDSet(ids...)
	if unique.Empty() {
		return nil
	}
	found := make([]string, 0, len(unique))
	if err := db.Model(model).Where("id in ?", unique.ToSlice()).Pluck("id", &found).Error; err != nil {
		return err
	}
	missing := unique.Diff(domain.MakeIDSet(found...))
	if !missing.Empty() {
		return fmt.Errorf("%s %s: %w", kind, missing.ToSlice()[0], domain.ErrEntityNotFound)
	}
	return nil
}

func orderIDs(orders []*domain.Order) []string {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}

func lineIDs(lines []*domain.Line) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ID
	}
	return ids
}

func (r *Repository) CreateOrders(ctx context.Context, orders ...*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	pos := make([]*OrderPO, len(orders))
	for i, o := range orders {
		pos[i] = orderToPO(o)
	}
	return r.conn(ctx).Create(pos).Error
}

func (r *Repository) UpdateOrders(ctx context.Context, fields []string, orders ...*domain.Order) error {
	cols, err := r.columns(&OrderPO{}, fields)
	if err != nil {
		return err
	}
	db := r.conn(ctx)
	if err := mustExist(db, &OrderPO{}, "order", orderIDs(orders)); err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	for _, o := range orders {
		if err := db.Select(cols).Updates(orderToPO(o)).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) DeleteOrders(ctx context.Context, ids ...string) error {
	db := r.conn(ctx)
	if err := mustExist(db, &OrderPO{}, "order", ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := db.Where("order_id in ?", ids).Delete(&LinePO{}).Error; err != nil {
		return err
	}
	if err := db.Where("order_id in ?", ids).Delete(&RewardLinePO{}).Error; err != nil {
		return err
	}
	return db.Where("id in ?", ids).Delete(&OrderPO{}).Error
}

func (r *Repository) GetOrders(ctx context.Context, ids ...string) ([]*domain.Order, error) {
	if len(ids) == 0 {
		return []*domain.Order{}, nil
	}
	db := r.conn(ctx)
	var pos []*OrderPO
	if err := db.Where("id in ?", ids).Find(&pos).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Order, len(pos))
	for _, po := range pos {
		byID[po.ID] = orderFromPO(po)
	}

	var linePOs []*LinePO
	if err := db.Where("order_id in ?", ids).Order("sequence, id").Find(&linePOs).Error; err != nil {
		return nil, err
	}
	for _, po := range linePOs {
		if o, ok := byID[po.OrderID]; ok {
			o.Lines = append(o.Lines, lineFromPO(po))
		}
	}

	var rewardPOs []*RewardLinePO
	if err := db.Where("order_id in ?", ids).Order("sequence, id").Find(&rewardPOs).Error; err != nil {
		return nil, err
	}
	for _, po := range rewardPOs {
		if o, ok := byID[po.OrderID]; ok {
			o.RewardLines = append(o.RewardLines, rewardLineFromPO(po))
		}
	}

	res := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		o, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("order %s: %w", id, domain.ErrEntityNotFound)
		}
		res = append(res, o.Clone())
	}
	return res, nil
}

func (r *Repository) CreateLines(ctx context.Context, lines ...*domain.Line) error {
	if len(lines) == 0 {
		return nil
	}
	seq := time.Now().UnixNano()
	pos := make([]*LinePO, len(lines))
	for i, l := range lines {
		pos[i] = lineToPO(l)
		pos[i].Sequence = seq + int64(i)
	}
	return r.conn(ctx).Create(pos).Error
}

func (r *Repository) UpdateLines(ctx context.Context, fields []string, lines ...*domain.Line) error {
	cols, err := r.columns(&LinePO{}, fields)
	if err != nil {
		return err
	}
	db := r.conn(ctx)
	if err := mustExist(db, &LinePO{}, "line", lineIDs(lines)); err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	for _, l := range lines {
		if err := db.Select(cols).Updates(lineToPO(l)).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) DeleteLines(ctx context.Context, ids ...string) error {
	db := r.conn(ctx)
	if err := mustExist(db, &LinePO{}, "line", ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return db.Where("id in ?", ids).Delete(&LinePO{}).Error
}

func (r *Repository) GetLines(ctx context.Context, ids ...string) ([]*domain.Line, error) {
	if len(ids) == 0 {
		return []*domain.Line{}, nil
	}
	var pos []*LinePO
	if err := r.conn(ctx).Where("id in ?", ids).Find(&pos).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]*LinePO, len(pos))
	for _, po := range pos {
		byID[po.ID] = po
	}
	res := make([]*domain.Line, 0, len(ids))
	for _, id := range ids {
		po, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("line %s: %w", id, domain.ErrEntityNotFound)
		}
		res = append(res, lineFromPO(po))
	}
	return res, nil
}

func (r *Repository) ReplaceRewardLines(ctx context.Context, orderID string, lines []*domain.RewardLine) error {
	db := r.conn(ctx)
	if err := mustExist(db, &OrderPO{}, "order", []string{orderID}); err != nil {
		return err
	}
	if err := db.Where("order_id = ?", orderID).Delete(&RewardLinePO{}).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	pos := make([]*RewardLinePO, len(lines))
	for i, l := range lines {
		pos[i] = rewardLineToPO(l, i)
		pos[i].OrderID = orderID
	}
	return db.Create(pos).Error
}

func (r *Repository) SaveCompany(ctx context.Context, company *domain.Company) error {
	return r.conn(ctx).Save(companyToPO(company)).Error
}

func (r *Repository) GetCompanies(ctx context.Context, ids ...string) ([]*domain.Company, error) {
	res := make([]*domain.Company, 0, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	var pos []*CompanyPO
	if err := r.conn(ctx).Where("id in ?", ids).Find(&pos).Error; err != nil {
		return nil, err
	}
	for _, po := range pos {
		res = append(res, companyFromPO(po))
	}
	return res, nil
}

// SavePrograms upserts the programs and rewrites their rules and rewards. A
// program keeps its position in ListPrograms across saves.
func (r *Repository) SavePrograms(ctx context.Context, programs ...*domain.Program) error {
	if len(programs) == 0 {
		return nil
	}
	db := r.conn(ctx)
	ids := make([]string, len(programs))
	for i, p := range programs {
		ids[i] = p.ID
	}
	var existing []*ProgramPO
	if err := db.Select("id", "sequence").Where("id in ?", ids).Find(&existing).Error; err != nil {
		return err
	}
	sequences := make(map[string]int64, len(existing))
	for _, po := range existing {
		sequences[po.ID] = po.Sequence
	}

	next := time.Now().UnixNano()
	for i, p := range programs {
		seq, ok := sequences[p.ID]
		if !ok {
			seq = next + int64(i)
		}
		if err := db.Save(programToPO(p, seq)).Error; err != nil {
			return err
		}
		if err := db.Where("program_id = ?", p.ID).Delete(&RulePO{}).Error; err != nil {
			return err
		}
		if err := db.Where("program_id = ?", p.ID).Delete(&RewardPO{}).Error; err != nil {
			return err
		}
		if len(p.Rules) > 0 {
			rules := make([]*RulePO, len(p.Rules))
			for j, rule := range p.Rules {
				rules[j] = ruleToPO(rule, p.ID, j)
			}
			if err := db.Create(rules).Error; err != nil {
				return err
			}
		}
		if len(p.Rewards) > 0 {
			rewards := make([]*RewardPO, len(p.Rewards))
			for j, rw := range p.Rewards {
				rewards[j] = rewardToPO(rw, p.ID, j)
			}
			if err := db.Create(rewards).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repository) GetPrograms(ctx context.Context, ids ...string) ([]*domain.Program, error) {
	if len(ids) == 0 {
		return []*domain.Program{}, nil
	}
	programs, err := r.loadPrograms(r.conn(ctx).Where("id in ?", ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Program, len(programs))
	for _, p := range programs {
		byID[p.ID] = p
	}
	res := make([]*domain.Program, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("program %s: %w", id, domain.ErrEntityNotFound)
		}
		res = append(res, p)
	}
	return res, nil
}

func (r *Repository) ListPrograms(ctx context.Context) ([]*domain.Program, error) {
	return r.loadPrograms(r.conn(ctx))
}

func (r *Repository) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	var po RulePO
	res := r.conn(ctx).Where("id = ?", id).Limit(1).Find(&po)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("rule %s: %w", id, domain.ErrEntityNotFound)
	}
	programs, err := r.GetPrograms(ctx, po.ProgramID)
	if err != nil {
		return nil, err
	}
	for _, rule := range programs[0].Rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return nil, fmt.Errorf("rule %s: %w", id, domain.ErrEntityNotFound)
}

// loadPrograms runs the program query of db and attaches rules and rewards
func (r *Repository) loadPrograms(db *gorm.DB) ([]*domain.Program, error) {
	var pos []*ProgramPO
	if err := db.Order("sequence, id").Find(&pos).Error; err != nil {
		return nil, err
	}
	res := make([]*domain.Program, 0, len(pos))
	if len(pos) == 0 {
		return res, nil
	}
	ids := make([]string, len(pos))
	byID := make(map[string]*domain.Program, len(pos))
	for i, po := range pos {
		p := programFromPO(po)
		ids[i] = p.ID
		byID[p.ID] = p
		res = append(res, p)
	}

	conn := db.Session(&gorm.Session{NewDB: true})
	var rules []*RulePO
	if err := conn.Where("program_id in ?", ids).Order("sequence").Find(&rules).Error; err != nil {
		return nil, err
	}
	for _, po := range rules {
		p := byID[po.ProgramID]
		p.Rules = append(p.Rules, ruleFromPO(po))
	}
	var rewards []*RewardPO
	if err := conn.Where("program_id in ?", ids).Order("sequence").Find(&rewards).Error; err != nil {
		return nil, err
	}
	for _, po := range rewards {
		p := byID[po.ProgramID]
		p.Rewards = append(p.Rewards, rewardFromPO(po))
	}
	for _, p := range res {
		p.Link()
	}
	return res, nil
}
