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

// Command example wires the loyalty engine from configuration and walks an
// order through automatic rewards and a coupon code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bytedance/saleloyalty"
	"github.com/bytedance/saleloyalty/config"
	"github.com/bytedance/saleloyalty/domain"
	db_lock "github.com/bytedance/saleloyalty/lock/db"
	redis_lock "github.com/bytedance/saleloyalty/lock/redis"
	"github.com/bytedance/saleloyalty/logger/stdr"
	"github.com/bytedance/saleloyalty/store/mysql"
)

var logger = stdr.NewStdr("example")

func newLock(ctx context.Context, s *config.Settings, db *gorm.DB) (saleloyalty.ILock, error) {
	switch s.Lock.Backend {
	case config.LockDB:
		l := db_lock.NewDBLock(db, s.Lock.TTL)
		if s.Database.AutoMigrate {
			if err := l.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return l, nil
	case config.LockRedis:
		cli := redis.NewClient(&redis.Options{Addr: s.Redis.Addr, Password: s.Redis.Password, DB: s.Redis.DB})
		return redis_lock.NewRedisLock(cli, s.Lock.TTL), nil
	}
	return nil, nil
}

func newEngine(ctx context.Context, s *config.Settings) (*saleloyalty.Engine, error) {
	db, err := gorm.Open(s.Database.Dialector(), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	repo := mysql.NewRepository(db)
	if s.Database.AutoMigrate {
		if err := repo.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	opts := []saleloyalty.Option{
		saleloyalty.WithTriggers(s.Triggers()),
		saleloyalty.WithLogger(stdr.NewStdr("loyalty_engine")),
	}
	lock, err := newLock(ctx, s, db)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		opts = append(opts, saleloyalty.WithLock(lock))
	}
	return saleloyalty.NewEngine(repo, opts...), nil
}

// seed stores a company with auto refresh, a 10% automatic program and a
// coupon program for draft orders
func seed(ctx context.Context, e *saleloyalty.Engine) error {
	if err := e.Repository().SaveCompany(ctx, &domain.Company{ID: "main", Name: "Main", AutoRefreshCoupon: true}); err != nil {
		return err
	}
	// fixed ids keep reruns idempotent
	if err := e.SaveProgram(ctx, &domain.Program{
		ID:      "ten_percent",
		Name:    "Ten percent",
		Active:  true,
		Rewards: []*domain.Reward{{ID: "ten_percent_reward", DiscountMode: domain.DiscountPercent, Discount: decimal.NewFromInt(10)}},
	}); err != nil {
		return err
	}
	rule := domain.NewRule(domain.TriggerWithCode, "WELCOME")
	rule.ID = "welcome_code"
	rule.OrderDomain = `[("state", "=", "draft")]`
	rule.MinimumAmount = decimal.NewFromInt(50)
	return e.SaveProgram(ctx, &domain.Program{
		ID:      "welcome",
		Name:    "Welcome coupon",
		Active:  true,
		Trigger: domain.TriggerWithCode,
		Rules:   []*domain.Rule{rule},
		Rewards: []*domain.Reward{{ID: "welcome_reward", DiscountMode: domain.DiscountPerOrder, Discount: decimal.NewFromInt(15)}},
	})
}

func run(ctx context.Context, s *config.Settings) error {
	e, err := newEngine(ctx, s)
	if err != nil {
		return err
	}
	if err := seed(ctx, e); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	order := &domain.Order{
		Name:      "S00001",
		CompanyID: "main",
		PartnerID: "customer",
		Lines: []*domain.Line{
			{ProductID: "desk", Name: "Desk", Quantity: decimal.NewFromInt(1), PriceUnit: decimal.NewFromInt(120)},
		},
	}
	if err := e.CreateOrders(ctx, saleloyalty.AutoRefresh, order); err != nil {
		return err
	}
	if err := e.WriteLines(ctx, saleloyalty.AutoRefresh, order.LineIDs(), domain.Values{"quantity": 2}); err != nil {
		return err
	}

	res, err := e.TryApplyCode(ctx, order.ID, "WELCOME")
	if err != nil {
		return err
	}
	if res.Denied() {
		logger.Info("code denied", "reason", res.Error)
	}

	orders, err := e.Repository().GetOrders(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, l := range orders[0].RewardLines {
		logger.Info("reward", "description", l.Description, "amount", l.Amount.StringFixed(2))
	}
	logger.Info("order", "id", order.ID, "discount", orders[0].AmountDiscount.StringFixed(2))
	return e.ConfirmOrders(ctx, saleloyalty.AutoRefresh, order.ID)
}

func main() {
	configFile := flag.String("config", "", "settings file, defaults to loyalty.yaml")
	flag.Parse()

	var files []string
	if *configFile != "" {
		files = append(files, *configFile)
	}
	s, err := config.Load(files...)
	if err != nil {
		logger.Error(err, "invalid configuration")
		os.Exit(1)
	}
	stdr.SetVerbosity(s.Verbosity)

	if err := run(context.Background(), s); err != nil {
		logger.Error(err, "example failed")
		os.Exit(1)
	}
}
