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
)

// IRepository is the persistence the engine runs its base mutations on.
// Getters return copies the caller may modify; a missing id is reported
// with domain.ErrEntityNotFound.
type IRepository interface {
	// CreateOrders inserts orders without their lines, which are created
	// through CreateLines
	CreateOrders(ctx context.Context, orders ...*domain.Order) error
	// UpdateOrders persists the named fields of the orders
	UpdateOrders(ctx context.Context, fields []string, orders ...*domain.Order) error
	// DeleteOrders removes orders with their lines and reward lines
	DeleteOrders(ctx context.Context, ids ...string) error
	// GetOrders returns orders with lines and reward lines, in the order of ids
	GetOrders(ctx context.Context, ids ...string) ([]*domain.Order, error)

	CreateLines(ctx context.Context, lines ...*domain.Line) error
	UpdateLines(ctx context.Context, fields []string, lines ...*domain.Line) error
	DeleteLines(ctx context.Context, ids ...string) error
	GetLines(ctx context.Context, ids ...string) ([]*domain.Line, error)

	// ReplaceRewardLines sets the reward lines of an order, dropping the others
	ReplaceRewardLines(ctx context.Context, orderID string, lines []*domain.RewardLine) error

	SaveCompany(ctx context.Context, company *domain.Company) error
	// GetCompanies returns the companies found, missing ids are skipped
	GetCompanies(ctx context.Context, ids ...string) ([]*domain.Company, error)

	// SavePrograms upserts programs with their rules and rewards
	SavePrograms(ctx context.Context, programs ...*domain.Program) error
	GetPrograms(ctx context.Context, ids ...string) ([]*domain.Program, error)
	ListPrograms(ctx context.Context) ([]*domain.Program, error)
	// GetRule returns a rule linked to its program
	GetRule(ctx context.Context, id string) (*domain.Rule, error)
}

// ITransaction is implemented by repositories able to run a call atomically
type ITransaction interface {
	// Begin starts a transaction and returns the context carrying it, which is
	// passed as is to Commit or RollBack
	Begin(ctx context.Context) (context.Context, error)
	Commit(ctx context.Context) error
	RollBack(ctx context.Context) error
}
