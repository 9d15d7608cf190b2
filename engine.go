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

// Package saleloyalty keeps the loyalty rewards of sale orders up to date.
//
// The Engine wraps order and line mutations: it compares trigger fields
// before and after each mutation and recomputes the reward lines of the
// touched orders when one of them changed. It also gates the application of
// programs and coupon codes with order predicates stored on programs and
// rules.
package saleloyalty

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/rs/xid"

	"github.com/bytedance/saleloyalty/domain"
	"github.com/bytedance/saleloyalty/logger/stdr"
)

var ErrInvalidState = fmt.Errorf("invalid order state")

var defaultLogger = stdr.NewStdr("loyalty_engine")

type ILock interface {
	Lock(ctx context.Context, key string) (keyLock interface{}, err error)
	UnLock(ctx context.Context, keyLock interface{}) error
}

type IIDGenerator interface {
	NewID() (string, error)
}

type defaultIDGenerator struct {
}

func (d *defaultIDGenerator) NewID() (string, error) {
	guid := xid.New()
	return guid.String(), nil
}

type Options struct {
	WithTransaction bool
	Locker          ILock
	Logger          logr.Logger
	IDGenerator     IIDGenerator
	Triggers        ITriggerProvider
	Policy          IRefreshPolicy
	Recomputer      IRecomputer
	Evaluator       IPredicateEvaluator
	Now             func() time.Time
}

type Option interface {
	ApplyToOptions(*Options)
}

type TransactionOption bool

func (t TransactionOption) ApplyToOptions(opts *Options) {
	opts.WithTransaction = bool(t)
}

// transactions only apply when the repository implements ITransaction
const WithTransaction = TransactionOption(true)
const WithoutTransaction = TransactionOption(false)

type LoggerOption struct {
	logger logr.Logger
}

func (t LoggerOption) ApplyToOptions(opts *Options) {
	opts.Logger = t.logger
}

func WithLogger(logger logr.Logger) LoggerOption {
	return LoggerOption{logger: logger}
}

type LockOption struct {
	lock ILock
}

func (t LockOption) ApplyToOptions(opts *Options) {
	opts.Locker = t.lock
}

// WithLock serializes the guarded entry points per order
func WithLock(lock ILock) LockOption {
	return LockOption{lock: lock}
}

type IDGeneratorOption struct {
	idGen IIDGenerator
}

func (t IDGeneratorOption) ApplyToOptions(opts *Options) {
	opts.IDGenerator = t.idGen
}

func WithIDGenerator(idGen IIDGenerator) IDGeneratorOption {
	return IDGeneratorOption{idGen: idGen}
}

type TriggersOption struct {
	triggers ITriggerProvider
}

func (t TriggersOption) ApplyToOptions(opts *Options) {
	opts.Triggers = t.triggers
}

func WithTriggers(triggers ITriggerProvider) TriggersOption {
	return TriggersOption{triggers: triggers}
}

type PolicyOption struct {
	policy IRefreshPolicy
}

func (t PolicyOption) ApplyToOptions(opts *Options) {
	opts.Policy = t.policy
}

func WithRefreshPolicy(policy IRefreshPolicy) PolicyOption {
	return PolicyOption{policy: policy}
}

type RecomputerOption struct {
	recomputer IRecomputer
}

func (t RecomputerOption) ApplyToOptions(opts *Options) {
	opts.Recomputer = t.recomputer
}

func WithRecomputer(recomputer IRecomputer) RecomputerOption {
	return RecomputerOption{recomputer: recomputer}
}

type EvaluatorOption struct {
	evaluator IPredicateEvaluator
}

func (t EvaluatorOption) ApplyToOptions(opts *Options) {
	opts.Evaluator = t.evaluator
}

func WithPredicateEvaluator(evaluator IPredicateEvaluator) EvaluatorOption {
	return EvaluatorOption{evaluator: evaluator}
}

type NowOption func() time.Time

func (t NowOption) ApplyToOptions(opts *Options) {
	opts.Now = t
}

// WithNow sets the clock used for program date windows
func WithNow(now func() time.Time) NowOption {
	return NowOption(now)
}

type Engine struct {
	repo          IRepository
	locker        ILock
	idGenerator   IIDGenerator
	logger        logr.Logger
	policy        IRefreshPolicy
	recomputer    IRecomputer
	evaluator     IPredicateEvaluator
	now           func() time.Time
	orderTriggers []string
	lineTriggers  []string
	options       Options
}

// NewEngine builds an engine over the repository. Trigger fields are checked
// against the order and line fields; an unknown one panics.
func NewEngine(repo IRepository, opts ...Option) *Engine {
	if repo == nil {
		panic("repository is required")
	}
	options := Options{
		// transactions are on by default
		WithTransaction: true,
		Logger:          defaultLogger,
		IDGenerator:     &defaultIDGenerator{},
		Triggers:        DefaultTriggers(),
		Policy:          &defaultRefreshPolicy{},
		Recomputer:      &defaultRecomputer{},
		Evaluator:       NewDomainEvaluator(),
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt.ApplyToOptions(&options)
	}

	orderTriggers, lineTriggers := options.Triggers.OrderTriggers(), options.Triggers.LineTriggers()
	if err := checkTriggers(orderTriggers, lineTriggers); err != nil {
		panic(err)
	}
	return &Engine{
		repo:          repo,
		locker:        options.Locker,
		idGenerator:   options.IDGenerator,
		logger:        options.Logger,
		policy:        options.Policy,
		recomputer:    options.Recomputer,
		evaluator:     options.Evaluator,
		now:           options.Now,
		orderTriggers: orderTriggers,
		lineTriggers:  lineTriggers,
		options:       options,
	}
}

func (e *Engine) Repository() IRepository {
	return e.repo
}

func (e *Engine) Logger() logr.Logger {
	return e.logger
}

func (e *Engine) Now() time.Time {
	return e.now()
}

// OrderTriggers returns the order fields watched by the engine
func (e *Engine) OrderTriggers() []string {
	return append([]string{}, e.orderTriggers...)
}

// LineTriggers returns the line fields watched by the engine
func (e *Engine) LineTriggers() []string {
	return append([]string{}, e.lineTriggers...)
}

func (e *Engine) newID() (string, error) {
	id, err := e.idGenerator.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

type doFunc func(ctx context.Context) error

type txKey struct{}

type lockKey struct{}

// run wraps f with the transaction and the order locks. Both apply once, at
// the outermost guarded call of a request.
func (e *Engine) run(ctx context.Context, f doFunc, orderIDs ...string) error {
	do := f
	if e.options.WithTransaction {
		if _, ok := e.repo.(ITransaction); ok {
			do = e.runWithTransaction(do)
		}
	}
	if e.locker != nil && len(orderIDs) > 0 {
		do = e.runOnLock(do, orderIDs...)
	}
	return do(ctx)
}

func (e *Engine) runOnLock(f doFunc, orderIDs ...string) doFunc {
	return func(ctx context.Context) error {
		held, _ := ctx.Value(lockKey{}).(domain.IDSet)
		keys := make([]string, 0, len(orderIDs))
		for _, id := range domain.MakeIDSet(orderIDs...).ToSlice() {
			if !held.Has(id) {
				keys = append(keys, id)
			}
		}
		if len(keys) == 0 {
			return f(ctx)
		}
		sort.Strings(keys)

		var lockErr error
		ls := make([]interface{}, 0)
		for _, id := range keys {
			l, err := e.locker.Lock(ctx, fmt.Sprintf("loyalty_order_%s", id))
			if err != nil {
				lockErr = fmt.Errorf("acquiring order lock failed: %w", err)
				break
			}
			ls = append(ls, l)
		}
		defer func() {
			for _, l := range ls {
				if err := e.locker.UnLock(ctx, l); err != nil {
					e.logger.Error(err, "unlock failed")
				}
			}
		}()
		if lockErr != nil {
			return lockErr
		}
		return f(context.WithValue(ctx, lockKey{}, held.Union(domain.MakeIDSet(keys...))))
	}
}

func (e *Engine) runWithTransaction(f doFunc) doFunc {
	return func(ctx context.Context) (err error) {
		if ctx.Value(txKey{}) != nil {
			return f(ctx)
		}
		tx := e.repo.(ITransaction)
		ctx, err = tx.Begin(ctx)
		if err != nil {
			return err
		}
		ctx = context.WithValue(ctx, txKey{}, true)
		defer func() {
			if r := recover(); r != nil {
				if err := tx.RollBack(ctx); err != nil {
					e.logger.Error(err, "rollback failed")
				}
				panic(r)
			}
		}()

		if err = f(ctx); err != nil {
			if rbErr := tx.RollBack(ctx); rbErr != nil {
				e.logger.Error(rbErr, "rollback failed")
			}
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			e.logger.Error(err, "commit failed")
		}
		return err
	}
}
