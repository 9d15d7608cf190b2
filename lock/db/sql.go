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

// Package db locks order keys with rows of a database table, for deployments
// without redis.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-logr/logr"
	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/bytedance/saleloyalty/logger/stdr"
)

var ErrLocked = fmt.Errorf("resource is locked")

var defaultLogger = stdr.NewStdr("resource_lock")

const (
	// renewInterval must stay below the ttl so a renewal lands before expiry
	renewInterval = 1 * time.Second
	retryDelay    = 100 * time.Millisecond
	retryAttempts = 30
)

type Options struct {
	RenewInterval time.Duration
	Retry         bool
	RetryAttempts uint
	RetryDelay    time.Duration
	Logger        logr.Logger
}

type Option func(opt *Options)

func WithoutRetry() Option {
	return func(opt *Options) {
		opt.Retry = false
	}
}

func WithRetry(attempts uint, delay time.Duration) Option {
	return func(opt *Options) {
		opt.Retry = true
		opt.RetryAttempts = attempts
		opt.RetryDelay = delay
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(opt *Options) {
		opt.Logger = logger
	}
}

type DBLock struct {
	ttl    time.Duration
	db     *gorm.DB
	logger logr.Logger
	opt    Options
}

func NewDBLock(db *gorm.DB, ttl time.Duration, options ...Option) *DBLock {
	opt := Options{
		RenewInterval: renewInterval,
		Retry:         true,
		RetryAttempts: retryAttempts,
		RetryDelay:    retryDelay,
		Logger:        defaultLogger,
	}
	for _, o := range options {
		o(&opt)
	}
	if ttl < opt.RenewInterval {
		panic(fmt.Sprintf("ttl can not less than %f seconds", opt.RenewInterval.Seconds()))
	}
	return &DBLock{db: db, ttl: ttl, logger: opt.Logger, opt: opt}
}

// Migrate creates the lock table
func (r *DBLock) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ResourceLock{})
}

// Lock takes the key, waiting for its owner when retries are enabled
func (r *DBLock) Lock(ctx context.Context, key string) (keyLock interface{}, err error) {
	if !r.opt.Retry {
		return r.lock(ctx, key)
	}
	err = retry.Do(
		func() error {
			keyLock, err = r.lock(ctx, key)
			return err
		},
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrLocked)
		}),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(r.opt.RetryDelay),
		retry.Attempts(r.opt.RetryAttempts),
		retry.LastErrorOnly(true),
	)
	return keyLock, err
}

func (r *DBLock) lock(ctx context.Context, key string) (*ResourceLock, error) {
	lockerID := xid.New().String()
	var lock ResourceLock
	res := r.db.WithContext(ctx).Model(&ResourceLock{}).Where("`resource` = ?", key).Limit(1).Find(&lock)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get resource %s lock, err: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		l := &ResourceLock{Resource: key, LockerID: lockerID}
		if err := r.db.WithContext(ctx).Create(l).Error; err != nil {
			// lost the race against another owner
			var count int64
			if r.db.WithContext(ctx).Model(&ResourceLock{}).Where("`resource` = ?", key).Count(&count); count > 0 {
				return nil, ErrLocked
			}
			return nil, fmt.Errorf("failed to create resource %s lock, err: %w", key, err)
		}
		return l, nil
	}
	if time.Since(lock.UpdatedAt) < r.ttl {
		return nil, ErrLocked
	}

	// the owner let the lock expire, take it over
	res = r.db.WithContext(ctx).Model(&ResourceLock{}).
		Where("`resource` = ? AND `locker_id` = ?", key, lock.LockerID).
		UpdateColumns(ResourceLock{UpdatedAt: time.Now(), LockerID: lockerID})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update resource %s lock: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrLocked
	}
	r.logger.V(1).Info("expired lock taken over", "resource", key, "previous", lock.LockerID)
	lock.LockerID = lockerID
	return &lock, nil
}

func (r *DBLock) UnLock(ctx context.Context, keyLock interface{}) error {
	l, ok := keyLock.(*ResourceLock)
	if !ok {
		return fmt.Errorf("unexpected lock %T", keyLock)
	}
	res := r.db.WithContext(ctx).Where("locker_id = ? and `resource` = ?", l.LockerID, l.Resource).Delete(&ResourceLock{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected <= 0 {
		return fmt.Errorf("lock record not found (id=%s resource=%s)", l.LockerID, l.Resource)
	}
	return nil
}

func (r *DBLock) renew(ctx context.Context, l *ResourceLock) error {
	res := r.db.WithContext(ctx).
		Model(&ResourceLock{}).
		Where("`resource` = ? AND `locker_id` = ?", l.Resource, l.LockerID).
		UpdateColumns(ResourceLock{UpdatedAt: time.Now(), LockerID: l.LockerID})
	if res.Error != nil {
		return fmt.Errorf("failed to update resource %s lock: %w", l.Resource, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("resource %s updated by others", l.Resource)
	}
	return nil
}

// Run holds the key while fn runs and renews it in the background. fn's
// context is cancelled when a renewal fails.
func (r *DBLock) Run(ctx context.Context, key string, fn func(ctx context.Context)) error {
	keyLock, err := r.Lock(ctx, key)
	if err != nil {
		return err
	}
	l := keyLock.(*ResourceLock)
	// unlock with the parent ctx, the sub ctx may be cancelled by then
	defer func() {
		if err := r.UnLock(ctx, l); err != nil {
			r.logger.Error(err, "failed to unlock", "resource", key)
		}
	}()

	ticker := time.NewTicker(r.opt.RenewInterval)
	defer ticker.Stop()
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				if err := r.renew(ctx, l); err != nil {
					r.logger.Info("failed to renew lock", "resource", key, "error", err.Error())
					cancel()
					return
				}
			}
		}
	}()

	fn(subCtx)
	return nil
}
