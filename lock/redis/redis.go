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

// Package redis locks order keys in redis
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var ErrLocked = fmt.Errorf("resource is locked")

const (
	retryInterval = 100 * time.Millisecond
	retryAttempts = 30
)

type RedisLock struct {
	ttl   time.Duration
	cli   *redislock.Client
	retry redislock.RetryStrategy
}

type Option func(l *RedisLock)

// WithRetry waits between attempts at a fixed interval
func WithRetry(interval time.Duration, attempts int) Option {
	return func(l *RedisLock) {
		l.retry = redislock.LimitRetry(redislock.LinearBackoff(interval), attempts)
	}
}

func WithoutRetry() Option {
	return func(l *RedisLock) {
		l.retry = redislock.NoRetry()
	}
}

func NewRedisLock(cli redis.UniversalClient, ttl time.Duration, opts ...Option) *RedisLock {
	l := &RedisLock{
		cli:   redislock.New(cli),
		ttl:   ttl,
		retry: redislock.LimitRetry(redislock.LinearBackoff(retryInterval), retryAttempts),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (r *RedisLock) Lock(ctx context.Context, key string) (keyLock interface{}, err error) {
	l, err := r.cli.Obtain(ctx, key, r.ttl, &redislock.Options{RetryStrategy: r.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *RedisLock) UnLock(ctx context.Context, keyLock interface{}) error {
	l, ok := keyLock.(*redislock.Lock)
	if !ok {
		return fmt.Errorf("unexpected lock %T", keyLock)
	}
	return l.Release(ctx)
}
