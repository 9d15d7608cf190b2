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

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// needs a redis server, started by docker-compose up
func newClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, cli.Ping(context.Background()).Err())
	return cli
}

func TestLock(t *testing.T) {
	cli := newClient(t)
	ctx := context.Background()
	lock := NewRedisLock(cli, 2*time.Second, WithoutRetry())
	key := "loyalty_order_" + xid.New().String()

	l, err := lock.Lock(ctx, key)
	require.NoError(t, err)
	_, err = lock.Lock(ctx, key)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, lock.UnLock(ctx, l))

	l, err = lock.Lock(ctx, key)
	require.NoError(t, err)
	assert.NoError(t, lock.UnLock(ctx, l))
	assert.Error(t, lock.UnLock(ctx, key))
}

func TestLockWaits(t *testing.T) {
	cli := newClient(t)
	ctx := context.Background()
	lock := NewRedisLock(cli, 5*time.Second, WithRetry(20*time.Millisecond, 50))
	key := "loyalty_order_" + xid.New().String()

	l, err := lock.Lock(ctx, key)
	require.NoError(t, err)
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = lock.UnLock(ctx, l)
	}()

	l2, err := lock.Lock(ctx, key)
	require.NoError(t, err)
	assert.NoError(t, lock.UnLock(ctx, l2))
}
