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

package testsuit

import (
	"context"
	"sync"
)

// MemLock is a process local ILock. It records every key it hands out.
type MemLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	keys  []string
}

func NewMemLock() *MemLock {
	return &MemLock{locks: map[string]*sync.Mutex{}}
}

func (l *MemLock) Lock(ctx context.Context, key string) (keyLock interface{}, err error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	m.Lock()
	return key, nil
}

func (l *MemLock) UnLock(ctx context.Context, keyLock interface{}) error {
	l.mu.Lock()
	m := l.locks[keyLock.(string)]
	l.mu.Unlock()
	m.Unlock()
	return nil
}

// Keys returns the keys locked so far, in order
func (l *MemLock) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.keys...)
}
