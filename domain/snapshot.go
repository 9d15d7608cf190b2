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

package domain

import (
	"reflect"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bytedance/saleloyalty/expression"
)

type IEntity interface {
	GetID() string
}

// Snapshot is the normalized tuple of watched field values of one record
type Snapshot []any

// Snapshots maps record ids to their snapshot
type Snapshots map[string]Snapshot

// TakeSnapshot reads fields from entity. Values are normalized so equal
// content compares equal: decimals in canonical text, related records as ids,
// collections sorted.
func TakeSnapshot(entity IEntity, fields []string) (Snapshot, error) {
	rec := expression.StructRecord(entity)
	res := make(Snapshot, len(fields))
	for i, f := range fields {
		v, err := rec.Get(f)
		if err != nil {
			return nil, err
		}
		if res[i], err = normalize(v); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func TakeSnapshots[T IEntity](entities []T, fields []string) (Snapshots, error) {
	res := make(Snapshots, len(entities))
	for _, e := range entities {
		s, err := TakeSnapshot(e, fields)
		if err != nil {
			return nil, err
		}
		res[e.GetID()] = s
	}
	return res, nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return t.String(), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case expression.Record:
		return t.Get("id")
	case []expression.Record:
		ids := make([]string, 0, len(t))
		for _, r := range t {
			id, err := r.Get("id")
			if err != nil {
				return nil, err
			}
			s, _ := id.(string)
			ids = append(ids, s)
		}
		sort.Strings(ids)
		return ids, nil
	case []string:
		ids := append(make([]string, 0, len(t)), t...)
		sort.Strings(ids)
		return ids, nil
	}
	return v, nil
}

// Equal compares two snapshots value by value
func (s Snapshot) Equal(other Snapshot) bool {
	return reflect.DeepEqual(s, other)
}

// Changed returns the ids whose snapshot differs between before and after,
// ids missing on one side included, ordered by id.
func Changed(before, after Snapshots) []string {
	res := make([]string, 0)
	for id, b := range before {
		if a, ok := after[id]; !ok || !b.Equal(a) {
			res = append(res, id)
		}
	}
	for id := range after {
		if _, ok := before[id]; !ok {
			res = append(res, id)
		}
	}
	sort.Strings(res)
	return res
}
