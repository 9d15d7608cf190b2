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
	"sort"
)

// IDSet is an insertion ordered set of record ids
type IDSet map[string]int

func MakeIDSet(ids ...string) IDSet {
	s := IDSet{}
	s.Add(ids...)
	return s
}

// Add appends ids not yet in the set, empty ids are ignored
func (s IDSet) Add(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, in := s[id]; !in {
			s[id] = len(s)
		}
	}
}

func (s IDSet) Has(id string) bool {
	_, in := s[id]
	return in
}

// Diff returns the ids of s missing from s2
func (s IDSet) Diff(s2 IDSet) IDSet {
	res := IDSet{}
	for _, id := range s.ToSlice() {
		if !s2.Has(id) {
			res.Add(id)
		}
	}
	return res
}

func (s IDSet) Inter(s2 IDSet) IDSet {
	res := IDSet{}
	for _, id := range s.ToSlice() {
		if s2.Has(id) {
			res.Add(id)
		}
	}
	return res
}

// Union returns the ids of s followed by the new ids of s2
func (s IDSet) Union(s2 IDSet) IDSet {
	res := MakeIDSet(s.ToSlice()...)
	res.Add(s2.ToSlice()...)
	return res
}

// ToSlice returns the ids in insertion order
func (s IDSet) ToSlice() []string {
	res := make([]string, 0, len(s))
	for id := range s {
		res = append(res, id)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return s[res[i]] < s[res[j]]
	})
	return res
}

func (s IDSet) Empty() bool {
	return len(s) == 0
}
