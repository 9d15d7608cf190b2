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

// Guard is the recursion guard every mutating entry point takes.
//
// With AutoRefresh the engine watches trigger fields around the base
// mutation and recomputes rewards when one changed. With SkipAutoRefresh the
// call goes straight to the base mutation. The engine hands SkipAutoRefresh
// to the recompute step, so writes made while recomputing never trigger
// another recompute, while the caller keeps its own guard for later writes
// in the same request.
type Guard bool

const (
	AutoRefresh     Guard = false
	SkipAutoRefresh Guard = true
)

func (g Guard) Suppressed() bool {
	return bool(g)
}

func (g Guard) String() string {
	if g {
		return "skip_auto_refresh"
	}
	return "auto_refresh"
}
