// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cbs

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// checkpointInterval is the number of permutations between early-stopping
// checks.
const checkpointInterval = 100

// Boundary is the sequential stopping rule of the permutation test.  After
// Checkpoint(k) permutations, the test stops and accepts the null once the
// number of permuted statistics exceeding the observed one reaches Limit[k].
type Boundary struct {
	NPerm int
	// MaxExceed is the largest exceedance count still compatible with a
	// p-value at or below alpha.
	MaxExceed int
	Limit     []int
}

// NewBoundary computes the stopping rule for nperm permutations at
// significance alpha.  Limit[k] is the smallest count c for which a change
// with true p-value alpha would show c or more exceedances in the first
// Checkpoint(k) permutations with probability at most eta.
func NewBoundary(nperm int, alpha, eta float64) Boundary {
	b := Boundary{NPerm: nperm, MaxExceed: int(math.Floor(alpha * float64(nperm)))}
	for m := checkpointInterval; m <= nperm; m += checkpointInterval {
		dist := distuv.Binomial{N: float64(m), P: alpha}
		c := 0
		for c <= m && dist.Survival(float64(c)-1) > eta {
			c++
		}
		b.Limit = append(b.Limit, c)
	}
	return b
}

// Checkpoint returns the number of permutations after which Limit[k] applies.
func (b Boundary) Checkpoint(k int) int { return (k + 1) * checkpointInterval }

// stop reports whether a test that has seen exceed exceedances in done
// permutations can already be declared not significant.
func (b Boundary) stop(done, exceed int) bool {
	if exceed > b.MaxExceed {
		return true
	}
	if done%checkpointInterval != 0 {
		return false
	}
	k := done/checkpointInterval - 1
	return k < len(b.Limit) && exceed >= b.Limit[k]
}
