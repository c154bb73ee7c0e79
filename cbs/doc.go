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

// Package cbs segments copy-number log-ratios with circular binary
// segmentation.
//
// Each chromosome is split recursively.  At every step the arc (a contiguous,
// possibly wrapping, run of values) whose weighted mean differs most from the
// rest of the series is tested with a permutation test, stopped early by a
// sequential Boundary, or accepted outright when a Bonferroni bound is already
// below alpha.  Series longer than NMin values use a hybrid test: arcs longer
// than KMax values are covered by a tail probability approximation, and only
// the short arcs are scanned in each permutation.  Accepted arcs cut the
// series into up to three pieces, which are segmented in turn.  An undo step
// then removes change points between segments whose means differ by less
// than UndoSD noise standard deviations.
package cbs
