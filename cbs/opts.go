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
	"fmt"

	"github.com/grailbio/base/errors"
)

// AutoUndoSD requests that the undo strength be derived from the data.
const AutoUndoSD = -1

// Opts controls segmentation.
type Opts struct {
	// Alpha is the significance level for accepting a change point.
	Alpha float64 `yaml:"alpha"`
	// NPerm is the number of permutations used to test a change point.
	NPerm int `yaml:"nperm"`
	// Eta is the error rate of the sequential early-stopping rule.
	Eta float64 `yaml:"eta"`
	// MinWidth is the smallest number of markers in a segment.
	MinWidth int `yaml:"min_width"`
	// NMin is the series length above which arcs longer than KMax are
	// tested with a tail probability approximation instead of permutations.
	// Zero permutes every series in full.
	NMin int `yaml:"nmin"`
	// KMax is the longest arc scanned in the permutations of such a series.
	KMax int `yaml:"kmax"`
	// Weighted uses target weights in the segment statistics and means.
	Weighted bool `yaml:"weighted"`

	// UndoSD removes change points whose neighboring means differ by less
	// than UndoSD noise standard deviations.  Negative values select the
	// strength automatically, zero keeps all change points.
	UndoSD float64 `yaml:"undo_sd"`
	// MinLogRSdev is the noise level the automatic undo strength is scaled
	// against.
	MinLogRSdev float64 `yaml:"min_logr_sdev"`

	// MaxSegments triggers a retry with a stronger undo step.
	MaxSegments int `yaml:"max_segments"`
	// MaxRetries bounds the number of such retries.
	MaxRetries int `yaml:"max_retries"`
	// UndoGrowth multiplies UndoSD on each retry.
	UndoGrowth float64 `yaml:"undo_growth"`

	// Seed seeds the permutation source.  Each chromosome uses Seed plus its
	// rank, so results do not depend on parallelism.
	Seed int64 `yaml:"seed"`
	// Parallelism limits the chromosomes segmented concurrently; 0 uses all
	// CPUs.
	Parallelism int `yaml:"parallelism"`
}

// DefaultOpts are the standard segmentation options.
var DefaultOpts = Opts{
	Alpha:       0.005,
	NPerm:       10000,
	Eta:         0.05,
	MinWidth:    2,
	NMin:        200,
	KMax:        25,
	Weighted:    true,
	UndoSD:      AutoUndoSD,
	MinLogRSdev: 0.15,
	MaxSegments: 300,
	MaxRetries:  2,
	UndoGrowth:  1.5,
	Seed:        1,
}

// Validate checks that opts is usable.
func (o *Opts) Validate() error {
	switch {
	case !(o.Alpha > 0 && o.Alpha < 1):
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: alpha must be in (0, 1), got %v", o.Alpha))
	case o.NPerm < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: nperm must be positive, got %d", o.NPerm))
	case !(o.Eta > 0 && o.Eta < 1):
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: eta must be in (0, 1), got %v", o.Eta))
	case o.MinWidth < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: min_width must be positive, got %d", o.MinWidth))
	case o.NMin < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: nmin must be non-negative, got %d", o.NMin))
	case o.KMax < o.MinWidth:
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: kmax must be at least min_width, got %d", o.KMax))
	case o.MinLogRSdev <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: min_logr_sdev must be positive, got %v", o.MinLogRSdev))
	case o.MaxSegments < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: max_segments must be positive, got %d", o.MaxSegments))
	case o.MaxRetries < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: max_retries must be non-negative, got %d", o.MaxRetries))
	case o.UndoGrowth <= 1:
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: undo_growth must exceed 1, got %v", o.UndoGrowth))
	case o.Parallelism < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("cbs: parallelism must be non-negative, got %d", o.Parallelism))
	}
	return nil
}
