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

package refine

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Opts controls refinement.
type Opts struct {
	// Breakpoint pruning.
	MaxPValue       float64 `yaml:"max_pval"`
	MinSize         int     `yaml:"min_size"`
	MergePValue     float64 `yaml:"merge_pval"`
	PruneIterations int     `yaml:"prune_iterations"`

	// CNN-LOH detection.
	MinVariants      int     `yaml:"min_variants"`
	CNNLOHAlpha      float64 `yaml:"cnnloh_alpha"`
	MinMeanDiff      float64 `yaml:"min_mean_diff"`
	MinMeanDiffLarge float64 `yaml:"min_mean_diff_large"`
	CNNLOHIterations int     `yaml:"cnnloh_iterations"`

	// Dosage clustering.  HclustHeight <= 0 selects the height from the
	// dispersion of the log-ratios.
	HclustHeight      float64 `yaml:"hclust_height"`
	HclustMethod      string  `yaml:"hclust_method"`
	HclustMinVariants int     `yaml:"hclust_min_variants"`
	HclustIterations  int     `yaml:"hclust_iterations"`

	// Weight flagging.
	WeightFlagPValue       float64 `yaml:"weight_flag_pvalue"`
	WeightFlagPermutations int     `yaml:"weight_flag_permutations"`
	WeightFlagMaxRun       int     `yaml:"weight_flag_max_run"`
	Seed                   int64   `yaml:"seed"`

	// Parallelism limits the chromosomes processed concurrently; 0 uses all
	// CPUs.
	Parallelism int `yaml:"parallelism"`
}

// DefaultOpts are the standard refinement options.
var DefaultOpts = Opts{
	MaxPValue:       1e-5,
	MinSize:         5,
	MergePValue:     0.2,
	PruneIterations: 3,

	MinVariants:      7,
	CNNLOHAlpha:      0.005,
	MinMeanDiff:      0.05,
	MinMeanDiffLarge: 0.025,
	CNNLOHIterations: 2,

	HclustMethod:      WardD,
	HclustMinVariants: 5,
	HclustIterations:  2,

	WeightFlagPValue:       0.01,
	WeightFlagPermutations: 2000,
	WeightFlagMaxRun:       25,
	Seed:                   1,
}

// heightBands are the automatic clustering heights for the four dispersion
// bands of the log-ratios.
var heightBands = [4]float64{0.1, 0.15, 0.2, 0.25}

// Validate checks that opts is usable.
func (o *Opts) Validate() error {
	switch {
	case o.MinSize < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("refine: min_size must be positive, got %d", o.MinSize))
	case o.MinVariants < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("refine: min_variants must be positive, got %d", o.MinVariants))
	case o.HclustMinVariants < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("refine: hclust_min_variants must be positive, got %d", o.HclustMinVariants))
	case o.PruneIterations < 0 || o.CNNLOHIterations < 0 || o.HclustIterations < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("refine: iteration counts must be non-negative, got %d, %d, %d",
			o.PruneIterations, o.CNNLOHIterations, o.HclustIterations))
	case !(o.CNNLOHAlpha > 0 && o.CNNLOHAlpha < 1):
		return errors.E(errors.Invalid, fmt.Sprintf("refine: cnnloh_alpha must be in (0, 1), got %v", o.CNNLOHAlpha))
	case o.WeightFlagPermutations < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("refine: weight_flag_permutations must be positive, got %d", o.WeightFlagPermutations))
	case o.WeightFlagMaxRun < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("refine: weight_flag_max_run must be positive, got %d", o.WeightFlagMaxRun))
	case o.Parallelism < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("refine: parallelism must be non-negative, got %d", o.Parallelism))
	}
	if _, err := linkageFor(o.HclustMethod); err != nil {
		return err
	}
	return nil
}
