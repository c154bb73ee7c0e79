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

package mappingbias

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cnv/betabinom"
)

// Opts controls mapping-bias estimation.
type Opts struct {
	// MinNormals is the smallest number of informative samples for a site to
	// get a bias estimate at all.
	MinNormals int `yaml:"min_normals"`
	// MinNormalsAssignBetafit is the smallest number of informative samples
	// for a site to be assigned to a mixture centroid.
	MinNormalsAssignBetafit int `yaml:"min_normals_assign_betafit"`
	// MinNormalsPositionSpecificFit is the panel size below which per-site
	// fits are replaced by centroid assignment.
	MinNormalsPositionSpecificFit int `yaml:"min_normals_position_specific_fit"`
	// NumBetafitClusters bounds the number of mixture components.
	NumBetafitClusters int `yaml:"num_betafit_clusters"`
	// CleanAltFraction is the mean alt fraction above which a site
	// contributes to the empirical-Bayes prior.
	CleanAltFraction float64 `yaml:"clean_alt_fraction"`
	// ChunkSize is the number of sites processed at a time when streaming.
	ChunkSize int `yaml:"chunk_size"`
	// Parallelism limits concurrent site fits; 0 uses all CPUs.
	Parallelism int `yaml:"parallelism"`

	Betafit betabinom.Opts `yaml:",inline"`
}

// DefaultOpts are the standard estimation options.
var DefaultOpts = Opts{
	MinNormals:                    1,
	MinNormalsAssignBetafit:       3,
	MinNormalsPositionSpecificFit: 10,
	NumBetafitClusters:            9,
	CleanAltFraction:              0.4,
	ChunkSize:                     50000,
	Betafit:                       betabinom.DefaultOpts,
}

// Validate checks option consistency.  Sample-count thresholds must be
// non-decreasing from MinNormals through MinNormalsPositionSpecificFit.
func (o *Opts) Validate() error {
	if err := o.Betafit.Validate(); err != nil {
		return errors.E(errors.Invalid, err)
	}
	if o.MinNormals < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("mappingbias: MinNormals must be positive, got %d", o.MinNormals))
	}
	if !(o.MinNormals <= o.MinNormalsAssignBetafit &&
		o.MinNormalsAssignBetafit <= o.Betafit.MinNormals &&
		o.Betafit.MinNormals <= o.MinNormalsPositionSpecificFit) {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"mappingbias: need MinNormals (%d) <= MinNormalsAssignBetafit (%d) <= MinNormalsBetafit (%d) <= MinNormalsPositionSpecificFit (%d)",
			o.MinNormals, o.MinNormalsAssignBetafit, o.Betafit.MinNormals, o.MinNormalsPositionSpecificFit))
	}
	if o.NumBetafitClusters < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("mappingbias: NumBetafitClusters must be positive, got %d", o.NumBetafitClusters))
	}
	if o.ChunkSize < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("mappingbias: ChunkSize must be positive, got %d", o.ChunkSize))
	}
	if o.Parallelism < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("mappingbias: Parallelism must be non-negative, got %d", o.Parallelism))
	}
	return nil
}
