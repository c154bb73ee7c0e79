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
	"math"

	"github.com/grailbio/base/errors"
)

// Agglomeration methods, named as in R's hclust.
const (
	WardD    = "ward.D"
	WardD2   = "ward.D2"
	Complete = "complete"
	Average  = "average"
	Single   = "single"
)

// linkage returns the distance between cluster k and the union of clusters
// i and j, given the pairwise distances and cluster sizes
// (Lance-Williams update).
type linkage func(dki, dkj, dij float64, ni, nj, nk int) float64

func linkageFor(method string) (linkage, error) {
	switch method {
	case WardD, WardD2:
		return func(dki, dkj, dij float64, ni, nj, nk int) float64 {
			fi, fj, fk := float64(ni), float64(nj), float64(nk)
			return ((fi+fk)*dki + (fj+fk)*dkj - fk*dij) / (fi + fj + fk)
		}, nil
	case Complete:
		return func(dki, dkj, _ float64, _, _, _ int) float64 { return math.Max(dki, dkj) }, nil
	case Single:
		return func(dki, dkj, _ float64, _, _, _ int) float64 { return math.Min(dki, dkj) }, nil
	case Average:
		return func(dki, dkj, _ float64, ni, nj, _ int) float64 {
			return (float64(ni)*dki + float64(nj)*dkj) / float64(ni+nj)
		}, nil
	}
	return nil, errors.E(errors.Invalid, fmt.Sprintf("refine: unknown clustering method %q", method))
}

// cutTree clusters points agglomeratively and cuts the tree at height h:
// clusters keep merging while the closest pair is at most h apart.  Labels
// are numbered from 0 in order of each cluster's first point.
//
// ward.D2 clusters on squared distances and compares sqrt(height) with h;
// the other methods use Euclidean distances directly.
func cutTree(points [][2]float64, method string, h float64) ([]int, error) {
	link, err := linkageFor(method)
	if err != nil {
		return nil, err
	}
	n := len(points)
	squared := method == WardD2
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		for j := range d[i] {
			dx, dy := points[i][0]-points[j][0], points[i][1]-points[j][1]
			d[i][j] = dx*dx + dy*dy
			if !squared {
				d[i][j] = math.Sqrt(d[i][j])
			}
		}
	}
	size := make([]int, n)
	parent := make([]int, n)
	active := make([]bool, n)
	for i := range size {
		size[i], parent[i], active[i] = 1, i, true
	}
	for remaining := n; remaining > 1; remaining-- {
		bi, bj, best := -1, -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && d[i][j] < best {
					bi, bj, best = i, j, d[i][j]
				}
			}
		}
		height := best
		if squared {
			height = math.Sqrt(best)
		}
		if height > h {
			break
		}
		for k := 0; k < n; k++ {
			if !active[k] || k == bi || k == bj {
				continue
			}
			v := link(d[k][bi], d[k][bj], d[bi][bj], size[bi], size[bj], size[k])
			d[k][bi], d[bi][k] = v, v
		}
		size[bi] += size[bj]
		active[bj] = false
		parent[bj] = bi
	}

	root := func(i int) int {
		for parent[i] != i {
			i = parent[i]
		}
		return i
	}
	labels := make([]int, n)
	ids := map[int]int{}
	for i := range labels {
		r := root(i)
		id, ok := ids[r]
		if !ok {
			id = len(ids)
			ids[r] = id
		}
		labels[i] = id
	}
	return labels, nil
}
