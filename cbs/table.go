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
	"context"

	"github.com/grailbio/cnv/encoding/table"
	"github.com/grailbio/cnv/interval"
)

// FromLogRatioRows splits log-ratio rows into targets and their aligned
// log-ratios.
func FromLogRatioRows(rows []table.LogRatioRow) ([]Target, []float64) {
	targets := make([]Target, len(rows))
	lr := make([]float64, len(rows))
	for i, r := range rows {
		targets[i] = Target{
			Interval: interval.Interval{Chrom: r.Chrom, Start: int(r.Start), End: int(r.End)},
			Weight:   r.Weight,
			OnTarget: table.ParseBool(r.OnTarget),
		}
		lr[i] = r.LogRatio
	}
	return targets, lr
}

// ToLogRatioRows is the inverse of FromLogRatioRows.
func ToLogRatioRows(targets []Target, logRatio []float64) []table.LogRatioRow {
	rows := make([]table.LogRatioRow, len(targets))
	for i, t := range targets {
		rows[i] = table.LogRatioRow{
			Chrom:    t.Chrom,
			Start:    int64(t.Start),
			End:      int64(t.End),
			OnTarget: table.FormatBool(t.OnTarget),
			Weight:   t.Weight,
			LogRatio: logRatio[i],
		}
	}
	return rows
}

// ReadLogRatios reads a log-ratio table.
func ReadLogRatios(ctx context.Context, path string) ([]Target, []float64, error) {
	rows, err := table.ReadLogRatios(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	targets, lr := FromLogRatioRows(rows)
	return targets, lr, nil
}

// ToRows converts segments of sample id to table rows.
func ToRows(id string, segs []Segment) []table.SegmentRow {
	rows := make([]table.SegmentRow, len(segs))
	for i, s := range segs {
		rows[i] = table.SegmentRow{
			ID:            id,
			Chrom:         s.Chrom,
			LocStart:      int64(s.Start),
			LocEnd:        int64(s.End),
			NumMark:       int64(s.NumMark),
			SegMean:       s.Mean,
			Size:          int64(s.Size),
			SegWeight:     s.Weight,
			WeightFlagged: table.FormatBool(s.WeightFlagged),
			Cluster:       int64(s.ClusterID),
			PValue:        s.PValue,
		}
	}
	return rows
}

// FromRows converts table rows to segments.  Target indexes are unknown.
func FromRows(rows []table.SegmentRow) []Segment {
	segs := make([]Segment, len(rows))
	for i, r := range rows {
		segs[i] = Segment{
			Interval:      interval.Interval{Chrom: r.Chrom, Start: int(r.LocStart), End: int(r.LocEnd)},
			Mean:          r.SegMean,
			NumMark:       int(r.NumMark),
			Size:          int(r.Size),
			Weight:        r.SegWeight,
			WeightFlagged: table.ParseBool(r.WeightFlagged),
			ClusterID:     int(r.Cluster),
			PValue:        r.PValue,
			FirstTarget:   -1,
			LastTarget:    -1,
		}
	}
	return segs
}

// WriteSegments writes the segments of sample id to path.
func WriteSegments(ctx context.Context, path, id string, segs []Segment) error {
	return table.WriteSegments(ctx, path, ToRows(id, segs))
}

// ReadSegments reads a segment table.
func ReadSegments(ctx context.Context, path string) ([]Segment, error) {
	rows, err := table.ReadSegments(ctx, path)
	if err != nil {
		return nil, err
	}
	return FromRows(rows), nil
}
