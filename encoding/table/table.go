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

// Package table defines the tab-separated interchange formats for target
// log-ratios, segments and per-site mapping bias.  Files may be gzip
// compressed; compression is recognized by extension.
package table

import (
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
)

// LogRatioRow is one target of a coverage log-ratio file.
type LogRatioRow struct {
	Chrom    string  `tsv:"chrom"`
	Start    int64   `tsv:"start"`
	End      int64   `tsv:"end"`
	OnTarget string  `tsv:"on_target"`
	Weight   float64 `tsv:"weight"`
	LogRatio float64 `tsv:"log_ratio"`
}

// SegmentRow is one segment, with DNAcopy-compatible column names.
type SegmentRow struct {
	ID            string  `tsv:"ID"`
	Chrom         string  `tsv:"chrom"`
	LocStart      int64   `tsv:"loc.start"`
	LocEnd        int64   `tsv:"loc.end"`
	NumMark       int64   `tsv:"num.mark"`
	SegMean       float64 `tsv:"seg.mean"`
	Size          int64   `tsv:"size"`
	SegWeight     float64 `tsv:"seg.weight"`
	WeightFlagged string  `tsv:"weight.flagged"`
	Cluster       int64   `tsv:"cluster"`
	PValue        float64 `tsv:"pvalue"`
}

// BiasRow is the mapping bias of one panel-of-normal site.
type BiasRow struct {
	Chrom      string  `tsv:"chrom"`
	Start      int64   `tsv:"start"`
	End        int64   `tsv:"end"`
	Ref        string  `tsv:"ref"`
	Alt        string  `tsv:"alt"`
	Bias       float64 `tsv:"bias"`
	PonCount   int64   `tsv:"pon.count"`
	Mu         float64 `tsv:"mu"`
	Rho        float64 `tsv:"rho"`
	Clustered  string  `tsv:"clustered"`
	Triallelic string  `tsv:"triallelic"`
}

// FormatBool renders b the way R writes logicals.
func FormatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// ParseBool accepts TRUE/FALSE in any case as well as 1/0.  Anything else is
// false.
func ParseBool(s string) bool {
	switch strings.ToUpper(s) {
	case "TRUE", "T", "1":
		return true
	}
	return false
}

// openReader opens path, transparently decompressing gzip input.
func openReader(ctx context.Context, path string) (io.Reader, func() error, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, "table: open", path)
	}
	var r io.Reader = f.Reader(ctx)
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			f.Close(ctx) // nolint: errcheck
			return nil, nil, errors.E(err, "table: gzip", path)
		}
		return gz, func() error {
			gz.Close() // nolint: errcheck
			return f.Close(ctx)
		}, nil
	}
	return r, func() error { return f.Close(ctx) }, nil
}

func newReader(r io.Reader) *tsv.Reader {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	tr.Comment = '#'
	return tr
}

// readRows reads path row by row, calling next to obtain a destination for
// each row.  next returns nil to stop.
func readRows(ctx context.Context, path string, next func() interface{}, keep func()) (err error) {
	r, closer, err := openReader(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	tr := newReader(r)
	for {
		if err := tr.Read(next()); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.E(err, "table: read", path)
		}
		keep()
	}
}

// writeRows writes n rows produced by row to path, gzip compressing when the
// path ends in .gz.
func writeRows(ctx context.Context, path string, n int, row func(i int) interface{}) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "table: create", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	var w io.Writer = out.Writer(ctx)
	var gz *gzip.Writer
	if fileio.DetermineType(path) == fileio.Gzip {
		gz = gzip.NewWriter(w)
		w = gz
	}
	tw := tsv.NewRowWriter(w)
	for i := 0; i < n; i++ {
		if err := tw.Write(row(i)); err != nil {
			return errors.E(err, "table: write", path)
		}
	}
	if err := tw.Flush(); err != nil {
		return errors.E(err, "table: flush", path)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.E(err, "table: gzip", path)
		}
	}
	return nil
}

// ReadLogRatios reads a target log-ratio file.
func ReadLogRatios(ctx context.Context, path string) ([]LogRatioRow, error) {
	var (
		rows []LogRatioRow
		row  LogRatioRow
	)
	err := readRows(ctx, path,
		func() interface{} { row = LogRatioRow{}; return &row },
		func() { rows = append(rows, row) })
	return rows, err
}

// WriteLogRatios writes a target log-ratio file.
func WriteLogRatios(ctx context.Context, path string, rows []LogRatioRow) error {
	return writeRows(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}

// ReadSegments reads a segment file.
func ReadSegments(ctx context.Context, path string) ([]SegmentRow, error) {
	var (
		rows []SegmentRow
		row  SegmentRow
	)
	err := readRows(ctx, path,
		func() interface{} { row = SegmentRow{}; return &row },
		func() { rows = append(rows, row) })
	return rows, err
}

// WriteSegments writes a segment file.
func WriteSegments(ctx context.Context, path string, rows []SegmentRow) error {
	return writeRows(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}

// ReadBias reads a mapping-bias file.
func ReadBias(ctx context.Context, path string) ([]BiasRow, error) {
	var (
		rows []BiasRow
		row  BiasRow
	)
	err := readRows(ctx, path,
		func() interface{} { row = BiasRow{}; return &row },
		func() { rows = append(rows, row) })
	return rows, err
}

// WriteBias writes a mapping-bias file.
func WriteBias(ctx context.Context, path string, rows []BiasRow) error {
	return writeRows(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}

// BiasWriter streams BiasRows to an io.Writer.
type BiasWriter struct {
	w *tsv.RowWriter
}

// NewBiasWriter returns a writer emitting rows to w.
func NewBiasWriter(w io.Writer) *BiasWriter {
	return &BiasWriter{w: tsv.NewRowWriter(w)}
}

// Write appends one row.
func (bw *BiasWriter) Write(row *BiasRow) error { return bw.w.Write(row) }

// Flush flushes buffered rows.
func (bw *BiasWriter) Flush() error { return bw.w.Flush() }
