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
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/cnv/encoding/table"
	"github.com/grailbio/cnv/interval"
)

func init() {
	recordiozstd.Init()
}

const (
	versionHeader = "cnv.mappingbias.version"
	formatVersion = "1"

	flagClustered  = 1
	flagTriallelic = 2

	// Fixed-size portion of a marshaled record: start, end, pon count (4
	// bytes each), bias, mu, rho (8 bytes each), flags, and three 2-byte
	// string lengths.
	fixedRecordLen = 4*3 + 8*3 + 1 + 2*3
)

// IsRecordio reports whether path has a recordio extension.
func IsRecordio(path string) bool {
	return strings.HasSuffix(path, ".rio") || strings.HasSuffix(path, ".recordio")
}

// cutAndAdvance returns s[*offset:*offset+n] and advances *offset by n.
func cutAndAdvance(offset *int, s []byte, n int) []byte {
	start := *offset
	*offset += n
	return s[start:*offset]
}

func marshalRecord(scratch []byte, p interface{}) ([]byte, error) {
	r := p.(*Record)
	for _, s := range []string{r.Chrom, r.Ref, r.Alt} {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("mappingbias: field too long at %v", r.Interval)
		}
	}
	n := fixedRecordLen + len(r.Chrom) + len(r.Ref) + len(r.Alt)
	t := scratch
	if cap(t) < n {
		t = make([]byte, n)
	}
	t = t[:n]
	offset := 0
	binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), uint32(r.Start))
	binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), uint32(r.End))
	binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), uint32(r.PonCount))
	binary.LittleEndian.PutUint64(cutAndAdvance(&offset, t, 8), math.Float64bits(r.Bias))
	binary.LittleEndian.PutUint64(cutAndAdvance(&offset, t, 8), math.Float64bits(r.Mu))
	binary.LittleEndian.PutUint64(cutAndAdvance(&offset, t, 8), math.Float64bits(r.Rho))
	var flags byte
	if r.Clustered {
		flags |= flagClustered
	}
	if r.Triallelic {
		flags |= flagTriallelic
	}
	t[offset] = flags
	offset++
	for _, s := range []string{r.Chrom, r.Ref, r.Alt} {
		binary.LittleEndian.PutUint16(cutAndAdvance(&offset, t, 2), uint16(len(s)))
		copy(cutAndAdvance(&offset, t, len(s)), s)
	}
	return t, nil
}

func unmarshalRecord(in []byte) (interface{}, error) {
	if len(in) < fixedRecordLen {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("mappingbias: record too short (%d bytes)", len(in)))
	}
	r := &Record{}
	offset := 0
	r.Start = int(binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4)))
	r.End = int(binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4)))
	r.PonCount = int(binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4)))
	r.Bias = math.Float64frombits(binary.LittleEndian.Uint64(cutAndAdvance(&offset, in, 8)))
	r.Mu = math.Float64frombits(binary.LittleEndian.Uint64(cutAndAdvance(&offset, in, 8)))
	r.Rho = math.Float64frombits(binary.LittleEndian.Uint64(cutAndAdvance(&offset, in, 8)))
	flags := in[offset]
	offset++
	r.Clustered = flags&flagClustered != 0
	r.Triallelic = flags&flagTriallelic != 0
	var strs [3]string
	for i := range strs {
		if offset+2 > len(in) {
			return nil, errors.E(errors.Integrity, "mappingbias: truncated record")
		}
		n := int(binary.LittleEndian.Uint16(cutAndAdvance(&offset, in, 2)))
		if offset+n > len(in) {
			return nil, errors.E(errors.Integrity, "mappingbias: truncated record")
		}
		strs[i] = string(cutAndAdvance(&offset, in, n))
	}
	r.Chrom, r.Ref, r.Alt = strs[0], strs[1], strs[2]
	return r, nil
}

// RecordWriter appends Records to a zstd-compressed recordio stream.
type RecordWriter struct {
	w recordio.Writer
	n int64
}

// NewRecordWriter starts a recordio stream on out.
func NewRecordWriter(out io.Writer) *RecordWriter {
	w := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshalRecord,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(versionHeader, formatVersion)
	w.AddHeader(recordio.KeyTrailer, true)
	return &RecordWriter{w: w}
}

// Write appends recs.
func (rw *RecordWriter) Write(recs []Record) error {
	for i := range recs {
		rw.w.Append(&recs[i])
	}
	rw.n += int64(len(recs))
	return rw.w.Err()
}

// Finish writes the trailer and flushes the stream.
func (rw *RecordWriter) Finish() error {
	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], uint64(rw.n))
	rw.w.SetTrailer(trailer[:])
	return rw.w.Finish()
}

// ReadRecords reads all records of a recordio stream written by
// RecordWriter.
func ReadRecords(in io.ReadSeeker) ([]Record, error) {
	scanner := recordio.NewScanner(in, recordio.ScannerOpts{Unmarshal: unmarshalRecord})
	for _, kv := range scanner.Header() {
		if kv.Key == versionHeader {
			if v, ok := kv.Value.(string); !ok || v != formatVersion {
				return nil, errors.E(errors.NotSupported, fmt.Sprintf("mappingbias: unsupported format version %v", kv.Value))
			}
		}
	}
	var recs []Record
	if t := scanner.Trailer(); len(t) == 8 {
		recs = make([]Record, 0, binary.LittleEndian.Uint64(t))
	}
	for scanner.Scan() {
		recs = append(recs, *scanner.Get().(*Record))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return recs, scanner.Finish()
}

// WriteFile writes recs to path, as recordio for .rio paths and as TSV
// otherwise.
func WriteFile(ctx context.Context, path string, recs []Record) (err error) {
	if !IsRecordio(path) {
		return table.WriteBias(ctx, path, ToRows(recs))
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "mappingbias: create", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := NewRecordWriter(out.Writer(ctx))
	if err := w.Write(recs); err != nil {
		return errors.E(err, "mappingbias: write", path)
	}
	return w.Finish()
}

// ReadFile reads records written by WriteFile.
func ReadFile(ctx context.Context, path string) (recs []Record, err error) {
	if !IsRecordio(path) {
		rows, err := table.ReadBias(ctx, path)
		if err != nil {
			return nil, err
		}
		return FromRows(rows), nil
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "mappingbias: open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	if recs, err = ReadRecords(in.Reader(ctx)); err != nil {
		return nil, errors.E(err, path)
	}
	return recs, nil
}

// ToRows converts records to TSV rows.
func ToRows(recs []Record) []table.BiasRow {
	rows := make([]table.BiasRow, len(recs))
	for i, r := range recs {
		rows[i] = table.BiasRow{
			Chrom:      r.Chrom,
			Start:      int64(r.Start),
			End:        int64(r.End),
			Ref:        r.Ref,
			Alt:        r.Alt,
			Bias:       r.Bias,
			PonCount:   int64(r.PonCount),
			Mu:         r.Mu,
			Rho:        r.Rho,
			Clustered:  table.FormatBool(r.Clustered),
			Triallelic: table.FormatBool(r.Triallelic),
		}
	}
	return rows
}

// FromRows converts TSV rows to records.
func FromRows(rows []table.BiasRow) []Record {
	recs := make([]Record, len(rows))
	for i, row := range rows {
		recs[i] = Record{
			Site: Site{
				Interval: interval.Interval{Chrom: row.Chrom, Start: int(row.Start), End: int(row.End)},
				Ref:      row.Ref,
				Alt:      row.Alt,
			},
			Bias:       row.Bias,
			PonCount:   int(row.PonCount),
			Mu:         row.Mu,
			Rho:        row.Rho,
			Clustered:  table.ParseBool(row.Clustered),
			Triallelic: table.ParseBool(row.Triallelic),
		}
	}
	return recs
}

// StreamFile runs Stream over r and writes the records to path as they are
// produced, as recordio for .rio paths and as TSV otherwise.
func StreamFile(ctx context.Context, r SiteReader, opts Opts, path string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "mappingbias: create", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	if IsRecordio(path) {
		w := NewRecordWriter(out.Writer(ctx))
		if err := Stream(ctx, r, opts, w.Write); err != nil {
			return errors.E(err, path)
		}
		return w.Finish()
	}
	w := table.NewBiasWriter(out.Writer(ctx))
	err = Stream(ctx, r, opts, func(recs []Record) error {
		rows := ToRows(recs)
		for i := range rows {
			if err := w.Write(&rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.E(err, path)
	}
	return w.Flush()
}
