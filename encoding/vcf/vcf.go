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

// Package vcf reads and writes the subset of VCF 4.x used for germline
// variant allele fractions and panel-of-normal allele counts.  Records are
// parsed lazily: per-sample fields are split on first access.
//
// A VCF file looks like:
//
//   ##fileformat=VCFv4.2
//   #CHROM  POS  ID  REF  ALT  QUAL  FILTER  INFO  FORMAT  S1  S2
//   chr1    100  .   A    G    .     PASS    .     GT:AD   0/1:10,12  0/0:20,0
package vcf

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/cnv/interval"
	"github.com/pkg/errors"
)

const bufferInitSize = 1024 * 1024 * 16

// Fixed column indexes.
const (
	colChrom = iota
	colPos
	colID
	colRef
	colAlt
	colQual
	colFilter
	colInfo
	colFormat
	colFirstSample
)

// Missing marks an absent count.
const Missing = -1

// Header holds the meta-information lines and sample names of a VCF file.
type Header struct {
	// Meta holds the "##" lines, without the leading "##".
	Meta    []string
	Samples []string
}

// SampleIndex returns the column index of the named sample.
func (h *Header) SampleIndex(name string) (int, error) {
	for i, s := range h.Samples {
		if s == name {
			return i, nil
		}
	}
	return -1, errors.Errorf("vcf: sample %q not found among %v", name, h.Samples)
}

// Record is one data line.
type Record struct {
	Chrom  string
	Pos    int // 1-based
	ID     string
	Ref    string
	Alt    []string
	Qual   string
	Filter string
	Info   string
	Format []string
	// Samples holds the raw per-sample columns.
	Samples []string
}

// Interval returns the reference span of the record.
func (r *Record) Interval() interval.Interval {
	return interval.Interval{Chrom: r.Chrom, Start: r.Pos, End: r.Pos + len(r.Ref) - 1}
}

// IsSNV reports whether the record is a single-base substitution.
func (r *Record) IsSNV() bool {
	if len(r.Ref) != 1 || len(r.Alt) == 0 {
		return false
	}
	for _, a := range r.Alt {
		if len(a) != 1 || a == "." || a == "*" {
			return false
		}
	}
	return true
}

// Field returns the value of FORMAT key for the given sample column.
func (r *Record) Field(sample int, key string) (string, bool) {
	if sample < 0 || sample >= len(r.Samples) {
		return "", false
	}
	k := -1
	for i, f := range r.Format {
		if f == key {
			k = i
			break
		}
	}
	if k < 0 {
		return "", false
	}
	vals := strings.Split(r.Samples[sample], ":")
	if k >= len(vals) {
		return "", false
	}
	return vals[k], true
}

// AD returns the allelic depths (reference first) for the sample.  Missing
// entries are reported as Missing.
func (r *Record) AD(sample int) ([]int, bool) {
	s, ok := r.Field(sample, "AD")
	if !ok || s == "." {
		return nil, false
	}
	parts := strings.Split(s, ",")
	ad := make([]int, len(parts))
	for i, p := range parts {
		if p == "." {
			ad[i] = Missing
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		ad[i] = v
	}
	return ad, true
}

// FloatField parses a numeric FORMAT value for the sample.
func (r *Record) FloatField(sample int, key string) (float64, bool) {
	s, ok := r.Field(sample, key)
	if !ok || s == "." {
		return 0, false
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// Reader parses VCF text.
type Reader struct {
	Header  Header
	scanner *bufio.Scanner
	line    int
}

// NewReader consumes the header of r and returns a reader positioned at the
// first record.
func NewReader(r io.Reader) (*Reader, error) {
	vr := &Reader{scanner: bufio.NewScanner(r)}
	vr.scanner.Buffer(nil, bufferInitSize)
	for vr.scanner.Scan() {
		vr.line++
		line := vr.scanner.Text()
		if strings.HasPrefix(line, "##") {
			vr.Header.Meta = append(vr.Header.Meta, line[2:])
			continue
		}
		if !strings.HasPrefix(line, "#CHROM") {
			return nil, errors.Errorf("vcf: line %d: expected #CHROM header, got %.40q", vr.line, line)
		}
		cols := strings.Split(line, "\t")
		if len(cols) < colInfo+1 {
			return nil, errors.Errorf("vcf: line %d: header has %d columns", vr.line, len(cols))
		}
		if len(cols) > colFirstSample {
			vr.Header.Samples = cols[colFirstSample:]
		}
		return vr, nil
	}
	if err := vr.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "vcf: reading header")
	}
	return nil, errors.New("vcf: missing #CHROM header")
}

// Read returns the next record, or io.EOF.
func (vr *Reader) Read() (*Record, error) {
	for vr.scanner.Scan() {
		vr.line++
		line := vr.scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		rec, err := parseRecord(line, len(vr.Header.Samples))
		if err != nil {
			return nil, errors.Wrapf(err, "vcf: line %d", vr.line)
		}
		return rec, nil
	}
	if err := vr.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "vcf: read")
	}
	return nil, io.EOF
}

func parseRecord(line string, nSamples int) (*Record, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < colInfo+1 {
		return nil, errors.Errorf("expected at least %d columns, got %d", colInfo+1, len(cols))
	}
	pos, err := strconv.Atoi(cols[colPos])
	if err != nil || pos <= 0 {
		return nil, errors.Errorf("invalid POS %q", cols[colPos])
	}
	rec := &Record{
		Chrom:  cols[colChrom],
		Pos:    pos,
		ID:     cols[colID],
		Ref:    cols[colRef],
		Qual:   cols[colQual],
		Filter: cols[colFilter],
		Info:   cols[colInfo],
	}
	if cols[colAlt] != "." {
		rec.Alt = strings.Split(cols[colAlt], ",")
	}
	if nSamples > 0 {
		if len(cols) != colFirstSample+nSamples {
			return nil, errors.Errorf("expected %d sample columns, got %d", nSamples, len(cols)-colFirstSample)
		}
		rec.Format = strings.Split(cols[colFormat], ":")
		rec.Samples = cols[colFirstSample:]
	}
	return rec, nil
}

// Write writes h and recs as VCF text.
func Write(w io.Writer, h Header, recs []*Record) error {
	bw := bufio.NewWriter(w)
	for _, m := range h.Meta {
		bw.WriteString("##")
		bw.WriteString(m)
		bw.WriteByte('\n')
	}
	bw.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO")
	if len(h.Samples) > 0 {
		bw.WriteString("\tFORMAT\t")
		bw.WriteString(strings.Join(h.Samples, "\t"))
	}
	bw.WriteByte('\n')
	for _, r := range recs {
		alt := "."
		if len(r.Alt) > 0 {
			alt = strings.Join(r.Alt, ",")
		}
		cols := []string{r.Chrom, strconv.Itoa(r.Pos), r.ID, r.Ref, alt, r.Qual, r.Filter, r.Info}
		if len(h.Samples) > 0 {
			cols = append(cols, strings.Join(r.Format, ":"))
			cols = append(cols, r.Samples...)
		}
		bw.WriteString(strings.Join(cols, "\t"))
		bw.WriteByte('\n')
	}
	return errors.Wrap(bw.Flush(), "vcf: write")
}
