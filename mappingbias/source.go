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
	"io"
	"strings"

	"github.com/grailbio/base/errors"
)

// Input names a panel-of-normals source: either an in-memory matrix or a
// path to a multi-sample VCF or a SQLite allele-count database.
type Input struct {
	Table *SiteAlleleMatrix
	Path  string
}

// IsSQLite reports whether path names a SQLite database, judged by its
// extension.
func IsSQLite(path string) bool {
	for _, ext := range []string{".db", ".sqlite", ".sqlite3"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Open returns a SiteReader for in.
func Open(ctx context.Context, in Input) (SiteReader, error) {
	switch {
	case in.Table != nil && in.Path != "":
		return nil, errors.E(errors.Invalid, "mappingbias: input has both a table and a path")
	case in.Table != nil:
		if err := in.Table.Validate(); err != nil {
			return nil, err
		}
		return NewTableReader(in.Table), nil
	case in.Path == "":
		return nil, errors.E(errors.Invalid, "mappingbias: empty input")
	case IsSQLite(in.Path):
		return OpenSQLite(ctx, in.Path)
	default:
		return OpenVCF(ctx, in.Path)
	}
}

// tableReader yields the rows of an in-memory matrix.
type tableReader struct {
	m   *SiteAlleleMatrix
	pos int
}

// NewTableReader returns a SiteReader over the rows of m.
func NewTableReader(m *SiteAlleleMatrix) SiteReader {
	return &tableReader{m: m}
}

func (t *tableReader) Samples() []string { return t.m.Samples }

func (t *tableReader) Read(ctx context.Context) (Site, []int, []int, error) {
	if t.pos >= t.m.NumSites() {
		return Site{}, nil, nil, io.EOF
	}
	i := t.pos
	t.pos++
	return t.m.Sites[i], t.m.RefCount[i], t.m.AltCount[i], nil
}

func (t *tableReader) Close(ctx context.Context) error { return nil }
