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
	"database/sql"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cnv/interval"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// AlleleCountSchema creates the table read by OpenSQLite.  Each row is the
// allele count of one sample at one site; "offset" is the 1-based position.
const AlleleCountSchema = `
CREATE TABLE IF NOT EXISTS allele_counts (
	contig    TEXT NOT NULL,
	"offset"  INTEGER NOT NULL,
	ref       TEXT NOT NULL,
	alt       TEXT NOT NULL,
	sample    TEXT NOT NULL,
	ref_count INTEGER NOT NULL,
	alt_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_allele_counts_site ON allele_counts(contig, "offset");
`

const siteQuery = `SELECT "offset", ref, alt, sample, ref_count, alt_count
FROM allele_counts WHERE contig = ? ORDER BY "offset", ref, alt`

// sqliteReader streams sites contig by contig in natural chromosome order.
type sqliteReader struct {
	db      *sql.DB
	path    string
	samples []string
	column  map[string]int
	contigs []string

	contig int
	rows   *sql.Rows
	// ahead is the first row of the next site, if already read.
	ahead *sqliteRow
}

type sqliteRow struct {
	contig           string
	offset           int
	ref, alt, sample string
	refCount         int
	altCount         int
}

func (a *sqliteRow) sameSite(b *sqliteRow) bool {
	return a.contig == b.contig && a.offset == b.offset && a.ref == b.ref && a.alt == b.alt
}

// OpenSQLite opens a SQLite allele-count database.
func OpenSQLite(ctx context.Context, path string) (SiteReader, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.E(err, "mappingbias: open", path)
	}
	r := &sqliteReader{db: db, path: path, column: map[string]int{}, contig: -1}
	if r.samples, err = queryStrings(ctx, db, `SELECT DISTINCT sample FROM allele_counts ORDER BY sample`); err != nil {
		db.Close() // nolint: errcheck
		return nil, errors.E(err, "mappingbias: list samples", path)
	}
	if len(r.samples) == 0 {
		db.Close() // nolint: errcheck
		return nil, errors.E(errors.Invalid, "mappingbias: allele_counts has no samples", path)
	}
	for i, s := range r.samples {
		r.column[s] = i
	}
	contigs, err := queryStrings(ctx, db, `SELECT DISTINCT contig FROM allele_counts`)
	if err != nil {
		db.Close() // nolint: errcheck
		return nil, errors.E(err, "mappingbias: list contigs", path)
	}
	r.contigs = interval.NaturalChromOrder(contigs).Names()
	return r, nil
}

func queryStrings(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close() // nolint: errcheck
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sqliteReader) Samples() []string { return r.samples }

// nextRow returns the next row, moving across contigs, or nil at the end.
func (r *sqliteReader) nextRow(ctx context.Context) (*sqliteRow, error) {
	for {
		if r.rows == nil {
			if r.contig+1 >= len(r.contigs) {
				return nil, nil
			}
			r.contig++
			rows, err := r.db.QueryContext(ctx, siteQuery, r.contigs[r.contig])
			if err != nil {
				return nil, errors.E(err, "mappingbias: query", r.path, r.contigs[r.contig])
			}
			r.rows = rows
		}
		if r.rows.Next() {
			row := sqliteRow{contig: r.contigs[r.contig]}
			if err := r.rows.Scan(&row.offset, &row.ref, &row.alt, &row.sample, &row.refCount, &row.altCount); err != nil {
				return nil, errors.E(err, "mappingbias: scan", r.path)
			}
			return &row, nil
		}
		err := r.rows.Err()
		r.rows.Close() // nolint: errcheck
		r.rows = nil
		if err != nil {
			return nil, errors.E(err, "mappingbias: query", r.path)
		}
	}
}

func (r *sqliteReader) Read(ctx context.Context) (Site, []int, []int, error) {
	first := r.ahead
	if first == nil {
		var err error
		if first, err = r.nextRow(ctx); err != nil {
			return Site{}, nil, nil, err
		}
		if first == nil {
			return Site{}, nil, nil, io.EOF
		}
	}
	ref := make([]int, len(r.samples))
	alt := make([]int, len(r.samples))
	for i := range ref {
		ref[i], alt[i] = Missing, Missing
	}
	row := first
	for row != nil && row.sameSite(first) {
		col := r.column[row.sample]
		ref[col], alt[col] = row.refCount, row.altCount
		var err error
		if row, err = r.nextRow(ctx); err != nil {
			return Site{}, nil, nil, err
		}
	}
	r.ahead = row
	site := Site{
		Interval: interval.Interval{Chrom: first.contig, Start: first.offset, End: first.offset + len(first.ref) - 1},
		Ref:      first.ref,
		Alt:      first.alt,
	}
	return site, ref, alt, nil
}

func (r *sqliteReader) Close(ctx context.Context) error {
	if r.rows != nil {
		r.rows.Close() // nolint: errcheck
	}
	return r.db.Close()
}

// WriteSQLite stores m in a new or existing allele-count database at path.
// Missing counts are omitted.
func WriteSQLite(ctx context.Context, path string, m *SiteAlleleMatrix) (err error) {
	if err = m.Validate(); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return errors.E(err, "mappingbias: open", path)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if _, err = db.ExecContext(ctx, AlleleCountSchema); err != nil {
		return errors.E(err, "mappingbias: create schema", path)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.E(err, "mappingbias: begin", path)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO allele_counts (contig, "offset", ref, alt, sample, ref_count, alt_count) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback() // nolint: errcheck
		return errors.E(err, "mappingbias: prepare", path)
	}
	for i, s := range m.Sites {
		for j, sample := range m.Samples {
			if m.RefCount[i][j] == Missing || m.AltCount[i][j] == Missing {
				continue
			}
			if _, err = stmt.ExecContext(ctx, s.Chrom, s.Start, s.Ref, s.Alt, sample, m.RefCount[i][j], m.AltCount[i][j]); err != nil {
				tx.Rollback() // nolint: errcheck
				return errors.E(err, "mappingbias: insert", path)
			}
		}
	}
	if err = stmt.Close(); err != nil {
		tx.Rollback() // nolint: errcheck
		return errors.E(err, "mappingbias: insert", path)
	}
	return tx.Commit()
}
