package table_test

import (
	"io/ioutil"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cnv/encoding/table"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestReadLogRatiosByHeaderName(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	path := filepath.Join(tmpdir, "lr.tsv")
	// Columns out of order; rows are matched by header name.
	text := "log_ratio\tchrom\tstart\tend\ton_target\tweight\n" +
		"0.25\tchr1\t1\t100\tTRUE\t1.5\n" +
		"NaN\tchr1\t201\t300\tFALSE\t0.5\n"
	assert.NoError(t, ioutil.WriteFile(path, []byte(text), 0644))

	rows, err := table.ReadLogRatios(vcontext.Background(), path)
	assert.NoError(t, err)
	assert.EQ(t, len(rows), 2)
	expect.EQ(t, rows[0], table.LogRatioRow{Chrom: "chr1", Start: 1, End: 100, OnTarget: "TRUE", Weight: 1.5, LogRatio: 0.25})
	expect.True(t, math.IsNaN(rows[1].LogRatio))
	expect.False(t, table.ParseBool(rows[1].OnTarget))
}

func TestWriteSegmentsGzip(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	path := filepath.Join(tmpdir, "seg.tsv.gz")

	rows := []table.SegmentRow{
		{ID: "tumor", Chrom: "chr1", LocStart: 1, LocEnd: 5000, NumMark: 50, SegMean: 0.01, Size: 50, SegWeight: 1, WeightFlagged: table.FormatBool(false), Cluster: -1, PValue: 1e-9},
		{ID: "tumor", Chrom: "chr1", LocStart: 5001, LocEnd: 10000, NumMark: 50, SegMean: -0.98, Size: 49, SegWeight: 1, WeightFlagged: table.FormatBool(true), Cluster: 2, PValue: math.NaN()},
	}
	assert.NoError(t, table.WriteSegments(ctx, path, rows))
	got, err := table.ReadSegments(ctx, path)
	assert.NoError(t, err)
	assert.EQ(t, len(got), 2)
	expect.EQ(t, got[0], rows[0])
	expect.EQ(t, got[1].Cluster, int64(2))
	expect.True(t, table.ParseBool(got[1].WeightFlagged))
	expect.True(t, math.IsNaN(got[1].PValue))
}

func TestWriteBiasHeader(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	path := filepath.Join(tmpdir, "bias.tsv")
	rows := []table.BiasRow{{Chrom: "chr1", Start: 10, End: 10, Ref: "A", Alt: "G", Bias: 0.9, PonCount: 3, Mu: 0.45, Rho: 0.01, Clustered: "FALSE", Triallelic: "FALSE"}}
	assert.NoError(t, table.WriteBias(vcontext.Background(), path, rows))
	data, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	header := strings.SplitN(string(data), "\n", 2)[0]
	expect.EQ(t, header, "chrom\tstart\tend\tref\talt\tbias\tpon.count\tmu\trho\tclustered\ttriallelic")
}
