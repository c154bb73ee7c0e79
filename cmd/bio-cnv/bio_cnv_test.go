package main

import (
	"flag"
	"io/ioutil"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/encoding/table"
	"github.com/grailbio/cnv/hqsnp"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/cnv/mappingbias"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestDecodeConfig(t *testing.T) {
	c := defaultConfig()
	doc := `
cbs:
  alpha: 0.01
  undo_sd: 1.5
refine:
  hclust_method: complete
mapping_bias:
  min_betafit_rho: 0.0005
hqsnp:
  min_pon: 5
`
	assert.NoError(t, decodeConfig([]byte(doc), &c))
	expect.EQ(t, c.CBS.Alpha, 0.01)
	expect.EQ(t, c.CBS.UndoSD, 1.5)
	expect.EQ(t, c.CBS.NPerm, cbs.DefaultOpts.NPerm)
	expect.EQ(t, c.Refine.HclustMethod, "complete")
	expect.EQ(t, c.MappingBias.Betafit.MinRho, 0.0005)
	expect.EQ(t, c.MappingBias.ChunkSize, mappingbias.DefaultOpts.ChunkSize)
	expect.EQ(t, c.HQSNP.MinPon, 5)
	expect.EQ(t, c.HQSNP.MaxBias, hqsnp.DefaultOpts.MaxBias)

	assert.NoError(t, decodeConfig(nil, &c))
	err := decodeConfig([]byte("cbs:\n  alhpa: 0.1\n"), &c)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestApplyConfigFlagsWin(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	path := filepath.Join(tmpdir, "cnv.yaml")
	assert.NoError(t, ioutil.WriteFile(path, []byte("cbs:\n  alpha: 0.01\n  nperm: 500\n"), 0644))

	c := defaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Float64Var(&c.CBS.Alpha, "alpha", c.CBS.Alpha, "")
	fs.IntVar(&c.CBS.NPerm, "nperm", c.CBS.NPerm, "")
	fs.IntVar(&c.CBS.MinWidth, "min-width", c.CBS.MinWidth, "")
	assert.NoError(t, fs.Parse([]string{"-alpha=0.02"}))
	assert.NoError(t, applyConfig(ctx, fs, path, &c))
	expect.EQ(t, c.CBS.Alpha, 0.02)
	expect.EQ(t, c.CBS.NPerm, 500)
	expect.EQ(t, c.CBS.MinWidth, cbs.DefaultOpts.MinWidth)
}

func TestRunSegment(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	const n = 60
	targets := make([]cbs.Target, n)
	lr := make([]float64, n)
	rng := rand.New(rand.NewSource(1))
	for i := range targets {
		targets[i] = cbs.Target{
			Interval: interval.Interval{Chrom: "chr1", Start: i*1000 + 1, End: i*1000 + 100},
			Weight:   1,
			OnTarget: true,
		}
		lr[i] = 0.05 * rng.NormFloat64()
		if i >= n/2 {
			lr[i]++
		}
	}
	inPath := filepath.Join(tmpdir, "lr.tsv")
	outPath := filepath.Join(tmpdir, "out.seg.tsv")
	assert.NoError(t, table.WriteLogRatios(ctx, inPath, cbs.ToLogRatioRows(targets, lr)))

	c := defaultConfig()
	c.CBS.NPerm = 1000
	assert.NoError(t, runSegment(ctx, inPath, outPath, segmentFlags{id: "s1"}, c))
	segs, err := cbs.ReadSegments(ctx, outPath)
	assert.NoError(t, err)
	assert.EQ(t, len(segs), 2)
	expect.EQ(t, segs[0].End, 29100)
	expect.EQ(t, segs[1].Start, 30001)
	expect.EQ(t, segs[0].NumMark, 30)
	require.InDelta(t, 0, segs[0].Mean, 0.05)
	require.InDelta(t, 1, segs[1].Mean, 0.05)

	// Restricted to the first level, nothing is left to split.
	assert.NoError(t, runSegment(ctx, inPath, outPath, segmentFlags{id: "s1", region: "chr1:1-29100"}, c))
	segs, err = cbs.ReadSegments(ctx, outPath)
	assert.NoError(t, err)
	assert.EQ(t, len(segs), 1)
	expect.EQ(t, segs[0].NumMark, 30)
}

func TestRunMappingBiasAndSelect(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	m := &mappingbias.SiteAlleleMatrix{Samples: []string{"n1", "n2", "n3"}}
	for i := 0; i < 6; i++ {
		m.Sites = append(m.Sites, mappingbias.Site{
			Interval: interval.Interval{Chrom: "chr1", Start: (i + 1) * 100, End: (i + 1) * 100},
			Ref:      "A",
			Alt:      "G",
		})
		m.RefCount = append(m.RefCount, []int{20, 25, 30})
		m.AltCount = append(m.AltCount, []int{20, 24, 31})
	}
	ponPath := filepath.Join(tmpdir, "pon.db")
	biasPath := filepath.Join(tmpdir, "bias.tsv")
	hqPath := filepath.Join(tmpdir, "hq.rio")
	assert.NoError(t, mappingbias.WriteSQLite(ctx, ponPath, m))
	assert.NoError(t, runMappingBias(ctx, ponPath, biasPath, mappingbias.DefaultOpts))

	recs, err := mappingbias.ReadFile(ctx, biasPath)
	assert.NoError(t, err)
	assert.EQ(t, len(recs), 6)
	for _, r := range recs {
		expect.EQ(t, r.PonCount, 3)
	}

	assert.NoError(t, runSelectSNPs(ctx, biasPath, "", hqPath, hqsnp.DefaultOpts))
	hq, err := mappingbias.ReadFile(ctx, hqPath)
	assert.NoError(t, err)
	want, err := hqsnp.Select(recs, hqsnp.DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, len(hq), len(want))
}
