package refine

import (
	"math"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/cnv/mappingbias"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// makeTargets returns n on-target 100bp targets on chrom at k*1000+1.
func makeTargets(chrom string, n int) []cbs.Target {
	targets := make([]cbs.Target, n)
	for i := range targets {
		targets[i] = cbs.Target{
			Interval: interval.Interval{Chrom: chrom, Start: i*1000 + 1, End: i*1000 + 100},
			Weight:   1,
			OnTarget: true,
		}
	}
	return targets
}

func seg(chrom string, start, end int, mean float64, numMark int) cbs.Segment {
	return cbs.Segment{
		Interval:    interval.Interval{Chrom: chrom, Start: start, End: end},
		Mean:        mean,
		NumMark:     numMark,
		Size:        numMark,
		Weight:      1,
		ClusterID:   cbs.NoCluster,
		PValue:      math.NaN(),
		FirstTarget: -1,
		LastTarget:  -1,
	}
}

func variant(chrom string, pos int, f float64) vcf.VariantAllele {
	return vcf.VariantAllele{Interval: interval.Interval{Chrom: chrom, Start: pos, End: pos}, AltFraction: f, Depth: 100}
}

// jitter returns a small deterministic offset cycling through five values.
func jitter(i int) float64 { return 0.004 * float64(i%5-2) }

// lohVariants returns 40 variants in the middle of targets 0..39 whose
// reflected fractions are 0.1 for the first 20 and 0.4 for the rest.  Every
// other variant of the first half reports the other allele.
func lohVariants(chrom string) []vcf.VariantAllele {
	var vars []vcf.VariantAllele
	for i := 0; i < 40; i++ {
		f := 0.4 + jitter(i)
		if i < 20 {
			f = 0.1 + jitter(i)
			if i%2 == 1 {
				f = 1 - f
			}
		}
		vars = append(vars, variant(chrom, i*1000+50, f))
	}
	return vars
}

func TestFindCNNLOHSplitsAndIsIdempotent(t *testing.T) {
	ctx := vcontext.Background()
	targets := makeTargets("chr1", 40)
	in := Input{
		Segments: []cbs.Segment{seg("chr1", 1, 39100, 0, 40)},
		Targets:  targets,
		LogRatio: make([]float64, 40),
		Variants: lohVariants("chr1"),
	}
	out, err := FindCNNLOH(ctx, in, DefaultOpts)
	assert.NoError(t, err)
	assert.EQ(t, len(out), 2)
	expect.EQ(t, out[0].End, 19050)
	expect.EQ(t, out[1].Start, 19051)
	expect.EQ(t, out[1].End, 39100)
	expect.EQ(t, out[0].NumMark, 20)
	expect.EQ(t, out[1].NumMark, 20)
	expect.True(t, out[0].PValue < DefaultOpts.CNNLOHAlpha)
	expect.True(t, math.IsNaN(out[1].PValue))

	in.Segments = out
	again, err := FindCNNLOH(ctx, in, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, len(again), 2)
	expect.EQ(t, again[0].Interval, out[0].Interval)
	expect.EQ(t, again[1].Interval, out[1].Interval)
}

func TestFindCNNLOHNeedsVariants(t *testing.T) {
	in := Input{
		Segments: []cbs.Segment{seg("chr1", 1, 39100, 0, 40)},
		Variants: lohVariants("chr1")[:13],
	}
	out, err := FindCNNLOH(vcontext.Background(), in, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, len(out), 1)
}

func pruneInput(pValue, secondFraction float64) Input {
	a := seg("chr1", 1, 19100, 0.1, 20)
	a.PValue = pValue
	b := seg("chr1", 20001, 39100, 0.15, 20)
	var vars []vcf.VariantAllele
	for i := 0; i < 10; i++ {
		vars = append(vars, variant("chr1", i*1000+50, 0.45+jitter(i)))
	}
	for i := 0; i < 10; i++ {
		vars = append(vars, variant("chr1", (i+20)*1000+50, secondFraction+jitter(i)))
	}
	return Input{Segments: []cbs.Segment{a, b}, Variants: vars}
}

func TestPruneByVCF(t *testing.T) {
	ctx := vcontext.Background()

	out, err := PruneByVCF(ctx, pruneInput(0.01, 0.45), DefaultOpts)
	assert.NoError(t, err)
	assert.EQ(t, len(out), 1)
	expect.EQ(t, out[0].Interval, interval.Interval{Chrom: "chr1", Start: 1, End: 39100})
	expect.EQ(t, out[0].NumMark, 40)
	require.InDelta(t, 0.125, out[0].Mean, 1e-12)
	expect.True(t, math.IsNaN(out[0].PValue))

	// A strongly supported breakpoint is kept.
	out, err = PruneByVCF(ctx, pruneInput(1e-8, 0.45), DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, len(out), 2)

	// So is one the allele fractions confirm.
	out, err = PruneByVCF(ctx, pruneInput(0.01, 0.2), DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, len(out), 2)

	// Too few variants on one side.
	in := pruneInput(0.01, 0.45)
	in.Variants = in.Variants[:14]
	out, err = PruneByVCF(ctx, in, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, len(out), 2)
}

func TestPruneByVCFNeverGrows(t *testing.T) {
	ctx := vcontext.Background()
	for _, p := range []float64{math.NaN(), 1e-8, 1e-5, 0.3} {
		for _, f := range []float64{0.1, 0.3, 0.45} {
			in := pruneInput(p, f)
			out, err := PruneByVCF(ctx, in, DefaultOpts)
			assert.NoError(t, err)
			expect.True(t, len(out) <= len(in.Segments))
		}
	}
}

// dosageVariants returns n variants with fraction f spread over [start, end].
func dosageVariants(chrom string, start, end, n int, f float64) []vcf.VariantAllele {
	vars := make([]vcf.VariantAllele, n)
	step := (end - start) / (n + 1)
	for i := range vars {
		vars[i] = variant(chrom, start+(i+1)*step, f)
	}
	return vars
}

func TestPruneByHclust(t *testing.T) {
	type segVars struct {
		seg  cbs.Segment
		nvar int
		f    float64
	}
	cases := []segVars{
		{seg("chr1", 1, 10000, 0.0, 10), 10, 0.45},
		{seg("chr1", 10001, 20000, -0.5, 10), 10, 0.3},
		{seg("chr1", 20001, 30000, 0.02, 10), 6, 0.44},
		{seg("chr2", 1, 10000, 0.01, 10), 8, 0.45},
		{seg("chr2", 10001, 20000, 0.6, 10), 10, 0.35},
		{seg("chr2", 20001, 30000, 0.03, 10), 3, 0.45},
		{seg("chr3", 1, 10000, 0.3, 10), 10, 0.2},
		{seg("chr3", 10001, 20000, 0.31, 10), 10, 0.21},
	}
	var in Input
	for _, s := range cases {
		in.Segments = append(in.Segments, s.seg)
		in.Variants = append(in.Variants, dosageVariants(s.seg.Chrom, s.seg.Start, s.seg.End, s.nvar, s.f)...)
	}
	opts := DefaultOpts
	opts.HclustHeight = 0.1
	out, err := PruneByHclust(vcontext.Background(), in, opts)
	assert.NoError(t, err)
	// The two adjacent chr3 segments merge.
	assert.EQ(t, len(out), 7)
	expect.EQ(t, out[6].Interval, interval.Interval{Chrom: "chr3", Start: 1, End: 20000})
	expect.EQ(t, out[6].NumMark, 20)

	want := (0.0*10 + 0.02*6 + 0.01*8) / 24
	for _, i := range []int{0, 2, 3} {
		require.InDelta(t, want, out[i].Mean, 1e-12)
		expect.EQ(t, out[i].ClusterID, out[0].ClusterID)
	}
	expect.True(t, out[0].ClusterID != cbs.NoCluster)
	for _, i := range []int{1, 4, 5} {
		expect.EQ(t, out[i].ClusterID, cbs.NoCluster)
		expect.EQ(t, out[i].Mean, cases[i].seg.Mean)
	}

	// Distinct means: one per multi-member cluster plus one per other
	// segment.
	means := map[float64]bool{}
	clusters := map[int]bool{}
	others := 0
	for _, s := range out {
		means[s.Mean] = true
		if s.ClusterID == cbs.NoCluster {
			others++
		} else {
			clusters[s.ClusterID] = true
		}
	}
	expect.EQ(t, len(means), len(clusters)+others)
}

func TestCutTreeMethods(t *testing.T) {
	points := [][2]float64{{0, 0}, {0.05, 0}, {1, 1}, {1.02, 1}, {5, 5}}
	for _, method := range []string{WardD, WardD2, Complete, Average, Single} {
		labels, err := cutTree(points, method, 0.5)
		assert.NoError(t, err, method)
		expect.EQ(t, labels, []int{0, 0, 1, 1, 2}, method)
	}
	_, err := cutTree(points, "centroid", 0.5)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestClusterHeight(t *testing.T) {
	expect.EQ(t, ClusterHeight(make([]float64, 10), DefaultOpts), 0.1)
	wide := []float64{-2, -2, -2, -2, -2, 2, 2, 2, 2, 2}
	expect.EQ(t, ClusterHeight(wide, DefaultOpts), 0.25)
	opts := DefaultOpts
	opts.HclustHeight = 0.3
	expect.EQ(t, ClusterHeight(wide, opts), 0.3)
}

func TestRecomputeNumMark(t *testing.T) {
	lr := make([]float64, 10)
	lr[2] = math.NaN()
	targets := makeTargets("chr1", 10)
	targets[1].Weight = 0.4
	in := Input{
		Segments: []cbs.Segment{seg("chr1", 1, 5050, 0, 0), seg("chr1", 5051, 10100, 0, 0)},
		Targets:  targets,
		LogRatio: lr,
	}
	out, err := RecomputeNumMark(in)
	assert.NoError(t, err)
	require.InDelta(t, 0.9, out[0].Weight, 1e-12)
	require.InDelta(t, 1, out[1].Weight, 1e-12)
	expect.EQ(t, out[0].NumMark, 6)
	expect.EQ(t, out[0].Size, 5)
	expect.EQ(t, out[0].FirstTarget, 0)
	expect.EQ(t, out[0].LastTarget, 5)
	expect.EQ(t, out[1].NumMark, 4)
	expect.EQ(t, out[1].FirstTarget, 6)
	expect.EQ(t, in.Segments[0].NumMark, 0)
}

func TestFlagWeights(t *testing.T) {
	targets := makeTargets("chr1", 300)
	for i := 140; i < 160; i++ {
		targets[i].Weight = 0.2
	}
	in := Input{
		Segments: []cbs.Segment{
			seg("chr1", 1, 139100, 0, 140),
			seg("chr1", 140001, 159100, 0, 20),
			seg("chr1", 160001, 299100, 0, 140),
		},
		Targets:  targets,
		LogRatio: make([]float64, 300),
	}
	out, err := FlagWeights(in, DefaultOpts)
	assert.NoError(t, err)
	expect.False(t, out[0].WeightFlagged)
	expect.True(t, out[1].WeightFlagged)
	expect.False(t, out[2].WeightFlagged)
	require.InDelta(t, 0.2, out[1].Weight, 1e-12)

	in.Targets = makeTargets("chr1", 300)
	out, err = FlagWeights(in, DefaultOpts)
	assert.NoError(t, err)
	for _, s := range out {
		expect.False(t, s.WeightFlagged)
	}
}

func TestFixBreakpointsInBaits(t *testing.T) {
	ctx := vcontext.Background()
	targets := makeTargets("chr1", 10)
	in := Input{
		Segments: []cbs.Segment{seg("chr1", 1, 5050, 0, 5), seg("chr1", 5051, 10100, -1, 5)},
		Targets:  targets,
		LogRatio: make([]float64, 10),
	}
	in.LogRatio[5] = -0.9
	out, err := FixBreakpointsInBaits(ctx, in, DefaultOpts)
	assert.NoError(t, err)
	assert.EQ(t, len(out), 2)
	expect.EQ(t, out[0].End, 5000)
	expect.EQ(t, out[1].Start, 5001)

	in.LogRatio[5] = 0.1
	out, err = FixBreakpointsInBaits(ctx, in, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, out[0].End, 5100)
	expect.EQ(t, out[1].Start, 5101)

	// The moved target's weight follows it into the left segment.
	in.Targets = append([]cbs.Target(nil), targets...)
	in.Targets[5].Weight = 0.4
	out, err = FixBreakpointsInBaits(ctx, in, DefaultOpts)
	assert.NoError(t, err)
	out, err = RecomputeNumMark(Input{Segments: out, Targets: in.Targets, LogRatio: in.LogRatio})
	assert.NoError(t, err)
	expect.EQ(t, out[0].NumMark, 6)
	require.InDelta(t, 0.9, out[0].Weight, 1e-12)
	require.InDelta(t, 1, out[1].Weight, 1e-12)

	in.Targets = append([]cbs.Target(nil), targets...)
	in.Targets[5].OnTarget = false
	out, err = FixBreakpointsInBaits(ctx, in, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, out[0].End, 5050)
}

func TestRefine(t *testing.T) {
	in := Input{
		Segments: []cbs.Segment{seg("chr1", 1, 59100, 0, 60), seg("chr1", 60001, 60100, 0.5, 1)},
		Targets:  makeTargets("chr1", 61),
		LogRatio: make([]float64, 61),
		Variants: lohVariants("chr1"),
	}
	out, err := Refine(vcontext.Background(), in, DefaultOpts)
	assert.NoError(t, err)
	// The CNN-LOH split is snapped to the target containing it, and the
	// single-target segment is dropped.
	assert.EQ(t, len(out), 2)
	expect.EQ(t, out[0].Interval, interval.Interval{Chrom: "chr1", Start: 1, End: 19100})
	expect.EQ(t, out[1].Start, 19101)
	expect.EQ(t, out[0].NumMark, 20)
	expect.EQ(t, out[1].NumMark, 40)
}

func TestRefineRejectsBadInput(t *testing.T) {
	ctx := vcontext.Background()
	in := Input{
		Segments: []cbs.Segment{seg("chr1", 1, 100, 0, 1)},
		Targets:  makeTargets("chr1", 2),
		LogRatio: make([]float64, 1),
	}
	_, err := Refine(ctx, in, DefaultOpts)
	expect.True(t, errors.Is(errors.Integrity, err))

	in.LogRatio = make([]float64, 2)
	in.Variants = []vcf.VariantAllele{variant("chr1", 50, 0.5), variant("chr1", 10, 0.5)}
	_, err = Refine(ctx, in, DefaultOpts)
	expect.True(t, errors.Is(errors.Precondition, err))

	opts := DefaultOpts
	opts.HclustMethod = "median"
	_, err = Refine(ctx, in, opts)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestAdjustVAF(t *testing.T) {
	vars := []vcf.VariantAllele{variant("chr1", 100, 0.6), variant("chr1", 200, 0.5), variant("chr1", 300, 0.9)}
	site := func(pos int) mappingbias.Site {
		return mappingbias.Site{Interval: interval.Interval{Chrom: "chr1", Start: pos, End: pos}, Ref: "A", Alt: "G"}
	}
	bias := []mappingbias.Record{
		{Site: site(100), Bias: 1.2, PonCount: 5},
		{Site: site(200), Bias: 1.5, PonCount: 1},
		{Site: site(300), Bias: 0.8, PonCount: 9},
	}
	ord := interval.NewChromOrder([]string{"chr1"})
	out, err := AdjustVAF(vars, bias, ord, 2)
	assert.NoError(t, err)
	require.InDelta(t, 0.5, out[0].AltFraction, 1e-12)
	expect.EQ(t, out[1].AltFraction, 0.5)
	expect.EQ(t, out[2].AltFraction, 1.0)
	expect.EQ(t, vars[0].AltFraction, 0.6)
}
