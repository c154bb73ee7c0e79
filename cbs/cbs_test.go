package cbs

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// makeTargets returns n 100bp targets on chrom, 1kb apart.
func makeTargets(chrom string, n int) []Target {
	targets := make([]Target, n)
	for i := range targets {
		targets[i] = Target{
			Interval: interval.Interval{Chrom: chrom, Start: i*1000 + 1, End: i*1000 + 100},
			Weight:   1,
			OnTarget: true,
		}
	}
	return targets
}

// steps returns piecewise-constant values with additive Gaussian noise.
func steps(seed int64, sigma float64, levels []float64, width int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	var x []float64
	for _, l := range levels {
		for i := 0; i < width; i++ {
			x = append(x, l+sigma*rng.NormFloat64())
		}
	}
	return x
}

func TestSegmentSingleBreakpoint(t *testing.T) {
	lr := steps(1, 0.05, []float64{0, -1}, 50)
	targets := makeTargets("chr1", len(lr))
	res, err := SegmentTargets(vcontext.Background(), targets, lr, DefaultOpts)
	assert.NoError(t, err)
	assert.EQ(t, len(res.Segments), 2)

	s0, s1 := res.Segments[0], res.Segments[1]
	expect.EQ(t, s0.Interval, interval.Interval{Chrom: "chr1", Start: 1, End: targets[49].End})
	expect.EQ(t, s1.Start, targets[50].Start)
	expect.EQ(t, s1.End, targets[99].End)
	expect.EQ(t, s0.NumMark, 50)
	expect.EQ(t, s1.NumMark, 50)
	expect.EQ(t, s0.FirstTarget, 0)
	expect.EQ(t, s0.LastTarget, 49)
	expect.EQ(t, s0.ClusterID, NoCluster)
	require.InDelta(t, 0, s0.Mean, 0.03)
	require.InDelta(t, -1, s1.Mean, 0.03)
	expect.True(t, s0.PValue < DefaultOpts.Alpha)
	expect.True(t, math.IsNaN(s1.PValue))
	// Two well separated levels put the data in the third dispersion band.
	require.InDelta(t, 2.0, res.UndoSD, 1e-9)
}

func TestSegmentAttachesUnusableTargets(t *testing.T) {
	lr := steps(2, 0.05, []float64{0.5, 0}, 40)
	targets := makeTargets("chr2", len(lr))
	lr[0] = math.NaN()
	lr[40] = math.Inf(-1)
	targets[60].Weight = 0
	res, err := SegmentTargets(vcontext.Background(), targets, lr, DefaultOpts)
	assert.NoError(t, err)
	assert.EQ(t, len(res.Segments), 2)
	s0, s1 := res.Segments[0], res.Segments[1]
	expect.EQ(t, s0.Start, targets[0].Start)
	expect.EQ(t, s0.NumMark+s1.NumMark, 80)
	expect.EQ(t, s0.Size+s1.Size, 77)
	// The unusable target at the level change stays with the segment before
	// it.
	expect.EQ(t, s0.LastTarget, 40)
	expect.EQ(t, s1.FirstTarget, 41)
	expect.EQ(t, s1.End, targets[79].End)
}

func TestSegmentChromosomesIndependently(t *testing.T) {
	a := steps(3, 0.05, []float64{0.2}, 30)
	b := steps(4, 0.05, []float64{-0.4}, 30)
	targets := append(makeTargets("chr1", 30), makeTargets("chr2", 30)...)
	lr := append(a, b...)
	nan := makeTargets("chr3", 5)
	targets = append(targets, nan...)
	for range nan {
		lr = append(lr, math.NaN())
	}
	res, err := SegmentTargets(vcontext.Background(), targets, lr, DefaultOpts)
	assert.NoError(t, err)
	assert.EQ(t, len(res.Segments), 2)
	expect.EQ(t, res.Segments[0].Chrom, "chr1")
	expect.EQ(t, res.Segments[1].Chrom, "chr2")
	expect.EQ(t, res.Segments[1].FirstTarget, 30)
}

func TestSegmentRetriesTooManySegments(t *testing.T) {
	levels := []float64{0, 0.3, 0.6, 0.9, 1.2, 1.5, 1.8, 2.1, 2.4, 2.7}
	lr := steps(5, 0.02, levels, 20)
	targets := makeTargets("chr1", len(lr))
	opts := DefaultOpts
	opts.UndoSD = 1
	opts.MaxSegments = 3
	res, err := SegmentTargets(vcontext.Background(), targets, lr, opts)
	assert.NoError(t, err)
	expect.EQ(t, res.Retries, 2)
	require.InDelta(t, 2.25, res.UndoSD, 1e-12)
	expect.True(t, len(res.Segments) >= len(levels))
}

func TestSegmentErrors(t *testing.T) {
	ctx := vcontext.Background()
	targets := makeTargets("chr1", 4)

	_, err := SegmentTargets(ctx, targets, []float64{0, 0, 0}, DefaultOpts)
	expect.True(t, errors.Is(errors.Integrity, err))

	swapped := append([]Target(nil), targets...)
	swapped[1], swapped[2] = swapped[2], swapped[1]
	_, err = SegmentTargets(ctx, swapped, []float64{0, 0, 0, 0}, DefaultOpts)
	expect.True(t, errors.Is(errors.Precondition, err))

	split := append(append(makeTargets("chr1", 2), makeTargets("chr2", 2)...), makeTargets("chr1", 2)...)
	_, err = SegmentTargets(ctx, split, make([]float64, 6), DefaultOpts)
	expect.True(t, errors.Is(errors.Precondition, err))

	opts := DefaultOpts
	opts.Alpha = 0
	_, err = SegmentTargets(ctx, targets, make([]float64, 4), opts)
	expect.True(t, errors.Is(errors.Invalid, err))

	opts = DefaultOpts
	opts.KMax = 1
	_, err = NewSegmenter(opts)
	expect.True(t, errors.Is(errors.Invalid, err))

	_, err = NewSegmenterWithBoundary(DefaultOpts, NewBoundary(100, 0.005, 0.05))
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestSegmentLongSeries(t *testing.T) {
	var lr []float64
	rng := rand.New(rand.NewSource(8))
	for i := 0; i < 5000; i++ {
		v := 0.3 * rng.NormFloat64()
		if i >= 2000 && i < 2500 {
			v += 0.08
		}
		lr = append(lr, v)
	}
	targets := makeTargets("chr1", len(lr))
	start := time.Now()
	res, err := SegmentTargets(vcontext.Background(), targets, lr, DefaultOpts)
	assert.NoError(t, err)
	expect.True(t, time.Since(start) < 2*time.Minute, "took %v", time.Since(start))
	expect.True(t, len(res.Segments) >= 1)
	expect.EQ(t, res.Segments[0].Start, targets[0].Start)
	expect.EQ(t, res.Segments[len(res.Segments)-1].End, targets[len(targets)-1].End)

	// A clear step in a long series is still found exactly.
	lr = steps(9, 0.1, []float64{0, 0.6}, 600)
	targets = makeTargets("chr2", len(lr))
	res, err = SegmentTargets(vcontext.Background(), targets, lr, DefaultOpts)
	assert.NoError(t, err)
	assert.EQ(t, len(res.Segments), 2)
	expect.EQ(t, res.Segments[0].LastTarget, 599)
}

func TestMaxShortArcCoversAllArcs(t *testing.T) {
	x := steps(10, 1, []float64{0}, 30)
	w := make([]float64, len(x))
	for i := range w {
		w[i] = 1 + float64(i%3)
	}
	cs := make([]float64, len(x)+1)
	cw := make([]float64, len(x)+1)
	full := maxArc(x, w, 1, cs, cw).z
	require.InDelta(t, full, maxShortArc(x, w, 1, len(x)-1, cs, cw), 1e-9)
	expect.True(t, maxShortArc(x, w, 1, 5, cs, cw) <= full+1e-12)
}

func TestTailProb(t *testing.T) {
	prev := 1.0
	for _, b := range []float64{3, 4, 5, 6} {
		p := tailProb(b, 26.0/5000, 5000)
		expect.True(t, p >= 0 && p <= prev, "b=%v p=%v", b, p)
		prev = p
	}
	// More candidate arcs make a large statistic less surprising.
	expect.True(t, tailProb(5, 26.0/20000, 20000) > tailProb(5, 26.0/1000, 1000))
	expect.EQ(t, tailProb(5, 0.5, 40), 0.0)
}

func TestAutoUndoStrength(t *testing.T) {
	fake := make([]float64, 100)
	for i := 50; i < 100; i++ {
		fake[i] = -0.7
	}
	expect.True(t, IsFake(fake))
	expect.EQ(t, AutoUndoStrength(fake, 0.15), 0.0)

	flat := steps(6, 0.05, []float64{0}, 200)
	expect.False(t, IsFake(flat))
	require.InDelta(t, 1.0, AutoUndoStrength(flat, 0.15), 1e-12)

	// Noisy data lowers the multiplier towards 1; a wide spread raises the
	// band.
	wide := steps(7, 0.2, []float64{-1, 1}, 100)
	require.InDelta(t, 1.25, AutoUndoStrength(wide, 0.15), 1e-12)
}

func TestUndoChanges(t *testing.T) {
	x := []float64{0, 0, 0, 0.05, 0.05, 0.05, 1, 1, 1}
	w := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}
	bps := []breakpoint{{end: 3, pValue: 1e-3}, {end: 6, pValue: 1e-6}}
	got := undoChanges(x, w, bps, 1, 0.1)
	expect.EQ(t, got, []breakpoint{{end: 6, pValue: 1e-6}})
	expect.EQ(t, len(bps), 2)
	expect.EQ(t, undoChanges(x, w, bps, 0, 0.1), bps)
	expect.EQ(t, len(undoChanges(x, w, bps, 20, 0.1)), 0)
}

func TestBoundary(t *testing.T) {
	b := NewBoundary(10000, 0.005, 0.05)
	expect.EQ(t, b.MaxExceed, 50)
	assert.EQ(t, len(b.Limit), 100)
	for k := 1; k < len(b.Limit); k++ {
		expect.True(t, b.Limit[k] >= b.Limit[k-1])
	}
	expect.True(t, b.Limit[0] >= 1)
	expect.True(t, b.stop(50, 51))
	expect.False(t, b.stop(150, 0))
}

func TestSegmentTableRoundTrip(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	path := filepath.Join(tmpdir, "seg.tsv.gz")

	segs := []Segment{
		{Interval: interval.Interval{Chrom: "chr1", Start: 1, End: 5000}, Mean: -0.25, NumMark: 5, Size: 4, Weight: 0.9, ClusterID: 2, PValue: 1e-7},
		{Interval: interval.Interval{Chrom: "chr1", Start: 6001, End: 9000}, Mean: 0.1, NumMark: 3, Size: 3, Weight: 1, WeightFlagged: true, ClusterID: NoCluster, PValue: math.NaN()},
	}
	assert.NoError(t, WriteSegments(ctx, path, "tumor", segs))
	got, err := ReadSegments(ctx, path)
	assert.NoError(t, err)
	assert.EQ(t, len(got), 2)
	expect.EQ(t, got[0].Interval, segs[0].Interval)
	expect.EQ(t, got[0].ClusterID, 2)
	expect.True(t, got[1].WeightFlagged)
	expect.True(t, math.IsNaN(got[1].PValue))
	expect.EQ(t, got[1].FirstTarget, -1)
}
