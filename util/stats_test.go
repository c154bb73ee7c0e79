package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		x    []float64
		want float64
	}{
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{7}, 7},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, Median(test.x))
	}
	assert.True(t, math.IsNaN(Median(nil)))
}

func TestDiffSDIgnoresLevelShift(t *testing.T) {
	flat := make([]float64, 200)
	shifted := make([]float64, 200)
	for i := range flat {
		flat[i] = 0.1 * math.Sin(float64(i)*1.3)
		shifted[i] = flat[i]
		if i >= 100 {
			shifted[i] += 5
		}
	}
	want := DiffSD(flat)
	assert.True(t, want > 0)
	assert.InEpsilon(t, want, DiffSD(shifted), 0.05)
	assert.Equal(t, 0.0, DiffSD([]float64{1}))
}

func TestDispersionBand(t *testing.T) {
	grid := func(lo, hi float64) []float64 {
		x := make([]float64, 101)
		for i := range x {
			x[i] = lo + (hi-lo)*float64(i)/100
		}
		return x
	}
	assert.Equal(t, 0, DispersionBand(grid(0, 0.5)))
	assert.Equal(t, 1, DispersionBand(grid(0, 1)))
	assert.Equal(t, 2, DispersionBand(grid(0, 1.6)))
	assert.Equal(t, 3, DispersionBand(grid(-2, 2)))
	assert.Equal(t, 0, DispersionBand([]float64{math.NaN()}))
}

func TestWelchTTest(t *testing.T) {
	x := []float64{0.10, 0.11, 0.09, 0.10, 0.12, 0.08}
	y := []float64{0.40, 0.41, 0.39, 0.42, 0.38, 0.40}
	assert.True(t, WelchTTest(x, y) < 1e-6)
	assert.InDelta(t, 1, WelchTTest(x, x), 1e-12)

	assert.True(t, math.IsNaN(WelchTTest([]float64{1}, y)))
	assert.Equal(t, 1.0, WelchTTest([]float64{2, 2}, []float64{2, 2, 2}))
	assert.Equal(t, 0.0, WelchTTest([]float64{2, 2}, []float64{3, 3, 3}))
}

func TestRoundClamp(t *testing.T) {
	assert.Equal(t, 1.3, Round(1.2549, 1))
	assert.Equal(t, 2.0, Clamp(3.5, 1, 2))
	assert.Equal(t, 1.0, Clamp(0.2, 1, 2))
	assert.InDelta(t, 0.025, NormalUpperTail(1.959964), 1e-6)
}
