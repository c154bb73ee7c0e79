package betabinom

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mathext"
)

// quantileSample returns counts whose alt fractions sit at evenly spaced
// quantiles of Beta(mu, rho), each observed at the given depth.
func quantileSample(mu, rho float64, depth, n int) (alt, ref []int) {
	a, b := Shape(mu, rho)
	for i := 0; i < n; i++ {
		p := mathext.InvRegIncBeta(a, b, (float64(i)+0.5)/float64(n))
		k := int(math.Round(p * float64(depth)))
		alt = append(alt, k)
		ref = append(ref, depth-k)
	}
	return alt, ref
}

func TestFitSiteRecoversParameters(t *testing.T) {
	alt, ref := quantileSample(0.45, 0.05, 400, 40)
	for i := range alt {
		require.True(t, Informative(alt[i], ref[i]))
	}
	fit, status := FitSite(alt, ref, DefaultOpts)
	require.Equal(t, OK, status)
	assert.InDelta(t, 0.45, fit.Mu, 0.02)
	assert.InDelta(t, 0.05, fit.Rho, 0.02)
}

// randomSample draws n informative (alt, ref) pairs from the beta-binomial
// (mu, rho), at depths cycling through depths.
func randomSample(rng *rand.Rand, mu, rho float64, depths []int, n int) (alt, ref []int) {
	a, b := Shape(mu, rho)
	for len(alt) < n {
		depth := depths[len(alt)%len(depths)]
		p := mathext.InvRegIncBeta(a, b, rng.Float64())
		k := 0
		for j := 0; j < depth; j++ {
			if rng.Float64() < p {
				k++
			}
		}
		if Informative(k, depth-k) {
			alt = append(alt, k)
			ref = append(ref, depth-k)
		}
	}
	return alt, ref
}

func TestFitSiteRecoversRandomDraws(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	depths := []int{60, 150, 400, 90, 250}
	for _, test := range []struct{ mu, rho float64 }{
		{0.45, 0.05},
		{0.5, 0.01},
		{0.35, 0.03},
	} {
		alt, ref := randomSample(rng, test.mu, test.rho, depths, 60)
		fit, status := FitSite(alt, ref, DefaultOpts)
		require.Equal(t, OK, status)
		assert.InDelta(t, test.mu, fit.Mu, 0.05, "%+v", test)
		assert.InDelta(t, test.rho, fit.Rho, 0.03, "%+v", test)
	}
}

func TestFitSiteClampsRho(t *testing.T) {
	var alt, ref []int
	for i := 0; i < 20; i++ {
		alt = append(alt, 45)
		ref = append(ref, 55)
	}
	fit, status := FitSite(alt, ref, DefaultOpts)
	require.Equal(t, OK, status)
	assert.InDelta(t, 0.45, fit.Mu, 1e-3)
	assert.Equal(t, DefaultOpts.MinRho, fit.Rho)

	alt, ref = quantileSample(0.5, 0.6, 400, 40)
	fit, status = FitSite(alt, ref, Opts{MinNormals: 1, MinMedianCoverage: 1, MinRho: 1e-4, MaxRho: 0.2})
	require.Equal(t, OK, status)
	assert.Equal(t, 0.2, fit.Rho)
}

func TestFitSiteInsufficient(t *testing.T) {
	alt, ref := quantileSample(0.5, 0.05, 100, 6)
	_, status := FitSite(alt, ref, DefaultOpts)
	assert.Equal(t, Insufficient, status)

	alt, ref = quantileSample(0.5, 0.05, 4, 10)
	_, status = FitSite(alt, ref, DefaultOpts)
	assert.Equal(t, Insufficient, status)
}

func TestInformative(t *testing.T) {
	tests := []struct {
		alt, ref int
		want     bool
	}{
		{10, 10, true},
		{1, 99, false},
		{5, 95, false},
		{95, 5, false},
		{85, 15, true},
		{0, 0, false},
		{-1, 10, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, Informative(test.alt, test.ref), "%d/%d", test.alt, test.ref)
	}
}

func TestLogPMFSumsToOne(t *testing.T) {
	for _, rho := range []float64{0.001, 0.05, 0.3} {
		total := 0.0
		for k := 0; k <= 30; k++ {
			total += math.Exp(LogPMF(k, 30-k, 0.4, rho))
		}
		assert.InDelta(t, 1, total, 1e-9, "rho=%v", rho)
	}
}

func TestMoments(t *testing.T) {
	alt, ref := quantileSample(0.3, 0.1, 1000, 50)
	mu, rho := Moments(alt, ref)
	assert.InDelta(t, 0.3, mu, 0.01)
	assert.InDelta(t, 0.1, rho, 0.02)
}
