package gradient

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	blue   = RGB{0, 0, 255}
	orange = RGB{255, 165, 0}
)

func TestInterpolateEndpointsAndMidpoint(t *testing.T) {
	assert.Equal(t, blue, Interpolate(0, 0, 40, blue, orange))
	assert.Equal(t, orange, Interpolate(40, 0, 40, blue, orange))
	// Halfway channels round half away from zero.
	assert.Equal(t, RGB{128, 83, 128}, Interpolate(20, 0, 40, blue, orange))
}

func TestInterpolateClamps(t *testing.T) {
	assert.Equal(t, blue, Interpolate(-15, 0, 40, blue, orange))
	assert.Equal(t, orange, Interpolate(99, 0, 40, blue, orange))
	assert.Equal(t, blue, Interpolate(math.NaN(), 0, 40, blue, orange))
}

func TestInterpolateMonotonic(t *testing.T) {
	prev := Interpolate(0, 0, 40, blue, orange)
	for v := 1.0; v <= 40; v++ {
		c := Interpolate(v, 0, 40, blue, orange)
		assert.GreaterOrEqual(t, c.R, prev.R, "R at %v", v)
		assert.GreaterOrEqual(t, c.G, prev.G, "G at %v", v)
		assert.LessOrEqual(t, c.B, prev.B, "B at %v", v)
		prev = c
	}
}

func TestInterpolateDegenerateRange(t *testing.T) {
	for _, v := range []float64{-100, 0, 10, 10.5, 1e9} {
		assert.Equal(t, blue, Interpolate(v, 10, 10, blue, orange), "value %v", v)
	}
}

func TestRampPreservesOrder(t *testing.T) {
	got := Ramp([]float64{40, 0, 20}, 0, 40, blue, orange)
	assert.Equal(t, []RGB{orange, blue, {128, 83, 128}}, got)
	assert.Empty(t, Ramp(nil, 0, 1, blue, orange))
}

func TestRGBPacking(t *testing.T) {
	c := FromUint32(0xFFA500)
	assert.Equal(t, orange, c)
	assert.Equal(t, uint32(0xFFA500), c.Uint32())
	assert.Equal(t, "#ffa500", c.String())
}
