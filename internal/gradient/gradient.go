// Package gradient maps numeric samples onto a two-color ramp.
package gradient

import (
	"fmt"
	"math"
)

// RGB is a 24-bit color.
type RGB struct {
	R, G, B uint8
}

// FromUint32 unpacks 0xRRGGBB.
func FromUint32(v uint32) RGB {
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// Uint32 packs the color as 0xRRGGBB.
func (c RGB) Uint32() uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Interpolate blends from and to by the position of value within [lo, hi].
// The position is clamped to [0, 1]. A degenerate range returns from.
func Interpolate(value, lo, hi float64, from, to RGB) RGB {
	if hi == lo {
		return from
	}
	t := (value - lo) / (hi - lo)
	switch {
	case math.IsNaN(t), t < 0:
		t = 0
	case t > 1:
		t = 1
	}
	return RGB{
		R: lerp(from.R, to.R, t),
		G: lerp(from.G, to.G, t),
		B: lerp(from.B, to.B, t),
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// Ramp interpolates every sample, preserving order.
func Ramp(samples []float64, lo, hi float64, from, to RGB) []RGB {
	out := make([]RGB, len(samples))
	for i, s := range samples {
		out[i] = Interpolate(s, lo, hi, from, to)
	}
	return out
}
