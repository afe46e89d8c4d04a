package hinge

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MinGravity is the smallest vector magnitude (m/s²) accepted as a gravity
// reading. Anything below is free fall, vibration or a dead sensor.
const MinGravity = 1.0

// Reading is the hinge angle for one sample pair. Angle is meaningful only
// when Valid is true and is then in [0, 360).
type Reading struct {
	Angle float64
	Valid bool
}

// Invalid is the reading produced when either vector is below MinGravity.
var Invalid = Reading{}

// Compute returns the angle between the lid and base gravity vectors.
//
// acos only yields [0, 180]. When both Z components share a sign and the raw
// angle is past 90° the hinge is folded back, and the result is reported as
// 360-θ. The comparison is strict, so exactly 90° stays 90°. A zero Z on
// either side never counts as a shared sign.
func Compute(lid, base r3.Vec) Reading {
	lm := r3.Norm(lid)
	bm := r3.Norm(base)
	if !(lm >= MinGravity) || !(bm >= MinGravity) {
		return Invalid
	}

	cos := r3.Dot(lid, base) / (lm * bm)
	cos = math.Max(-1, math.Min(1, cos))
	theta := math.Acos(cos) * 180 / math.Pi

	if sameSign(lid.Z, base.Z) && theta > 90 {
		theta = 360 - theta
	}
	return Reading{Angle: theta, Valid: true}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// Tilt is the angle in degrees between v and the device Z axis, in [0, 90].
// ok is false when v is below MinGravity.
func Tilt(v r3.Vec) (deg float64, ok bool) {
	n := r3.Norm(v)
	if !(n >= MinGravity) {
		return 0, false
	}
	c := math.Min(1, math.Abs(v.Z)/n)
	return math.Acos(c) * 180 / math.Pi, true
}
