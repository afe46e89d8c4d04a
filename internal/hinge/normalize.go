// Package hinge turns raw accelerometer pairs into a hinge angle, a device
// mode and a screen orientation. Everything here is pure and allocation free.
package hinge

import (
	"gonum.org/v1/gonum/spatial/r3"

	"postured/internal/calibration"
)

// RawSample is one ADC triplet as read from a sensor.
type RawSample struct {
	X, Y, Z int
}

// Calibration is the read side of calibration.Store.
type Calibration interface {
	MountMatrix(calibration.SensorID) (calibration.MountMatrix, error)
	Scale(calibration.SensorID) (float64, error)
}

// Normalize rotates raw into the device frame and then converts counts to
// m/s². The order is fixed: rotate first, scale second.
func Normalize(cal Calibration, id calibration.SensorID, raw RawSample) (r3.Vec, error) {
	m, err := cal.MountMatrix(id)
	if err != nil {
		return r3.Vec{}, err
	}
	scale, err := cal.Scale(id)
	if err != nil {
		return r3.Vec{}, err
	}
	return r3.Scale(scale, rotate(m, raw)), nil
}

func rotate(m calibration.MountMatrix, raw RawSample) r3.Vec {
	x, y, z := float64(raw.X), float64(raw.Y), float64(raw.Z)
	return r3.Vec{
		X: m[0][0]*x + m[0][1]*y + m[0][2]*z,
		Y: m[1][0]*x + m[1][1]*y + m[1][2]*z,
		Z: m[2][0]*x + m[2][1]*y + m[2][2]*z,
	}
}
