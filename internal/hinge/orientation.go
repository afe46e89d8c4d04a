package hinge

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ScreenOrientation is the display rotation a compositor should apply.
type ScreenOrientation int

const (
	Landscape ScreenOrientation = iota
	LandscapeFlipped
	Portrait
	PortraitFlipped
)

var orientationNames = [...]string{
	Landscape:        "landscape",
	LandscapeFlipped: "landscape-flipped",
	Portrait:         "portrait",
	PortraitFlipped:  "portrait-flipped",
}

func (o ScreenOrientation) String() string {
	if o < 0 || int(o) >= len(orientationNames) {
		return fmt.Sprintf("orientation(%d)", int(o))
	}
	return orientationNames[o]
}

func ParseScreenOrientation(s string) (ScreenOrientation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range orientationNames {
		if name == s {
			return ScreenOrientation(i), nil
		}
	}
	return Landscape, fmt.Errorf("unknown orientation %q", s)
}

func (o ScreenOrientation) isPortrait() bool {
	return o == Portrait || o == PortraitFlipped
}

// DominantAxis returns ±1..±3 for the component of v with the largest
// absolute value. X wins ties, then Y.
func DominantAxis(v r3.Vec) int {
	a1 := math.Abs(v.X)
	a2 := math.Abs(v.Y)
	a3 := math.Abs(v.Z)
	if a1 >= a2 && a1 >= a3 {
		if v.X >= 0 {
			return 1
		}
		return -1
	}
	if a2 >= a3 {
		if v.Y >= 0 {
			return 2
		}
		return -2
	}
	if v.Z >= 0 {
		return 3
	}
	return -3
}

// OrientationFor maps a gravity vector to a screen orientation. Lying flat
// (Z dominant) has no meaningful rotation and reports Landscape.
func OrientationFor(v r3.Vec) ScreenOrientation {
	switch DominantAxis(v) {
	case -1:
		return Landscape
	case 1:
		return LandscapeFlipped
	case 2:
		return Portrait
	case -2:
		return PortraitFlipped
	default:
		return Landscape
	}
}

// tabletLockTilt is the tilt below which a portrait tablet keeps portrait.
const tabletLockTilt = 45.0

// OrientationTracker derives the screen orientation from a sample pair and
// remembers the last result. Not safe for concurrent use.
type OrientationTracker struct {
	last ScreenOrientation
	have bool
}

// Update picks the sensor facing the user (the base in tent and tablet, the
// lid otherwise) and returns its orientation. In tablet mode a portrait
// screen lying nearly flat does not flip to landscape; a reading below
// MinGravity keeps the previous result.
func (t *OrientationTracker) Update(lid, base r3.Vec, mode Mode) ScreenOrientation {
	v := lid
	if mode == ModeTent || mode == ModeTablet {
		v = base
	}
	tilt, ok := Tilt(v)
	if !ok {
		return t.last
	}
	next := OrientationFor(v)
	if mode == ModeTablet && t.have && t.last.isPortrait() && !next.isPortrait() && tilt < tabletLockTilt {
		return t.last
	}
	t.last = next
	t.have = true
	return next
}

// Last returns the most recent orientation and whether one was ever set.
func (t *OrientationTracker) Last() (ScreenOrientation, bool) {
	return t.last, t.have
}

func (o ScreenOrientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *ScreenOrientation) UnmarshalText(b []byte) error {
	v, err := ParseScreenOrientation(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
