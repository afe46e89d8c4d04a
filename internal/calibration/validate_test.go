package calibration

import (
	"math"
	"testing"
)

func TestValidate_Rotations(t *testing.T) {
	c, s := math.Cos(0.3), math.Sin(0.3)
	cases := []struct {
		name    string
		m       MountMatrix
		wantDet float64
	}{
		{"Identity", Identity(), 1},
		{"SwapXY", MountMatrix{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}, 1},
		{"Mirror", MountMatrix{{-1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, -1},
		{"AboutZ", MountMatrix{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Validate(tc.m, 0)
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if math.Abs(r.Det-tc.wantDet) > 1e-9 {
				t.Fatalf("det=%v want %v", r.Det, tc.wantDet)
			}
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	if _, err := Validate(MountMatrix{{2, 0, 0}, {0, 1, 0}, {0, 0, 1}}, 0); err == nil {
		t.Fatalf("expected error for scaled axis")
	}
	if _, err := Validate(MountMatrix{{1, 1, 0}, {0, 1, 0}, {0, 0, 1}}, 0); err == nil {
		t.Fatalf("expected error for sheared matrix")
	}
	if _, err := Validate(MountMatrix{}, 0); err == nil {
		t.Fatalf("expected error for zero matrix")
	}
}

func TestValidateStore_NamesFailingSensor(t *testing.T) {
	s := New(map[SensorID]Entry{
		Lid:  {Matrix: Identity(), Scale: 1},
		Base: {Matrix: MountMatrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 0}}, Scale: 1},
	})
	reports, err := ValidateStore(s, 0)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); got[:5] != "base:" {
		t.Fatalf("err=%q want prefix base:", got)
	}
	if len(reports) != 2 {
		t.Fatalf("reports=%d want 2", len(reports))
	}
}
