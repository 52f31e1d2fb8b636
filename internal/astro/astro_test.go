package astro

import (
	"math"
	"testing"
)

func TestAngularSeparationKnownValues(t *testing.T) {
	cases := []struct {
		name                 string
		ra1, dec1, ra2, dec2 float64
		want                 float64
	}{
		{"identical", 1.2, 0.3, 1.2, 0.3, 0},
		{"quarter turn on equator", 0, 0, math.Pi / 2, 0, math.Pi / 2},
		{"pole to pole", 0, math.Pi / 2, 0, -math.Pi / 2, math.Pi},
		{"ra wrap", 0.01, 0.1, 2*math.Pi - 0.01, 0.1, 0},
	}

	for _, c := range cases {
		got := AngularSeparation(c.ra1, c.dec1, c.ra2, c.dec2)
		var want float64
		if c.name == "ra wrap" {
			// 0.02 rad of RA at dec=0.1 spans slightly less than 0.02.
			want = 0.02 * math.Cos(0.1)
		} else {
			want = c.want
		}
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s: separation = %v, want %v", c.name, got, want)
		}
	}
}

func TestAngularSeparationSmallAngleStability(t *testing.T) {
	// Separations of order 1e-8 rad must not collapse to zero.
	d := AngularSeparation(1.0, 0.5, 1.0+1e-8, 0.5)
	if d <= 0 {
		t.Fatalf("tiny separation lost: %v", d)
	}
	if math.Abs(d-1e-8*math.Cos(0.5)) > 1e-12 {
		t.Errorf("tiny separation = %v", d)
	}
}

func TestRotateCarriesFromOntoTo(t *testing.T) {
	// Rotating the "from" direction itself must land exactly on "to".
	fromRA, fromDec := 1.0, 0.2
	toRA, toDec := 4.5, -0.7

	ra, dec := Rotate(fromRA, fromDec, fromRA, fromDec, toRA, toDec)
	if math.Abs(ra-toRA) > 1e-9 || math.Abs(dec-toDec) > 1e-9 {
		t.Errorf("Rotate(from) = (%v, %v), want (%v, %v)", ra, dec, toRA, toDec)
	}
}

func TestRotatePreservesSeparations(t *testing.T) {
	fromRA, fromDec := 2.0, 0.5
	toRA, toDec := 0.3, -0.1

	// Points at various offsets from the pivot keep their distance to it.
	offsets := [][2]float64{{2.01, 0.5}, {2.0, 0.48}, {2.2, 0.7}, {5.0, -1.0}}
	for _, o := range offsets {
		before := AngularSeparation(o[0], o[1], fromRA, fromDec)
		ra, dec := Rotate(o[0], o[1], fromRA, fromDec, toRA, toDec)
		after := AngularSeparation(ra, dec, toRA, toDec)
		if math.Abs(before-after) > 1e-9 {
			t.Errorf("offset (%v, %v): separation %v -> %v", o[0], o[1], before, after)
		}
	}
}

func TestRotateIdentityWhenDirectionsCoincide(t *testing.T) {
	ra, dec := Rotate(1.5, 0.3, 2.0, 0.1, 2.0, 0.1)
	if math.Abs(ra-1.5) > 1e-12 || math.Abs(dec-0.3) > 1e-12 {
		t.Errorf("identity rotation moved the point: (%v, %v)", ra, dec)
	}
}

func TestWrapRA(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{2 * math.Pi, 0},
		{-0.5, 2*math.Pi - 0.5},
		{7, 7 - 2*math.Pi},
	}
	for _, c := range cases {
		if got := WrapRA(c.in); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("WrapRA(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
