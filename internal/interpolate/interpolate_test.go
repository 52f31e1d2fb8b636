package interpolate

import (
	"math"
	"testing"
)

func TestLinear1DInterpolatesAndClamps(t *testing.T) {
	f, err := NewLinear1D([]float64{0, 1, 2}, []float64{0, 10, 40})
	if err != nil {
		t.Fatalf("NewLinear1D: %v", err)
	}

	if got := f.Eval(0.5); math.Abs(got-5) > 1e-12 {
		t.Errorf("Eval(0.5) = %v, want 5", got)
	}
	if got := f.Eval(1.5); math.Abs(got-25) > 1e-12 {
		t.Errorf("Eval(1.5) = %v, want 25", got)
	}
	// Out-of-range values clamp to the endpoints.
	if got := f.Eval(-3); got != 0 {
		t.Errorf("Eval(-3) = %v, want 0", got)
	}
	if got := f.Eval(7); got != 40 {
		t.Errorf("Eval(7) = %v, want 40", got)
	}
}

func TestLinear1DRejectsShortGrid(t *testing.T) {
	if _, err := NewLinear1D([]float64{1}, []float64{2}); err == nil {
		t.Fatal("expected error for single-point grid")
	}
}

func TestCubic1DReproducesNodes(t *testing.T) {
	xs := []float64{-1, 0, 1, 2}
	ys := []float64{3, -1, 0, 5}
	f, err := NewCubic1D(xs, ys)
	if err != nil {
		t.Fatalf("NewCubic1D: %v", err)
	}
	for i, x := range xs {
		if got := f.Eval(x); math.Abs(got-ys[i]) > 1e-9 {
			t.Errorf("Eval(%v) = %v, want %v", x, got, ys[i])
		}
	}
}

func TestBilinearExactOnPlane(t *testing.T) {
	// A plane z = 2x + 3y - 1 is reproduced exactly by bilinear blending.
	xs := []float64{0, 1, 2}
	ys := []float64{-1, 0, 2}
	z := make([][]float64, len(xs))
	for i, x := range xs {
		z[i] = make([]float64, len(ys))
		for j, y := range ys {
			z[i][j] = 2*x + 3*y - 1
		}
	}
	b, err := NewBilinear(xs, ys, z)
	if err != nil {
		t.Fatalf("NewBilinear: %v", err)
	}

	probes := [][2]float64{{0.5, -0.5}, {1.7, 1.1}, {0, 2}, {2, -1}}
	for _, p := range probes {
		want := 2*p[0] + 3*p[1] - 1
		if got := b.Eval(p[0], p[1]); math.Abs(got-want) > 1e-12 {
			t.Errorf("Eval(%v, %v) = %v, want %v", p[0], p[1], got, want)
		}
	}
}

func TestBilinearClampsOutOfRange(t *testing.T) {
	xs := []float64{0, 1}
	ys := []float64{0, 1}
	z := [][]float64{{0, 1}, {2, 3}}
	b, err := NewBilinear(xs, ys, z)
	if err != nil {
		t.Fatalf("NewBilinear: %v", err)
	}
	if got := b.Eval(-5, -5); got != 0 {
		t.Errorf("Eval(-5,-5) = %v, want 0", got)
	}
	if got := b.Eval(5, 5); got != 3 {
		t.Errorf("Eval(5,5) = %v, want 3", got)
	}
}

func TestBilinearRejectsBadGrids(t *testing.T) {
	if _, err := NewBilinear([]float64{0, 1}, []float64{1, 0}, [][]float64{{0, 0}, {0, 0}}); err == nil {
		t.Error("expected error for decreasing y grid")
	}
	if _, err := NewBilinear([]float64{0, 1}, []float64{0, 1}, [][]float64{{0, 0}}); err == nil {
		t.Error("expected error for wrong row count")
	}
}

func TestLinspace(t *testing.T) {
	got := Linspace(0, 1, 5)
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("Linspace[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
