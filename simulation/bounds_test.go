package simulation

import (
	"errors"
	"math"
	"testing"
)

func TestComputeBoundsSingleLine(t *testing.T) {
	b := ComputeBounds([][]float64{{100}}, [][]float64{{2}}, DiagramPadding)
	if !b.OK || b.Max != 108 || b.Min != 92 {
		t.Fatalf("expected 92..108, got %+v", b)
	}
	if len(b.DeltaE) != 1 || b.DeltaE[0] != 0 {
		t.Fatalf("expected one zero span, got %v", b.DeltaE)
	}
	sat := ComputeBounds([][]float64{{100}}, [][]float64{{2}}, SatellitePadding)
	if sat.Max != 102 || sat.Min != 98 {
		t.Fatalf("expected satellite padding of one width, got %+v", sat)
	}
}

func TestComputeBoundsSkipsEmptySeries(t *testing.T) {
	b := ComputeBounds([][]float64{{}, {10, 20}, nil}, [][]float64{{}, {1, 3}, nil}, DiagramPadding)
	if !b.OK || b.Min != 10-12 || b.Max != 20+12 {
		t.Fatalf("unexpected bounds %+v", b)
	}
	if len(b.DeltaE) != 1 || b.DeltaE[0] != 10 {
		t.Fatalf("expected only the populated span, got %v", b.DeltaE)
	}
	if empty := ComputeBounds([][]float64{{}}, [][]float64{{}}, 4); empty.OK {
		t.Fatalf("expected no bounds without data")
	}
}

func TestUnionTakesWidestSpan(t *testing.T) {
	a := Bounds{DeltaE: []float64{1, 5}, Min: 10, Max: 20, OK: true}
	b := Bounds{DeltaE: []float64{3}, Min: 5, Max: 15, OK: true}
	u := Union(a, b)
	if u.Min != 5 || u.Max != 20 {
		t.Fatalf("expected 5..20, got %v..%v", u.Min, u.Max)
	}
	if len(u.DeltaE) != 2 || u.DeltaE[0] != 3 || u.DeltaE[1] != 5 {
		t.Fatalf("unexpected elementwise max %v", u.DeltaE)
	}
	if got := Union(Bounds{}, b); got.Min != b.Min || got.Max != b.Max {
		t.Fatalf("expected union with empty bounds to pass through")
	}
}

func TestResolveUserBoundsPadding(t *testing.T) {
	b := Bounds{DeltaE: []float64{10, 4}, Min: 100, Max: 200, OK: true}
	// res 0.5 <= 0.2*4: pad 2*4.
	lo, hi := ResolveUserBounds(b, 0.5, AutoBound, AutoBound, 0)
	if lo != 92 || hi != 208 {
		t.Fatalf("expected 92..208, got %v..%v", lo, hi)
	}
	// res 2 > 0.8: pad 2*2*4.
	lo, hi = ResolveUserBounds(b, 2, AutoBound, AutoBound, 0)
	if lo != 84 || hi != 216 {
		t.Fatalf("expected 84..216, got %v..%v", lo, hi)
	}
	lo, hi = ResolveUserBounds(b, 2, Bound{Value: 150}, Bound{Value: 160}, 3)
	if lo != 153 || hi != 163 {
		t.Fatalf("expected explicit limits shifted by 3, got %v..%v", lo, hi)
	}
}

func TestParseBound(t *testing.T) {
	if b, err := ParseBound("Auto"); err != nil || !b.Auto {
		t.Fatalf("expected auto bound, got %+v %v", b, err)
	}
	if b, err := ParseBound(" 8040.5 "); err != nil || b.Auto || b.Value != 8040.5 {
		t.Fatalf("expected numeric bound, got %+v %v", b, err)
	}
	_, err := ParseBound("eight thousand")
	var invalid *InvalidSelectionError
	if !errors.As(err, &invalid) || invalid.Count != 1 {
		t.Fatalf("expected InvalidSelectionError, got %v", err)
	}
}

func TestLinspace(t *testing.T) {
	got := Linspace(995, 1005, 5)
	want := []float64{995, 997.5, 1000, 1002.5, 1005}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("point %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestNormalizer(t *testing.T) {
	if got := Normalizer(0, 10, 5); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	if got := Normalizer(0, 10, 0); got != 0 {
		t.Fatalf("expected 0 for a zero maximum, got %v", got)
	}
	if got := Normalizer(2, 10, 4); got != 2 {
		t.Fatalf("expected offset-aware scale 2, got %v", got)
	}
}

func TestEfficiencyClampsOutsideRange(t *testing.T) {
	eff, err := NewEfficiency([]float64{2, 1}, []float64{1, 0.5})
	if err != nil {
		t.Fatalf("NewEfficiency: %v", err)
	}
	cases := map[float64]float64{0: 0.5, 1: 0.5, 1.5: 0.75, 2: 1, 3: 1}
	for x, want := range cases {
		if got := eff.At(x); math.Abs(got-want) > 1e-12 {
			t.Fatalf("At(%v): expected %v, got %v", x, want, got)
		}
	}
	if _, err := NewEfficiency([]float64{1, 1}, []float64{0.5, 0.6}); err == nil {
		t.Fatalf("expected duplicate energies to fail")
	}
	var none *Efficiency
	if none.At(5) != 1 || none.Weights([]float64{1}) != nil {
		t.Fatalf("expected nil efficiency to be neutral")
	}
}

func TestCalculateResiduesWeighted(t *testing.T) {
	grid := []float64{0, 1, 2, 3}
	sim := []float64{0, 2, 4, 6}
	exp, err := NewExperiment([]float64{0.5, 1.5, 2.5}, []float64{2, 3, 5}, []float64{1, 0, 2})
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	r, err := CalculateResidues(grid, sim, exp)
	if err != nil {
		t.Fatalf("CalculateResidues: %v", err)
	}
	want := []float64{(2 - 1) / 1.0, (3 - 3) / 1.0, (5 - 5) / 2.0}
	for i := range want {
		if math.Abs(r[i]-want[i]) > 1e-12 {
			t.Fatalf("residual %d: expected %v, got %v", i, want[i], r[i])
		}
	}
	if _, err := CalculateResidues(grid, sim, nil); err == nil {
		t.Fatalf("expected missing experiment to fail")
	}
}

func TestNewExperimentDefaultsSigma(t *testing.T) {
	exp, err := NewExperiment([]float64{3, 1, 2}, []float64{9, 4, 16}, nil)
	if err != nil {
		t.Fatalf("NewExperiment: %v", err)
	}
	if exp.X[0] != 1 || exp.Y[0] != 4 || exp.Sigma[0] != 2 {
		t.Fatalf("expected sorted points with sqrt sigma, got %+v", exp)
	}
	cropped := exp.Crop(Bound{Value: 1.5}, AutoBound)
	if cropped.Len() != 2 || exp.Len() != 3 {
		t.Fatalf("expected crop to keep 2 of 3 points, got %d", cropped.Len())
	}
	if exp.MaxY() != 16 {
		t.Fatalf("expected max 16, got %v", exp.MaxY())
	}
}
