package refraction

import (
	"math"
	"testing"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/coord"
)

func TestCorrector_ConstantRI(t *testing.T) {
	f := &Frame{
		Lat:      []float64{0},
		Lon:      []float64{0},
		X:        []float64{500000},
		Y:        []float64{0},
		SurfaceH: []float64{10},
		OrthoH:   []float64{0},
		RefEl:    []float64{math.Pi / 4},
		RefAz:    []float64{0},
		DeltaH:   []float64{0},
	}

	c := New(Params{RIAir: 1.00029, RIWater: 1.34116, Zone: 31, Northern: true}, nil)
	done := make(chan struct{})
	c.Run(f, done)
	<-done

	if c.SubaqueousCount != 1 {
		t.Fatalf("expected 1 subaqueous photon, got %d", c.SubaqueousCount)
	}
	// Reference value from the step-by-step formula chain in §4.7 applied
	// to these inputs (independently computed, not from the handbook's
	// rounded worked example).
	if math.Abs(f.DeltaH[0]-1.0384) > 1e-3 {
		t.Fatalf("deltaH = %v, want ~1.0384", f.DeltaH[0])
	}
}

func TestCorrector_AboveSurfaceSkipped(t *testing.T) {
	f := &Frame{
		Lat:      []float64{10},
		Lon:      []float64{10},
		X:        []float64{500000},
		Y:        []float64{1000000},
		SurfaceH: []float64{0},
		OrthoH:   []float64{10},
		RefEl:    []float64{math.Pi / 4},
		RefAz:    []float64{0},
		DeltaH:   []float64{0},
	}
	lonBefore, latBefore := f.Lon[0], f.Lat[0]

	c := New(Params{RIAir: 1.00029, RIWater: 1.34116, Zone: 31, Northern: true}, nil)
	c.Run(f, nil)

	if c.SubaqueousCount != 0 {
		t.Fatalf("expected 0 subaqueous photons, got %d", c.SubaqueousCount)
	}
	if f.DeltaH[0] != 0 || f.Lon[0] != lonBefore || f.Lat[0] != latBefore {
		t.Fatalf("photon above surface must be left unchanged")
	}
}

func TestCorrector_EqualRIYieldsNoDelta(t *testing.T) {
	// spec §8's invariant for n1==n2 covers both DeltaH and the
	// coordinates: Lat/Lon/X/Y must all be left unchanged. A self-consistent
	// Lat/Lon/X/Y triple is required for that second half to mean anything
	// (the corrector always re-derives Lon/Lat from X/Y via the inverse UTM
	// projection, so an arbitrary X/Y not matching the stated Lon/Lat would
	// "change" them even with zero horizontal offset).
	lon, lat := 3.0, 46.5
	utm := coord.NewUTM(31, true)
	x, y := utm.FromWGS84(lon, lat)

	f := &Frame{
		Lat:      []float64{lat},
		Lon:      []float64{lon},
		X:        []float64{x},
		Y:        []float64{y},
		SurfaceH: []float64{5},
		OrthoH:   []float64{0},
		RefEl:    []float64{math.Pi / 4},
		RefAz:    []float64{0},
		DeltaH:   []float64{0},
	}

	c := New(Params{RIAir: 1.4, RIWater: 1.4, Zone: 31, Northern: true}, nil)
	c.Run(f, nil)

	if math.Abs(f.DeltaH[0]) > 1e-9 {
		t.Fatalf("deltaH = %v, want ~0 when n1==n2", f.DeltaH[0])
	}
	if math.Abs(f.X[0]-x) > 1e-9 || math.Abs(f.Y[0]-y) > 1e-9 {
		t.Fatalf("X/Y changed: got (%v, %v), want (%v, %v)", f.X[0], f.Y[0], x, y)
	}
	if math.Abs(f.Lon[0]-lon) > 1e-6 || math.Abs(f.Lat[0]-lat) > 1e-6 {
		t.Fatalf("Lon/Lat changed: got (%v, %v), want (%v, %v)", f.Lon[0], f.Lat[0], lon, lat)
	}
}
