package rasterio

import "testing"

func TestProjectionForEPSG_UTM(t *testing.T) {
	p := ProjectionForEPSG(32631)
	if p == nil {
		t.Fatalf("expected a projection for EPSG:32631")
	}
	x, y, err := p.ToRasterCRS(3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if x <= 0 || y != 0 {
		t.Fatalf("unexpected UTM coords for (3,0): x=%v y=%v", x, y)
	}
}

func TestProjectionForEPSG_Unsupported(t *testing.T) {
	if p := ProjectionForEPSG(99999); p != nil {
		t.Fatalf("expected nil for an unsupported EPSG code")
	}
}
