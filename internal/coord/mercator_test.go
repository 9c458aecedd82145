package coord

import (
	"math"
	"testing"
)

func TestWebMercatorProj_RoundTrip(t *testing.T) {
	proj := &WebMercatorProj{}
	cases := []struct{ lon, lat float64 }{
		{0, 0},
		{8.5417, 47.3769},
		{-74.0060, 40.7128},
		{139.6917, 35.6895},
	}
	for _, c := range cases {
		x, y := proj.FromWGS84(c.lon, c.lat)
		lon, lat := proj.ToWGS84(x, y)
		if math.Abs(lon-c.lon) > 1e-6 || math.Abs(lat-c.lat) > 1e-6 {
			t.Errorf("round trip (%v, %v) -> (%v, %v) -> (%v, %v)", c.lon, c.lat, x, y, lon, lat)
		}
	}
}

func TestWebMercatorProj_EPSG(t *testing.T) {
	if (&WebMercatorProj{}).EPSG() != 3857 {
		t.Fatalf("expected EPSG 3857")
	}
}
