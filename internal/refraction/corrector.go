// Package refraction implements the Subaqueous Refraction Corrector: a
// sequential numeric pass over a photon data frame that applies Snell's
// law to every subaqueous photon, offsetting its position and recording a
// height delta.
package refraction

import (
	"math"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/coord"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rasterio"
)

// Frame is the photon data frame the corrector mutates in place. Every
// slice must have the same length; index i is one photon.
type Frame struct {
	Lat, Lon           []float64
	X, Y               []float64 // UTM easting/northing
	SurfaceH, OrthoH   []float64
	RefEl, RefAz       []float64 // radians from nadir / from north
	DeltaH             []float64 // output
}

// Params configures one corrector pass (spec §4.7).
type Params struct {
	RIAir          float64
	RIWater        float64
	UseWaterRIMask bool
	Zone           int
	Northern       bool
}

const (
	maskPixelSize = 0.25
	maskLonMin    = -180.0
	maskLatMin    = -78.75
	maskHeight    = int((90.0 - maskLatMin) / maskPixelSize) // 675
)

// Corrector runs the refraction pass. mask is an already-opened Raster
// Handle over the water-RI mask, or nil if Params.UseWaterRIMask is false.
type Corrector struct {
	params Params
	mask   *rasterio.Handle

	// SubaqueousCount is the running count of photons with depth > 0,
	// incremented during Run (spec §4.7 step 7).
	SubaqueousCount int
}

// New returns a Corrector for params. mask must be non-nil when
// params.UseWaterRIMask is true; it is read but never closed here — the
// caller (via the Handle Cache) owns the mask handle's lifetime.
func New(params Params, mask *rasterio.Handle) *Corrector {
	return &Corrector{params: params, mask: mask}
}

// Run applies the refraction correction to every photon in f in place,
// and signals done (if non-nil) on completion, per spec §4.7's "signal
// the request's completion condition so that downstream consumers
// unblock."
func (c *Corrector) Run(f *Frame, done chan<- struct{}) {
	for i := range f.SurfaceH {
		c.correctOne(f, i)
	}
	if done != nil {
		close(done)
	}
}

func (c *Corrector) correctOne(f *Frame, i int) {
	depth := f.SurfaceH[i] - f.OrthoH[i]
	if depth <= 0 {
		return
	}
	c.SubaqueousCount++

	n1 := c.params.RIAir
	n2 := c.params.RIWater
	if c.params.UseWaterRIMask && c.mask != nil {
		if sampled, ok := c.sampleWaterRI(f.Lon[i], f.Lat[i]); ok {
			n2 = sampled
		}
	}

	theta1 := math.Pi/2 - f.RefEl[i]
	theta2 := math.Asin(n1 * math.Sin(theta1) / n2)
	phi := theta1 - theta2

	s := depth / math.Cos(theta1)
	r := s * n1 / n2
	p := math.Sqrt(r*r + s*s - 2*r*s*math.Cos(phi))

	gamma := math.Pi/2 - theta1
	alpha := math.Asin(r * math.Sin(phi) / p)
	beta := gamma - alpha

	deltaZ := p * math.Sin(beta)
	deltaY := p * math.Cos(beta)
	deltaE := deltaY * math.Sin(f.RefAz[i])
	deltaN := deltaY * math.Cos(f.RefAz[i])

	f.DeltaH[i] = deltaZ
	f.X[i] += deltaE
	f.Y[i] += deltaN

	zone := coord.ZoneForLon(f.Lon[i])
	if c.params.Zone != 0 {
		zone = c.params.Zone
	}
	utm := coord.NewUTM(zone, c.params.Northern)
	f.Lon[i], f.Lat[i] = utm.ToWGS84(f.X[i], f.Y[i])
}

// sampleWaterRI reads the water-RI mask at (lon, lat) using the
// bottom-up row formula of spec §4.7 step 2: the mask's image row 0 is
// the north edge, but the raster is indexed bottom-up, so row lookup
// uses mask_height - floor((lat-lat_min)/pixel_size) rather than the
// generic Raster Handle world-to-pixel transform in internal/rasterio.
func (c *Corrector) sampleWaterRI(lon, lat float64) (float64, bool) {
	row := maskHeight - int(math.Floor((lat-maskLatMin)/maskPixelSize))
	col := int(math.Floor((lon - maskLonMin) / maskPixelSize))
	if row < 0 || row >= maskHeight || col < 0 {
		return 0, false
	}

	sample, err := c.mask.SamplePixel(col, row)
	if err != nil || sample == nil {
		return 0, false
	}
	return sample.Value, true
}
