package rasterio

import "github.com/icesat2-dataflow/raster-sampling-core/internal/coord"

// CoordProjection adapts a coord.Projection (WGS84<->source CRS, used
// throughout the rest of this module for UTM, Web Mercator, and Swiss LV95)
// to the Projection interface a Handle expects for its CRS transform: a
// query point's caller-supplied lon/lat converts to the raster's own CRS via
// FromWGS84.
type CoordProjection struct {
	proj coord.Projection
}

// NewCoordProjection wraps proj for use as a Handle's Options.CRSTransform.
func NewCoordProjection(proj coord.Projection) *CoordProjection {
	return &CoordProjection{proj: proj}
}

// ProjectionForEPSG returns a Handle-compatible Projection for epsg, or nil
// if the code isn't one of the projections this module carries (see
// coord.ForEPSG: WGS84, Web Mercator, Swiss LV95, and every UTM zone).
func ProjectionForEPSG(epsg int) *CoordProjection {
	p := coord.ForEPSG(epsg)
	if p == nil {
		return nil
	}
	return &CoordProjection{proj: p}
}

func (c *CoordProjection) ToRasterCRS(lon, lat float64) (x, y float64, err error) {
	x, y = c.proj.FromWGS84(lon, lat)
	return x, y, nil
}
