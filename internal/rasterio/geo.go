package rasterio

// GeoTIFF GeoKey IDs.
const (
	gkModelTypeGeoKey       = 1024
	gkRasterTypeGeoKey      = 1025
	gkGeographicTypeGeoKey  = 2048
	gkProjectedCSTypeGeoKey = 3072
)

// GeoInfo holds parsed GeoTIFF georeferencing metadata for the first IFD.
type GeoInfo struct {
	EPSG       int     // EPSG code, or 0 if undetected
	OriginX    float64 // coordinate of the upper-left pixel corner
	OriginY    float64
	PixelSizeX float64 // pixel width in CRS units (positive)
	PixelSizeY float64 // pixel height in CRS units (positive)
}

// parseGeoInfo extracts geotransform and CRS metadata from an IFD's GeoTIFF tags.
func parseGeoInfo(ifd *IFD) GeoInfo {
	var info GeoInfo

	if len(ifd.ModelPixelScale) >= 2 {
		info.PixelSizeX = ifd.ModelPixelScale[0]
		info.PixelSizeY = ifd.ModelPixelScale[1]
	}

	// ModelTiepoint: [I, J, K, X, Y, Z] maps raster pixel (I,J) to CRS coordinate (X,Y).
	if len(ifd.ModelTiepoint) >= 6 {
		info.OriginX = ifd.ModelTiepoint[3] - ifd.ModelTiepoint[0]*info.PixelSizeX
		info.OriginY = ifd.ModelTiepoint[4] + ifd.ModelTiepoint[1]*info.PixelSizeY
	}

	info.EPSG = parseEPSG(ifd.GeoKeys)
	return info
}

// parseEPSG extracts the projected or geographic EPSG code from the GeoKey directory.
func parseEPSG(geoKeys []uint16) int {
	if len(geoKeys) < 4 {
		return 0
	}

	numKeys := int(geoKeys[3])
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(geoKeys) {
			break
		}
		keyID := geoKeys[base]
		valueOffset := geoKeys[base+3]

		switch keyID {
		case gkProjectedCSTypeGeoKey, gkGeographicTypeGeoKey:
			if valueOffset > 0 && valueOffset != 32767 {
				return int(valueOffset)
			}
		}
	}
	return 0
}
