// Package vectorindex implements the Vector Index: a read-only collection
// of raster-group-describing features cloned out of a geojson layer, with
// a bounding box and optional per-feature time window.
package vectorindex

import (
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/errword"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rastergroup"
)

// Feature is the process-owned clone of a single geojson feature relevant
// to raster-group construction. Cloning into this struct at open time is
// what lets the source geojson.FeatureCollection (and its decoder) be
// dropped immediately, per spec §2.2/§9's "clone into process, close
// source handle immediately" ownership rule.
type Feature struct {
	Geometry orb.Geometry
	Bound    orb.Bound

	ValuePath string // tag = Value
	FlagsPath string // tag = Fmask, empty if absent

	HasDatetime bool
	GMTDate     time.Time // arithmetic mean of start/end, or the single datetime
	GPSTime     float64
}

// TimeWindow bounds a [start, stop] filter applied during Open, so that
// features outside the window are never materialized into the index.
type TimeWindow struct {
	Start, Stop time.Time
	Enabled     bool
}

// Index is the Vector Index: a loaded, read-only feature list plus its
// bounding box. Re-open is a no-op if the resolved path is unchanged and
// the feature list is already non-empty (spec §4.2 invariant).
type Index struct {
	path     string
	features []Feature
	bbox     orb.Bound
	rows     int
	cols     int

	ErrorWord errword.Word
}

// New returns an empty, unopened Index.
func New() *Index {
	return &Index{}
}

// Path returns the currently loaded index-file path, or "" if unopened.
func (ix *Index) Path() string { return ix.path }

// Rows and Cols expose the index grid dimensions carried in the geojson
// FeatureCollection's top-level "rows"/"cols" properties, when present.
// These are dataset-specific index metadata with no operations defined on
// them generically, so the index only stores and exposes them.
func (ix *Index) Rows() int { return ix.rows }
func (ix *Index) Cols() int { return ix.cols }

// Open resolves path for the given geometry (the caller determines the
// geocell or AOI path; path resolution is dataset-specific and happens
// before Open is called), loads all features matching an optional time
// window, and closes the source handle before returning. Re-opening the
// same path when already loaded is a no-op.
func (ix *Index) Open(path string, window TimeWindow) bool {
	if path == ix.path && len(ix.features) > 0 {
		return true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		ix.ErrorWord = ix.ErrorWord.Set(errword.IndexFileError)
		ix.features = nil
		return false
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		ix.ErrorWord = ix.ErrorWord.Set(errword.IndexFileError)
		ix.features = nil
		return false
	}
	// fc and data are not retained past this function: every field we need
	// is copied into ix.features below.

	if len(fc.Features) == 0 {
		ix.ErrorWord = ix.ErrorWord.Set(errword.IndexFileError)
		ix.features = nil
		return false
	}

	features := make([]Feature, 0, len(fc.Features))
	bbox := orb.Bound{Min: orb.Point{180, 90}, Max: orb.Point{-180, -90}}

	for _, gf := range fc.Features {
		if gf.Geometry == nil {
			continue
		}

		f := Feature{
			Geometry: gf.Geometry,
			Bound:    gf.Geometry.Bound(),
		}

		if v, ok := gf.Properties["value_path"].(string); ok {
			f.ValuePath = v
		} else if v, ok := gf.Properties["path"].(string); ok {
			f.ValuePath = v
		}
		if v, ok := gf.Properties["flags_path"].(string); ok {
			f.FlagsPath = v
		}

		gmt, gps, ok := parseFeatureTime(gf.Properties)
		if ok {
			if window.Enabled && (gmt.Before(window.Start) || gmt.After(window.Stop)) {
				continue
			}
			f.HasDatetime = true
			f.GMTDate = gmt
			f.GPSTime = gps
		}

		features = append(features, f)
		bbox = bbox.Union(f.Bound)
	}

	if len(features) == 0 {
		ix.ErrorWord = ix.ErrorWord.Set(errword.IndexFileError)
		ix.features = nil
		return false
	}

	ix.path = path
	ix.features = features
	ix.bbox = bbox

	if rows, ok := fc.ExtraMembers["rows"].(float64); ok {
		ix.rows = int(rows)
	}
	if cols, ok := fc.ExtraMembers["cols"].(float64); ok {
		ix.cols = int(cols)
	}

	return true
}

// parseFeatureTime derives a group GMT date and GPS time from a feature's
// datetime/start_datetime/end_datetime properties (ISO-8601, spec §6). A
// start/end pair is reduced to its arithmetic mean. Returns ok=false when
// no usable time field is present.
func parseFeatureTime(props geojson.Properties) (time.Time, float64, bool) {
	if dt, ok := props["datetime"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, dt)
		if err == nil {
			return t, gpsTimeOf(t), true
		}
	}

	startStr, hasStart := props["start_datetime"].(string)
	endStr, hasEnd := props["end_datetime"].(string)
	if hasStart && hasEnd {
		start, errS := time.Parse(time.RFC3339Nano, startStr)
		end, errE := time.Parse(time.RFC3339Nano, endStr)
		if errS == nil && errE == nil {
			mean := start.Add(end.Sub(start) / 2)
			return mean, gpsTimeOf(mean), true
		}
	}

	return time.Time{}, 0, false
}

// gpsEpoch is January 6, 1980, the origin of GPS time.
var gpsEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

func gpsTimeOf(t time.Time) float64 {
	return t.Sub(gpsEpoch).Seconds()
}

// Contains reports whether the loaded bbox fully contains geometry's
// bounding box.
func (ix *Index) Contains(geometry orb.Geometry) bool {
	if len(ix.features) == 0 {
		return false
	}
	b := geometry.Bound()
	return ix.bbox.Contains(b.Min) && ix.bbox.Contains(b.Max)
}

// Features borrows the loaded feature list. The caller must not retain the
// slice beyond the Index's lifetime.
func (ix *Index) Features() []Feature {
	return ix.features
}

// Intersecting returns every feature whose geometry intersects the query
// geometry, used by the Finder Pool to build candidate raster groups.
// Point-in-polygon and bounding-box overlap tests use orb/planar, per
// SPEC_FULL.md §4.2.
func (ix *Index) Intersecting(query orb.Geometry) []Feature {
	var out []Feature
	qb := query.Bound()

	for _, f := range ix.features {
		if !f.Bound.Intersects(qb) {
			continue
		}
		if Intersects(f.Geometry, query) {
			out = append(out, f)
		}
	}
	return out
}

// Intersects tests a feature geometry against a query geometry, which is
// always either a point or a rectangular polygon (promoted AOI). Exported
// so the Finder Pool can run the same test in its own partitioned workers
// (spec §4.3) instead of through the single-threaded Intersecting helper.
func Intersects(geom, query orb.Geometry) bool {
	switch q := query.(type) {
	case orb.Point:
		return geometryContainsPoint(geom, q)
	case orb.Polygon:
		if len(q) == 0 {
			return false
		}
		switch g := geom.(type) {
		case orb.Point:
			return planar.PolygonContains(q, g)
		case orb.Polygon:
			return polygonsOverlap(g, q)
		default:
			return geom.Bound().Intersects(query.Bound())
		}
	default:
		return geom.Bound().Intersects(query.Bound())
	}
}

func geometryContainsPoint(geom orb.Geometry, pt orb.Point) bool {
	switch g := geom.(type) {
	case orb.Point:
		return g == pt
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	default:
		return geom.Bound().Contains(pt)
	}
}

// polygonsOverlap is a bounding-box-level approximation of polygon/polygon
// intersection: sufficient for raster-group resolution, where raster
// footprints and the query AOI are both simple rectangles in practice.
func polygonsOverlap(a, b orb.Polygon) bool {
	return a.Bound().Intersects(b.Bound())
}

// ToDescriptors converts a feature into a Raster Descriptor pair (VALUE
// and, if present, FLAGS), per spec §6's tag convention, generalized to
// the rastergroup.Tag enum per spec §9's design note against bare string
// comparison.
func (f Feature) ToDescriptors() []rastergroup.Descriptor {
	descriptors := make([]rastergroup.Descriptor, 0, 2)
	if f.ValuePath != "" {
		descriptors = append(descriptors, rastergroup.Descriptor{
			Path: f.ValuePath,
			Tag:  rastergroup.TagValue,
		})
	}
	if f.FlagsPath != "" {
		descriptors = append(descriptors, rastergroup.Descriptor{
			Path: f.FlagsPath,
			Tag:  rastergroup.TagFlags,
		})
	}
	return descriptors
}
