package sampling

import (
	"github.com/paulmach/orb"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/errword"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rastergroup"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rasterio"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/readerpool"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/vectorindex"
)

// IndexedPoint is one point of a batch request: a caller-assigned stable
// index, the point itself, and an optional per-point target GPS time for
// the closest-time post-filter (spec §3: "each with a stable
// caller-assigned index and an optional GPS time").
type IndexedPoint struct {
	Index   int
	Point   rasterio.Point
	GPSTime *float64
}

// SampleBatch runs the batch path of spec §4.6: one finder-pool pass per
// point to build a per-point Group Ordering, deduplication of all
// descriptors into Unique Rasters, then a single Batch Reader Pool run
// over those Unique Rasters. Results are returned in the same order points
// were given: results[i] belongs to points[i].
func (c *Controller) SampleBatch(points []IndexedPoint, window vectorindex.TimeWindow) ([][]OutputSample, errword.Word) {
	c.errWord = errword.NoErrors

	perPointGroups := make(map[int][]rastergroup.Group, len(points))

	for _, ip := range points {
		if !c.Active() {
			return nil, c.errWord
		}

		geom := orb.Point{ip.Point.X, ip.Point.Y}
		path := c.resolvePath(geom)
		if !c.index.Open(path, window) {
			c.errWord = c.errWord.Set(errword.IndexFileError)
			continue
		}

		ordering := c.finder.Dispatch(c.index.Features(), geom)
		c.applyFilters(ordering, ip.GPSTime)
		perPointGroups[ip.Index] = ordering.Groups()
	}

	uniqueRasters := c.buildUniqueRasters(points, perPointGroups)

	rasters := make([]*readerpool.UniqueRaster, 0, len(uniqueRasters))
	for _, build := range uniqueRasters {
		rasters = append(rasters, build.ur)
	}
	c.batch.Run(rasters, c.Active)

	results := c.harvestBatch(points, perPointGroups, uniqueRasters)
	for _, build := range uniqueRasters {
		build.ur.Handle.Close()
	}
	return results, c.errWord
}

// uniqueRasterBuild is a Unique Raster under construction: the
// readerpool.UniqueRaster plus, for each referencing point index, the
// slot in ur.Points/ur.Results that point occupies.
type uniqueRasterBuild struct {
	ur   *readerpool.UniqueRaster
	slot map[int]int
}

// buildUniqueRasters deduplicates every VALUE/FLAGS descriptor across
// every point's surviving groups into one Unique Raster per distinct file
// path. Per spec §4.6's "disable the per-dataset block cache in batch
// reader threads", each Unique Raster gets its own private Raster Handle
// built directly by the controller's constructor rather than one shared
// through the Handle Cache, so the hot per-point sampling loop in
// readerpool.BatchPool never touches cache state shared with point/AOI
// requests.
func (c *Controller) buildUniqueRasters(points []IndexedPoint, perPointGroups map[int][]rastergroup.Group) map[string]*uniqueRasterBuild {
	byPath := make(map[string]*uniqueRasterBuild)
	pointByIndex := make(map[int]rasterio.Point, len(points))
	for _, ip := range points {
		pointByIndex[ip.Index] = ip.Point
	}

	for pointIndex, groups := range perPointGroups {
		for _, g := range groups {
			for _, d := range g.Descriptors {
				build, ok := byPath[d.Path]
				if !ok {
					build = &uniqueRasterBuild{
						ur:   &readerpool.UniqueRaster{Path: d.Path, Handle: c.newHandle(d.Path)},
						slot: make(map[int]int),
					}
					byPath[d.Path] = build
				}
				if _, seen := build.slot[pointIndex]; seen {
					continue
				}
				build.slot[pointIndex] = len(build.ur.Points)
				build.ur.Points = append(build.ur.Points, pointByIndex[pointIndex])
			}
		}
	}

	return byPath
}

// harvestBatch walks each point's surviving groups again, pulling its
// VALUE sample (and FLAGS, if present) out of the matching Unique
// Raster's per-point result slot. Samples are copied per spec §4.6 step 5
// since a Unique Raster may be referenced by several points.
func (c *Controller) harvestBatch(points []IndexedPoint, perPointGroups map[int][]rastergroup.Group, uniqueRasters map[string]*uniqueRasterBuild) [][]OutputSample {
	out := make([][]OutputSample, len(points))

	for i, ip := range points {
		groups := perPointGroups[ip.Index]
		samples := make([]OutputSample, 0, len(groups))

		for _, g := range groups {
			valueDesc := g.Value()
			if valueDesc == nil {
				continue
			}
			valueBuild, ok := uniqueRasters[valueDesc.Path]
			if !ok {
				continue
			}
			slot, ok := valueBuild.slot[ip.Index]
			if !ok || slot >= len(valueBuild.ur.Results) {
				continue
			}
			result := valueBuild.ur.Results[slot]

			os := OutputSample{
				Value:     result.Value,
				GPSTime:   g.GPSTime,
				FilePath:  valueDesc.Path,
				ErrorWord: result.Error,
			}

			if flagsDesc := g.Flags(); flagsDesc != nil {
				if flagsBuild, ok := uniqueRasters[flagsDesc.Path]; ok {
					if flagsSlot, ok := flagsBuild.slot[ip.Index]; ok && flagsSlot < len(flagsBuild.ur.Results) {
						flagsResult := flagsBuild.ur.Results[flagsSlot]
						os.Flags = uint32(flagsResult.Value)
						os.ErrorWord = os.ErrorWord.Set(flagsResult.Error)
					}
				}
			}

			samples = append(samples, os)
		}

		out[i] = samples
	}

	return out
}
