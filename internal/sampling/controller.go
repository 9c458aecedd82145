// Package sampling implements the Sampling Controller: it owns the Vector
// Index, the Handle Cache and a request's Group Ordering, fans work out to
// the Finder Pool and Reader/Batch Reader Pools, applies post-filters, and
// collates per-point results.
package sampling

import (
	"math"
	"strings"
	"sync/atomic"

	"github.com/paulmach/orb"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/errword"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/finderpool"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/handlecache"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rastergroup"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rasterio"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/readerpool"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/vectorindex"
)

// MaxCacheSize bounds the Handle Cache's entry count (spec §4.5/§5).
const MaxCacheSize = 512

// PathResolver resolves a vector-index file path for a query geometry.
// Path resolution is dataset-specific (spec §4.2): for a point request,
// typically the 1°×1° geocell enclosing the point; for an AOI, the whole
// polygon's containing index.
type PathResolver func(geom orb.Geometry) string

// Filters holds the post-filter configuration applied to a request's
// Group Ordering (spec §4.4).
type Filters struct {
	URLSubstring string // empty disables the filter

	UseDayOfYear bool
	DOYStart     int
	DOYEnd       int
	KeepInRange  bool

	TargetGPSTime    float64
	HasTargetGPSTime bool
}

// OutputSample is one point's harvested result: the VALUE sample plus any
// FLAGS bits from the same group (spec §6's "Sampling output").
type OutputSample struct {
	Value     float64
	GPSTime   float64
	FilePath  string
	Flags     uint32
	ErrorWord errword.Word
}

// Controller is the Sampling Controller.
type Controller struct {
	index        *vectorindex.Index
	cache        *handlecache.Cache
	finder       *finderpool.Pool
	batch        *readerpool.BatchPool
	resolvePath  PathResolver
	newHandle    func(path string) *rasterio.Handle
	filters      Filters
	activeFlag   atomic.Bool
	errWord      errword.Word
}

// New returns a Controller. constructor builds a Raster Handle for a given
// path. The point/AOI paths share these handles through the Handle Cache;
// the batch path (spec §4.6) instead calls constructor directly to give
// each Unique Raster its own private, unshared handle.
func New(resolvePath PathResolver, constructor func(path string) *rasterio.Handle) *Controller {
	c := &Controller{
		index:       vectorindex.New(),
		cache:       handlecache.New(MaxCacheSize, constructor),
		finder:      finderpool.New(finderpool.DefaultThreads),
		batch:       readerpool.NewBatchPool(readerpool.MaxReaderThreads),
		resolvePath: resolvePath,
		newHandle:   constructor,
	}
	c.activeFlag.Store(true)
	return c
}

// SetFilters installs the post-filter configuration used by subsequent
// requests.
func (c *Controller) SetFilters(f Filters) { c.filters = f }

// SetActive sets the request's cancellation flag. The controller checks it
// at batch boundaries and group-assembly steps (spec §5).
func (c *Controller) SetActive(active bool) { c.activeFlag.Store(active) }

// Active reports the current cancellation flag.
func (c *Controller) Active() bool { return c.activeFlag.Load() }

// Close releases the Handle Cache and joins the Finder Pool. Intended for
// controller teardown.
func (c *Controller) Close() {
	c.finder.Shutdown()
	c.cache.Close()
}

// Sample resolves groups for a single point, dispatches the Reader Pool,
// and returns the harvested output samples plus the request's error word
// (spec §4.5).
func (c *Controller) Sample(point rasterio.Point, window vectorindex.TimeWindow) ([]OutputSample, errword.Word) {
	geom := orb.Point{point.X, point.Y}
	groups, enabled, ok := c.resolveAndDispatch(geom, point, nil, window)
	if !ok {
		return nil, c.errWord
	}
	return c.harvest(groups, enabled), c.errWord
}

// AOISample is one group's harvested subset result for an AOI request.
type AOISample struct {
	FilePath  string
	GPSTime   float64
	Subset    *rasterio.Subset
	ErrorWord errword.Word
}

// SampleAOI resolves groups for a rectangular area of interest. Group
// resolution and reader dispatch follow the same path as a point request;
// only the Raster Handle operation invoked per reader differs (subset
// instead of sample, per spec §4.1).
func (c *Controller) SampleAOI(poly rasterio.Polygon) ([]AOISample, errword.Word) {
	minX, minY, maxX, maxY := poly.Bounds()
	ring := orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}
	geom := orb.Polygon{ring}
	groups, enabled, ok := c.resolveAndDispatch(geom, rasterio.Point{}, &poly, vectorindex.TimeWindow{})
	if !ok {
		return nil, c.errWord
	}
	return c.harvestAOI(groups, enabled), c.errWord
}

// resolveAndDispatch runs the shared group-resolution, post-filter,
// Handle Cache update, and Reader Pool dispatch steps for a single
// geometry (point or AOI). ok is false if the request was aborted before
// dispatch (index-open failure, empty group set, or reader cap exceeded).
func (c *Controller) resolveAndDispatch(geom orb.Geometry, point rasterio.Point, aoi *rasterio.Polygon, window vectorindex.TimeWindow) ([]rastergroup.Group, map[string]*handlecache.Entry, bool) {
	c.errWord = errword.NoErrors

	path := c.resolvePath(geom)
	if !c.index.Open(path, window) {
		c.errWord = c.errWord.Set(errword.IndexFileError)
		return nil, nil, false
	}

	ordering := c.finder.Dispatch(c.index.Features(), geom)
	c.applyFilters(ordering, nil)

	groups := ordering.Groups()
	if len(groups) == 0 {
		return nil, nil, false
	}

	c.updateCache(groups)

	enabled := c.cache.Enabled()
	if len(enabled) > readerpool.MaxReaderThreads {
		c.errWord = c.errWord.Set(errword.ThreadsLimitError)
		return nil, nil, false
	}

	requests := make([]readerpool.Request, 0, len(enabled))
	for p, entry := range enabled {
		req := readerpool.Request{Path: p, Entry: entry}
		if aoi != nil {
			req.AOI = aoi
		} else {
			req.Point = &point
		}
		requests = append(requests, req)
	}
	c.errWord = c.errWord.Set(readerpool.Dispatch(requests))

	return groups, enabled, true
}

// harvestAOI is harvest's counterpart for subset results: it reads
// LastSubset rather than LastSample from each dispatched entry.
func (c *Controller) harvestAOI(groups []rastergroup.Group, enabled map[string]*handlecache.Entry) []AOISample {
	out := make([]AOISample, 0, len(groups))
	for _, g := range groups {
		valueDesc := g.Value()
		if valueDesc == nil {
			continue
		}
		entry, ok := enabled[valueDesc.Path]
		if !ok || entry.LastSubset == nil {
			continue
		}
		out = append(out, AOISample{
			FilePath: valueDesc.Path,
			GPSTime:  g.GPSTime,
			Subset:   entry.LastSubset,
		})
		entry.LastSubset = nil
	}
	return out
}

// harvest walks groups in order, for each pulling the VALUE sample (and,
// if present, the FLAGS sample) out of the Handle Cache entries dispatched
// by Reader Pool, attaching flag bits to the value sample (spec §4.5).
func (c *Controller) harvest(groups []rastergroup.Group, enabled map[string]*handlecache.Entry) []OutputSample {
	out := make([]OutputSample, 0, len(groups))
	for _, g := range groups {
		valueDesc := g.Value()
		if valueDesc == nil {
			continue
		}
		entry, ok := enabled[valueDesc.Path]
		if !ok || entry.LastSample == nil {
			continue
		}

		os := OutputSample{
			Value:     entry.LastSample.Value,
			GPSTime:   g.GPSTime,
			FilePath:  valueDesc.Path,
			ErrorWord: entry.LastSample.Error,
		}

		if flagsDesc := g.Flags(); flagsDesc != nil {
			if flagsEntry, ok := enabled[flagsDesc.Path]; ok && flagsEntry.LastSample != nil {
				os.Flags = uint32(flagsEntry.LastSample.Value)
				os.ErrorWord = os.ErrorWord.Set(flagsEntry.LastSample.Error)
			}
		}

		out = append(out, os)
		entry.LastSample = nil // release, per spec §4.5
	}
	return out
}

// updateCache runs the Handle Cache Update step of spec §4.5: disable
// every entry, then re-enable (creating if absent) one per surviving
// descriptor, then evict disabled entries if over MaxCacheSize.
func (c *Controller) updateCache(groups []rastergroup.Group) {
	c.cache.DisableAll()
	for _, g := range groups {
		for _, d := range g.Descriptors {
			c.cache.Enable(d.Path)
		}
	}
	c.cache.EvictDisabled()
}

func (c *Controller) applyFilters(ordering *rastergroup.Ordering, perPointTarget *float64) {
	if c.filters.URLSubstring != "" {
		ordering.Filter(func(g rastergroup.Group) bool {
			for _, d := range g.Descriptors {
				if !strings.Contains(d.Path, c.filters.URLSubstring) {
					return false
				}
			}
			return true
		})
	}

	if c.filters.UseDayOfYear {
		ordering.Filter(func(g rastergroup.Group) bool {
			doy := g.GMTDate.YearDay()
			inRange := doy >= c.filters.DOYStart && doy <= c.filters.DOYEnd
			return inRange == c.filters.KeepInRange
		})
	}

	target, ok := c.resolveTarget(perPointTarget)
	if ok {
		applyClosestTime(ordering, target)
	}
}

func (c *Controller) resolveTarget(perPointTarget *float64) (float64, bool) {
	if perPointTarget != nil {
		return *perPointTarget, true
	}
	if c.filters.HasTargetGPSTime {
		return c.filters.TargetGPSTime, true
	}
	return 0, false
}

// applyClosestTime retains only the groups whose |gps - target| equals the
// minimum delta across all surviving groups (spec §4.4, ties retained per
// §8's boundary behavior).
func applyClosestTime(ordering *rastergroup.Ordering, target float64) {
	groups := ordering.Groups()
	if len(groups) == 0 {
		return
	}
	minDelta := math.Inf(1)
	for _, g := range groups {
		d := math.Abs(g.GPSTime - target)
		if d < minDelta {
			minDelta = d
		}
	}
	const epsilon = 1e-9
	ordering.Filter(func(g rastergroup.Group) bool {
		return math.Abs(math.Abs(g.GPSTime-target)-minDelta) <= epsilon
	})
}

