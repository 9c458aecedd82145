// Package rasterio implements the Raster Handle: a thin, lazily-opened
// wrapper around a single memory-mapped COG/GeoTIFF dataset that answers
// point-sample and polygon-subset queries against a single band of
// float64-valued data.
package rasterio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/errword"
)

// Kernel identifies a resampling method.
type Kernel int

const (
	Nearest Kernel = iota
	Bilinear
	Cubic
	CubicSpline
	Lanczos
	Average
	Mode
	Gaussian
)

// Point is a geographic point in the CRS expected by the caller (longitude,
// latitude, optional height) or, once transformed, in a raster's own CRS.
type Point struct {
	X, Y, Z float64
}

// Polygon is a closed ring of vertices in the same CRS as the raster's
// subset query. Areas of interest are always promoted to a four-vertex
// rectangle by the caller before reaching the handle.
type Polygon struct {
	Vertices []Point
}

// Bounds returns the axis-aligned bounding box of the polygon.
func (p Polygon) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, v := range p.Vertices {
		minX = math.Min(minX, v.X)
		minY = math.Min(minY, v.Y)
		maxX = math.Max(maxX, v.X)
		maxY = math.Max(maxY, v.Y)
	}
	return
}

// Sample is the result of a point query against a Raster Handle.
type Sample struct {
	Value float64
	Band  int
	Error errword.Word
}

// Subset is the result of a polygon query: a rectangular window of pixel
// values overlapping the query polygon, in row-major band order.
type Subset struct {
	MinX, MinY, MaxX, MaxY float64 // CRS bounds actually covered
	Width, Height          int
	Values                 []float64 // row-major, len == Width*Height
}

// Options configures how a Handle samples its raster.
type Options struct {
	Kernel        Kernel
	RadiusMeters  float64 // kernel window radius; 0 defaults to 1 meter (rounded up to at least one cell)
	CRSTransform  Projection
	Band          int // 0-based band index; defaults to 0
}

// Projection converts between the caller's CRS and the raster's own CRS.
// Constructed once per handle and reused across calls (spec: "the CRS
// transform is constructed per-handle and re-used").
type Projection interface {
	ToRasterCRS(lon, lat float64) (x, y float64, err error)
}

// Handle is a lazily-opened, memory-mapped raster reader that answers
// sample/subset queries for a single science raster. Pixel reads are
// against read-only memory-mapped data, but the lazy open and the
// handle's error word are updated without synchronization, so a Handle is
// not safe for concurrent use.
type Handle struct {
	path string
	opts Options

	data []byte
	fd   *os.File
	bo   binary.ByteOrder
	ifds []IFD
	geo  GeoInfo

	errWord errword.Word
}

// NewHandle constructs a Handle for the given file path. The dataset is
// not opened until the first Sample/Subset call.
func NewHandle(path string, opts Options) *Handle {
	if opts.RadiusMeters <= 0 {
		opts.RadiusMeters = 1
	}
	return &Handle{path: path, opts: opts}
}

// Path returns the backing file path.
func (h *Handle) Path() string { return h.path }

// ensureOpen lazily memory-maps and parses the dataset on first use.
func (h *Handle) ensureOpen() error {
	if h.data != nil {
		return nil
	}

	f, err := os.Open(h.path)
	if err != nil {
		h.errWord = h.errWord.Set(errword.BlockReadError)
		return fmt.Errorf("opening %s: %w", h.path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		h.errWord = h.errWord.Set(errword.BlockReadError)
		return fmt.Errorf("stat %s: %w", h.path, err)
	}
	if fi.Size() == 0 {
		f.Close()
		h.errWord = h.errWord.Set(errword.BlockReadError)
		return fmt.Errorf("%s: empty file", h.path)
	}

	data, err := mmapFile(f.Fd(), int(fi.Size()))
	if err != nil {
		f.Close()
		h.errWord = h.errWord.Set(errword.BlockReadError)
		return fmt.Errorf("mmap %s: %w", h.path, err)
	}
	// The fd stays open for the lifetime of the mapping on some platforms'
	// semantics; closing is safe on Linux/BSD once mmap has been
	// established, but we keep it to satisfy munmap bookkeeping symmetry.

	ifds, bo, err := parseTIFF(bytes.NewReader(data))
	if err != nil {
		munmapFile(data)
		f.Close()
		h.errWord = h.errWord.Set(errword.BlockReadError)
		return fmt.Errorf("parsing %s: %w", h.path, err)
	}
	if len(ifds) == 0 {
		munmapFile(data)
		f.Close()
		h.errWord = h.errWord.Set(errword.BlockReadError)
		return fmt.Errorf("%s: no IFDs found", h.path)
	}
	first := &ifds[0]
	if first.TileWidth == 0 || first.TileHeight == 0 {
		munmapFile(data)
		f.Close()
		h.errWord = h.errWord.Set(errword.BlockReadError)
		return fmt.Errorf("%s: not a tiled TIFF", h.path)
	}

	h.data = data
	h.fd = f
	h.bo = bo
	h.ifds = ifds
	h.geo = parseGeoInfo(first)
	return nil
}

// Close releases the memory mapping and file descriptor.
func (h *Handle) Close() error {
	var err error
	if h.data != nil {
		err = munmapFile(h.data)
		h.data = nil
	}
	if h.fd != nil {
		h.fd.Close()
		h.fd = nil
	}
	return err
}

// GeoInfo returns the parsed georeferencing metadata. Opens the dataset
// if not already open.
func (h *Handle) GeoInfo() (GeoInfo, error) {
	if err := h.ensureOpen(); err != nil {
		return GeoInfo{}, err
	}
	return h.geo, nil
}

// Error returns the handle's accumulated error word and clears it,
// matching the spec's "read and clear" contract.
func (h *Handle) Error() errword.Word {
	w := h.errWord
	h.errWord = errword.NoErrors
	return w
}

// SamplePixel reads the decoded band-0 value at whole pixel (col, row),
// bypassing worldToPixel entirely. Callers that must index a dataset with
// a non-standard row convention — the Water RI Mask's bottom-up rows, per
// spec §4.7 step 2 — compute their own (col, row) and use this instead of
// Sample, which always assumes the unflipped world-to-pixel convention.
func (h *Handle) SamplePixel(col, row int) (*Sample, error) {
	if err := h.ensureOpen(); err != nil {
		return nil, err
	}
	v, err := h.readRawPixel(0, col, row)
	if err != nil {
		h.errWord = h.errWord.Set(errword.BlockReadError)
		return nil, err
	}
	if math.IsNaN(v) {
		h.errWord = h.errWord.Set(errword.NoDataError)
		return nil, nil
	}
	return &Sample{Value: v, Band: h.opts.Band}, nil
}

// worldToPixel converts a CRS coordinate to fractional pixel space using
// the inverse geotransform: row and column both increase in the same
// direction as the CRS axes, matching the origin/cell-size convention
// used throughout this package (row-flipped datasets, like the Water RI
// Mask, apply their own explicit row formula on top of raw pixel access
// instead of going through this generic transform — see internal/refraction).
func (h *Handle) worldToPixel(x, y float64) (px, py float64) {
	px = (x - h.geo.OriginX) / h.geo.PixelSizeX
	py = (y - h.geo.OriginY) / h.geo.PixelSizeY
	return
}

func (h *Handle) inBounds(px, py float64) bool {
	w := float64(h.ifds[0].Width)
	ht := float64(h.ifds[0].Height)
	return px >= 0 && px < w && py >= 0 && py < ht
}

// Sample reads the pixel value at point, transforming through the
// handle's CRS transform if configured, and applying the configured
// resampling kernel. Returns nil if the point lies outside the raster's
// bounding box.
func (h *Handle) Sample(point Point) (*Sample, error) {
	if err := h.ensureOpen(); err != nil {
		return nil, err
	}

	x, y := point.X, point.Y
	if h.opts.CRSTransform != nil {
		var err error
		x, y, err = h.opts.CRSTransform.ToRasterCRS(point.X, point.Y)
		if err != nil {
			h.errWord = h.errWord.Set(errword.CRSTransformError)
			return nil, fmt.Errorf("transforming point: %w", err)
		}
	}

	px, py := h.worldToPixel(x, y)
	if !h.inBounds(px, py) {
		return nil, nil
	}

	v, err := h.readWithRetry(px, py)
	if err != nil {
		h.errWord = h.errWord.Set(errword.BlockReadError)
		return nil, err
	}
	if math.IsNaN(v) {
		h.errWord = h.errWord.Set(errword.NoDataError)
		return nil, nil
	}

	return &Sample{Value: v, Band: h.opts.Band}, nil
}

// readWithRetry reads the resampled value at fractional pixel (px,py),
// retrying once on a transient read failure per §4.1.
func (h *Handle) readWithRetry(px, py float64) (float64, error) {
	v, err := h.resample(px, py)
	if err != nil {
		v, err = h.resample(px, py)
	}
	return v, err
}

func (h *Handle) resample(px, py float64) (float64, error) {
	if h.opts.Kernel == Nearest {
		return h.readPixelNearest(px, py)
	}
	return h.readKernel(px, py)
}

// readPixelNearest reads the value of the nearest whole pixel — the fast
// block-reference path (§4.1).
func (h *Handle) readPixelNearest(px, py float64) (float64, error) {
	x := int(math.Floor(px))
	y := int(math.Floor(py))
	return h.readRawPixel(0, x, y)
}

// readKernel reads an N×N window around (px,py) and applies the configured
// kernel. The radius is given in meters and rounded up to whole cells; if
// the window would cross the raster boundary, falls back to nearest-
// neighbor at the central pixel, per §4.1.
func (h *Handle) readKernel(px, py float64) (float64, error) {
	cellSize := h.geo.PixelSizeX
	if cellSize <= 0 {
		cellSize = 1
	}
	radiusCells := int(math.Ceil(h.opts.RadiusMeters / cellSize))
	if radiusCells < 1 {
		radiusCells = 1
	}

	cx := int(math.Floor(px))
	cy := int(math.Floor(py))
	window := 2*radiusCells + 1

	w := int(h.ifds[0].Width)
	ht := int(h.ifds[0].Height)
	if cx-radiusCells < 0 || cy-radiusCells < 0 || cx+radiusCells >= w || cy+radiusCells >= ht {
		return h.readRawPixel(0, cx, cy)
	}

	values := make([]float64, 0, window*window)
	for dy := -radiusCells; dy <= radiusCells; dy++ {
		for dx := -radiusCells; dx <= radiusCells; dx++ {
			v, err := h.readRawPixel(0, cx+dx, cy+dy)
			if err != nil {
				return 0, err
			}
			values = append(values, v)
		}
	}

	fx := px - float64(cx)
	fy := py - float64(cy)
	return applyKernel(h.opts.Kernel, values, window, radiusCells, fx, fy), nil
}

// Subset reads the pixel rectangle overlapping polygon's bounding box.
// Returns nil on empty intersection with the raster's extent.
func (h *Handle) Subset(poly Polygon) (*Subset, error) {
	if err := h.ensureOpen(); err != nil {
		return nil, err
	}

	minX, minY, maxX, maxY := poly.Bounds()
	if h.opts.CRSTransform != nil {
		var err error
		minX, minY, err = h.opts.CRSTransform.ToRasterCRS(minX, minY)
		if err != nil {
			h.errWord = h.errWord.Set(errword.CRSTransformError)
			return nil, fmt.Errorf("transforming bounds: %w", err)
		}
		maxX, maxY, err = h.opts.CRSTransform.ToRasterCRS(maxX, maxY)
		if err != nil {
			h.errWord = h.errWord.Set(errword.CRSTransformError)
			return nil, fmt.Errorf("transforming bounds: %w", err)
		}
	}

	pxA, pyA := h.worldToPixel(minX, minY)
	pxB, pyB := h.worldToPixel(maxX, maxY)

	x0 := clampInt(int(math.Floor(math.Min(pxA, pxB))), 0, int(h.ifds[0].Width)-1)
	y0 := clampInt(int(math.Floor(math.Min(pyA, pyB))), 0, int(h.ifds[0].Height)-1)
	x1 := clampInt(int(math.Ceil(math.Max(pxA, pxB))), 0, int(h.ifds[0].Width)-1)
	y1 := clampInt(int(math.Ceil(math.Max(pyA, pyB))), 0, int(h.ifds[0].Height)-1)

	if x1 < x0 || y1 < y0 {
		return nil, nil
	}

	width := x1 - x0 + 1
	height := y1 - y0 + 1
	values := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v, err := h.readRawPixel(0, x0+x, y0+y)
			if err != nil {
				h.errWord = h.errWord.Set(errword.BlockReadError)
				return nil, err
			}
			values[y*width+x] = v
		}
	}

	return &Subset{
		MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY,
		Width: width, Height: height, Values: values,
	}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
