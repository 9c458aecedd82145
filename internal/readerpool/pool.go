// Package readerpool implements the Reader Pool and the Batch Reader Pool.
//
// The Reader Pool is elastic: the controller spawns one worker per enabled
// Handle Cache entry, up to MAX_READER_THREADS, and tears the batch of
// workers down once every entry has been read (spec §4.5). The Batch
// Reader Pool instead assigns one long-lived-per-request thread to each
// Unique Raster and iterates that raster's whole point list in a single
// pass (spec §4.6). Both share the same dispatch/WaitGroup idiom used by
// internal/finderpool, adapted from internal/tile/generator.go's worker
// pool.
package readerpool

import (
	"sync"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/errword"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/handlecache"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rasterio"
)

// MaxReaderThreads is MAX_READER_THREADS ≈ 200 from spec §5.
const MaxReaderThreads = 200

// Request describes one point or AOI read against a single cache entry.
type Request struct {
	Path  string
	Entry *handlecache.Entry
	Point *rasterio.Point   // set for point requests
	AOI   *rasterio.Polygon // set for subset requests
}

// Dispatch runs one request per entry in requests concurrently, one OS
// goroutine per request, and blocks until every one has stored its result
// in the entry's LastSample/LastSubset slot. It returns ThreadsLimitError
// if len(requests) exceeds MaxReaderThreads, per spec §4.5: "If the number
// of enabled entries exceeds MAX_READER_THREADS, set THREADS_LIMIT_ERROR
// and abort the request."
func Dispatch(requests []Request) errword.Word {
	if len(requests) > MaxReaderThreads {
		return errword.NoErrors.Set(errword.ThreadsLimitError)
	}

	var wg sync.WaitGroup
	wg.Add(len(requests))
	for i := range requests {
		req := requests[i]
		go func() {
			defer wg.Done()
			readOne(req)
		}()
	}
	wg.Wait()
	return errword.NoErrors
}

func readOne(req Request) {
	h := req.Entry.Handle
	switch {
	case req.Point != nil:
		sample, err := h.Sample(*req.Point)
		if err != nil {
			req.Entry.LastSample = &rasterio.Sample{Error: h.Error()}
			return
		}
		req.Entry.LastSample = sample
	case req.AOI != nil:
		subset, err := h.Subset(*req.AOI)
		if err != nil {
			req.Entry.LastSubset = nil
			return
		}
		req.Entry.LastSubset = subset
	}
}

// UniqueRaster is one physical raster referenced by one or more points
// within a single batch request, plus the points assigned to it (spec
// §4.6's "Unique Raster" data model).
type UniqueRaster struct {
	Path      string
	Handle    *rasterio.Handle
	Points    []rasterio.Point
	Results   []rasterio.Sample
	ErrorWord errword.Word
}

// BatchPool runs the Batch Reader Pool: up to MaxReaderThreads worker
// threads, each assigned one Unique Raster at a time, each opening its
// raster once and iterating its whole point list in a single pass. Unique
// Rasters are processed in batches of at most threadCount, signaling and
// awaiting completion per batch (spec §4.6 step 4).
type BatchPool struct {
	threadCount int
}

// NewBatchPool returns a Batch Reader Pool sized to threadCount workers
// (capped at MaxReaderThreads; a non-positive threadCount means
// MaxReaderThreads).
func NewBatchPool(threadCount int) *BatchPool {
	if threadCount <= 0 {
		threadCount = MaxReaderThreads
	}
	if threadCount > MaxReaderThreads {
		threadCount = MaxReaderThreads
	}
	return &BatchPool{threadCount: threadCount}
}

// Run processes every Unique Raster in rasters, batch by batch, calling
// active between batches to support cancellation: if active returns false
// at a batch boundary, Run stops and the remaining rasters are left
// unprocessed (spec §5's "the controller checks [the active flag] at each
// batch boundary").
func (bp *BatchPool) Run(rasters []*UniqueRaster, active func() bool) {
	for start := 0; start < len(rasters); start += bp.threadCount {
		if active != nil && !active() {
			return
		}
		end := start + bp.threadCount
		if end > len(rasters) {
			end = len(rasters)
		}
		bp.runBatch(rasters[start:end])
	}
}

func (bp *BatchPool) runBatch(batch []*UniqueRaster) {
	var wg sync.WaitGroup
	wg.Add(len(batch))
	for i := range batch {
		ur := batch[i]
		go func() {
			defer wg.Done()
			bp.readAll(ur)
		}()
	}
	wg.Wait()
}

// readAll samples every point assigned to ur against ur.Handle in a single
// pass, opening the handle lazily on the first call. The caller (see
// sampling.Controller.buildUniqueRasters) gives each Unique Raster its own
// private Handle rather than one shared through the Handle Cache, which is
// this module's reading of spec §4.6 step 3's "disable the per-dataset
// block cache in batch reader threads."
func (bp *BatchPool) readAll(ur *UniqueRaster) {
	ur.Results = make([]rasterio.Sample, len(ur.Points))
	for i, pt := range ur.Points {
		sample, err := ur.Handle.Sample(pt)
		if err != nil || sample == nil {
			ur.Results[i] = rasterio.Sample{Error: ur.Handle.Error()}
			continue
		}
		// Copy per spec §4.6 step 5: a Unique Raster may be referenced by
		// several points, and each output list owns its own sample.
		ur.Results[i] = *sample
	}
	ur.ErrorWord = ur.Handle.Error()
}
