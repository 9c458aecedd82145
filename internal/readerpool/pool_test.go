package readerpool

import (
	"testing"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/errword"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/handlecache"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rasterio"
)

func missingHandle() *rasterio.Handle {
	return rasterio.NewHandle("/no/such/raster.tif", rasterio.Options{})
}

func TestDispatch_ThreadsLimitError(t *testing.T) {
	requests := make([]Request, MaxReaderThreads+1)
	for i := range requests {
		pt := rasterio.Point{}
		requests[i] = Request{
			Path:  "raster.tif",
			Entry: &handlecache.Entry{Handle: missingHandle()},
			Point: &pt,
		}
	}

	word := Dispatch(requests)
	if !word.Has(errword.ThreadsLimitError) {
		t.Fatalf("expected ThreadsLimitError for %d requests", len(requests))
	}
}

func TestDispatch_PointRequestStoresErrorOnMissingFile(t *testing.T) {
	entry := &handlecache.Entry{Handle: missingHandle()}
	pt := rasterio.Point{X: 1, Y: 1}

	word := Dispatch([]Request{{Path: "raster.tif", Entry: entry, Point: &pt}})
	if !word.IsClean() {
		t.Fatalf("Dispatch itself should report no errors for a single request, got %v", word)
	}
	if entry.LastSample == nil {
		t.Fatalf("expected a LastSample to be stored even on read failure")
	}
	if entry.LastSample.Error == 0 {
		t.Fatalf("expected a non-zero error word on the stored sample")
	}
}

func TestDispatch_AOIRequestLeavesSubsetNilOnFailure(t *testing.T) {
	entry := &handlecache.Entry{Handle: missingHandle()}
	aoi := rasterio.Polygon{}

	Dispatch([]Request{{Path: "raster.tif", Entry: entry, AOI: &aoi}})
	if entry.LastSubset != nil {
		t.Fatalf("expected no subset stored on read failure")
	}
}

func TestBatchPool_RunRespectsActiveFlag(t *testing.T) {
	bp := NewBatchPool(1)

	rasters := []*UniqueRaster{
		{Path: "a.tif", Handle: missingHandle(), Points: []rasterio.Point{{}}},
		{Path: "b.tif", Handle: missingHandle(), Points: []rasterio.Point{{}}},
		{Path: "c.tif", Handle: missingHandle(), Points: []rasterio.Point{{}}},
	}

	seen := 0
	active := func() bool {
		seen++
		return seen <= 1 // allow exactly one batch through
	}

	bp.Run(rasters, active)

	if rasters[0].Results == nil {
		t.Fatalf("expected the first batch to have run")
	}
	if rasters[2].Results != nil {
		t.Fatalf("expected the third raster to be left unprocessed after cancellation")
	}
}

func TestBatchPool_ReadAllStoresPerPointErrors(t *testing.T) {
	bp := NewBatchPool(4)
	ur := &UniqueRaster{
		Path:   "missing.tif",
		Handle: missingHandle(),
		Points: []rasterio.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
	}

	bp.Run([]*UniqueRaster{ur}, nil)

	if len(ur.Results) != 2 {
		t.Fatalf("expected one result per point, got %d", len(ur.Results))
	}
	for i, r := range ur.Results {
		if r.Error == 0 {
			t.Fatalf("result %d: expected a non-zero error word for a missing file", i)
		}
	}
}
