package finderpool

import (
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/vectorindex"
)

func TestDispatch_PartitionsAndMerges(t *testing.T) {
	p := New(4)
	defer p.Shutdown()

	query := orb.Point{0.5, 0.5}
	features := make([]vectorindex.Feature, 0, 10)
	for i := 0; i < 10; i++ {
		// Half the features contain the query point, half don't.
		var geom orb.Polygon
		if i%2 == 0 {
			geom = orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
		} else {
			geom = orb.Polygon{orb.Ring{{10, 10}, {11, 10}, {11, 11}, {10, 11}, {10, 10}}}
		}
		features = append(features, vectorindex.Feature{
			Geometry:  geom,
			Bound:     geom.Bound(),
			ValuePath: "raster.tif",
			GMTDate:   time.Unix(0, 0),
		})
	}

	ordering := p.Dispatch(features, query)
	if ordering.Len() == 0 {
		t.Fatalf("expected at least one matching group")
	}
	for _, g := range ordering.Groups() {
		if len(g.Descriptors) == 0 {
			t.Fatalf("expected a group with descriptors")
		}
	}
}

func TestDispatch_EmptyFeatures(t *testing.T) {
	p := New(2)
	defer p.Shutdown()

	ordering := p.Dispatch(nil, orb.Point{0, 0})
	if ordering.Len() != 0 {
		t.Fatalf("expected empty ordering for no features, got %d", ordering.Len())
	}
}

func TestDispatch_ManySmallDispatchesReuseWorkers(t *testing.T) {
	p := New(2)
	defer p.Shutdown()

	features := []vectorindex.Feature{
		{
			Geometry:  orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
			ValuePath: "a.tif",
		},
	}
	for i := 0; i < 20; i++ {
		ordering := p.Dispatch(features, orb.Point{0.5, 0.5})
		if ordering.Len() != 1 {
			t.Fatalf("dispatch %d: expected 1 group, got %d", i, ordering.Len())
		}
	}
}

func TestShutdown_JoinsAllWorkers(t *testing.T) {
	p := New(2)
	p.Shutdown()
}
