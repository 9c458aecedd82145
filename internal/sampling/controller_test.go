package sampling

import (
	"testing"
	"time"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/handlecache"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rastergroup"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/rasterio"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c := New(nil, func(path string) *rasterio.Handle {
		return rasterio.NewHandle(path, rasterio.Options{})
	})
	t.Cleanup(c.Close)
	return c
}

func TestApplyClosestTime_TiesRetained(t *testing.T) {
	o := rastergroup.NewOrdering()
	o.Add("a", rastergroup.Group{ID: "a", GPSTime: 900})
	o.Add("b", rastergroup.Group{ID: "b", GPSTime: 1100})
	o.Add("c", rastergroup.Group{ID: "c", GPSTime: 1100})

	applyClosestTime(o, 1000)

	if o.Len() != 3 {
		t.Fatalf("expected all three groups retained (gps=900 and gps=1100 tie at delta 100), got %d", o.Len())
	}
	for _, g := range o.Groups() {
		if g.GPSTime != 900 && g.GPSTime != 1100 {
			t.Fatalf("unexpected surviving group gps=%v", g.GPSTime)
		}
	}
}

func TestApplyClosestTime_SingleMinimum(t *testing.T) {
	o := rastergroup.NewOrdering()
	o.Add("a", rastergroup.Group{ID: "a", GPSTime: 500})
	o.Add("b", rastergroup.Group{ID: "b", GPSTime: 950})

	applyClosestTime(o, 1000)

	if o.Len() != 1 {
		t.Fatalf("expected single closest group, got %d", o.Len())
	}
	if g, _ := o.Get("b"); g.GPSTime != 950 {
		t.Fatalf("expected gps=950 group retained")
	}
}

func TestFilters_URLSubstringEmptyIsDisabled(t *testing.T) {
	c := newTestController(t)
	c.SetFilters(Filters{URLSubstring: ""})

	o := rastergroup.NewOrdering()
	o.Add("a", rastergroup.Group{ID: "a", Descriptors: []rastergroup.Descriptor{
		{Path: "/t/anything.tif", Tag: rastergroup.TagValue},
	}})

	c.applyFilters(o, nil)

	if o.Len() != 1 {
		t.Fatalf("empty URL substring must not filter anything, got len=%d", o.Len())
	}
}

func TestFilters_URLSubstringRemovesNonMatching(t *testing.T) {
	c := newTestController(t)
	c.SetFilters(Filters{URLSubstring: "keep"})

	o := rastergroup.NewOrdering()
	o.Add("a", rastergroup.Group{ID: "a", Descriptors: []rastergroup.Descriptor{
		{Path: "/t/keep_dem.tif", Tag: rastergroup.TagValue},
	}})
	o.Add("b", rastergroup.Group{ID: "b", Descriptors: []rastergroup.Descriptor{
		{Path: "/t/drop_dem.tif", Tag: rastergroup.TagValue},
	}})

	c.applyFilters(o, nil)

	if o.Len() != 1 {
		t.Fatalf("expected only the matching group to survive, got %d", o.Len())
	}
	if _, ok := o.Get("a"); !ok {
		t.Fatalf("expected group a to survive")
	}
}

func TestFilters_DayOfYear(t *testing.T) {
	c := newTestController(t)
	c.SetFilters(Filters{UseDayOfYear: true, DOYStart: 60, DOYEnd: 90, KeepInRange: true})

	o := rastergroup.NewOrdering()
	o.Add("in", rastergroup.Group{ID: "in", GMTDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)})
	o.Add("out", rastergroup.Group{ID: "out", GMTDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})

	c.applyFilters(o, nil)

	if o.Len() != 1 {
		t.Fatalf("expected exactly one in-range group, got %d", o.Len())
	}
	if _, ok := o.Get("in"); !ok {
		t.Fatalf("expected the march group to survive")
	}
}

func TestHarvest_AttachesFlagsAndReleasesSlot(t *testing.T) {
	c := newTestController(t)

	groups := []rastergroup.Group{
		{
			ID:      "g1",
			GPSTime: 42,
			Descriptors: []rastergroup.Descriptor{
				{Path: "/t/value.tif", Tag: rastergroup.TagValue},
				{Path: "/t/flags.tif", Tag: rastergroup.TagFlags},
			},
		},
	}

	valueEntry := &handlecache.Entry{LastSample: &rasterio.Sample{Value: 123.0}}
	flagsEntry := &handlecache.Entry{LastSample: &rasterio.Sample{Value: 7}}
	enabled := map[string]*handlecache.Entry{
		"/t/value.tif": valueEntry,
		"/t/flags.tif": flagsEntry,
	}

	out := c.harvest(groups, enabled)

	if len(out) != 1 {
		t.Fatalf("expected one harvested sample, got %d", len(out))
	}
	if out[0].Value != 123.0 || out[0].Flags != 7 || out[0].GPSTime != 42 {
		t.Fatalf("unexpected harvested sample: %+v", out[0])
	}
	if valueEntry.LastSample != nil {
		t.Fatalf("expected value entry's sample slot to be released after harvest")
	}
}

func TestHarvest_SkipsGroupWithoutValue(t *testing.T) {
	c := newTestController(t)
	groups := []rastergroup.Group{
		{ID: "g1", Descriptors: []rastergroup.Descriptor{{Path: "/t/flags.tif", Tag: rastergroup.TagFlags}}},
	}
	enabled := map[string]*handlecache.Entry{
		"/t/flags.tif": {LastSample: &rasterio.Sample{Value: 1}},
	}

	out := c.harvest(groups, enabled)
	if len(out) != 0 {
		t.Fatalf("expected no output for a group without a VALUE descriptor, got %d", len(out))
	}
}
