package handlecache

import (
	"testing"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/rasterio"
)

func testHandle(path string) *rasterio.Handle {
	return rasterio.NewHandle(path, rasterio.Options{})
}

func TestEnable_CreatesNewEntry(t *testing.T) {
	c := New(4, testHandle)
	e := c.Enable("a.tif")
	if e == nil || !e.Enabled {
		t.Fatalf("expected a new enabled entry")
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
}

func TestEnable_ReusesExistingEntry(t *testing.T) {
	c := New(4, testHandle)
	first := c.Enable("a.tif")
	c.DisableAll()
	second := c.Enable("a.tif")
	if second != first {
		t.Fatalf("expected Enable to return the same entry for an already-cached path")
	}
	if !second.Enabled {
		t.Fatalf("expected re-Enable to flip Enabled back to true")
	}
}

func TestDisableAll_ClearsEveryEntry(t *testing.T) {
	c := New(4, testHandle)
	c.Enable("a.tif")
	c.Enable("b.tif")
	c.DisableAll()
	if c.EnabledCount() != 0 {
		t.Fatalf("expected 0 enabled entries after DisableAll, got %d", c.EnabledCount())
	}
}

func TestEnabled_ReturnsOnlyEnabledEntries(t *testing.T) {
	c := New(4, testHandle)
	c.Enable("a.tif")
	c.Enable("b.tif")
	c.DisableAll()
	c.Enable("a.tif")

	enabled := c.Enabled()
	if len(enabled) != 1 {
		t.Fatalf("expected 1 enabled entry, got %d", len(enabled))
	}
	if _, ok := enabled["a.tif"]; !ok {
		t.Fatalf("expected a.tif to be the enabled entry")
	}
}

func TestEvictDisabled_NoOpUnderMaxSize(t *testing.T) {
	c := New(4, testHandle)
	c.Enable("a.tif")
	c.Enable("b.tif")
	c.DisableAll()
	c.EvictDisabled()
	if c.Len() != 2 {
		t.Fatalf("expected EvictDisabled to be a no-op under maxSize, got len=%d", c.Len())
	}
}

func TestEvictDisabled_RemovesDisabledEntriesOverMaxSize(t *testing.T) {
	c := New(2, testHandle)
	c.Enable("a.tif")
	c.Enable("b.tif")
	c.DisableAll()
	c.Enable("b.tif") // b stays enabled, a stays disabled
	c.Enable("c.tif") // pushes total cached entries to 3, over maxSize=2

	c.EvictDisabled()

	if c.Len() != 2 {
		t.Fatalf("expected disabled entries evicted down to maxSize, got len=%d", c.Len())
	}
	enabled := c.Enabled()
	if _, ok := enabled["a.tif"]; ok {
		t.Fatalf("expected a.tif (disabled) to have been evicted")
	}
	if _, ok := enabled["b.tif"]; !ok {
		t.Fatalf("expected b.tif (enabled) to survive eviction")
	}
}

func TestClose_PurgesEveryEntry(t *testing.T) {
	c := New(4, testHandle)
	c.Enable("a.tif")
	c.Enable("b.tif")
	c.Close()
	if c.Len() != 0 {
		t.Fatalf("expected Close to purge all entries, got len=%d", c.Len())
	}
}
