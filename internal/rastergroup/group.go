// Package rastergroup implements the Raster Group data model and the
// Raster Group Ordering: an insertion-order mapping from group key to
// raster group, grounded on internal/cog/tilecache.go's map+order-slice
// idiom.
package rastergroup

import "time"

// Tag identifies the role of a Raster Descriptor within a group. Spec §9
// flags the source's bare string comparison ("Value"/"Fmask") as a smell;
// this enum is the fix.
type Tag int

const (
	TagUnknown Tag = iota
	TagValue
	TagFlags
)

func (t Tag) String() string {
	switch t {
	case TagValue:
		return "VALUE"
	case TagFlags:
		return "FLAGS"
	default:
		return "UNKNOWN"
	}
}

// Descriptor is a Raster Descriptor: a single raster's path and role
// within a group.
type Descriptor struct {
	Path        string
	Tag         Tag
	IsElevation bool
}

// Group is a Raster Group: a set of descriptors sharing a timestamp.
// Invariant: at most one VALUE and one FLAGS descriptor are used by the
// generic sampler; additional tags may be present but are dataset-specific
// and ignored here.
type Group struct {
	ID          string
	Descriptors []Descriptor
	GMTDate     time.Time
	GPSTime     float64
}

// Value returns the group's VALUE descriptor, or nil if absent.
func (g Group) Value() *Descriptor {
	return g.byTag(TagValue)
}

// Flags returns the group's FLAGS descriptor, or nil if absent.
func (g Group) Flags() *Descriptor {
	return g.byTag(TagFlags)
}

func (g Group) byTag(tag Tag) *Descriptor {
	for i := range g.Descriptors {
		if g.Descriptors[i].Tag == tag {
			return &g.Descriptors[i]
		}
	}
	return nil
}

// Ordering is the Raster Group Ordering: an insertion-order map from
// group-id to Group, supporting key-based removal without disturbing the
// iteration order of the remaining entries.
type Ordering struct {
	groups map[string]Group
	order  []string
}

// NewOrdering returns an empty Ordering.
func NewOrdering() *Ordering {
	return &Ordering{groups: make(map[string]Group)}
}

// Add inserts or replaces the group under key, appending to the insertion
// order only if the key is new.
func (o *Ordering) Add(key string, g Group) {
	if _, exists := o.groups[key]; !exists {
		o.order = append(o.order, key)
	}
	o.groups[key] = g
}

// Remove deletes the group for key, if present.
func (o *Ordering) Remove(key string) {
	if _, ok := o.groups[key]; !ok {
		return
	}
	delete(o.groups, key)
	for i, k := range o.order {
		if k == key {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of groups currently held.
func (o *Ordering) Len() int { return len(o.order) }

// Get returns the group for key and whether it was present.
func (o *Ordering) Get(key string) (Group, bool) {
	g, ok := o.groups[key]
	return g, ok
}

// Each calls fn for every group in insertion order. fn returning false
// stops the iteration early.
func (o *Ordering) Each(fn func(key string, g Group) bool) {
	for _, k := range o.order {
		g := o.groups[k]
		if !fn(k, g) {
			return
		}
	}
}

// Groups returns a snapshot slice of groups in insertion order.
func (o *Ordering) Groups() []Group {
	out := make([]Group, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, o.groups[k])
	}
	return out
}

// Filter removes every group for which keep returns false, preserving the
// relative order of the groups that remain. Used by the post-filter chain
// (URL-substring, day-of-year, closest-time) in spec §4.4.
func (o *Ordering) Filter(keep func(g Group) bool) {
	next := o.order[:0]
	for _, k := range o.order {
		g := o.groups[k]
		if keep(g) {
			next = append(next, k)
		} else {
			delete(o.groups, k)
		}
	}
	o.order = next
}

// Merge appends another Ordering's groups after this one's, in partition
// order — used by the Finder Pool to combine per-thread buffers (spec
// §4.3: "the controller merges per-thread buffers into one Group Ordering
// in partition order").
func Merge(partitions []*Ordering) *Ordering {
	merged := NewOrdering()
	for _, p := range partitions {
		if p == nil {
			continue
		}
		p.Each(func(key string, g Group) bool {
			merged.Add(key, g)
			return true
		})
	}
	return merged
}
