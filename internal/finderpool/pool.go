// Package finderpool implements the Finder Pool: a fixed-size pool of
// long-lived worker threads that partition the feature list and test each
// feature against an input geometry, producing candidate raster groups.
//
// Grounded on internal/tile/generator.go's channel/WaitGroup worker pool,
// adapted per spec §4.3/§9: finder threads must be long-lived and sleep on
// a condition variable between requests rather than being spawned per
// call, and are joined exactly once at pool Shutdown.
package finderpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/rastergroup"
	"github.com/icesat2-dataflow/raster-sampling-core/internal/vectorindex"
)

// DefaultThreads is F from spec §5 (MAX_FINDER_THREADS ≈ 8).
const DefaultThreads = 8

// MinFeaturesPerThread is MIN_FEATURES_PER_FINDER_THREAD ≈ 1000 from spec §5.
const MinFeaturesPerThread = 1000

// SysTimeout bounds every finder thread's condition wait. sync.Cond has no
// native timeout, so a ticker goroutine periodically broadcasts every
// worker's condition variable, waking it to re-check job/shutdown state even
// if Dispatch or Shutdown never signal it. Grounded on the teacher's
// internal/tile (progress bar) ticker-goroutine pattern for periodic
// wakeups. This is a defensive bound, not a deadline: a spurious wakeup with
// no job pending just loops back to Wait.
const SysTimeout = 30 * time.Second

type job struct {
	features []vectorindex.Feature
	query    orb.Geometry
	result   *rastergroup.Ordering
	wg       *sync.WaitGroup
}

type workerThread struct {
	mu       sync.Mutex
	cond     *sync.Cond
	job      *job
	shutdown bool
}

// Pool is the Finder Pool.
type Pool struct {
	threads      []*workerThread
	joinWG       sync.WaitGroup
	watchdogDone chan struct{}
}

// New starts n long-lived finder threads (n defaults to DefaultThreads).
func New(n int) *Pool {
	if n <= 0 {
		n = DefaultThreads
	}
	p := &Pool{threads: make([]*workerThread, n), watchdogDone: make(chan struct{})}
	for i := range p.threads {
		w := &workerThread{}
		w.cond = sync.NewCond(&w.mu)
		p.threads[i] = w
		p.joinWG.Add(1)
		go p.run(w)
	}
	go p.watchdog()
	return p
}

// watchdog periodically broadcasts every worker's condition variable so no
// finder thread can wait longer than SysTimeout between checks of its job
// and shutdown state.
func (p *Pool) watchdog() {
	ticker := time.NewTicker(SysTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.watchdogDone:
			return
		case <-ticker.C:
			for _, w := range p.threads {
				w.mu.Lock()
				w.cond.Broadcast()
				w.mu.Unlock()
			}
		}
	}
}

func (p *Pool) run(w *workerThread) {
	defer p.joinWG.Done()
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		for w.job == nil && !w.shutdown {
			w.cond.Wait()
		}
		if w.job == nil && w.shutdown {
			return
		}
		j := w.job
		w.job = nil
		w.mu.Unlock()

		j.result = buildGroups(j.features, j.query)
		j.wg.Done()

		w.mu.Lock()
	}
}

// Dispatch range-partitions features across min(len(threads), ceil(len(features)/MinFeaturesPerThread))
// finder threads, each of which tests its range against query and builds
// raster groups into a private buffer; the results are merged back in
// partition order (spec §4.3).
func (p *Pool) Dispatch(features []vectorindex.Feature, query orb.Geometry) *rastergroup.Ordering {
	if len(features) == 0 {
		return rastergroup.NewOrdering()
	}

	n := len(p.threads)
	if want := (len(features) + MinFeaturesPerThread - 1) / MinFeaturesPerThread; want < n {
		n = want
	}
	if n < 1 {
		n = 1
	}

	chunkSize := (len(features) + n - 1) / n
	partitions := make([]*rastergroup.Ordering, 0, n)
	var wg sync.WaitGroup

	jobs := make([]*job, 0, n)
	for i := 0; i < n; i++ {
		start := i * chunkSize
		if start >= len(features) {
			break
		}
		end := start + chunkSize
		if end > len(features) {
			end = len(features)
		}

		wg.Add(1)
		j := &job{features: features[start:end], query: query, wg: &wg}
		jobs = append(jobs, j)

		w := p.threads[i]
		w.mu.Lock()
		w.job = j
		w.cond.Signal()
		w.mu.Unlock()
	}

	wg.Wait()

	for _, j := range jobs {
		partitions = append(partitions, j.result)
	}
	return rastergroup.Merge(partitions)
}

// buildGroups is a single finder thread's unit of work: test every feature
// in its partition against query and, for every match, construct a Raster
// Group into the thread's private Ordering.
func buildGroups(features []vectorindex.Feature, query orb.Geometry) *rastergroup.Ordering {
	out := rastergroup.NewOrdering()
	for _, f := range features {
		if !vectorindex.Intersects(f.Geometry, query) {
			continue
		}
		descriptors := f.ToDescriptors()
		if len(descriptors) == 0 {
			continue
		}
		key := groupKey(descriptors)
		out.Add(key, rastergroup.Group{
			ID:          key,
			Descriptors: descriptors,
			GMTDate:     f.GMTDate,
			GPSTime:     f.GPSTime,
		})
	}
	return out
}

func groupKey(descriptors []rastergroup.Descriptor) string {
	if len(descriptors) == 1 {
		return descriptors[0].Path
	}
	key := ""
	for i, d := range descriptors {
		if i > 0 {
			key += "|"
		}
		key += fmt.Sprintf("%d:%s", d.Tag, d.Path)
	}
	return key
}

// Shutdown signals every finder thread to stop and joins them. Per spec
// §9, finder threads are joined exactly once at component teardown.
func (p *Pool) Shutdown() {
	close(p.watchdogDone)
	for _, w := range p.threads {
		w.mu.Lock()
		w.shutdown = true
		w.cond.Signal()
		w.mu.Unlock()
	}
	p.joinWG.Wait()
}
