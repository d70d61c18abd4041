package gocam

import "sync"

// defaultMaxCacheSize is the pool's default slot ceiling, per §4.1.
const defaultMaxCacheSize = 15

// frameSlot is one reusable backing slot: an Allocator plus the bookkeeping
// needed to return it to the free list on last-release. Allocation of the
// slot's buffer is lazy -- a slot is created with an un-sized Allocator and
// only grown by a conversion or copy path that actually needs owned memory,
// per §4.1's "contract" paragraph. This mirrors go4vl's sync.Pool-backed
// FramePool (_examples/other_examples, device/frame_pool.go), adapted here
// to hold Allocators rather than raw []byte so zero-copy frames never touch
// it.
type frameSlot struct {
	id        int
	allocator Allocator
}

// FramePool hands out and recycles Frame backing slots. It never blocks: a
// request for a frame when all slots are outstanding returns nil and the
// caller drops the sample.
type FramePool struct {
	mu sync.Mutex

	log Logger

	maxCache int
	nextID   int
	total    int // slots created so far (free + outstanding)
	free     []*frameSlot

	allocatorFactory func() Allocator

	gets, puts, allocs, starved int64
}

// NewFramePool returns a FramePool with the default maximum cache size (15).
// allocatorFactory builds a fresh Allocator for each new slot; pass nil to
// use NewSliceAllocator.
func NewFramePool(log Logger, allocatorFactory func() Allocator) *FramePool {
	if allocatorFactory == nil {
		allocatorFactory = NewSliceAllocator
	}
	if log == nil {
		log = noopLogger{}
	}
	return &FramePool{
		log:              log,
		maxCache:         defaultMaxCacheSize,
		allocatorFactory: allocatorFactory,
	}
}

// SetMaxCacheSize sets the monotonic upper bound on total slots. Reducing it
// below the number of slots currently outstanding does not forcibly reclaim
// them; the excess shrinks only as frames are released, per §4.1.
func (p *FramePool) SetMaxCacheSize(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.maxCache = n
	p.mu.Unlock()
}

// acquire returns a free slot, or nil if every slot is outstanding. It never
// blocks: the capture path is expected to drop the sample and log a warning
// on starvation.
func (p *FramePool) acquire() *frameSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gets++

	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		return s
	}

	if p.total >= p.maxCache {
		p.starved++
		p.log.Warn("frame pool exhausted, dropping sample", "maxCache", p.maxCache)
		return nil
	}

	p.total++
	p.nextID++
	p.allocs++
	return &frameSlot{id: p.nextID, allocator: p.allocatorFactory()}
}

// release returns slot to the free list, unless the pool has shrunk below
// the current total slot count, in which case the slot is dropped instead
// (the "excess shrinks" half of SetMaxCacheSize's contract).
func (p *FramePool) release(s *frameSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.puts++

	if p.total > p.maxCache {
		p.total--
		return
	}
	p.free = append(p.free, s)
}

// PoolStats reports cumulative FramePool usage, an additive diagnostic
// beyond spec.md grounded on go4vl's FramePool.Stats() (_examples/other_examples).
type PoolStats struct {
	Gets, Puts, Allocs, Starved int64
	FreeCount, Outstanding      int
}

// Stats returns a snapshot of pool usage counters.
func (p *FramePool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Gets:        p.gets,
		Puts:        p.puts,
		Allocs:      p.allocs,
		Starved:     p.starved,
		FreeCount:   len(p.free),
		Outstanding: p.total - len(p.free),
	}
}
