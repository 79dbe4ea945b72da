// Package arena implements a fixed-capacity, mmap-backed bump allocator pool.
//
// A Pool is carved up front into a small number of same-sized arenas. Callers
// Alloc a Slice from whichever arena currently has room; once every Slice
// handed out of an arena has been released, the arena is silently reset and
// reused in place, so steady-state operation never touches the allocator
// again after startup. This is the allocation discipline the debarcode
// pipeline needs: one read pair's working memory should never cross a Go GC
// pause, and an arena should only be recycled once the last consumer of its
// bytes is done with them.
package arena

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"golang.org/x/sys/unix"
	"v.io/x/lib/vlog"
)

// parksBeforeWarn bounds how many times Pool.Alloc parks before it logs that
// no arena has become available; this is the caller's signal that consumers
// aren't releasing slices fast enough relative to allocation rate.
const parksBeforeWarn = 1000

// arena is one fixed-size region of the pool's backing buffer: the
// allocator-hot-path state (buf/off/avl) followed by the consumer-hot-path
// refcount. The fields are not padded apart, so avl and cnt can share a
// cache line.
type arena struct {
	buf []byte
	off uint64
	avl atomix.Bool

	cnt atomix.Int64
}

func newArena(buf []byte) *arena {
	a := &arena{buf: buf}
	a.avl.StoreRelaxed(true)
	return a
}

// available attempts to claim exclusive access to the arena and verifies it
// has room for a further len bytes, resetting the arena first if every prior
// Slice has been released. Returns false (without claiming anything) if the
// arena is already claimed, or if it has no room and can't be reset.
func (a *arena) available(length int) bool {
	if !a.avl.CompareAndSwapAcqRel(true, false) {
		return false
	}
	if a.remaining() >= length || a.tryReset() {
		return true
	}
	a.avl.StoreRelease(true)
	return false
}

// release gives up exclusive access claimed by available. Must be called by
// whoever last held the claim, whether or not it allocated.
func (a *arena) release() {
	a.avl.StoreRelease(true)
}

// alloc carves length bytes off the arena. The caller must hold the
// exclusive claim from available.
func (a *arena) alloc(length int) []byte {
	start := a.off
	end := start + uint64(length)
	if end > uint64(len(a.buf)) {
		vlog.Fatalf("arena: alloc overflow: off=%d len=%d cap=%d", start, length, len(a.buf))
	}
	a.off = end
	return a.buf[start:end:end]
}

func (a *arena) remaining() int {
	return len(a.buf) - int(a.off)
}

// tryReset rewinds the arena to empty if its refcount is zero. The
// CompareAndSwap against the refcount (rather than a plain load) pairs with
// the Release in decrementStrongCount: on success, every write a consumer
// made to bytes it held is visible before this arena is handed out again.
func (a *arena) tryReset() bool {
	if !a.cnt.CompareAndSwapAcqRel(0, 0) {
		return false
	}
	a.off = 0
	return true
}

func (a *arena) incrementStrongCount() {
	a.cnt.AddAcqRel(1)
}

// decrementStrongCount releases one hold. The AddAcqRel's Release half
// ensures any write a holder made to its Slice is visible to whichever
// goroutine eventually observes the refcount hit zero in tryReset's
// Acquire CAS.
func (a *arena) decrementStrongCount() {
	if a.cnt.AddAcqRel(-1) < 0 {
		vlog.Fatalf("arena: refcount underflow")
	}
}

// Slice is a refcounted view into a live arena allocation. Copying a Slice
// (via Clone) bumps the arena's refcount; Release drops it. An arena cannot
// be reset for reuse until every outstanding Slice over it has been
// released, so holding on to one past its useful life stalls the pool.
type Slice struct {
	b     []byte
	owner *arena
}

// Bytes returns the allocation's backing bytes. The returned slice is only
// valid until Release is called.
func (s Slice) Bytes() []byte { return s.b }

// Clone returns a new handle onto the same bytes, incrementing the arena's
// refcount. Each clone must be Released independently.
func (s Slice) Clone() Slice {
	s.owner.incrementStrongCount()
	return s
}

// Release drops this handle's hold on the underlying arena. Call exactly
// once per Slice obtained from Pool.Alloc or Slice.Clone.
func (s Slice) Release() {
	s.owner.decrementStrongCount()
}

// Pool is a fixed collection of same-sized arenas carved out of one
// contiguous buffer. Unlike a general-purpose allocator, a Pool never grows:
// its capacity is sized up front by the caller (see debarcode.Budget) to
// match expected working-set size for the pipeline stage it backs.
type Pool struct {
	arenas   []*arena
	arenaLen int
	idxHint  atomix.Uint64
	raw      []byte // the single mmap region arenas are carved from
}

// NewPool creates a pool spanning bufSize bytes, divided into arenas of
// arenaSize bytes each. At least 2 arenas are required so that one consumer
// blocking on its allocation can never starve out every other allocator.
//
// The pool's backing memory is one anonymous mmap region rather than
// numArenas separate heap allocations, the same approach the kmer index
// table uses for its large flat arrays: fewer, bigger mappings the kernel
// can back with huge pages, and memory the Go GC never has to scan.
func NewPool(bufSize, arenaSize int) *Pool {
	numArenas := bufSize / arenaSize
	if numArenas < 2 {
		vlog.Fatalf("arena: need at least 2 arenas to prevent stalls, got %d (bufSize=%d arenaSize=%d)", numArenas, bufSize, arenaSize)
	}
	total := numArenas * arenaSize
	raw, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		vlog.Fatalf("arena: mmap %d bytes: %v", total, err)
	}
	if err := unix.Madvise(raw, unix.MADV_HUGEPAGE); err != nil {
		vlog.VI(1).Infof("arena: madvise(MADV_HUGEPAGE) unavailable, continuing without it: %v", err)
	}
	arenas := make([]*arena, numArenas)
	for i := range arenas {
		start := i * arenaSize
		end := start + arenaSize
		arenas[i] = newArena(raw[start:end:end])
	}
	return &Pool{
		arenas:   arenas,
		arenaLen: arenaSize,
		raw:      raw,
	}
}

// Alloc returns a Slice of length bytes from whichever arena in the pool
// currently has room, blocking (spin then park) until one does. length must
// not exceed the pool's arena size.
func (p *Pool) Alloc(length int) Slice {
	if length > p.arenaLen {
		vlog.Fatalf("arena: alloc size %d exceeds arena size %d", length, p.arenaLen)
	}
	n := len(p.arenas)
	var spinner spin.Wait
	rounds := 0
	for {
		hint := int(p.idxHint.LoadRelaxed())
		for i := 0; i < n; i++ {
			idx := (hint + i) % n
			a := p.arenas[idx]
			if a.available(length) {
				p.idxHint.StoreRelaxed(uint64(idx))
				b := a.alloc(length)
				a.incrementStrongCount()
				a.release()
				return Slice{b: b, owner: a}
			}
		}
		spinner.Once()
		rounds++
		if rounds >= parksBeforeWarn {
			vlog.Errorf("arena: pool has stalled for %d rounds; consumers may not be releasing slices", rounds)
			rounds = 0
		}
	}
}

// Close blocks until every Slice ever handed out by the pool has been
// released, then unmaps the pool's backing memory. Callers must not call
// Alloc concurrently with Close.
func (p *Pool) Close() {
	var spinner spin.Wait
	for {
		allIdle := true
		for _, a := range p.arenas {
			if a.cnt.LoadRelaxed() != 0 {
				allIdle = false
				break
			}
		}
		if allIdle {
			break
		}
		spinner.Once()
	}
	if err := unix.Munmap(p.raw); err != nil {
		vlog.Errorf("arena: munmap: %v", err)
	}
	p.arenas = nil
	p.raw = nil
}
