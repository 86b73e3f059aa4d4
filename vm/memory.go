package vm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// Memory substrate: aligned chunks and bump allocation
// ---------------------------------------------------------------------------

const (
	// wordSize is the size of a heap word in bytes.
	wordSize = 8

	// ChunkSize is the size and alignment of every heap chunk.
	ChunkSize = 1 << 20
)

// ChunkProtection selects the protection flags of a chunk's storage.
type ChunkProtection int

const (
	ChunkReadWrite ChunkProtection = iota
	ChunkReadExecute
)

// Chunk is a contiguous region of ChunkSize bytes, aligned to its own size.
// Blocks are bump-allocated from the storage area. The alignment makes
// address-to-chunk lookup a mask-and-index operation.
type Chunk struct {
	mapping []byte // the raw (over-aligned) mapping; kept for release
	base    uintptr
	limit   uintptr

	protection ChunkProtection
	space      *Space

	// markBits has one bit per word of storage. The collector does not
	// read or write it.
	markBits Bitmap

	// alloc is the bump range over the unused portion of storage.
	alloc AllocationRange
}

// AllocationRange is a bump allocator over [base, limit).
type AllocationRange struct {
	base  uintptr
	limit uintptr
}

// Allocate reserves n bytes (rounded up to word alignment) and returns the
// address, or 0 if the range does not have enough room. The range is never
// advanced on failure.
func (r *AllocationRange) Allocate(n uintptr) uintptr {
	n = align(n, wordSize)
	if r.base+n > r.limit || r.base+n < r.base {
		return 0
	}
	addr := r.base
	r.base += n
	return addr
}

// Available returns the number of bytes left in the range.
func (r *AllocationRange) Available() uintptr {
	return r.limit - r.base
}

func align(n, alignment uintptr) uintptr {
	return (n + alignment - 1) &^ (alignment - 1)
}

// NewChunk maps a fresh chunk from the OS. The mapping is over-allocated by
// one chunk size so a naturally aligned base can be carved out of it.
func NewChunk(protection ChunkProtection) (*Chunk, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if protection == ChunkReadExecute {
		prot |= unix.PROT_EXEC
	}
	mapping, err := unix.Mmap(-1, 0, ChunkSize*2, prot, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("chunk mmap: %w", err)
	}
	raw := uintptr(addressOf(mapping))
	base := align(raw, ChunkSize)
	c := &Chunk{
		mapping:    mapping,
		base:       base,
		limit:      base + ChunkSize,
		protection: protection,
		markBits:   NewBitmap(ChunkSize / wordSize),
	}
	c.alloc = AllocationRange{base: c.base, limit: c.limit}
	return c, nil
}

// Release unmaps the chunk. The chunk must not be used afterwards.
func (c *Chunk) Release() error {
	if c.mapping == nil {
		return nil
	}
	err := unix.Munmap(c.mapping)
	c.mapping = nil
	return err
}

// Base returns the first storage address.
func (c *Chunk) Base() uintptr {
	return c.base
}

// Limit returns the address one past the storage area.
func (c *Chunk) Limit() uintptr {
	return c.limit
}

// Contains returns true if addr lies inside the chunk's storage.
func (c *Chunk) Contains(addr uintptr) bool {
	return addr >= c.base && addr < c.limit
}

// Executable returns true for executable chunks. The interpreter only ever
// allocates non-executable chunks.
func (c *Chunk) Executable() bool {
	return c.protection == ChunkReadExecute
}

// Space returns the owning space, or nil for unowned chunks.
func (c *Chunk) Space() *Space {
	return c.space
}

// chunkBase masks an interior address down to its chunk's base address.
func chunkBase(addr uintptr) uintptr {
	return addr &^ (ChunkSize - 1)
}
