package vm

// ---------------------------------------------------------------------------
// Heap: managed spaces over the memory substrate
// ---------------------------------------------------------------------------

// uninitializedSentinel marks a reference slot that has never been stored.
// It is distinct from null (0) and can never be a block address (block
// addresses are word-aligned). The collector and all load opcodes treat it
// as a non-pointer.
const uninitializedSentinel uint64 = 0x2

// SpaceKind distinguishes the nursery from the tenured space.
type SpaceKind int

const (
	NewSpace SpaceKind = iota
	OldSpace
)

// Space is a growable list of chunks with a bump allocation range over the
// newest chunk.
type Space struct {
	kind   SpaceKind
	heap   *Heap
	chunks []*Chunk

	// softChunkLimit is how many chunks the space may hold before
	// allocation prefers collecting over expanding.
	softChunkLimit int
}

func newSpace(heap *Heap, kind SpaceKind, softChunkLimit int) *Space {
	return &Space{kind: kind, heap: heap, softChunkLimit: softChunkLimit}
}

// allocate bump-allocates n bytes from the space's current range, or
// returns 0.
func (s *Space) allocate(n uintptr) uintptr {
	if len(s.chunks) == 0 {
		return 0
	}
	return s.chunks[len(s.chunks)-1].alloc.Allocate(n)
}

// expand obtains a fresh chunk from the substrate.
func (s *Space) expand() error {
	c, err := NewChunk(ChunkReadWrite)
	if err != nil {
		return err
	}
	c.space = s
	s.chunks = append(s.chunks, c)
	s.heap.chunks[c.base] = c
	return nil
}

// release returns every chunk to the OS and empties the space.
func (s *Space) release() {
	for _, c := range s.chunks {
		delete(s.heap.chunks, c.base)
		c.Release()
	}
	s.chunks = nil
}

// contains reports whether addr lies in one of the space's chunks.
func (s *Space) contains(addr uintptr) bool {
	c := s.heap.chunks[chunkBase(addr)]
	return c != nil && c.space == s
}

// bytesUsed totals the allocated bytes across the space's chunks.
func (s *Space) bytesUsed() uintptr {
	var total uintptr
	for _, c := range s.chunks {
		total += c.alloc.base - c.base
	}
	return total
}

// Heap owns the new and old spaces, the chunk index, the remembered set,
// and the handle slots that root host references.
type Heap struct {
	vm *VM

	newSpace *Space
	oldSpace *Space
	chunks   map[uintptr]*Chunk

	// remembered holds addresses of old-space slots that refer into new
	// space, so a minor collection need not scan old space.
	remembered map[uintptr]struct{}

	handles *handlePool

	gcCount uint64
}

func newHeap(vm *VM) (*Heap, error) {
	h := &Heap{
		vm:         vm,
		chunks:     make(map[uintptr]*Chunk),
		remembered: make(map[uintptr]struct{}),
		handles:    newHandlePool(),
	}
	h.newSpace = newSpace(h, NewSpace, 4)
	h.oldSpace = newSpace(h, OldSpace, 64)
	if err := h.newSpace.expand(); err != nil {
		return nil, err
	}
	return h, nil
}

// chunkOf returns the chunk containing addr, or nil.
func (h *Heap) chunkOf(addr uintptr) *Chunk {
	return h.chunks[chunkBase(addr)]
}

// inNewSpace reports whether addr lies in the nursery.
func (h *Heap) inNewSpace(addr uintptr) bool {
	return h.newSpace.contains(addr)
}

// isHeapPointer reports whether word is a plausible block address: non-zero,
// not the uninitialized sentinel, word-aligned, and inside a heap chunk.
func (h *Heap) isHeapPointer(word uint64) bool {
	if word == 0 || word == uninitializedSentinel || word&(wordSize-1) != 0 {
		return false
	}
	return h.chunkOf(uintptr(word)) != nil
}

// allocateIn allocates size bytes in a space, expanding or collecting as
// needed. Every caller must treat the allocation as a GC-safe point: any
// unrooted reference held across this call is invalid afterwards.
func (h *Heap) allocateIn(space *Space, size uintptr) (uintptr, error) {
	if size > ChunkSize/2 {
		return 0, ErrHeapExhausted
	}
	if addr := space.allocate(size); addr != 0 {
		return addr, nil
	}
	if len(space.chunks) < space.softChunkLimit {
		if err := space.expand(); err != nil {
			return 0, err
		}
		if addr := space.allocate(size); addr != 0 {
			return addr, nil
		}
	}
	// The space is full: collect, then retry, then expand past the soft
	// limit as a last resort.
	h.vm.Collect()
	if addr := space.allocate(size); addr != 0 {
		return addr, nil
	}
	if err := space.expand(); err != nil {
		return 0, err
	}
	if addr := space.allocate(size); addr != 0 {
		return addr, nil
	}
	return 0, ErrHeapExhausted
}

// AllocateObject allocates and initializes an instance block. Reference
// fields start at the uninitialized sentinel; primitive fields start at
// zero.
func (h *Heap) AllocateObject(meta *Meta) (uintptr, error) {
	size := align(uintptr(meta.instanceSize), wordSize)
	addr, err := h.allocateIn(h.newSpace, size)
	if err != nil {
		return 0, err
	}
	storeWord(addr, makeHeader(meta.id, meta.blockType))
	for i := 1; i < int(size/wordSize); i++ {
		if meta.pointerMap.Len() > i && meta.pointerMap.At(i) {
			storeWord(addr+uintptr(i)*wordSize, uninitializedSentinel)
		} else {
			storeWord(addr+uintptr(i)*wordSize, 0)
		}
	}
	return addr, nil
}

// AllocateArray allocates an array-like block with the given element count.
func (h *Heap) AllocateArray(meta *Meta, length uintptr) (uintptr, error) {
	size := align(uintptr(meta.instanceSize)+length*uintptr(meta.elementSize), wordSize)
	addr, err := h.allocateIn(h.newSpace, size)
	if err != nil {
		return 0, err
	}
	storeWord(addr, makeHeader(meta.id, meta.blockType))
	for i := 1; i < int(uintptr(meta.instanceSize)/wordSize); i++ {
		storeWord(addr+uintptr(i)*wordSize, 0)
	}
	setBlockLength(addr, meta, length)
	fill := uint64(0)
	if meta.elementsArePointers {
		fill = uninitializedSentinel
	}
	base := addr + uintptr(meta.instanceSize)
	if meta.elementSize == wordSize {
		for i := uintptr(0); i < length; i++ {
			storeWord(base+i*wordSize, fill)
		}
	} else {
		for i := base; i < addr+size; i++ {
			storeByte(i, 0)
		}
	}
	return addr, nil
}

// RecordWrite is the write barrier: called after a reference is stored into
// a block slot. Old-to-new pointers are added to the remembered set.
func (h *Heap) RecordWrite(slotAddr uintptr, value uint64) {
	if !h.isHeapPointer(value) {
		return
	}
	if h.oldSpace.contains(slotAddr) && h.inNewSpace(uintptr(value)) {
		h.remembered[slotAddr] = struct{}{}
	}
}

// GCCount returns the number of collections run so far.
func (h *Heap) GCCount() uint64 {
	return h.gcCount
}

// release returns all heap memory to the OS.
func (h *Heap) release() {
	h.newSpace.release()
	h.oldSpace.release()
}
