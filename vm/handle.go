package vm

// ---------------------------------------------------------------------------
// Handles: GC-safe references for host code
// ---------------------------------------------------------------------------

// handlePool backs both scoped and persistent handles. Scoped slots form a
// stack cut back when a scope closes; persistent slots use a free list and
// live until released. The collector visits and updates every live slot.
type handlePool struct {
	scoped []uintptr

	persistent     []uintptr
	persistentLive []bool
	persistentFree []int
}

func newHandlePool() *handlePool {
	return &handlePool{}
}

// HandleScope is a scoped acquisition of handle slots. Handles created
// inside the scope are freed together when it closes. Scopes must be
// closed in strict reverse order of creation.
type HandleScope struct {
	heap *Heap
	base int
	open bool
}

// Handle is a GC-aware indirect reference created inside a scope. Reload
// the address through Address after any allocation.
type Handle struct {
	heap  *Heap
	index int
}

// PersistentHandle survives scope exits until explicitly released.
type PersistentHandle struct {
	heap  *Heap
	index int
}

// NewHandleScope opens a scope on the heap's handle stack.
func (h *Heap) NewHandleScope() *HandleScope {
	return &HandleScope{heap: h, base: len(h.handles.scoped), open: true}
}

// Close frees every handle created inside the scope.
// Panics if the scope was already closed.
func (s *HandleScope) Close() {
	if !s.open {
		panic("HandleScope.Close: already closed")
	}
	s.heap.handles.scoped = s.heap.handles.scoped[:s.base]
	s.open = false
}

// Handle registers addr in the scope and returns a handle to it.
func (s *HandleScope) Handle(addr uintptr) *Handle {
	if !s.open {
		panic("HandleScope.Handle: scope closed")
	}
	pool := s.heap.handles
	pool.scoped = append(pool.scoped, addr)
	return &Handle{heap: s.heap, index: len(pool.scoped) - 1}
}

// Address returns the handle's current block address, valid until the next
// allocation.
func (h *Handle) Address() uintptr {
	return h.heap.handles.scoped[h.index]
}

// Set repoints the handle.
func (h *Handle) Set(addr uintptr) {
	h.heap.handles.scoped[h.index] = addr
}

// NewPersistentHandle registers addr in the persistent pool.
func (h *Heap) NewPersistentHandle(addr uintptr) *PersistentHandle {
	pool := h.handles
	if n := len(pool.persistentFree); n > 0 {
		index := pool.persistentFree[n-1]
		pool.persistentFree = pool.persistentFree[:n-1]
		pool.persistent[index] = addr
		pool.persistentLive[index] = true
		return &PersistentHandle{heap: h, index: index}
	}
	pool.persistent = append(pool.persistent, addr)
	pool.persistentLive = append(pool.persistentLive, true)
	return &PersistentHandle{heap: h, index: len(pool.persistent) - 1}
}

// Address returns the handle's current block address.
func (p *PersistentHandle) Address() uintptr {
	return p.heap.handles.persistent[p.index]
}

// Set repoints the handle.
func (p *PersistentHandle) Set(addr uintptr) {
	p.heap.handles.persistent[p.index] = addr
}

// Release frees the slot. The handle must not be used afterwards.
func (p *PersistentHandle) Release() {
	pool := p.heap.handles
	if !pool.persistentLive[p.index] {
		return
	}
	pool.persistentLive[p.index] = false
	pool.persistent[p.index] = 0
	pool.persistentFree = append(pool.persistentFree, p.index)
}

// visitHandles calls visit with the address of every live handle slot, so
// the collector can trace and update them in place.
func (pool *handlePool) visitHandles(visit func(slot *uintptr)) {
	for i := range pool.scoped {
		visit(&pool.scoped[i])
	}
	for i := range pool.persistent {
		if pool.persistentLive[i] {
			visit(&pool.persistent[i])
		}
	}
}
