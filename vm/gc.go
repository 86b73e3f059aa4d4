package vm

// ---------------------------------------------------------------------------
// Garbage collector
// ---------------------------------------------------------------------------
//
// Precise, stop-the-world, moving. New space is scavenged by copying. A
// minor collection promotes every survivor into old space; a full
// collection keeps a first-time survivor in new space and promotes it when
// it survives again. A full collection relocates old space as well. Roots are the persistent
// and scoped handle slots, initialized reference globals of every loaded
// package, and every active interpreter frame via its function's stack
// pointer map. Block identity is address-independent; anything that cached
// an address must reload it through a handle afterwards.

// survivedBit marks a new-space block that has lived through one
// collection; the next copy promotes it. It occupies gc bit 0, which is
// only ever set together with bit 1 in forwarding headers.
const survivedBit uint64 = 0x1

type collector struct {
	heap *Heap
	full bool

	fromNew *Space
	fromOld *Space
	toNew   *Space
	toOld   *Space

	// scan cursors: chunk index and address within the to-spaces.
	newScan scanCursor
	oldScan scanCursor
}

type scanCursor struct {
	chunk int
	addr  uintptr
}

// Collect runs a full collection: both spaces are evacuated.
func (vm *VM) Collect() {
	vm.heap.collect(true)
}

// CollectMinor scavenges new space only, using the remembered set instead
// of scanning old space.
func (vm *VM) CollectMinor() {
	vm.heap.collect(false)
}

func (h *Heap) collect(full bool) {
	c := &collector{heap: h, full: full, fromNew: h.newSpace, fromOld: h.oldSpace}
	c.toNew = newSpace(h, NewSpace, h.newSpace.softChunkLimit)
	if full {
		c.toOld = newSpace(h, OldSpace, h.oldSpace.softChunkLimit)
	} else {
		// Minor collections promote into the existing old space.
		c.toOld = h.oldSpace
		c.oldScan = c.cursorAtEnd(c.toOld)
	}

	oldRemembered := h.remembered
	h.remembered = make(map[uintptr]struct{})

	c.scanRoots(oldRemembered)
	c.drain()

	h.newSpace = c.toNew
	if full {
		c.fromOld.release()
		h.oldSpace = c.toOld
	}
	c.fromNew.release()
	if len(h.newSpace.chunks) == 0 {
		if err := h.newSpace.expand(); err != nil {
			panic(assertionFailure{message: "cannot re-expand new space: " + err.Error()})
		}
	}
	h.gcCount++
}

func (c *collector) cursorAtEnd(s *Space) scanCursor {
	if len(s.chunks) == 0 {
		return scanCursor{}
	}
	last := len(s.chunks) - 1
	return scanCursor{chunk: last, addr: s.chunks[last].alloc.base}
}

// scanRoots forwards every root slot.
func (c *collector) scanRoots(remembered map[uintptr]struct{}) {
	h := c.heap
	h.handles.visitHandles(func(slot *uintptr) {
		*slot = uintptr(c.forwardWord(uint64(*slot)))
	})
	for _, p := range h.vm.packages {
		for _, g := range p.globals {
			if g.initialized && g.typ.IsObject() {
				g.value = c.forwardWord(g.value)
			}
		}
	}
	h.vm.interp.visitRoots(func(slot *uint64) {
		*slot = c.forwardWord(*slot)
	})
	if !c.full {
		for slot := range remembered {
			word := loadWord(slot)
			forwarded := c.forwardWord(word)
			storeWord(slot, forwarded)
			// Keep the entry if the target is still young.
			if c.heap.isHeapPointer(forwarded) && c.toNew.contains(uintptr(forwarded)) {
				c.heap.remembered[slot] = struct{}{}
			}
		}
	}
}

// forwardWord relocates the block a word refers to, if any, and returns the
// updated word.
func (c *collector) forwardWord(word uint64) uint64 {
	if !c.heap.isHeapPointer(word) {
		return word
	}
	addr := uintptr(word)
	chunk := c.heap.chunkOf(addr)
	if chunk == nil {
		return word
	}
	space := chunk.space
	if space == c.fromNew {
		return uint64(c.copyBlock(addr, true))
	}
	if c.full && space == c.fromOld {
		return uint64(c.copyBlock(addr, false))
	}
	return word
}

// copyBlock relocates one block and leaves a forwarding header behind.
func (c *collector) copyBlock(addr uintptr, fromNewSpace bool) uintptr {
	header := blockHeader(addr)
	if headerIsForwarded(header) {
		return forwardedAddress(header)
	}
	size := c.heap.blockSize(addr)

	var dest *Space
	var newHeader uint64
	if fromNewSpace {
		if header&survivedBit != 0 && c.full {
			dest = c.toOld
			newHeader = header &^ survivedBit
		} else if !c.full {
			// Minor collections promote every survivor.
			dest = c.toOld
			newHeader = header &^ survivedBit
		} else {
			dest = c.toNew
			newHeader = header | survivedBit
		}
	} else {
		dest = c.toOld
		newHeader = header
	}

	to := dest.allocate(size)
	if to == 0 {
		if err := dest.expand(); err != nil {
			panic(assertionFailure{message: "to-space expansion failed: " + err.Error()})
		}
		to = dest.allocate(size)
		if to == 0 {
			panic(assertionFailure{message: "block larger than chunk"})
		}
	}
	copyWords(to, addr, size)
	storeWord(to, newHeader)
	storeWord(addr, makeForwardedHeader(to))
	return to
}

// drain scans both to-spaces until no gray blocks remain.
func (c *collector) drain() {
	for {
		progressed := c.scanSpace(c.toNew, &c.newScan, false)
		progressed = c.scanSpace(c.toOld, &c.oldScan, true) || progressed
		if !progressed {
			return
		}
	}
}

// scanSpace advances a cursor over copied blocks, forwarding their interior
// references. Returns true if any block was scanned.
func (c *collector) scanSpace(s *Space, cur *scanCursor, isOld bool) bool {
	progressed := false
	for cur.chunk < len(s.chunks) {
		chunk := s.chunks[cur.chunk]
		if cur.addr == 0 {
			cur.addr = chunk.base
		}
		for cur.addr < chunk.alloc.base {
			c.scanBlock(cur.addr, isOld)
			cur.addr += c.heap.blockSize(cur.addr)
			progressed = true
		}
		if cur.chunk == len(s.chunks)-1 {
			break
		}
		cur.chunk++
		cur.addr = 0
	}
	return progressed
}

// scanBlock forwards every reference word of one block, recording
// old-to-new pointers in the remembered set.
func (c *collector) scanBlock(addr uintptr, isOld bool) {
	meta := c.heap.blockMeta(addr)
	words := uintptr(meta.instanceSize) / wordSize
	for i := uintptr(1); i < words; i++ {
		if int(i) < meta.pointerMap.Len() && meta.pointerMap.At(int(i)) {
			c.forwardSlot(addr+i*wordSize, isOld)
		}
	}
	if meta.hasElements && meta.elementsArePointers {
		n := blockLength(addr, meta)
		for i := uintptr(0); i < n; i++ {
			c.forwardSlot(elementAddress(addr, meta, i), isOld)
		}
	}
}

func (c *collector) forwardSlot(slot uintptr, isOld bool) {
	word := loadWord(slot)
	forwarded := c.forwardWord(word)
	if forwarded != word {
		storeWord(slot, forwarded)
	}
	if isOld && c.heap.isHeapPointer(forwarded) && c.toNew.contains(uintptr(forwarded)) {
		c.heap.remembered[slot] = struct{}{}
	}
}
