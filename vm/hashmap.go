package vm

// ---------------------------------------------------------------------------
// In-heap hash map
// ---------------------------------------------------------------------------
//
// BlockHashMap is an open-addressing hash table stored entirely on the
// managed heap: a HashMap block holding a reference-array table of
// alternating key and value slots. Keys are string blocks hashed by
// contents, so the table stays valid when the collector moves blocks.
// Values are Tagged words: small integers or block pointers.

// BlockHashMap wraps a heap-allocated hash map through a persistent
// handle, so host code may hold it across collections.
type BlockHashMap struct {
	vm     *VM
	handle *PersistentHandle
}

const (
	hashMapTableOffset      = objectFieldsOffset
	hashMapSizeOffset       = objectFieldsOffset + wordSize
	hashMapTombstonesOffset = objectFieldsOffset + 2*wordSize

	hashMapInitialCapacity = 16

	// hashMapTombstone marks a removed slot. Like the uninitialized
	// sentinel it can never be a block address.
	hashMapTombstone uint64 = 0x4
)

// NewBlockHashMap allocates an empty map.
func NewBlockHashMap(vm *VM) (*BlockHashMap, error) {
	table, err := vm.newTable(hashMapInitialCapacity)
	if err != nil {
		return nil, err
	}
	tableHandle := vm.heap.NewPersistentHandle(table)
	defer tableHandle.Release()

	addr, err := vm.heap.AllocateObject(vm.builtinClass(BuiltinHashMapClass).Meta(vm))
	if err != nil {
		return nil, err
	}
	setBlockField(addr, hashMapTableOffset, uint64(tableHandle.Address()))
	vm.heap.RecordWrite(addr+hashMapTableOffset, uint64(tableHandle.Address()))
	setBlockField(addr, hashMapSizeOffset, 0)
	setBlockField(addr, hashMapTombstonesOffset, 0)
	return &BlockHashMap{vm: vm, handle: vm.heap.NewPersistentHandle(addr)}, nil
}

// newTable allocates a reference array of 2*capacity zeroed slots.
func (vm *VM) newTable(capacity uintptr) (uintptr, error) {
	meta := vm.builtinClass(BuiltinRefArrayClass).Meta(vm)
	addr, err := vm.heap.AllocateArray(meta, 2*capacity)
	if err != nil {
		return 0, err
	}
	// Empty slots are null, not the uninitialized sentinel; the map is
	// accessed through this API, not through LDE.
	for i := uintptr(0); i < 2*capacity; i++ {
		storeElement(addr, meta, i, 0)
	}
	return addr, nil
}

// Release drops the map's root. The map itself is collected once
// unreachable.
func (m *BlockHashMap) Release() {
	m.handle.Release()
}

// Address returns the map block's current address.
func (m *BlockHashMap) Address() uintptr {
	return m.handle.Address()
}

// Size returns the number of live entries.
func (m *BlockHashMap) Size() int64 {
	return int64(blockField(m.handle.Address(), hashMapSizeOffset))
}

func (m *BlockHashMap) table() (uintptr, *Meta, uintptr) {
	table := uintptr(blockField(m.handle.Address(), hashMapTableOffset))
	meta := m.vm.heap.blockMeta(table)
	capacity := blockLength(table, meta) / 2
	return table, meta, capacity
}

// Insert adds or replaces the entry for key. The key must be a string
// block held through a handle; value is a Tagged number. Pointer values go
// through InsertPointer so they stay rooted across a resize.
func (m *BlockHashMap) Insert(key *Handle, value Tagged) error {
	return m.insert(key, func() uint64 { return uint64(value) })
}

// InsertPointer adds or replaces the entry for key with a block-pointer
// value held through a handle.
func (m *BlockHashMap) InsertPointer(key, value *Handle) error {
	return m.insert(key, func() uint64 { return uint64(TaggedFromPointer(value.Address())) })
}

// insert reads the value through a closure after any resize, so rooted
// values are never stored stale.
func (m *BlockHashMap) insert(key *Handle, value func() uint64) error {
	if err := m.ensureCapacity(); err != nil {
		return err
	}
	table, meta, capacity := m.table()
	keyAddr := key.Address()
	hash := m.vm.stringHash(keyAddr)
	firstTombstone := uintptr(0)
	haveTombstone := false
	for probe := uintptr(0); probe < capacity; probe++ {
		slot := (uintptr(hash) + probe) % capacity
		existing := loadElement(table, meta, 2*slot)
		if existing == 0 {
			target := slot
			if haveTombstone {
				target = firstTombstone
				m.addTombstones(-1)
			}
			m.storeEntry(table, meta, target, uint64(keyAddr), value())
			m.addSize(1)
			return nil
		}
		if existing == hashMapTombstone {
			if !haveTombstone {
				firstTombstone = slot
				haveTombstone = true
			}
			continue
		}
		if m.vm.stringEquals(uintptr(existing), keyAddr) {
			m.storeEntry(table, meta, slot, existing, value())
			return nil
		}
	}
	return assertionFailure{message: "hash map probe did not terminate"}
}

// Get returns the value for key.
func (m *BlockHashMap) Get(key *Handle) (Tagged, bool) {
	table, meta, capacity := m.table()
	keyAddr := key.Address()
	hash := m.vm.stringHash(keyAddr)
	for probe := uintptr(0); probe < capacity; probe++ {
		slot := (uintptr(hash) + probe) % capacity
		existing := loadElement(table, meta, 2*slot)
		if existing == 0 {
			return 0, false
		}
		if existing == hashMapTombstone {
			continue
		}
		if m.vm.stringEquals(uintptr(existing), keyAddr) {
			return Tagged(loadElement(table, meta, 2*slot+1)), true
		}
	}
	return 0, false
}

// Contains reports whether key has an entry.
func (m *BlockHashMap) Contains(key *Handle) bool {
	_, ok := m.Get(key)
	return ok
}

// Remove deletes the entry for key, leaving a tombstone.
func (m *BlockHashMap) Remove(key *Handle) bool {
	table, meta, capacity := m.table()
	keyAddr := key.Address()
	hash := m.vm.stringHash(keyAddr)
	for probe := uintptr(0); probe < capacity; probe++ {
		slot := (uintptr(hash) + probe) % capacity
		existing := loadElement(table, meta, 2*slot)
		if existing == 0 {
			return false
		}
		if existing == hashMapTombstone {
			continue
		}
		if m.vm.stringEquals(uintptr(existing), keyAddr) {
			storeElement(table, meta, 2*slot, hashMapTombstone)
			storeElement(table, meta, 2*slot+1, 0)
			m.addSize(-1)
			m.addTombstones(1)
			return true
		}
	}
	return false
}

func (m *BlockHashMap) storeEntry(table uintptr, meta *Meta, slot uintptr, key, value uint64) {
	storeElement(table, meta, 2*slot, key)
	m.vm.heap.RecordWrite(elementAddress(table, meta, 2*slot), key)
	storeElement(table, meta, 2*slot+1, value)
	m.vm.heap.RecordWrite(elementAddress(table, meta, 2*slot+1), value)
}

func (m *BlockHashMap) addSize(delta int64) {
	addr := m.handle.Address()
	setBlockField(addr, hashMapSizeOffset, uint64(int64(blockField(addr, hashMapSizeOffset))+delta))
}

func (m *BlockHashMap) addTombstones(delta int64) {
	addr := m.handle.Address()
	setBlockField(addr, hashMapTombstonesOffset, uint64(int64(blockField(addr, hashMapTombstonesOffset))+delta))
}

// ensureCapacity grows and rehashes when live entries plus tombstones pass
// three quarters of capacity. Growing allocates, so every raw address is
// re-read afterwards.
func (m *BlockHashMap) ensureCapacity() error {
	addr := m.handle.Address()
	size := int64(blockField(addr, hashMapSizeOffset))
	tombstones := int64(blockField(addr, hashMapTombstonesOffset))
	_, _, capacity := m.table()
	if uintptr(size+tombstones)*4 < capacity*3 {
		return nil
	}
	newCapacity := capacity * 2
	newTable, err := m.vm.newTable(newCapacity)
	if err != nil {
		return err
	}
	// Re-read everything: the allocation may have moved the map and its
	// old table.
	addr = m.handle.Address()
	oldTable, oldMeta, oldCapacity := m.table()
	newMeta := m.vm.heap.blockMeta(newTable)
	for slot := uintptr(0); slot < oldCapacity; slot++ {
		key := loadElement(oldTable, oldMeta, 2*slot)
		if key == 0 || key == hashMapTombstone {
			continue
		}
		value := loadElement(oldTable, oldMeta, 2*slot+1)
		hash := m.vm.stringHash(uintptr(key))
		for probe := uintptr(0); probe < newCapacity; probe++ {
			target := (uintptr(hash) + probe) % newCapacity
			if loadElement(newTable, newMeta, 2*target) == 0 {
				storeElement(newTable, newMeta, 2*target, key)
				storeElement(newTable, newMeta, 2*target+1, value)
				break
			}
		}
	}
	setBlockField(addr, hashMapTableOffset, uint64(newTable))
	m.vm.heap.RecordWrite(addr+hashMapTableOffset, uint64(newTable))
	setBlockField(addr, hashMapTombstonesOffset, 0)
	return nil
}
