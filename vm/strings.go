package vm

// ---------------------------------------------------------------------------
// String blocks
// ---------------------------------------------------------------------------

// NewStringBlock allocates a string block holding the UTF-8 bytes of s.
// The returned address is valid until the next allocation; root it with a
// handle if it must live longer.
func (vm *VM) NewStringBlock(s string) (uintptr, error) {
	meta := vm.builtinClass(BuiltinStringClass).Meta(vm)
	addr, err := vm.heap.AllocateArray(meta, uintptr(len(s)))
	if err != nil {
		return 0, err
	}
	copy(blockBytes(addr, uintptr(meta.instanceSize), uintptr(len(s))), s)
	return addr, nil
}

// StringValue reads the contents of a string block.
func (vm *VM) StringValue(addr uintptr) string {
	meta := vm.heap.blockMeta(addr)
	n := blockLength(addr, meta)
	return string(blockBytes(addr, uintptr(meta.instanceSize), n))
}

// IsStringBlock reports whether addr is a string block.
func (vm *VM) IsStringBlock(addr uintptr) bool {
	return vm.heap.blockMeta(addr).class == vm.builtinClass(BuiltinStringClass)
}

// stringHash is the FNV-1a hash of a string block's bytes, used by the
// in-heap hash map. The hash depends only on contents, never on the
// block's address, so it is stable across collections.
func (vm *VM) stringHash(addr uintptr) uint64 {
	meta := vm.heap.blockMeta(addr)
	n := blockLength(addr, meta)
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for _, b := range blockBytes(addr, uintptr(meta.instanceSize), n) {
		h ^= uint64(b)
		h *= prime64
	}
	return h
}

// stringEquals compares two string blocks by contents.
func (vm *VM) stringEquals(a, b uintptr) bool {
	if a == b {
		return true
	}
	return vm.StringValue(a) == vm.StringValue(b)
}
