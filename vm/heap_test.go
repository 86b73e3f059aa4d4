package vm

import "testing"

func TestAllocateObjectLayout(t *testing.T) {
	machine := newTestVM(t)

	class := NewClassShell(mustName("Pair"))
	class.Fill(mustName("Pair"), PublicFlag, nil,
		NewClassType(machine.builtins[BuiltinObjectClass]),
		[]*Field{
			{name: mustName("ref"), typ: NewClassType(machine.builtins[BuiltinObjectClass])},
			{name: mustName("num"), typ: I64Type},
		}, nil, -1)
	meta := class.BuildMeta(machine)

	if meta.InstanceSize() != blockHeaderSize+2*wordSize {
		t.Fatalf("instance size = %d", meta.InstanceSize())
	}
	if !meta.pointerMap.At(1) || meta.pointerMap.At(2) {
		t.Error("pointer map should cover the ref field only")
	}

	addr, err := machine.heap.AllocateObject(meta)
	if err != nil {
		t.Fatalf("AllocateObject: %v", err)
	}
	if got := machine.heap.blockMeta(addr); got != meta {
		t.Error("header does not identify the meta")
	}
	if blockField(addr, class.fields[0].offset) != uninitializedSentinel {
		t.Error("reference field should start at the uninitialized sentinel")
	}
	if blockField(addr, class.fields[1].offset) != 0 {
		t.Error("primitive field should start at zero")
	}
}

func TestStringBlockRoundTrip(t *testing.T) {
	machine := newTestVM(t)
	addr, err := machine.NewStringBlock("hello, tern")
	if err != nil {
		t.Fatalf("NewStringBlock: %v", err)
	}
	if got := machine.StringValue(addr); got != "hello, tern" {
		t.Errorf("StringValue = %q", got)
	}
	meta := machine.heap.blockMeta(addr)
	if blockLength(addr, meta) != 11 {
		t.Errorf("length = %d, want 11", blockLength(addr, meta))
	}
	if !machine.IsStringBlock(addr) {
		t.Error("IsStringBlock = false")
	}
}

func TestHandleScopes(t *testing.T) {
	machine := newTestVM(t)
	heap := machine.heap

	outer := heap.NewHandleScope()
	a, err := machine.NewStringBlock("a")
	if err != nil {
		t.Fatal(err)
	}
	ha := outer.Handle(a)

	inner := heap.NewHandleScope()
	b, err := machine.NewStringBlock("b")
	if err != nil {
		t.Fatal(err)
	}
	inner.Handle(b)
	if got := len(heap.handles.scoped); got != 2 {
		t.Fatalf("live scoped handles = %d, want 2", got)
	}
	inner.Close()
	if got := len(heap.handles.scoped); got != 1 {
		t.Fatalf("live scoped handles after inner close = %d, want 1", got)
	}
	if machine.StringValue(ha.Address()) != "a" {
		t.Error("outer handle no longer reads its block")
	}
	outer.Close()
}

func TestPersistentHandleFreeList(t *testing.T) {
	machine := newTestVM(t)
	heap := machine.heap

	a, _ := machine.NewStringBlock("a")
	pa := heap.NewPersistentHandle(a)
	index := pa.index
	pa.Release()

	b, _ := machine.NewStringBlock("b")
	pb := heap.NewPersistentHandle(b)
	if pb.index != index {
		t.Errorf("released slot %d not reused (got %d)", index, pb.index)
	}
	pb.Release()
}

func TestAllocateArrayBounds(t *testing.T) {
	machine := newTestVM(t)
	meta := machine.builtins[BuiltinRefArrayClass].Meta(machine)

	addr, err := machine.heap.AllocateArray(meta, 3)
	if err != nil {
		t.Fatalf("AllocateArray: %v", err)
	}
	if blockLength(addr, meta) != 3 {
		t.Errorf("length = %d, want 3", blockLength(addr, meta))
	}
	// Reference elements start at the uninitialized sentinel.
	if loadElement(addr, meta, 0) != uninitializedSentinel {
		t.Error("reference element should start at the uninitialized sentinel")
	}
	size := machine.heap.blockSize(addr)
	if size != align(uintptr(meta.instanceSize)+3*wordSize, wordSize) {
		t.Errorf("block size = %d", size)
	}
}

func TestHeapRejectsOversizedAllocation(t *testing.T) {
	machine := newTestVM(t)
	meta := machine.builtins[BuiltinStringClass].Meta(machine)
	_, err := machine.heap.AllocateArray(meta, ChunkSize)
	if err == nil {
		t.Fatal("allocation larger than a chunk should fail")
	}
}
