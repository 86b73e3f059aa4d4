package vm

import "testing"

func TestStackPointerMapParameters(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "maps")

	objectT := NewClassType(machine.builtins[BuiltinObjectClass])

	// callee(o: Object, n: i64): i64
	ca := NewAssembler()
	ca.Op(OpI64, 0)
	ca.Op(OpRet)
	_, calleeIdx := b.AddFunction(FunctionSpec{
		Name: "callee", Flags: PublicFlag, ReturnType: I64Type,
		ParamTypes: []*Type{objectT, I64Type}, Code: ca,
	})

	// caller(o: Object, n: i64): keeps a live reference across the call.
	a := NewAssembler()
	a.Op(OpLdLocal, 0) // live ref operand across the call
	a.Op(OpLdLocal, 0)
	a.Op(OpLdLocal, 1)
	a.Op(OpCallG, int64(calleeIdx))
	a.Op(OpDropI, 1) // discard the ref kept live across the call
	a.Op(OpRet)
	caller, _ := b.AddFunction(FunctionSpec{
		Name: "caller", Flags: PublicFlag, ReturnType: I64Type,
		ParamTypes: []*Type{objectT, I64Type}, Code: a,
	})
	addPackage(t, machine, b)

	spm, err := caller.StackPointerMap()
	if err != nil {
		t.Fatalf("StackPointerMap: %v", err)
	}
	if spm.ParameterCount() != 2 {
		t.Fatalf("ParameterCount = %d, want 2", spm.ParameterCount())
	}
	if !spm.ParameterIsPointer(0) || spm.ParameterIsPointer(1) {
		t.Error("parameter region bits wrong: want [pointer, non-pointer]")
	}

	entries := spm.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (the call site)", len(entries))
	}
	e := entries[0]
	if e.MapCount != 1 {
		t.Fatalf("MapCount = %d, want 1 (one live operand)", e.MapCount)
	}
	if !spm.SlotIsPointer(e, 0) {
		t.Error("live operand across the call must be a pointer slot")
	}
	if got, ok := spm.SearchLocalsRegion(int(e.PCOffset)); !ok || got != e {
		t.Error("SearchLocalsRegion does not find the recorded entry")
	}
	if _, ok := spm.SearchLocalsRegion(int(e.PCOffset) + 1); ok {
		t.Error("SearchLocalsRegion must only match exact safe points")
	}
}

func TestStackPointerMapBitmapBounds(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "maps")

	// Several safe points with growing operand stacks.
	a := NewAssembler()
	a.Op(OpString, int64(b.InternString("a")))
	a.Op(OpAllocObj, BuiltinClassIndex(BuiltinExceptionClass))
	a.Op(OpDrop)
	a.Op(OpString, int64(b.InternString("b")))
	a.Op(OpAllocObj, BuiltinClassIndex(BuiltinExceptionClass))
	a.Op(OpDrop)
	a.Op(OpDrop)
	a.Op(OpDrop)
	a.Op(OpI64, 0)
	a.Op(OpRet)
	fn, _ := b.AddFunction(FunctionSpec{
		Name: "stringy", Flags: PublicFlag, ReturnType: I64Type, LocalSlots: 1, Code: a,
	})
	addPackage(t, machine, b)

	spm, err := fn.StackPointerMap()
	if err != nil {
		t.Fatal(err)
	}
	if len(spm.Entries()) != 2 {
		t.Fatalf("entries = %d, want 2", len(spm.Entries()))
	}
	for _, e := range spm.Entries() {
		if int(e.MapOffset)+int(e.MapCount) > spm.bitmap.Len() {
			t.Errorf("entry %+v exceeds bitmap length %d", e, spm.bitmap.Len())
		}
	}
	// First safe point: locals(1 unit) + one string operand.
	first := spm.Entries()[0]
	if first.MapCount != 2 {
		t.Fatalf("first MapCount = %d, want 2", first.MapCount)
	}
	if spm.SlotIsPointer(first, 0) {
		t.Error("unit local must not be a pointer slot")
	}
	if !spm.SlotIsPointer(first, 1) {
		t.Error("string operand must be a pointer slot")
	}
	// Second safe point: the first allocation's result was dropped, so the
	// slots are the unit local and the two strings.
	second := spm.Entries()[1]
	if second.MapCount != 3 {
		t.Fatalf("second MapCount = %d, want 3", second.MapCount)
	}
}

func TestStackPointerMapTypeArgs(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "generics")

	// A generic box class with one parameter.
	param := b.AddTypeParameter("T", 0, NewClassType(machine.builtins[BuiltinObjectClass]), nil)
	box, boxIdx := b.AddClassShell("Box")
	b.FillClass(box, ClassSpec{
		Name: "Box", Flags: PublicFlag,
		Supertype: NewClassType(machine.builtins[BuiltinObjectClass]),
		TypeParams: []*TypeParameter{param},
		Fields: []FieldSpec{{Name: "item", Type: NewVariableType(param)}},
	})

	// make(): allocates Box[String] via a TYS-fed type argument.
	a := NewAssembler()
	a.Op(OpTys, 0)
	a.Op(OpAllocObj, int64(boxIdx))
	a.Op(OpRet)
	fn, _ := b.AddFunction(FunctionSpec{
		Name: "make", Flags: PublicFlag,
		ReturnType: NewClassType(box, NewClassType(machine.builtins[BuiltinStringClass])),
		Code:       a,
		InstTypes:  []*Type{NewClassType(machine.builtins[BuiltinStringClass])},
	})
	addPackage(t, machine, b)

	spm, err := fn.StackPointerMap()
	if err != nil {
		t.Fatal(err)
	}
	if len(spm.Entries()) != 1 {
		t.Fatalf("entries = %d, want 1", len(spm.Entries()))
	}

	// The allocation works at runtime and yields a Box whose item field
	// is reference-typed.
	got, err := fn.CallRaw(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	meta := machine.heap.blockMeta(uintptr(got))
	if meta.class != box {
		t.Errorf("allocated class = %s, want Box", meta.class.Name())
	}
	if !meta.pointerMap.At(1) {
		t.Error("Box.item must be a pointer word in the meta")
	}
}
