package vm

// ---------------------------------------------------------------------------
// Builtin classes
// ---------------------------------------------------------------------------
//
// A small set of classes exists before any package loads: the root class,
// strings, reference arrays, the in-heap hash map, and the exception
// hierarchy behind the interpreter's fault checks. Bytecode refers to them
// with negative class indices. They are created at bootstrap with the same
// two-phase shell-then-fill construction the loader uses, because their
// Class and Type objects are mutually recursive.

// BuiltinClassID names a builtin class. The bytecode encoding of builtin
// class i is -(i+1).
type BuiltinClassID int

const (
	BuiltinObjectClass BuiltinClassID = iota
	BuiltinStringClass
	BuiltinRefArrayClass
	BuiltinHashMapClass
	BuiltinExceptionClass
	BuiltinUninitializedExceptionClass
	BuiltinOutOfBoundsExceptionClass
	BuiltinCastExceptionClass
	BuiltinArithmeticExceptionClass
	BuiltinNullPointerExceptionClass
	BuiltinNoSuchElementExceptionClass
	builtinClassCount
)

var builtinClassNames = [builtinClassCount]string{
	"Object",
	"String",
	"Array",
	"HashMap",
	"Exception",
	"UninitializedException",
	"OutOfBoundsException",
	"CastException",
	"ArithmeticException",
	"NullPointerException",
	"NoSuchElementException",
}

// builtinShells are placeholder classes used while a package file is
// materialized outside a VM; adoption swaps in the VM's real builtins.
var builtinShells = func() [builtinClassCount]*Class {
	var shells [builtinClassCount]*Class
	for id := BuiltinClassID(0); id < builtinClassCount; id++ {
		shells[id] = NewClassShell(mustName(builtinClassNames[id]))
		shells[id].isBuiltin = true
		shells[id].builtinID = id
	}
	return shells
}()

// builtinShellFor returns the placeholder class for a builtin id, or nil.
func builtinShellFor(id BuiltinClassID) *Class {
	if id < 0 || id >= builtinClassCount {
		return nil
	}
	return builtinShells[id]
}

// builtinClass returns the builtin class for id, or nil.
func (vm *VM) builtinClass(id BuiltinClassID) *Class {
	if id < 0 || id >= builtinClassCount {
		return nil
	}
	return vm.builtins[id]
}

// BuiltinClassIndex returns the bytecode class index for a builtin.
func BuiltinClassIndex(id BuiltinClassID) int64 {
	return -(int64(id) + 1)
}

// bootstrapBuiltins creates the builtin classes and preallocates the fault
// exceptions the interpreter throws.
func (vm *VM) bootstrapBuiltins() error {
	// Phase 1: reserve shells so types can refer to classes that are not
	// filled yet.
	for id := BuiltinClassID(0); id < builtinClassCount; id++ {
		vm.builtins[id] = NewClassShell(mustName(builtinClassNames[id]))
		vm.builtins[id].isBuiltin = true
		vm.builtins[id].builtinID = id
	}

	object := vm.builtins[BuiltinObjectClass]
	objectType := NewClassType(object)

	lengthField := func() *Field {
		return &Field{name: mustName("length"), flags: PublicFlag | ConstantFlag, typ: I64Type}
	}

	// Phase 2: fill.
	object.Fill(mustName("Object"), PublicFlag, nil, nil, nil, nil, -1)

	vm.builtins[BuiltinStringClass].Fill(mustName("String"), PublicFlag, nil, objectType,
		[]*Field{lengthField()}, I8Type, 0)

	vm.builtins[BuiltinRefArrayClass].Fill(mustName("Array"), PublicFlag, nil, objectType,
		[]*Field{lengthField()}, objectType, 0)

	stringType := NewClassType(vm.builtins[BuiltinStringClass])
	refArrayType := NewClassType(vm.builtins[BuiltinRefArrayClass])

	vm.builtins[BuiltinHashMapClass].Fill(mustName("HashMap"), PublicFlag, nil, objectType,
		[]*Field{
			{name: mustName("table"), typ: refArrayType},
			{name: mustName("size"), typ: I64Type},
			{name: mustName("tombstones"), typ: I64Type},
		}, nil, -1)

	vm.builtins[BuiltinExceptionClass].Fill(mustName("Exception"), PublicFlag, nil, objectType,
		[]*Field{{name: mustName("message"), flags: PublicFlag, typ: stringType}}, nil, -1)

	exceptionType := NewClassType(vm.builtins[BuiltinExceptionClass])
	for id := BuiltinUninitializedExceptionClass; id < builtinClassCount; id++ {
		vm.builtins[id].Fill(mustName(builtinClassNames[id]), PublicFlag, nil, exceptionType, nil, nil, -1)
	}

	// Metas and the preallocated fault instances.
	for id := BuiltinClassID(0); id < builtinClassCount; id++ {
		vm.builtins[id].BuildMeta(vm)
	}
	for id := BuiltinExceptionClass; id < builtinClassCount; id++ {
		addr, err := vm.heap.AllocateObject(vm.builtins[id].meta)
		if err != nil {
			return err
		}
		// A null message, not the uninitialized sentinel: fault
		// exceptions are readable without faulting again.
		storeWord(addr+objectFieldsOffset, 0)
		vm.faultHandles[id] = vm.heap.NewPersistentHandle(addr)
	}
	return nil
}

// faultException returns the preallocated exception block for a builtin
// fault class. Preallocation keeps fault paths free of allocation, so
// faults can be raised at PCs that are not GC-safe points.
func (vm *VM) faultException(id BuiltinClassID) uintptr {
	h := vm.faultHandles[id]
	if h == nil {
		panic(assertionFailure{message: "no preallocated exception for " + builtinClassNames[id]})
	}
	return h.Address()
}

// exceptionMessage reads the message field of an exception block, or "".
func (vm *VM) exceptionMessage(addr uintptr) string {
	class := vm.heap.blockMeta(addr).class
	if !class.IsSubclassOf(vm.builtins[BuiltinExceptionClass]) {
		return ""
	}
	msg := uintptr(blockField(addr, objectFieldsOffset))
	if msg == 0 || uint64(msg) == uninitializedSentinel {
		return ""
	}
	return vm.StringValue(msg)
}
