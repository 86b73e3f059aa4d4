package vm

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// Function is one compiled function or method: its signature, packed
// bytecode, block offsets, override chain, and instantiation types. A
// Function is immutable after load except for the lazily built
// StackPointerMap and the cached native implementation.
type Function struct {
	name       *Name
	sourceName *Name
	flags      DefnFlags

	typeParams []*TypeParameter
	returnType *Type
	paramTypes []*Type

	pkg           *Package
	definingClass *Class

	// localsSize is the byte size of the locals region.
	localsSize uint32

	// instructions is the packed bytecode. blockOffsets maps basic-block
	// indices (branch operands) to byte offsets into instructions.
	instructions []byte
	blockOffsets []uint32

	// overrides lists the immediately overridden methods, used to find
	// the root override for vtable dispatch. pendingOverrides holds
	// (dependency, index) pairs until linking resolves them.
	overrides        []*Function
	pendingOverrides [][2]int

	// instTypes are the instantiation types referenced by TYS/TYD.
	instTypes []*Type

	// spm is built on first use by the pointer-map builder.
	spm *StackPointerMap

	// native caches the resolved host implementation of a native
	// function.
	native NativeFunction
}

// NewFunctionShell reserves an uninitialized function for back-patching.
func NewFunctionShell(name *Name) *Function {
	return &Function{name: name}
}

// Fill populates a function shell.
func (f *Function) Fill(sourceName *Name, flags DefnFlags, typeParams []*TypeParameter,
	returnType *Type, paramTypes []*Type, localsSize uint32,
	instructions []byte, blockOffsets []uint32, instTypes []*Type) {
	f.sourceName = sourceName
	f.flags = flags
	f.typeParams = typeParams
	f.returnType = returnType
	f.paramTypes = paramTypes
	f.localsSize = localsSize
	f.instructions = instructions
	f.blockOffsets = blockOffsets
	f.instTypes = instTypes
}

// Name returns the definition name.
func (f *Function) Name() *Name {
	return f.name
}

// SourceName returns the source name.
func (f *Function) SourceName() *Name {
	return f.sourceName
}

// Flags returns the function's flags.
func (f *Function) Flags() DefnFlags {
	return f.flags
}

// IsNative returns true for host-implemented functions.
func (f *Function) IsNative() bool {
	return f.flags.IsNative()
}

// Package returns the owning package.
func (f *Function) Package() *Package {
	return f.pkg
}

// DefiningClass returns the class this method belongs to, or nil.
func (f *Function) DefiningClass() *Class {
	return f.definingClass
}

// TypeParameters returns the function's type parameters.
func (f *Function) TypeParameters() []*TypeParameter {
	return f.typeParams
}

// ReturnType returns the declared return type.
func (f *Function) ReturnType() *Type {
	return f.returnType
}

// ParameterTypes returns the declared parameter types. For methods the
// receiver is parameter 0.
func (f *Function) ParameterTypes() []*Type {
	return f.paramTypes
}

// ParameterCount returns the number of parameter words.
func (f *Function) ParameterCount() int {
	return len(f.paramTypes)
}

// LocalsSize returns the byte size of the locals region.
func (f *Function) LocalsSize() uint32 {
	return f.localsSize
}

// LocalsCount returns the number of local slots.
func (f *Function) LocalsCount() int {
	return int(f.localsSize / wordSize)
}

// Instructions returns the packed bytecode.
func (f *Function) Instructions() []byte {
	return f.instructions
}

// BlockOffset returns the byte offset of basic block i.
// Panics if i is out of range.
func (f *Function) BlockOffset(i int) int {
	if i < 0 || i >= len(f.blockOffsets) {
		panic("Function.BlockOffset: index out of range")
	}
	return int(f.blockOffsets[i])
}

// BlockCount returns the number of basic blocks.
func (f *Function) BlockCount() int {
	return len(f.blockOffsets)
}

// InstantiationType returns entry i of the instantiation-types table.
func (f *Function) InstantiationType(i int) *Type {
	if i < 0 || i >= len(f.instTypes) {
		panic("Function.InstantiationType: index out of range")
	}
	return f.instTypes[i]
}

// Overrides returns the immediately overridden methods.
func (f *Function) Overrides() []*Function {
	return f.overrides
}

// RootOverride walks the override chain to the topmost ancestor that
// introduced this method. The result keys vtable dispatch.
func (f *Function) RootOverride() *Function {
	cur := f
	for len(cur.overrides) > 0 {
		cur = cur.overrides[0]
	}
	return cur
}

// StackPointerMap returns the function's pointer map, building it on first
// use.
func (f *Function) StackPointerMap() (*StackPointerMap, error) {
	if f.spm == nil {
		spm, err := buildStackPointerMap(f)
		if err != nil {
			return nil, err
		}
		f.spm = spm
	}
	return f.spm, nil
}

// String returns a readable identity for logs and stack traces.
func (f *Function) String() string {
	if f.definingClass != nil {
		return f.definingClass.name.String() + "." + f.name.String()
	}
	return f.name.String()
}
