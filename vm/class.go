package vm

// ---------------------------------------------------------------------------
// Classes and fields
// ---------------------------------------------------------------------------

// Class describes one source-language class: its fields, supertype,
// constructors, and methods. Classes and Types are mutually recursive, so
// the loader reserves empty Class shells first and fills them once the
// types they mention exist. A Class is immutable after its package finishes
// loading, except for the lazily built Meta and vtable.
type Class struct {
	name       *Name
	sourceName *Name
	flags      DefnFlags

	typeParams []*TypeParameter
	supertype  *Type
	fields     []*Field

	constructors []*Function
	methods      []*Function

	pkg *Package

	// elementType and lengthFieldIndex describe array-like classes.
	// lengthFieldIndex is -1 for ordinary classes.
	elementType      *Type
	lengthFieldIndex int

	// meta is built once fields and supertype are known.
	meta *Meta

	// vtable maps the root override of each callable method to the
	// implementation this class dispatches to.
	vtable map[*Function]*Function

	// isBuiltin and builtinID identify package-less builtin classes for
	// the serializer.
	isBuiltin bool
	builtinID BuiltinClassID
}

// Field is a named, typed slot of a class instance.
type Field struct {
	name       *Name
	sourceName *Name
	flags      DefnFlags
	typ        *Type

	// offset is the byte offset within a block, assigned when the
	// defining class's Meta is built.
	offset uintptr
}

// NewClassShell reserves an uninitialized class. The loader fills it with
// Fill once the class's types have been read.
func NewClassShell(name *Name) *Class {
	return &Class{name: name, lengthFieldIndex: -1}
}

// Fill populates a class shell.
func (c *Class) Fill(sourceName *Name, flags DefnFlags, typeParams []*TypeParameter,
	supertype *Type, fields []*Field, elementType *Type, lengthFieldIndex int) {
	c.sourceName = sourceName
	c.flags = flags
	c.typeParams = typeParams
	c.supertype = supertype
	c.fields = fields
	c.elementType = elementType
	c.lengthFieldIndex = lengthFieldIndex
}

// Name returns the definition name.
func (c *Class) Name() *Name {
	return c.name
}

// SourceName returns the source name.
func (c *Class) SourceName() *Name {
	return c.sourceName
}

// Flags returns the class's flags.
func (c *Class) Flags() DefnFlags {
	return c.flags
}

// Package returns the owning package, or nil for builtin classes.
func (c *Class) Package() *Package {
	return c.pkg
}

// TypeParameters returns the class's type parameters.
func (c *Class) TypeParameters() []*TypeParameter {
	return c.typeParams
}

// Supertype returns the class's supertype, or nil for the root class.
func (c *Class) Supertype() *Type {
	return c.supertype
}

// Superclass returns the class of the supertype, or nil.
func (c *Class) Superclass() *Class {
	if c.supertype == nil {
		return nil
	}
	return c.supertype.Class()
}

// Fields returns the class's own fields, in declaration order. Inherited
// fields precede them in the instance layout.
func (c *Class) Fields() []*Field {
	return c.fields
}

// Methods returns the class's own methods.
func (c *Class) Methods() []*Function {
	return c.methods
}

// Constructors returns the class's constructors.
func (c *Class) Constructors() []*Function {
	return c.constructors
}

// ElementType returns the element type of an array-like class, or nil.
func (c *Class) ElementType() *Type {
	return c.elementType
}

// IsArrayLike returns true if instances carry an element region.
func (c *Class) IsArrayLike() bool {
	return c.elementType != nil
}

// IsSubclassOf walks the superclass chain.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Superclass() {
		if cur == other {
			return true
		}
	}
	return false
}

// FindField returns the field with the given name, searching inherited
// fields too, or nil.
func (c *Class) FindField(name *Name) *Field {
	for cur := c; cur != nil; cur = cur.Superclass() {
		for _, f := range cur.fields {
			if f.name.Equals(name) || (f.sourceName != nil && f.sourceName.Equals(name)) {
				return f
			}
		}
	}
	return nil
}

// allFields returns inherited fields followed by own fields, the instance
// layout order.
func (c *Class) allFields() []*Field {
	var fields []*Field
	if super := c.Superclass(); super != nil {
		fields = super.allFields()
	}
	return append(fields, c.fields...)
}

// ---------------------------------------------------------------------------
// Meta construction
// ---------------------------------------------------------------------------

// BuildMeta computes the class's instance layout and registers a Meta with
// the VM. Field offsets are assigned here; the length field of an
// array-like class keeps its normal field offset. Safe to call repeatedly.
func (c *Class) BuildMeta(vm *VM) *Meta {
	if c.meta != nil {
		return c.meta
	}
	fields := c.allFields()
	instanceSize := uintptr(blockHeaderSize) + uintptr(len(fields))*wordSize

	bt := ObjectBlockType
	if c.IsArrayLike() {
		bt = ArrayBlockType
	}

	meta := &Meta{
		blockType:    bt,
		class:        c,
		instanceSize: uint32(instanceSize),
		pointerMap:   NewBitmap(int(instanceSize / wordSize)),
	}
	for i, f := range fields {
		f.offset = uintptr(blockHeaderSize) + uintptr(i)*wordSize
		if f.typ.IsObject() {
			meta.pointerMap.Set(i+1, true)
		}
	}
	if c.IsArrayLike() {
		meta.hasElements = true
		meta.elementSize = uint32(c.elementTypeSize())
		meta.elementsArePointers = c.elementType.IsObject()
		idx := c.lengthFieldIndex
		if idx < 0 || idx >= len(fields) {
			panic("BuildMeta: array-like class without length field")
		}
		meta.lengthOffset = uint32(fields[idx].offset)
	}
	vm.registerMeta(meta)
	c.meta = meta
	return meta
}

// elementTypeSize returns the byte size of one element. Byte-sized element
// types pack; everything else takes a word.
func (c *Class) elementTypeSize() uintptr {
	switch c.elementType.Form() {
	case I8TypeForm, BooleanTypeForm:
		return 1
	case I16TypeForm:
		return 2
	case I32TypeForm, F32TypeForm:
		return 4
	default:
		return wordSize
	}
}

// Meta returns the class's meta, building it if needed.
func (c *Class) Meta(vm *VM) *Meta {
	return c.BuildMeta(vm)
}

// ---------------------------------------------------------------------------
// Virtual dispatch
// ---------------------------------------------------------------------------

// BuildVTable fills the class's dispatch table: for every method, the root
// override id (the topmost ancestor that introduced the method) keys the
// implementation this class sees. Inherited entries are copied from the
// superclass first, then overridden.
func (c *Class) BuildVTable() {
	if c.vtable != nil {
		return
	}
	c.vtable = make(map[*Function]*Function)
	if super := c.Superclass(); super != nil {
		super.BuildVTable()
		for root, impl := range super.vtable {
			c.vtable[root] = impl
		}
	}
	for _, m := range c.methods {
		c.vtable[m.RootOverride()] = m
	}
}

// Dispatch resolves a virtual call on this class for the given statically
// named method. Returns nil if the class does not implement it.
func (c *Class) Dispatch(method *Function) *Function {
	c.BuildVTable()
	return c.vtable[method.RootOverride()]
}

// ---------------------------------------------------------------------------
// Field accessors
// ---------------------------------------------------------------------------

// Name returns the field's definition name.
func (f *Field) Name() *Name {
	return f.name
}

// Type returns the field's declared type.
func (f *Field) Type() *Type {
	return f.typ
}

// Flags returns the field's flags.
func (f *Field) Flags() DefnFlags {
	return f.flags
}

// Offset returns the field's byte offset within a block. Valid only after
// the defining class's Meta has been built.
func (f *Field) Offset() uintptr {
	return f.offset
}
