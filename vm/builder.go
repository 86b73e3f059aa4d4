package vm

import "fmt"

// ---------------------------------------------------------------------------
// PackageBuilder
// ---------------------------------------------------------------------------
//
// PackageBuilder constructs packages programmatically, maintaining the
// string, name, and type pools the serializer needs. The compiler uses the
// same pools when emitting package files; here it backs tests, tools, and
// host-assembled support packages.

// PackageBuilder accumulates a package under construction.
type PackageBuilder struct {
	p *Package

	stringIdx map[string]int
	nameIdx   map[string]int
	typeIdx   map[string]int
}

// NewPackageBuilder starts a package with the given dotted name.
func NewPackageBuilder(name string, version PackageVersion) (*PackageBuilder, error) {
	b := &PackageBuilder{
		p:         &Package{version: version, entryFnID: -1},
		stringIdx: make(map[string]int),
		nameIdx:   make(map[string]int),
		typeIdx:   make(map[string]int),
	}
	n, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	b.p.name = b.internName(n)
	return b, nil
}

// InternString adds a string to the pool and returns its index.
func (b *PackageBuilder) InternString(s string) int {
	if idx, ok := b.stringIdx[s]; ok {
		return idx
	}
	idx := len(b.p.strings)
	b.p.strings = append(b.p.strings, s)
	b.stringIdx[s] = idx
	return idx
}

// Name interns a dotted name in the pool.
func (b *PackageBuilder) Name(s string) *Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return b.internName(n)
}

func (b *PackageBuilder) internName(n *Name) *Name {
	if idx, ok := b.nameIdx[n.key()]; ok {
		return b.p.names[idx]
	}
	for _, c := range n.components {
		b.InternString(c)
	}
	b.nameIdx[n.key()] = len(b.p.names)
	b.p.names = append(b.p.names, n)
	return n
}

// InternType adds a type to the type table, deduplicating structurally.
func (b *PackageBuilder) InternType(t *Type) *Type {
	key := fmt.Sprintf("%d/%s", t.form, t)
	if idx, ok := b.typeIdx[key]; ok {
		return b.p.types[idx]
	}
	for _, arg := range t.args {
		b.InternType(arg)
	}
	b.typeIdx[key] = len(b.p.types)
	b.p.types = append(b.p.types, t)
	return t
}

// AddTypeParameter adds a type parameter to the table.
func (b *PackageBuilder) AddTypeParameter(name string, flags TypeParameterFlags, upper, lower *Type) *TypeParameter {
	tp := NewTypeParameter(b.Name(name), flags)
	if upper != nil {
		upper = b.InternType(upper)
	}
	if lower != nil {
		lower = b.InternType(lower)
	}
	tp.SetBounds(upper, lower)
	b.p.typeParams = append(b.p.typeParams, tp)
	return tp
}

// AddGlobal adds a global slot.
func (b *PackageBuilder) AddGlobal(name, sourceName string, flags DefnFlags, typ *Type) (*Global, int) {
	var sn *Name
	if sourceName != "" {
		sn = b.Name(sourceName)
	}
	g := NewGlobal(b.Name(name), sn, flags, b.InternType(typ))
	g.pkg = b.p
	b.p.globals = append(b.p.globals, g)
	return g, len(b.p.globals) - 1
}

// FunctionSpec describes one function to add.
type FunctionSpec struct {
	Name       string
	SourceName string
	Flags      DefnFlags
	TypeParams []*TypeParameter
	ReturnType *Type
	ParamTypes []*Type
	LocalSlots int
	Code       *Assembler
	InstTypes  []*Type
}

// AddFunction adds a function and returns it with its table index.
func (b *PackageBuilder) AddFunction(spec FunctionSpec) (*Function, int) {
	fn := NewFunctionShell(b.Name(spec.Name))
	fn.pkg = b.p
	var sn *Name
	if spec.SourceName != "" {
		sn = b.Name(spec.SourceName)
	}
	params := make([]*Type, len(spec.ParamTypes))
	for i, t := range spec.ParamTypes {
		params[i] = b.InternType(t)
	}
	instTypes := make([]*Type, len(spec.InstTypes))
	for i, t := range spec.InstTypes {
		instTypes[i] = b.InternType(t)
	}
	var code []byte
	var offsets []uint32
	if spec.Code != nil {
		code = spec.Code.Code()
		offsets = spec.Code.BlockOffsets()
	}
	fn.Fill(sn, spec.Flags, spec.TypeParams, b.InternType(spec.ReturnType), params,
		uint32(spec.LocalSlots*wordSize), code, offsets, instTypes)
	b.p.functions = append(b.p.functions, fn)
	return fn, len(b.p.functions) - 1
}

// ClassSpec describes one class to add.
type ClassSpec struct {
	Name             string
	SourceName       string
	Flags            DefnFlags
	TypeParams       []*TypeParameter
	Supertype        *Type
	Fields           []FieldSpec
	ElementType      *Type
	LengthFieldIndex int
}

// FieldSpec describes one field of a ClassSpec.
type FieldSpec struct {
	Name  string
	Flags DefnFlags
	Type  *Type
}

// AddClassShell reserves a class so types may refer to it before FillClass.
func (b *PackageBuilder) AddClassShell(name string) (*Class, int) {
	c := NewClassShell(b.Name(name))
	c.pkg = b.p
	b.p.classes = append(b.p.classes, c)
	return c, len(b.p.classes) - 1
}

// FillClass populates a reserved class shell.
func (b *PackageBuilder) FillClass(c *Class, spec ClassSpec) {
	var sn *Name
	if spec.SourceName != "" {
		sn = b.Name(spec.SourceName)
	}
	var supertype *Type
	if spec.Supertype != nil {
		supertype = b.InternType(spec.Supertype)
	}
	fields := make([]*Field, len(spec.Fields))
	for i, fs := range spec.Fields {
		fields[i] = &Field{name: b.Name(fs.Name), flags: fs.Flags, typ: b.InternType(fs.Type)}
	}
	var elementType *Type
	lengthFieldIndex := -1
	if spec.ElementType != nil {
		elementType = b.InternType(spec.ElementType)
		lengthFieldIndex = spec.LengthFieldIndex
	}
	c.Fill(sn, spec.Flags, spec.TypeParams, supertype, fields, elementType, lengthFieldIndex)
}

// AddMethod attaches a function to a class as a method.
func (b *PackageBuilder) AddMethod(c *Class, fn *Function, overrides ...*Function) {
	fn.definingClass = c
	fn.flags |= MethodFlag
	fn.overrides = append(fn.overrides, overrides...)
	c.methods = append(c.methods, fn)
}

// AddConstructor attaches a function to a class as a constructor.
func (b *PackageBuilder) AddConstructor(c *Class, fn *Function) {
	fn.definingClass = c
	fn.flags |= ConstructorFlag
	c.constructors = append(c.constructors, fn)
}

// AddDependency declares a dependency with its extern symbol lists.
// Bytecode references symbols of this dependency by position in these
// lists.
func (b *PackageBuilder) AddDependency(name string, globals, functions, classes []string) int {
	dep := &PackageDependency{name: b.Name(name)}
	for _, g := range globals {
		dep.externGlobalNames = append(dep.externGlobalNames, b.Name(g))
	}
	for _, f := range functions {
		dep.externFunctionNames = append(dep.externFunctionNames, b.Name(f))
	}
	for _, c := range classes {
		dep.externClassNames = append(dep.externClassNames, b.Name(c))
	}
	b.p.dependencies = append(b.p.dependencies, dep)
	return len(b.p.dependencies) - 1
}

// SetEntry marks the entry function.
func (b *PackageBuilder) SetEntry(index int) {
	b.p.entryFnID = index
}

// Build returns the finished package.
func (b *PackageBuilder) Build() *Package {
	return b.p
}

// ---------------------------------------------------------------------------
// Adoption of host-built packages
// ---------------------------------------------------------------------------

// AddPackage links and registers a host-constructed package. Dependencies
// must already be loaded into the VM.
func (vm *VM) AddPackage(p *Package) error {
	for _, dep := range p.dependencies {
		if dep.pkg == nil {
			dep.pkg = vm.FindPackage(dep.name)
			if dep.pkg == nil {
				return &LoadError{Package: p.name, Message: fmt.Sprintf("dependency %s not loaded", dep.name)}
			}
		}
	}
	if err := p.link(); err != nil {
		return err
	}
	if err := p.resolveExternTypes(); err != nil {
		return &LoadError{Package: p.name, Message: "extern resolution", Err: err}
	}
	return vm.registerPackage(p)
}
