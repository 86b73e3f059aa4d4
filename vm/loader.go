package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// ---------------------------------------------------------------------------
// Package files
// ---------------------------------------------------------------------------

// PackageMagic identifies a compiled package file.
var PackageMagic = [4]byte{'T', 'P', 'K', 'G'}

// Format version understood by this loader.
const (
	PackageFormatMajor uint16 = 1
	PackageFormatMinor uint16 = 0
)

// PackageFileExtension is the extension of compiled package files.
const PackageFileExtension = ".tpkg"

// ---------------------------------------------------------------------------
// Raw parse representation
// ---------------------------------------------------------------------------
//
// Tables may reference entries of tables that appear later in the file
// (globals name their types, types name their classes), so the loader
// reads everything into raw index form first, reserves shells, and then
// materializes in dependency order: type-parameter and class shells, then
// types, then bounds, classes, functions, and globals.

type rawDependency struct {
	nameRef    int
	minVersion PackageVersion
	maxVersion PackageVersion
	globals    []int // name-refs
	functions  []int
	classes    []int
}

type rawGlobal struct {
	flags     uint32
	nameRef   int
	sourceRef int
	typeRef   int
}

type rawFunction struct {
	flags        uint32
	builtinID    uint64
	nameRef      int
	sourceRef    int
	typeParams   []int
	typeRefs     []int // return type first
	localsSize   uint32
	instructions []byte
	blockOffsets []uint32
	overrides    [][2]int // {-1, local index} or {dep, index}
	instTypes    []int
}

type rawField struct {
	nameRef   int
	sourceRef int
	flags     uint32
	typeRef   int
}

type rawClass struct {
	nameRef          int
	sourceRef        int
	flags            uint32
	typeParams       []int
	supertypeRef     int // -1 none
	fields           []rawField
	constructors     []int
	methods          []int
	elementTypeRef   int // -1 none
	lengthFieldIndex int
}

type rawTypeParam struct {
	nameRef  int
	flags    uint32
	upperRef int // -1 none
	lowerRef int
}

type rawType struct {
	form     TypeForm
	classRef [3]int // kind, a, b: see the classRef* constants below
	paramRef int
	argRefs  []int
}

// class reference kinds in the type table
const (
	classRefLocal   = 0 // a = local class index
	classRefBuiltin = 1 // a = builtin class id
	classRefExtern  = 2 // a = dependency index, b = linked class index
)

type rawPackage struct {
	flags     uint32
	nameRef   int
	version   PackageVersion
	deps      []rawDependency
	strings   []string
	names     []*Name
	globals   []rawGlobal
	functions []rawFunction
	classes   []rawClass
	params    []rawTypeParam
	types     []rawType
	entryFnID int
}

// ---------------------------------------------------------------------------
// Binary reader
// ---------------------------------------------------------------------------

type packageReader struct {
	r *bytes.Reader
}

func (pr *packageReader) uvbn() (uint64, error) { return readUVbn(pr.r) }
func (pr *packageReader) svbn() (int64, error) { return readVbn(pr.r) }
func (pr *packageReader) length() (int, error) {
	v, err := pr.uvbn()
	if err != nil {
		return 0, err
	}
	if v > 1<<24 {
		return 0, fmt.Errorf("implausible table length %d", v)
	}
	return int(v), nil
}

func (pr *packageReader) u16() (uint16, error) {
	var buf [2]byte
	if _, err := pr.r.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (pr *packageReader) u32() (uint32, error) {
	var buf [4]byte
	if _, err := pr.r.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (pr *packageReader) version() (PackageVersion, error) {
	var v PackageVersion
	var err error
	if v.Major, err = pr.u16(); err != nil {
		return v, err
	}
	if v.Minor, err = pr.u16(); err != nil {
		return v, err
	}
	v.Patch, err = pr.u16()
	return v, err
}

func (pr *packageReader) data(n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	read, err := pr.r.Read(buf)
	if err != nil || read != n {
		return nil, fmt.Errorf("truncated data of %d bytes", n)
	}
	return buf, nil
}

func (pr *packageReader) refList() ([]int, error) {
	n, err := pr.length()
	if err != nil {
		return nil, err
	}
	refs := make([]int, n)
	for i := range refs {
		v, err := pr.uvbn()
		if err != nil {
			return nil, err
		}
		refs[i] = int(v)
	}
	return refs, nil
}

// parsePackage reads the full binary layout into raw form.
func parsePackage(data []byte) (*rawPackage, error) {
	pr := &packageReader{r: bytes.NewReader(data)}

	magic, err := pr.data(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, PackageMagic[:]) {
		return nil, fmt.Errorf("bad magic %q", magic)
	}
	major, err := pr.u16()
	if err != nil {
		return nil, err
	}
	minor, err := pr.u16()
	if err != nil {
		return nil, err
	}
	if major != PackageFormatMajor {
		return nil, fmt.Errorf("format version %d.%d unsupported", major, minor)
	}

	raw := &rawPackage{}
	if raw.flags, err = pr.u32(); err != nil {
		return nil, err
	}
	nameRef, err := pr.uvbn()
	if err != nil {
		return nil, err
	}
	raw.nameRef = int(nameRef)
	if raw.version, err = pr.version(); err != nil {
		return nil, err
	}

	// Dependencies.
	depCount, err := pr.length()
	if err != nil {
		return nil, err
	}
	raw.deps = make([]rawDependency, depCount)
	for i := range raw.deps {
		d := &raw.deps[i]
		ref, err := pr.uvbn()
		if err != nil {
			return nil, err
		}
		d.nameRef = int(ref)
		if d.minVersion, err = pr.version(); err != nil {
			return nil, err
		}
		if d.maxVersion, err = pr.version(); err != nil {
			return nil, err
		}
		if d.globals, err = pr.refList(); err != nil {
			return nil, err
		}
		if d.functions, err = pr.refList(); err != nil {
			return nil, err
		}
		if d.classes, err = pr.refList(); err != nil {
			return nil, err
		}
	}

	// String pool.
	stringCount, err := pr.length()
	if err != nil {
		return nil, err
	}
	raw.strings = make([]string, stringCount)
	for i := range raw.strings {
		n, err := pr.length()
		if err != nil {
			return nil, err
		}
		b, err := pr.data(n)
		if err != nil {
			return nil, err
		}
		raw.strings[i] = string(b)
	}

	// Name pool: components are string refs.
	nameCount, err := pr.length()
	if err != nil {
		return nil, err
	}
	raw.names = make([]*Name, nameCount)
	for i := range raw.names {
		refs, err := pr.refList()
		if err != nil {
			return nil, err
		}
		components := make([]string, len(refs))
		for j, ref := range refs {
			if ref >= len(raw.strings) {
				return nil, fmt.Errorf("name %d: string ref %d out of range", i, ref)
			}
			components[j] = raw.strings[ref]
		}
		if raw.names[i], err = NewName(components...); err != nil {
			return nil, fmt.Errorf("name %d: %w", i, err)
		}
	}

	// Global table.
	globalCount, err := pr.length()
	if err != nil {
		return nil, err
	}
	raw.globals = make([]rawGlobal, globalCount)
	for i := range raw.globals {
		g := &raw.globals[i]
		if g.flags, err = pr.u32(); err != nil {
			return nil, err
		}
		if g.nameRef, g.sourceRef, err = pr.namePair(); err != nil {
			return nil, err
		}
		ref, err := pr.uvbn()
		if err != nil {
			return nil, err
		}
		g.typeRef = int(ref)
	}

	// Function table.
	fnCount, err := pr.length()
	if err != nil {
		return nil, err
	}
	raw.functions = make([]rawFunction, fnCount)
	for i := range raw.functions {
		if err := pr.readFunction(&raw.functions[i]); err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
	}

	// Class table.
	classCount, err := pr.length()
	if err != nil {
		return nil, err
	}
	raw.classes = make([]rawClass, classCount)
	for i := range raw.classes {
		if err := pr.readClass(&raw.classes[i]); err != nil {
			return nil, fmt.Errorf("class %d: %w", i, err)
		}
	}

	// Type-parameter table.
	paramCount, err := pr.length()
	if err != nil {
		return nil, err
	}
	raw.params = make([]rawTypeParam, paramCount)
	for i := range raw.params {
		p := &raw.params[i]
		ref, err := pr.uvbn()
		if err != nil {
			return nil, err
		}
		p.nameRef = int(ref)
		if p.flags, err = pr.u32(); err != nil {
			return nil, err
		}
		upper, err := pr.svbn()
		if err != nil {
			return nil, err
		}
		lower, err := pr.svbn()
		if err != nil {
			return nil, err
		}
		p.upperRef, p.lowerRef = int(upper), int(lower)
	}

	// Type table.
	typeCount, err := pr.length()
	if err != nil {
		return nil, err
	}
	raw.types = make([]rawType, typeCount)
	for i := range raw.types {
		if err := pr.readType(&raw.types[i]); err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
	}

	entry, err := pr.svbn()
	if err != nil {
		return nil, err
	}
	raw.entryFnID = int(entry)
	return raw, nil
}

// namePair reads a defn name ref and an optional source name ref (-1).
func (pr *packageReader) namePair() (int, int, error) {
	nameRef, err := pr.uvbn()
	if err != nil {
		return 0, 0, err
	}
	sourceRef, err := pr.svbn()
	if err != nil {
		return 0, 0, err
	}
	return int(nameRef), int(sourceRef), nil
}

func (pr *packageReader) readFunction(f *rawFunction) error {
	var err error
	if f.flags, err = pr.u32(); err != nil {
		return err
	}
	if f.builtinID, err = pr.uvbn(); err != nil {
		return err
	}
	if f.nameRef, f.sourceRef, err = pr.namePair(); err != nil {
		return err
	}
	if f.typeParams, err = pr.refList(); err != nil {
		return err
	}
	if f.typeRefs, err = pr.refList(); err != nil {
		return err
	}
	if len(f.typeRefs) == 0 {
		return fmt.Errorf("missing return type")
	}
	locals, err := pr.uvbn()
	if err != nil {
		return err
	}
	f.localsSize = uint32(locals)
	instrLen, err := pr.length()
	if err != nil {
		return err
	}
	if f.instructions, err = pr.data(instrLen); err != nil {
		return err
	}
	offsets, err := pr.refList()
	if err != nil {
		return err
	}
	f.blockOffsets = make([]uint32, len(offsets))
	for i, o := range offsets {
		if o > instrLen {
			return fmt.Errorf("block offset %d past end of instructions", o)
		}
		f.blockOffsets[i] = uint32(o)
	}
	overrideCount, err := pr.length()
	if err != nil {
		return err
	}
	f.overrides = make([][2]int, overrideCount)
	for i := range f.overrides {
		dep, err := pr.svbn()
		if err != nil {
			return err
		}
		idx, err := pr.uvbn()
		if err != nil {
			return err
		}
		f.overrides[i] = [2]int{int(dep), int(idx)}
	}
	f.instTypes, err = pr.refList()
	return err
}

func (pr *packageReader) readClass(c *rawClass) error {
	var err error
	if c.nameRef, c.sourceRef, err = pr.namePair(); err != nil {
		return err
	}
	if c.flags, err = pr.u32(); err != nil {
		return err
	}
	if c.typeParams, err = pr.refList(); err != nil {
		return err
	}
	super, err := pr.svbn()
	if err != nil {
		return err
	}
	c.supertypeRef = int(super)
	fieldCount, err := pr.length()
	if err != nil {
		return err
	}
	c.fields = make([]rawField, fieldCount)
	for i := range c.fields {
		fl := &c.fields[i]
		if fl.nameRef, fl.sourceRef, err = pr.namePair(); err != nil {
			return err
		}
		if fl.flags, err = pr.u32(); err != nil {
			return err
		}
		ref, err := pr.uvbn()
		if err != nil {
			return err
		}
		fl.typeRef = int(ref)
	}
	if c.constructors, err = pr.refList(); err != nil {
		return err
	}
	if c.methods, err = pr.refList(); err != nil {
		return err
	}
	element, err := pr.svbn()
	if err != nil {
		return err
	}
	c.elementTypeRef = int(element)
	lengthField, err := pr.svbn()
	if err != nil {
		return err
	}
	c.lengthFieldIndex = int(lengthField)
	return nil
}

func (pr *packageReader) readType(t *rawType) error {
	form, err := pr.r.ReadByte()
	if err != nil {
		return err
	}
	t.form = TypeForm(form)
	switch t.form {
	case ClassTypeForm:
		kind, err := pr.uvbn()
		if err != nil {
			return err
		}
		t.classRef[0] = int(kind)
		switch int(kind) {
		case classRefLocal, classRefBuiltin:
			a, err := pr.uvbn()
			if err != nil {
				return err
			}
			t.classRef[1] = int(a)
		case classRefExtern:
			a, err := pr.uvbn()
			if err != nil {
				return err
			}
			b, err := pr.uvbn()
			if err != nil {
				return err
			}
			t.classRef[1], t.classRef[2] = int(a), int(b)
		default:
			return fmt.Errorf("bad class reference kind %d", kind)
		}
		t.argRefs, err = pr.refList()
		return err
	case VariableTypeForm:
		ref, err := pr.uvbn()
		if err != nil {
			return err
		}
		t.paramRef = int(ref)
		return nil
	default:
		if int(t.form) >= len(primitiveTypes) {
			return fmt.Errorf("bad type form %d", t.form)
		}
		return nil
	}
}

// ---------------------------------------------------------------------------
// Materialization
// ---------------------------------------------------------------------------

// materialize turns a rawPackage into a Package with all internal
// references resolved. Dependency links stay unresolved until link runs.
func (raw *rawPackage) materialize() (*Package, error) {
	name, err := nameAt(raw.names, raw.nameRef)
	if err != nil {
		return nil, err
	}
	p := &Package{
		name:      name,
		version:   raw.version,
		flags:     raw.flags,
		strings:   raw.strings,
		names:     raw.names,
		entryFnID: raw.entryFnID,
	}

	// Shells first: classes, type parameters, functions.
	p.classes = make([]*Class, len(raw.classes))
	for i, rc := range raw.classes {
		n, err := nameAt(raw.names, rc.nameRef)
		if err != nil {
			return nil, err
		}
		p.classes[i] = NewClassShell(n)
		p.classes[i].pkg = p
	}
	p.typeParams = make([]*TypeParameter, len(raw.params))
	for i, rp := range raw.params {
		n, err := nameAt(raw.names, rp.nameRef)
		if err != nil {
			return nil, err
		}
		p.typeParams[i] = NewTypeParameter(n, TypeParameterFlags(rp.flags))
	}
	p.functions = make([]*Function, len(raw.functions))
	for i, rf := range raw.functions {
		n, err := nameAt(raw.names, rf.nameRef)
		if err != nil {
			return nil, err
		}
		p.functions[i] = NewFunctionShell(n)
		p.functions[i].pkg = p
	}

	// Dependencies carry the extern name lists.
	p.dependencies = make([]*PackageDependency, len(raw.deps))
	for i, rd := range raw.deps {
		n, err := nameAt(raw.names, rd.nameRef)
		if err != nil {
			return nil, err
		}
		dep := &PackageDependency{name: n, minVersion: rd.minVersion, maxVersion: rd.maxVersion}
		if dep.externGlobalNames, err = namesAt(raw.names, rd.globals); err != nil {
			return nil, err
		}
		if dep.externFunctionNames, err = namesAt(raw.names, rd.functions); err != nil {
			return nil, err
		}
		if dep.externClassNames, err = namesAt(raw.names, rd.classes); err != nil {
			return nil, err
		}
		p.dependencies[i] = dep
	}

	// Types next; they may point at the unfilled class shells.
	p.types = make([]*Type, len(raw.types))
	for i, rt := range raw.types {
		switch rt.form {
		case ClassTypeForm:
			var class *Class
			switch rt.classRef[0] {
			case classRefLocal:
				if rt.classRef[1] >= len(p.classes) {
					return nil, fmt.Errorf("type %d: class %d out of range", i, rt.classRef[1])
				}
				class = p.classes[rt.classRef[1]]
			case classRefBuiltin:
				// Builtin classes are attached when the package is
				// adopted by a VM; keep the reference symbolic.
				class = builtinShellFor(BuiltinClassID(rt.classRef[1]))
				if class == nil {
					return nil, fmt.Errorf("type %d: unknown builtin class %d", i, rt.classRef[1])
				}
			case classRefExtern:
				if rt.classRef[1] >= len(p.dependencies) {
					return nil, fmt.Errorf("type %d: dependency %d out of range", i, rt.classRef[1])
				}
				// Resolved after linking; record a placeholder that
				// linkTypes patches.
				class = nil
			}
			args := make([]*Type, len(rt.argRefs))
			p.types[i] = &Type{form: ClassTypeForm, class: class, args: args}
		case VariableTypeForm:
			if rt.paramRef >= len(p.typeParams) {
				return nil, fmt.Errorf("type %d: parameter %d out of range", i, rt.paramRef)
			}
			p.types[i] = NewVariableType(p.typeParams[rt.paramRef])
		default:
			p.types[i] = primitiveTypes[rt.form]
		}
	}
	// Second pass fills type arguments (types may reference later types).
	for i, rt := range raw.types {
		if rt.form != ClassTypeForm {
			continue
		}
		for j, ref := range rt.argRefs {
			t, err := typeAt(p.types, ref)
			if err != nil {
				return nil, err
			}
			p.types[i].args[j] = t
		}
	}

	// Type-parameter bounds.
	for i, rp := range raw.params {
		var upper, lower *Type
		if rp.upperRef >= 0 {
			if upper, err = typeAt(p.types, rp.upperRef); err != nil {
				return nil, err
			}
		}
		if rp.lowerRef >= 0 {
			if lower, err = typeAt(p.types, rp.lowerRef); err != nil {
				return nil, err
			}
		}
		p.typeParams[i].SetBounds(upper, lower)
	}

	// Fill classes.
	for i, rc := range raw.classes {
		class := p.classes[i]
		sourceName, err := optionalName(raw.names, rc.sourceRef)
		if err != nil {
			return nil, err
		}
		params, err := paramsAt(p.typeParams, rc.typeParams)
		if err != nil {
			return nil, err
		}
		var supertype *Type
		if rc.supertypeRef >= 0 {
			if supertype, err = typeAt(p.types, rc.supertypeRef); err != nil {
				return nil, err
			}
		}
		fields := make([]*Field, len(rc.fields))
		for j, rf := range rc.fields {
			fn, err := nameAt(raw.names, rf.nameRef)
			if err != nil {
				return nil, err
			}
			fsn, err := optionalName(raw.names, rf.sourceRef)
			if err != nil {
				return nil, err
			}
			ft, err := typeAt(p.types, rf.typeRef)
			if err != nil {
				return nil, err
			}
			fields[j] = &Field{name: fn, sourceName: fsn, flags: DefnFlags(rf.flags), typ: ft}
		}
		var elementType *Type
		if rc.elementTypeRef >= 0 {
			if elementType, err = typeAt(p.types, rc.elementTypeRef); err != nil {
				return nil, err
			}
		}
		class.Fill(sourceName, DefnFlags(rc.flags), params, supertype, fields, elementType, rc.lengthFieldIndex)
		for _, fi := range rc.constructors {
			fn, err := functionAt(p.functions, fi)
			if err != nil {
				return nil, err
			}
			fn.definingClass = class
			class.constructors = append(class.constructors, fn)
		}
		for _, mi := range rc.methods {
			fn, err := functionAt(p.functions, mi)
			if err != nil {
				return nil, err
			}
			fn.definingClass = class
			class.methods = append(class.methods, fn)
		}
	}

	// Fill functions.
	for i, rf := range raw.functions {
		fn := p.functions[i]
		sourceName, err := optionalName(raw.names, rf.sourceRef)
		if err != nil {
			return nil, err
		}
		params, err := paramsAt(p.typeParams, rf.typeParams)
		if err != nil {
			return nil, err
		}
		types := make([]*Type, len(rf.typeRefs))
		for j, ref := range rf.typeRefs {
			if types[j], err = typeAt(p.types, ref); err != nil {
				return nil, err
			}
		}
		instTypes := make([]*Type, len(rf.instTypes))
		for j, ref := range rf.instTypes {
			if instTypes[j], err = typeAt(p.types, ref); err != nil {
				return nil, err
			}
		}
		fn.Fill(sourceName, DefnFlags(rf.flags), params, types[0], types[1:],
			rf.localsSize, rf.instructions, rf.blockOffsets, instTypes)
	}
	// Override chains, once every function shell is filled.
	for i, rf := range raw.functions {
		fn := p.functions[i]
		for _, ov := range rf.overrides {
			if ov[0] < 0 {
				target, err := functionAt(p.functions, ov[1])
				if err != nil {
					return nil, err
				}
				fn.overrides = append(fn.overrides, target)
			} else {
				// Foreign override: resolved after dependency linking.
				fn.pendingOverrides = append(fn.pendingOverrides, ov)
			}
		}
	}

	// Globals.
	p.globals = make([]*Global, len(raw.globals))
	for i, rg := range raw.globals {
		n, err := nameAt(raw.names, rg.nameRef)
		if err != nil {
			return nil, err
		}
		sn, err := optionalName(raw.names, rg.sourceRef)
		if err != nil {
			return nil, err
		}
		t, err := typeAt(p.types, rg.typeRef)
		if err != nil {
			return nil, err
		}
		p.globals[i] = NewGlobal(n, sn, DefnFlags(rg.flags), t)
		p.globals[i].pkg = p
	}

	if p.entryFnID >= len(p.functions) {
		return nil, fmt.Errorf("entry function %d out of range", p.entryFnID)
	}
	p.rawTypes = raw.types
	return p, nil
}

// resolveExternTypes patches extern class references in the type table
// once dependencies are linked, and resolves foreign override chains.
func (p *Package) resolveExternTypes() error {
	for i, rt := range p.rawTypes {
		if rt.form != ClassTypeForm || rt.classRef[0] != classRefExtern {
			continue
		}
		class := p.dependencyClass(rt.classRef[1], rt.classRef[2])
		if class == nil {
			return fmt.Errorf("type %d: extern class unresolved", i)
		}
		p.types[i].class = class
	}
	for _, fn := range p.functions {
		for _, ov := range fn.pendingOverrides {
			fn.overrides = append(fn.overrides, p.dependencyFunction(ov[0], ov[1]))
		}
		fn.pendingOverrides = nil
	}
	return nil
}

// adoptBuiltins replaces builtin class placeholders in the type table with
// the VM's real builtin classes.
func (p *Package) adoptBuiltins(vm *VM) {
	for i, rt := range p.rawTypes {
		if rt.form == ClassTypeForm && rt.classRef[0] == classRefBuiltin {
			p.types[i].class = vm.builtinClass(BuiltinClassID(rt.classRef[1]))
		}
	}
}

func nameAt(names []*Name, i int) (*Name, error) {
	if i < 0 || i >= len(names) {
		return nil, fmt.Errorf("name ref %d out of range", i)
	}
	return names[i], nil
}

func optionalName(names []*Name, i int) (*Name, error) {
	if i < 0 {
		return nil, nil
	}
	return nameAt(names, i)
}

func namesAt(names []*Name, refs []int) ([]*Name, error) {
	result := make([]*Name, len(refs))
	for i, r := range refs {
		n, err := nameAt(names, r)
		if err != nil {
			return nil, err
		}
		result[i] = n
	}
	return result, nil
}

func typeAt(types []*Type, i int) (*Type, error) {
	if i < 0 || i >= len(types) {
		return nil, fmt.Errorf("type ref %d out of range", i)
	}
	return types[i], nil
}

func functionAt(fns []*Function, i int) (*Function, error) {
	if i < 0 || i >= len(fns) {
		return nil, fmt.Errorf("function ref %d out of range", i)
	}
	return fns[i], nil
}

func paramsAt(params []*TypeParameter, refs []int) ([]*TypeParameter, error) {
	result := make([]*TypeParameter, len(refs))
	for i, r := range refs {
		if r < 0 || r >= len(params) {
			return nil, fmt.Errorf("type parameter ref %d out of range", r)
		}
		result[i] = params[r]
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// Loading into a VM
// ---------------------------------------------------------------------------

// LoadPackage finds, parses, links, and registers the named package and
// its dependencies.
func (vm *VM) LoadPackage(name *Name) (*Package, error) {
	return vm.loadPackageNamed(name, PackageVersion{}, PackageVersion{}, map[string]bool{})
}

// LoadPackageFromFile loads one package file; its dependencies are
// resolved through the search paths.
func (vm *VM) LoadPackageFromFile(path string) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Message: "read " + path, Err: err}
	}
	return vm.loadPackageBytes(data, map[string]bool{})
}

func (vm *VM) loadPackageNamed(name *Name, min, max PackageVersion, loading map[string]bool) (*Package, error) {
	if p := vm.FindPackage(name); p != nil {
		if !p.version.InRange(min, max) {
			return nil, &LoadError{Package: name, Message: fmt.Sprintf("loaded version %s outside requested range", p.version)}
		}
		return p, nil
	}
	if loading[name.key()] {
		return nil, &LoadError{Package: name, Message: "dependency cycle", Err: ErrPackageCycle}
	}
	data, err := vm.findPackageData(name)
	if err != nil {
		return nil, err
	}
	loading[name.key()] = true
	defer delete(loading, name.key())
	p, err := vm.loadPackageBytes(data, loading)
	if err != nil {
		return nil, err
	}
	if !p.name.Equals(name) {
		return nil, &LoadError{Package: name, Message: fmt.Sprintf("file contains package %s", p.name)}
	}
	if !p.version.InRange(min, max) {
		return nil, &LoadError{Package: name, Message: fmt.Sprintf("version %s outside requested range", p.version)}
	}
	return p, nil
}

func (vm *VM) loadPackageBytes(data []byte, loading map[string]bool) (*Package, error) {
	raw, err := parsePackage(data)
	if err != nil {
		return nil, &LoadError{Message: "malformed package file", Err: err}
	}
	p, err := raw.materialize()
	if err != nil {
		return nil, &LoadError{Message: "malformed package file", Err: err}
	}
	if existing := vm.FindPackage(p.name); existing != nil {
		return existing, nil
	}
	loading[p.name.key()] = true
	defer delete(loading, p.name.key())
	for _, dep := range p.dependencies {
		depPkg, err := vm.loadPackageNamed(dep.name, dep.minVersion, dep.maxVersion, loading)
		if err != nil {
			return nil, err
		}
		dep.pkg = depPkg
	}
	p.adoptBuiltins(vm)
	if err := p.link(); err != nil {
		return nil, err
	}
	if err := p.resolveExternTypes(); err != nil {
		return nil, &LoadError{Package: p.name, Message: "extern resolution", Err: err}
	}
	if err := vm.registerPackage(p); err != nil {
		return nil, err
	}
	return p, nil
}

// findPackageData searches the configured directories in order, then the
// package store. First match wins.
func (vm *VM) findPackageData(name *Name) ([]byte, error) {
	fileName := name.String() + PackageFileExtension
	for _, dir := range vm.searchPaths {
		path := filepath.Join(dir, fileName)
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	if vm.store != nil {
		if data, err := vm.store.Latest(name.String()); err == nil && data != nil {
			return data, nil
		}
	}
	return nil, &LoadError{Package: name, Message: "package not found on search paths"}
}
