package vm

import "fmt"

// ---------------------------------------------------------------------------
// Packages
// ---------------------------------------------------------------------------

// PackageVersion is a semantic version triple.
type PackageVersion struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Compare returns -1, 0, or 1.
func (v PackageVersion) Compare(other PackageVersion) int {
	pairs := [3][2]uint16{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

// InRange reports min <= v <= max. A zero max means unbounded.
func (v PackageVersion) InRange(min, max PackageVersion) bool {
	if v.Compare(min) < 0 {
		return false
	}
	if max != (PackageVersion{}) && v.Compare(max) > 0 {
		return false
	}
	return true
}

func (v PackageVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// PackageDependency names a required package, the acceptable version range,
// and the external symbols this package references in it. The linked arrays
// are filled by symbol resolution at load time.
type PackageDependency struct {
	name       *Name
	minVersion PackageVersion
	maxVersion PackageVersion

	// Names of the external symbols, read from the package file. Each
	// entry is resolved against the dependency's public table.
	externGlobalNames   []*Name
	externFunctionNames []*Name
	externClassNames    []*Name

	// pkg is the resolved dependency.
	pkg *Package

	// linked arrays resolve external reference indices to concrete
	// definitions in the loaded dependency.
	linkedGlobals   []*Global
	linkedFunctions []*Function
	linkedClasses   []*Class
}

// Name returns the dependency's package name.
func (d *PackageDependency) Name() *Name {
	return d.name
}

// Package returns the resolved dependency, or nil before linking.
func (d *PackageDependency) Package() *Package {
	return d.pkg
}

// Package is the unit of compiled distribution: one loadable file holding
// classes, functions, globals, and the cross-package links the loader
// resolved.
type Package struct {
	name    *Name
	version PackageVersion
	flags   uint32

	dependencies []*PackageDependency

	strings     []string
	names       []*Name
	globals     []*Global
	functions   []*Function
	classes     []*Class
	typeParams  []*TypeParameter
	types       []*Type
	entryFnID   int
	initialized bool

	natives *NativeRegistry

	// vmRef is set when the package is registered with a VM.
	vmRef *VM

	// stringHandles roots the interned blocks of the string pool, one
	// per entry, so STRING never allocates at runtime.
	stringHandles []*PersistentHandle

	// rawTypes keeps the type table's encoded form for late extern and
	// builtin patching, and for serialization.
	rawTypes []rawType
}

// internStrings allocates a block for every string-pool entry and roots
// it. Called once at registration.
func (p *Package) internStrings(vm *VM) error {
	p.stringHandles = make([]*PersistentHandle, len(p.strings))
	for i, s := range p.strings {
		addr, err := vm.NewStringBlock(s)
		if err != nil {
			return err
		}
		p.stringHandles[i] = vm.heap.NewPersistentHandle(addr)
	}
	return nil
}

// internedString returns the interned block for string-pool entry i.
func (p *Package) internedString(i int) uintptr {
	return p.stringHandles[i].Address()
}

// Name returns the package name.
func (p *Package) Name() *Name {
	return p.name
}

// Version returns the package version.
func (p *Package) Version() PackageVersion {
	return p.version
}

// Dependencies returns the dependency list.
func (p *Package) Dependencies() []*PackageDependency {
	return p.dependencies
}

// Globals returns the global table.
func (p *Package) Globals() []*Global {
	return p.globals
}

// Functions returns the function table.
func (p *Package) Functions() []*Function {
	return p.functions
}

// Classes returns the class table.
func (p *Package) Classes() []*Class {
	return p.classes
}

// EntryFunction returns the entry function, or nil.
func (p *Package) EntryFunction() *Function {
	if p.entryFnID < 0 || p.entryFnID >= len(p.functions) {
		return nil
	}
	return p.functions[p.entryFnID]
}

// Natives returns the package's native-function registry, creating it on
// first use.
func (p *Package) Natives() *NativeRegistry {
	if p.natives == nil {
		p.natives = NewNativeRegistry()
	}
	return p.natives
}

// ---------------------------------------------------------------------------
// Symbol lookup
//
// A source name queries public symbols only; a definition name queries all
// symbols of the package, private included.
// ---------------------------------------------------------------------------

func symbolVisible(sourceLookup bool, flags DefnFlags) bool {
	return !sourceLookup || flags.IsPublic()
}

// FindGlobal returns the global with the given source name (public symbols
// only), or nil.
func (p *Package) FindGlobal(name *Name) *Global {
	return p.findGlobal(name, true)
}

// FindGlobalByDefnName returns the global with the given definition name,
// private symbols included, or nil.
func (p *Package) FindGlobalByDefnName(name *Name) *Global {
	return p.findGlobal(name, false)
}

func (p *Package) findGlobal(name *Name, sourceLookup bool) *Global {
	for _, g := range p.globals {
		if !symbolVisible(sourceLookup, g.flags) {
			continue
		}
		if sourceLookup && g.sourceName != nil && g.sourceName.Equals(name) {
			return g
		}
		if !sourceLookup && g.name.Equals(name) {
			return g
		}
	}
	return nil
}

// FindFunction returns the function with the given source name (public
// symbols only), or nil.
func (p *Package) FindFunction(name *Name) *Function {
	return p.findFunction(name, true)
}

// FindFunctionByDefnName returns the function with the given definition
// name, private symbols included, or nil.
func (p *Package) FindFunctionByDefnName(name *Name) *Function {
	return p.findFunction(name, false)
}

func (p *Package) findFunction(name *Name, sourceLookup bool) *Function {
	for _, f := range p.functions {
		if !symbolVisible(sourceLookup, f.flags) {
			continue
		}
		if sourceLookup && f.sourceName != nil && f.sourceName.Equals(name) {
			return f
		}
		if !sourceLookup && f.name.Equals(name) {
			return f
		}
	}
	return nil
}

// FindClass returns the class with the given source name (public symbols
// only), or nil.
func (p *Package) FindClass(name *Name) *Class {
	return p.findClass(name, true)
}

// FindClassByDefnName returns the class with the given definition name,
// private symbols included, or nil.
func (p *Package) FindClassByDefnName(name *Name) *Class {
	return p.findClass(name, false)
}

func (p *Package) findClass(name *Name, sourceLookup bool) *Class {
	for _, c := range p.classes {
		if !symbolVisible(sourceLookup, c.flags) {
			continue
		}
		if sourceLookup && c.sourceName != nil && c.sourceName.Equals(name) {
			return c
		}
		if !sourceLookup && c.name.Equals(name) {
			return c
		}
	}
	return nil
}

// link resolves every external reference of every dependency against the
// loaded dependency packages. Loading fails if any symbol is missing.
func (p *Package) link() error {
	for _, dep := range p.dependencies {
		if dep.pkg == nil {
			return &LoadError{Package: p.name, Message: fmt.Sprintf("dependency %s not resolved", dep.name)}
		}
		dep.linkedGlobals = make([]*Global, len(dep.externGlobalNames))
		for i, n := range dep.externGlobalNames {
			g := dep.pkg.FindGlobal(n)
			if g == nil {
				return &LoadError{Package: p.name, Message: fmt.Sprintf("unresolved global %s in %s", n, dep.name)}
			}
			dep.linkedGlobals[i] = g
		}
		dep.linkedFunctions = make([]*Function, len(dep.externFunctionNames))
		for i, n := range dep.externFunctionNames {
			f := dep.pkg.FindFunction(n)
			if f == nil {
				return &LoadError{Package: p.name, Message: fmt.Sprintf("unresolved function %s in %s", n, dep.name)}
			}
			dep.linkedFunctions[i] = f
		}
		dep.linkedClasses = make([]*Class, len(dep.externClassNames))
		for i, n := range dep.externClassNames {
			c := dep.pkg.FindClass(n)
			if c == nil {
				return &LoadError{Package: p.name, Message: fmt.Sprintf("unresolved class %s in %s", n, dep.name)}
			}
			dep.linkedClasses[i] = c
		}
	}
	return nil
}

// FindField returns the named field of the named class, searching public
// classes by source name, or nil.
func (p *Package) FindField(className, fieldName *Name) *Field {
	c := p.FindClass(className)
	if c == nil {
		return nil
	}
	return c.FindField(fieldName)
}

// FindFieldByDefnName returns the named field of the named class by
// definition names, private symbols included, or nil.
func (p *Package) FindFieldByDefnName(className, fieldName *Name) *Field {
	c := p.FindClassByDefnName(className)
	if c == nil {
		return nil
	}
	return c.FindField(fieldName)
}

// linkedFunctionRef finds (dependency, index) for a function resolved from
// a dependency, for the serializer.
func (p *Package) linkedFunctionRef(fn *Function) (int, int, bool) {
	for di, dep := range p.dependencies {
		for i, f := range dep.linkedFunctions {
			if f == fn {
				return di, i, true
			}
		}
	}
	return 0, 0, false
}

// linkedClassRef finds (dependency, index) for a class resolved from a
// dependency, for the serializer.
func (p *Package) linkedClassRef(c *Class) (int, int, bool) {
	for di, dep := range p.dependencies {
		for i, lc := range dep.linkedClasses {
			if lc == c {
				return di, i, true
			}
		}
	}
	return 0, 0, false
}

// dependencyGlobal resolves external global (dep, index).
func (p *Package) dependencyGlobal(dep, index int) *Global {
	return p.dependencies[dep].linkedGlobals[index]
}

// dependencyFunction resolves external function (dep, index).
func (p *Package) dependencyFunction(dep, index int) *Function {
	return p.dependencies[dep].linkedFunctions[index]
}

// dependencyClass resolves external class (dep, index).
func (p *Package) dependencyClass(dep, index int) *Class {
	return p.dependencies[dep].linkedClasses[index]
}
