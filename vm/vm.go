package vm

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: the Tern virtual machine
// ---------------------------------------------------------------------------

// VM owns one heap, one interpreter, and the packages loaded into it.
// Instances are isolated: nothing is shared between two VMs, and a VM must
// only be used from one goroutine at a time.
type VM struct {
	id  uuid.UUID
	log commonlog.Logger

	searchPaths []string
	store       *PackageStore

	heap   *Heap
	interp *Interpreter
	bridge *nativeBridge

	packages       []*Package
	packagesByName map[string]*Package

	metas        []*Meta
	builtins     [builtinClassCount]*Class
	faultHandles [builtinClassCount]*PersistentHandle
}

// Option configures a VM at construction.
type Option func(*VM)

// WithSearchPaths sets the ordered package search directories.
func WithSearchPaths(paths ...string) Option {
	return func(vm *VM) { vm.searchPaths = paths }
}

// WithPackageStore attaches a content-addressed package store consulted
// after the search paths.
func WithPackageStore(store *PackageStore) Option {
	return func(vm *VM) { vm.store = store }
}

// NewVM constructs and bootstraps a VM.
func NewVM(opts ...Option) (*VM, error) {
	vm := &VM{
		id:             uuid.New(),
		log:            commonlog.GetLogger("tern.vm"),
		packagesByName: make(map[string]*Package),
	}
	for _, opt := range opts {
		opt(vm)
	}
	heap, err := newHeap(vm)
	if err != nil {
		return nil, fmt.Errorf("vm bootstrap: %w", err)
	}
	vm.heap = heap
	vm.interp = newInterpreter(vm)
	vm.bridge = &nativeBridge{vm: vm}
	if err := vm.bootstrapBuiltins(); err != nil {
		return nil, fmt.Errorf("vm bootstrap: %w", err)
	}
	vm.log.Debugf("vm %s ready, %d search paths", vm.id, len(vm.searchPaths))
	return vm, nil
}

// ID returns the VM's instance id.
func (vm *VM) ID() uuid.UUID {
	return vm.id
}

// Close releases the heap. The VM must not be used afterwards.
func (vm *VM) Close() {
	vm.heap.release()
}

// Heap returns the VM's heap, for handle management by host code.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// registerMeta assigns an id to a meta and records it.
func (vm *VM) registerMeta(m *Meta) {
	m.id = uint32(len(vm.metas))
	vm.metas = append(vm.metas, m)
}

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

// NameFromSource parses a dot-separated source name.
func (vm *VM) NameFromSource(s string) (*Name, error) {
	return ParseName(s)
}

// NameFromDefn parses a dot-separated definition name.
func (vm *VM) NameFromDefn(s string) (*Name, error) {
	return ParseName(s)
}

// ---------------------------------------------------------------------------
// Packages
// ---------------------------------------------------------------------------

// FindPackage returns the loaded package with the given name, or nil.
func (vm *VM) FindPackage(name *Name) *Package {
	return vm.packagesByName[name.key()]
}

// Packages returns the loaded packages in load order.
func (vm *VM) Packages() []*Package {
	return vm.packages
}

// registerPackage records a freshly loaded package, interns its string
// pool, and runs its initializer entry if present.
func (vm *VM) registerPackage(p *Package) error {
	p.vmRef = vm
	if err := p.internStrings(vm); err != nil {
		return err
	}
	for _, c := range p.classes {
		c.BuildMeta(vm)
		c.BuildVTable()
	}
	vm.packages = append(vm.packages, p)
	vm.packagesByName[p.name.key()] = p
	vm.log.Infof("loaded package %s %s", p.name, p.version)
	if entry := p.EntryFunction(); entry != nil && !p.initialized {
		p.initialized = true
		if _, err := vm.interp.Call(entry, nil, nil); err != nil {
			return fmt.Errorf("initializer of %s: %w", p.name, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Host invocation
// ---------------------------------------------------------------------------

// CallForI64 invokes a function whose result is an integer, boolean, or
// unit.
func (f *Function) CallForI64(args ...int64) (int64, error) {
	vm, err := f.hostVM()
	if err != nil {
		return 0, err
	}
	words := make([]uint64, len(args))
	for i, a := range args {
		words[i] = uint64(a)
	}
	result, err := vm.interp.Call(f, words, nil)
	return int64(result), err
}

// CallForF64 invokes a function whose result is f64.
func (f *Function) CallForF64(args ...float64) (float64, error) {
	vm, err := f.hostVM()
	if err != nil {
		return 0, err
	}
	words := make([]uint64, len(args))
	for i, a := range args {
		words[i] = wordFromFloat64(a)
	}
	result, err := vm.interp.Call(f, words, nil)
	return float64FromWord(result), err
}

// CallRaw invokes a function with raw argument words. Reference arguments
// must be rooted by the caller for the duration of the call.
func (f *Function) CallRaw(args []uint64, typeArgs []*Type) (uint64, error) {
	vm, err := f.hostVM()
	if err != nil {
		return 0, err
	}
	return vm.interp.Call(f, args, typeArgs)
}

func (f *Function) hostVM() (*VM, error) {
	if f.pkg == nil || f.pkg.vmRef == nil {
		return nil, fmt.Errorf("%s: function is not attached to a VM", f)
	}
	return f.pkg.vmRef, nil
}

// Value returns a global's raw word. An integer global reads as the
// integer itself.
func (g *Global) Value() (uint64, error) {
	if !g.initialized {
		return 0, fmt.Errorf("global %s is uninitialized", g.name)
	}
	return g.value, nil
}

// SetValue stores a global's raw word.
func (g *Global) SetValue(v uint64) error {
	if g.IsConstant() && g.initialized {
		return fmt.Errorf("global %s is constant", g.name)
	}
	g.SetRawValue(v)
	return nil
}
