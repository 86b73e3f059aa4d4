package vm

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// Global is a module-level named slot. It starts uninitialized, which is
// distinct from holding null; loading an uninitialized global raises the
// uninitialized-access exception.
type Global struct {
	name       *Name
	sourceName *Name
	flags      DefnFlags
	typ        *Type
	pkg        *Package

	value       uint64
	initialized bool
}

// NewGlobal creates an uninitialized global.
func NewGlobal(name, sourceName *Name, flags DefnFlags, typ *Type) *Global {
	return &Global{name: name, sourceName: sourceName, flags: flags, typ: typ}
}

// Name returns the definition name.
func (g *Global) Name() *Name {
	return g.name
}

// SourceName returns the source name.
func (g *Global) SourceName() *Name {
	return g.sourceName
}

// Type returns the declared type.
func (g *Global) Type() *Type {
	return g.typ
}

// Flags returns the global's flags.
func (g *Global) Flags() DefnFlags {
	return g.flags
}

// IsConstant returns true if the global may be stored only once.
func (g *Global) IsConstant() bool {
	return g.flags.IsConstant()
}

// IsInitialized returns true once the global has been stored.
func (g *Global) IsInitialized() bool {
	return g.initialized
}

// RawValue returns the stored word. Valid only when initialized.
func (g *Global) RawValue() uint64 {
	return g.value
}

// SetRawValue stores a word and marks the global initialized.
func (g *Global) SetRawValue(v uint64) {
	g.value = v
	g.initialized = true
}
