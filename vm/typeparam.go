package vm

// ---------------------------------------------------------------------------
// Type parameters
// ---------------------------------------------------------------------------

// TypeParameterFlags carry compiler-emitted attributes of a parameter.
type TypeParameterFlags uint32

const (
	// StaticTypeParameterFlag marks parameters whose arguments are fixed
	// at the call site (pushed with TYS rather than TYD).
	StaticTypeParameterFlag TypeParameterFlags = 1 << iota
)

// TypeParameter is a named, bounded parameter of a generic class or
// function. Like classes, parameters may be created as empty shells and
// filled once their bound types exist.
type TypeParameter struct {
	name       *Name
	flags      TypeParameterFlags
	upperBound *Type
	lowerBound *Type
}

// NewTypeParameter creates a parameter shell. Bounds are filled later.
func NewTypeParameter(name *Name, flags TypeParameterFlags) *TypeParameter {
	return &TypeParameter{name: name, flags: flags}
}

// Name returns the parameter's definition name.
func (p *TypeParameter) Name() *Name {
	return p.name
}

// Flags returns the parameter's flags.
func (p *TypeParameter) Flags() TypeParameterFlags {
	return p.flags
}

// UpperBound returns the parameter's upper bound, or nil while unfilled.
func (p *TypeParameter) UpperBound() *Type {
	return p.upperBound
}

// LowerBound returns the parameter's lower bound, or nil while unfilled.
func (p *TypeParameter) LowerBound() *Type {
	return p.lowerBound
}

// SetBounds fills the parameter shell.
func (p *TypeParameter) SetBounds(upper, lower *Type) {
	p.upperBound = upper
	p.lowerBound = lower
}
