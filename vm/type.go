package vm

import "strings"

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// TypeForm discriminates the variants of Type.
type TypeForm uint8

const (
	UnitTypeForm TypeForm = iota
	BooleanTypeForm
	I8TypeForm
	I16TypeForm
	I32TypeForm
	I64TypeForm
	F32TypeForm
	F64TypeForm
	NullTypeForm
	NothingTypeForm
	ClassTypeForm
	VariableTypeForm
)

// Type is an immutable type tree: either a primitive variant, a class type
// with zero or more type arguments, or a reference to a type parameter.
// Classes and Types are mutually recursive; a Type may refer to a Class
// shell that is still being filled by the loader.
type Type struct {
	form  TypeForm
	class *Class
	param *TypeParameter
	args  []*Type
}

// Primitive type singletons.
var (
	UnitType    = &Type{form: UnitTypeForm}
	BooleanType = &Type{form: BooleanTypeForm}
	I8Type      = &Type{form: I8TypeForm}
	I16Type     = &Type{form: I16TypeForm}
	I32Type     = &Type{form: I32TypeForm}
	I64Type     = &Type{form: I64TypeForm}
	F32Type     = &Type{form: F32TypeForm}
	F64Type     = &Type{form: F64TypeForm}
	NullType    = &Type{form: NullTypeForm}
	NothingType = &Type{form: NothingTypeForm}
)

var primitiveTypes = [...]*Type{
	UnitType, BooleanType, I8Type, I16Type, I32Type, I64Type,
	F32Type, F64Type, NullType, NothingType,
}

// NewClassType creates an object type for a class and its type arguments.
func NewClassType(class *Class, args ...*Type) *Type {
	return &Type{form: ClassTypeForm, class: class, args: args}
}

// NewVariableType creates a type referring to a type parameter.
func NewVariableType(param *TypeParameter) *Type {
	return &Type{form: VariableTypeForm, param: param}
}

// Form returns the type's variant.
func (t *Type) Form() TypeForm {
	return t.form
}

// Class returns the class of a class type, or nil.
func (t *Type) Class() *Class {
	return t.class
}

// Parameter returns the type parameter of a variable type, or nil.
func (t *Type) Parameter() *TypeParameter {
	return t.param
}

// Arguments returns the type arguments of a class type.
func (t *Type) Arguments() []*Type {
	return t.args
}

// IsPrimitive returns true for non-reference types.
func (t *Type) IsPrimitive() bool {
	return t.form < NullTypeForm
}

// IsObject returns true iff a value of this type is a reference.
func (t *Type) IsObject() bool {
	switch t.form {
	case ClassTypeForm, NullTypeForm, NothingTypeForm:
		return true
	case VariableTypeForm:
		// Type parameters range over reference types only.
		return true
	default:
		return false
	}
}

// IsFloat returns true for f32 and f64.
func (t *Type) IsFloat() bool {
	return t.form == F32TypeForm || t.form == F64TypeForm
}

// TypeSize returns the word-aligned byte size of a value of this type on
// the stack or in a field. Every value type, primitives included, occupies
// one full word.
func (t *Type) TypeSize() uintptr {
	return wordSize
}

// Equals reports structural equality.
func (t *Type) Equals(other *Type) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil || t.form != other.form {
		return false
	}
	switch t.form {
	case ClassTypeForm:
		if t.class != other.class || len(t.args) != len(other.args) {
			return false
		}
		for i, a := range t.args {
			if !a.Equals(other.args[i]) {
				return false
			}
		}
		return true
	case VariableTypeForm:
		return t.param == other.param
	default:
		return true
	}
}

// ---------------------------------------------------------------------------
// Substitution
// ---------------------------------------------------------------------------

// TypeBindings maps type parameters to the types bound to them.
type TypeBindings map[*TypeParameter]*Type

// Substitute replaces type-parameter occurrences in t per bindings.
// Unbound parameters are left in place.
func (t *Type) Substitute(bindings TypeBindings) *Type {
	switch t.form {
	case VariableTypeForm:
		if bound, ok := bindings[t.param]; ok {
			return bound
		}
		return t
	case ClassTypeForm:
		if len(t.args) == 0 {
			return t
		}
		changed := false
		args := make([]*Type, len(t.args))
		for i, a := range t.args {
			args[i] = a.Substitute(bindings)
			if args[i] != a {
				changed = true
			}
		}
		if !changed {
			return t
		}
		return NewClassType(t.class, args...)
	default:
		return t
	}
}

// TypeArgumentBindings extracts the parameter-to-argument map a class type
// induces on its class. Returns nil for non-class types.
func (t *Type) TypeArgumentBindings() TypeBindings {
	if t.form != ClassTypeForm || len(t.args) == 0 {
		return nil
	}
	bindings := make(TypeBindings, len(t.args))
	for i, param := range t.class.typeParams {
		if i < len(t.args) {
			bindings[param] = t.args[i]
		}
	}
	return bindings
}

// SubstituteForInheritance rewrites t from the defining class's view into
// the receiver class's view by walking the inheritance chain from
// receiverType's class up to definingClass, composing the type-argument
// bindings found along the way.
func (t *Type) SubstituteForInheritance(receiverType *Type, definingClass *Class) *Type {
	if receiverType == nil || receiverType.form != ClassTypeForm {
		return t
	}
	current := receiverType
	for current != nil && current.form == ClassTypeForm {
		bindings := current.TypeArgumentBindings()
		if current.class == definingClass {
			if bindings == nil {
				return t
			}
			return t.Substitute(bindings)
		}
		super := current.class.supertype
		if super == nil {
			break
		}
		if bindings != nil {
			super = super.Substitute(bindings)
		}
		current = super
	}
	return t
}

// ---------------------------------------------------------------------------
// Subtyping
// ---------------------------------------------------------------------------

// IsSubtype reports whether t is a subtype of other. Class subtyping walks
// the supertype chain with inheritance substitution; type arguments are
// compared invariantly.
func (t *Type) IsSubtype(other *Type) bool {
	if t.Equals(other) {
		return true
	}
	if t.form == NothingTypeForm {
		return true
	}
	if t.form == NullTypeForm {
		// Null inhabits every reference type.
		return other.IsObject()
	}
	if t.IsPrimitive() || other.IsPrimitive() {
		return false
	}
	if t.form == VariableTypeForm {
		if upper := t.param.upperBound; upper != nil {
			return upper.IsSubtype(other)
		}
		return false
	}
	if other.form == VariableTypeForm {
		if lower := other.param.lowerBound; lower != nil {
			return t.IsSubtype(lower)
		}
		return false
	}
	// Both are class types: climb t's supertype chain looking for
	// other's class.
	current := t
	for current != nil && current.form == ClassTypeForm {
		if current.class == other.class {
			if len(current.args) != len(other.args) {
				return false
			}
			for i, a := range current.args {
				if !a.Equals(other.args[i]) {
					return false
				}
			}
			return true
		}
		super := current.class.supertype
		if super == nil {
			return false
		}
		if bindings := current.TypeArgumentBindings(); bindings != nil {
			super = super.Substitute(bindings)
		}
		current = super
	}
	return false
}

// String returns a readable form, for logs and disassembly.
func (t *Type) String() string {
	switch t.form {
	case UnitTypeForm:
		return "unit"
	case BooleanTypeForm:
		return "boolean"
	case I8TypeForm:
		return "i8"
	case I16TypeForm:
		return "i16"
	case I32TypeForm:
		return "i32"
	case I64TypeForm:
		return "i64"
	case F32TypeForm:
		return "f32"
	case F64TypeForm:
		return "f64"
	case NullTypeForm:
		return "null"
	case NothingTypeForm:
		return "nothing"
	case VariableTypeForm:
		return t.param.name.String()
	case ClassTypeForm:
		if len(t.args) == 0 {
			return t.class.name.String()
		}
		parts := make([]string, len(t.args))
		for i, a := range t.args {
			parts[i] = a.String()
		}
		return t.class.name.String() + "[" + strings.Join(parts, ", ") + "]"
	default:
		return "?"
	}
}
