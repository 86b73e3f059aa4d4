package vm

// ---------------------------------------------------------------------------
// Definition flags
// ---------------------------------------------------------------------------

// DefnFlags carry the compiler-emitted attribute bits shared by globals,
// functions, classes, and fields.
type DefnFlags uint32

const (
	// PublicFlag marks a definition visible to importing packages by its
	// source name.
	PublicFlag DefnFlags = 1 << iota

	// ConstantFlag marks a global or field that may be stored only once.
	ConstantFlag

	// NativeFlag marks a function implemented by the host.
	NativeFlag

	// MethodFlag marks a function that is a method of some class.
	MethodFlag

	// ConstructorFlag marks a function that is a constructor.
	ConstructorFlag

	// ArrayFlag marks a class with an element region.
	ArrayFlag
)

// IsPublic returns true if the public bit is set.
func (f DefnFlags) IsPublic() bool {
	return f&PublicFlag != 0
}

// IsConstant returns true if the constant bit is set.
func (f DefnFlags) IsConstant() bool {
	return f&ConstantFlag != 0
}

// IsNative returns true if the native bit is set.
func (f DefnFlags) IsNative() bool {
	return f&NativeFlag != 0
}
