package vm

import "testing"

// makeClassChain builds Base <- Mid <- Leaf for subtype tests.
func makeClassChain() (*Class, *Class, *Class) {
	base := NewClassShell(mustName("Base"))
	base.Fill(mustName("Base"), PublicFlag, nil, nil, nil, nil, -1)
	mid := NewClassShell(mustName("Mid"))
	mid.Fill(mustName("Mid"), PublicFlag, nil, NewClassType(base), nil, nil, -1)
	leaf := NewClassShell(mustName("Leaf"))
	leaf.Fill(mustName("Leaf"), PublicFlag, nil, NewClassType(mid), nil, nil, -1)
	return base, mid, leaf
}

func TestPrimitiveTypeProperties(t *testing.T) {
	if I64Type.IsObject() {
		t.Error("i64 must not be an object type")
	}
	if !NullType.IsObject() {
		t.Error("null must be an object type")
	}
	if UnitType.TypeSize() != wordSize {
		t.Errorf("unit size = %d, want %d", UnitType.TypeSize(), wordSize)
	}
	if !F32Type.IsFloat() || I32Type.IsFloat() {
		t.Error("float classification wrong")
	}
}

func TestIsSubtypeChain(t *testing.T) {
	base, mid, leaf := makeClassChain()
	baseT, midT, leafT := NewClassType(base), NewClassType(mid), NewClassType(leaf)

	if !leafT.IsSubtype(baseT) {
		t.Error("Leaf <: Base should hold")
	}
	if !leafT.IsSubtype(midT) {
		t.Error("Leaf <: Mid should hold")
	}
	if baseT.IsSubtype(leafT) {
		t.Error("Base <: Leaf should not hold")
	}
	if !NothingType.IsSubtype(leafT) {
		t.Error("nothing <: Leaf should hold")
	}
	if !NullType.IsSubtype(baseT) {
		t.Error("null <: Base should hold")
	}
	if I64Type.IsSubtype(baseT) {
		t.Error("i64 <: Base should not hold")
	}
}

func TestSubstitute(t *testing.T) {
	base, _, _ := makeClassChain()
	param := NewTypeParameter(mustName("T"), 0)
	varT := NewVariableType(param)

	box := NewClassShell(mustName("Box"))
	box.Fill(mustName("Box"), PublicFlag, []*TypeParameter{param}, NewClassType(base), nil, nil, -1)

	boxOfT := NewClassType(box, varT)
	bindings := TypeBindings{param: I64Type}

	got := boxOfT.Substitute(bindings)
	if got.Class() != box || !got.Arguments()[0].Equals(I64Type) {
		t.Errorf("Substitute produced %s, want Box[i64]", got)
	}

	// Substitution with no occurrences returns the same tree.
	baseT := NewClassType(base)
	if baseT.Substitute(bindings) != baseT {
		t.Error("substitution without occurrences should be identity")
	}
}

func TestSubstituteForInheritance(t *testing.T) {
	// Container[T] declares a field of type T; Holder extends
	// Container[Base]. Viewed from Holder, T is Base.
	base, _, _ := makeClassChain()
	param := NewTypeParameter(mustName("T"), 0)
	varT := NewVariableType(param)

	container := NewClassShell(mustName("Container"))
	container.Fill(mustName("Container"), PublicFlag, []*TypeParameter{param}, nil, nil, nil, -1)

	holder := NewClassShell(mustName("Holder"))
	holder.Fill(mustName("Holder"), PublicFlag, nil,
		NewClassType(container, NewClassType(base)), nil, nil, -1)

	got := varT.SubstituteForInheritance(NewClassType(holder), container)
	if got.Class() != base {
		t.Errorf("SubstituteForInheritance produced %s, want Base", got)
	}
}

func TestTypeArgumentBindings(t *testing.T) {
	param := NewTypeParameter(mustName("T"), 0)
	box := NewClassShell(mustName("Box"))
	box.Fill(mustName("Box"), PublicFlag, []*TypeParameter{param}, nil, nil, nil, -1)

	boxOfI64 := NewClassType(box, I64Type)
	bindings := boxOfI64.TypeArgumentBindings()
	if bindings[param] != I64Type {
		t.Errorf("bindings[T] = %v, want i64", bindings[param])
	}
	if I64Type.TypeArgumentBindings() != nil {
		t.Error("primitive types induce no bindings")
	}
}

func TestGenericSubtypeInvariance(t *testing.T) {
	base, mid, _ := makeClassChain()
	param := NewTypeParameter(mustName("T"), 0)
	box := NewClassShell(mustName("Box"))
	box.Fill(mustName("Box"), PublicFlag, []*TypeParameter{param}, nil, nil, nil, -1)

	boxBase := NewClassType(box, NewClassType(base))
	boxMid := NewClassType(box, NewClassType(mid))
	if boxMid.IsSubtype(boxBase) {
		t.Error("type arguments are invariant; Box[Mid] <: Box[Base] must not hold")
	}
	if !boxBase.IsSubtype(boxBase) {
		t.Error("Box[Base] <: Box[Base] should hold")
	}
}

func TestNameEquality(t *testing.T) {
	a := mustName("pkg.sub.defn")
	b := mustName("pkg.sub.defn")
	c := mustName("pkg.sub.other")
	if !a.Equals(b) {
		t.Error("equal component sequences must compare equal")
	}
	if a.Equals(c) {
		t.Error("different components must not compare equal")
	}
	if a.String() != "pkg.sub.defn" {
		t.Errorf("String = %q", a.String())
	}
	if _, err := ParseName(""); err == nil {
		t.Error("empty name should be rejected")
	}
}
