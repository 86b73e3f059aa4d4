package vm

import "testing"

func TestVMIsolation(t *testing.T) {
	first := newTestVM(t)
	second := newTestVM(t)

	if first.ID() == second.ID() {
		t.Error("two VMs share an instance id")
	}

	b := newBuilder(t, "only-in-first")
	addPackage(t, first, b)

	name := mustName("only-in-first")
	if first.FindPackage(name) == nil {
		t.Error("package missing from its own VM")
	}
	if second.FindPackage(name) != nil {
		t.Error("package leaked into an unrelated VM")
	}
}

func TestPackagesIterationOrder(t *testing.T) {
	machine := newTestVM(t)
	for _, name := range []string{"one", "two", "three"} {
		addPackage(t, machine, newBuilder(t, name))
	}
	pkgs := machine.Packages()
	if len(pkgs) != 3 {
		t.Fatalf("Packages = %d, want 3", len(pkgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if pkgs[i].Name().String() != want {
			t.Errorf("pkgs[%d] = %s, want %s", i, pkgs[i].Name(), want)
		}
	}
}

func TestGlobalHostAccess(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "globals")
	g, _ := b.AddGlobal("answer", "answer", PublicFlag|ConstantFlag, I64Type)
	addPackage(t, machine, b)

	if _, err := g.Value(); err == nil {
		t.Error("reading an uninitialized global should error")
	}
	if !g.IsConstant() {
		t.Error("IsConstant = false")
	}
	if err := g.SetValue(42); err != nil {
		t.Fatalf("first SetValue: %v", err)
	}
	v, err := g.Value()
	if err != nil || v != 42 {
		t.Errorf("Value = %d, %v", v, err)
	}
	if err := g.SetValue(43); err == nil {
		t.Error("second SetValue on a constant should error")
	}
}

func TestFunctionDetachedFromVM(t *testing.T) {
	b, err := NewPackageBuilder("floating", PackageVersion{Major: 1})
	if err != nil {
		t.Fatal(err)
	}
	a := NewAssembler()
	a.Op(OpI64, 1)
	a.Op(OpRet)
	fn, _ := b.AddFunction(FunctionSpec{
		Name: "f", Flags: PublicFlag, ReturnType: I64Type, Code: a,
	})
	// The package was never registered with a VM.
	if _, err := fn.CallForI64(); err == nil {
		t.Error("calling a detached function should error")
	}
}

func TestFindField(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "shapes")
	point, _ := b.AddClassShell("Point")
	b.FillClass(point, ClassSpec{
		Name: "Point", SourceName: "Point", Flags: PublicFlag,
		Supertype: NewClassType(machine.builtins[BuiltinObjectClass]),
		Fields: []FieldSpec{
			{Name: "x", Type: I64Type},
			{Name: "y", Type: I64Type},
		},
	})
	p := addPackage(t, machine, b)

	field := p.FindField(mustName("Point"), mustName("y"))
	if field == nil {
		t.Fatal("FindField(Point, y) = nil")
	}
	if !field.Type().Equals(I64Type) {
		t.Errorf("field type = %s, want i64", field.Type())
	}
	if p.FindField(mustName("Point"), mustName("z")) != nil {
		t.Error("FindField found a nonexistent field")
	}
	if p.FindField(mustName("NoSuch"), mustName("x")) != nil {
		t.Error("FindField found a field on a nonexistent class")
	}
}

func TestFindFunctionVisibility(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "vis")

	a := NewAssembler()
	a.Op(OpI64, 1)
	a.Op(OpRet)
	b.AddFunction(FunctionSpec{
		Name: "helper", SourceName: "helper", ReturnType: I64Type, Code: a,
	})
	p := addPackage(t, machine, b)

	name := mustName("helper")
	if p.FindFunction(name) != nil {
		t.Error("private function visible by source name")
	}
	if p.FindFunctionByDefnName(name) == nil {
		t.Error("private function missing by definition name")
	}
}
