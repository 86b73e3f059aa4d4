package vm

import (
	"errors"
	"testing"
)

// addNativePackage builds a package with one native function and one
// bytecode caller that invokes it with (40, 2).
func addNativePackage(t *testing.T, machine *VM, impl NativeFunction) (*Package, *Function, *Function) {
	t.Helper()
	b := newBuilder(t, "host")

	native, nativeIdx := b.AddFunction(FunctionSpec{
		Name:       "integerParams",
		SourceName: "integerParams",
		Flags:      PublicFlag | NativeFlag,
		ReturnType: I64Type,
		ParamTypes: []*Type{I64Type, I64Type},
	})

	a := NewAssembler()
	a.Op(OpI64, 40)
	a.Op(OpI64, 2)
	a.Op(OpCallG, int64(nativeIdx))
	a.Op(OpRet)
	caller, _ := b.AddFunction(FunctionSpec{
		Name: "caller", Flags: PublicFlag, ReturnType: I64Type, Code: a,
	})

	p := b.Build()
	p.Natives().Register("integerParams", impl)
	if err := machine.AddPackage(p); err != nil {
		t.Fatal(err)
	}
	return p, native, caller
}

func TestNativeCallRoundTrip(t *testing.T) {
	machine := newTestVM(t)
	_, native, caller := addNativePackage(t, machine, func(call *NativeCall) (uint64, error) {
		return uint64(call.I64Arg(0) + call.I64Arg(1)), nil
	})

	// Bytecode -> native.
	got, err := caller.CallForI64()
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("caller = %d, want 42", got)
	}

	// Host -> native directly, through the same lazy resolution path.
	got, err = native.CallForI64(40, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("integerParams(40, 2) = %d, want 42", got)
	}
	if native.native == nil {
		t.Error("resolved native was not cached on the function")
	}
}

func TestNativeLinkError(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "hollow")
	fn, _ := b.AddFunction(FunctionSpec{
		Name:       "missing",
		Flags:      PublicFlag | NativeFlag,
		ReturnType: I64Type,
	})
	addPackage(t, machine, b)

	_, err := fn.CallForI64()
	var linkErr *NativeLinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("want NativeLinkError, got %v", err)
	}
}

func TestNativeArgumentMarshalling(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "marshal")

	// Ten integer-class arguments: six in registers, the rest on the
	// stack in reverse order.
	params := make([]*Type, 10)
	for i := range params {
		params[i] = I64Type
	}
	var observed *NativeCall
	native, nativeIdx := b.AddFunction(FunctionSpec{
		Name:       "wide",
		Flags:      PublicFlag | NativeFlag,
		ReturnType: I64Type,
		ParamTypes: params,
	})
	_ = native

	a := NewAssembler()
	for i := 0; i < 10; i++ {
		a.Op(OpI64, int64(i+1))
	}
	a.Op(OpCallG, int64(nativeIdx))
	a.Op(OpRet)
	caller, _ := b.AddFunction(FunctionSpec{
		Name: "caller", Flags: PublicFlag, ReturnType: I64Type, Code: a,
	})

	p := b.Build()
	p.Natives().Register("wide", func(call *NativeCall) (uint64, error) {
		observed = call
		var sum int64
		for i := 0; i < call.ArgCount(); i++ {
			sum += call.I64Arg(i)
		}
		return uint64(sum), nil
	})
	if err := machine.AddPackage(p); err != nil {
		t.Fatal(err)
	}

	got, err := caller.CallForI64()
	if err != nil {
		t.Fatal(err)
	}
	if got != 55 {
		t.Errorf("wide sum = %d, want 55", got)
	}
	for i := 0; i < IntegerRegisterArgs; i++ {
		if observed.IntRegs[i] != uint64(i+1) {
			t.Errorf("IntRegs[%d] = %d, want %d", i, observed.IntRegs[i], i+1)
		}
	}
	// Stack-class arguments 7..10 are placed in reverse.
	want := []uint64{10, 9, 8, 7}
	for i, w := range want {
		if observed.StackSlots[i] != w {
			t.Errorf("StackSlots[%d] = %d, want %d", i, observed.StackSlots[i], w)
		}
	}
}

func TestNativeFloatMarshalling(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "floats")

	native, nativeIdx := b.AddFunction(FunctionSpec{
		Name:       "mix",
		Flags:      PublicFlag | NativeFlag,
		ReturnType: F64Type,
		ParamTypes: []*Type{F64Type, I64Type, F64Type},
	})
	_ = native

	a := NewAssembler()
	a.F64(1.5)
	a.Op(OpI64, 2)
	a.F64(0.25)
	a.Op(OpCallG, int64(nativeIdx))
	a.Op(OpRet)
	caller, _ := b.AddFunction(FunctionSpec{
		Name: "caller", Flags: PublicFlag, ReturnType: F64Type, Code: a,
	})

	var floatRegs [2]float64
	p := b.Build()
	p.Natives().Register("mix", func(call *NativeCall) (uint64, error) {
		floatRegs[0] = float64FromWord(call.FloatRegs[0])
		floatRegs[1] = float64FromWord(call.FloatRegs[1])
		return ReturnF64(call.F64Arg(0)*float64(call.I64Arg(1)) + call.F64Arg(2)), nil
	})
	if err := machine.AddPackage(p); err != nil {
		t.Fatal(err)
	}

	got, err := caller.CallForF64()
	if err != nil {
		t.Fatal(err)
	}
	if got != 3.25 {
		t.Errorf("mix = %v, want 3.25", got)
	}
	if floatRegs[0] != 1.5 || floatRegs[1] != 0.25 {
		t.Errorf("float registers = %v, want [1.5 0.25]", floatRegs)
	}
}

func TestNativeThrowCaughtByBytecode(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "thrower")

	_, nativeIdx := b.AddFunction(FunctionSpec{
		Name:       "blowUp",
		Flags:      PublicFlag | NativeFlag,
		ReturnType: UnitType,
	})

	a := NewAssembler()
	try := a.ReserveBlock()
	catch := a.ReserveBlock()
	a.Op(OpPushTry, int64(try), int64(catch))

	a.BeginBlock(try)
	a.Op(OpCallG, int64(nativeIdx))
	a.Op(OpDrop)
	a.Op(OpI64, 0)
	a.Op(OpRet)

	a.BeginBlock(catch)
	a.Op(OpDrop)
	a.Op(OpI64, 99)
	a.Op(OpRet)

	caller, _ := b.AddFunction(FunctionSpec{
		Name: "guarded", Flags: PublicFlag, ReturnType: I64Type, Code: a,
	})

	p := b.Build()
	p.Natives().Register("blowUp", func(call *NativeCall) (uint64, error) {
		return 0, call.ThrowBuiltin(BuiltinArithmeticExceptionClass)
	})
	if err := machine.AddPackage(p); err != nil {
		t.Fatal(err)
	}

	got, err := caller.CallForI64()
	if err != nil {
		t.Fatal(err)
	}
	if got != 99 {
		t.Errorf("guarded = %d, want 99", got)
	}
}

func TestNativeCallback(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "callbacks")

	// double (index 0) is bytecode; the native calls back into it.
	da := NewAssembler()
	da.Op(OpLdLocal, 0)
	da.Op(OpI64, 2)
	da.Op(OpMulI64)
	da.Op(OpRet)
	double, _ := b.AddFunction(FunctionSpec{
		Name: "double", Flags: PublicFlag, ReturnType: I64Type,
		ParamTypes: []*Type{I64Type}, Code: da,
	})

	_, nativeIdx := b.AddFunction(FunctionSpec{
		Name:       "viaHost",
		Flags:      PublicFlag | NativeFlag,
		ReturnType: I64Type,
		ParamTypes: []*Type{I64Type},
	})

	a := NewAssembler()
	a.Op(OpI64, 6)
	a.Op(OpCallG, int64(nativeIdx))
	a.Op(OpRet)
	caller, _ := b.AddFunction(FunctionSpec{
		Name: "caller", Flags: PublicFlag, ReturnType: I64Type, Code: a,
	})

	p := b.Build()
	p.Natives().Register("viaHost", func(call *NativeCall) (uint64, error) {
		doubled, err := call.CallBytecode(double, []uint64{uint64(call.I64Arg(0))}, nil)
		if err != nil {
			return 0, err
		}
		return doubled + 1, nil
	})
	if err := machine.AddPackage(p); err != nil {
		t.Fatal(err)
	}

	got, err := caller.CallForI64()
	if err != nil {
		t.Fatal(err)
	}
	if got != 13 {
		t.Errorf("caller = %d, want 13 (double(6)+1)", got)
	}
}

func TestNativeStringArgumentSurvivesCallback(t *testing.T) {
	machine := newTestVM(t)
	b := newBuilder(t, "strings")

	stringT := NewClassType(machine.builtins[BuiltinStringClass])
	native, _ := b.AddFunction(FunctionSpec{
		Name:       "shout",
		Flags:      PublicFlag | NativeFlag,
		ReturnType: I64Type,
		ParamTypes: []*Type{stringT},
	})

	p := b.Build()
	p.Natives().Register("shout", func(call *NativeCall) (uint64, error) {
		// A collection moves the argument block; the handle-backed
		// accessor must still reach it.
		call.VM().Collect()
		s := call.VM().StringValue(call.PtrArg(0))
		return uint64(len(s)), nil
	})
	if err := machine.AddPackage(p); err != nil {
		t.Fatal(err)
	}

	scope := machine.heap.NewHandleScope()
	defer scope.Close()
	addr, err := machine.NewStringBlock("tern")
	if err != nil {
		t.Fatal(err)
	}
	h := scope.Handle(addr)

	got, err := machine.interp.Call(native, []uint64{uint64(h.Address())}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Errorf("shout = %d, want 4", got)
	}
}
