package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter evaluates typed bytecode on a Stack. One interpreter runs at
// a time per VM; native callbacks re-enter it on the same stack.
type Interpreter struct {
	vm    *VM
	stack *Stack

	// typeArgs is the pending type-argument stack fed by TYS/TYD and
	// consumed by allocations and generic calls.
	typeArgs []*Type

	handlers []tryHandler
}

// tryHandler records one installed PUSHTRY handler.
type tryHandler struct {
	frameIndex int
	catchBlock int
	sp         int
}

// thrownError carries an in-flight exception across a native boundary. The
// bridge re-raises it in the caller's frame at the PC past the native call.
type thrownError struct {
	handle *PersistentHandle
}

func (e *thrownError) Error() string {
	return "bytecode exception in flight"
}

func newInterpreter(vm *VM) *Interpreter {
	return &Interpreter{vm: vm, stack: newStack()}
}

// visitRoots exposes the stack's reference slots to the collector.
func (in *Interpreter) visitRoots(visit func(slot *uint64)) {
	in.stack.visitRoots(visit)
}

// Call invokes fn with the given raw argument words and type arguments and
// returns the result word. Arguments must match the function's parameter
// count; reference arguments must be rooted by the caller across this
// call.
func (in *Interpreter) Call(fn *Function, args []uint64, typeArgs []*Type) (result uint64, err error) {
	if len(args) != fn.ParameterCount() {
		return 0, fmt.Errorf("%s: want %d arguments, got %d", fn, fn.ParameterCount(), len(args))
	}
	if len(typeArgs) != len(fn.typeParams) {
		return 0, fmt.Errorf("%s: want %d type arguments, got %d", fn, len(fn.typeParams), len(typeArgs))
	}
	// Internal sanity checks panic; they are fatal to the invocation but
	// must not take the host process down.
	defer func() {
		if r := recover(); r != nil {
			if failure, ok := r.(assertionFailure); ok {
				result, err = 0, failure
				return
			}
			panic(r)
		}
	}()
	for _, a := range args {
		in.stack.push(a)
	}
	if fn.IsNative() {
		result, err = in.vm.bridge.invoke(in, fn, typeArgs)
	} else {
		result, err = in.enter(fn, typeArgs)
	}
	var thrown *thrownError
	if asThrown(err, &thrown) {
		// The exception crossed the outermost boundary uncaught.
		exc := thrown.handle.Address()
		thrown.handle.Release()
		err = &UncaughtException{
			ClassName: in.vm.heap.blockMeta(exc).class.name.String(),
			Message:   in.vm.exceptionMessage(exc),
		}
	}
	return result, err
}

// enter pushes a frame for fn (whose arguments are already on the stack)
// and runs until that frame returns.
func (in *Interpreter) enter(fn *Function, typeArgs []*Type) (uint64, error) {
	if _, err := fn.StackPointerMap(); err != nil {
		return 0, err
	}
	baseFrame := len(in.stack.frames)
	in.stack.pushFrame(fn, fn.ParameterCount(), 0, typeArgs)
	result, err := in.run(baseFrame)
	if err != nil {
		// Discard anything the failed invocation left behind.
		for len(in.stack.frames) > baseFrame {
			in.stack.popFrame()
		}
		in.pruneHandlers()
		return 0, err
	}
	return result, nil
}

// pruneHandlers drops handlers whose frames are gone.
func (in *Interpreter) pruneHandlers() {
	live := len(in.stack.frames)
	for len(in.handlers) > 0 && in.handlers[len(in.handlers)-1].frameIndex >= live {
		in.handlers = in.handlers[:len(in.handlers)-1]
	}
}

// trace reconstructs the stack trace at the current position.
func (in *Interpreter) trace() []TraceEntry {
	frames := in.stack.frames
	entries := make([]TraceEntry, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		entries = append(entries, TraceEntry{Function: frames[i].fn.String(), PC: frames[i].pc})
	}
	return entries
}

// ---------------------------------------------------------------------------
// The dispatch loop
// ---------------------------------------------------------------------------

func (in *Interpreter) run(baseFrame int) (uint64, error) {
	s := in.stack
	f := s.currentFrame()
	r := &codeReader{code: f.fn.instructions}

	// resume repoints the reader after a frame change.
	resume := func(pc int) {
		f = s.currentFrame()
		r = &codeReader{code: f.fn.instructions, pc: pc}
	}

	// throwAddr unwinds to the innermost handler owned by this run.
	// Returns false when no such handler exists and the caller must
	// propagate the exception.
	throwAddr := func(exc uintptr) (bool, error) {
		for len(in.handlers) > 0 {
			h := in.handlers[len(in.handlers)-1]
			if h.frameIndex < baseFrame {
				break
			}
			in.handlers = in.handlers[:len(in.handlers)-1]
			for len(s.frames)-1 > h.frameIndex {
				s.popFrame()
			}
			s.sp = h.sp
			s.push(uint64(exc))
			resume(s.currentFrame().fn.BlockOffset(h.catchBlock))
			return true, nil
		}
		return false, nil
	}

	// fail raises a language-level fault from a preallocated exception.
	fail := func(id BuiltinClassID) (bool, uintptr) {
		return true, in.vm.faultException(id)
	}

	for {
		f.pc = r.pc
		op, err := r.opcode()
		if err != nil {
			return 0, err
		}

		var faulted bool
		var faultExc uintptr

		switch op {
		case OpNop:

		case OpRet:
			result := s.pop()
			done := s.popFrame()
			in.pruneHandlers()
			if len(s.frames) == baseFrame {
				return result, nil
			}
			s.push(result)
			resume(done.retPC)

		case OpBranch:
			target, err := r.vbn()
			if err != nil {
				return 0, err
			}
			r.pc = f.fn.BlockOffset(int(target))

		case OpBranchIf:
			thenB, err := r.vbn()
			if err != nil {
				return 0, err
			}
			elseB, err := r.vbn()
			if err != nil {
				return 0, err
			}
			if s.pop() != 0 {
				r.pc = f.fn.BlockOffset(int(thenB))
			} else {
				r.pc = f.fn.BlockOffset(int(elseB))
			}

		case OpBranchL:
			n, err := r.vbn()
			if err != nil {
				return 0, err
			}
			targets := make([]int64, n)
			for i := range targets {
				if targets[i], err = r.vbn(); err != nil {
					return 0, err
				}
			}
			label := int64(s.pop())
			if label < 0 || label >= n {
				return 0, assertionFailure{message: "BRANCHL label out of range"}
			}
			r.pc = f.fn.BlockOffset(int(targets[label]))

		case OpLabel:
			target, err := r.vbn()
			if err != nil {
				return 0, err
			}
			s.push(uint64(target))

		case OpPushTry:
			tryB, err := r.vbn()
			if err != nil {
				return 0, err
			}
			catchB, err := r.vbn()
			if err != nil {
				return 0, err
			}
			in.handlers = append(in.handlers, tryHandler{
				frameIndex: len(s.frames) - 1,
				catchBlock: int(catchB),
				sp:         s.sp,
			})
			r.pc = f.fn.BlockOffset(int(tryB))

		case OpPopTry:
			done, err := r.vbn()
			if err != nil {
				return 0, err
			}
			if len(in.handlers) == 0 {
				return 0, assertionFailure{message: "POPTRY without handler"}
			}
			in.handlers = in.handlers[:len(in.handlers)-1]
			r.pc = f.fn.BlockOffset(int(done))

		case OpThrow:
			faulted = true
			faultExc = uintptr(s.pop())
			if faultExc == 0 {
				faultExc = in.vm.faultException(BuiltinNullPointerExceptionClass)
			}

		case OpPkg:
			s.push(0)

		case OpDrop:
			s.pop()

		case OpDropI:
			i, err := r.vbn()
			if err != nil {
				return 0, err
			}
			idx := s.sp - 1 - int(i)
			copy(s.words[idx:s.sp-1], s.words[idx+1:s.sp])
			s.sp--

		case OpDup:
			s.push(s.top())

		case OpDupI:
			i, err := r.vbn()
			if err != nil {
				return 0, err
			}
			s.push(s.words[s.sp-1-int(i)])

		case OpSwap:
			s.words[s.sp-1], s.words[s.sp-2] = s.words[s.sp-2], s.words[s.sp-1]

		case OpSwap2:
			s.words[s.sp-1], s.words[s.sp-3] = s.words[s.sp-3], s.words[s.sp-1]
			s.words[s.sp-2], s.words[s.sp-4] = s.words[s.sp-4], s.words[s.sp-2]

		case OpUnit, OpNul:
			s.push(0)

		case OpTrue:
			s.push(1)

		case OpFalse:
			s.push(0)

		case OpUninitialized:
			s.push(uninitializedSentinel)

		case OpI8, OpI16, OpI32, OpI64:
			v, err := r.vbn()
			if err != nil {
				return 0, err
			}
			s.push(uint64(v))

		case OpF32:
			v, err := r.f32()
			if err != nil {
				return 0, err
			}
			s.push(uint64(math.Float32bits(v)))

		case OpF64:
			v, err := r.f64()
			if err != nil {
				return 0, err
			}
			s.push(math.Float64bits(v))

		case OpString:
			i, err := r.vbn()
			if err != nil {
				return 0, err
			}
			s.push(uint64(f.fn.pkg.internedString(int(i))))

		case OpLdLocal:
			slot, err := r.vbn()
			if err != nil {
				return 0, err
			}
			s.push(s.words[f.localAddr(int(slot))])

		case OpStLocal:
			slot, err := r.vbn()
			if err != nil {
				return 0, err
			}
			s.words[f.localAddr(int(slot))] = s.pop()

		case OpLdG, OpLdGF:
			g, err := in.readGlobal(r, f.fn.pkg, op == OpLdGF)
			if err != nil {
				return 0, err
			}
			if !g.initialized {
				faulted, faultExc = fail(BuiltinUninitializedExceptionClass)
				break
			}
			s.push(g.value)

		case OpStG, OpStGF:
			g, err := in.readGlobal(r, f.fn.pkg, op == OpStGF)
			if err != nil {
				return 0, err
			}
			g.SetRawValue(s.pop())

		case OpLdF, OpLdFF:
			field, err := in.readField(r, f.fn.pkg, op == OpLdFF)
			if err != nil {
				return 0, err
			}
			recv := uintptr(s.pop())
			if recv == 0 {
				faulted, faultExc = fail(BuiltinNullPointerExceptionClass)
				break
			}
			word := blockField(recv, field.offset)
			if field.typ.IsObject() && word == uninitializedSentinel {
				faulted, faultExc = fail(BuiltinUninitializedExceptionClass)
				break
			}
			s.push(word)

		case OpStF, OpStFF:
			field, err := in.readField(r, f.fn.pkg, op == OpStFF)
			if err != nil {
				return 0, err
			}
			value := s.pop()
			recv := uintptr(s.pop())
			if recv == 0 {
				faulted, faultExc = fail(BuiltinNullPointerExceptionClass)
				break
			}
			setBlockField(recv, field.offset, value)
			if field.typ.IsObject() {
				in.vm.heap.RecordWrite(recv+field.offset, value)
			}

		case OpLdE:
			index := int64(s.pop())
			recv := uintptr(s.pop())
			if recv == 0 {
				faulted, faultExc = fail(BuiltinNullPointerExceptionClass)
				break
			}
			meta := in.vm.heap.blockMeta(recv)
			if index < 0 || uintptr(index) >= blockLength(recv, meta) {
				faulted, faultExc = fail(BuiltinOutOfBoundsExceptionClass)
				break
			}
			word := loadElement(recv, meta, uintptr(index))
			if meta.elementsArePointers && word == uninitializedSentinel {
				faulted, faultExc = fail(BuiltinUninitializedExceptionClass)
				break
			}
			s.push(word)

		case OpStE:
			value := s.pop()
			index := int64(s.pop())
			recv := uintptr(s.pop())
			if recv == 0 {
				faulted, faultExc = fail(BuiltinNullPointerExceptionClass)
				break
			}
			meta := in.vm.heap.blockMeta(recv)
			if index < 0 || uintptr(index) >= blockLength(recv, meta) {
				faulted, faultExc = fail(BuiltinOutOfBoundsExceptionClass)
				break
			}
			storeElement(recv, meta, uintptr(index), value)
			if meta.elementsArePointers {
				in.vm.heap.RecordWrite(elementAddress(recv, meta, uintptr(index)), value)
			}

		case OpAllocObj, OpAllocObjF:
			class, err := in.readClass(r, f.fn.pkg, op == OpAllocObjF)
			if err != nil {
				return 0, err
			}
			if _, err := in.popTypeArgs(len(class.typeParams)); err != nil {
				return 0, err
			}
			addr, err := in.vm.heap.AllocateObject(class.Meta(in.vm))
			if err != nil {
				return 0, err
			}
			s.push(uint64(addr))

		case OpAllocArr, OpAllocArrF:
			class, err := in.readClass(r, f.fn.pkg, op == OpAllocArrF)
			if err != nil {
				return 0, err
			}
			if _, err := in.popTypeArgs(len(class.typeParams)); err != nil {
				return 0, err
			}
			length := int64(s.pop())
			if length < 0 {
				faulted, faultExc = fail(BuiltinOutOfBoundsExceptionClass)
				break
			}
			addr, err := in.vm.heap.AllocateArray(class.Meta(in.vm), uintptr(length))
			if err != nil {
				return 0, err
			}
			s.push(uint64(addr))

		case OpTys:
			i, err := r.vbn()
			if err != nil {
				return 0, err
			}
			in.typeArgs = append(in.typeArgs, f.fn.InstantiationType(int(i)))

		case OpTyd:
			i, err := r.vbn()
			if err != nil {
				return 0, err
			}
			t := f.fn.InstantiationType(int(i))
			if len(f.typeArgs) > 0 {
				bindings := make(TypeBindings, len(f.typeArgs))
				for j, p := range f.fn.typeParams {
					bindings[p] = f.typeArgs[j]
				}
				t = t.Substitute(bindings)
			}
			in.typeArgs = append(in.typeArgs, t)

		case OpCast:
			if _, err := in.popTypeArgs(1); err != nil {
				return 0, err
			}

		case OpCastC:
			target, err := in.popTypeArgs(1)
			if err != nil {
				return 0, err
			}
			if !in.checkCast(uintptr(s.top()), target[0]) {
				faulted, faultExc = fail(BuiltinCastExceptionClass)
			}

		case OpCastCBr:
			okB, err := r.vbn()
			if err != nil {
				return 0, err
			}
			failB, err := r.vbn()
			if err != nil {
				return 0, err
			}
			target, err := in.popTypeArgs(1)
			if err != nil {
				return 0, err
			}
			if in.checkCast(uintptr(s.top()), target[0]) {
				r.pc = f.fn.BlockOffset(int(okB))
			} else {
				r.pc = f.fn.BlockOffset(int(failB))
			}

		case OpCallG, OpCallGF, OpCallV, OpCallVF:
			callee, err := in.readFunction(r, f.fn.pkg, op == OpCallGF || op == OpCallVF)
			if err != nil {
				return 0, err
			}
			if op == OpCallV || op == OpCallVF {
				argc := callee.ParameterCount()
				recv := uintptr(s.words[s.sp-argc])
				if recv == 0 {
					faulted, faultExc = fail(BuiltinNullPointerExceptionClass)
					break
				}
				impl := in.vm.heap.blockMeta(recv).class.Dispatch(callee)
				if impl == nil {
					return 0, assertionFailure{message: "no vtable entry for " + callee.String()}
				}
				callee = impl
			}
			typeArgs, err := in.popTypeArgs(len(callee.typeParams))
			if err != nil {
				return 0, err
			}
			if callee.IsNative() {
				result, err := in.vm.bridge.invoke(in, callee, typeArgs)
				if err != nil {
					var thrown *thrownError
					if asThrown(err, &thrown) {
						exc := thrown.handle.Address()
						thrown.handle.Release()
						faulted, faultExc = true, exc
						break
					}
					return 0, err
				}
				s.push(result)
				break
			}
			if _, err := callee.StackPointerMap(); err != nil {
				return 0, err
			}
			s.pushFrame(callee, callee.ParameterCount(), r.pc, typeArgs)
			resume(0)

		case OpNotB:
			s.push(s.pop() ^ 1)

		default:
			ok, exc, err := in.runArithmetic(op)
			if err != nil {
				return 0, err
			}
			if !ok {
				faulted, faultExc = true, exc
			}
		}

		if faulted {
			handled, err := throwAddr(faultExc)
			if err != nil {
				return 0, err
			}
			if handled {
				continue
			}
			if baseFrame > 0 {
				// A native frame separates us from any outer handler;
				// hand the exception to the bridge to re-raise.
				return 0, &thrownError{handle: in.vm.heap.NewPersistentHandle(faultExc)}
			}
			uncaught := &UncaughtException{
				ClassName: in.vm.heap.blockMeta(faultExc).class.name.String(),
				Message:   in.vm.exceptionMessage(faultExc),
				Trace:     in.trace(),
			}
			return 0, uncaught
		}
	}
}

// asThrown unwraps a thrownError.
func asThrown(err error, out **thrownError) bool {
	t, ok := err.(*thrownError)
	if ok {
		*out = t
	}
	return ok
}

// popTypeArgs consumes n pending type arguments.
func (in *Interpreter) popTypeArgs(n int) ([]*Type, error) {
	if len(in.typeArgs) < n {
		return nil, assertionFailure{message: "type-argument stack underflow"}
	}
	args := make([]*Type, n)
	copy(args, in.typeArgs[len(in.typeArgs)-n:])
	in.typeArgs = in.typeArgs[:len(in.typeArgs)-n]
	return args, nil
}

// checkCast reports whether the block at addr may be viewed as target.
// Null passes every reference cast.
func (in *Interpreter) checkCast(addr uintptr, target *Type) bool {
	if addr == 0 {
		return true
	}
	if target.Form() != ClassTypeForm {
		return false
	}
	return in.vm.heap.blockMeta(addr).class.IsSubclassOf(target.Class())
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// runArithmetic executes arithmetic, comparison, and conversion opcodes.
// Returns ok=false with a fault exception for division by zero.
func (in *Interpreter) runArithmetic(op Opcode) (bool, uintptr, error) {
	s := in.stack
	switch {
	case op >= OpAddI8 && op < OpNegI8:
		family := int(op-OpAddI8) / 4
		width := int(op-OpAddI8) % 4
		b := int64(s.pop())
		a := int64(s.pop())
		result, ok := intBinop(family, width, a, b)
		if !ok {
			return false, in.vm.faultException(BuiltinArithmeticExceptionClass), nil
		}
		s.push(uint64(result))

	case op >= OpNegI8 && op < OpAddF32:
		family := int(op-OpNegI8) / 4
		width := int(op-OpNegI8) % 4
		a := int64(s.pop())
		if family == 0 {
			s.push(uint64(signExtend(-a, width)))
		} else {
			s.push(uint64(signExtend(^a, width)))
		}

	case op >= OpAddF32 && op < OpNegF32:
		family := int(op-OpAddF32) / 2
		wide := (op-OpAddF32)%2 == 1
		b := popFloat(s, wide)
		a := popFloat(s, wide)
		var v float64
		switch family {
		case 0:
			v = a + b
		case 1:
			v = a - b
		case 2:
			v = a * b
		case 3:
			v = a / b
		}
		pushFloat(s, v, wide)

	case op == OpNegF32 || op == OpNegF64:
		wide := op == OpNegF64
		pushFloat(s, -popFloat(s, wide), wide)

	case op >= OpEqI8 && op < OpEqF32:
		family := int(op-OpEqI8) / 4
		b := int64(s.pop())
		a := int64(s.pop())
		s.push(boolWord(intCompare(family, a, b)))

	case op >= OpEqF32 && op <= OpGeF64:
		family := int(op-OpEqF32) / 2
		wide := (op-OpEqF32)%2 == 1
		b := popFloat(s, wide)
		a := popFloat(s, wide)
		s.push(boolWord(floatCompare(family, a, b)))

	case op >= OpTruncI8 && op <= OpFtoiI64, op >= OpIcvtI8 && op <= OpExtI64:
		in.runConversion(op)

	default:
		return true, 0, fmt.Errorf("unknown opcode 0x%02X at runtime", byte(op))
	}
	return true, 0, nil
}

func (in *Interpreter) runConversion(op Opcode) {
	s := in.stack
	switch op {
	case OpTruncI8, OpIcvtI8, OpExtI8:
		s.push(uint64(signExtend(int64(s.pop()), 0)))
	case OpTruncI16, OpSextI16, OpZextI16, OpIcvtI16, OpExtI16:
		v := int64(s.pop())
		if op == OpZextI16 {
			v = int64(uint64(v) & 0xFFFF)
		}
		s.push(uint64(signExtend(v, 1)))
	case OpTruncI32, OpSextI32, OpIcvtI32, OpExtI32:
		s.push(uint64(signExtend(int64(s.pop()), 2)))
	case OpZextI32:
		s.push(uint64(signExtend(int64(uint64(s.pop())&0xFFFFFFFF), 2)))
	case OpSextI64, OpIcvtI64, OpExtI64:
		// Already sign-extended in the word.
	case OpZextI64:
		// Zero-extension to the full word is the identity here; narrower
		// values were re-extended when produced.
	case OpFcvtF32:
		s.push(uint64(math.Float32bits(float32(popFloat(s, true)))))
	case OpFcvtF64:
		s.push(math.Float64bits(popFloat(s, false)))
	case OpItofF32:
		s.push(uint64(math.Float32bits(float32(int64(s.pop())))))
	case OpItofF64:
		s.push(math.Float64bits(float64(int64(s.pop()))))
	case OpFtoiI32:
		s.push(uint64(signExtend(int64(popFloat(s, false)), 2)))
	case OpFtoiI64:
		s.push(uint64(int64(popFloat(s, true))))
	}
}

// signExtend re-extends v at the given width index (0=i8 .. 3=i64).
func signExtend(v int64, width int) int64 {
	shift := 64 - int(intWidthBits[width])
	return v << shift >> shift
}

// intBinop applies integer family op (0 ADD .. 10 XOR) at a width.
// Returns ok=false for division or modulo by zero.
func intBinop(family, width int, a, b int64) (int64, bool) {
	var v int64
	switch family {
	case 0:
		v = a + b
	case 1:
		v = a - b
	case 2:
		v = a * b
	case 3:
		if b == 0 {
			return 0, false
		}
		v = a / b
	case 4:
		if b == 0 {
			return 0, false
		}
		v = a % b
	case 5:
		v = a << (uint64(b) & 63)
	case 6:
		bits := intWidthBits[width]
		mask := ^uint64(0) >> (64 - bits)
		v = int64((uint64(a) & mask) >> (uint64(b) & 63))
	case 7:
		v = a >> (uint64(b) & 63)
	case 8:
		v = a & b
	case 9:
		v = a | b
	case 10:
		v = a ^ b
	}
	return signExtend(v, width), true
}

// intCompare applies comparison family (0 EQ .. 5 GE), signed.
func intCompare(family int, a, b int64) bool {
	switch family {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a <= b
	case 4:
		return a > b
	default:
		return a >= b
	}
}

func floatCompare(family int, a, b float64) bool {
	switch family {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a <= b
	case 4:
		return a > b
	default:
		return a >= b
	}
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func popFloat(s *Stack, wide bool) float64 {
	w := s.pop()
	if wide {
		return math.Float64frombits(w)
	}
	return float64(math.Float32frombits(uint32(w)))
}

func pushFloat(s *Stack, v float64, wide bool) {
	if wide {
		s.push(math.Float64bits(v))
	} else {
		s.push(uint64(math.Float32bits(float32(v))))
	}
}

// ---------------------------------------------------------------------------
// Element access by width
// ---------------------------------------------------------------------------

func loadElement(addr uintptr, meta *Meta, i uintptr) uint64 {
	ea := elementAddress(addr, meta, i)
	switch meta.elementSize {
	case 1:
		return uint64(int64(int8(loadByte(ea))))
	case 2:
		lo := uint64(loadByte(ea)) | uint64(loadByte(ea+1))<<8
		return uint64(int64(int16(lo)))
	case 4:
		var lo uint64
		for b := uintptr(0); b < 4; b++ {
			lo |= uint64(loadByte(ea+b)) << (8 * b)
		}
		return uint64(int64(int32(lo)))
	default:
		return loadWord(ea)
	}
}

func storeElement(addr uintptr, meta *Meta, i uintptr, v uint64) {
	ea := elementAddress(addr, meta, i)
	switch meta.elementSize {
	case 1:
		storeByte(ea, byte(v))
	case 2:
		storeByte(ea, byte(v))
		storeByte(ea+1, byte(v>>8))
	case 4:
		for b := uintptr(0); b < 4; b++ {
			storeByte(ea+b, byte(v>>(8*b)))
		}
	default:
		storeWord(ea, v)
	}
}

// ---------------------------------------------------------------------------
// Operand resolution
// ---------------------------------------------------------------------------

func (in *Interpreter) readGlobal(r *codeReader, pkg *Package, foreign bool) (*Global, error) {
	if foreign {
		dep, err := r.vbn()
		if err != nil {
			return nil, err
		}
		idx, err := r.vbn()
		if err != nil {
			return nil, err
		}
		return pkg.dependencyGlobal(int(dep), int(idx)), nil
	}
	idx, err := r.vbn()
	if err != nil {
		return nil, err
	}
	return pkg.globals[idx], nil
}

func (in *Interpreter) readClass(r *codeReader, pkg *Package, foreign bool) (*Class, error) {
	if foreign {
		dep, err := r.vbn()
		if err != nil {
			return nil, err
		}
		idx, err := r.vbn()
		if err != nil {
			return nil, err
		}
		return pkg.dependencyClass(int(dep), int(idx)), nil
	}
	idx, err := r.vbn()
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return in.vm.builtinClass(BuiltinClassID(-idx - 1)), nil
	}
	return pkg.classes[idx], nil
}

func (in *Interpreter) readField(r *codeReader, pkg *Package, foreign bool) (*Field, error) {
	class, err := in.readClass(r, pkg, foreign)
	if err != nil {
		return nil, err
	}
	idx, err := r.vbn()
	if err != nil {
		return nil, err
	}
	fields := class.allFields()
	if int(idx) >= len(fields) {
		return nil, assertionFailure{message: fmt.Sprintf("field %d out of range in %s", idx, class.name)}
	}
	// Field offsets exist once the meta is built.
	class.BuildMeta(in.vm)
	return fields[idx], nil
}

func (in *Interpreter) readFunction(r *codeReader, pkg *Package, foreign bool) (*Function, error) {
	if foreign {
		dep, err := r.vbn()
		if err != nil {
			return nil, err
		}
		idx, err := r.vbn()
		if err != nil {
			return nil, err
		}
		return pkg.dependencyFunction(int(dep), int(idx)), nil
	}
	idx, err := r.vbn()
	if err != nil {
		return nil, err
	}
	return pkg.functions[idx], nil
}
