package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Stack pointer maps
// ---------------------------------------------------------------------------

// PointerMapEntry describes the locals+operand region at one GC-safe PC:
// MapCount bits starting at MapOffset in the shared bitmap, one per active
// slot, set iff the slot holds a reference.
type PointerMapEntry struct {
	PCOffset  uint32
	MapOffset uint32
	MapCount  uint32
}

// StackPointerMap gives, for one function, the pointer/non-pointer
// classification of every stack slot at every GC-safe point: a parameter
// region with one bit per parameter word, and per-PC entries over the
// locals and operand stack.
type StackPointerMap struct {
	paramBits Bitmap
	entries   []PointerMapEntry
	bitmap    Bitmap
}

// ParameterCount returns the number of parameter bits.
func (m *StackPointerMap) ParameterCount() int {
	return m.paramBits.Len()
}

// ParameterIsPointer returns true if parameter word i is a reference.
func (m *StackPointerMap) ParameterIsPointer(i int) bool {
	return m.paramBits.At(i)
}

// SearchLocalsRegion returns the entry recorded at exactly pc.
func (m *StackPointerMap) SearchLocalsRegion(pc int) (PointerMapEntry, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].PCOffset >= uint32(pc)
	})
	if i < len(m.entries) && m.entries[i].PCOffset == uint32(pc) {
		return m.entries[i], true
	}
	return PointerMapEntry{}, false
}

// SlotIsPointer returns true if slot i of the entry's region is a
// reference.
func (m *StackPointerMap) SlotIsPointer(e PointerMapEntry, i int) bool {
	return m.bitmap.At(int(e.MapOffset) + i)
}

// Entries returns the GC-safe points in PC order.
func (m *StackPointerMap) Entries() []PointerMapEntry {
	return m.entries
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------
//
// The builder abstractly interprets the bytecode, tracking the type of
// every live local and operand slot plus the pending type-argument stack.
// At every allocation and call it snapshots the frame state. Branches
// enqueue successor blocks with a cloned state; a block already visited is
// skipped, relying on the compiler's guarantee that all paths reaching a
// join carry identical frame state.

type builderFrame struct {
	typeMap  []*Type // locals (fixed prefix) then operands
	typeArgs []*Type
}

func (f *builderFrame) clone() *builderFrame {
	c := &builderFrame{
		typeMap:  make([]*Type, len(f.typeMap)),
		typeArgs: make([]*Type, len(f.typeArgs)),
	}
	copy(c.typeMap, f.typeMap)
	copy(c.typeArgs, f.typeArgs)
	return c
}

func (f *builderFrame) push(t *Type) {
	f.typeMap = append(f.typeMap, t)
}

func (f *builderFrame) pop() (*Type, error) {
	if len(f.typeMap) == 0 {
		return nil, fmt.Errorf("operand stack underflow")
	}
	t := f.typeMap[len(f.typeMap)-1]
	f.typeMap = f.typeMap[:len(f.typeMap)-1]
	return t, nil
}

func (f *builderFrame) popN(n int) error {
	if len(f.typeMap) < n {
		return fmt.Errorf("operand stack underflow")
	}
	f.typeMap = f.typeMap[:len(f.typeMap)-n]
	return nil
}

func (f *builderFrame) top() (*Type, error) {
	if len(f.typeMap) == 0 {
		return nil, fmt.Errorf("operand stack underflow")
	}
	return f.typeMap[len(f.typeMap)-1], nil
}

func (f *builderFrame) popTypeArgs(n int) ([]*Type, error) {
	if len(f.typeArgs) < n {
		return nil, fmt.Errorf("type-argument stack underflow")
	}
	args := make([]*Type, n)
	copy(args, f.typeArgs[len(f.typeArgs)-n:])
	f.typeArgs = f.typeArgs[:len(f.typeArgs)-n]
	return args, nil
}

type mapSnapshot struct {
	pcOffset int
	types    []*Type
}

type ptrMapBuilder struct {
	fn        *Function
	pkg       *Package
	vm        *VM
	locals    int
	snapshots []mapSnapshot
}

// buildStackPointerMap runs the abstract interpretation for fn and packs
// the result.
func buildStackPointerMap(fn *Function) (*StackPointerMap, error) {
	b := &ptrMapBuilder{
		fn:     fn,
		pkg:    fn.pkg,
		locals: fn.LocalsCount(),
	}
	if fn.pkg != nil {
		b.vm = fn.pkg.vmRef
	}
	if len(fn.instructions) > 0 {
		initial := &builderFrame{typeMap: make([]*Type, b.locals)}
		for i := range initial.typeMap {
			initial.typeMap[i] = UnitType
		}
		type workItem struct {
			block int
			frame *builderFrame
		}
		visited := make(map[int]bool)
		work := []workItem{{block: 0, frame: initial}}
		for len(work) > 0 {
			item := work[0]
			work = work[1:]
			if visited[item.block] {
				continue
			}
			visited[item.block] = true
			successors, err := b.runBlock(fn.BlockOffset(item.block), item.frame)
			if err != nil {
				return nil, &LoadError{Package: pkgName(fn.pkg), Message: fmt.Sprintf("pointer map for %s", fn), Err: err}
			}
			for _, s := range successors {
				work = append(work, workItem{block: s.block, frame: s.frame})
			}
		}
	}
	return b.pack(), nil
}

func pkgName(p *Package) *Name {
	if p == nil {
		return nil
	}
	return p.name
}

type successor struct {
	block int
	frame *builderFrame
}

// snapshot records the frame state at a GC-safe point.
func (b *ptrMapBuilder) snapshot(pc int, frame *builderFrame) {
	types := make([]*Type, len(frame.typeMap))
	copy(types, frame.typeMap)
	b.snapshots = append(b.snapshots, mapSnapshot{pcOffset: pc, types: types})
}

// runBlock interprets one basic block and returns its successors.
func (b *ptrMapBuilder) runBlock(offset int, frame *builderFrame) ([]successor, error) {
	r := &codeReader{code: b.fn.instructions, pc: offset}
	for {
		pc := r.pc
		op, err := r.opcode()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpNop:

		case OpRet:
			if _, err := frame.pop(); err != nil {
				return nil, err
			}
			return nil, nil

		case OpBranch:
			target, err := r.vbn()
			if err != nil {
				return nil, err
			}
			return []successor{{int(target), frame}}, nil

		case OpBranchIf:
			thenB, err := r.vbn()
			if err != nil {
				return nil, err
			}
			elseB, err := r.vbn()
			if err != nil {
				return nil, err
			}
			if _, err := frame.pop(); err != nil {
				return nil, err
			}
			return []successor{{int(thenB), frame}, {int(elseB), frame.clone()}}, nil

		case OpBranchL:
			n, err := r.vbn()
			if err != nil {
				return nil, err
			}
			if _, err := frame.pop(); err != nil {
				return nil, err
			}
			succ := make([]successor, 0, n)
			for i := int64(0); i < n; i++ {
				target, err := r.vbn()
				if err != nil {
					return nil, err
				}
				succ = append(succ, successor{int(target), frame.clone()})
			}
			return succ, nil

		case OpLabel:
			if _, err := r.vbn(); err != nil {
				return nil, err
			}
			frame.push(I64Type)

		case OpPushTry:
			tryB, err := r.vbn()
			if err != nil {
				return nil, err
			}
			catchB, err := r.vbn()
			if err != nil {
				return nil, err
			}
			catchFrame := frame.clone()
			catchFrame.push(b.exceptionType())
			return []successor{{int(tryB), frame}, {int(catchB), catchFrame}}, nil

		case OpPopTry:
			done, err := r.vbn()
			if err != nil {
				return nil, err
			}
			return []successor{{int(done), frame}}, nil

		case OpThrow:
			if _, err := frame.pop(); err != nil {
				return nil, err
			}
			return nil, nil

		case OpPkg:
			frame.push(b.objectType())

		case OpDrop:
			if _, err := frame.pop(); err != nil {
				return nil, err
			}

		case OpDropI:
			i, err := r.vbn()
			if err != nil {
				return nil, err
			}
			idx := len(frame.typeMap) - 1 - int(i)
			if idx < 0 {
				return nil, fmt.Errorf("DROPI underflow")
			}
			frame.typeMap = append(frame.typeMap[:idx], frame.typeMap[idx+1:]...)

		case OpDup:
			t, err := frame.top()
			if err != nil {
				return nil, err
			}
			frame.push(t)

		case OpDupI:
			i, err := r.vbn()
			if err != nil {
				return nil, err
			}
			idx := len(frame.typeMap) - 1 - int(i)
			if idx < 0 {
				return nil, fmt.Errorf("DUPI underflow")
			}
			frame.push(frame.typeMap[idx])

		case OpSwap:
			n := len(frame.typeMap)
			if n < 2 {
				return nil, fmt.Errorf("SWAP underflow")
			}
			frame.typeMap[n-1], frame.typeMap[n-2] = frame.typeMap[n-2], frame.typeMap[n-1]

		case OpSwap2:
			n := len(frame.typeMap)
			if n < 4 {
				return nil, fmt.Errorf("SWAP2 underflow")
			}
			frame.typeMap[n-1], frame.typeMap[n-3] = frame.typeMap[n-3], frame.typeMap[n-1]
			frame.typeMap[n-2], frame.typeMap[n-4] = frame.typeMap[n-4], frame.typeMap[n-2]

		case OpUnit:
			frame.push(UnitType)
		case OpTrue, OpFalse:
			frame.push(BooleanType)
		case OpNul, OpUninitialized:
			frame.push(NullType)
		case OpI8:
			if _, err := r.vbn(); err != nil {
				return nil, err
			}
			frame.push(I8Type)
		case OpI16:
			if _, err := r.vbn(); err != nil {
				return nil, err
			}
			frame.push(I16Type)
		case OpI32:
			if _, err := r.vbn(); err != nil {
				return nil, err
			}
			frame.push(I32Type)
		case OpI64:
			if _, err := r.vbn(); err != nil {
				return nil, err
			}
			frame.push(I64Type)
		case OpF32:
			if _, err := r.f32(); err != nil {
				return nil, err
			}
			frame.push(F32Type)
		case OpF64:
			if _, err := r.f64(); err != nil {
				return nil, err
			}
			frame.push(F64Type)
		case OpString:
			if _, err := r.vbn(); err != nil {
				return nil, err
			}
			frame.push(b.stringType())

		case OpLdLocal:
			slot, err := r.vbn()
			if err != nil {
				return nil, err
			}
			t, err := b.slotType(frame, int(slot))
			if err != nil {
				return nil, err
			}
			frame.push(t)

		case OpStLocal:
			slot, err := r.vbn()
			if err != nil {
				return nil, err
			}
			t, err := frame.pop()
			if err != nil {
				return nil, err
			}
			if slot < 0 {
				li := int(-slot) - 1
				if li >= b.locals {
					return nil, fmt.Errorf("STLOCAL local %d out of range", li)
				}
				frame.typeMap[li] = t
			}

		case OpLdG, OpLdGF:
			g, err := b.readGlobal(r, op == OpLdGF)
			if err != nil {
				return nil, err
			}
			frame.push(g.typ)

		case OpStG, OpStGF:
			if _, err := b.readGlobal(r, op == OpStGF); err != nil {
				return nil, err
			}
			if _, err := frame.pop(); err != nil {
				return nil, err
			}

		case OpLdF, OpLdFF:
			_, field, err := b.readFieldRef(r, op == OpLdFF)
			if err != nil {
				return nil, err
			}
			recv, err := frame.pop()
			if err != nil {
				return nil, err
			}
			frame.push(b.fieldType(field, recv))

		case OpStF, OpStFF:
			if _, _, err := b.readFieldRef(r, op == OpStFF); err != nil {
				return nil, err
			}
			if err := frame.popN(2); err != nil {
				return nil, err
			}

		case OpLdE:
			if err := frame.popN(1); err != nil { // index
				return nil, err
			}
			recv, err := frame.pop()
			if err != nil {
				return nil, err
			}
			frame.push(b.elementType(recv))

		case OpStE:
			if err := frame.popN(3); err != nil {
				return nil, err
			}

		case OpAllocObj, OpAllocObjF:
			class, err := b.readClassRef(r, op == OpAllocObjF)
			if err != nil {
				return nil, err
			}
			args, err := frame.popTypeArgs(len(class.typeParams))
			if err != nil {
				return nil, err
			}
			b.snapshot(pc, frame)
			frame.push(NewClassType(class, args...))

		case OpAllocArr, OpAllocArrF:
			class, err := b.readClassRef(r, op == OpAllocArrF)
			if err != nil {
				return nil, err
			}
			args, err := frame.popTypeArgs(len(class.typeParams))
			if err != nil {
				return nil, err
			}
			if _, err := frame.pop(); err != nil { // length
				return nil, err
			}
			b.snapshot(pc, frame)
			frame.push(NewClassType(class, args...))

		case OpTys, OpTyd:
			i, err := r.vbn()
			if err != nil {
				return nil, err
			}
			if int(i) >= len(b.fn.instTypes) {
				return nil, fmt.Errorf("instantiation type %d out of range", i)
			}
			frame.typeArgs = append(frame.typeArgs, b.fn.instTypes[i])

		case OpCast, OpCastC:
			target, err := frame.popTypeArgs(1)
			if err != nil {
				return nil, err
			}
			if _, err := frame.pop(); err != nil {
				return nil, err
			}
			frame.push(target[0])

		case OpCastCBr:
			okB, err := r.vbn()
			if err != nil {
				return nil, err
			}
			failB, err := r.vbn()
			if err != nil {
				return nil, err
			}
			target, err := frame.popTypeArgs(1)
			if err != nil {
				return nil, err
			}
			okFrame := frame.clone()
			n := len(okFrame.typeMap)
			if n == 0 {
				return nil, fmt.Errorf("CASTCBR underflow")
			}
			okFrame.typeMap[n-1] = target[0]
			return []successor{{int(okB), okFrame}, {int(failB), frame}}, nil

		case OpCallG, OpCallGF, OpCallV, OpCallVF:
			callee, err := b.readFunctionRef(r, op == OpCallGF || op == OpCallVF)
			if err != nil {
				return nil, err
			}
			typeArgs, err := frame.popTypeArgs(len(callee.typeParams))
			if err != nil {
				return nil, err
			}
			if err := frame.popN(len(callee.paramTypes)); err != nil {
				return nil, err
			}
			b.snapshot(pc, frame)
			ret := callee.returnType
			if len(typeArgs) > 0 {
				bindings := make(TypeBindings, len(typeArgs))
				for i, p := range callee.typeParams {
					bindings[p] = typeArgs[i]
				}
				ret = ret.Substitute(bindings)
			}
			frame.push(ret)

		case OpNotB:
			if _, err := frame.pop(); err != nil {
				return nil, err
			}
			frame.push(BooleanType)

		default:
			if err := b.runArithmetic(op, frame); err != nil {
				return nil, err
			}
		}
	}
}

// runArithmetic applies the stack effect of arithmetic, comparison, and
// conversion opcodes.
func (b *ptrMapBuilder) runArithmetic(op Opcode, frame *builderFrame) error {
	switch {
	case op >= OpAddI8 && op < OpNegI8:
		// Binary integer ops: pop two, push the width's type.
		width := int(op-OpAddI8) % 4
		if err := frame.popN(2); err != nil {
			return err
		}
		frame.push(intWidthType[width])
	case op >= OpNegI8 && op < OpAddF32:
		width := int(op-OpNegI8) % 4
		if _, err := frame.pop(); err != nil {
			return err
		}
		frame.push(intWidthType[width])
	case op >= OpAddF32 && op < OpNegF32:
		t := F32Type
		if (op-OpAddF32)%2 == 1 {
			t = F64Type
		}
		if err := frame.popN(2); err != nil {
			return err
		}
		frame.push(t)
	case op == OpNegF32 || op == OpNegF64:
		t := F32Type
		if op == OpNegF64 {
			t = F64Type
		}
		if _, err := frame.pop(); err != nil {
			return err
		}
		frame.push(t)
	case op >= OpEqI8 && op < OpEqF32:
		if err := frame.popN(2); err != nil {
			return err
		}
		frame.push(BooleanType)
	case op >= OpEqF32 && op <= OpGeF64:
		if err := frame.popN(2); err != nil {
			return err
		}
		frame.push(BooleanType)
	case op >= OpTruncI8 && op <= OpFtoiI64, op >= OpIcvtI8 && op <= OpExtI64:
		if _, err := frame.pop(); err != nil {
			return err
		}
		frame.push(conversionResultType(op))
	default:
		return fmt.Errorf("unknown opcode 0x%02X", byte(op))
	}
	return nil
}

// conversionResultType gives the result type of a conversion opcode.
func conversionResultType(op Opcode) *Type {
	switch op {
	case OpTruncI8, OpIcvtI8, OpExtI8:
		return I8Type
	case OpTruncI16, OpSextI16, OpZextI16, OpIcvtI16, OpExtI16:
		return I16Type
	case OpTruncI32, OpSextI32, OpZextI32, OpFtoiI32, OpIcvtI32, OpExtI32:
		return I32Type
	case OpSextI64, OpZextI64, OpFtoiI64, OpIcvtI64, OpExtI64:
		return I64Type
	case OpFcvtF32, OpItofF32:
		return F32Type
	default:
		return F64Type
	}
}

// ---------------------------------------------------------------------------
// Reference decoding helpers
// ---------------------------------------------------------------------------

func (b *ptrMapBuilder) slotType(frame *builderFrame, slot int) (*Type, error) {
	if slot >= 0 {
		if slot >= len(b.fn.paramTypes) {
			return nil, fmt.Errorf("parameter %d out of range", slot)
		}
		return b.fn.paramTypes[slot], nil
	}
	li := -slot - 1
	if li >= b.locals {
		return nil, fmt.Errorf("local %d out of range", li)
	}
	return frame.typeMap[li], nil
}

func (b *ptrMapBuilder) readGlobal(r *codeReader, foreign bool) (*Global, error) {
	if foreign {
		dep, err := r.vbn()
		if err != nil {
			return nil, err
		}
		idx, err := r.vbn()
		if err != nil {
			return nil, err
		}
		return b.pkg.dependencyGlobal(int(dep), int(idx)), nil
	}
	idx, err := r.vbn()
	if err != nil {
		return nil, err
	}
	if int(idx) >= len(b.pkg.globals) {
		return nil, fmt.Errorf("global %d out of range", idx)
	}
	return b.pkg.globals[idx], nil
}

func (b *ptrMapBuilder) readClassRef(r *codeReader, foreign bool) (*Class, error) {
	if foreign {
		dep, err := r.vbn()
		if err != nil {
			return nil, err
		}
		idx, err := r.vbn()
		if err != nil {
			return nil, err
		}
		return b.pkg.dependencyClass(int(dep), int(idx)), nil
	}
	idx, err := r.vbn()
	if err != nil {
		return nil, err
	}
	return b.classByIndex(int(idx))
}

// classByIndex resolves a local class index; negative indices name builtin
// classes.
func (b *ptrMapBuilder) classByIndex(idx int) (*Class, error) {
	if idx < 0 {
		if b.vm == nil {
			return nil, fmt.Errorf("builtin class %d outside a VM", idx)
		}
		c := b.vm.builtinClass(BuiltinClassID(-idx - 1))
		if c == nil {
			return nil, fmt.Errorf("builtin class %d unknown", idx)
		}
		return c, nil
	}
	if b.pkg == nil || idx >= len(b.pkg.classes) {
		return nil, fmt.Errorf("class %d out of range", idx)
	}
	return b.pkg.classes[idx], nil
}

func (b *ptrMapBuilder) readFieldRef(r *codeReader, foreign bool) (*Class, *Field, error) {
	var class *Class
	var err error
	if foreign {
		dep, err2 := r.vbn()
		if err2 != nil {
			return nil, nil, err2
		}
		idx, err2 := r.vbn()
		if err2 != nil {
			return nil, nil, err2
		}
		class = b.pkg.dependencyClass(int(dep), int(idx))
	} else {
		idx, err2 := r.vbn()
		if err2 != nil {
			return nil, nil, err2
		}
		class, err = b.classByIndex(int(idx))
		if err != nil {
			return nil, nil, err
		}
	}
	fieldIdx, err := r.vbn()
	if err != nil {
		return nil, nil, err
	}
	fields := class.allFields()
	if int(fieldIdx) >= len(fields) {
		return nil, nil, fmt.Errorf("field %d out of range in %s", fieldIdx, class.name)
	}
	return class, fields[fieldIdx], nil
}

func (b *ptrMapBuilder) readFunctionRef(r *codeReader, foreign bool) (*Function, error) {
	if foreign {
		dep, err := r.vbn()
		if err != nil {
			return nil, err
		}
		idx, err := r.vbn()
		if err != nil {
			return nil, err
		}
		return b.pkg.dependencyFunction(int(dep), int(idx)), nil
	}
	idx, err := r.vbn()
	if err != nil {
		return nil, err
	}
	if b.pkg == nil || int(idx) >= len(b.pkg.functions) {
		return nil, fmt.Errorf("function %d out of range", idx)
	}
	return b.pkg.functions[idx], nil
}

// fieldType rewrites a field's declared type into the receiver's view.
func (b *ptrMapBuilder) fieldType(field *Field, recv *Type) *Type {
	t := field.typ
	if recv != nil && recv.Form() == ClassTypeForm {
		defining := recv.Class()
		for cur := defining; cur != nil; cur = cur.Superclass() {
			for _, f := range cur.fields {
				if f == field {
					defining = cur
					break
				}
			}
		}
		t = t.SubstituteForInheritance(recv, defining)
		if bindings := recv.TypeArgumentBindings(); bindings != nil {
			t = t.Substitute(bindings)
		}
	}
	return t
}

// elementType gives the element type of an array receiver.
func (b *ptrMapBuilder) elementType(recv *Type) *Type {
	if recv == nil || recv.Form() != ClassTypeForm || recv.Class().elementType == nil {
		return UnitType
	}
	t := recv.Class().elementType
	if bindings := recv.TypeArgumentBindings(); bindings != nil {
		t = t.Substitute(bindings)
	}
	return t
}

func (b *ptrMapBuilder) stringType() *Type {
	if b.vm != nil {
		return NewClassType(b.vm.builtinClass(BuiltinStringClass))
	}
	return NullType
}

func (b *ptrMapBuilder) objectType() *Type {
	if b.vm != nil {
		return NewClassType(b.vm.builtinClass(BuiltinObjectClass))
	}
	return NullType
}

func (b *ptrMapBuilder) exceptionType() *Type {
	if b.vm != nil {
		return NewClassType(b.vm.builtinClass(BuiltinExceptionClass))
	}
	return NullType
}

// ---------------------------------------------------------------------------
// Packing
// ---------------------------------------------------------------------------

func (b *ptrMapBuilder) pack() *StackPointerMap {
	sort.Slice(b.snapshots, func(i, j int) bool {
		return b.snapshots[i].pcOffset < b.snapshots[j].pcOffset
	})
	total := 0
	for _, s := range b.snapshots {
		total += len(s.types)
	}
	m := &StackPointerMap{
		paramBits: NewBitmap(len(b.fn.paramTypes)),
		bitmap:    NewBitmap(total),
	}
	for i, t := range b.fn.paramTypes {
		if t.IsObject() {
			m.paramBits.Set(i, true)
		}
	}
	offset := 0
	for _, s := range b.snapshots {
		entry := PointerMapEntry{
			PCOffset:  uint32(s.pcOffset),
			MapOffset: uint32(offset),
			MapCount:  uint32(len(s.types)),
		}
		for i, t := range s.types {
			if t.IsObject() {
				m.bitmap.Set(offset+i, true)
			}
		}
		offset += len(s.types)
		m.entries = append(m.entries, entry)
	}
	return m
}
