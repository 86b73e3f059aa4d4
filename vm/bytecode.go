package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single bytecode instruction. Operands follow the opcode byte
// as variable byte numbers, except float immediates, which are raw
// little-endian IEEE 754 bytes.
type Opcode byte

// Control flow and stack shuffling
const (
	OpNop      Opcode = 0x00 // no operation
	OpRet      Opcode = 0x01 // pop return value, terminate frame
	OpBranch   Opcode = 0x02 // jump to block (block-index operand)
	OpBranchIf Opcode = 0x03 // pop guard; branch to first block if true, else second
	OpBranchL  Opcode = 0x04 // pop label; jump to the label'th of n blocks
	OpLabel    Opcode = 0x05 // push a jump-table index for BRANCHL
	OpPushTry  Opcode = 0x06 // install handler (try block, catch block)
	OpPopTry   Opcode = 0x07 // remove innermost handler, jump to block
	OpThrow    Opcode = 0x08 // pop exception and unwind
	OpPkg      Opcode = 0x09 // push a null reference in place of a package object
	OpDrop     Opcode = 0x0A // discard top of stack
	OpDropI    Opcode = 0x0B // discard the slot i below the top
	OpDup      Opcode = 0x0C // duplicate top of stack
	OpDupI     Opcode = 0x0D // duplicate the slot i below the top
	OpSwap     Opcode = 0x0E // swap the top two slots
	OpSwap2    Opcode = 0x0F // swap the top two pairs of slots
)

// Constants
const (
	OpUnit          Opcode = 0x10 // push unit
	OpTrue          Opcode = 0x11 // push true
	OpFalse         Opcode = 0x12 // push false
	OpNul           Opcode = 0x13 // push null
	OpUninitialized Opcode = 0x14 // push the uninitialized sentinel
	OpI8            Opcode = 0x15 // push i8 immediate
	OpI16           Opcode = 0x16 // push i16 immediate
	OpI32           Opcode = 0x17 // push i32 immediate
	OpI64           Opcode = 0x18 // push i64 immediate
	OpF32           Opcode = 0x19 // push f32 immediate (4 raw bytes)
	OpF64           Opcode = 0x1A // push f64 immediate (8 raw bytes)
	OpString        Opcode = 0x1B // push string from the package string pool
)

// Locals, globals, fields, elements
const (
	OpLdLocal Opcode = 0x20 // push local/parameter slot
	OpStLocal Opcode = 0x21 // pop into local/parameter slot
	OpLdG     Opcode = 0x22 // push global (local package)
	OpStG     Opcode = 0x23 // pop into global (local package)
	OpLdGF    Opcode = 0x24 // push global (dependency, index)
	OpStGF    Opcode = 0x25 // pop into global (dependency, index)
	OpLdF     Opcode = 0x26 // pop receiver, push field (class, field)
	OpStF     Opcode = 0x27 // pop value and receiver, store field
	OpLdFF    Opcode = 0x28 // foreign-class field load (dep, class, field)
	OpStFF    Opcode = 0x29 // foreign-class field store (dep, class, field)
	OpLdE     Opcode = 0x2A // pop index and receiver, push element
	OpStE     Opcode = 0x2B // pop value, index, receiver; store element
)

// Allocation, type arguments, casts
const (
	OpAllocObj  Opcode = 0x30 // allocate instance of local class
	OpAllocObjF Opcode = 0x31 // allocate instance of foreign class (dep, index)
	OpAllocArr  Opcode = 0x32 // pop length, allocate array of local class
	OpAllocArrF Opcode = 0x33 // pop length, allocate array of foreign class
	OpTys       Opcode = 0x34 // push static instantiation type
	OpTyd       Opcode = 0x35 // push instantiation type with frame substitution
	OpCast      Opcode = 0x36 // consume type arg, retype top of stack
	OpCastC     Opcode = 0x37 // checked cast; throws on failure
	OpCastCBr   Opcode = 0x38 // checked cast branch (success block, failure block)
)

// Calls
const (
	OpCallG  Opcode = 0x3A // call local function
	OpCallGF Opcode = 0x3B // call foreign function (dep, index)
	OpCallV  Opcode = 0x3C // virtual call through local method
	OpCallVF Opcode = 0x3D // virtual call through foreign method (dep, index)
)

// Integer arithmetic families. Each family spans four contiguous opcodes,
// one per width (i8, i16, i32, i64).
const (
	OpAddI8 Opcode = 0x40 + 4*iota
	OpSubI8
	OpMulI8
	OpDivI8
	OpModI8
	OpLslI8
	OpLsrI8
	OpAsrI8
	OpAndI8
	OpOrI8
	OpXorI8
	OpNegI8
	OpInvI8
)

// Float arithmetic
const (
	OpAddF32 Opcode = 0x74 + iota
	OpAddF64
	OpSubF32
	OpSubF64
	OpMulF32
	OpMulF64
	OpDivF32
	OpDivF64
	OpNegF32
	OpNegF64
)

// Integer comparisons, boolean result. Families of four widths.
const (
	OpEqI8 Opcode = 0x80 + 4*iota
	OpNeI8
	OpLtI8
	OpLeI8
	OpGtI8
	OpGeI8
)

// Float comparisons, pairs of (f32, f64).
const (
	OpEqF32 Opcode = 0x98 + iota
	OpEqF64
	OpNeF32
	OpNeF64
	OpLtF32
	OpLtF64
	OpLeF32
	OpLeF64
	OpGtF32
	OpGtF64
	OpGeF32
	OpGeF64
)

// OpNotB negates the boolean on top of the stack.
const OpNotB Opcode = 0xA4

// Conversions
const (
	OpTruncI8  Opcode = 0xB0 // truncate integer to i8
	OpTruncI16 Opcode = 0xB1
	OpTruncI32 Opcode = 0xB2
	OpSextI16  Opcode = 0xB3 // sign-extend integer to i16
	OpSextI32  Opcode = 0xB4
	OpSextI64  Opcode = 0xB5
	OpZextI16  Opcode = 0xB6 // zero-extend integer to i16
	OpZextI32  Opcode = 0xB7
	OpZextI64  Opcode = 0xB8
	OpFcvtF32  Opcode = 0xB9 // f64 -> f32
	OpFcvtF64  Opcode = 0xBA // f32 -> f64
	OpItofF32  Opcode = 0xBB // i32 -> f32
	OpItofF64  Opcode = 0xBC // i64 -> f64
	OpFtoiI32  Opcode = 0xBD // f32 -> i32
	OpFtoiI64  Opcode = 0xBE // f64 -> i64
	OpIcvtI8   Opcode = 0xC0 // resize integer to i8
	OpIcvtI16  Opcode = 0xC1
	OpIcvtI32  Opcode = 0xC2
	OpIcvtI64  Opcode = 0xC3
	OpExtI8    Opcode = 0xC4 // extend boolean to i8 (false=0, true=1)
	OpExtI16   Opcode = 0xC5
	OpExtI32   Opcode = 0xC6
	OpExtI64   Opcode = 0xC7
)

// Full-width aliases for the opcodes the compiler emits most.
const (
	OpAddI64 = OpAddI8 + 3
	OpSubI64 = OpSubI8 + 3
	OpMulI64 = OpMulI8 + 3
	OpDivI64 = OpDivI8 + 3
	OpModI64 = OpModI8 + 3
	OpNegI64 = OpNegI8 + 3
	OpEqI64  = OpEqI8 + 3
	OpNeI64  = OpNeI8 + 3
	OpLtI64  = OpLtI8 + 3
	OpLeI64  = OpLeI8 + 3
	OpGtI64  = OpGtI8 + 3
	OpGeI64  = OpGeI8 + 3
)

// intWidthType maps a family offset (0..3) to its type.
var intWidthType = [4]*Type{I8Type, I16Type, I32Type, I64Type}

// intWidthBits maps a family offset to the width in bits.
var intWidthBits = [4]uint{8, 16, 32, 64}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes how an opcode's operands are encoded.
type OperandKind uint8

const (
	OperandsVbn      OperandKind = iota // fixed count of variable byte numbers
	OperandsF32                         // 4 raw bytes
	OperandsF64                         // 8 raw bytes
	OperandsVbnList                     // count vbn followed by that many vbns
)

// OpcodeInfo holds display metadata about an opcode.
type OpcodeInfo struct {
	Name     string
	Operands int
	Kind     OperandKind
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:      {"NOP", 0, OperandsVbn},
	OpRet:      {"RET", 0, OperandsVbn},
	OpBranch:   {"BRANCH", 1, OperandsVbn},
	OpBranchIf: {"BRANCHIF", 2, OperandsVbn},
	OpBranchL:  {"BRANCHL", 0, OperandsVbnList},
	OpLabel:    {"LABEL", 1, OperandsVbn},
	OpPushTry:  {"PUSHTRY", 2, OperandsVbn},
	OpPopTry:   {"POPTRY", 1, OperandsVbn},
	OpThrow:    {"THROW", 0, OperandsVbn},
	OpPkg:      {"PKG", 0, OperandsVbn},
	OpDrop:     {"DROP", 0, OperandsVbn},
	OpDropI:    {"DROPI", 1, OperandsVbn},
	OpDup:      {"DUP", 0, OperandsVbn},
	OpDupI:     {"DUPI", 1, OperandsVbn},
	OpSwap:     {"SWAP", 0, OperandsVbn},
	OpSwap2:    {"SWAP2", 0, OperandsVbn},

	OpUnit:          {"UNIT", 0, OperandsVbn},
	OpTrue:          {"TRUE", 0, OperandsVbn},
	OpFalse:         {"FALSE", 0, OperandsVbn},
	OpNul:           {"NUL", 0, OperandsVbn},
	OpUninitialized: {"UNINITIALIZED", 0, OperandsVbn},
	OpI8:            {"I8", 1, OperandsVbn},
	OpI16:           {"I16", 1, OperandsVbn},
	OpI32:           {"I32", 1, OperandsVbn},
	OpI64:           {"I64", 1, OperandsVbn},
	OpF32:           {"F32", 0, OperandsF32},
	OpF64:           {"F64", 0, OperandsF64},
	OpString:        {"STRING", 1, OperandsVbn},

	OpLdLocal: {"LDLOCAL", 1, OperandsVbn},
	OpStLocal: {"STLOCAL", 1, OperandsVbn},
	OpLdG:     {"LDG", 1, OperandsVbn},
	OpStG:     {"STG", 1, OperandsVbn},
	OpLdGF:    {"LDGF", 2, OperandsVbn},
	OpStGF:    {"STGF", 2, OperandsVbn},
	OpLdF:     {"LDF", 2, OperandsVbn},
	OpStF:     {"STF", 2, OperandsVbn},
	OpLdFF:    {"LDFF", 3, OperandsVbn},
	OpStFF:    {"STFF", 3, OperandsVbn},
	OpLdE:     {"LDE", 0, OperandsVbn},
	OpStE:     {"STE", 0, OperandsVbn},

	OpAllocObj:  {"ALLOCOBJ", 1, OperandsVbn},
	OpAllocObjF: {"ALLOCOBJF", 2, OperandsVbn},
	OpAllocArr:  {"ALLOCARR", 1, OperandsVbn},
	OpAllocArrF: {"ALLOCARRF", 2, OperandsVbn},
	OpTys:       {"TYS", 1, OperandsVbn},
	OpTyd:       {"TYD", 1, OperandsVbn},
	OpCast:      {"CAST", 0, OperandsVbn},
	OpCastC:     {"CASTC", 0, OperandsVbn},
	OpCastCBr:   {"CASTCBR", 2, OperandsVbn},

	OpCallG:  {"CALLG", 1, OperandsVbn},
	OpCallGF: {"CALLGF", 2, OperandsVbn},
	OpCallV:  {"CALLV", 1, OperandsVbn},
	OpCallVF: {"CALLVF", 2, OperandsVbn},

	OpNotB: {"NOTB", 0, OperandsVbn},
}

var intFamilyNames = []string{
	"ADD", "SUB", "MUL", "DIV", "MOD", "LSL", "LSR", "ASR", "AND", "OR", "XOR", "NEG", "INV",
}

var intCompareNames = []string{"EQ", "NE", "LT", "LE", "GT", "GE"}

var floatOpNames = []string{
	"ADDF32", "ADDF64", "SUBF32", "SUBF64", "MULF32", "MULF64",
	"DIVF32", "DIVF64", "NEGF32", "NEGF64",
}

var floatCompareNames = []string{
	"EQF32", "EQF64", "NEF32", "NEF64", "LTF32", "LTF64",
	"LEF32", "LEF64", "GTF32", "GTF64", "GEF32", "GEF64",
}

var conversionNames = map[Opcode]string{
	OpTruncI8: "TRUNCI8", OpTruncI16: "TRUNCI16", OpTruncI32: "TRUNCI32",
	OpSextI16: "SEXTI16", OpSextI32: "SEXTI32", OpSextI64: "SEXTI64",
	OpZextI16: "ZEXTI16", OpZextI32: "ZEXTI32", OpZextI64: "ZEXTI64",
	OpFcvtF32: "FCVTF32", OpFcvtF64: "FCVTF64",
	OpItofF32: "ITOFF32", OpItofF64: "ITOFF64",
	OpFtoiI32: "FTOII32", OpFtoiI64: "FTOII64",
	OpIcvtI8: "ICVTI8", OpIcvtI16: "ICVTI16", OpIcvtI32: "ICVTI32", OpIcvtI64: "ICVTI64",
	OpExtI8: "EXTI8", OpExtI16: "EXTI16", OpExtI32: "EXTI32", OpExtI64: "EXTI64",
}

// Info returns display metadata for op.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	switch {
	case op >= OpAddI8 && op < OpAddF32:
		family := int(op-OpAddI8) / 4
		width := int(op-OpAddI8) % 4
		return OpcodeInfo{fmt.Sprintf("%sI%d", intFamilyNames[family], intWidthBits[width]), 0, OperandsVbn}
	case op >= OpAddF32 && op <= OpNegF64:
		return OpcodeInfo{floatOpNames[op-OpAddF32], 0, OperandsVbn}
	case op >= OpEqI8 && op < OpEqF32:
		family := int(op-OpEqI8) / 4
		width := int(op-OpEqI8) % 4
		return OpcodeInfo{fmt.Sprintf("%sI%d", intCompareNames[family], intWidthBits[width]), 0, OperandsVbn}
	case op >= OpEqF32 && op <= OpGeF64:
		return OpcodeInfo{floatCompareNames[op-OpEqF32], 0, OperandsVbn}
	default:
		if name, ok := conversionNames[op]; ok {
			return OpcodeInfo{name, 0, OperandsVbn}
		}
		return OpcodeInfo{fmt.Sprintf("OP_%02X", byte(op)), 0, OperandsVbn}
	}
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// codeReader decodes opcodes and operands from packed bytecode.
type codeReader struct {
	code []byte
	pc   int
}

func (r *codeReader) ReadByte() (byte, error) {
	if r.pc >= len(r.code) {
		return 0, fmt.Errorf("bytecode truncated at %d", r.pc)
	}
	b := r.code[r.pc]
	r.pc++
	return b, nil
}

func (r *codeReader) opcode() (Opcode, error) {
	b, err := r.ReadByte()
	return Opcode(b), err
}

func (r *codeReader) vbn() (int64, error) {
	return readVbn(r)
}

func (r *codeReader) f32() (float32, error) {
	if r.pc+4 > len(r.code) {
		return 0, fmt.Errorf("bytecode truncated at %d", r.pc)
	}
	bits := binary.LittleEndian.Uint32(r.code[r.pc:])
	r.pc += 4
	return math.Float32frombits(bits), nil
}

func (r *codeReader) f64() (float64, error) {
	if r.pc+8 > len(r.code) {
		return 0, fmt.Errorf("bytecode truncated at %d", r.pc)
	}
	bits := binary.LittleEndian.Uint64(r.code[r.pc:])
	r.pc += 8
	return math.Float64frombits(bits), nil
}

// skipOperands advances past op's operands.
func (r *codeReader) skipOperands(op Opcode) error {
	info := op.Info()
	switch info.Kind {
	case OperandsF32:
		_, err := r.f32()
		return err
	case OperandsF64:
		_, err := r.f64()
		return err
	case OperandsVbnList:
		n, err := r.vbn()
		if err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			if _, err := r.vbn(); err != nil {
				return err
			}
		}
		return nil
	default:
		for i := 0; i < info.Operands; i++ {
			if _, err := r.vbn(); err != nil {
				return err
			}
		}
		return nil
	}
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

// Assembler builds packed bytecode with a block-offsets table. Tests and
// tools use it; the compiler has its own emitter that produces the same
// encoding.
type Assembler struct {
	code         []byte
	blockOffsets []uint32
}

// NewAssembler creates an empty assembler with block 0 started.
func NewAssembler() *Assembler {
	return &Assembler{blockOffsets: []uint32{0}}
}

// Block marks the start of a new basic block and returns its index.
func (a *Assembler) Block() int {
	a.blockOffsets = append(a.blockOffsets, uint32(len(a.code)))
	return len(a.blockOffsets) - 1
}

// ReserveBlock pre-assigns a block index whose offset is patched when
// BeginBlock is called with it. Needed for forward branches.
func (a *Assembler) ReserveBlock() int {
	a.blockOffsets = append(a.blockOffsets, ^uint32(0))
	return len(a.blockOffsets) - 1
}

// BeginBlock sets a reserved block's offset to the current position.
func (a *Assembler) BeginBlock(index int) {
	a.blockOffsets[index] = uint32(len(a.code))
}

// Op emits an opcode with signed vbn operands.
func (a *Assembler) Op(op Opcode, operands ...int64) {
	a.code = append(a.code, byte(op))
	for _, v := range operands {
		a.code = append(a.code, appendVbn(nil, v)...)
	}
}

// F32 emits an f32 immediate push.
func (a *Assembler) F32(v float32) {
	a.code = append(a.code, byte(OpF32))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
	a.code = append(a.code, buf[:]...)
}

// F64 emits an f64 immediate push.
func (a *Assembler) F64(v float64) {
	a.code = append(a.code, byte(OpF64))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	a.code = append(a.code, buf[:]...)
}

// BranchL emits a computed branch over the given blocks.
func (a *Assembler) BranchL(blocks ...int) {
	a.code = append(a.code, byte(OpBranchL))
	a.code = appendVbn(a.code, int64(len(blocks)))
	for _, b := range blocks {
		a.code = appendVbn(a.code, int64(b))
	}
}

// Code returns the packed bytecode.
func (a *Assembler) Code() []byte {
	return a.code
}

// BlockOffsets returns the block-offsets table.
func (a *Assembler) BlockOffsets() []uint32 {
	return a.blockOffsets
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble renders packed bytecode as one instruction per line.
func Disassemble(code []byte) string {
	var b strings.Builder
	r := &codeReader{code: code}
	for r.pc < len(r.code) {
		start := r.pc
		op, err := r.opcode()
		if err != nil {
			break
		}
		info := op.Info()
		fmt.Fprintf(&b, "%04d  %s", start, info.Name)
		switch info.Kind {
		case OperandsF32:
			v, err := r.f32()
			if err != nil {
				fmt.Fprintf(&b, " <truncated>\n")
				return b.String()
			}
			fmt.Fprintf(&b, " %g", v)
		case OperandsF64:
			v, err := r.f64()
			if err != nil {
				fmt.Fprintf(&b, " <truncated>\n")
				return b.String()
			}
			fmt.Fprintf(&b, " %g", v)
		case OperandsVbnList:
			n, err := r.vbn()
			if err != nil {
				fmt.Fprintf(&b, " <truncated>\n")
				return b.String()
			}
			for i := int64(0); i < n; i++ {
				v, err := r.vbn()
				if err != nil {
					fmt.Fprintf(&b, " <truncated>\n")
					return b.String()
				}
				fmt.Fprintf(&b, " %d", v)
			}
		default:
			for i := 0; i < info.Operands; i++ {
				v, err := r.vbn()
				if err != nil {
					fmt.Fprintf(&b, " <truncated>\n")
					return b.String()
				}
				fmt.Fprintf(&b, " %d", v)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
