package module

import "fmt"

// Opcode represents a single instruction opcode.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop    Opcode = 0x00 // No operation
	OpDup    Opcode = 0x01 // Duplicate top of stack
	OpPop    Opcode = 0x02 // Pop top of stack
	OpLdNull Opcode = 0x03 // Push null reference

	// ========================================================================
	// Arguments and locals (0x10-0x1F)
	// ========================================================================

	OpLdArg0 Opcode = 0x10 // Push argument 0 (the receiver in instance methods)
	OpLdArg  Opcode = 0x11 // Push argument: OpLdArg <index:i32>
	OpLdLoc  Opcode = 0x12 // Push local: OpLdLoc <slot:i32>
	OpStLoc  Opcode = 0x13 // Pop and store to local: OpStLoc <slot:i32>

	// ========================================================================
	// Constants (0x20-0x2F)
	// ========================================================================

	OpLdcI4 Opcode = 0x20 // Push 32-bit integer: OpLdcI4 <value:i32>
	OpLdStr Opcode = 0x21 // Push string literal: OpLdStr <token:u32>

	// ========================================================================
	// Fields (0x30-0x3F)
	// ========================================================================

	OpLdFld Opcode = 0x30 // obj -> value: OpLdFld <field:u32>
	OpStFld Opcode = 0x31 // obj value -> : OpStFld <field:u32>

	// ========================================================================
	// Arithmetic and comparison (0x40-0x4F)
	// ========================================================================

	OpAdd Opcode = 0x40 // Pop two, push sum
	OpSub Opcode = 0x41 // Pop two, push difference
	OpCeq Opcode = 0x42 // Pop two, push 1 if equal else 0

	// ========================================================================
	// Arrays and objects (0x50-0x5F)
	// ========================================================================

	OpNewArr Opcode = 0x50 // length -> array: OpNewArr <type:u32>
	OpLdLen  Opcode = 0x51 // array -> length

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpBr      Opcode = 0x80 // Unconditional branch: OpBr <offset:i32>
	OpBrTrue  Opcode = 0x81 // Branch if top is non-zero: OpBrTrue <offset:i32>
	OpBrFalse Opcode = 0x82 // Branch if top is zero/null: OpBrFalse <offset:i32>

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCall     Opcode = 0x90 // Call method: OpCall <method:u32>
	OpCallVirt Opcode = 0x91 // Virtual call: OpCallVirt <method:u32>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpRet   Opcode = 0xF0 // Return from method
	OpThrow Opcode = 0xF1 // Throw object on top of stack
)

// OperandKind describes the operand an opcode carries.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandInt32
	OperandString
	OperandBranch
	OperandField
	OperandMethod
	OperandType
)

// String returns a human-readable name for OperandKind.
func (k OperandKind) String() string {
	switch k {
	case OperandNone:
		return "none"
	case OperandInt32:
		return "int32"
	case OperandString:
		return "string"
	case OperandBranch:
		return "branch"
	case OperandField:
		return "field"
	case OperandMethod:
		return "method"
	case OperandType:
		return "type"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// Size returns the encoded operand size in bytes.
func (k OperandKind) Size() int {
	if k == OperandNone {
		return 0
	}
	return 4
}

// OpcodeInfo provides metadata about each opcode for validation and dumping.
type OpcodeInfo struct {
	Name      string      // Assembly mnemonic
	StackPop  int         // Values popped (-1 = depends on the call target)
	StackPush int         // Values pushed (-1 = depends on the call target)
	Operand   OperandKind // Operand carried by the instruction
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:    {"nop", 0, 0, OperandNone},
	OpDup:    {"dup", 1, 2, OperandNone},
	OpPop:    {"pop", 1, 0, OperandNone},
	OpLdNull: {"ldnull", 0, 1, OperandNone},

	OpLdArg0: {"ldarg.0", 0, 1, OperandNone},
	OpLdArg:  {"ldarg", 0, 1, OperandInt32},
	OpLdLoc:  {"ldloc", 0, 1, OperandInt32},
	OpStLoc:  {"stloc", 1, 0, OperandInt32},

	OpLdcI4: {"ldc.i4", 0, 1, OperandInt32},
	OpLdStr: {"ldstr", 0, 1, OperandString},

	OpLdFld: {"ldfld", 1, 1, OperandField},
	OpStFld: {"stfld", 2, 0, OperandField},

	OpAdd: {"add", 2, 1, OperandNone},
	OpSub: {"sub", 2, 1, OperandNone},
	OpCeq: {"ceq", 2, 1, OperandNone},

	OpNewArr: {"newarr", 1, 1, OperandType},
	OpLdLen:  {"ldlen", 1, 1, OperandNone},

	OpBr:      {"br", 0, 0, OperandBranch},
	OpBrTrue:  {"brtrue", 1, 0, OperandBranch},
	OpBrFalse: {"brfalse", 1, 0, OperandBranch},

	OpCall:     {"call", -1, -1, OperandMethod},
	OpCallVirt: {"callvirt", -1, -1, OperandMethod},

	OpRet:   {"ret", 0, 0, OperandNone},
	OpThrow: {"throw", 1, 0, OperandNone},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupOpcode returns the opcode with the given mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandKind returns the kind of operand this opcode carries.
func (op Opcode) OperandKind() OperandKind {
	return GetOpcodeInfo(op).Operand
}

// InstructionLen returns the encoded length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandKind().Size()
}

// IsBranch returns true if this opcode transfers control to a target instruction.
func (op Opcode) IsBranch() bool {
	return op >= OpBr && op <= OpBrFalse
}

// IsCall returns true if this opcode invokes a method.
func (op Opcode) IsCall() bool {
	return op == OpCall || op == OpCallVirt
}

// IsTerminator returns true if control never falls through this opcode.
func (op Opcode) IsTerminator() bool {
	return op == OpRet || op == OpThrow || op == OpBr
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
