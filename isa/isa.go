// Package isa holds the EVM2 instruction set: one immutable table that maps
// every instruction to its mnemonic, operand shape, native opcode byte and
// ESET-VM2 prefix code. The assembler and the disassembler both consult this
// table and nothing else.
package isa

import (
	"strings"

	"github.com/samber/lo"
)

// Kind is the kind of an operand slot.
type Kind uint8

const (
	// Reg is a register or a memory reference through a register.
	Reg Kind = iota + 1
	// Const is a 64-bit constant.
	Const
	// Imm is a 32-bit immediate.
	Imm
	// Label is a code address.
	Label
)

var kindNames = map[Kind]string{
	Reg:   "register",
	Const: "constant",
	Imm:   "immediate",
	Label: "code address",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "invalid"
}

// Letter returns the single-letter shape code of the kind.
func (k Kind) Letter() byte {
	switch k {
	case Reg:
		return 'R'
	case Const:
		return 'C'
	case Imm:
		return 'I'
	case Label:
		return 'L'
	}
	return '?'
}

// Size is the access size of a memory operand.
type Size uint8

const (
	// Byte is an 8-bit access.
	Byte Size = iota
	// Word is a 16-bit access.
	Word
	// Dword is a 32-bit access.
	Dword
	// Qword is a 64-bit access.
	Qword
)

var sizeNames = []string{"byte", "word", "dword", "qword"}

func (s Size) String() string {
	if int(s) < len(sizeNames) {
		return sizeNames[s]
	}
	return "invalid"
}

// Bytes returns the number of bytes accessed.
func (s Size) Bytes() int {
	return 1 << s
}

// ParseSize looks up a size keyword such as "dword".
func ParseSize(name string) (Size, bool) {
	i := lo.IndexOf(sizeNames, strings.ToLower(name))
	return Size(i), i >= 0
}

// Op enumerates the members of the instruction set.
type Op uint8

// Instruction set members.
const (
	OpMov Op = iota + 1
	OpLoadConst
	OpAdd
	OpSub
	OpDiv
	OpMod
	OpMul
	OpCompare
	OpJump
	OpJumpEqual
	OpCall
	OpRet
	OpRead
	OpWrite
	OpConsoleRead
	OpConsoleWrite
	OpCreateThread
	OpJoinThread
	OpHlt
	OpSleep
	OpLock
	OpUnlock

	// Stack extension, native format only.
	OpPushImm
	OpPushReg
	OpPop
	OpStackAdd
	OpStackSub
	OpStackMul
	OpStackDiv
	OpStackMod
	OpDup
	OpSwap
	OpDrop
)

// Register count and the ESET prefix code length bounds.
const (
	NumRegisters = 16
	MinPrefixLen = 3
	MaxPrefixLen = 6
)

// Spec describes one instruction set member.
type Spec struct {
	Op       Op
	Mnemonic string
	Aliases  []string
	Operands []Kind
	// Native is the opcode byte of the native format.
	Native byte
	// Prefix is the ESET-VM2 prefix code, PrefixLen bits long.
	// A zero PrefixLen means the instruction has no ESET encoding.
	Prefix    uint8
	PrefixLen int
}

// Arity returns the number of operands.
func (s *Spec) Arity() int {
	return len(s.Operands)
}

// ESET reports whether the instruction can be encoded in the ESET-VM2 format.
func (s *Spec) ESET() bool {
	return s.PrefixLen > 0
}

// Shape returns the operand shape as letters, e.g. "LRR".
func (s *Spec) Shape() string {
	return string(lo.Map(s.Operands, func(k Kind, _ int) byte { return k.Letter() }))
}

func (s *Spec) String() string {
	if len(s.Operands) == 0 {
		return s.Mnemonic
	}
	return s.Mnemonic + " " + s.Shape()
}

// shape converts operand letters such as "LRR" into kinds.
func shape(letters string) []Kind {
	return lo.Map([]byte(letters), func(b byte, _ int) Kind {
		switch b {
		case 'R':
			return Reg
		case 'C':
			return Const
		case 'I':
			return Imm
		}
		return Label
	})
}

var specs = []*Spec{
	{Op: OpMov, Mnemonic: "mov", Operands: shape("RR"), Native: 0x01, Prefix: 0b000, PrefixLen: 3},
	{Op: OpLoadConst, Mnemonic: "loadConst", Operands: shape("CR"), Native: 0x02, Prefix: 0b001, PrefixLen: 3},
	{Op: OpAdd, Mnemonic: "add", Operands: shape("RRR"), Native: 0x10, Prefix: 0b010001, PrefixLen: 6},
	{Op: OpSub, Mnemonic: "sub", Operands: shape("RRR"), Native: 0x11, Prefix: 0b010010, PrefixLen: 6},
	{Op: OpDiv, Mnemonic: "div", Operands: shape("RRR"), Native: 0x12, Prefix: 0b010011, PrefixLen: 6},
	{Op: OpMod, Mnemonic: "mod", Operands: shape("RRR"), Native: 0x13, Prefix: 0b010100, PrefixLen: 6},
	{Op: OpMul, Mnemonic: "mul", Operands: shape("RRR"), Native: 0x14, Prefix: 0b010101, PrefixLen: 6},
	{Op: OpCompare, Mnemonic: "compare", Operands: shape("RRR"), Native: 0x15, Prefix: 0b01100, PrefixLen: 5},
	{Op: OpJump, Mnemonic: "jump", Aliases: []string{"jmp"}, Operands: shape("L"), Native: 0x20, Prefix: 0b01101, PrefixLen: 5},
	{Op: OpJumpEqual, Mnemonic: "jumpEqual", Operands: shape("LRR"), Native: 0x21, Prefix: 0b01110, PrefixLen: 5},
	{Op: OpCall, Mnemonic: "call", Operands: shape("L"), Native: 0x22, Prefix: 0b1100, PrefixLen: 4},
	{Op: OpRet, Mnemonic: "ret", Native: 0x23, Prefix: 0b1101, PrefixLen: 4},
	{Op: OpRead, Mnemonic: "read", Operands: shape("RRRR"), Native: 0x30, Prefix: 0b10000, PrefixLen: 5},
	{Op: OpWrite, Mnemonic: "write", Operands: shape("RRR"), Native: 0x31, Prefix: 0b10001, PrefixLen: 5},
	{Op: OpConsoleRead, Mnemonic: "consoleRead", Operands: shape("R"), Native: 0x32, Prefix: 0b10010, PrefixLen: 5},
	{Op: OpConsoleWrite, Mnemonic: "consoleWrite", Operands: shape("R"), Native: 0x33, Prefix: 0b10011, PrefixLen: 5},
	{Op: OpCreateThread, Mnemonic: "createThread", Operands: shape("LR"), Native: 0x40, Prefix: 0b10100, PrefixLen: 5},
	{Op: OpJoinThread, Mnemonic: "joinThread", Operands: shape("R"), Native: 0x41, Prefix: 0b10101, PrefixLen: 5},
	{Op: OpHlt, Mnemonic: "hlt", Aliases: []string{"halt"}, Native: 0x42, Prefix: 0b10110, PrefixLen: 5},
	{Op: OpSleep, Mnemonic: "sleep", Operands: shape("R"), Native: 0x43, Prefix: 0b10111, PrefixLen: 5},
	{Op: OpLock, Mnemonic: "lock", Operands: shape("R"), Native: 0x44, Prefix: 0b1110, PrefixLen: 4},
	{Op: OpUnlock, Mnemonic: "unlock", Operands: shape("R"), Native: 0x45, Prefix: 0b1111, PrefixLen: 4},

	{Op: OpPushImm, Mnemonic: "push", Operands: shape("I"), Native: 0x50},
	{Op: OpPushReg, Mnemonic: "push", Operands: shape("R"), Native: 0x51},
	{Op: OpPop, Mnemonic: "pop", Operands: shape("R"), Native: 0x52},
	{Op: OpStackAdd, Mnemonic: "add", Native: 0x53},
	{Op: OpStackSub, Mnemonic: "sub", Native: 0x54},
	{Op: OpStackMul, Mnemonic: "mul", Native: 0x55},
	{Op: OpStackDiv, Mnemonic: "div", Native: 0x56},
	{Op: OpStackMod, Mnemonic: "mod", Native: 0x57},
	{Op: OpDup, Mnemonic: "dup", Native: 0x58},
	{Op: OpSwap, Mnemonic: "swap", Native: 0x59},
	{Op: OpDrop, Mnemonic: "drop", Native: 0x5a},
}

type prefixKey struct {
	code uint64
	bits int
}

var (
	byOp     = lo.KeyBy(specs, func(s *Spec) Op { return s.Op })
	byNative = lo.KeyBy(specs, func(s *Spec) byte { return s.Native })
	byPrefix = lo.Associate(lo.Filter(specs, func(s *Spec, _ int) bool { return s.ESET() }),
		func(s *Spec) (prefixKey, *Spec) { return prefixKey{uint64(s.Prefix), s.PrefixLen}, s })
	byName = buildNameIndex()
)

// buildNameIndex maps every lower-cased mnemonic and alias to its overloads,
// in table order.
func buildNameIndex() map[string][]*Spec {
	idx := make(map[string][]*Spec)
	for _, s := range specs {
		for _, name := range append([]string{s.Mnemonic}, s.Aliases...) {
			key := strings.ToLower(name)
			idx[key] = append(idx[key], s)
		}
	}
	return idx
}

// Specs returns every instruction set member in table order.
func Specs() []*Spec {
	return append([]*Spec(nil), specs...)
}

// Lookup returns the member for op, or nil.
func Lookup(op Op) *Spec {
	return byOp[op]
}

// ByNative returns the member with the given native opcode byte.
func ByNative(code byte) (*Spec, bool) {
	s, ok := byNative[code]
	return s, ok
}

// ByPrefix returns the member with the given ESET prefix code.
func ByPrefix(code uint64, bits int) (*Spec, bool) {
	s, ok := byPrefix[prefixKey{code, bits}]
	return s, ok
}

// Overloads returns every member spelled name, matched case-insensitively.
func Overloads(name string) []*Spec {
	return byName[strings.ToLower(name)]
}

// IsMnemonic reports whether name spells any instruction.
func IsMnemonic(name string) bool {
	return len(Overloads(name)) > 0
}
