package assembler

import (
	"fmt"
	"math"

	"github.com/Urethramancer/evm2/isa"
	"github.com/Urethramancer/evm2/module"
)

// NodeType defines the type of a program node.
type NodeType int

const (
	// NodeInstruction type.
	NodeInstruction NodeType = iota
	// NodeLabel type.
	NodeLabel
	// NodeData type.
	NodeData
)

// Node is one element of a program, in source order.
type Node struct {
	Type    NodeType
	Line    int
	Section module.Section
	Label   string
	Inst    *Instruction
	Data    *DataDecl
	// Addr and Size are assigned by Resolve, in the section's address unit.
	Addr uint64
	Size uint64
}

// Number is an integer literal kept as sign and magnitude, so that both
// -2^63 and 2^64-1 survive until a field width is known.
type Number struct {
	Neg bool
	Mag uint64
}

func (n Number) String() string {
	if n.Neg {
		return fmt.Sprintf("-%d", n.Mag)
	}
	return fmt.Sprintf("%d", n.Mag)
}

// Field returns the two's complement pattern of n in a bits-wide field.
// Negative values are accepted only when signed is set. The accepted range
// is [-2^(bits-1), 2^bits-1].
func (n Number) Field(bits int, signed bool) (uint64, bool) {
	mask := uint64(math.MaxUint64)
	if bits < 64 {
		mask = 1<<uint(bits) - 1
	}
	if !n.Neg {
		return n.Mag, n.Mag <= mask
	}
	if !signed || n.Mag > 1<<uint(bits-1) {
		return 0, false
	}
	return -n.Mag & mask, true
}

// Int64 returns n as a signed integer.
func (n Number) Int64() (int64, bool) {
	if n.Neg {
		if n.Mag > 1<<63 {
			return 0, false
		}
		return int64(-n.Mag), true
	}
	if n.Mag > math.MaxInt64 {
		return 0, false
	}
	return int64(n.Mag), true
}

// OperandKind is the syntactic form of an operand.
type OperandKind int

const (
	// OperandRegister is rN.
	OperandRegister OperandKind = iota + 1
	// OperandNumber is an integer literal.
	OperandNumber
	// OperandMemory is size[rN+disp].
	OperandMemory
	// OperandLabelRef is an unresolved label name.
	OperandLabelRef
	// OperandAddress is a label reference after resolution.
	OperandAddress
)

// Operand is one instruction or data operand.
type Operand struct {
	Kind OperandKind
	Raw  string
	// Register and memory operands.
	Reg  int
	Size isa.Size
	Disp Number
	// Number operands.
	Num Number
	// Label references, and after resolution the label's address.
	Name    string
	Section module.Section
	Addr    uint64
}

// fits reports whether the operand's form can fill a slot of kind k.
func (o Operand) fits(k isa.Kind) bool {
	switch o.Kind {
	case OperandRegister, OperandMemory:
		return k == isa.Reg
	}
	return k != isa.Reg
}

// Instruction is one parsed instruction. Spec is the table entry selected
// by mnemonic, arity and operand forms.
type Instruction struct {
	Spec     *isa.Spec
	Mnemonic string
	Operands []Operand
	Line     int
}

// Op returns the instruction set member.
func (in *Instruction) Op() isa.Op {
	return in.Spec.Op
}

// shape returns the instruction with operand kinds and memory flags filled
// in, which is all the sizing pass needs.
func (in *Instruction) shape() isa.Instruction {
	args := make([]isa.Arg, len(in.Operands))
	for i, op := range in.Operands {
		args[i] = isa.Arg{Kind: in.Spec.Operands[i], Mem: op.Kind == OperandMemory}
	}
	return isa.Instruction{Spec: in.Spec, Args: args}
}

// DataDecl is one data directive. Values hold .byte/.word/.dword/.qword
// elements of Width bytes each; Bytes hold .ascii, .asciz and .zero contents.
type DataDecl struct {
	Directive string
	Width     int
	Values    []Operand
	Bytes     []byte
}

// Size returns the number of bytes the declaration occupies.
func (d *DataDecl) Size() uint64 {
	if d.Width > 0 {
		return uint64(d.Width * len(d.Values))
	}
	return uint64(len(d.Bytes))
}

// Label is a named address. Refs lists the indexes of the nodes that refer
// to it.
type Label struct {
	Name    string
	Section module.Section
	Line    int
	Addr    uint64
	Defined bool
	Refs    []int
}

// Program is the parsed form of one source file.
type Program struct {
	Format    isa.Format
	FormatSet bool
	Nodes     []*Node
	Labels    map[string]*Label

	DataSize     *uint64
	DataSizeLine int
	Entry        *Operand
	EntryLine    int
	Symbols      bool

	// CodeLen and DataLen are assigned by Resolve.
	CodeLen uint64
	DataLen uint64
}

func newProgram() *Program {
	return &Program{Labels: make(map[string]*Label)}
}
