package isa

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/Urethramancer/evm2/bitstream"
)

// Format selects one of the two binary encodings of the instruction set.
type Format uint8

const (
	// Native is the byte-aligned EVM2 encoding. Code addresses count bytes.
	Native Format = iota
	// ESET is the bit-packed ESET-VM2 encoding. Code addresses count bits.
	ESET
)

func (f Format) String() string {
	if f == ESET {
		return "eset"
	}
	return "native"
}

// Unit names the unit code addresses are measured in.
func (f Format) Unit() string {
	if f == ESET {
		return "bit"
	}
	return "byte"
}

// UnitBits returns the number of bits in one address unit.
func (f Format) UnitBits() uint64 {
	if f == ESET {
		return 1
	}
	return 8
}

// ParseFormat accepts "native" or "eset", case-insensitively.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "native", "evm2":
		return Native, nil
	case "eset", "eset-vm2":
		return ESET, nil
	}
	return Native, errors.Errorf("unknown format %q", name)
}

// Arg is one decoded or ready-to-encode operand.
type Arg struct {
	Kind Kind
	// Reg operands.
	Mem  bool
	Size Size
	Reg  uint8
	Disp int64
	// Const, Imm and Label operands. Imm holds the 32-bit field pattern.
	Value uint64
}

func (a Arg) String() string {
	switch a.Kind {
	case Reg:
		if !a.Mem {
			return fmt.Sprintf("r%d", a.Reg)
		}
		switch {
		case a.Disp > 0:
			return fmt.Sprintf("%s[r%d+%d]", a.Size, a.Reg, a.Disp)
		case a.Disp < 0:
			return fmt.Sprintf("%s[r%d-%d]", a.Size, a.Reg, -a.Disp)
		}
		return fmt.Sprintf("%s[r%d]", a.Size, a.Reg)
	case Const:
		return fmt.Sprintf("%d", int64(a.Value))
	case Imm:
		return fmt.Sprintf("%d", int32(uint32(a.Value)))
	}
	return fmt.Sprintf("%d", a.Value)
}

// Instruction pairs a table entry with its operands.
type Instruction struct {
	Spec *Spec
	Args []Arg
}

func (in Instruction) String() string {
	if len(in.Args) == 0 {
		return in.Spec.Mnemonic
	}
	args := make([]string, len(in.Args))
	for i, a := range in.Args {
		args[i] = a.String()
	}
	return in.Spec.Mnemonic + " " + strings.Join(args, ", ")
}

// OpcodeError reports an opcode with no table entry.
type OpcodeError struct {
	Code uint64
	Bits int
}

func (e *OpcodeError) Error() string {
	if e.Bits == 8 {
		return fmt.Sprintf("unknown opcode 0x%02x", e.Code)
	}
	return fmt.Sprintf("unknown opcode %0*b", e.Bits, e.Code)
}

// OperandError reports an operand that cannot be represented.
// Index is -1 when the problem concerns the whole instruction.
type OperandError struct {
	Index  int
	Reason string
}

func (e *OperandError) Error() string {
	if e.Index < 0 {
		return e.Reason
	}
	return fmt.Sprintf("operand %d: %s", e.Index+1, e.Reason)
}

func operandErr(i int, format string, args ...any) error {
	return &OperandError{Index: i, Reason: fmt.Sprintf(format, args...)}
}

// Check verifies that in can be encoded in format f without losing bits.
func (f Format) Check(in Instruction) error {
	s := in.Spec
	if f == ESET && !s.ESET() {
		return operandErr(-1, "%s has no eset encoding", s)
	}
	if len(in.Args) != s.Arity() {
		return operandErr(-1, "%s takes %d operands, got %d", s.Mnemonic, s.Arity(), len(in.Args))
	}
	for i, a := range in.Args {
		if a.Kind != s.Operands[i] {
			return operandErr(i, "want %s, got %s", s.Operands[i], a.Kind)
		}
		switch a.Kind {
		case Reg:
			if a.Reg >= NumRegisters {
				return operandErr(i, "register r%d out of range", a.Reg)
			}
			if !a.Mem {
				if a.Size != 0 || a.Disp != 0 {
					return operandErr(i, "register operand carries size or displacement")
				}
				continue
			}
			if a.Size > Qword {
				return operandErr(i, "invalid access size %d", a.Size)
			}
			if a.Disp != 0 && f == ESET {
				return operandErr(i, "displacements have no eset encoding")
			}
			if a.Disp < math.MinInt8 || a.Disp > math.MaxInt8 {
				return operandErr(i, "displacement %d out of range [-128, 127]", a.Disp)
			}
		case Imm, Label:
			if a.Value > math.MaxUint32 {
				return operandErr(i, "%s %d does not fit in 32 bits", a.Kind, a.Value)
			}
		}
	}
	return nil
}

// Width returns the encoded length of in, in the format's address unit.
// Only the operand kinds and memory flags are consulted.
func (f Format) Width(in Instruction) uint64 {
	if f == ESET {
		w := uint64(in.Spec.PrefixLen)
		for _, a := range in.Args {
			switch a.Kind {
			case Reg:
				w += 5
				if a.Mem {
					w += 2
				}
			case Const:
				w += 64
			case Imm, Label:
				w += 32
			}
		}
		return w
	}

	w := uint64(1)
	for _, a := range in.Args {
		switch a.Kind {
		case Reg:
			w += 2
		case Const:
			w += 8
		case Imm, Label:
			w += 4
		}
	}
	return w
}

// Encode appends in to w after checking it.
func (f Format) Encode(w *bitstream.Writer, in Instruction) error {
	if err := f.Check(in); err != nil {
		return err
	}
	if f == ESET {
		w.WriteBits(uint64(in.Spec.Prefix), in.Spec.PrefixLen)
		for _, a := range in.Args {
			switch a.Kind {
			case Reg:
				if a.Mem {
					w.WriteBit(1)
					w.WriteBitsLSB(uint64(a.Size), 2)
				} else {
					w.WriteBit(0)
				}
				w.WriteBitsLSB(uint64(a.Reg), 4)
			case Const:
				w.WriteBitsLSB(a.Value, 64)
			case Label:
				w.WriteBitsLSB(a.Value, 32)
			}
		}
		return nil
	}

	_ = w.WriteByte(in.Spec.Native)
	for _, a := range in.Args {
		switch a.Kind {
		case Reg:
			mode := a.Reg
			if a.Mem {
				mode |= 0x80 | byte(a.Size)<<4
			}
			_ = w.WriteByte(mode)
			_ = w.WriteByte(byte(int8(a.Disp)))
		case Const:
			w.WriteUint(a.Value, 8)
		case Imm, Label:
			w.WriteUint(a.Value, 4)
		}
	}
	return nil
}

// Decode reads one instruction from r. It returns io.ErrUnexpectedEOF when
// the stream ends inside the instruction, an *OpcodeError for an unknown
// opcode and an *OperandError for a malformed operand.
func (f Format) Decode(r *bitstream.Reader) (Instruction, error) {
	if f == ESET {
		return decodeESET(r)
	}
	return decodeNative(r)
}

func decodeNative(r *bitstream.Reader) (Instruction, error) {
	code, err := r.ReadBits(8)
	if err != nil {
		return Instruction{}, err
	}
	s, ok := ByNative(byte(code))
	if !ok {
		return Instruction{}, &OpcodeError{Code: code, Bits: 8}
	}

	in := Instruction{Spec: s, Args: make([]Arg, len(s.Operands))}
	for i, k := range s.Operands {
		a := Arg{Kind: k}
		switch k {
		case Reg:
			mode, err := r.ReadUint(1)
			if err != nil {
				return in, err
			}
			disp, err := r.ReadUint(1)
			if err != nil {
				return in, err
			}
			a.Reg = uint8(mode & 0x0f)
			if mode&0x80 == 0 {
				if mode&0x70 != 0 || disp != 0 {
					return in, operandErr(i, "malformed register operand %02x %02x", mode, disp)
				}
				break
			}
			if mode&0x40 != 0 {
				return in, operandErr(i, "reserved bit set in memory operand %02x", mode)
			}
			a.Mem = true
			a.Size = Size(mode >> 4 & 3)
			a.Disp = int64(int8(disp))
		case Const:
			if a.Value, err = r.ReadUint(8); err != nil {
				return in, err
			}
		case Imm, Label:
			if a.Value, err = r.ReadUint(4); err != nil {
				return in, err
			}
		}
		in.Args[i] = a
	}
	return in, nil
}

func decodeESET(r *bitstream.Reader) (Instruction, error) {
	var code uint64
	var s *Spec
	for n := 1; s == nil; n++ {
		b, err := r.ReadBit()
		if err != nil {
			return Instruction{}, err
		}
		code = code<<1 | uint64(b)
		if n < MinPrefixLen {
			continue
		}
		if found, ok := ByPrefix(code, n); ok {
			s = found
		} else if n == MaxPrefixLen {
			return Instruction{}, &OpcodeError{Code: code, Bits: n}
		}
	}

	in := Instruction{Spec: s, Args: make([]Arg, len(s.Operands))}
	for i, k := range s.Operands {
		a := Arg{Kind: k}
		var err error
		switch k {
		case Reg:
			var mem uint
			if mem, err = r.ReadBit(); err != nil {
				return in, err
			}
			if mem == 1 {
				a.Mem = true
				size, err := r.ReadBitsLSB(2)
				if err != nil {
					return in, err
				}
				a.Size = Size(size)
			}
			reg, err := r.ReadBitsLSB(4)
			if err != nil {
				return in, err
			}
			a.Reg = uint8(reg)
		case Const:
			if a.Value, err = r.ReadBitsLSB(64); err != nil {
				return in, err
			}
		case Label:
			if a.Value, err = r.ReadBitsLSB(32); err != nil {
				return in, err
			}
		}
		in.Args[i] = a
	}
	return in, nil
}
