package assembler

import (
	"encoding/binary"
	"math"

	"github.com/Urethramancer/evm2/bitstream"
	"github.com/Urethramancer/evm2/isa"
	"github.com/Urethramancer/evm2/module"
)

// EncodeInstruction encodes one resolved instruction. It returns the encoded
// bytes and the length in the format's address unit. ESET output is padded
// with zero bits to a whole byte.
func EncodeInstruction(f isa.Format, in *Instruction) ([]byte, int, error) {
	w := bitstream.NewWriter()
	if err := encodeInto(w, f, in); err != nil {
		return nil, 0, err
	}
	n := int(w.Len())
	if f == isa.Native {
		n /= 8
	}
	return w.Bytes(), n, nil
}

func encodeInto(w *bitstream.Writer, f isa.Format, in *Instruction) error {
	low, err := in.lower()
	if err != nil {
		return err
	}
	if err := f.Encode(w, low); err != nil {
		return encodingErr(in.Line, in.Mnemonic, "%v", err)
	}
	return nil
}

// lower converts the operands into field values, rejecting any value that
// does not fit its field.
func (in *Instruction) lower() (isa.Instruction, error) {
	out := isa.Instruction{Spec: in.Spec, Args: make([]isa.Arg, len(in.Operands))}
	for i, op := range in.Operands {
		kind := in.Spec.Operands[i]
		a := isa.Arg{Kind: kind}
		fail := func(format string, args ...any) error {
			return encodingErr(in.Line, in.Mnemonic, "operand %d (%s): "+format, append([]any{i + 1, op.Raw}, args...)...)
		}

		switch op.Kind {
		case OperandRegister, OperandMemory:
			if op.Reg >= isa.NumRegisters {
				return out, fail("no register r%d", op.Reg)
			}
			a.Reg = uint8(op.Reg)
			if op.Kind == OperandMemory {
				disp, ok := op.Disp.Int64()
				if !ok || disp < math.MinInt8 || disp > math.MaxInt8 {
					return out, fail("displacement %s out of range [-128, 127]", op.Disp)
				}
				a.Mem, a.Size, a.Disp = true, op.Size, disp
			}

		case OperandNumber:
			var ok bool
			switch kind {
			case isa.Const:
				a.Value, ok = op.Num.Field(64, true)
			case isa.Imm:
				a.Value, ok = op.Num.Field(32, true)
			case isa.Label:
				a.Value, ok = op.Num.Field(32, false)
			}
			if !ok {
				return out, fail("%s out of range for a %s", op.Num, kind)
			}

		case OperandAddress:
			if kind == isa.Label && op.Section != module.Code {
				return out, fail("%s is a data label, not a code address", op.Name)
			}
			if op.Addr > math.MaxUint32 {
				return out, fail("address %d does not fit in 32 bits", op.Addr)
			}
			a.Value = op.Addr

		case OperandLabelRef:
			return out, &UnresolvedSymbolError{Name: op.Name, Line: in.Line}
		}
		out.Args[i] = a
	}
	return out, nil
}

// encodeData returns the little-endian image of a data declaration.
func encodeData(line int, d *DataDecl) ([]byte, error) {
	if d.Width == 0 {
		return d.Bytes, nil
	}
	b := make([]byte, 0, d.Size())
	for _, v := range d.Values {
		var x uint64
		switch v.Kind {
		case OperandNumber:
			var ok bool
			if x, ok = v.Num.Field(d.Width*8, true); !ok {
				return nil, encodingErr(line, d.Directive, "%s does not fit in %d byte(s)", v.Num, d.Width)
			}
		case OperandAddress:
			x = v.Addr
			if d.Width < 8 && x >= 1<<(8*uint(d.Width)) {
				return nil, encodingErr(line, d.Directive, "address of %s does not fit in %d byte(s)", v.Name, d.Width)
			}
		default:
			return nil, &UnresolvedSymbolError{Name: v.Name, Line: line}
		}
		b = binary.LittleEndian.AppendUint64(b, x)[:len(b)+d.Width]
	}
	return b, nil
}
