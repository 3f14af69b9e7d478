package isa_test

import (
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Urethramancer/evm2/bitstream"
	"github.com/Urethramancer/evm2/isa"
)

func TestTableIsConsistent(t *testing.T) {
	seenOp := map[isa.Op]bool{}
	seenNative := map[byte]string{}
	shapes := map[string]string{}
	var codes []*isa.Spec
	for _, s := range isa.Specs() {
		assert.False(t, seenOp[s.Op], "duplicate op %s", s)
		seenOp[s.Op] = true
		if prev, ok := seenNative[s.Native]; ok {
			t.Errorf("native opcode 0x%02x used by %s and %s", s.Native, prev, s)
		}
		seenNative[s.Native] = s.String()
		key := strings.ToLower(s.Mnemonic) + "/" + s.Shape()
		if prev, ok := shapes[key]; ok {
			t.Errorf("overloads %s and %s share a shape", prev, s)
		}
		shapes[key] = s.String()
		assert.Same(t, s, isa.Lookup(s.Op))
		if s.ESET() {
			codes = append(codes, s)
			assert.GreaterOrEqual(t, s.PrefixLen, isa.MinPrefixLen)
			assert.LessOrEqual(t, s.PrefixLen, isa.MaxPrefixLen)
			assert.NotContains(t, s.Shape(), "I", "%s: immediates have no eset encoding", s)
		}
	}

	// ESET prefix codes must be prefix-free.
	for _, a := range codes {
		for _, b := range codes {
			if a == b || a.PrefixLen > b.PrefixLen {
				continue
			}
			if uint64(b.Prefix)>>(b.PrefixLen-a.PrefixLen) == uint64(a.Prefix) {
				t.Errorf("prefix code of %s is a prefix of %s", a, b)
			}
		}
	}
}

func TestOverloads(t *testing.T) {
	assert.Len(t, isa.Overloads("push"), 2)
	assert.Len(t, isa.Overloads("ADD"), 2)
	assert.Len(t, isa.Overloads("halt"), 1)
	assert.Equal(t, isa.OpJump, isa.Overloads("jmp")[0].Op)
	assert.Equal(t, isa.OpJumpEqual, isa.Overloads("jumpequal")[0].Op)
	assert.Empty(t, isa.Overloads("frobnicate"))
	assert.True(t, isa.IsMnemonic("consoleWrite"))
}

func TestParseSizeAndFormat(t *testing.T) {
	s, ok := isa.ParseSize("DWORD")
	require.True(t, ok)
	assert.Equal(t, isa.Dword, s)
	assert.Equal(t, 4, s.Bytes())
	_, ok = isa.ParseSize("tbyte")
	assert.False(t, ok)

	f, err := isa.ParseFormat("ESET")
	require.NoError(t, err)
	assert.Equal(t, isa.ESET, f)
	_, err = isa.ParseFormat("elf")
	assert.Error(t, err)
}

func reg(n uint8) isa.Arg { return isa.Arg{Kind: isa.Reg, Reg: n} }

func mem(size isa.Size, n uint8, disp int64) isa.Arg {
	return isa.Arg{Kind: isa.Reg, Mem: true, Size: size, Reg: n, Disp: disp}
}

func inst(op isa.Op, args ...isa.Arg) isa.Instruction {
	return isa.Instruction{Spec: isa.Lookup(op), Args: args}
}

func encode(t *testing.T, f isa.Format, in isa.Instruction) []byte {
	t.Helper()
	w := bitstream.NewWriter()
	require.NoError(t, f.Encode(w, in), spew.Sdump(in))
	assert.Equal(t, f.Width(in)*f.UnitBits(), w.Len(), "width of %s", in)
	return w.Bytes()
}

func TestKnownEncodings(t *testing.T) {
	tests := []struct {
		name   string
		format isa.Format
		in     isa.Instruction
		hex    string
	}{
		{"native mov", isa.Native, inst(isa.OpMov, reg(1), mem(isa.Dword, 2, 4)), "01 01 00 a2 04"},
		{"native negative disp", isa.Native, inst(isa.OpMov, mem(isa.Byte, 3, -1), reg(0)), "01 83 ff 00 00"},
		{"native push imm", isa.Native, inst(isa.OpPushImm, isa.Arg{Kind: isa.Imm, Value: 5}), "50 05 00 00 00"},
		{"native loadConst", isa.Native, inst(isa.OpLoadConst, isa.Arg{Kind: isa.Const, Value: 0x0102030405060708}, reg(15)), "02 08 07 06 05 04 03 02 01 0f 00"},
		{"native jump", isa.Native, inst(isa.OpJump, isa.Arg{Kind: isa.Label, Value: 0x1234}), "20 34 12 00 00"},
		{"native stack add", isa.Native, inst(isa.OpStackAdd), "53"},
		{"native halt", isa.Native, inst(isa.OpHlt), "42"},
		{"eset mov", isa.ESET, inst(isa.OpMov, reg(1), reg(2)), "08 20"},
		{"eset jump", isa.ESET, inst(isa.OpJump, isa.Arg{Kind: isa.Label, Value: 5}), "6d 00 00 00 00"},
		{"eset hlt", isa.ESET, inst(isa.OpHlt), "b0"},
		{"eset ret", isa.ESET, inst(isa.OpRet), "d0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want, err := hex.DecodeString(strings.ReplaceAll(tc.hex, " ", ""))
			require.NoError(t, err)
			assert.Equal(t, want, encode(t, tc.format, tc.in))
		})
	}
}

// sampleArgs builds operands that exercise every field of a shape.
func sampleArgs(s *isa.Spec, f isa.Format) []isa.Arg {
	args := make([]isa.Arg, len(s.Operands))
	for i, k := range s.Operands {
		switch k {
		case isa.Reg:
			if i%2 == 0 {
				args[i] = reg(uint8(i*5 + 3))
			} else if f == isa.ESET {
				args[i] = mem(isa.Size(i%4), uint8(i+9), 0)
			} else {
				args[i] = mem(isa.Size(i%4), uint8(i+9), -int64(i*17))
			}
		case isa.Const:
			args[i] = isa.Arg{Kind: k, Value: 0xfedcba9876543210}
		case isa.Imm:
			args[i] = isa.Arg{Kind: k, Value: 0xfffffffe}
		case isa.Label:
			args[i] = isa.Arg{Kind: k, Value: 0x80000001}
		}
	}
	return args
}

func TestEveryInstructionRoundTrips(t *testing.T) {
	for _, f := range []isa.Format{isa.Native, isa.ESET} {
		for _, s := range isa.Specs() {
			if f == isa.ESET && !s.ESET() {
				continue
			}
			in := isa.Instruction{Spec: s, Args: sampleArgs(s, f)}
			b := encode(t, f, in)

			r := bitstream.NewReader(b)
			got, err := f.Decode(r)
			require.NoError(t, err, "%s %s", f, in)
			assert.Equal(t, in, got, "%s %s", f, in)
			assert.Equal(t, f.Width(in)*f.UnitBits(), r.Pos())
			assert.True(t, r.ZeroTail())
		}
	}
}

func TestCheckRejectsLossyOperands(t *testing.T) {
	tests := []struct {
		name   string
		format isa.Format
		in     isa.Instruction
		reason string
	}{
		{"register range", isa.Native, inst(isa.OpPushReg, reg(16)), "out of range"},
		{"displacement range", isa.Native, inst(isa.OpPop, mem(isa.Qword, 1, 128)), "out of range"},
		{"eset displacement", isa.ESET, inst(isa.OpSleep, mem(isa.Qword, 1, 4)), "no eset encoding"},
		{"eset stack op", isa.ESET, inst(isa.OpDup), "no eset encoding"},
		{"immediate width", isa.Native, inst(isa.OpPushImm, isa.Arg{Kind: isa.Imm, Value: 1 << 32}), "32 bits"},
		{"address width", isa.Native, inst(isa.OpCall, isa.Arg{Kind: isa.Label, Value: 1 << 33}), "32 bits"},
		{"arity", isa.Native, inst(isa.OpMov, reg(1)), "takes 2 operands"},
		{"kind", isa.Native, inst(isa.OpJump, reg(1)), "want code address"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.format.Check(tc.in)
			var oe *isa.OperandError
			require.ErrorAs(t, err, &oe)
			assert.Contains(t, oe.Error(), tc.reason)
			assert.Error(t, tc.format.Encode(bitstream.NewWriter(), tc.in))
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	var oc *isa.OpcodeError
	_, err := isa.Native.Decode(bitstream.NewReader([]byte{0xff}))
	require.ErrorAs(t, err, &oc)
	assert.Equal(t, uint64(0xff), oc.Code)

	_, err = isa.ESET.Decode(bitstream.NewReader([]byte{0b01000000}))
	require.ErrorAs(t, err, &oc)
	assert.Equal(t, 6, oc.Bits)
	assert.Equal(t, uint64(0b010000), oc.Code)

	_, err = isa.Native.Decode(bitstream.NewReader([]byte{0x20, 0x01}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var oe *isa.OperandError
	_, err = isa.Native.Decode(bitstream.NewReader([]byte{0x51, 0x10, 0x00}))
	require.ErrorAs(t, err, &oe)
	_, err = isa.Native.Decode(bitstream.NewReader([]byte{0x51, 0x01, 0x02}))
	require.ErrorAs(t, err, &oe)
	_, err = isa.Native.Decode(bitstream.NewReader([]byte{0x51, 0xc1, 0x00}))
	require.ErrorAs(t, err, &oe)
}

func TestArgString(t *testing.T) {
	assert.Equal(t, "r7", reg(7).String())
	assert.Equal(t, "qword[r2]", mem(isa.Qword, 2, 0).String())
	assert.Equal(t, "word[r2+8]", mem(isa.Word, 2, 8).String())
	assert.Equal(t, "byte[r2-8]", mem(isa.Byte, 2, -8).String())
	assert.Equal(t, "-1", isa.Arg{Kind: isa.Imm, Value: 0xffffffff}.String())
	assert.Equal(t, "-2", isa.Arg{Kind: isa.Const, Value: ^uint64(1)}.String())
	assert.Equal(t, "push 3", inst(isa.OpPushImm, isa.Arg{Kind: isa.Imm, Value: 3}).String())
}
