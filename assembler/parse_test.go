package assembler_test

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Urethramancer/evm2/assembler"
	"github.com/Urethramancer/evm2/isa"
	"github.com/Urethramancer/evm2/module"
)

func instructions(p *assembler.Program) []*assembler.Instruction {
	var out []*assembler.Instruction
	for _, n := range p.Nodes {
		if n.Type == assembler.NodeInstruction {
			out = append(out, n.Inst)
		}
	}
	return out
}

func TestParseOverloads(t *testing.T) {
	p, err := assembler.Parse("push 5\npush r1\nadd\nadd r1, r2, r3\nhalt\njmp 0\n")
	require.NoError(t, err)
	ops := []isa.Op{isa.OpPushImm, isa.OpPushReg, isa.OpStackAdd, isa.OpAdd, isa.OpHlt, isa.OpJump}
	insts := instructions(p)
	require.Len(t, insts, len(ops), spew.Sdump(p.Nodes))
	for i, in := range insts {
		assert.Equal(t, ops[i], in.Op(), "instruction %d", i)
	}
}

func TestParseOperands(t *testing.T) {
	p, err := assembler.Parse("mov word[r2-8], [%r15]\nloadConst -0x10, r3\nloadConst 'A', r4\njump target\n")
	require.NoError(t, err)
	insts := instructions(p)
	require.Len(t, insts, 4)

	mov := insts[0].Operands
	assert.Equal(t, assembler.OperandMemory, mov[0].Kind)
	assert.Equal(t, isa.Word, mov[0].Size)
	assert.Equal(t, 2, mov[0].Reg)
	assert.Equal(t, assembler.Number{Neg: true, Mag: 8}, mov[0].Disp)
	assert.Equal(t, "word[r2-8]", mov[0].Raw)
	assert.Equal(t, isa.Qword, mov[1].Size, "size defaults to qword")
	assert.Equal(t, 15, mov[1].Reg)

	assert.Equal(t, assembler.Number{Neg: true, Mag: 16}, insts[1].Operands[0].Num)
	assert.Equal(t, assembler.Number{Mag: 'A'}, insts[2].Operands[0].Num)

	ref := insts[3].Operands[0]
	assert.Equal(t, assembler.OperandLabelRef, ref.Kind)
	assert.Equal(t, "target", ref.Name)
}

func TestParseNumbers(t *testing.T) {
	tests := []struct {
		src  string
		want assembler.Number
	}{
		{"42", assembler.Number{Mag: 42}},
		{"0x2A", assembler.Number{Mag: 42}},
		{"0b101010", assembler.Number{Mag: 42}},
		{"0o52", assembler.Number{Mag: 42}},
		{"'*'", assembler.Number{Mag: 42}},
		{"'\\0'", assembler.Number{}},
		{"-0", assembler.Number{}},
		{"18446744073709551615", assembler.Number{Mag: 1<<64 - 1}},
		{"-9223372036854775808", assembler.Number{Neg: true, Mag: 1 << 63}},
	}
	for _, tc := range tests {
		t.Run(tc.src, func(t *testing.T) {
			p, err := assembler.Parse("loadConst " + tc.src + ", r0")
			require.NoError(t, err)
			assert.Equal(t, tc.want, instructions(p)[0].Operands[0].Num)
		})
	}
}

func TestParseDirectives(t *testing.T) {
	src := `
.format eset
.dataSize 64
.symbols
start:
    hlt
.data
msg: .asciz "hi"
     .word 1, msg
     .zero 3
.code
    ret
`
	p, err := assembler.Parse(src)
	require.NoError(t, err)
	assert.True(t, p.FormatSet)
	assert.Equal(t, isa.ESET, p.Format)
	require.NotNil(t, p.DataSize)
	assert.Equal(t, uint64(64), *p.DataSize)
	assert.True(t, p.Symbols)

	require.Contains(t, p.Labels, "msg")
	assert.Equal(t, module.Data, p.Labels["msg"].Section)
	assert.Equal(t, module.Code, p.Labels["start"].Section)

	var decls []*assembler.DataDecl
	for _, n := range p.Nodes {
		if n.Type == assembler.NodeData {
			decls = append(decls, n.Data)
		}
	}
	require.Len(t, decls, 3)
	assert.Equal(t, []byte("hi\x00"), decls[0].Bytes)
	assert.Equal(t, uint64(4), decls[1].Size())
	assert.Equal(t, uint64(3), decls[2].Size())
	assert.Len(t, instructions(p), 2)
}

func TestParseEntry(t *testing.T) {
	p, err := assembler.Parse(".entry main\nmain: hlt")
	require.NoError(t, err)
	require.NotNil(t, p.Entry)
	assert.Equal(t, "main", p.Entry.Name)
	assert.Equal(t, 1, p.EntryLine)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown mnemonic", "frobnicate r1", 1},
		{"too few operands", "nop:\nmov r1", 2},
		{"too many operands", "hlt r1", 1},
		{"wrong kind", "mov 5, r1", 1},
		{"register for constant", "loadConst r1, r2", 1},
		{"number too large", "loadConst 18446744073709551616, r0", 1},
		{"bad literal", "loadConst 12ab, r0", 1},
		{"missing comma", "mov r1 r2", 1},
		{"missing bracket", "mov [r1, r2", 1},
		{"memory without register", "mov [5], r2", 1},
		{"label as register name", "r3: hlt", 1},
		{"unknown directive", ".org 100", 1},
		{"format after code", "hlt\n.format eset", 2},
		{"format twice", ".format native\n.format eset", 2},
		{"bad format", ".format z80", 1},
		{"data in code", ".byte 1", 1},
		{"code in data", ".data\nhlt", 2},
		{"entry twice", ".entry 0\n.entry 0", 2},
		{"data size twice", ".dataSize 1\n.dataSize 2", 2},
		{"register in data", ".data\n.byte r1", 2},
		{"string expected", ".data\n.ascii 5", 2},
		{"operand after comma", "mov r1,", 1},
		{"stray token", "hlt ]", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := assembler.Parse(tc.src)
			var pe *assembler.ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.line, pe.Line, pe.Error())
		})
	}
}

func TestParseDuplicateLabel(t *testing.T) {
	_, err := assembler.Parse("a: hlt\nb: ret\na: hlt")
	var pe *assembler.ParseError
	require.ErrorAs(t, err, &pe)
	var dup *assembler.DuplicateSymbolError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a", dup.Name)
	assert.Equal(t, 3, dup.Line)
	assert.Equal(t, 1, dup.Previous)
}
