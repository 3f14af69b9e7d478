// Package assembler turns EVM2 assembly text into binary modules.
//
// The pipeline is lexer, parser, symbol resolver and encoder. Each stage is
// exported so it can be driven and tested on its own; Assemble runs them all.
package assembler

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/Urethramancer/evm2/bitstream"
	"github.com/Urethramancer/evm2/internal/logging"
	"github.com/Urethramancer/evm2/isa"
	"github.com/Urethramancer/evm2/module"
)

// Assembler holds the settings for the assembly process.
type Assembler struct {
	format  isa.Format
	symbols bool
	log     logrus.FieldLogger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithFormat sets the output format used when the source has no .format
// directive.
func WithFormat(f isa.Format) Option {
	return func(a *Assembler) { a.format = f }
}

// WithSymbols emits a symbol section even without a .symbols directive.
func WithSymbols(on bool) Option {
	return func(a *Assembler) { a.symbols = on }
}

// WithLogger sets the logger pass statistics go to.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Assembler) { a.log = log }
}

// New creates a new Assembler instance.
func New(opts ...Option) *Assembler {
	a := &Assembler{format: isa.Native, log: logging.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble assembles src with the given options.
func Assemble(src string, opts ...Option) (*module.Module, error) {
	return New(opts...).Assemble(src)
}

// AssembleBytes assembles src and returns the serialised module.
func AssembleBytes(src string, opts ...Option) ([]byte, error) {
	m, err := Assemble(src, opts...)
	if err != nil {
		return nil, err
	}
	return m.MarshalBinary()
}

// Assemble takes EVM2 assembly source and returns the module.
func (a *Assembler) Assemble(src string) (*module.Module, error) {
	prog, err := Parse(src)
	if err != nil {
		return nil, err
	}
	a.log.WithFields(logrus.Fields{"nodes": len(prog.Nodes), "labels": len(prog.Labels)}).Debug("parsed")
	return a.AssembleProgram(prog)
}

// AssembleProgram resolves and encodes a parsed program.
func (a *Assembler) AssembleProgram(prog *Program) (*module.Module, error) {
	if !prog.FormatSet {
		prog.Format = a.format
	}
	if err := Resolve(prog); err != nil {
		return nil, err
	}
	a.log.WithFields(logrus.Fields{
		"format": prog.Format,
		"code":   prog.CodeLen,
		"data":   prog.DataLen,
		"unit":   prog.Format.Unit(),
	}).Debug("resolved")

	m := &module.Module{Format: prog.Format}

	w := bitstream.NewWriter()
	data := make([]byte, 0, prog.DataLen)
	for _, n := range prog.Nodes {
		switch n.Type {
		case NodeInstruction:
			if err := encodeInto(w, prog.Format, n.Inst); err != nil {
				return nil, err
			}
		case NodeData:
			b, err := encodeData(n.Line, n.Data)
			if err != nil {
				return nil, err
			}
			data = append(data, b...)
		}
	}
	m.Code = w.Bytes()
	m.Data = data

	if err := a.layoutData(prog, m); err != nil {
		return nil, err
	}
	if err := a.entry(prog, m); err != nil {
		return nil, err
	}
	if err := a.symbolTable(prog, m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid module")
	}

	a.log.WithFields(logrus.Fields{
		"code_bytes": len(m.Code),
		"data_size":  m.DataSize,
		"entry":      m.Entry,
		"symbols":    len(m.Symbols),
	}).Debug("encoded")
	return m, nil
}

func (a *Assembler) layoutData(prog *Program, m *module.Module) error {
	if prog.DataSize == nil {
		m.DataSize = uint32(prog.DataLen)
		return nil
	}
	if *prog.DataSize < prog.DataLen {
		return encodingErr(prog.DataSizeLine, ".dataSize", "data size %d is smaller than the %d bytes of initial data",
			*prog.DataSize, prog.DataLen)
	}
	m.DataSize = uint32(*prog.DataSize)
	return nil
}

// entry applies .entry, falling back to the start label in native modules.
func (a *Assembler) entry(prog *Program, m *module.Module) error {
	op := prog.Entry
	if op == nil {
		if l, ok := prog.Labels["start"]; ok && l.Section == module.Code && prog.Format == isa.Native {
			m.Entry = uint32(l.Addr)
		}
		return nil
	}

	var addr uint64
	switch op.Kind {
	case OperandAddress:
		if op.Section != module.Code {
			return encodingErr(prog.EntryLine, ".entry", "%s is a data label", op.Name)
		}
		addr = op.Addr
	case OperandNumber:
		v, ok := op.Num.Field(32, false)
		if !ok {
			return encodingErr(prog.EntryLine, ".entry", "%s is not a code address", op.Num)
		}
		addr = v
	}
	if addr > prog.CodeLen {
		return encodingErr(prog.EntryLine, ".entry", "address %d is beyond the end of code (%d)", addr, prog.CodeLen)
	}
	if prog.Format == isa.ESET && addr != 0 {
		return encodingErr(prog.EntryLine, ".entry", "eset modules always start at 0")
	}
	m.Entry = uint32(addr)
	return nil
}

func (a *Assembler) symbolTable(prog *Program, m *module.Module) error {
	if !prog.Symbols && !a.symbols {
		return nil
	}
	if prog.Format == isa.ESET {
		return encodingErr(0, ".symbols", "eset modules cannot carry symbols")
	}
	if long, ok := lo.Find(lo.Values(prog.Labels), func(l *Label) bool { return len(l.Name) > module.MaxNameLen }); ok {
		return encodingErr(long.Line, long.Name, "symbol name longer than %d bytes", module.MaxNameLen)
	}
	m.HasSymbols = true
	m.Symbols = lo.MapToSlice(prog.Labels, func(name string, l *Label) module.Symbol {
		return module.Symbol{Section: l.Section, Address: uint32(l.Addr), Name: name}
	})
	m.Symbols = m.SortedSymbols()
	return nil
}
