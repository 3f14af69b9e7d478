// Package disassembler turns EVM2 modules back into assembly text that
// reassembles to the same bytes.
package disassembler

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/Urethramancer/evm2/bitstream"
	"github.com/Urethramancer/evm2/internal/logging"
	"github.com/Urethramancer/evm2/isa"
	"github.com/Urethramancer/evm2/module"
)

type config struct {
	addresses bool
	log       logrus.FieldLogger
}

// Option configures Disassemble.
type Option func(*config)

// WithAddresses appends each instruction's address and encoding as a
// trailing comment.
func WithAddresses(on bool) Option {
	return func(c *config) { c.addresses = on }
}

// WithLogger sets the logger pass statistics go to.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *config) { c.log = log }
}

// Instruction represents a single decoded instruction at a specific address.
// Address and Size are in the module's address unit.
type Instruction struct {
	Address uint64
	Size    uint64
	Inst    isa.Instruction
}

// DisassembleBytes parses a serialised module and disassembles it.
func DisassembleBytes(b []byte, opts ...Option) (string, error) {
	m, err := module.Parse(b)
	if err != nil {
		return "", err
	}
	return Disassemble(m, opts...)
}

// Disassemble renders m as assembly source.
func Disassemble(m *module.Module, opts ...Option) (string, error) {
	cfg := &config{log: logging.Discard()}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := m.Validate(); err != nil {
		return "", errors.Wrap(err, "invalid module")
	}

	// Stage 1: linear sweep.
	insts, end, err := sweep(m)
	if err != nil {
		return "", err
	}

	// Stage 2: labels.
	code, err := codeLabels(m, insts, end)
	if err != nil {
		return "", err
	}
	data := dataLabels(m)

	cfg.log.WithFields(logrus.Fields{
		"format":       m.Format,
		"instructions": len(insts),
		"code_labels":  len(code),
		"data_labels":  len(data),
	}).Debug("decoded")

	// Stage 3: render.
	var out strings.Builder
	writeHeader(&out, m, code)
	for _, in := range insts {
		writeLabels(&out, code[in.Address])
		writeInstruction(&out, m, in, code, cfg.addresses)
	}
	writeLabels(&out, code[end])

	if len(m.Data) > 0 || len(data) > 0 {
		out.WriteString("\n.data\n")
		writeData(&out, m.Data, data)
	}
	return out.String(), nil
}

// sweep decodes the code section from start to end. It returns the
// instructions and the address just past the last one.
func sweep(m *module.Module) ([]*Instruction, uint64, error) {
	unit := m.Format.UnitBits()
	r := bitstream.NewReader(m.Code)
	var insts []*Instruction
	for r.Remaining() > 0 {
		// The writer pads ESET code to a whole byte with zero bits.
		if m.Format == isa.ESET && r.Remaining() < 8 && r.ZeroTail() {
			break
		}
		start := r.Pos()
		in, err := m.Format.Decode(r)
		if err != nil {
			return nil, 0, decodeError(m, start, err)
		}
		insts = append(insts, &Instruction{Address: start / unit, Size: (r.Pos() - start) / unit, Inst: in})
	}
	return insts, r.Pos() / unit, nil
}

func headerSize(f isa.Format) int64 {
	if f == isa.ESET {
		return module.ESETHeaderSize
	}
	return module.NativeHeaderSize
}

func decodeError(m *module.Module, start uint64, err error) error {
	addr := start / m.Format.UnitBits()
	var oe *isa.OpcodeError
	if errors.As(err, &oe) {
		return &UnknownOpcodeError{Address: addr, Code: oe.Code, Bits: oe.Bits}
	}
	off := headerSize(m.Format) + int64(start/8)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &module.InvalidModuleError{Offset: off, Reason: fmt.Sprintf("instruction at %d runs past the end of code", addr)}
	}
	return &module.InvalidModuleError{Offset: off, Reason: fmt.Sprintf("instruction at %d: %v", addr, err)}
}

// codeLabels names code addresses. A module with a symbol section gets its
// symbols and nothing else. Otherwise the entry point is called start and
// every code address operand that lands on an instruction boundary gets
// label_<address>.
func codeLabels(m *module.Module, insts []*Instruction, end uint64) (map[uint64][]string, error) {
	boundary := lo.SliceToMap(insts, func(in *Instruction) (uint64, bool) { return in.Address, true })
	boundary[end] = true

	labels := make(map[uint64][]string)
	if m.HasSymbols {
		for _, s := range m.SortedSymbols() {
			if s.Section != module.Code {
				continue
			}
			if !boundary[uint64(s.Address)] {
				return nil, &module.InvalidModuleError{
					Offset: module.NativeHeaderSize,
					Reason: fmt.Sprintf("symbol %q at %d is not on an instruction boundary", s.Name, s.Address),
				}
			}
			labels[uint64(s.Address)] = append(labels[uint64(s.Address)], s.Name)
		}
		return labels, nil
	}

	if entry := uint64(m.Entry); boundary[entry] {
		labels[entry] = []string{"start"}
	}
	for _, in := range insts {
		for _, a := range in.Inst.Args {
			if a.Kind != isa.Label || !boundary[a.Value] {
				continue
			}
			if _, ok := labels[a.Value]; !ok {
				labels[a.Value] = []string{fmt.Sprintf("label_%d", a.Value)}
			}
		}
	}
	return labels, nil
}

// dataLabels returns the data symbols by address.
func dataLabels(m *module.Module) map[uint64][]string {
	syms := lo.Filter(m.SortedSymbols(), func(s module.Symbol, _ int) bool { return s.Section == module.Data })
	return lo.MapValues(
		lo.GroupBy(syms, func(s module.Symbol) uint64 { return uint64(s.Address) }),
		func(group []module.Symbol, _ uint64) []string {
			return lo.Map(group, func(s module.Symbol, _ int) string { return s.Name })
		},
	)
}

func writeHeader(out *strings.Builder, m *module.Module, code map[uint64][]string) {
	if m.Format == isa.ESET {
		out.WriteString(".format eset\n")
	}
	fmt.Fprintf(out, ".dataSize %d\n", m.DataSize)
	if m.Format == isa.Native {
		if names, ok := code[uint64(m.Entry)]; ok {
			fmt.Fprintf(out, ".entry %s\n", names[0])
		} else {
			fmt.Fprintf(out, ".entry %d\n", m.Entry)
		}
	}
	if m.HasSymbols {
		out.WriteString(".symbols\n")
	}
	out.WriteString("\n")
}

func writeLabels(out *strings.Builder, names []string) {
	for _, name := range names {
		fmt.Fprintf(out, "%s:\n", name)
	}
}

func writeInstruction(out *strings.Builder, m *module.Module, in *Instruction, labels map[uint64][]string, annotate bool) {
	ops := lo.Map(in.Inst.Args, func(a isa.Arg, _ int) string {
		if names, ok := labels[a.Value]; ok && a.Kind == isa.Label {
			return names[0]
		}
		return a.String()
	})

	line := "    " + in.Inst.Spec.Mnemonic
	if len(ops) > 0 {
		line = fmt.Sprintf("    %-12s %s", in.Inst.Spec.Mnemonic, strings.Join(ops, ", "))
	}
	if annotate {
		line = fmt.Sprintf("%-48s ; %s", line, encoding(m, in))
	}
	out.WriteString(line)
	out.WriteString("\n")
}

// encoding describes where an instruction lives and how it is encoded.
func encoding(m *module.Module, in *Instruction) string {
	if m.Format == isa.Native {
		raw := m.Code[in.Address : in.Address+in.Size]
		hex := lo.Map(raw, func(b byte, _ int) string { return fmt.Sprintf("%02x", b) })
		return fmt.Sprintf("%04x: %s", in.Address, strings.Join(hex, " "))
	}

	r := bitstream.NewReader(m.Code)
	r.Seek(in.Address)
	bits := make([]byte, 0, in.Size)
	for range in.Size {
		b, _ := r.ReadBit()
		bits = append(bits, '0'+byte(b))
	}
	return fmt.Sprintf("bit %d: %s", in.Address, bits)
}

// sortedAddresses returns the label addresses in ascending order.
func sortedAddresses(labels map[uint64][]string) []uint64 {
	addrs := lo.Keys(labels)
	slices.Sort(addrs)
	return addrs
}
