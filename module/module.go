// Package module reads and writes EVM2 binary modules.
//
// Two layouts are supported. The native layout carries a 28-byte header with
// version, flags, entry point and an optional symbol section. The legacy
// ESET-VM2 layout carries a 20-byte header and a bit-packed code section.
// All integers are little-endian.
package module

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/Urethramancer/evm2/isa"
)

// Layout constants.
const (
	NativeMagic      = "EVM2"
	ESETMagic        = "ESET-VM2"
	Version          = 1
	NativeHeaderSize = 28
	ESETHeaderSize   = 20

	// FlagSymbols marks a native module carrying a symbol section.
	FlagSymbols = 1 << 0

	// MaxNameLen is the longest symbol name a record can hold.
	MaxNameLen = math.MaxUint8
)

// Section identifies the address space a symbol lives in.
type Section uint8

const (
	// Code addresses count bytes (native) or bits (ESET) of the code section.
	Code Section = iota
	// Data addresses count bytes of data memory.
	Data
)

func (s Section) String() string {
	if s == Data {
		return "data"
	}
	return "code"
}

// Symbol names an address in one of the sections.
type Symbol struct {
	Section Section
	Address uint32
	Name    string
}

func compareSymbols(a, b Symbol) int {
	switch {
	case a.Section != b.Section:
		return int(a.Section) - int(b.Section)
	case a.Address < b.Address:
		return -1
	case a.Address > b.Address:
		return 1
	}
	switch {
	case a.Name < b.Name:
		return -1
	case a.Name > b.Name:
		return 1
	}
	return 0
}

// Module is the in-memory form of a binary module.
type Module struct {
	Format isa.Format
	// Entry is the code address execution starts at. Always 0 for ESET.
	Entry uint32
	Code  []byte
	// DataSize is the size of data memory; Data initialises its prefix.
	DataSize uint32
	Data     []byte
	// HasSymbols requests a symbol section. Native only.
	HasSymbols bool
	Symbols    []Symbol
}

// CodeLen returns the length of the code section in address units.
func (m *Module) CodeLen() uint64 {
	return uint64(len(m.Code)) * 8 / m.Format.UnitBits()
}

// SortedSymbols returns the symbols in canonical order: by section, then
// address, then name.
func (m *Module) SortedSymbols() []Symbol {
	syms := slices.Clone(m.Symbols)
	slices.SortFunc(syms, compareSymbols)
	return syms
}

// Validate checks everything MarshalBinary relies on.
func (m *Module) Validate() error {
	if uint64(len(m.Code)) > math.MaxUint32 || uint64(len(m.Data)) > math.MaxUint32 {
		return errors.New("section exceeds 4 GiB")
	}
	if uint64(len(m.Data)) > uint64(m.DataSize) {
		return errors.Errorf("initial data length %d exceeds data size %d", len(m.Data), m.DataSize)
	}
	if m.Format == isa.ESET {
		switch {
		case m.Entry != 0:
			return errors.New("eset modules cannot declare an entry point")
		case m.HasSymbols || len(m.Symbols) > 0:
			return errors.New("eset modules cannot carry symbols")
		}
		return nil
	}

	if uint64(m.Entry) > m.CodeLen() {
		return errors.Errorf("entry point %d beyond code length %d", m.Entry, m.CodeLen())
	}
	if len(m.Symbols) > 0 && !m.HasSymbols {
		return errors.New("symbols given without a symbol section")
	}
	seen := make(map[string]bool, len(m.Symbols))
	for _, s := range m.Symbols {
		if err := m.checkSymbol(s); err != nil {
			return err
		}
		if seen[s.Name] {
			return errors.Errorf("duplicate symbol %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func (m *Module) checkSymbol(s Symbol) error {
	if !isa.ValidName(s.Name) || len(s.Name) > MaxNameLen {
		return errors.Errorf("invalid symbol name %q", s.Name)
	}
	limit := uint64(len(m.Data))
	switch s.Section {
	case Code:
		limit = m.CodeLen()
	case Data:
	default:
		return errors.Errorf("symbol %q in unknown section %d", s.Name, s.Section)
	}
	if uint64(s.Address) > limit {
		return errors.Errorf("%s symbol %q at %d beyond section end %d", s.Section, s.Name, s.Address, limit)
	}
	return nil
}

// MarshalBinary encodes the module. Identical modules always produce
// identical bytes.
func (m *Module) MarshalBinary() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "module")
	}
	le := binary.LittleEndian
	if m.Format == isa.ESET {
		b := make([]byte, 0, ESETHeaderSize+len(m.Code)+len(m.Data))
		b = append(b, ESETMagic...)
		b = le.AppendUint32(b, uint32(len(m.Code)))
		b = le.AppendUint32(b, m.DataSize)
		b = le.AppendUint32(b, uint32(len(m.Data)))
		b = append(b, m.Code...)
		return append(b, m.Data...), nil
	}

	var syms []byte
	var flags uint16
	if m.HasSymbols {
		flags |= FlagSymbols
		for _, s := range m.SortedSymbols() {
			syms = append(syms, byte(s.Section))
			syms = le.AppendUint32(syms, s.Address)
			syms = append(syms, byte(len(s.Name)))
			syms = append(syms, s.Name...)
		}
	}

	b := make([]byte, 0, NativeHeaderSize+len(m.Code)+len(m.Data)+len(syms))
	b = append(b, NativeMagic...)
	b = le.AppendUint16(b, Version)
	b = le.AppendUint16(b, flags)
	b = le.AppendUint32(b, m.Entry)
	b = le.AppendUint32(b, uint32(len(m.Code)))
	b = le.AppendUint32(b, m.DataSize)
	b = le.AppendUint32(b, uint32(len(m.Data)))
	b = le.AppendUint32(b, uint32(len(syms)))
	b = append(b, m.Code...)
	b = append(b, m.Data...)
	return append(b, syms...), nil
}

// WriteTo writes the encoded module to w.
func (m *Module) WriteTo(w io.Writer) (int64, error) {
	b, err := m.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// InvalidModuleError reports a malformed binary module. Offset is the byte
// position in the file the problem was detected at.
type InvalidModuleError struct {
	Offset int64
	Reason string
}

func (e *InvalidModuleError) Error() string {
	return fmt.Sprintf("invalid module at offset %d: %s", e.Offset, e.Reason)
}

func invalid(off uint64, format string, args ...any) error {
	return &InvalidModuleError{Offset: int64(off), Reason: fmt.Sprintf(format, args...)}
}

// Read reads a whole module from r.
func Read(r io.Reader) (*Module, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading module")
	}
	return Parse(b)
}

// Parse decodes a module, detecting the layout from its magic.
func Parse(b []byte) (*Module, error) {
	switch {
	case bytes.HasPrefix(b, []byte(ESETMagic)):
		return parseESET(b)
	case bytes.HasPrefix(b, []byte(NativeMagic)):
		return parseNative(b)
	}
	return nil, invalid(0, "unrecognised magic")
}

// checkLength requires the file to be exactly total bytes long.
func checkLength(b []byte, total uint64) error {
	switch {
	case uint64(len(b)) < total:
		return invalid(uint64(len(b)), "truncated: header declares %d bytes, have %d", total, len(b))
	case uint64(len(b)) > total:
		return invalid(total, "%d trailing bytes", uint64(len(b))-total)
	}
	return nil
}

func parseESET(b []byte) (*Module, error) {
	if len(b) < ESETHeaderSize {
		return nil, invalid(uint64(len(b)), "truncated header")
	}
	le := binary.LittleEndian
	codeLen := uint64(le.Uint32(b[8:]))
	dataSize := le.Uint32(b[12:])
	initLen := uint64(le.Uint32(b[16:]))
	if err := checkLength(b, ESETHeaderSize+codeLen+initLen); err != nil {
		return nil, err
	}
	if initLen > uint64(dataSize) {
		return nil, invalid(16, "initial data length %d exceeds data size %d", initLen, dataSize)
	}
	codeEnd := ESETHeaderSize + codeLen
	return &Module{
		Format:   isa.ESET,
		Code:     bytes.Clone(b[ESETHeaderSize:codeEnd]),
		DataSize: dataSize,
		Data:     bytes.Clone(b[codeEnd:]),
	}, nil
}

func parseNative(b []byte) (*Module, error) {
	if len(b) < NativeHeaderSize {
		return nil, invalid(uint64(len(b)), "truncated header")
	}
	le := binary.LittleEndian
	if v := le.Uint16(b[4:]); v != Version {
		return nil, invalid(4, "unsupported version %d", v)
	}
	flags := le.Uint16(b[6:])
	if flags&^FlagSymbols != 0 {
		return nil, invalid(6, "unknown flags %#04x", flags)
	}
	entry := le.Uint32(b[8:])
	codeLen := uint64(le.Uint32(b[12:]))
	dataSize := le.Uint32(b[16:])
	initLen := uint64(le.Uint32(b[20:]))
	symLen := uint64(le.Uint32(b[24:]))
	if err := checkLength(b, NativeHeaderSize+codeLen+initLen+symLen); err != nil {
		return nil, err
	}
	if initLen > uint64(dataSize) {
		return nil, invalid(20, "initial data length %d exceeds data size %d", initLen, dataSize)
	}
	if uint64(entry) > codeLen {
		return nil, invalid(8, "entry point %d beyond code length %d", entry, codeLen)
	}
	if flags&FlagSymbols == 0 && symLen != 0 {
		return nil, invalid(24, "symbol section present without symbol flag")
	}

	codeEnd := NativeHeaderSize + codeLen
	dataEnd := codeEnd + initLen
	m := &Module{
		Format:     isa.Native,
		Entry:      entry,
		Code:       bytes.Clone(b[NativeHeaderSize:codeEnd]),
		DataSize:   dataSize,
		Data:       bytes.Clone(b[codeEnd:dataEnd]),
		HasSymbols: flags&FlagSymbols != 0,
	}
	syms, err := m.parseSymbols(b[dataEnd:], dataEnd)
	if err != nil {
		return nil, err
	}
	m.Symbols = syms
	return m, nil
}

// parseSymbols decodes the symbol records starting at file offset base.
// Records must be well formed, in canonical order and uniquely named, so that
// every module accepted here is reproduced exactly by MarshalBinary.
func (m *Module) parseSymbols(b []byte, base uint64) ([]Symbol, error) {
	var syms []Symbol
	seen := make(map[string]bool)
	for off := uint64(0); off < uint64(len(b)); {
		at := base + off
		if uint64(len(b))-off < 6 {
			return nil, invalid(at, "truncated symbol record")
		}
		s := Symbol{
			Section: Section(b[off]),
			Address: binary.LittleEndian.Uint32(b[off+1:]),
		}
		n := uint64(b[off+5])
		off += 6
		if uint64(len(b))-off < n {
			return nil, invalid(at, "truncated symbol name")
		}
		s.Name = string(b[off : off+n])
		off += n

		if err := m.checkSymbol(s); err != nil {
			return nil, invalid(at, "%v", err)
		}
		if seen[s.Name] {
			return nil, invalid(at, "duplicate symbol %q", s.Name)
		}
		seen[s.Name] = true
		if len(syms) > 0 && compareSymbols(syms[len(syms)-1], s) >= 0 {
			return nil, invalid(at, "symbol %q out of order", s.Name)
		}
		syms = append(syms, s)
	}
	return syms, nil
}
