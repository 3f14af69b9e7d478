package assembler

import (
	"math"

	"github.com/Urethramancer/evm2/module"
)

// Resolve assigns an address to every node and label, then rewrites every
// label reference into an address operand. Code addresses are counted in the
// program format's address unit, data addresses in bytes.
func Resolve(p *Program) error {
	if err := p.layout(); err != nil {
		return err
	}
	return p.bind()
}

// layout is the first pass: sizes and addresses.
func (p *Program) layout() error {
	var pc, dc uint64
	labels := make(map[string]*Label, len(p.Labels))
	for _, n := range p.Nodes {
		switch n.Type {
		case NodeLabel:
			if prev, ok := labels[n.Label]; ok {
				return &DuplicateSymbolError{Name: n.Label, Line: n.Line, Previous: prev.Line}
			}
			addr := pc
			if n.Section == module.Data {
				addr = dc
			}
			n.Addr = addr
			labels[n.Label] = &Label{Name: n.Label, Section: n.Section, Line: n.Line, Addr: addr, Defined: true}
		case NodeInstruction:
			n.Addr = pc
			n.Size = p.Format.Width(n.Inst.shape())
			pc += n.Size
		case NodeData:
			n.Addr = dc
			n.Size = n.Data.Size()
			dc += n.Size
		}
	}
	if pc > math.MaxUint32 {
		return encodingErr(0, "code", "code length %d exceeds the 32-bit address space", pc)
	}
	if dc > math.MaxUint32 {
		return encodingErr(0, "data", "initial data length %d exceeds the 32-bit address space", dc)
	}
	p.Labels = labels
	p.CodeLen, p.DataLen = pc, dc
	return nil
}

// bind is the second pass: label references become addresses.
func (p *Program) bind() error {
	for i, n := range p.Nodes {
		var ops []Operand
		switch n.Type {
		case NodeInstruction:
			ops = n.Inst.Operands
		case NodeData:
			ops = n.Data.Values
		default:
			continue
		}
		for j := range ops {
			if err := p.bindOperand(&ops[j], n.Line, i); err != nil {
				return err
			}
		}
	}
	if p.Entry != nil {
		return p.bindOperand(p.Entry, p.EntryLine, -1)
	}
	return nil
}

func (p *Program) bindOperand(op *Operand, line, node int) error {
	if op.Kind != OperandLabelRef {
		return nil
	}
	l, ok := p.Labels[op.Name]
	if !ok {
		return &UnresolvedSymbolError{Name: op.Name, Line: line}
	}
	op.Kind = OperandAddress
	op.Section = l.Section
	op.Addr = l.Addr
	if node >= 0 {
		l.Refs = append(l.Refs, node)
	}
	return nil
}
