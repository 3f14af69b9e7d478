package assembler

import (
	"strconv"
	"strings"

	"github.com/Urethramancer/evm2/isa"
	"github.com/Urethramancer/evm2/module"
)

type directiveFunc func(p *parser, name string) error

var directives map[string]directiveFunc

func init() {
	directives = map[string]directiveFunc{
		".format":   (*parser).formatDirective,
		".code":     (*parser).sectionDirective,
		".data":     (*parser).sectionDirective,
		".datasize": (*parser).dataSizeDirective,
		".entry":    (*parser).entryDirective,
		".symbols":  (*parser).symbolsDirective,
		".byte":     (*parser).valuesDirective,
		".word":     (*parser).valuesDirective,
		".dword":    (*parser).valuesDirective,
		".qword":    (*parser).valuesDirective,
		".ascii":    (*parser).stringDirective,
		".asciz":    (*parser).stringDirective,
		".zero":     (*parser).zeroDirective,
	}
}

// dataWidths holds the element size of the list directives.
var dataWidths = map[string]int{".byte": 1, ".word": 2, ".dword": 4, ".qword": 8}

func (p *parser) directive() error {
	name := strings.ToLower(p.tok.Text)
	fn, ok := directives[name]
	if !ok {
		return p.errorf("directive", strconv.Quote(p.tok.Text))
	}
	if err := p.advance(); err != nil {
		return err
	}
	return fn(p, name)
}

func (p *parser) formatDirective(string) error {
	line := p.tok.Pos.Line
	if p.started {
		return p.errorf(".format before any instruction or data", ".format")
	}
	if p.prog.FormatSet {
		return p.errorf("a single .format", ".format")
	}
	if p.tok.Kind != TokenIdent {
		return p.unexpected("native or eset")
	}
	f, err := isa.ParseFormat(p.tok.Text)
	if err != nil {
		return &ParseError{Line: line, Expected: "native or eset", Found: strconv.Quote(p.tok.Text), Err: err}
	}
	p.prog.Format = f
	p.prog.FormatSet = true
	return p.advance()
}

func (p *parser) sectionDirective(name string) error {
	if name == ".data" {
		p.section = module.Data
	} else {
		p.section = module.Code
	}
	return nil
}

func (p *parser) dataSizeDirective(string) error {
	if p.prog.DataSize != nil {
		return p.errorf("a single .dataSize", ".dataSize")
	}
	line := p.tok.Pos.Line
	num, raw, err := p.number()
	if err != nil {
		return err
	}
	v, ok := num.Field(32, false)
	if !ok {
		return p.errorf("data size in [0, 4294967295]", raw)
	}
	p.prog.DataSize = &v
	p.prog.DataSizeLine = line
	return nil
}

func (p *parser) entryDirective(string) error {
	if p.prog.Entry != nil {
		return p.errorf("a single .entry", ".entry")
	}
	line := p.tok.Pos.Line
	op, err := p.operand()
	if err != nil {
		return err
	}
	if op.Kind != OperandNumber && op.Kind != OperandLabelRef {
		return &ParseError{Line: line, Expected: "label or code address", Found: op.Raw}
	}
	p.prog.Entry = &op
	p.prog.EntryLine = line
	return nil
}

func (p *parser) symbolsDirective(string) error {
	p.prog.Symbols = true
	return nil
}

// data appends a declaration to the data section.
func (p *parser) data(line int, d *DataDecl) error {
	if p.section != module.Data {
		return &ParseError{Line: line, Expected: "data directive in .data section", Found: d.Directive}
	}
	p.started = true
	p.prog.Nodes = append(p.prog.Nodes, &Node{Type: NodeData, Line: line, Section: module.Data, Data: d})
	return nil
}

func (p *parser) valuesDirective(name string) error {
	line := p.tok.Pos.Line
	d := &DataDecl{Directive: name, Width: dataWidths[name]}
	for {
		op, err := p.operand()
		if err != nil {
			return err
		}
		if op.Kind != OperandNumber && op.Kind != OperandLabelRef {
			return &ParseError{Line: line, Expected: "number or label", Found: op.Raw}
		}
		d.Values = append(d.Values, op)
		if p.tok.Kind != TokenComma {
			break
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
	return p.data(line, d)
}

func (p *parser) stringDirective(name string) error {
	line := p.tok.Pos.Line
	if p.tok.Kind != TokenString {
		return p.unexpected("string")
	}
	b := []byte(p.tok.Text)
	if name == ".asciz" {
		b = append(b, 0)
	}
	if err := p.advance(); err != nil {
		return err
	}
	return p.data(line, &DataDecl{Directive: name, Bytes: b})
}

func (p *parser) zeroDirective(name string) error {
	line := p.tok.Pos.Line
	num, raw, err := p.number()
	if err != nil {
		return err
	}
	n, ok := num.Field(32, false)
	if !ok {
		return p.errorf("byte count in [0, 4294967295]", raw)
	}
	return p.data(line, &DataDecl{Directive: name, Bytes: make([]byte, n)})
}
