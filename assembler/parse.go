package assembler

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/Urethramancer/evm2/isa"
	"github.com/Urethramancer/evm2/module"
)

// parser turns the token stream into a Program, one line at a time.
type parser struct {
	next    func() (Token, error, bool)
	tok     Token
	prog    *Program
	section module.Section
	started bool
}

// Parse parses assembly source into a Program. Labels are collected but not
// resolved.
func Parse(src string) (*Program, error) {
	next, stop := iter.Pull2(NewLexer(src).Tokens())
	defer stop()

	p := &parser{next: next, prog: newProgram()}
	if err := p.advance(); err != nil {
		return nil, err
	}
	for p.tok.Kind != TokenEOF {
		if err := p.line(); err != nil {
			return nil, err
		}
	}
	return p.prog, nil
}

func (p *parser) advance() error {
	tok, err, ok := p.next()
	if !ok {
		p.tok = Token{Kind: TokenEOF, Pos: p.tok.Pos}
		return nil
	}
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(expected string, found string) error {
	return &ParseError{Line: p.tok.Pos.Line, Expected: expected, Found: found}
}

// unexpected reports the current token as not matching expected.
func (p *parser) unexpected(expected string) error {
	return p.errorf(expected, p.tok.String())
}

func (p *parser) atLineEnd() bool {
	return p.tok.Kind == TokenNewline || p.tok.Kind == TokenEOF
}

// line parses one statement including its leading label definitions and the
// line terminator.
func (p *parser) line() error {
	for p.tok.Kind == TokenLabel {
		if err := p.defineLabel(); err != nil {
			return err
		}
	}

	var err error
	switch p.tok.Kind {
	case TokenNewline, TokenEOF:
	case TokenDirective:
		err = p.directive()
	case TokenMnemonic:
		err = p.instruction()
	default:
		return p.unexpected("label, directive or instruction")
	}
	if err != nil {
		return err
	}

	if !p.atLineEnd() {
		return p.unexpected("end of line")
	}
	if p.tok.Kind == TokenNewline {
		return p.advance()
	}
	return nil
}

func (p *parser) defineLabel() error {
	name, line := p.tok.Text, p.tok.Pos.Line
	if !isa.ValidName(name) {
		return p.errorf("label name", strconv.Quote(name))
	}
	if prev, ok := p.prog.Labels[name]; ok {
		return &ParseError{
			Line:     line,
			Expected: "unique label",
			Found:    strconv.Quote(name),
			Err:      &DuplicateSymbolError{Name: name, Line: line, Previous: prev.Line},
		}
	}
	p.prog.Labels[name] = &Label{Name: name, Section: p.section, Line: line}
	p.prog.Nodes = append(p.prog.Nodes, &Node{Type: NodeLabel, Line: line, Section: p.section, Label: name})
	return p.advance()
}

func (p *parser) instruction() error {
	mn := p.tok
	if p.section != module.Code {
		return p.errorf("instruction in .code section", mn.String())
	}
	if err := p.advance(); err != nil {
		return err
	}

	var ops []Operand
	for !p.atLineEnd() {
		op, err := p.operand()
		if err != nil {
			return err
		}
		ops = append(ops, op)
		if p.tok.Kind != TokenComma {
			break
		}
		if err := p.advance(); err != nil {
			return err
		}
		if p.atLineEnd() {
			return p.unexpected("operand")
		}
	}

	spec, err := selectSpec(mn, ops)
	if err != nil {
		return err
	}
	p.started = true
	p.prog.Nodes = append(p.prog.Nodes, &Node{
		Type:    NodeInstruction,
		Line:    mn.Pos.Line,
		Section: module.Code,
		Inst:    &Instruction{Spec: spec, Mnemonic: mn.Text, Operands: ops, Line: mn.Pos.Line},
	})
	return nil
}

// selectSpec picks the overload of a mnemonic whose arity and operand kinds
// match the operands given.
func selectSpec(mn Token, ops []Operand) (*isa.Spec, error) {
	line := mn.Pos.Line
	cands := isa.Overloads(mn.Text)
	if len(cands) == 0 {
		return nil, &ParseError{Line: line, Expected: "mnemonic", Found: strconv.Quote(mn.Text)}
	}

	byArity := lo.Filter(cands, func(s *isa.Spec, _ int) bool { return s.Arity() == len(ops) })
	if len(byArity) == 0 {
		arities := lo.Uniq(lo.Map(cands, func(s *isa.Spec, _ int) string { return strconv.Itoa(s.Arity()) }))
		return nil, &ParseError{
			Line:     line,
			Expected: fmt.Sprintf("%s operand(s) for %s", strings.Join(arities, " or "), mn.Text),
			Found:    fmt.Sprintf("%d", len(ops)),
		}
	}

	for _, s := range byArity {
		if lo.EveryBy(lo.Range(len(ops)), func(i int) bool { return ops[i].fits(s.Operands[i]) }) {
			return s, nil
		}
	}
	shapes := lo.Map(byArity, func(s *isa.Spec, _ int) string { return s.String() })
	found := lo.Map(ops, func(o Operand, _ int) string { return o.Raw })
	return nil, &ParseError{
		Line:     line,
		Expected: strings.Join(shapes, " or "),
		Found:    mn.Text + " " + strings.Join(found, ", "),
	}
}

// operand parses a register, number, label reference or memory reference.
func (p *parser) operand() (Operand, error) {
	tok := p.tok
	switch tok.Kind {
	case TokenRegister:
		n, _ := isa.ParseRegister(tok.Text)
		return Operand{Kind: OperandRegister, Raw: tok.Text, Reg: n}, p.advance()

	case TokenNumber, TokenMinus:
		num, raw, err := p.number()
		return Operand{Kind: OperandNumber, Raw: raw, Num: num}, err

	case TokenIdent:
		if err := p.advance(); err != nil {
			return Operand{}, err
		}
		if size, ok := isa.ParseSize(tok.Text); ok && p.tok.Kind == TokenLBracket {
			return p.memory(tok.Text, size)
		}
		return Operand{Kind: OperandLabelRef, Raw: tok.Text, Name: tok.Text}, nil

	case TokenLBracket:
		return p.memory("", isa.Qword)
	}
	return Operand{}, p.unexpected("operand")
}

// number parses an optionally negated numeric literal.
func (p *parser) number() (Number, string, error) {
	var num Number
	var raw string
	if p.tok.Kind == TokenMinus {
		num.Neg = true
		raw = "-"
		if err := p.advance(); err != nil {
			return num, raw, err
		}
	}
	if p.tok.Kind != TokenNumber {
		return num, raw, p.unexpected("number")
	}
	mag, ok := parseNumber(p.tok.Text)
	if !ok {
		return num, raw, p.errorf("numeric literal", strconv.Quote(p.tok.Text))
	}
	num.Mag = mag
	num.Neg = num.Neg && mag != 0
	raw += p.tok.Text
	return num, raw, p.advance()
}

// memory parses "[rN]", "[rN+d]" or "[rN-d]". The size keyword, if any,
// has already been consumed.
func (p *parser) memory(sizeText string, size isa.Size) (Operand, error) {
	if err := p.advance(); err != nil {
		return Operand{}, err
	}
	if p.tok.Kind != TokenRegister {
		return Operand{}, p.unexpected("base register")
	}
	n, _ := isa.ParseRegister(p.tok.Text)
	op := Operand{Kind: OperandMemory, Reg: n, Size: size}
	raw := sizeText + "[" + p.tok.Text
	if err := p.advance(); err != nil {
		return Operand{}, err
	}

	switch p.tok.Kind {
	case TokenPlus, TokenMinus:
		neg := p.tok.Kind == TokenMinus
		if neg {
			raw += "-"
		} else {
			raw += "+"
		}
		if err := p.advance(); err != nil {
			return Operand{}, err
		}
		num, text, err := p.number()
		if err != nil {
			return Operand{}, err
		}
		if num.Neg {
			return Operand{}, p.errorf("displacement", raw+text)
		}
		op.Disp = Number{Neg: neg && num.Mag != 0, Mag: num.Mag}
		raw += text
	}

	if p.tok.Kind != TokenRBracket {
		return Operand{}, p.unexpected("']'")
	}
	op.Raw = raw + "]"
	return op, p.advance()
}

// parseNumber decodes decimal, 0x, 0b and 0o literals and 'c' characters.
func parseNumber(text string) (uint64, bool) {
	if strings.HasPrefix(text, "'") {
		v, err := unescape(text[1 : len(text)-1])
		if err != nil || len(v) != 1 {
			return 0, false
		}
		return uint64(v[0]), true
	}
	v, err := strconv.ParseUint(text, 0, 64)
	return v, err == nil
}
