package assembler

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/Urethramancer/evm2/isa"
)

// TokenKind classifies a token.
type TokenKind int

const (
	// TokenEOF ends every token stream.
	TokenEOF TokenKind = iota
	// TokenNewline ends a statement.
	TokenNewline
	// TokenMnemonic is the first identifier of a statement.
	TokenMnemonic
	// TokenIdent is any later identifier: a label reference or a size keyword.
	TokenIdent
	// TokenLabel is a label definition. Text excludes the colon.
	TokenLabel
	// TokenRegister is rN or %rN.
	TokenRegister
	// TokenNumber is a numeric or character literal, as written.
	TokenNumber
	// TokenDirective is a dot-prefixed directive name.
	TokenDirective
	// TokenString holds the decoded contents of a string literal.
	TokenString
	// TokenComment is only produced when the lexer keeps comments.
	TokenComment
	TokenComma
	TokenLBracket
	TokenRBracket
	TokenPlus
	TokenMinus
)

var tokenNames = map[TokenKind]string{
	TokenEOF:       "end of input",
	TokenNewline:   "end of line",
	TokenMnemonic:  "mnemonic",
	TokenIdent:     "identifier",
	TokenLabel:     "label definition",
	TokenRegister:  "register",
	TokenNumber:    "number",
	TokenDirective: "directive",
	TokenString:    "string",
	TokenComment:   "comment",
	TokenComma:     "','",
	TokenLBracket:  "'['",
	TokenRBracket:  "']'",
	TokenPlus:      "'+'",
	TokenMinus:     "'-'",
}

func (k TokenKind) String() string {
	return tokenNames[k]
}

// Position is a 1-based line and column. Columns count runes.
type Position struct {
	Line   int
	Column int
}

// Token is one lexical element of assembly source.
type Token struct {
	Kind TokenKind
	Text string
	Pos  Position
}

func (t Token) String() string {
	switch t.Kind {
	case TokenEOF, TokenNewline, TokenComma, TokenLBracket, TokenRBracket, TokenPlus, TokenMinus:
		return t.Kind.String()
	case TokenString:
		return strconv.Quote(t.Text)
	}
	return fmt.Sprintf("%s %q", t.Kind, t.Text)
}

// LexError reports an illegal character or an unterminated literal.
type LexError struct {
	Line   int
	Column int
	Msg    string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

// Lexer splits assembly source into tokens.
type Lexer struct {
	src string
	// KeepComments makes the lexer yield TokenComment instead of dropping
	// comments.
	KeepComments bool
}

// NewLexer returns a lexer over src.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src}
}

// Tokens returns the token sequence. Every call starts from the beginning of
// the source. The sequence ends after TokenEOF, or after the first error.
func (l *Lexer) Tokens() iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		s := &scanner{src: l.src, line: 1, col: 1, stmt: true, comments: l.KeepComments}
		for {
			tok, err := s.scan()
			if err != nil {
				yield(Token{Pos: tok.Pos}, err)
				return
			}
			if !yield(tok, nil) || tok.Kind == TokenEOF {
				return
			}
		}
	}
}

type scanner struct {
	src      string
	off      int
	line     int
	col      int
	stmt     bool // the next identifier starts a statement
	comments bool
}

func (s *scanner) peek() rune {
	if s.off >= len(s.src) {
		return -1
	}
	r, _ := utf8.DecodeRuneInString(s.src[s.off:])
	return r
}

func (s *scanner) advance() rune {
	r, n := utf8.DecodeRuneInString(s.src[s.off:])
	s.off += n
	if r == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return r
}

func (s *scanner) errorf(pos Position, format string, args ...any) (Token, error) {
	return Token{Pos: pos}, &LexError{Line: pos.Line, Column: pos.Column, Msg: fmt.Sprintf(format, args...)}
}

func (s *scanner) scan() (Token, error) {
	for {
		for c := s.peek(); c == ' ' || c == '\t' || c == '\r'; c = s.peek() {
			s.advance()
		}
		pos := Position{s.line, s.col}
		start := s.off
		tok := func(kind TokenKind) (Token, error) {
			return Token{Kind: kind, Text: s.src[start:s.off], Pos: pos}, nil
		}

		c := s.peek()
		switch {
		case c < 0:
			return Token{Kind: TokenEOF, Pos: pos}, nil
		case c == '\n':
			s.advance()
			s.stmt = true
			return tok(TokenNewline)
		case c == ';':
			for c := s.peek(); c >= 0 && c != '\n'; c = s.peek() {
				s.advance()
			}
			if s.comments {
				return tok(TokenComment)
			}
			continue
		case c == ',':
			s.advance()
			return tok(TokenComma)
		case c == '[':
			s.advance()
			return tok(TokenLBracket)
		case c == ']':
			s.advance()
			return tok(TokenRBracket)
		case c == '+':
			s.advance()
			return tok(TokenPlus)
		case c == '-':
			s.advance()
			return tok(TokenMinus)
		case c == '"':
			return s.scanString(pos)
		case c == '\'':
			return s.scanChar(pos)
		case c == '.':
			s.advance()
			if !isLetter(s.peek()) {
				return s.errorf(pos, "illegal character '.'")
			}
			for isLetter(s.peek()) {
				s.advance()
			}
			s.stmt = false
			return tok(TokenDirective)
		case c == '%':
			s.advance()
			for isa.IsNameChar(s.peek()) {
				s.advance()
			}
			if _, ok := isa.ParseRegister(s.src[start:s.off]); !ok {
				return s.errorf(pos, "invalid register %q", s.src[start:s.off])
			}
			return tok(TokenRegister)
		case c >= '0' && c <= '9':
			for c := s.peek(); c == '_' || isLetter(c) || c >= '0' && c <= '9'; c = s.peek() {
				s.advance()
			}
			return tok(TokenNumber)
		case isa.IsNameStart(c):
			for isa.IsNameChar(s.peek()) {
				s.advance()
			}
			name := s.src[start:s.off]
			if s.peek() == ':' {
				s.advance()
				return Token{Kind: TokenLabel, Text: name, Pos: pos}, nil
			}
			if _, ok := isa.ParseRegister(name); ok {
				s.stmt = false
				return tok(TokenRegister)
			}
			if s.stmt {
				s.stmt = false
				return tok(TokenMnemonic)
			}
			return tok(TokenIdent)
		}
		return s.errorf(pos, "illegal character %q", c)
	}
}

func isLetter(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// scanQuoted consumes a literal delimited by quote and returns its raw body.
func (s *scanner) scanQuoted(pos Position, quote rune) (string, error) {
	s.advance()
	start := s.off
	for {
		c := s.peek()
		switch c {
		case -1, '\n':
			_, err := s.errorf(pos, "unterminated literal")
			return "", err
		case '\\':
			s.advance()
			if s.peek() < 0 || s.peek() == '\n' {
				continue
			}
		case quote:
			body := s.src[start:s.off]
			s.advance()
			return body, nil
		}
		s.advance()
	}
}

func (s *scanner) scanString(pos Position) (Token, error) {
	body, err := s.scanQuoted(pos, '"')
	if err != nil {
		return Token{Pos: pos}, err
	}
	text, err := unescape(body)
	if err != nil {
		return s.errorf(pos, "%v", err)
	}
	return Token{Kind: TokenString, Text: text, Pos: pos}, nil
}

func (s *scanner) scanChar(pos Position) (Token, error) {
	start := s.off
	body, err := s.scanQuoted(pos, '\'')
	if err != nil {
		return Token{Pos: pos}, err
	}
	if v, err := unescape(body); err != nil || len(v) != 1 {
		return s.errorf(pos, "invalid character literal '%s'", body)
	}
	return Token{Kind: TokenNumber, Text: s.src[start:s.off], Pos: pos}, nil
}

// unescape decodes the escapes \\ \" \' \n \t \r \0 and \xNN.
func unescape(body string) (string, error) {
	if !strings.Contains(body, `\`) {
		return body, nil
	}
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", errors.New("dangling escape")
		}
		switch body[i] {
		case '\\', '"', '\'':
			sb.WriteByte(body[i])
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '0':
			sb.WriteByte(0)
		case 'x':
			if i+2 >= len(body) {
				return "", errors.New("short \\x escape")
			}
			v, err := strconv.ParseUint(body[i+1:i+3], 16, 8)
			if err != nil {
				return "", errors.Errorf("invalid \\x escape %q", body[i+1:i+3])
			}
			sb.WriteByte(byte(v))
			i += 2
		default:
			return "", errors.Errorf("unknown escape \\%c", body[i])
		}
	}
	return sb.String(), nil
}
