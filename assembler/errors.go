package assembler

import "fmt"

// ParseError reports a statement that does not fit the grammar.
// Err carries the underlying cause, such as a *DuplicateSymbolError.
type ParseError struct {
	Line     int
	Expected string
	Found    string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: expected %s, found %s", e.Line, e.Expected, e.Found)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DuplicateSymbolError reports a label defined twice.
type DuplicateSymbolError struct {
	Name     string
	Line     int
	Previous int
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("label %q redefined (first defined on line %d)", e.Name, e.Previous)
}

// UnresolvedSymbolError reports a reference to a label that is never defined.
type UnresolvedSymbolError struct {
	Name string
	Line int
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("line %d: undefined label %q", e.Line, e.Name)
}

// EncodingError reports an operand value that does not fit its field, or a
// construct the target format cannot express.
type EncodingError struct {
	Line     int
	Mnemonic string
	Reason   string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("line %d: cannot encode %s: %s", e.Line, e.Mnemonic, e.Reason)
}

func encodingErr(line int, mnemonic, format string, args ...any) error {
	return &EncodingError{Line: line, Mnemonic: mnemonic, Reason: fmt.Sprintf(format, args...)}
}
