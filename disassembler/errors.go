package disassembler

import "fmt"

// UnknownOpcodeError reports an opcode with no instruction set entry.
// Address is in the module's address unit; Bits is the length of Code.
type UnknownOpcodeError struct {
	Address uint64
	Code    uint64
	Bits    int
}

func (e *UnknownOpcodeError) Error() string {
	if e.Bits == 8 {
		return fmt.Sprintf("unknown opcode 0x%02x at %d", e.Code, e.Address)
	}
	return fmt.Sprintf("unknown opcode %0*b at bit %d", e.Bits, e.Code, e.Address)
}
