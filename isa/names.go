package isa

import (
	"strconv"
	"strings"
)

// IsNameStart reports whether c may begin a label name.
func IsNameStart(c rune) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// IsNameChar reports whether c may continue a label name.
func IsNameChar(c rune) bool {
	return IsNameStart(c) || c == '.' || c >= '0' && c <= '9'
}

// ParseRegister recognises the spellings rN, RN and %rN. The index is
// returned even when it exceeds the register file, so that the caller can
// report the range problem.
func ParseRegister(s string) (int, bool) {
	s = strings.TrimPrefix(s, "%")
	if len(s) < 2 || s[0] != 'r' && s[0] != 'R' {
		return 0, false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return NumRegisters, true
	}
	return n, true
}

// ValidName reports whether s can be written as a label in assembly text.
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if i == 0 && !IsNameStart(c) || !IsNameChar(c) {
			return false
		}
	}
	_, isReg := ParseRegister(s)
	return !isReg
}
