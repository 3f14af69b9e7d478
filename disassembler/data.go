package disassembler

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

const (
	minStringLen = 4
	bytesPerLine = 16
)

// isPrintableASCII checks if a byte is a standard printable ASCII character.
func isPrintableASCII(b byte) bool {
	return b >= 0x20 && b <= 0x7E
}

// writeData renders the initial data, split at every labelled address.
func writeData(out *strings.Builder, data []byte, labels map[uint64][]string) {
	var pc uint64
	for _, addr := range sortedAddresses(labels) {
		out.WriteString(formatData(data[pc:addr]))
		writeLabels(out, labels[addr])
		pc = addr
	}
	out.WriteString(formatData(data[pc:]))
}

// formatData emits printable NUL-terminated runs of at least four
// characters as .asciz and everything else as .byte lines.
func formatData(data []byte) string {
	var sb strings.Builder
	var pending []byte
	for i := 0; i < len(data); {
		end := i
		for end < len(data) && isPrintableASCII(data[end]) {
			end++
		}
		if end-i >= minStringLen && end < len(data) && data[end] == 0 {
			sb.WriteString(formatBytes(pending))
			pending = pending[:0]
			fmt.Fprintf(&sb, "    %-12s \"%s\"\n", ".asciz", escape(data[i:end]))
			i = end + 1
			continue
		}
		if end == i {
			end++
		}
		pending = append(pending, data[i:end]...)
		i = end
	}
	sb.WriteString(formatBytes(pending))
	return sb.String()
}

func escape(run []byte) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(string(run))
}

// formatBytes formats a slice of bytes into .byte directives, 16 bytes per line.
func formatBytes(data []byte) string {
	var sb strings.Builder
	for _, chunk := range lo.Chunk(data, bytesPerLine) {
		hex := lo.Map(chunk, func(b byte, _ int) string { return fmt.Sprintf("0x%02x", b) })
		fmt.Fprintf(&sb, "    %-12s %s\n", ".byte", strings.Join(hex, ", "))
	}
	return sb.String()
}
