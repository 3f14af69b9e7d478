package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Urethramancer/evm2/assembler"
	"github.com/Urethramancer/evm2/module"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeModule(t *testing.T, dir, name, src string) ([]byte, string) {
	t.Helper()
	b, err := assembler.AssembleBytes(src)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b, 0644))
	return b, path
}

func TestDisassembleToStdout(t *testing.T) {
	b, path := writeModule(t, t.TempDir(), "prog.evm", "start: push 5\npush 3\nadd\nhalt")
	text, err := run(t, path)
	require.NoError(t, err)
	assert.Contains(t, text, "start:\n")

	again, err := assembler.AssembleBytes(text)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestDisassembleToFile(t *testing.T) {
	dir := t.TempDir()
	_, path := writeModule(t, dir, "prog.evm", "hlt")
	out := filepath.Join(dir, "prog.easm")
	stdout, err := run(t, "--addresses", path, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Disassembly written to "+out)

	text, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(text), "; 0000: 42")
}

func TestBatch(t *testing.T) {
	in := t.TempDir()
	outdir := filepath.Join(t.TempDir(), "out")
	srcs := map[string]string{
		"a.evm": "start: hlt",
		"b.evm": "loop: jump loop",
		"c.evm": ".data\n.asciz \"batch\"",
	}
	var paths []string
	want := map[string][]byte{}
	for name, src := range srcs {
		b, p := writeModule(t, in, name, src)
		paths = append(paths, p)
		want[name] = b
	}

	_, err := run(t, append([]string{"--outdir", outdir}, paths...)...)
	require.NoError(t, err)
	for name, b := range want {
		text, err := os.ReadFile(filepath.Join(outdir, name[:1]+".easm"))
		require.NoError(t, err)
		again, err := assembler.AssembleBytes(string(text))
		require.NoError(t, err)
		assert.Equal(t, b, again, name)
	}
}

func TestDisassembleErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.evm")
	require.NoError(t, os.WriteFile(garbage, []byte("not a module"), 0644))

	_, err := run(t, garbage)
	var ie *module.InvalidModuleError
	assert.ErrorAs(t, err, &ie)

	_, err = run(t, "--outdir", filepath.Join(dir, "out"), garbage)
	assert.ErrorAs(t, err, &ie)

	_, err = run(t)
	assert.Error(t, err)

	_, err = run(t, garbage, "a", "b")
	assert.Error(t, err)
}
