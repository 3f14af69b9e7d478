package main

import (
	"fmt"
	"io"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Urethramancer/evm2/assembler"
	"github.com/Urethramancer/evm2/internal/logging"
	"github.com/Urethramancer/evm2/isa"
)

func main() {
	cmd := newCommand(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "evmasm: %v\n", err)
		os.Exit(1)
	}
}

func newCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		format  string
		symbols bool
		dump    bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "evmasm [flags] source.easm output.evm",
		Short: "Assemble EVM2 source into a binary module",
		Long: `Evmasm assembles one EVM2 assembly source file into a binary module.

The output is a native EVM2 module unless --format or a .format directive in
the source selects the bit-packed ESET-VM2 layout. A .format directive wins
over the flag.`,
		Args:          cobra.ExactArgs(2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := isa.ParseFormat(format)
			if err != nil {
				return err
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "reading source")
			}

			log := logging.New(stderr, verbose)
			prog, err := assembler.Parse(string(src))
			if err != nil {
				return errors.Wrap(err, args[0])
			}
			if dump {
				pp.Fprintln(stderr, prog)
			}

			asm := assembler.New(
				assembler.WithFormat(f),
				assembler.WithSymbols(symbols),
				assembler.WithLogger(log.WithField("source", args[0])),
			)
			m, err := asm.AssembleProgram(prog)
			if err != nil {
				return errors.Wrap(err, args[0])
			}
			b, err := m.MarshalBinary()
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], b, 0644); err != nil {
				return errors.Wrap(err, "writing module")
			}
			fmt.Fprintf(stdout, "Module written to %s (%d bytes)\n", args[1], len(b))
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fl := cmd.Flags()
	fl.StringVarP(&format, "format", "f", "native", "output format when the source has no .format directive: native or eset")
	fl.BoolVarP(&symbols, "symbols", "s", false, "emit a symbol section (native only)")
	fl.BoolVar(&dump, "dump", false, "print the parsed program to stderr")
	fl.BoolVarP(&verbose, "verbose", "v", false, "log assembler passes")
	return cmd
}
