package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Urethramancer/evm2/disassembler"
	"github.com/Urethramancer/evm2/internal/logging"
)

func main() {
	cmd := newCommand(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "evmdis: %v\n", err)
		os.Exit(1)
	}
}

func newCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		addresses bool
		verbose   bool
		outdir    string
	)
	cmd := &cobra.Command{
		Use:   "evmdis [flags] module.evm [output.easm]",
		Short: "Disassemble EVM2 modules into assembly source",
		Long: `Evmdis turns a native EVM2 or ESET-VM2 module back into assembly source
that reassembles to the same bytes.

With --outdir any number of modules are disassembled in parallel, each to
DIR/<name>.easm.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if outdir != "" {
				return cobra.MinimumNArgs(1)(cmd, args)
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(stderr, verbose)
			opts := []disassembler.Option{disassembler.WithAddresses(addresses)}

			if outdir != "" {
				return batch(log, args, outdir, opts)
			}

			text, err := disassembleFile(log, args[0], opts)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				_, err = io.WriteString(stdout, text)
				return err
			}
			if err := os.WriteFile(args[1], []byte(text), 0644); err != nil {
				return errors.Wrap(err, "writing output")
			}
			fmt.Fprintf(stdout, "Disassembly written to %s\n", args[1])
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fl := cmd.Flags()
	fl.BoolVarP(&addresses, "addresses", "a", false, "annotate each instruction with its address and encoding")
	fl.BoolVarP(&verbose, "verbose", "v", false, "log disassembler passes")
	fl.StringVarP(&outdir, "outdir", "o", "", "disassemble every input into this directory")
	return cmd
}

func disassembleFile(log *logrus.Logger, path string, opts []disassembler.Option) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "reading module")
	}
	opts = append(opts[:len(opts):len(opts)], disassembler.WithLogger(log.WithField("module", path)))
	text, err := disassembler.DisassembleBytes(b, opts...)
	if err != nil {
		return "", errors.Wrap(err, path)
	}
	return text, nil
}

// batch disassembles every input into dir. Modules are independent, so they
// are processed in parallel.
func batch(log *logrus.Logger, inputs []string, dir string, opts []disassembler.Option) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, in := range inputs {
		g.Go(func() error {
			text, err := disassembleFile(log, in, opts)
			if err != nil {
				return err
			}
			name := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)) + ".easm"
			out := filepath.Join(dir, name)
			if err := os.WriteFile(out, []byte(text), 0644); err != nil {
				return errors.Wrapf(err, "writing %s", out)
			}
			log.WithField("output", out).Debug("written")
			return nil
		})
	}
	return g.Wait()
}
