package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"wasmgen/internal/ir"
	"wasmgen/internal/irfile"
	"wasmgen/internal/wasm"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <file.irpk|file.wasm>",
	Short: "Summarize an IR container or an emitted object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if filepath.Ext(path) == irfile.Ext {
			prog, digest, err := irfile.ReadFile(path)
			if err != nil {
				return err
			}
			dumpProgram(cmd.OutOrStdout(), path, prog, digest)
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum, err := wasm.Inspect(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		dumpModule(cmd.OutOrStdout(), path, len(data), sum)
		return nil
	},
}

func dumpProgram(out io.Writer, path string, prog *ir.Program, digest irfile.Digest) {
	fmt.Fprintf(out, "%s: sha256 %x\n", path, digest)
	fmt.Fprintf(out, "  symbols: %d\n", prog.Interns.Len())
	fmt.Fprintf(out, "  procs:   %d\n", len(prog.Procs))
	for _, p := range prog.Procs {
		name := prog.Interns.Name(p.Name)
		if p.Exposed {
			export := p.ExportName
			if export == "" {
				export = name
			}
			fmt.Fprintf(out, "    %s/%d  exported as %q\n", name, len(p.Args), export)
			continue
		}
		fmt.Fprintf(out, "    %s/%d\n", name, len(p.Args))
	}
}

func dumpModule(out io.Writer, path string, size int, sum *wasm.Summary) {
	fmt.Fprintf(out, "%s: %d bytes\n", path, size)
	fmt.Fprintln(out, "  sections:")
	for _, sec := range sum.Sections {
		name := wasm.SectionName(sec.ID)
		if sec.Name != "" {
			name = fmt.Sprintf("%s %q", name, sec.Name)
		}
		fmt.Fprintf(out, "    %-22s %6d\n", name, sec.Size)
	}
	fmt.Fprintf(out, "  functions: %d\n", sum.Functions)
	for _, imp := range sum.Imports {
		fmt.Fprintf(out, "  import %s\n", imp)
	}
	for _, exp := range sum.Exports {
		fmt.Fprintf(out, "  export %s\n", exp)
	}
	for _, fn := range sum.FunctionNames {
		fmt.Fprintf(out, "  func %d %s\n", fn.Index, fn.Name)
	}
	fmt.Fprintf(out, "  symbols: %d  relocs: %d  data: %d bytes\n", sum.Symbols, sum.Relocs, sum.DataBytes)
}
