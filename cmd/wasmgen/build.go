package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wasmgen/internal/buildpipeline"
	"wasmgen/internal/project"
	"wasmgen/internal/trace"
)

var buildCmd = &cobra.Command{
	Use:   "build [files.irpk...]",
	Short: "Compile IR containers into wasm objects",
	Long: `Compile each IR container into a relocatable wasm32 object file.
Without arguments the inputs listed in wasmgen.toml are built.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringP("output", "o", "", "output path (single input only)")
	buildCmd.Flags().String("out-dir", "", "directory for outputs")
	buildCmd.Flags().Uint32("stack-size", 0, "stack size in bytes (multiple of 65536)")
	buildCmd.Flags().String("builtins-module", "", "import module for builtin functions")
	buildCmd.Flags().IntP("jobs", "j", 0, "max parallel builds (0=auto)")
}

// buildTarget is one input and the object it produces.
type buildTarget struct {
	Input  string
	Output string
}

// buildPlan is the resolved set of targets plus shared session options.
type buildPlan struct {
	Targets []buildTarget
	Options buildpipeline.Options
	Jobs    int
}

type buildFlags struct {
	output         string
	outDir         string
	stackSize      uint32
	builtinsModule string
	jobs           int
}

func readBuildFlags(cmd *cobra.Command) (buildFlags, error) {
	var bf buildFlags
	var err error
	if bf.output, err = cmd.Flags().GetString("output"); err != nil {
		return bf, fmt.Errorf("failed to get output flag: %w", err)
	}
	if bf.outDir, err = cmd.Flags().GetString("out-dir"); err != nil {
		return bf, fmt.Errorf("failed to get out-dir flag: %w", err)
	}
	if bf.stackSize, err = cmd.Flags().GetUint32("stack-size"); err != nil {
		return bf, fmt.Errorf("failed to get stack-size flag: %w", err)
	}
	if bf.builtinsModule, err = cmd.Flags().GetString("builtins-module"); err != nil {
		return bf, fmt.Errorf("failed to get builtins-module flag: %w", err)
	}
	if bf.jobs, err = cmd.Flags().GetInt("jobs"); err != nil {
		return bf, fmt.Errorf("failed to get jobs flag: %w", err)
	}
	return bf, nil
}

// resolvePlan merges arguments, flags and the manifest. Flags win over the
// manifest; the manifest is only consulted for inputs when args is empty.
func resolvePlan(args []string, bf buildFlags, manifest *project.Manifest) (*buildPlan, error) {
	plan := &buildPlan{Jobs: bf.jobs}
	if plan.Jobs <= 0 {
		plan.Jobs = runtime.GOMAXPROCS(0)
	}

	if manifest != nil {
		plan.Options.StackSize = manifest.Config.Memory.StackSize
		plan.Options.BuiltinsModule = manifest.Config.Builtins.Module
	}
	if bf.stackSize != 0 {
		if bf.stackSize%project.PageSize != 0 {
			return nil, fmt.Errorf("--stack-size must be a multiple of %d, got %d", project.PageSize, bf.stackSize)
		}
		plan.Options.StackSize = bf.stackSize
	}
	if bf.builtinsModule != "" {
		plan.Options.BuiltinsModule = bf.builtinsModule
	}

	inputs := args
	fromManifest := false
	if len(inputs) == 0 {
		if manifest == nil {
			return nil, fmt.Errorf("no inputs: pass .irpk files or run inside a project with %s", project.ManifestName)
		}
		var err error
		if inputs, err = manifest.Inputs(); err != nil {
			return nil, err
		}
		if len(inputs) == 0 {
			return nil, fmt.Errorf("%s: [build].inputs is empty", manifest.Path)
		}
		fromManifest = true
	}
	if bf.output != "" && len(inputs) != 1 {
		return nil, fmt.Errorf("--output needs exactly one input, got %d", len(inputs))
	}

	seen := make(map[string]string, len(inputs))
	for _, input := range inputs {
		var out string
		switch {
		case bf.output != "":
			out = bf.output
		case bf.outDir != "":
			out = filepath.Join(bf.outDir, project.Stem(input)+".wasm")
		case fromManifest:
			out = manifest.OutputPath(input)
		default:
			out = strings.TrimSuffix(input, filepath.Ext(input)) + ".wasm"
		}
		if prev, dup := seen[out]; dup {
			return nil, fmt.Errorf("%s and %s both write %s", prev, input, out)
		}
		seen[out] = input
		plan.Targets = append(plan.Targets, buildTarget{Input: input, Output: out})
	}
	return plan, nil
}

func loadManifest() (*project.Manifest, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	manifest, found, err := project.Load(cwd)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return manifest, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	tracer, cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	bf, err := readBuildFlags(cmd)
	if err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	var manifest *project.Manifest
	if len(args) == 0 || bf.stackSize == 0 || bf.builtinsModule == "" {
		if manifest, err = loadManifest(); err != nil {
			return err
		}
	}
	plan, err := resolvePlan(args, bf, manifest)
	if err != nil {
		return err
	}

	results, buildErr := buildAll(cmd, plan)

	out := cmd.OutOrStdout()
	okColor := colorFor(cmd, cmd.OutOrStdout(), color.FgGreen, color.Bold)
	for i, res := range results {
		if res == nil {
			continue
		}
		if !quiet {
			fmt.Fprintf(out, "%s %s (%d bytes, %d procs, %d helpers)\n",
				okColor.Sprint("built"), plan.Targets[i].Output, len(res.Binary), res.Procs, res.Helpers)
		}
		if showTimings {
			printStageTimings(out, plan.Targets[i].Input, res)
		}
	}

	if buildErr != nil {
		if ring := ringOf(tracer); ring != nil {
			var dumpErr error
			var failed *targetError
			if errors.As(buildErr, &failed) {
				fmt.Fprintf(cmd.ErrOrStderr(), "trace (last events for %s):\n", failed.input)
				dumpErr = ring.DumpFile(cmd.ErrOrStderr(), trace.FormatText, failed.input)
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "trace (last events):")
				dumpErr = ring.Dump(cmd.ErrOrStderr(), trace.FormatText)
			}
			if dumpErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "trace: dump error: %v\n", dumpErr)
			}
		}
		return buildErr
	}
	return nil
}

// targetError is a build failure of one input.
type targetError struct {
	input string
	err   error
}

func (e *targetError) Error() string { return e.input + ": " + e.err.Error() }
func (e *targetError) Unwrap() error { return e.err }

// buildAll builds every target, at most plan.Jobs at a time. The first
// failure cancels builds that have not started; results of finished builds
// are kept.
func buildAll(cmd *cobra.Command, plan *buildPlan) ([]*buildpipeline.BuildResult, error) {
	results := make([]*buildpipeline.BuildResult, len(plan.Targets))
	g, gctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(min(plan.Jobs, len(plan.Targets)))

	for i, target := range plan.Targets {
		i, target := i, target
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			res, err := buildpipeline.Build(gctx, &buildpipeline.BuildRequest{
				Input:   target.Input,
				Output:  target.Output,
				Options: plan.Options,
			})
			if err != nil {
				return &targetError{input: target.Input, err: err}
			}
			results[i] = &res
			return nil
		})
	}
	return results, g.Wait()
}

// colorFor returns a color honouring --color for the writer w.
func colorFor(cmd *cobra.Command, w io.Writer, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if useColor(cmd, w) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func useColor(cmd *cobra.Command, w io.Writer) bool {
	colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return false
	}
	switch colorFlag {
	case "on":
		return true
	case "off":
		return false
	}
	f, ok := w.(*os.File)
	return ok && isTerminal(f)
}

// printError reports a command failure on stderr.
func printError(cmd *cobra.Command, err error) {
	errColor := colorFor(cmd, cmd.ErrOrStderr(), color.FgRed, color.Bold)
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", errColor.Sprint("error:"), err)
}
