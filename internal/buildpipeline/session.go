// Package buildpipeline drives a program through the wasm backend.
package buildpipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"wasmgen/internal/backend/wasm32"
	"wasmgen/internal/ir"
	"wasmgen/internal/observ"
	"wasmgen/internal/rcgen"
	"wasmgen/internal/trace"
	"wasmgen/internal/wasm"
)

// maxHelperRounds bounds helper generation; each round compiles the helpers
// the previous round synthesized, and layouts are finite.
const maxHelperRounds = 64

// Options configures a compilation session.
type Options struct {
	StackSize      uint32
	BuiltinsModule string
	// File labels progress events and trace spans.
	File     string
	Progress ProgressSink
	// Expander replaces the default refcount expander when set.
	Expander func(*ir.Program) wasm32.RefcountExpander
}

// CompileResult is the output of one session.
type CompileResult struct {
	Module  *wasm.Module
	Binary  []byte
	Procs   int // user procedures
	Helpers int // synthesized refcount helpers
	Timings Timings
	Report  observ.Report
}

// Session owns the backend and module-level state for one program.
type Session struct {
	prog    *ir.Program
	opts    Options
	backend *wasm32.Backend
	timer   *observ.Timer
	timings Timings
	helpers int

	// progress is the tracker the heartbeat reports from; nil when untracked.
	progress *trace.Progress
}

// NewSession prepares the backend for prog.
func NewSession(prog *ir.Program, opts Options) (*Session, error) {
	if prog == nil {
		return nil, errors.New("missing program")
	}
	var expander wasm32.RefcountExpander
	if opts.Expander != nil {
		expander = opts.Expander(prog)
	} else {
		expander = rcgen.New(prog.Interns, prog.Layouts)
	}
	backend, err := wasm32.New(prog, expander, wasm32.Options{
		StackSize:      opts.StackSize,
		BuiltinsModule: opts.BuiltinsModule,
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		prog:    prog,
		opts:    opts,
		backend: backend,
		timer:   observ.NewTimer(),
	}, nil
}

// Compile runs every phase of a session and returns the encoded module.
func Compile(ctx context.Context, prog *ir.Program, opts Options) (CompileResult, error) {
	s, err := NewSession(prog, opts)
	if err != nil {
		return CompileResult{}, err
	}
	return s.Run(ctx)
}

// Run compiles the program, then its refcount helpers, then finalizes and serializes.
// The first error aborts the session; no partial module is returned.
func (s *Session) Run(ctx context.Context) (CompileResult, error) {
	var res CompileResult
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = trace.WithFile(ctx, s.opts.File)
	s.progress = trace.ProgressFromContext(ctx)
	defer s.progress.Done(s.opts.File)

	if err := s.phase(ctx, StageCompile, func(span *trace.Span) (string, error) {
		if err := s.buildProcs(ctx, s.prog.Procs, span); err != nil {
			return "", err
		}
		return strconv.Itoa(len(s.prog.Procs)) + " procs", nil
	}); err != nil {
		return res, err
	}

	if err := s.phase(ctx, StageRefcount, func(span *trace.Span) (string, error) {
		return s.buildHelpers(ctx, span)
	}); err != nil {
		return res, err
	}

	var mod *wasm.Module
	if err := s.phase(ctx, StageFinalize, func(*trace.Span) (string, error) {
		var err error
		mod, err = s.backend.Finalize()
		return "", err
	}); err != nil {
		return res, err
	}

	var bin []byte
	if err := s.phase(ctx, StageSerialize, func(*trace.Span) (string, error) {
		var err error
		bin, err = mod.Serialize()
		return strconv.Itoa(len(bin)) + " bytes", err
	}); err != nil {
		return res, err
	}

	res.Module = mod
	res.Binary = bin
	res.Procs = len(s.prog.Procs)
	res.Helpers = s.helpers
	res.Timings = s.timings
	res.Report = s.timer.Report()
	return res, nil
}

// Timer exposes the phase timer.
func (s *Session) Timer() *observ.Timer { return s.timer }

// phase wraps fn in a pass span, a timer phase and progress events.
func (s *Session) phase(ctx context.Context, stage Stage, fn func(span *trace.Span) (string, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	span := trace.BeginCtx(ctx, trace.ScopePass, string(stage))
	idx := s.timer.Begin(string(stage))
	start := time.Now()
	s.progress.Phase(s.opts.File, string(stage))
	emitStage(s.opts.Progress, s.opts.File, stage, StatusWorking, nil, 0)

	note, err := fn(span)

	elapsed := time.Since(start)
	s.timer.End(idx, note)
	s.timings.Set(stage, elapsed)
	if err != nil {
		span.WithExtra("error", err.Error()).End("failed")
		emitStage(s.opts.Progress, s.opts.File, stage, StatusError, err, elapsed)
		return fmt.Errorf("%s: %w", stage, err)
	}
	span.End(note)
	emitStage(s.opts.Progress, s.opts.File, stage, StatusDone, nil, elapsed)
	return nil
}

func (s *Session) buildProcs(ctx context.Context, procs []*ir.Proc, parent *trace.Span) error {
	tracer := trace.FromContext(ctx)
	total := len(procs)
	for i, p := range procs {
		if err := ctx.Err(); err != nil {
			return err
		}
		span := parent.Child(tracer, trace.ScopeModule, "proc:"+s.prog.Interns.Name(p.Name))
		span.WithExtra("index", strconv.Itoa(i+1)+"/"+strconv.Itoa(total))
		if err := s.backend.BuildProc(p); err != nil {
			span.End("failed")
			return err
		}
		span.End("")
		s.progress.Procs(s.opts.File, i+1, total)
	}
	return nil
}

// buildHelpers compiles helpers until expansion stops producing new ones.
func (s *Session) buildHelpers(ctx context.Context, parent *trace.Span) (string, error) {
	for round := 0; round < maxHelperRounds; round++ {
		procs, err := s.backend.GenerateRefcountProcs()
		if err != nil {
			return "", err
		}
		if len(procs) == 0 {
			return strconv.Itoa(s.helpers) + " helpers", nil
		}
		parent.Point(trace.FromContext(ctx), trace.ScopeModule, "helper-round", strconv.Itoa(len(procs)))
		if err := s.buildProcs(ctx, procs, parent); err != nil {
			return "", err
		}
		s.helpers += len(procs)
	}
	return "", fmt.Errorf("refcount helpers still pending after %d rounds", maxHelperRounds)
}
