package buildpipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wasmgen/internal/irfile"
	"wasmgen/internal/trace"
)

// BuildRequest compiles one IR container into one wasm object.
type BuildRequest struct {
	Input  string
	Output string
	Options
}

// BuildResult captures the artefact and its timings.
type BuildResult struct {
	CompileResult
	OutputPath  string
	InputDigest irfile.Digest
}

// Build loads req.Input, compiles it and writes req.Output.
func Build(ctx context.Context, req *BuildRequest) (BuildResult, error) {
	var result BuildResult
	if req == nil {
		return result, errors.New("missing build request")
	}
	if req.Input == "" || req.Output == "" {
		return result, errors.New("build request needs an input and an output path")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	opts := req.Options
	if opts.File == "" {
		opts.File = req.Input
	}

	ctx = trace.WithFile(ctx, opts.File)
	progress := trace.ProgressFromContext(ctx)
	defer progress.Done(opts.File)

	span := trace.BeginCtx(ctx, trace.ScopeDriver, "file:"+opts.File)
	ctx = trace.WithParent(ctx, span)
	emitStage(opts.Progress, opts.File, StageLoad, StatusQueued, nil, 0)

	loadSpan := trace.BeginCtx(ctx, trace.ScopePass, string(StageLoad))
	loadStart := time.Now()
	progress.Phase(opts.File, string(StageLoad))
	emitStage(opts.Progress, opts.File, StageLoad, StatusWorking, nil, 0)
	prog, digest, err := irfile.ReadFile(req.Input)
	loadElapsed := time.Since(loadStart)
	loadSpan.End(fmt.Sprintf("%x", digest[:4]))
	if err != nil {
		emitStage(opts.Progress, opts.File, StageLoad, StatusError, err, loadElapsed)
		span.End("failed")
		return result, fmt.Errorf("%s: %w", StageLoad, err)
	}
	emitStage(opts.Progress, opts.File, StageLoad, StatusDone, nil, loadElapsed)
	result.InputDigest = digest

	session, err := NewSession(prog, opts)
	if err != nil {
		span.End("failed")
		return result, err
	}
	session.timer.Record(string(StageLoad), loadElapsed, fmt.Sprintf("%d procs", len(prog.Procs)))
	session.timings.Set(StageLoad, loadElapsed)

	res, err := session.Run(ctx)
	if err != nil {
		span.End("failed")
		return result, err
	}
	result.CompileResult = res

	if err := session.phase(ctx, StageWrite, func(*trace.Span) (string, error) {
		return req.Output, irfile.WriteAtomic(req.Output, res.Binary)
	}); err != nil {
		span.End("failed")
		return result, err
	}
	result.OutputPath = req.Output
	result.Timings = session.timings
	result.Report = session.timer.Report()
	span.WithExtra("bytes", fmt.Sprint(len(res.Binary))).End("")
	return result, nil
}
