// Package trace records spans for the wasmgen build pipeline.
//
// A build emits three kinds of spans:
//
//   - ScopeDriver: one per CLI invocation and per input file
//   - ScopePass: session phases (load, compile, refcount-procs, finalize, serialize)
//   - ScopeModule: one per compiled procedure
//
// Tracing is enabled from the command line:
//
//	wasmgen build --trace=build.ndjson --trace-level=detail prog.irpk
//
// Tracers travel through the pipeline in a context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopePass, "compile", parent)
//	defer span.End("")
//
// Events carry the input file they belong to; WithFile sets it for every span
// begun from a context. In chrome output each file gets its own track.
//
// With --trace-heartbeat, a Heartbeat periodically reports the phase and
// procedure count of every file still building, as recorded in a Progress.
//
// A RingTracer keeps the most recent events in memory so they can be dumped
// when a build fails.
package trace
