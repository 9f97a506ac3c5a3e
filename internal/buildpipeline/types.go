package buildpipeline

import "time"

// Stage is one phase of a build.
type Stage string

const (
	// StageLoad decodes the IR container.
	StageLoad Stage = "load"
	// StageCompile compiles the program's own procedures.
	StageCompile Stage = "compile"
	// StageRefcount compiles the refcount helpers synthesized while compiling.
	StageRefcount Stage = "refcount-procs"
	// StageFinalize checks the module is complete.
	StageFinalize Stage = "finalize"
	// StageSerialize encodes the module binary.
	StageSerialize Stage = "serialize"
	// StageWrite writes the binary to disk.
	StageWrite Stage = "write"
)

// Status is the state of a stage for one file.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress of one input file.
type Event struct {
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. Sinks shared between parallel
// builds must be safe for concurrent use.
type ProgressSink interface {
	OnEvent(Event)
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

// Set records the duration of stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
	t.stages[stage] = dur
}

// Has reports whether stage was recorded.
func (t Timings) Has(stage Stage) bool {
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration of stage.
func (t Timings) Duration(stage Stage) time.Duration {
	return t.stages[stage]
}

// Sum adds up the durations of stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}
