package trace

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// FileProgress is where the build of one input file currently is.
type FileProgress struct {
	File       string
	Phase      string
	ProcsDone  int
	ProcsTotal int
	Updated    time.Time
}

func (f FileProgress) String() string {
	if f.ProcsTotal == 0 {
		return fmt.Sprintf("%s: %s", f.File, f.Phase)
	}
	return fmt.Sprintf("%s: %s %d/%d procs", f.File, f.Phase, f.ProcsDone, f.ProcsTotal)
}

// Progress tracks every file being built. It is safe for concurrent use, and
// a nil Progress ignores updates.
type Progress struct {
	mu    sync.Mutex
	files map[string]*FileProgress
	now   func() time.Time
}

// NewProgress returns an empty tracker.
func NewProgress() *Progress {
	return &Progress{files: make(map[string]*FileProgress), now: time.Now}
}

func (p *Progress) entry(file string) *FileProgress {
	f, ok := p.files[file]
	if !ok {
		f = &FileProgress{File: file}
		p.files[file] = f
	}
	f.Updated = p.now()
	return f
}

// Phase records that file entered phase. The procedure counter restarts.
func (p *Progress) Phase(file, phase string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.entry(file)
	f.Phase = phase
	f.ProcsDone, f.ProcsTotal = 0, 0
}

// Procs records that done of total procedures of the current phase are compiled.
func (p *Progress) Procs(file string, done, total int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.entry(file)
	f.ProcsDone, f.ProcsTotal = done, total
}

// Done forgets file.
func (p *Progress) Done(file string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.files, file)
	p.mu.Unlock()
}

// Snapshot returns the in-flight files ordered by name.
func (p *Progress) Snapshot() []FileProgress {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	out := make([]FileProgress, 0, len(p.files))
	for _, f := range p.files {
		out = append(out, *f)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}
