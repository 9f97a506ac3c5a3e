package trace

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Heartbeat reports the progress of every in-flight file at a fixed interval.
// A file whose "idle" extra keeps growing is stuck in the reported phase.
type Heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartHeartbeat begins reporting progress to t until ctx ends or Stop is
// called. It returns nil when there is nothing to report to; Stop accepts nil.
func StartHeartbeat(ctx context.Context, t Tracer, progress *Progress, interval time.Duration) *Heartbeat {
	if t == nil || !t.Enabled() || progress == nil || interval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{cancel: cancel, done: make(chan struct{})}
	go h.run(ctx, t, progress, interval)
	return h
}

func (h *Heartbeat) run(ctx context.Context, t Tracer, progress *Progress, interval time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for beat := 1; ; beat++ {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			emitBeat(t, progress.Snapshot(), beat, now)
		}
	}
}

// emitBeat emits one event per in-flight file, or a single idle event.
func emitBeat(t Tracer, files []FileProgress, beat int, now time.Time) {
	if len(files) == 0 {
		t.Emit(&Event{
			Time:   now,
			Seq:    NextSeq(),
			Kind:   KindHeartbeat,
			Scope:  ScopeDriver,
			Name:   "heartbeat",
			Detail: fmt.Sprintf("#%d idle", beat),
		})
		return
	}
	for _, f := range files {
		t.Emit(&Event{
			Time:   now,
			Seq:    NextSeq(),
			Kind:   KindHeartbeat,
			Scope:  ScopeDriver,
			File:   f.File,
			Name:   "heartbeat",
			Detail: fmt.Sprintf("#%d %s", beat, f),
			Extra: map[string]string{
				"phase": f.Phase,
				"procs": strconv.Itoa(f.ProcsDone) + "/" + strconv.Itoa(f.ProcsTotal),
				"idle":  FormatDuration(now.Sub(f.Updated)),
			},
		})
	}
}

// Stop ends reporting and waits for the reporting goroutine. It is safe to
// call more than once.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}
