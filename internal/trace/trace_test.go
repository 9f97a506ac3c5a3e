package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLevelShouldEmit(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeDriver, false},
		{LevelError, ScopePass, true},
		{LevelError, ScopeModule, false},
		{LevelPhase, ScopePass, true},
		{LevelPhase, ScopeModule, false},
		{LevelDetail, ScopeModule, true},
		{LevelDetail, ScopeNode, false},
		{LevelDebug, ScopeNode, true},
	}
	for _, tc := range cases {
		if got := tc.level.ShouldEmit(tc.scope); got != tc.want {
			t.Errorf("%s.ShouldEmit(%s) = %v, want %v", tc.level, tc.scope, got, tc.want)
		}
	}
}

func TestParseLevelAndMode(t *testing.T) {
	if lvl, err := ParseLevel("DETAIL"); err != nil || lvl != LevelDetail {
		t.Fatalf("ParseLevel(DETAIL) = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if m, err := ParseMode("both"); err != nil || m != ModeBoth {
		t.Fatalf("ParseMode(both) = %v, %v", m, err)
	}
	if f, err := ParseFormat("chrome"); err != nil || f != FormatChrome {
		t.Fatalf("ParseFormat(chrome) = %v, %v", f, err)
	}
}

func TestStreamNDJSONSpans(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDetail, FormatNDJSON)

	root := Begin(tr, ScopePass, "compile", 0)
	child := root.Child(tr, ScopeModule, "proc:main")
	child.WithExtra("bytes", "12").End("")
	root.End("ok")

	// Suppressed at LevelDetail.
	Begin(tr, ScopeNode, "stmt", child.ID()).End("")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	var ev struct {
		Kind     string            `json:"kind"`
		Name     string            `json:"name"`
		ParentID uint64            `json:"parent_id"`
		Extra    map[string]string `json:"extra"`
	}
	if err := json.Unmarshal([]byte(lines[2]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != "end" || ev.Name != "proc:main" || ev.ParentID != root.ID() || ev.Extra["bytes"] != "12" {
		t.Fatalf("unexpected child end event: %+v", ev)
	}
}

func TestStreamChromeIsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatChrome)
	Begin(tr, ScopeDriver, "build", 0).End("done")
	Point(tr, ScopePass, "cache-miss", "prog.irpk", 0)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var doc struct {
		TraceEvents []struct {
			Name  string `json:"name"`
			Phase string `json:"ph"`
		} `json:"traceEvents"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("chrome output is not JSON: %v\n%s", err, buf.String())
	}
	if len(doc.TraceEvents) != 3 {
		t.Fatalf("got %d events, want 3", len(doc.TraceEvents))
	}
	if doc.TraceEvents[0].Phase != "B" || doc.TraceEvents[1].Phase != "E" || doc.TraceEvents[2].Phase != "i" {
		t.Fatalf("unexpected phases: %+v", doc.TraceEvents)
	}
}

func TestErrorLevelOnlyFillsRing(t *testing.T) {
	var buf bytes.Buffer
	ring := NewRingTracer(2, LevelError)
	tr := NewMultiTracer(LevelError, NewStreamTracer(&buf, LevelError, FormatText), ring)

	for _, name := range []string{"load", "compile", "finalize"} {
		Begin(tr, ScopePass, name, 0).End("")
	}
	if buf.Len() != 0 {
		t.Fatalf("stream wrote at error level: %q", buf.String())
	}
	if tr.Ring() != ring {
		t.Fatalf("Ring() did not find the ring tracer")
	}
	snap := ring.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("ring holds %d events, want 2", len(snap))
	}
	if snap[0].Name != "finalize" || snap[0].Kind != KindSpanBegin || snap[1].Kind != KindSpanEnd {
		t.Fatalf("ring lost ordering: %+v", snap)
	}

	var dump bytes.Buffer
	if err := ring.Dump(&dump, FormatText); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if strings.Count(dump.String(), "finalize") != 2 {
		t.Fatalf("dump = %q", dump.String())
	}
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDetail, FormatNDJSON)
	ctx := WithTracer(context.Background(), tr)
	if FromContext(ctx) != Tracer(tr) {
		t.Fatalf("tracer not stored in context")
	}
	if FromContext(context.Background()) != Nop {
		t.Fatalf("missing tracer should be Nop")
	}

	parent := BeginCtx(ctx, ScopePass, "compile")
	ctx = WithParent(ctx, parent)
	child := BeginCtx(ctx, ScopeModule, "proc:f")
	child.End("")
	parent.End("")

	if ParentSpan(ctx) != parent.ID() {
		t.Fatalf("ParentSpan = %d, want %d", ParentSpan(ctx), parent.ID())
	}
	if !strings.Contains(buf.String(), `"parent_id":`) {
		t.Fatalf("child span has no parent: %s", buf.String())
	}
}

func TestNopSpanIsInert(t *testing.T) {
	s := Begin(Nop, ScopeDriver, "x", 7)
	if s.ID() != 7 {
		t.Fatalf("suppressed span id = %d, want parent 7", s.ID())
	}
	if d := s.WithExtra("k", "v").End(""); d != 0 {
		t.Fatalf("nop span duration = %v", d)
	}
	var nilSpan *Span
	if nilSpan.ID() != 0 || nilSpan.End("") != 0 {
		t.Fatalf("nil span not inert")
	}
}

func TestSpansCarryTheirFile(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDetail, FormatChrome)
	ctx := WithTracer(context.Background(), tr)

	Begin(tr, ScopeDriver, "build", 0).End("")
	a := BeginCtx(WithFile(ctx, "lanes_a.irpk"), ScopePass, "compile")
	a.Child(tr, ScopeModule, "proc:f").End("")
	a.End("")
	b := BeginCtx(WithFile(ctx, "lanes_b.irpk"), ScopePass, "compile")
	b.Point(tr, ScopeModule, "helper-round", "2")
	b.End("")
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var doc struct {
		TraceEvents []struct {
			Name string `json:"name"`
			TID  uint64 `json:"tid"`
		} `json:"traceEvents"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("chrome output is not JSON: %v", err)
	}
	if len(doc.TraceEvents) != 9 {
		t.Fatalf("got %d events, want 9", len(doc.TraceEvents))
	}
	ev := doc.TraceEvents
	if ev[0].TID != 0 || ev[1].TID != 0 {
		t.Fatalf("driver span left lane 0: %+v", ev[:2])
	}
	laneA, laneB := ev[2].TID, ev[6].TID
	if laneA == 0 || laneB == 0 || laneA == laneB {
		t.Fatalf("files share a lane: a=%d b=%d", laneA, laneB)
	}
	for _, e := range ev[2:6] {
		if e.TID != laneA {
			t.Fatalf("%s on lane %d, want %d", e.Name, e.TID, laneA)
		}
	}
	for _, e := range ev[6:] {
		if e.TID != laneB {
			t.Fatalf("%s on lane %d, want %d", e.Name, e.TID, laneB)
		}
	}
	if a.File() != "lanes_a.irpk" || FileFromContext(ctx) != "" {
		t.Fatalf("file not scoped to its context")
	}
}

func TestProgressSnapshot(t *testing.T) {
	p := NewProgress()
	p.Phase("b.irpk", "load")
	p.Phase("a.irpk", "compile")
	p.Procs("a.irpk", 2, 5)

	snap := p.Snapshot()
	if len(snap) != 2 || snap[0].File != "a.irpk" || snap[1].File != "b.irpk" {
		t.Fatalf("snapshot not ordered by file: %+v", snap)
	}
	if got := snap[0].String(); got != "a.irpk: compile 2/5 procs" {
		t.Fatalf("a.irpk = %q", got)
	}
	if got := snap[1].String(); got != "b.irpk: load" {
		t.Fatalf("b.irpk = %q", got)
	}

	p.Phase("a.irpk", "refcount-procs")
	if snap = p.Snapshot(); snap[0].ProcsDone != 0 || snap[0].ProcsTotal != 0 {
		t.Fatalf("new phase kept the procedure counter: %+v", snap[0])
	}
	p.Done("a.irpk")
	if snap = p.Snapshot(); len(snap) != 1 || snap[0].File != "b.irpk" {
		t.Fatalf("Done left %+v", snap)
	}

	var none *Progress
	none.Phase("x", "load")
	none.Procs("x", 1, 1)
	none.Done("x")
	if none.Snapshot() != nil || ProgressFromContext(context.Background()) != nil {
		t.Fatalf("nil progress not inert")
	}
}

func TestHeartbeatReportsInFlightFiles(t *testing.T) {
	ring := NewRingTracer(64, LevelPhase)
	p := NewProgress()
	p.Phase("main.irpk", "compile")
	p.Procs("main.irpk", 1, 3)

	hb := StartHeartbeat(context.Background(), ring, p, time.Millisecond)
	if hb == nil {
		t.Fatalf("heartbeat did not start")
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(ring.Snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no heartbeat within 5s")
		}
		time.Sleep(time.Millisecond)
	}
	hb.Stop()
	hb.Stop()

	ev := ring.Snapshot()[0]
	if ev.Kind != KindHeartbeat || ev.File != "main.irpk" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !strings.HasSuffix(ev.Detail, "main.irpk: compile 1/3 procs") {
		t.Fatalf("detail = %q", ev.Detail)
	}
	if ev.Extra["phase"] != "compile" || ev.Extra["procs"] != "1/3" || ev.Extra["idle"] == "" {
		t.Fatalf("extras = %v", ev.Extra)
	}

	var stopped *Heartbeat
	stopped.Stop()
	if StartHeartbeat(context.Background(), Nop, p, time.Millisecond) != nil {
		t.Fatalf("heartbeat started on a disabled tracer")
	}
}

func TestHeartbeatWhenIdle(t *testing.T) {
	ring := NewRingTracer(4, LevelPhase)
	emitBeat(ring, nil, 3, time.Now())
	snap := ring.Snapshot()
	if len(snap) != 1 || snap[0].Detail != "#3 idle" || snap[0].File != "" {
		t.Fatalf("idle beat = %+v", snap)
	}
}

func TestStderrOutputSurvivesClose(t *testing.T) {
	tr, err := New(Config{Level: LevelPhase, Mode: ModeStream, OutputPath: "-"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stderr.Write(nil); err != nil {
		t.Fatalf("stderr closed by tracer: %v", err)
	}
}

func TestRingDumpFileKeepsOneInput(t *testing.T) {
	ring := NewRingTracer(16, LevelPhase)
	ctx := WithTracer(context.Background(), ring)

	build := BeginCtx(ctx, ScopeDriver, "build")
	ctx = WithParent(ctx, build)
	BeginCtx(WithFile(ctx, "ok.irpk"), ScopePass, "compile").End("")
	BeginCtx(WithFile(ctx, "bad.irpk"), ScopePass, "compile").End("failed")
	build.End("")

	var dump bytes.Buffer
	if err := ring.DumpFile(&dump, FormatText, "bad.irpk"); err != nil {
		t.Fatalf("dump: %v", err)
	}
	out := dump.String()
	if strings.Contains(out, "ok.irpk") {
		t.Fatalf("dump includes another input:\n%s", out)
	}
	if strings.Count(out, "bad.irpk: compile") != 2 || strings.Count(out, "build") != 2 {
		t.Fatalf("dump = %q", out)
	}
}
