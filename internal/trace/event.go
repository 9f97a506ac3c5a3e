package trace

import (
	"sync"
	"time"
)

// Kind is the type of a trace event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Scope is the granularity of an event. Lower values are coarser.
type Scope uint8

const (
	// ScopeDriver covers a CLI command and each input file it builds.
	ScopeDriver Scope = iota + 1
	// ScopePass covers one session phase.
	ScopePass
	// ScopeModule covers one procedure.
	ScopeModule
	// ScopeNode covers single statements; only emitted at LevelDebug.
	ScopeNode
)

func (s Scope) String() string {
	switch s {
	case ScopeDriver:
		return "driver"
	case ScopePass:
		return "pass"
	case ScopeModule:
		return "module"
	case ScopeNode:
		return "node"
	default:
		return "unknown"
	}
}

// Event is a single trace record.
type Event struct {
	Time     time.Time
	Seq      uint64 // global, monotonic
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64 // 0 for root spans
	File     string // input file the event belongs to, "" for the driver
	Name     string // "compile", "proc:main_3", ...
	Detail   string
	Extra    map[string]string
}

// Point emits an instant event under parent.
func Point(t Tracer, scope Scope, name, detail string, parent uint64) {
	point(t, scope, name, detail, parent, "")
}

func point(t Tracer, scope Scope, name, detail string, parent uint64, file string) {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return
	}
	t.Emit(&Event{
		Time:     time.Now(),
		Seq:      NextSeq(),
		Kind:     KindPoint,
		Scope:    scope,
		ParentID: parent,
		File:     file,
		Name:     name,
		Detail:   detail,
	})
}

// lanes numbers input files in the order they first appear so that each file
// gets its own track in a chrome trace. Lane 0 is the driver.
var lanes struct {
	sync.Mutex
	ids map[string]uint64
}

func laneOf(file string) uint64 {
	if file == "" {
		return 0
	}
	lanes.Lock()
	defer lanes.Unlock()
	if lanes.ids == nil {
		lanes.ids = make(map[string]uint64)
	}
	id, ok := lanes.ids[file]
	if !ok {
		id = uint64(len(lanes.ids) + 1)
		lanes.ids[file] = id
	}
	return id
}
