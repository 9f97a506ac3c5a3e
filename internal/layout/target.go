package layout

// Target describes the ABI target and its pointer properties.
//
// Only wasm32 is implemented.
type Target struct {
	Triple   string // e.g. "wasm32-unknown-unknown"
	PtrSize  int    // bytes
	PtrAlign int    // bytes
	// MaxAlign caps the alignment of any builtin, e.g. 128-bit integers on wasm32.
	MaxAlign int
}

func Wasm32() Target {
	return Target{
		Triple:   "wasm32-unknown-unknown",
		PtrSize:  4,
		PtrAlign: 4,
		MaxAlign: 8,
	}
}
