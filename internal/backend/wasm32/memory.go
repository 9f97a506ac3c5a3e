package wasm32

import "wasmgen/internal/wasm"

type copyMemoryConfig struct {
	fromPtr    wasm.LocalID
	fromOffset uint32
	toPtr      wasm.LocalID
	toOffset   uint32
	size       uint32
	align      int
}

// copyMemory copies size bytes using the widest loads the alignment allows.
func copyMemory(code *wasm.CodeBuilder, cfg copyMemoryConfig) {
	if cfg.fromPtr == cfg.toPtr && cfg.fromOffset == cfg.toOffset {
		return
	}
	chunks := []struct {
		width uint32
		load  wasm.Opcode
		store wasm.Opcode
	}{
		{8, wasm.OpI64Load, wasm.OpI64Store},
		{4, wasm.OpI32Load, wasm.OpI32Store},
		{2, wasm.OpI32Load16U, wasm.OpI32Store16},
		{1, wasm.OpI32Load8U, wasm.OpI32Store8},
	}
	i := uint32(0)
	for _, c := range chunks {
		if uint32(cfg.align) < c.width && c.width > 1 {
			continue
		}
		align := wasm.AlignFor(int(c.width))
		for i+c.width <= cfg.size {
			code.GetLocal(cfg.toPtr)
			code.GetLocal(cfg.fromPtr)
			code.Load(c.load, align, cfg.fromOffset+i)
			code.Store(c.store, align, cfg.toOffset+i)
			i += c.width
		}
	}
}
