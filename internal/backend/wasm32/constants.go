package wasm32

import (
	"fmt"
	"math"

	"fortio.org/safecast"

	"wasmgen/internal/wasm"
)

// refcountWidth is the size of the refcount word in front of heap data.
const refcountWidth = 4

// lookupStringConstant returns the address and data symbol of the pooled
// bytes of s, appending them to the constant segment on first use.
//
// Pooled bytes are preceded by a zero refcount, which marks them immortal.
func (b *Backend) lookupStringConstant(s string) (addr, symIndex uint32, err error) {
	if idx, ok := b.constants[s]; ok {
		return ConstSegmentBase + b.module.Symbols[idx].Offset, idx, nil
	}

	seg := &b.module.Data[ConstSegmentIndex]
	for len(seg.Init)%refcountWidth != 0 {
		seg.Init = append(seg.Init, 0)
	}
	seg.Init = append(seg.Init, 0, 0, 0, 0)
	offset, err := safecast.Conv[uint32](len(seg.Init))
	if err != nil {
		return 0, 0, errorf(ErrUnsupported, "constant segment too large")
	}
	size, err := safecast.Conv[uint32](len(s))
	if err != nil {
		return 0, 0, errorf(ErrUnsupported, "string constant too large")
	}
	seg.Init = append(seg.Init, s...)

	idx := b.module.AddSymbol(wasm.SymInfo{
		Kind:    wasm.SymData,
		Flags:   wasm.SymBindingLocal,
		Name:    fmt.Sprintf(".rodata.str.%d", len(b.constants)),
		Segment: ConstSegmentIndex,
		Offset:  offset,
		Size:    size,
	})
	b.constants[s] = idx
	return ConstSegmentBase + offset, idx, nil
}

// allocateWithRefcount allocates size bytes of heap data behind a refcount
// word holding initial, and leaves the address of the data on the stack.
func (b *Backend) allocateWithRefcount(size uint32, align int, initial uint32) error {
	extra := uint32(max(align, refcountWidth))
	total, err := safecast.Conv[int32](size + extra)
	if err != nil {
		return errorf(ErrUnsupported, "heap allocation of %d bytes", size)
	}
	alignArg, err := safecast.Conv[int32](align)
	if err != nil {
		return errorf(ErrInternal, "alignment %d", align)
	}
	rc, err := safecast.Conv[int32](initial)
	if err != nil {
		return errorf(ErrInternal, "refcount %d", initial)
	}

	b.code.I32Const(total)
	b.code.I32Const(alignArg)
	b.callBuiltin(AllocatorModule, AllocatorName, wasm.Signature{
		Params:  []wasm.ValueType{wasm.I32, wasm.I32},
		Results: []wasm.ValueType{wasm.I32},
	})

	// The refcount sits directly below the data; unique values count from MinInt32.
	alloc := b.storage.CreateAnonymousLocal(wasm.I32)
	b.code.SetLocal(alloc)
	b.code.GetLocal(alloc)
	b.code.I32Const(rc - 1 + math.MinInt32)
	b.code.Store(wasm.OpI32Store, wasm.Align4, extra-refcountWidth)

	b.code.GetLocal(alloc)
	b.code.I32Const(int32(extra))
	b.code.Inst(wasm.OpI32Add)
	return nil
}
