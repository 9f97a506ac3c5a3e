package ir

import "testing"

func TestReservedLayouts(t *testing.T) {
	in := NewLayoutInterner()
	if got := in.MustLookup(LayoutI64); got.Builtin != BuiltinInt || got.Int != I64 {
		t.Fatalf("unexpected I64 layout: %+v", got)
	}
	if got := in.MustLookup(LayoutRecursivePointer); got.Kind != LayoutKindRecursivePointer {
		t.Fatalf("unexpected recursive pointer layout: %+v", got)
	}
	if _, ok := in.Lookup(LayoutNone); ok {
		t.Fatalf("LayoutNone must not resolve")
	}
	if in.Struct() != LayoutUnit {
		t.Fatalf("empty struct must be the unit layout")
	}
}

func TestLayoutDedup(t *testing.T) {
	in := NewLayoutInterner()
	a := in.Struct(LayoutI32, LayoutI64)
	b := in.Struct(LayoutI32, LayoutI64)
	if a != b {
		t.Fatalf("expected identical ids, got %d and %d", a, b)
	}
	c := in.Struct(LayoutI64, LayoutI32)
	if a == c {
		t.Fatalf("field order must matter")
	}
	if in.List(LayoutU8) != in.List(LayoutU8) {
		t.Fatalf("list layouts must be deduplicated")
	}
}

func TestReindexAfterDecode(t *testing.T) {
	in := NewLayoutInterner()
	s := in.Struct(LayoutStr, LayoutBool)
	copied := &LayoutInterner{Layouts: append([]Layout(nil), in.Layouts...)}
	if got := copied.Struct(LayoutStr, LayoutBool); got != s {
		t.Fatalf("expected %d after reindex, got %d", s, got)
	}
}

func TestRuntimeStripsLambdaSets(t *testing.T) {
	in := NewLayoutInterner()
	repr := in.Struct(LayoutI32)
	inner := in.LambdaSet(repr)
	outer := in.LambdaSet(inner)
	if got := in.Runtime(outer); got != repr {
		t.Fatalf("expected %d, got %d", repr, got)
	}
}

func TestNullableWrappedTagFields(t *testing.T) {
	u := UnionLayout{
		Kind:       UnionNullableWrapped,
		NullableID: 1,
		Tags:       [][]LayoutID{{LayoutI32}, {LayoutI64, LayoutRecursivePointer}},
	}
	if u.TagCount() != 3 {
		t.Fatalf("expected 3 tags, got %d", u.TagCount())
	}
	if _, ok := u.TagFields(1); ok {
		t.Fatalf("null tag must have no fields")
	}
	fields, ok := u.TagFields(2)
	if !ok || len(fields) != 2 || fields[0] != LayoutI64 {
		t.Fatalf("tag 2 should map to the second stored tag, got %v", fields)
	}
	tags := u.DataTags()
	if len(tags) != 2 || tags[0] != 0 || tags[1] != 2 {
		t.Fatalf("unexpected data tags %v", tags)
	}
}

func TestDescribe(t *testing.T) {
	in := NewLayoutInterner()
	id := in.Struct(LayoutI32, in.List(LayoutStr), LayoutF64)
	if got, want := in.Describe(id), "{I32, List(Str), F64}"; got != want {
		t.Fatalf("Describe = %q, want %q", got, want)
	}
	u := in.Union(UnionLayout{Kind: UnionNullableUnwrapped, NullableID: 0, Fields: []LayoutID{LayoutI64, LayoutRecursivePointer}})
	if got, want := in.Describe(u), "nullable-unwrapped[1(I64, *self)]"; got != want {
		t.Fatalf("Describe = %q, want %q", got, want)
	}
}
