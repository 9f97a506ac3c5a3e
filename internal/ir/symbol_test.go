package ir

import "testing"

func TestInternsNames(t *testing.T) {
	in := NewInterns()
	a := in.NewSymbol("x")
	b := in.NewSymbol("")
	if a == b || !a.IsValid() || !b.IsValid() {
		t.Fatalf("symbols must be distinct and valid: %d %d", a, b)
	}
	if in.Name(a) != "x" {
		t.Fatalf("unexpected name %q", in.Name(a))
	}
	if got := in.Name(b); got != "sym2" {
		t.Fatalf("unnamed symbol should fall back, got %q", got)
	}
	if in.Len() != 3 {
		t.Fatalf("expected 3 slots, got %d", in.Len())
	}
}

func TestLowLevelNames(t *testing.T) {
	if NumAdd.String() != "num_add" || StrConcat.String() != "str_concat" {
		t.Fatalf("unexpected names %q %q", NumAdd, StrConcat)
	}
	if LowLevel(200).String() != "invalid" {
		t.Fatalf("out of range op should be invalid")
	}
}
