package ir

import (
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// LayoutID indexes a LayoutInterner.
type LayoutID uint32

// Reserved layout ids. NewLayoutInterner seeds them in this order.
const (
	LayoutNone LayoutID = iota
	// LayoutRecursivePointer stands for "pointer to the enclosing recursive union".
	LayoutRecursivePointer
	LayoutUnit
	LayoutBool
	LayoutU8
	LayoutU16
	LayoutU32
	LayoutU64
	LayoutU128
	LayoutI8
	LayoutI16
	LayoutI32
	LayoutI64
	LayoutI128
	LayoutF32
	LayoutF64
	LayoutDec
	LayoutStr
	numReservedLayouts
)

// LayoutKind enumerates the shapes of a Layout.
type LayoutKind uint8

const (
	LayoutKindInvalid LayoutKind = iota
	LayoutKindBuiltin
	LayoutKindStruct
	LayoutKindUnion
	LayoutKindLambdaSet
	LayoutKindRecursivePointer
)

func (k LayoutKind) String() string {
	switch k {
	case LayoutKindBuiltin:
		return "builtin"
	case LayoutKindStruct:
		return "struct"
	case LayoutKindUnion:
		return "union"
	case LayoutKindLambdaSet:
		return "lambda-set"
	case LayoutKindRecursivePointer:
		return "recursive-pointer"
	default:
		return "invalid"
	}
}

// BuiltinKind enumerates builtin layouts.
type BuiltinKind uint8

const (
	BuiltinInt BuiltinKind = iota + 1
	BuiltinFloat
	BuiltinBool
	BuiltinDecimal
	BuiltinStr
	BuiltinList
)

// IntWidth is the width and signedness of an integer builtin.
type IntWidth uint8

const (
	U8 IntWidth = iota + 1
	U16
	U32
	U64
	U128
	I8
	I16
	I32
	I64
	I128
)

// Bytes returns the storage size of the integer.
func (w IntWidth) Bytes() uint32 {
	switch w {
	case U8, I8:
		return 1
	case U16, I16:
		return 2
	case U32, I32:
		return 4
	case U64, I64:
		return 8
	case U128, I128:
		return 16
	default:
		return 0
	}
}

// Signed reports whether the integer is signed.
func (w IntWidth) Signed() bool { return w >= I8 }

// FloatWidth is the width of a float builtin.
type FloatWidth uint8

const (
	F32 FloatWidth = iota + 1
	F64
	F128
)

// Bytes returns the storage size of the float.
func (w FloatWidth) Bytes() uint32 {
	switch w {
	case F32:
		return 4
	case F64:
		return 8
	case F128:
		return 16
	default:
		return 0
	}
}

// UnionKind is the physical representation chosen upstream for a tag union.
type UnionKind uint8

const (
	// UnionNonRecursive is stored inline, with a trailing tag id.
	UnionNonRecursive UnionKind = iota + 1
	// UnionRecursive is heap allocated; the tag id lives in the pointer or in the data.
	UnionRecursive
	// UnionNonNullableUnwrapped has exactly one tag and is heap allocated.
	UnionNonNullableUnwrapped
	// UnionNullableWrapped has one null tag and several heap-allocated tags.
	UnionNullableWrapped
	// UnionNullableUnwrapped has one null tag and one heap-allocated tag.
	UnionNullableUnwrapped
)

func (k UnionKind) String() string {
	switch k {
	case UnionNonRecursive:
		return "non-recursive"
	case UnionRecursive:
		return "recursive"
	case UnionNonNullableUnwrapped:
		return "non-nullable-unwrapped"
	case UnionNullableWrapped:
		return "nullable-wrapped"
	case UnionNullableUnwrapped:
		return "nullable-unwrapped"
	default:
		return "invalid"
	}
}

// TagID is the discriminant of a tag union value.
type TagID uint16

// UnionLayout describes one tag union.
//
// Tags holds per-tag field lists for NonRecursive, Recursive and NullableWrapped unions;
// for NullableWrapped the null tag is omitted and later tags shift down by one.
// Fields holds the single tag's fields for NonNullableUnwrapped and NullableUnwrapped.
type UnionLayout struct {
	Kind       UnionKind    `msgpack:"kind"`
	Tags       [][]LayoutID `msgpack:"tags,omitempty"`
	Fields     []LayoutID   `msgpack:"fields,omitempty"`
	NullableID TagID        `msgpack:"nullable_id"`
}

// IsHeap reports whether values of the union are pointers to heap data.
func (u *UnionLayout) IsHeap() bool {
	return u.Kind != UnionNonRecursive
}

// IsRecursive reports whether fields may refer back to the union itself.
func (u *UnionLayout) IsRecursive() bool {
	return u.Kind != UnionNonRecursive
}

// TagIsNull reports whether the tag is represented by the null pointer.
func (u *UnionLayout) TagIsNull(id TagID) bool {
	switch u.Kind {
	case UnionNullableWrapped, UnionNullableUnwrapped:
		return id == u.NullableID
	default:
		return false
	}
}

// TagCount returns the number of tags including a null tag.
func (u *UnionLayout) TagCount() int {
	switch u.Kind {
	case UnionNonRecursive, UnionRecursive:
		return len(u.Tags)
	case UnionNullableWrapped:
		return len(u.Tags) + 1
	case UnionNullableUnwrapped:
		return 2
	case UnionNonNullableUnwrapped:
		return 1
	default:
		return 0
	}
}

// TagFields returns the field layouts for a non-null tag.
func (u *UnionLayout) TagFields(id TagID) ([]LayoutID, bool) {
	idx := int(id)
	switch u.Kind {
	case UnionNonRecursive, UnionRecursive:
		if idx >= len(u.Tags) {
			return nil, false
		}
		return u.Tags[idx], true
	case UnionNullableWrapped:
		if id == u.NullableID {
			return nil, false
		}
		if id > u.NullableID {
			idx--
		}
		if idx >= len(u.Tags) {
			return nil, false
		}
		return u.Tags[idx], true
	case UnionNonNullableUnwrapped:
		return u.Fields, id == 0
	case UnionNullableUnwrapped:
		return u.Fields, id != u.NullableID && id <= 1
	default:
		return nil, false
	}
}

// DataTags lists every tag that owns data, in tag id order.
func (u *UnionLayout) DataTags() []TagID {
	n := u.TagCount()
	out := make([]TagID, 0, n)
	for i := 0; i < n; i++ {
		id, err := safecast.Conv[uint16](i)
		if err != nil {
			break
		}
		if u.TagIsNull(TagID(id)) {
			continue
		}
		out = append(out, TagID(id))
	}
	return out
}

// Layout is the upstream description of a value's physical shape.
type Layout struct {
	Kind LayoutKind `msgpack:"kind"`

	Builtin BuiltinKind `msgpack:"builtin,omitempty"`
	Int     IntWidth    `msgpack:"int,omitempty"`
	Float   FloatWidth  `msgpack:"float,omitempty"`
	Elem    LayoutID    `msgpack:"elem,omitempty"`

	Fields []LayoutID `msgpack:"fields,omitempty"`

	Union UnionLayout `msgpack:"union,omitempty"`

	// Repr is the runtime representation of a lambda set.
	Repr LayoutID `msgpack:"repr,omitempty"`
}

// LayoutInterner stores layouts in a flat table and deduplicates them structurally.
type LayoutInterner struct {
	Layouts []Layout `msgpack:"layouts"`

	index map[string]LayoutID
}

// NewLayoutInterner creates an interner seeded with the reserved layouts.
func NewLayoutInterner() *LayoutInterner {
	in := &LayoutInterner{index: make(map[string]LayoutID, 64)}
	seed := []Layout{
		{Kind: LayoutKindInvalid},
		{Kind: LayoutKindRecursivePointer},
		{Kind: LayoutKindStruct},
		{Kind: LayoutKindBuiltin, Builtin: BuiltinBool},
		intLayout(U8), intLayout(U16), intLayout(U32), intLayout(U64), intLayout(U128),
		intLayout(I8), intLayout(I16), intLayout(I32), intLayout(I64), intLayout(I128),
		{Kind: LayoutKindBuiltin, Builtin: BuiltinFloat, Float: F32},
		{Kind: LayoutKindBuiltin, Builtin: BuiltinFloat, Float: F64},
		{Kind: LayoutKindBuiltin, Builtin: BuiltinDecimal},
		{Kind: LayoutKindBuiltin, Builtin: BuiltinStr},
	}
	for _, l := range seed {
		in.insertRaw(l)
	}
	if len(in.Layouts) != int(numReservedLayouts) {
		panic("ir: reserved layout table out of sync")
	}
	return in
}

func intLayout(w IntWidth) Layout {
	return Layout{Kind: LayoutKindBuiltin, Builtin: BuiltinInt, Int: w}
}

// Reindex rebuilds the dedup index, e.g. after decoding the table.
func (in *LayoutInterner) Reindex() {
	in.index = make(map[string]LayoutID, len(in.Layouts))
	for i, l := range in.Layouts {
		id, err := safecast.Conv[uint32](i)
		if err != nil {
			panic(fmt.Errorf("layout table overflow: %w", err))
		}
		key := layoutKey(l)
		if _, ok := in.index[key]; !ok {
			in.index[key] = LayoutID(id)
		}
	}
}

// Insert returns the stable id for a layout.
func (in *LayoutInterner) Insert(l Layout) LayoutID {
	if in.index == nil {
		in.Reindex()
	}
	if id, ok := in.index[layoutKey(l)]; ok {
		return id
	}
	return in.insertRaw(l)
}

func (in *LayoutInterner) insertRaw(l Layout) LayoutID {
	n, err := safecast.Conv[uint32](len(in.Layouts))
	if err != nil {
		panic(fmt.Errorf("layout table overflow: %w", err))
	}
	id := LayoutID(n)
	in.Layouts = append(in.Layouts, l)
	in.index[layoutKey(l)] = id
	return id
}

// Lookup returns the layout for an id.
func (in *LayoutInterner) Lookup(id LayoutID) (Layout, bool) {
	if in == nil || id == LayoutNone || int(id) >= len(in.Layouts) {
		return Layout{}, false
	}
	return in.Layouts[id], true
}

// MustLookup panics when id is invalid.
func (in *LayoutInterner) MustLookup(id LayoutID) Layout {
	l, ok := in.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("ir: invalid LayoutID %d", id))
	}
	return l
}

// Struct interns a struct of the given fields.
func (in *LayoutInterner) Struct(fields ...LayoutID) LayoutID {
	if len(fields) == 0 {
		return LayoutUnit
	}
	return in.Insert(Layout{Kind: LayoutKindStruct, Fields: append([]LayoutID(nil), fields...)})
}

// List interns a list of elem.
func (in *LayoutInterner) List(elem LayoutID) LayoutID {
	return in.Insert(Layout{Kind: LayoutKindBuiltin, Builtin: BuiltinList, Elem: elem})
}

// Union interns a tag union.
func (in *LayoutInterner) Union(u UnionLayout) LayoutID {
	return in.Insert(Layout{Kind: LayoutKindUnion, Union: u})
}

// LambdaSet interns a lambda set with the given runtime representation.
func (in *LayoutInterner) LambdaSet(repr LayoutID) LayoutID {
	return in.Insert(Layout{Kind: LayoutKindLambdaSet, Repr: repr})
}

// Runtime strips lambda sets down to their runtime representation.
func (in *LayoutInterner) Runtime(id LayoutID) LayoutID {
	for i := 0; i < len(in.Layouts); i++ {
		l, ok := in.Lookup(id)
		if !ok || l.Kind != LayoutKindLambdaSet {
			return id
		}
		id = l.Repr
	}
	return id
}

// Describe renders a layout for diagnostics.
func (in *LayoutInterner) Describe(id LayoutID) string {
	var sb strings.Builder
	in.describe(&sb, id, 0)
	return sb.String()
}

func (in *LayoutInterner) describe(sb *strings.Builder, id LayoutID, depth int) {
	l, ok := in.Lookup(id)
	if !ok {
		sb.WriteString("<invalid>")
		return
	}
	if depth > 8 {
		sb.WriteString("...")
		return
	}
	switch l.Kind {
	case LayoutKindBuiltin:
		switch l.Builtin {
		case BuiltinInt:
			if l.Int.Signed() {
				sb.WriteString("I")
			} else {
				sb.WriteString("U")
			}
			sb.WriteString(strconv.FormatUint(uint64(l.Int.Bytes())*8, 10))
		case BuiltinFloat:
			sb.WriteString("F")
			sb.WriteString(strconv.FormatUint(uint64(l.Float.Bytes())*8, 10))
		case BuiltinBool:
			sb.WriteString("Bool")
		case BuiltinDecimal:
			sb.WriteString("Dec")
		case BuiltinStr:
			sb.WriteString("Str")
		case BuiltinList:
			sb.WriteString("List(")
			in.describe(sb, l.Elem, depth+1)
			sb.WriteString(")")
		}
	case LayoutKindStruct:
		sb.WriteString("{")
		for i, f := range l.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			in.describe(sb, f, depth+1)
		}
		sb.WriteString("}")
	case LayoutKindUnion:
		sb.WriteString(l.Union.Kind.String())
		sb.WriteString("[")
		for i, tag := range l.Union.DataTags() {
			if i > 0 {
				sb.WriteString(" | ")
			}
			fields, _ := l.Union.TagFields(tag)
			sb.WriteString(strconv.Itoa(int(tag)))
			sb.WriteString("(")
			for j, f := range fields {
				if j > 0 {
					sb.WriteString(", ")
				}
				in.describe(sb, f, depth+1)
			}
			sb.WriteString(")")
		}
		sb.WriteString("]")
	case LayoutKindLambdaSet:
		sb.WriteString("LambdaSet(")
		in.describe(sb, l.Repr, depth+1)
		sb.WriteString(")")
	case LayoutKindRecursivePointer:
		sb.WriteString("*self")
	}
}

func layoutKey(l Layout) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(l.Kind)))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(int(l.Builtin)))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(int(l.Int)))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(int(l.Float)))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatUint(uint64(l.Elem), 10))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatUint(uint64(l.Repr), 10))
	writeIDs(&sb, l.Fields)
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(int(l.Union.Kind)))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(int(l.Union.NullableID)))
	for _, tag := range l.Union.Tags {
		sb.WriteByte('/')
		writeIDs(&sb, tag)
	}
	sb.WriteByte('|')
	writeIDs(&sb, l.Union.Fields)
	return sb.String()
}

func writeIDs(sb *strings.Builder, ids []LayoutID) {
	sb.WriteByte('(')
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	sb.WriteByte(')')
}
