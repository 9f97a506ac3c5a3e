package wasm

import (
	"errors"
)

// PaddedLEBWidth is the fixed width of relocatable LEB immediates.
const PaddedLEBWidth = 5

var errLEBOverflow = errors.New("wasm: LEB128 value overflows")

// AppendULEB appends v as an unsigned LEB128.
func AppendULEB(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

// AppendSLEB appends v as a signed LEB128.
func AppendSLEB(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		b = append(b, c)
		if done {
			return b
		}
	}
}

// AppendPaddedU32 appends v as an unsigned LEB128 padded to five bytes.
func AppendPaddedU32(b []byte, v uint32) []byte {
	for i := 0; i < PaddedLEBWidth-1; i++ {
		b = append(b, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(b, byte(v&0x7f))
}

// AppendPaddedI32 appends v as a signed LEB128 padded to five bytes.
func AppendPaddedI32(b []byte, v int32) []byte {
	x := int64(v)
	for i := 0; i < PaddedLEBWidth-1; i++ {
		b = append(b, byte(x&0x7f)|0x80)
		x >>= 7
	}
	return append(b, byte(x&0x7f))
}

// PatchPaddedU32 overwrites a padded unsigned LEB at b[at:].
func PatchPaddedU32(b []byte, at int, v uint32) {
	var tmp [PaddedLEBWidth]byte
	copy(b[at:at+PaddedLEBWidth], AppendPaddedU32(tmp[:0], v))
}

// ReadULEB decodes an unsigned LEB128 and returns the value and its width.
func ReadULEB(b []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, c := range b {
		if shift >= 64 {
			return 0, 0, errLEBOverflow
		}
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New("wasm: truncated LEB128")
}

// ReadSLEB decodes a signed LEB128 and returns the value and its width.
func ReadSLEB(b []byte) (int64, int, error) {
	var v int64
	var shift uint
	for i, c := range b {
		if shift >= 64 {
			return 0, 0, errLEBOverflow
		}
		v |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				v |= -1 << shift
			}
			return v, i + 1, nil
		}
	}
	return 0, 0, errors.New("wasm: truncated LEB128")
}

func appendName(b []byte, s string) []byte {
	b = AppendULEB(b, uint64(len(s)))
	return append(b, s...)
}
