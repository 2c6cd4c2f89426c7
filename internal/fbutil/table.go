// Package fbutil provides schema-less access to flatbuffer tables.
//
// Field numbers are the zero-based declaration order in the .fbs schema,
// union fields take two numbers (type, then value).
package fbutil

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
)

// ErrMalformed is returned when a buffer cannot be decoded
var ErrMalformed = errors.New("malformed flatbuffer")

// Table is a flatbuffer table addressed by field number
type Table struct {
	tab flatbuffers.Table
}

// Root returns the root table of buf, checking the 4-byte file identifier
// when ident is non-empty.
func Root(buf []byte, ident string) (Table, error) {
	if len(buf) < 8 {
		return Table{}, fmt.Errorf("%w: %d bytes is too short", ErrMalformed, len(buf))
	}
	if ident != "" && !HasIdentifier(buf, ident) {
		return Table{}, fmt.Errorf("%w: missing %q identifier", ErrMalformed, ident)
	}
	pos := flatbuffers.GetUOffsetT(buf)
	if int(pos) >= len(buf) {
		return Table{}, fmt.Errorf("%w: root offset %d out of range", ErrMalformed, pos)
	}
	return Table{tab: flatbuffers.Table{Bytes: buf, Pos: pos}}, nil
}

// HasIdentifier reports whether buf carries the given file identifier
func HasIdentifier(buf []byte, ident string) bool {
	n := flatbuffers.SizeUOffsetT
	return len(buf) >= n+len(ident) && string(buf[n:n+len(ident)]) == ident
}

// Guard converts a decoding panic into ErrMalformed. Use with defer.
func Guard(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrMalformed, r)
	}
}

// Slot returns the vtable offset of field n
func Slot(n int) flatbuffers.VOffsetT {
	return flatbuffers.VOffsetT(flatbuffers.VtableMetadataFields*flatbuffers.SizeVOffsetT + n*flatbuffers.SizeVOffsetT)
}

// Pos returns the absolute position of the table
func (t Table) Pos() int {
	return int(t.tab.Pos)
}

// Bytes returns the underlying buffer
func (t Table) Bytes() []byte {
	return t.tab.Bytes
}

// NumFields returns how many field slots the table's vtable declares
func (t Table) NumFields() int {
	vtable := flatbuffers.UOffsetT(flatbuffers.SOffsetT(t.tab.Pos) - t.tab.GetSOffsetT(t.tab.Pos))
	size := int(t.tab.GetVOffsetT(vtable))
	return (size - flatbuffers.VtableMetadataFields*flatbuffers.SizeVOffsetT) / flatbuffers.SizeVOffsetT
}

// field returns the absolute position of field n, or 0 if absent
func (t Table) field(n int) flatbuffers.UOffsetT {
	o := flatbuffers.UOffsetT(t.tab.Offset(Slot(n)))
	if o == 0 {
		return 0
	}
	return o + t.tab.Pos
}

// Has reports whether field n is present
func (t Table) Has(n int) bool {
	return t.field(n) != 0
}

// Target returns the absolute position an offset field points to, or 0
func (t Table) Target(n int) int {
	o := t.field(n)
	if o == 0 {
		return 0
	}
	return int(t.tab.Indirect(o))
}

// String reads a string field
func (t Table) String(n int) string {
	o := t.field(n)
	if o == 0 {
		return ""
	}
	return string(t.tab.ByteVector(o))
}

// Byte reads a byte or enum field
func (t Table) Byte(n int, def byte) byte {
	o := t.field(n)
	if o == 0 {
		return def
	}
	return t.tab.GetByte(o)
}

// Int8 reads an int8 or signed enum field
func (t Table) Int8(n int, def int8) int8 {
	o := t.field(n)
	if o == 0 {
		return def
	}
	return t.tab.GetInt8(o)
}

// Uint32 reads a uint32 field
func (t Table) Uint32(n int, def uint32) uint32 {
	o := t.field(n)
	if o == 0 {
		return def
	}
	return t.tab.GetUint32(o)
}

// Uint64 reads a uint64 field
func (t Table) Uint64(n int, def uint64) uint64 {
	o := t.field(n)
	if o == 0 {
		return def
	}
	return t.tab.GetUint64(o)
}

// Table reads a sub-table field
func (t Table) Table(n int) (Table, bool) {
	o := t.field(n)
	if o == 0 {
		return Table{}, false
	}
	return Table{tab: flatbuffers.Table{Bytes: t.tab.Bytes, Pos: t.tab.Indirect(o)}}, true
}

// Union reads the value of a union whose value field is n
func (t Table) Union(n int) (Table, bool) {
	o := t.field(n)
	if o == 0 {
		return Table{}, false
	}
	return Table{tab: flatbuffers.Table{Bytes: t.tab.Bytes, Pos: o + t.tab.GetUOffsetT(o)}}, true
}

// Len returns the length of a vector field
func (t Table) Len(n int) int {
	o := t.field(n)
	if o == 0 {
		return 0
	}
	return t.tab.VectorLen(o - t.tab.Pos)
}

// vector returns the absolute position of the first element of vector n
func (t Table) vector(n int) flatbuffers.UOffsetT {
	return t.tab.Vector(t.field(n) - t.tab.Pos)
}

// TableAt returns element i of a vector of tables
func (t Table) TableAt(n, i int) Table {
	x := t.vector(n) + flatbuffers.UOffsetT(i*flatbuffers.SizeUOffsetT)
	return Table{tab: flatbuffers.Table{Bytes: t.tab.Bytes, Pos: t.tab.Indirect(x)}}
}

// Int32s reads an [int] field
func (t Table) Int32s(n int) []int32 {
	l := t.Len(n)
	if l == 0 {
		return nil
	}
	start := t.vector(n)
	out := make([]int32, l)
	for i := range out {
		out[i] = t.tab.GetInt32(start + flatbuffers.UOffsetT(i*flatbuffers.SizeInt32))
	}
	return out
}

// Float32s reads a [float] field
func (t Table) Float32s(n int) []float32 {
	l := t.Len(n)
	if l == 0 {
		return nil
	}
	start := t.vector(n)
	out := make([]float32, l)
	for i := range out {
		out[i] = t.tab.GetFloat32(start + flatbuffers.UOffsetT(i*flatbuffers.SizeFloat32))
	}
	return out
}

// ByteVector reads a [ubyte] field without copying
func (t Table) ByteVector(n int) []byte {
	o := t.field(n)
	if o == 0 {
		return nil
	}
	return t.tab.ByteVector(o)
}
