package tflite

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/litepack/litepack/internal/fbutil"
)

// bufferAlign is the force_align of Buffer.data in schema.fbs
const bufferAlign = 16

// AttachMetadata returns a copy of model carrying data as a new buffer that
// is referenced by a metadata entry called name. An existing entry with the
// same name is replaced. model must be the bare flatbuffer, without an
// appended archive.
//
// Flatbuffer offsets only point forward, so the new root table, the
// extended buffers and metadata vectors and the new buffer are written in
// front of the original bytes. The original block is moved by a multiple of
// bufferAlign and its internal offsets stay valid; its old root table is
// left unreferenced.
func AttachMetadata(model []byte, name string, data []byte) (out []byte, err error) {
	defer fbutil.Guard(&err)

	if !fbutil.HasIdentifier(model, Identifier) {
		return nil, ErrNotTFLite
	}
	root, err := fbutil.Root(model, Identifier)
	if err != nil {
		return nil, err
	}
	for f := modelNumFields; f < root.NumFields(); f++ {
		if root.Has(f) {
			return nil, fmt.Errorf("%w: unknown model field %d", ErrUnsupported, f)
		}
	}

	numBuffers := root.Len(modelBuffers)
	oldBuffers := make([]int, numBuffers)
	for i := range oldBuffers {
		b := root.TableAt(modelBuffers, i)
		if b.Uint64(bufferOffset, 0) > 1 {
			return nil, fmt.Errorf("%w: buffer %d is stored outside the flatbuffer", ErrUnsupported, i)
		}
		oldBuffers[i] = b.Pos()
	}

	var oldMetadata []int
	for i := 0; i < root.Len(modelMetadata); i++ {
		entry := root.TableAt(modelMetadata, i)
		if entry.String(metadataName) == name {
			continue
		}
		oldMetadata = append(oldMetadata, entry.Pos())
	}

	w := &frontWriter{}

	rootRef := w.uint32(0)
	w.buf = append(w.buf, Identifier...)

	// Model table: every slot is reserved, absent ones are left out of the vtable.
	present := map[int]bool{modelBuffers: true, modelMetadata: true}
	for _, f := range []int{modelVersion, modelOperatorCodes, modelSubgraphs, modelDescription, modelMetadataBuffer, modelSignatureDefs} {
		present[f] = root.Has(f)
	}
	vtPos := len(w.buf)
	w.uint16(uint16(flatbuffers.SizeVOffsetT * (flatbuffers.VtableMetadataFields + modelNumFields)))
	w.uint16(uint16(flatbuffers.SizeSOffsetT + modelNumFields*flatbuffers.SizeUOffsetT))
	for f := 0; f < modelNumFields; f++ {
		if present[f] {
			w.uint16(uint16(flatbuffers.SizeSOffsetT + f*flatbuffers.SizeUOffsetT))
		} else {
			w.uint16(0)
		}
	}

	w.pad(flatbuffers.SizeUOffsetT)
	modelPos := w.table(vtPos)
	w.patch(rootRef, modelPos)

	slots := make([]int, modelNumFields)
	for f := range slots {
		slots[f] = w.uint32(0)
	}
	if present[modelVersion] {
		flatbuffers.WriteUint32(w.buf[slots[modelVersion]:], root.Uint32(modelVersion, 0))
	}
	for _, f := range []int{modelOperatorCodes, modelSubgraphs, modelDescription, modelMetadataBuffer, modelSignatureDefs} {
		if present[f] {
			w.refOld(slots[f], root.Target(f))
		}
	}

	w.patch(slots[modelBuffers], len(w.buf))
	w.uint32(uint32(numBuffers + 1))
	for _, pos := range oldBuffers {
		w.refOld(w.uint32(0), pos)
	}
	newBufferRef := w.uint32(0)

	w.patch(slots[modelMetadata], len(w.buf))
	w.uint32(uint32(len(oldMetadata) + 1))
	for _, pos := range oldMetadata {
		w.refOld(w.uint32(0), pos)
	}
	newEntryRef := w.uint32(0)

	// Metadata { name:string; buffer:uint; }
	entryVT := len(w.buf)
	w.uint16(8)
	w.uint16(12)
	w.uint16(4)
	w.uint16(8)
	entryPos := w.table(entryVT)
	w.patch(newEntryRef, entryPos)
	nameRef := w.uint32(0)
	w.uint32(uint32(numBuffers))

	w.patch(nameRef, len(w.buf))
	w.uint32(uint32(len(name)))
	w.buf = append(w.buf, name...)
	w.buf = append(w.buf, 0)

	// Buffer { data:[ubyte]; }
	w.pad(flatbuffers.SizeVOffsetT)
	bufferVT := len(w.buf)
	w.uint16(6)
	w.uint16(8)
	w.uint16(4)
	w.pad(flatbuffers.SizeUOffsetT)
	bufferPos := w.table(bufferVT)
	w.patch(newBufferRef, bufferPos)
	dataRef := w.uint32(0)

	for (len(w.buf)+flatbuffers.SizeUOffsetT)%bufferAlign != 0 {
		w.buf = append(w.buf, 0)
	}
	w.patch(dataRef, len(w.buf))
	w.uint32(uint32(len(data)))
	w.buf = append(w.buf, data...)

	w.pad(bufferAlign)
	shift := len(w.buf)
	for _, fx := range w.old {
		w.patch(fx.at, shift+fx.target)
	}

	out = make([]byte, 0, shift+len(model))
	out = append(out, w.buf...)
	return append(out, model...), nil
}

type fixup struct {
	at     int
	target int
}

// frontWriter lays out flatbuffer objects front to back
type frontWriter struct {
	buf []byte
	old []fixup
}

func (w *frontWriter) grow(n int) int {
	pos := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return pos
}

func (w *frontWriter) pad(align int) {
	for len(w.buf)%align != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *frontWriter) uint16(v uint16) {
	flatbuffers.WriteUint16(w.buf[w.grow(flatbuffers.SizeUint16):], v)
}

func (w *frontWriter) uint32(v uint32) int {
	pos := w.grow(flatbuffers.SizeUint32)
	flatbuffers.WriteUint32(w.buf[pos:], v)
	return pos
}

// table starts a table whose vtable is at vtPos and returns its position
func (w *frontWriter) table(vtPos int) int {
	pos := w.grow(flatbuffers.SizeSOffsetT)
	flatbuffers.WriteSOffsetT(w.buf[pos:], flatbuffers.SOffsetT(pos-vtPos))
	return pos
}

// patch stores at position at the forward offset to target
func (w *frontWriter) patch(at, target int) {
	flatbuffers.WriteUOffsetT(w.buf[at:], flatbuffers.UOffsetT(target-at))
}

// refOld records an offset to a position inside the original model
func (w *frontWriter) refOld(at, target int) {
	w.old = append(w.old, fixup{at: at, target: target})
}
