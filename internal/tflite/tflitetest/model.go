// Package tflitetest builds small TFLite model flatbuffers for tests.
package tflitetest

import (
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Options describes the classifier to build
type Options struct {
	InputType  int8
	InputShape []int32
	NumClasses int
	Outputs    int // number of output tensors, default 1

	// Metadata adds entries to Model.metadata, each backed by its own buffer
	Metadata map[string][]byte

	// DanglingMetadata adds an entry with this name whose buffer index is
	// out of range
	DanglingMetadata string
}

// Classifier returns a float32 224x224 RGB classifier with numClasses outputs
func Classifier(numClasses int) []byte {
	return Build(Options{NumClasses: numClasses})
}

// Build serializes a single-subgraph model. It has no operators, which is
// enough for everything that only inspects tensors, buffers and metadata.
func Build(o Options) []byte {
	if len(o.InputShape) == 0 {
		o.InputShape = []int32{1, 224, 224, 3}
	}
	if o.Outputs == 0 {
		o.Outputs = 1
	}

	b := flatbuffers.NewBuilder(1024)

	var tensors []flatbuffers.UOffsetT
	tensors = append(tensors, tensor(b, "serving_default_input:0", o.InputType, o.InputShape, 1))
	var outputs []int32
	for i := 0; i < o.Outputs; i++ {
		tensors = append(tensors, tensor(b, "StatefulPartitionedCall:0", 0, []int32{1, int32(o.NumClasses)}, uint32(2+i)))
		outputs = append(outputs, int32(1+i))
	}

	tensorVec := offsets(b, tensors)
	inputVec := int32s(b, []int32{0})
	outputVec := int32s(b, outputs)
	sgName := b.CreateString("main")

	b.StartObject(5)
	b.PrependUOffsetTSlot(0, tensorVec, 0)
	b.PrependUOffsetTSlot(1, inputVec, 0)
	b.PrependUOffsetTSlot(2, outputVec, 0)
	b.PrependUOffsetTSlot(4, sgName, 0)
	subgraph := b.EndObject()
	subgraphVec := offsets(b, []flatbuffers.UOffsetT{subgraph})

	// buffer 0 is the empty sentinel, one per tensor, then a weights buffer
	var buffers []flatbuffers.UOffsetT
	for i := 0; i < 1+len(tensors); i++ {
		buffers = append(buffers, buffer(b, nil))
	}
	buffers = append(buffers, buffer(b, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}))

	var entries []flatbuffers.UOffsetT
	for _, name := range sortedKeys(o.Metadata) {
		idx := uint32(len(buffers))
		buffers = append(buffers, buffer(b, o.Metadata[name]))
		n := b.CreateString(name)
		b.StartObject(2)
		b.PrependUOffsetTSlot(0, n, 0)
		b.PrependUint32Slot(1, idx, 0)
		entries = append(entries, b.EndObject())
	}

	if o.DanglingMetadata != "" {
		n := b.CreateString(o.DanglingMetadata)
		b.StartObject(2)
		b.PrependUOffsetTSlot(0, n, 0)
		b.PrependUint32Slot(1, uint32(len(buffers)+10), 0)
		entries = append(entries, b.EndObject())
	}

	bufferVec := offsets(b, buffers)
	var metadataVec flatbuffers.UOffsetT
	if len(entries) > 0 {
		metadataVec = offsets(b, entries)
	}
	desc := b.CreateString("MLIR Converted.")

	b.StartObject(8)
	b.PrependUint32Slot(0, 3, 0)
	b.PrependUOffsetTSlot(2, subgraphVec, 0)
	b.PrependUOffsetTSlot(3, desc, 0)
	b.PrependUOffsetTSlot(4, bufferVec, 0)
	if metadataVec != 0 {
		b.PrependUOffsetTSlot(6, metadataVec, 0)
	}
	model := b.EndObject()

	b.FinishWithFileIdentifier(model, []byte("TFL3"))
	return b.FinishedBytes()
}

func tensor(b *flatbuffers.Builder, name string, typ int8, shape []int32, buf uint32) flatbuffers.UOffsetT {
	n := b.CreateString(name)
	s := int32s(b, shape)
	b.StartObject(4)
	b.PrependUOffsetTSlot(0, s, 0)
	b.PrependInt8Slot(1, typ, 0)
	b.PrependUint32Slot(2, buf, 0)
	b.PrependUOffsetTSlot(3, n, 0)
	return b.EndObject()
}

func buffer(b *flatbuffers.Builder, data []byte) flatbuffers.UOffsetT {
	var vec flatbuffers.UOffsetT
	if data != nil {
		b.StartVector(1, len(data), 16)
		for i := len(data) - 1; i >= 0; i-- {
			b.PrependByte(data[i])
		}
		vec = b.EndVector(len(data))
	}
	b.StartObject(3)
	if vec != 0 {
		b.PrependUOffsetTSlot(0, vec, 0)
	}
	return b.EndObject()
}

func int32s(b *flatbuffers.Builder, v []int32) flatbuffers.UOffsetT {
	b.StartVector(4, len(v), 4)
	for i := len(v) - 1; i >= 0; i-- {
		b.PrependInt32(v[i])
	}
	return b.EndVector(len(v))
}

func offsets(b *flatbuffers.Builder, v []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	b.StartVector(4, len(v), 4)
	for i := len(v) - 1; i >= 0; i-- {
		b.PrependUOffsetT(v[i])
	}
	return b.EndVector(len(v))
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
