// Package tflite reads and patches TensorFlow Lite model flatbuffers.
package tflite

import (
	"errors"
	"fmt"

	"github.com/litepack/litepack/internal/fbutil"
)

// Identifier is the file identifier of TFLite model flatbuffers
const Identifier = "TFL3"

// MetadataName is the metadata entry name TFLite runtimes look up
const MetadataName = "TFLITE_METADATA"

var (
	ErrNotTFLite      = errors.New("not a TFLite model")
	ErrMalformedModel = fbutil.ErrMalformed
	ErrUnsupported    = errors.New("unsupported model layout")
)

// Model field numbers (schema.fbs)
const (
	modelVersion = iota
	modelOperatorCodes
	modelSubgraphs
	modelDescription
	modelBuffers
	modelMetadataBuffer
	modelMetadata
	modelSignatureDefs
	modelNumFields
)

const (
	subgraphTensors = 0
	subgraphInputs  = 1
	subgraphOutputs = 2
	subgraphName    = 4
)

const (
	tensorShape  = 0
	tensorType   = 1
	tensorBuffer = 2
	tensorName   = 3
)

const (
	bufferData   = 0
	bufferOffset = 1
	bufferSize   = 2
)

const (
	metadataName   = 0
	metadataBuffer = 1
)

// TensorType mirrors the schema enum for the types this package reports
type TensorType int8

const (
	Float32 TensorType = 0
	Float16 TensorType = 1
	Int32   TensorType = 2
	Uint8   TensorType = 3
	Int64   TensorType = 4
	Bool    TensorType = 6
	Int16   TensorType = 7
	Int8    TensorType = 9
)

func (t TensorType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	case Int16:
		return "int16"
	case Int8:
		return "int8"
	default:
		return fmt.Sprintf("type(%d)", int8(t))
	}
}

// Tensor describes a subgraph input or output
type Tensor struct {
	Name   string
	Type   TensorType
	Shape  []int32
	Buffer uint32
}

// Channels returns the size of the last dimension, or 0 if unknown
func (t Tensor) Channels() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return int(t.Shape[len(t.Shape)-1])
}

// Subgraph lists the tensors a subgraph exposes
type Subgraph struct {
	Name    string
	Inputs  []Tensor
	Outputs []Tensor
}

// MetadataEntry is a named reference into the model's buffers
type MetadataEntry struct {
	Name   string
	Buffer uint32
}

// Model is a read-only view of a TFLite flatbuffer
type Model struct {
	Version     uint32
	Description string
	Subgraphs   []Subgraph
	Metadata    []MetadataEntry

	root    fbutil.Table
	buffers int
}

// ReadModel decodes the parts of a model this tool works with. buf may carry
// an appended zip of associated files.
func ReadModel(buf []byte) (m *Model, err error) {
	defer fbutil.Guard(&err)

	if !fbutil.HasIdentifier(buf, Identifier) {
		return nil, ErrNotTFLite
	}
	root, err := fbutil.Root(buf, Identifier)
	if err != nil {
		return nil, err
	}

	m = &Model{
		Version:     root.Uint32(modelVersion, 0),
		Description: root.String(modelDescription),
		root:        root,
		buffers:     root.Len(modelBuffers),
	}

	for i := 0; i < root.Len(modelSubgraphs); i++ {
		m.Subgraphs = append(m.Subgraphs, readSubgraph(root.TableAt(modelSubgraphs, i)))
	}

	for i := 0; i < root.Len(modelMetadata); i++ {
		entry := root.TableAt(modelMetadata, i)
		m.Metadata = append(m.Metadata, MetadataEntry{
			Name:   entry.String(metadataName),
			Buffer: entry.Uint32(metadataBuffer, 0),
		})
	}

	return m, nil
}

func readSubgraph(sg fbutil.Table) Subgraph {
	var tensors []fbutil.Table
	for i := 0; i < sg.Len(subgraphTensors); i++ {
		tensors = append(tensors, sg.TableAt(subgraphTensors, i))
	}

	pick := func(indices []int32) []Tensor {
		var out []Tensor
		for _, idx := range indices {
			if idx < 0 || int(idx) >= len(tensors) {
				panic(fmt.Sprintf("tensor index %d out of range", idx))
			}
			t := tensors[idx]
			out = append(out, Tensor{
				Name:   t.String(tensorName),
				Type:   TensorType(t.Int8(tensorType, 0)),
				Shape:  t.Int32s(tensorShape),
				Buffer: t.Uint32(tensorBuffer, 0),
			})
		}
		return out
	}

	return Subgraph{
		Name:    sg.String(subgraphName),
		Inputs:  pick(sg.Int32s(subgraphInputs)),
		Outputs: pick(sg.Int32s(subgraphOutputs)),
	}
}

// NumBuffers returns the number of entries in the buffers vector
func (m *Model) NumBuffers() int {
	return m.buffers
}

// Buffer returns the inline data of buffer i
func (m *Model) Buffer(i uint32) (data []byte, err error) {
	defer fbutil.Guard(&err)

	if int(i) >= m.buffers {
		return nil, fmt.Errorf("%w: buffer %d out of range (%d buffers)", ErrMalformedModel, i, m.buffers)
	}
	b := m.root.TableAt(modelBuffers, int(i))
	if b.Uint64(bufferOffset, 0) > 1 {
		return nil, fmt.Errorf("%w: buffer %d is stored outside the flatbuffer", ErrUnsupported, i)
	}
	return b.ByteVector(bufferData), nil
}

// MetadataBuffer returns the data of the metadata entry called name
func (m *Model) MetadataBuffer(name string) ([]byte, bool, error) {
	for _, e := range m.Metadata {
		if e.Name == name {
			data, err := m.Buffer(e.Buffer)
			if err != nil {
				return nil, false, err
			}
			return data, true, nil
		}
	}
	return nil, false, nil
}
