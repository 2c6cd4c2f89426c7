package metadata

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/litepack/litepack/internal/fbutil"
)

// Identifier is the file identifier of ModelMetadata flatbuffers
const Identifier = "M001"

// Field numbers (metadata_schema.fbs)
const (
	modelName = iota
	modelDescription
	modelVersion
	modelSubgraphMetadata
	modelAuthor
	modelLicense
	modelAssociatedFiles
	modelMinParserVersion
	modelNumFields
)

const (
	subgraphName = iota
	subgraphDescription
	subgraphInputTensors
	subgraphOutputTensors
	subgraphAssociatedFiles
	subgraphNumFields = 7
)

const (
	tensorName = iota
	tensorDescription
	tensorDimensionNames
	tensorContent
	tensorProcessUnits
	tensorStats
	tensorAssociatedFiles
	tensorNumFields
)

const (
	contentPropertiesType = 0
	contentProperties     = 1
	contentNumFields      = 3

	imageColorSpace    = 0
	imageNumFields     = 2
	featureNumFields   = 0
	processOptionsType = 0
	processOptions     = 1

	normalizationMean = 0
	normalizationStd  = 1

	statsMax = 0
	statsMin = 1

	fileName        = 0
	fileDescription = 1
	fileType        = 2
	fileLocale      = 3
	fileNumFields   = 5
)

// Union and enum values
const (
	contentFeature byte = 1
	contentImage   byte = 2

	processNormalization byte = 1

	colorSpaceRGB byte = 1
)

// ContentKind describes what a tensor carries
type ContentKind int

const (
	ContentUnknown ContentKind = iota
	ContentFeature
	ContentImage
)

func (k ContentKind) String() string {
	switch k {
	case ContentFeature:
		return "feature"
	case ContentImage:
		return "image"
	default:
		return "unknown"
	}
}

// FileType mirrors AssociatedFileType
type FileType byte

const (
	FileUnknown           FileType = 0
	FileDescriptions      FileType = 1
	FileTensorAxisLabels  FileType = 2
	FileTensorValueLabels FileType = 3
	FileVocabulary        FileType = 5
)

func (f FileType) String() string {
	switch f {
	case FileDescriptions:
		return "DESCRIPTIONS"
	case FileTensorAxisLabels:
		return "TENSOR_AXIS_LABELS"
	case FileTensorValueLabels:
		return "TENSOR_VALUE_LABELS"
	case FileVocabulary:
		return "VOCABULARY"
	default:
		return "UNKNOWN"
	}
}

// ModelInfo is the metadata of a single-subgraph model
type ModelInfo struct {
	Name             string       `json:"name"`
	Description      string       `json:"description,omitempty"`
	Version          string       `json:"version,omitempty"`
	Author           string       `json:"author,omitempty"`
	License          string       `json:"license,omitempty"`
	MinParserVersion string       `json:"min_parser_version,omitempty"`
	Inputs           []TensorInfo `json:"inputs"`
	Outputs          []TensorInfo `json:"outputs"`
}

// TensorInfo is the metadata of one input or output tensor
type TensorInfo struct {
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Content         ContentKind      `json:"-"`
	ContentName     string           `json:"content"`
	RGB             bool             `json:"rgb,omitempty"`
	Mean            []float32        `json:"mean,omitempty"`
	Std             []float32        `json:"std,omitempty"`
	Min             []float32        `json:"min,omitempty"`
	Max             []float32        `json:"max,omitempty"`
	AssociatedFiles []AssociatedFile `json:"associated_files,omitempty"`
}

// AssociatedFile describes a file embedded next to the model
type AssociatedFile struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        FileType `json:"-"`
	TypeName    string   `json:"type"`
	Locale      string   `json:"locale,omitempty"`
}

// Encode serializes info as a ModelMetadata flatbuffer
func Encode(info *ModelInfo) []byte {
	b := flatbuffers.NewBuilder(1024)

	inputs := tensorVector(b, info.Inputs)
	outputs := tensorVector(b, info.Outputs)

	b.StartObject(subgraphNumFields)
	b.PrependUOffsetTSlot(subgraphInputTensors, inputs, 0)
	b.PrependUOffsetTSlot(subgraphOutputTensors, outputs, 0)
	subgraph := b.EndObject()
	subgraphs := offsetVector(b, []flatbuffers.UOffsetT{subgraph})

	name := optionalString(b, info.Name)
	desc := optionalString(b, info.Description)
	version := optionalString(b, info.Version)
	author := optionalString(b, info.Author)
	license := optionalString(b, info.License)
	minParser := optionalString(b, info.MinParserVersion)

	b.StartObject(modelNumFields)
	prependOptional(b, modelName, name)
	prependOptional(b, modelDescription, desc)
	prependOptional(b, modelVersion, version)
	b.PrependUOffsetTSlot(modelSubgraphMetadata, subgraphs, 0)
	prependOptional(b, modelAuthor, author)
	prependOptional(b, modelLicense, license)
	prependOptional(b, modelMinParserVersion, minParser)
	root := b.EndObject()

	b.FinishWithFileIdentifier(root, []byte(Identifier))
	return b.FinishedBytes()
}

func tensorVector(b *flatbuffers.Builder, tensors []TensorInfo) flatbuffers.UOffsetT {
	offs := make([]flatbuffers.UOffsetT, len(tensors))
	for i := range tensors {
		offs[i] = encodeTensor(b, &tensors[i])
	}
	return offsetVector(b, offs)
}

func encodeTensor(b *flatbuffers.Builder, t *TensorInfo) flatbuffers.UOffsetT {
	name := optionalString(b, t.Name)
	desc := optionalString(b, t.Description)

	// content
	var propsType byte
	var props flatbuffers.UOffsetT
	switch t.Content {
	case ContentImage:
		b.StartObject(imageNumFields)
		if t.RGB {
			b.PrependByteSlot(imageColorSpace, colorSpaceRGB, 0)
		}
		props = b.EndObject()
		propsType = contentImage
	case ContentFeature:
		b.StartObject(featureNumFields)
		props = b.EndObject()
		propsType = contentFeature
	}
	var content flatbuffers.UOffsetT
	if propsType != 0 {
		b.StartObject(contentNumFields)
		b.PrependByteSlot(contentPropertiesType, propsType, 0)
		b.PrependUOffsetTSlot(contentProperties, props, 0)
		content = b.EndObject()
	}

	// normalization process unit
	var units flatbuffers.UOffsetT
	if len(t.Mean) > 0 || len(t.Std) > 0 {
		mean := floatVector(b, t.Mean)
		std := floatVector(b, t.Std)
		b.StartObject(2)
		b.PrependUOffsetTSlot(normalizationMean, mean, 0)
		b.PrependUOffsetTSlot(normalizationStd, std, 0)
		norm := b.EndObject()

		b.StartObject(2)
		b.PrependByteSlot(processOptionsType, processNormalization, 0)
		b.PrependUOffsetTSlot(processOptions, norm, 0)
		unit := b.EndObject()
		units = offsetVector(b, []flatbuffers.UOffsetT{unit})
	}

	var stats flatbuffers.UOffsetT
	if len(t.Min) > 0 || len(t.Max) > 0 {
		maxVec := floatVector(b, t.Max)
		minVec := floatVector(b, t.Min)
		b.StartObject(2)
		prependOptional(b, statsMax, maxVec)
		prependOptional(b, statsMin, minVec)
		stats = b.EndObject()
	}

	var files flatbuffers.UOffsetT
	if len(t.AssociatedFiles) > 0 {
		offs := make([]flatbuffers.UOffsetT, len(t.AssociatedFiles))
		for i, f := range t.AssociatedFiles {
			offs[i] = encodeFile(b, f)
		}
		files = offsetVector(b, offs)
	}

	b.StartObject(tensorNumFields)
	prependOptional(b, tensorName, name)
	prependOptional(b, tensorDescription, desc)
	prependOptional(b, tensorContent, content)
	prependOptional(b, tensorProcessUnits, units)
	prependOptional(b, tensorStats, stats)
	prependOptional(b, tensorAssociatedFiles, files)
	return b.EndObject()
}

func encodeFile(b *flatbuffers.Builder, f AssociatedFile) flatbuffers.UOffsetT {
	name := optionalString(b, f.Name)
	desc := optionalString(b, f.Description)
	locale := optionalString(b, f.Locale)

	b.StartObject(fileNumFields)
	prependOptional(b, fileName, name)
	prependOptional(b, fileDescription, desc)
	b.PrependByteSlot(fileType, byte(f.Type), 0)
	prependOptional(b, fileLocale, locale)
	return b.EndObject()
}

func optionalString(b *flatbuffers.Builder, s string) flatbuffers.UOffsetT {
	if s == "" {
		return 0
	}
	return b.CreateString(s)
}

// prependOptional writes an offset field unless it is absent
func prependOptional(b *flatbuffers.Builder, slot int, off flatbuffers.UOffsetT) {
	if off != 0 {
		b.PrependUOffsetTSlot(slot, off, 0)
	}
}

func offsetVector(b *flatbuffers.Builder, offs []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	b.StartVector(flatbuffers.SizeUOffsetT, len(offs), flatbuffers.SizeUOffsetT)
	for i := len(offs) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offs[i])
	}
	return b.EndVector(len(offs))
}

func floatVector(b *flatbuffers.Builder, v []float32) flatbuffers.UOffsetT {
	if len(v) == 0 {
		return 0
	}
	b.StartVector(flatbuffers.SizeFloat32, len(v), flatbuffers.SizeFloat32)
	for i := len(v) - 1; i >= 0; i-- {
		b.PrependFloat32(v[i])
	}
	return b.EndVector(len(v))
}

// Decode parses a ModelMetadata flatbuffer. Only the first subgraph is read.
func Decode(buf []byte) (info *ModelInfo, err error) {
	defer fbutil.Guard(&err)

	root, err := fbutil.Root(buf, Identifier)
	if err != nil {
		return nil, fmt.Errorf("invalid model metadata: %w", err)
	}

	info = &ModelInfo{
		Name:             root.String(modelName),
		Description:      root.String(modelDescription),
		Version:          root.String(modelVersion),
		Author:           root.String(modelAuthor),
		License:          root.String(modelLicense),
		MinParserVersion: root.String(modelMinParserVersion),
	}

	if root.Len(modelSubgraphMetadata) > 0 {
		sg := root.TableAt(modelSubgraphMetadata, 0)
		for i := 0; i < sg.Len(subgraphInputTensors); i++ {
			info.Inputs = append(info.Inputs, decodeTensor(sg.TableAt(subgraphInputTensors, i)))
		}
		for i := 0; i < sg.Len(subgraphOutputTensors); i++ {
			info.Outputs = append(info.Outputs, decodeTensor(sg.TableAt(subgraphOutputTensors, i)))
		}
	}

	return info, nil
}

func decodeTensor(t fbutil.Table) TensorInfo {
	info := TensorInfo{
		Name:        t.String(tensorName),
		Description: t.String(tensorDescription),
	}

	if content, ok := t.Table(tensorContent); ok {
		props, hasProps := content.Union(contentProperties)
		switch content.Byte(contentPropertiesType, 0) {
		case contentImage:
			info.Content = ContentImage
			info.RGB = hasProps && props.Byte(imageColorSpace, 0) == colorSpaceRGB
		case contentFeature:
			info.Content = ContentFeature
		}
	}
	info.ContentName = info.Content.String()

	for i := 0; i < t.Len(tensorProcessUnits); i++ {
		unit := t.TableAt(tensorProcessUnits, i)
		if unit.Byte(processOptionsType, 0) != processNormalization {
			continue
		}
		if opts, ok := unit.Union(processOptions); ok {
			info.Mean = opts.Float32s(normalizationMean)
			info.Std = opts.Float32s(normalizationStd)
		}
	}

	if stats, ok := t.Table(tensorStats); ok {
		info.Max = stats.Float32s(statsMax)
		info.Min = stats.Float32s(statsMin)
	}

	for i := 0; i < t.Len(tensorAssociatedFiles); i++ {
		f := t.TableAt(tensorAssociatedFiles, i)
		typ := FileType(f.Byte(fileType, 0))
		info.AssociatedFiles = append(info.AssociatedFiles, AssociatedFile{
			Name:        f.String(fileName),
			Description: f.String(fileDescription),
			Type:        typ,
			TypeName:    typ.String(),
			Locale:      f.String(fileLocale),
		})
	}

	return info
}
