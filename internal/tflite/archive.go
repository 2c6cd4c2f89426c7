package tflite

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	localHeaderSignature = 0x04034b50
	localHeaderLen       = 30
)

// archiveTime is stamped on every embedded file so output is reproducible
var archiveTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// AssociatedFile is a file embedded after the model flatbuffer
type AssociatedFile struct {
	Name string
	Data []byte
}

// AppendAssociatedFiles writes model followed by a zip archive holding files.
// Archive offsets are relative to the start of the output, so the result is
// both a valid model and a valid zip file.
func AppendAssociatedFiles(w io.Writer, model []byte, files []AssociatedFile) error {
	if _, err := w.Write(model); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	zw := zip.NewWriter(w)
	zw.SetOffset(int64(len(model)))
	for _, f := range files {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Store,
			Modified: archiveTime,
		})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// SplitAssociatedFiles separates the model flatbuffer from an appended
// archive. Files without an archive are returned unchanged.
func SplitAssociatedFiles(file []byte) (model []byte, archive []byte) {
	r, err := zip.NewReader(bytes.NewReader(file), int64(len(file)))
	if err != nil || len(r.File) == 0 {
		return file, nil
	}

	start := len(file)
	for _, f := range r.File {
		off, err := f.DataOffset()
		if err != nil {
			continue
		}
		if hdr := localHeaderStart(file, int(off), f.Name); hdr >= 0 && hdr < start {
			start = hdr
		}
	}
	if start == len(file) {
		return file, nil
	}
	return file[:start], file[start:]
}

// localHeaderStart finds the local file header for the entry whose data
// begins at dataOff. The header's extra field length is unknown, so candidate
// positions are checked from the shortest extra field upwards.
func localHeaderStart(file []byte, dataOff int, name string) int {
	base := dataOff - localHeaderLen - len(name)
	for extra := 0; extra <= 0xffff; extra++ {
		pos := base - extra
		if pos < 0 {
			return -1
		}
		if binary.LittleEndian.Uint32(file[pos:]) != localHeaderSignature {
			continue
		}
		nameLen := int(binary.LittleEndian.Uint16(file[pos+26:]))
		extraLen := int(binary.LittleEndian.Uint16(file[pos+28:]))
		if nameLen == len(name) && extraLen == extra && string(file[pos+localHeaderLen:pos+localHeaderLen+nameLen]) == name {
			return pos
		}
	}
	return -1
}

// ReadAssociatedFile returns the content of an embedded file
func ReadAssociatedFile(file []byte, name string) ([]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(file), int64(len(file)))
	if err != nil {
		return nil, fmt.Errorf("model has no associated files: %w", err)
	}
	f, err := r.Open(name)
	if err != nil {
		return nil, fmt.Errorf("associated file %s: %w", name, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}
