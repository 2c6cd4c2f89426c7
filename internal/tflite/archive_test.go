package tflite

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litepack/litepack/internal/tflite/tflitetest"
)

func TestAppendAssociatedFiles(t *testing.T) {
	model := tflitetest.Classifier(3)
	labels := []byte("apple\nbanana\ncherry\n")

	var buf bytes.Buffer
	err := AppendAssociatedFiles(&buf, model, []AssociatedFile{{Name: "labels.txt", Data: labels}})
	require.NoError(t, err)

	out := buf.Bytes()
	assert.True(t, bytes.HasPrefix(out, model))

	// still a readable model
	m, err := ReadModel(out)
	require.NoError(t, err)
	assert.Len(t, m.Subgraphs, 1)

	got, err := ReadAssociatedFile(out, "labels.txt")
	require.NoError(t, err)
	assert.Equal(t, labels, got)

	_, err = ReadAssociatedFile(out, "missing.txt")
	assert.Error(t, err)
}

func TestAppendAssociatedFilesDeterministic(t *testing.T) {
	model := tflitetest.Classifier(2)
	files := []AssociatedFile{{Name: "labels.txt", Data: []byte("a\nb\n")}}

	var first, second bytes.Buffer
	require.NoError(t, AppendAssociatedFiles(&first, model, files))
	require.NoError(t, AppendAssociatedFiles(&second, model, files))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestSplitAssociatedFiles(t *testing.T) {
	model := tflitetest.Classifier(3)

	tests := []struct {
		name  string
		files []AssociatedFile
	}{
		{name: "no archive"},
		{name: "one file", files: []AssociatedFile{{Name: "labels.txt", Data: []byte("x\ny\nz\n")}}},
		{name: "two files", files: []AssociatedFile{
			{Name: "labels.txt", Data: []byte("x\ny\nz\n")},
			{Name: "labels_fr.txt", Data: []byte("ex\ni grec\nzed\n")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, AppendAssociatedFiles(&buf, model, tt.files))

			fb, archive := SplitAssociatedFiles(buf.Bytes())
			assert.Equal(t, model, fb)
			if len(tt.files) == 0 {
				assert.Nil(t, archive)
			} else {
				assert.NotEmpty(t, archive)
			}
		})
	}
}

func TestReadAssociatedFileWithoutArchive(t *testing.T) {
	_, err := ReadAssociatedFile(tflitetest.Classifier(2), "labels.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no associated files")
}
