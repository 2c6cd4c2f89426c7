package metadata

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litepack/litepack/internal/config"
	"github.com/litepack/litepack/internal/logging"
	"github.com/litepack/litepack/internal/pyexec"
	"github.com/litepack/litepack/internal/pyexec/pyexectest"
	"github.com/litepack/litepack/internal/storage"
	"github.com/litepack/litepack/internal/tflite"
	"github.com/litepack/litepack/internal/tflite/tflitetest"
	"github.com/litepack/litepack/internal/ui"
	"github.com/litepack/litepack/pkg/types"
)

func TestMain(m *testing.M) {
	ui.SetColor(false)
	os.Exit(m.Run())
}

var defaultNorm = types.Normalization{Mean: []float64{127.5}, Std: []float64{127.5}}

func setupWorkspace(t *testing.T, model, labels []byte) *storage.Paths {
	t.Helper()
	base := t.TempDir()
	paths := storage.NewPaths(&config.Config{
		Paths: config.PathsConfig{
			BaseDir:        base,
			SourceModelDir: filepath.Join(base, "saved_model"),
			CompactModel:   filepath.Join(base, "ml", "food_classifier.tflite"),
			LabelFile:      filepath.Join(base, "ml", "food_labels.txt"),
			AnnotatedModel: filepath.Join(base, "dist", "food_classifier_with_metadata.tflite"),
			Manifest:       filepath.Join(base, "dist", "manifest.json"),
		},
	})
	require.NoError(t, os.MkdirAll(filepath.Join(base, "ml"), 0755))
	if model != nil {
		require.NoError(t, os.WriteFile(paths.CompactModelPath(), model, 0644))
	}
	if labels != nil {
		require.NoError(t, os.WriteFile(paths.LabelFilePath(), labels, 0644))
	}
	return paths
}

func TestInjectorNative(t *testing.T) {
	model := tflitetest.Classifier(3)
	paths := setupWorkspace(t, model, foodLabels)

	var out bytes.Buffer
	inj := NewInjector(NewNativeBackend(nil), paths, Options{Normalization: defaultNorm, Out: &out})

	result, err := inj.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.StageInject, result.Stage)
	assert.Equal(t, "native", result.Backend)
	assert.Equal(t, paths.CompactModelPath(), result.InputPath)
	assert.Equal(t, paths.AnnotatedModelPath(), result.OutputPath)

	assert.Equal(t,
		"Injecting metadata...\n"+
			"Metadata created. Saving...\n"+
			"Success! Model with metadata saved to "+paths.AnnotatedModelPath()+"\n",
		out.String())

	annotated, err := os.ReadFile(paths.AnnotatedModelPath())
	require.NoError(t, err)
	assert.Equal(t, int64(len(annotated)), result.OutputSize)
	assert.GreaterOrEqual(t, len(annotated), len(model))

	// the compact model is never modified
	compact, err := os.ReadFile(paths.CompactModelPath())
	require.NoError(t, err)
	assert.Equal(t, model, compact)

	info, err := Read(annotated)
	require.NoError(t, err)
	labels, err := info.Labels(annotated)
	require.NoError(t, err)
	assert.Equal(t, []string{"apple_pie", "bibimbap", "ramen"}, labels)
	assert.Equal(t, "food_labels.txt", info.Outputs[0].AssociatedFiles[0].Name)
}

func TestInjectorNativeIdempotent(t *testing.T) {
	paths := setupWorkspace(t, tflitetest.Classifier(3), foodLabels)
	inj := NewInjector(NewNativeBackend(nil), paths, Options{Normalization: defaultNorm})

	_, err := inj.Run(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(paths.AnnotatedModelPath())
	require.NoError(t, err)

	_, err = inj.Run(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(paths.AnnotatedModelPath())
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first, second))
}

func TestInjectorFailures(t *testing.T) {
	tests := []struct {
		name     string
		model    []byte
		labels   []byte
		norm     types.Normalization
		wantKind types.ErrorKind
		wantErr  error
	}{
		{
			name:     "normalization unset",
			model:    tflitetest.Classifier(3),
			labels:   foodLabels,
			wantKind: types.KindInputInvalid,
			wantErr:  ErrNormalizationUnset,
		},
		{
			name:     "zero std",
			model:    tflitetest.Classifier(3),
			labels:   foodLabels,
			norm:     types.Normalization{Mean: []float64{0}, Std: []float64{0}},
			wantKind: types.KindInputInvalid,
			wantErr:  types.ErrInvalidNormalization,
		},
		{
			name:     "compact model missing",
			labels:   foodLabels,
			norm:     defaultNorm,
			wantKind: types.KindInputInvalid,
			wantErr:  ErrModelNotFound,
		},
		{
			name:     "label file missing",
			model:    tflitetest.Classifier(3),
			norm:     defaultNorm,
			wantKind: types.KindInputInvalid,
			wantErr:  os.ErrNotExist,
		},
		{
			name:     "empty label file",
			model:    tflitetest.Classifier(3),
			labels:   []byte{},
			norm:     defaultNorm,
			wantKind: types.KindInputInvalid,
			wantErr:  ErrNoLabels,
		},
		{
			name:     "compact model is not tflite",
			model:    []byte("PK garbage"),
			labels:   foodLabels,
			norm:     defaultNorm,
			wantKind: types.KindInputInvalid,
		},
		{
			name:     "multi output model",
			model:    tflitetest.Build(tflitetest.Options{NumClasses: 3, Outputs: 2}),
			labels:   foodLabels,
			norm:     defaultNorm,
			wantKind: types.KindInputInvalid,
			wantErr:  ErrUnsupportedModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := setupWorkspace(t, tt.model, tt.labels)

			var out bytes.Buffer
			inj := NewInjector(NewNativeBackend(nil), paths, Options{Normalization: tt.norm, Out: &out})

			_, err := inj.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, types.KindOf(err), "got %v", err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}

			assert.NoFileExists(t, paths.AnnotatedModelPath())
			assert.NotContains(t, out.String(), "Success!")
			assert.NotContains(t, out.String(), MissingDependencyMessage)
		})
	}
}

func TestInjectorTFLiteSupportMissing(t *testing.T) {
	paths := setupWorkspace(t, tflitetest.Classifier(3), foodLabels)

	backend, err := NewTFLiteSupportBackend(pyexectest.MissingModule(t, "tflite_support"), logging.Discard())
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = NewInjector(backend, paths, Options{Normalization: defaultNorm, Out: &out}).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, types.KindDependencyMissing, types.KindOf(err))
	assert.True(t, errors.Is(err, pyexec.ErrModuleMissing))
	assert.Equal(t, MissingDependencyMessage+"\n", out.String())
	assert.Equal(t, "tflite_support not found. Please run: pip install tflite-support", MissingDependencyMessage)
	assert.NoFileExists(t, paths.AnnotatedModelPath())

	entries, err := os.ReadDir(filepath.Dir(paths.AnnotatedModelPath()))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInjectorTFLiteSupportMissingWithoutLabels(t *testing.T) {
	paths := setupWorkspace(t, tflitetest.Classifier(3), nil)

	backend, err := NewTFLiteSupportBackend(pyexectest.MissingModule(t, "tflite_support"), logging.Discard())
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = NewInjector(backend, paths, Options{Normalization: defaultNorm, Out: &out}).Run(context.Background())
	require.Error(t, err)

	// the install instruction wins over the missing label file
	assert.Equal(t, types.KindDependencyMissing, types.KindOf(err))
	assert.Equal(t, MissingDependencyMessage+"\n", out.String())
	assert.NoFileExists(t, paths.AnnotatedModelPath())
}

func TestTFLiteSupportBackendCheck(t *testing.T) {
	fake := pyexectest.FakePython(t, pyexectest.PassImportCheck+`
exit 1`)
	backend, err := NewTFLiteSupportBackend(fake, logging.Discard())
	require.NoError(t, err)
	assert.NoError(t, backend.Check(context.Background()))

	backend, err = NewTFLiteSupportBackend(pyexectest.MissingModule(t, "tflite_support"), logging.Discard())
	require.NoError(t, err)
	assert.ErrorIs(t, backend.Check(context.Background()), pyexec.ErrModuleMissing)

	assert.NoError(t, NewNativeBackend(logging.Discard()).Check(context.Background()))
}

func TestInjectorTFLiteSupport(t *testing.T) {
	paths := setupWorkspace(t, tflitetest.Classifier(3), foodLabels)

	// stands in for tflite_support by annotating with the native writer ahead of time
	annotated, err := defaultWriter().Populate(tflitetest.Classifier(3), nil)
	require.NoError(t, err)
	prepared := filepath.Join(t.TempDir(), "annotated.tflite")
	require.NoError(t, os.WriteFile(prepared, annotated, 0644))

	args := filepath.Join(t.TempDir(), "args")
	fake := pyexectest.FakePython(t, pyexectest.PassImportCheck+`
shift 2
echo "$1 $2 $4 $5" > "`+args+`"
cp "`+prepared+`" "$3"`)

	backend, err := NewTFLiteSupportBackend(fake, logging.Discard())
	require.NoError(t, err)

	var out bytes.Buffer
	result, err := NewInjector(backend, paths, Options{Normalization: defaultNorm, Out: &out}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tflite-support", result.Backend)

	got, err := os.ReadFile(args)
	require.NoError(t, err)
	assert.Equal(t, paths.CompactModelPath()+" "+paths.LabelFilePath()+" [127.5] [127.5]", strings.TrimSpace(string(got)))

	written, err := os.ReadFile(paths.AnnotatedModelPath())
	require.NoError(t, err)
	assert.Equal(t, annotated, written)
	assert.Contains(t, out.String(), "Success! Model with metadata saved to")
}

func TestInjectorTFLiteSupportWritesNoMetadata(t *testing.T) {
	paths := setupWorkspace(t, tflitetest.Classifier(3), foodLabels)

	// a writer that silently copies the input
	fake := pyexectest.FakePython(t, pyexectest.PassImportCheck+`
shift 2
cp "$1" "$3"`)
	backend, err := NewTFLiteSupportBackend(fake, logging.Discard())
	require.NoError(t, err)

	_, err = NewInjector(backend, paths, Options{Normalization: defaultNorm}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindConversionFailure, types.KindOf(err))
	assert.Contains(t, err.Error(), "TFLITE_METADATA")
	assert.NoFileExists(t, paths.AnnotatedModelPath())
}

func TestInjectorTFLiteSupportError(t *testing.T) {
	paths := setupWorkspace(t, tflitetest.Classifier(3), foodLabels)

	fake := pyexectest.FakePython(t, pyexectest.PassImportCheck+`
echo "Traceback (most recent call last):" >&2
echo "ValueError: The number of output tensors (2) should match the number of label files" >&2
exit 1`)
	backend, err := NewTFLiteSupportBackend(fake, logging.Discard())
	require.NoError(t, err)

	_, err = NewInjector(backend, paths, Options{Normalization: defaultNorm}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindConversionFailure, types.KindOf(err))
	assert.Contains(t, err.Error(), "ValueError: The number of output tensors")
}

func TestInjectorTFLiteSupportUnreadableMetadata(t *testing.T) {
	paths := setupWorkspace(t, tflitetest.Classifier(3), foodLabels)

	broken := tflitetest.Build(tflitetest.Options{NumClasses: 3, DanglingMetadata: tflite.MetadataName})
	prepared := filepath.Join(t.TempDir(), "broken.tflite")
	require.NoError(t, os.WriteFile(prepared, broken, 0644))

	fake := pyexectest.FakePython(t, pyexectest.PassImportCheck+`
shift 2
cp "`+prepared+`" "$3"`)
	backend, err := NewTFLiteSupportBackend(fake, logging.Discard())
	require.NoError(t, err)

	_, err = NewInjector(backend, paths, Options{Normalization: defaultNorm}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindConversionFailure, types.KindOf(err))
	assert.ErrorIs(t, err, tflite.ErrMalformedModel)
	assert.Contains(t, err.Error(), "unreadable TFLITE_METADATA entry")
	assert.NoFileExists(t, paths.AnnotatedModelPath())
}
