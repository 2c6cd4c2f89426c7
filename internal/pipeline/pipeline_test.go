package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litepack/litepack/internal/config"
	"github.com/litepack/litepack/internal/convert"
	"github.com/litepack/litepack/internal/metadata"
	"github.com/litepack/litepack/internal/storage"
	"github.com/litepack/litepack/internal/tflite/tflitetest"
	"github.com/litepack/litepack/pkg/types"
)

type stubStage struct {
	name   string
	err    error
	calls  int
	record *[]string
}

func (s *stubStage) Run(context.Context) (*types.StageResult, error) {
	s.calls++
	if s.record != nil {
		*s.record = append(*s.record, s.name)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &types.StageResult{Stage: s.name, OutputPath: s.name + ".out", OutputSize: 1}, nil
}

func TestRunnerOrder(t *testing.T) {
	var order []string
	conv := &stubStage{name: types.StageConvert, record: &order}
	inj := &stubStage{name: types.StageInject, record: &order}

	log, hook := test.NewNullLogger()
	report, err := NewRunner(conv, inj, log).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{types.StageConvert, types.StageInject}, order)
	require.Len(t, report.Results, 2)
	assert.Empty(t, report.Failed)

	_, err = uuid.Parse(report.RunID)
	assert.NoError(t, err)

	// every log line carries the run id
	require.NotEmpty(t, hook.AllEntries())
	for _, e := range hook.AllEntries() {
		assert.Equal(t, report.RunID, e.Data["run"])
	}
}

func TestRunnerStopsAtFirstFailure(t *testing.T) {
	failure := &types.StageError{Stage: types.StageConvert, Kind: types.KindConversionFailure, Err: errors.New("boom")}
	conv := &stubStage{name: types.StageConvert, err: failure}
	inj := &stubStage{name: types.StageInject}

	log, hook := test.NewNullLogger()
	report, err := NewRunner(conv, inj, log).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, failure, err)
	assert.Equal(t, types.StageConvert, report.Failed)
	assert.Empty(t, report.Results)
	assert.Zero(t, inj.calls)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.ErrorLevel, last.Level)
}

func TestRunnerCancelled(t *testing.T) {
	conv := &stubStage{name: types.StageConvert}
	inj := &stubStage{name: types.StageInject}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewRunner(conv, inj, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.StageConvert, report.Failed)
	assert.Zero(t, conv.calls)
}

// modelBackend stands in for TensorFlow
type modelBackend struct{}

func (modelBackend) Name() string { return "stub" }

func (modelBackend) Convert(_ context.Context, _, outputPath string, _ []string) error {
	return os.WriteFile(outputPath, tflitetest.Classifier(3), 0600)
}

func (modelBackend) Version(context.Context) (string, error) { return "0.0.0", nil }

func TestPipelineEndToEnd(t *testing.T) {
	base := t.TempDir()
	paths := storage.NewPaths(&config.Config{
		Paths: config.PathsConfig{
			BaseDir:        base,
			SourceModelDir: filepath.Join(base, "saved_model"),
			CompactModel:   filepath.Join(base, "build", "model.tflite"),
			LabelFile:      filepath.Join(base, "labels.txt"),
			AnnotatedModel: filepath.Join(base, "dist", "model_with_metadata.tflite"),
			Manifest:       filepath.Join(base, "dist", "manifest.json"),
		},
	})
	require.NoError(t, os.MkdirAll(paths.SourceModelDir(), 0755))
	require.NoError(t, os.WriteFile(paths.LabelFilePath(), []byte("a\nb\nc\n"), 0644))

	var out bytes.Buffer
	conv := convert.New(modelBackend{}, paths, convert.Options{Out: &out})
	inj := metadata.NewInjector(metadata.NewNativeBackend(nil), paths, metadata.Options{
		Normalization: types.Normalization{Mean: []float64{127.5}, Std: []float64{127.5}},
		Out:           &out,
	})

	report, err := NewRunner(conv, inj, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, paths.CompactModelPath(), report.Results[0].OutputPath)
	assert.Equal(t, paths.AnnotatedModelPath(), report.Results[1].OutputPath)

	info, model, err := metadata.ReadFile(paths.AnnotatedModelPath())
	require.NoError(t, err)
	labels, err := info.Labels(model)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, labels)
}

func TestPipelineInjectorSkippedWhenConversionFails(t *testing.T) {
	base := t.TempDir()
	paths := storage.NewPaths(&config.Config{
		Paths: config.PathsConfig{
			BaseDir:        base,
			SourceModelDir: filepath.Join(base, "missing"),
			CompactModel:   filepath.Join(base, "model.tflite"),
			LabelFile:      filepath.Join(base, "labels.txt"),
			AnnotatedModel: filepath.Join(base, "annotated.tflite"),
		},
	})

	conv := convert.New(modelBackend{}, paths, convert.Options{})
	inj := metadata.NewInjector(metadata.NewNativeBackend(nil), paths, metadata.Options{})

	report, err := NewRunner(conv, inj, nil).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindInputInvalid, types.KindOf(err))
	assert.Equal(t, types.StageConvert, report.Failed)
	assert.NoFileExists(t, paths.AnnotatedModelPath())
}
