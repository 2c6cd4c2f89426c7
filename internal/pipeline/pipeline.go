// Package pipeline runs the conversion and metadata stages back to back.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/litepack/litepack/internal/logging"
	"github.com/litepack/litepack/pkg/types"
)

// Stage is one step of the pipeline
type Stage interface {
	Run(ctx context.Context) (*types.StageResult, error)
}

// Report describes a pipeline run
type Report struct {
	RunID    string               `json:"run_id"`
	Results  []*types.StageResult `json:"results"`
	Failed   string               `json:"failed,omitempty"`
	Duration time.Duration        `json:"duration"`
}

// Runner executes stages in order and stops at the first failure
type Runner struct {
	stages []namedStage
	log    logging.Logger
}

type namedStage struct {
	name  string
	stage Stage
}

// NewRunner creates a runner for the convert then inject pipeline
func NewRunner(converter, injector Stage, log logging.Logger) *Runner {
	if log == nil {
		log = logging.Discard()
	}
	return &Runner{
		stages: []namedStage{
			{name: types.StageConvert, stage: converter},
			{name: types.StageInject, stage: injector},
		},
		log: log,
	}
}

// Run executes every stage. The returned report lists the results of the
// stages that completed; the error is the failing stage's error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New().String()}
	log := r.log.WithField("run", report.RunID)
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
	}()

	for _, s := range r.stages {
		if err := ctx.Err(); err != nil {
			report.Failed = s.name
			return report, err
		}

		log.WithField("stage", s.name).Debug("starting stage")
		result, err := s.stage.Run(ctx)
		if err != nil {
			report.Failed = s.name
			log.WithField("stage", s.name).WithError(err).Error("stage failed")
			return report, err
		}

		report.Results = append(report.Results, result)
		log.WithFields(logrus.Fields{
			"stage":    s.name,
			"output":   result.OutputPath,
			"size":     result.OutputSize,
			"duration": result.Duration,
		}).Info("stage completed")
	}

	return report, nil
}
