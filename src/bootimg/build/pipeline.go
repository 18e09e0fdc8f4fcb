package build

import (
	"context"
	"fmt"
	"time"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/logs"
	"github.com/google/uuid"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the build package
func SetLogger(l *logs.Logger) {
	log = l
}

// Recorder persists run and stage history
type Recorder interface {
	Create(run *db.Run) error
	CreateStage(stage *db.RunStage) error
	MarkStageRunning(runID string, name db.BuildStageName) error
	MarkStageCompleted(runID string, name db.BuildStageName, durationMs int64) error
	MarkStageFailed(runID string, name db.BuildStageName, durationMs int64, errMsg string) error
	MarkCompleted(id, bootImagePath, checksum string, size int64) error
	MarkFailed(id string, status db.RunStatus, errorStage, errorCode, errorMsg string) error
}

// Pipeline runs stages strictly in order. The first failure aborts the
// remaining stages; nothing is rolled back.
type Pipeline struct {
	stages   []Stage
	reporter *Reporter
	recorder Recorder
}

// NewPipeline creates a pipeline over stages
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// WithReporter emits the build log through r when Run returns
func (p *Pipeline) WithReporter(r *Reporter) *Pipeline {
	p.reporter = r
	return p
}

// WithRecorder records run history through rec
func (p *Pipeline) WithRecorder(rec Recorder) *Pipeline {
	p.recorder = rec
	return p
}

// Stages returns the stages in execution order
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Run executes every stage against sc. The reporter runs on every exit
// path and never replaces the returned error.
func (p *Pipeline) Run(ctx context.Context, sc *StageContext) (err error) {
	if sc.RunID == "" {
		sc.RunID = uuid.New().String()
	}

	defer p.report(sc)

	var current db.BuildStageName
	var stageStart time.Time
	defer func() {
		if r := recover(); r != nil {
			log.Error("Build pipeline recovered from panic", "run_id", sc.RunID, "stage", current, "panic", fmt.Sprintf("%v", r))
			err = errors.ErrInternal.WithMessagef("internal error (panic) in stage %s: %v", current, r)
			p.handleFailure(sc, current, stageStart, err)
		}
	}()

	p.recordStart(sc)

	log.Info("Starting build",
		"run_id", sc.RunID,
		"workspace", sc.WorkspacePath,
		"stages", len(p.stages),
	)

	for i, stage := range p.stages {
		current = stage.Name()
		stageStart = time.Now()

		if ctxErr := ctx.Err(); ctxErr != nil {
			p.handleFailure(sc, current, stageStart, ctxErr)
			return ctxErr
		}

		p.recordStage(func() error { return p.recorder.MarkStageRunning(sc.RunID, current) })
		log.Info("Starting stage", "run_id", sc.RunID, "stage", current)

		if err := stage.Validate(ctx, sc); err != nil {
			p.handleFailure(sc, current, stageStart, err)
			return err
		}

		name := current
		progress := func(percent int, message string) {
			overall := (i*100 + percent) / len(p.stages)
			log.Debug("Stage progress", "stage", name, "percent", overall, "message", message)
		}

		if err := stage.Execute(ctx, sc, progress); err != nil {
			p.handleFailure(sc, current, stageStart, err)
			return err
		}

		durationMs := time.Since(stageStart).Milliseconds()
		p.recordStage(func() error { return p.recorder.MarkStageCompleted(sc.RunID, current, durationMs) })
		log.Info("Stage completed", "run_id", sc.RunID, "stage", current, "duration_ms", durationMs)
	}

	log.Info("Build completed successfully",
		"run_id", sc.RunID,
		"boot_image", sc.BootImagePath,
		"size", sc.BootImageSize,
	)
	p.recordStage(func() error {
		return p.recorder.MarkCompleted(sc.RunID, sc.BootImagePath, sc.BootImageChecksum, sc.BootImageSize)
	})

	return nil
}

// handleFailure logs and records a failed stage
func (p *Pipeline) handleFailure(sc *StageContext, stage db.BuildStageName, start time.Time, err error) {
	status := db.RunStatusFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = db.RunStatusCancelled
	}

	log.Error("Build failed",
		"run_id", sc.RunID,
		"stage", stage,
		"code", errors.GetQualifiedCode(err),
		"error", err,
	)

	durationMs := time.Since(start).Milliseconds()
	p.recordStage(func() error { return p.recorder.MarkStageFailed(sc.RunID, stage, durationMs, err.Error()) })
	p.recordStage(func() error {
		return p.recorder.MarkFailed(sc.RunID, status, string(stage), errors.GetQualifiedCode(err), err.Error())
	})
}

// recordStart creates the run and its pending stage records
func (p *Pipeline) recordStart(sc *StageContext) {
	if p.recorder == nil {
		return
	}

	run := &db.Run{
		ID:              sc.RunID,
		HardwareSource:  sc.HardwareSource,
		ToolchainSource: sc.ToolchainSource,
	}
	if sc.Project != nil {
		run.ProjectName = sc.Project.Name
		run.ProjectRoot = sc.Project.Root
	}
	if err := p.recorder.Create(run); err != nil {
		log.Warn("Failed to record run", "run_id", sc.RunID, "error", err)
		return
	}

	for _, stage := range p.stages {
		if err := p.recorder.CreateStage(&db.RunStage{RunID: sc.RunID, Name: stage.Name()}); err != nil {
			log.Warn("Failed to create stage record", "run_id", sc.RunID, "stage", stage.Name(), "error", err)
		}
	}
}

// recordStage runs a history update when a recorder is configured. History
// failures are logged and never fail the build.
func (p *Pipeline) recordStage(fn func() error) {
	if p.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warn("Failed to update build history", "error", err)
	}
}

// report emits the build log through the reporter
func (p *Pipeline) report(sc *StageContext) {
	if p.reporter == nil || sc.Project == nil {
		return
	}
	if err := p.reporter.Report(sc.Project.BuildLogPath()); err != nil {
		log.Warn("Failed to report build log", "path", sc.Project.BuildLogPath(), "error", err)
	}
}
