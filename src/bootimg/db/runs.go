package db

import (
	"database/sql"
	"time"

	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/google/uuid"
)

// RunRepository handles build run database operations
type RunRepository struct {
	db *Database
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *Database) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	run.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO runs (id, project_name, project_root, hardware_source, toolchain_source,
			status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.DB().Exec(query,
		run.ID, run.ProjectName, run.ProjectRoot, run.HardwareSource, run.ToolchainSource,
		run.Status, run.CreatedAt,
	)
	if err != nil {
		return errors.ErrDatabaseQuery.WithMessage("failed to create run").WithCause(err)
	}

	return nil
}

// selectRunsQuery is the base SELECT query for runs
const selectRunsQuery = `
	SELECT id, project_name, project_root, hardware_source, toolchain_source,
		status, error_stage, error_code, error_message,
		boot_image_path, boot_image_checksum, boot_image_size,
		created_at, completed_at
	FROM runs
`

// GetByID retrieves a run by ID
func (r *RunRepository) GetByID(id string) (*Run, error) {
	row := r.db.DB().QueryRow(selectRunsQuery+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrRunNotFound.WithMessagef("run not found: %s", id)
	}
	if err != nil {
		return nil, errors.ErrDatabaseQuery.WithCause(err)
	}
	return run, nil
}

// List returns the most recent runs, newest first
func (r *RunRepository) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.DB().Query(selectRunsQuery+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.ErrDatabaseQuery.WithMessage("failed to list runs").WithCause(err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.ErrDatabaseQuery.WithCause(err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// MarkCompleted marks a run as completed with its boot image details
func (r *RunRepository) MarkCompleted(id, bootImagePath, checksum string, size int64) error {
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, boot_image_path = ?, boot_image_checksum = ?,
			boot_image_size = ?, error_message = ''
		WHERE id = ?
	`
	return r.exec("failed to mark run completed", id, query,
		RunStatusCompleted, time.Now().UTC(), bootImagePath, checksum, size, id)
}

// MarkFailed marks a run as failed at the given stage
func (r *RunRepository) MarkFailed(id string, status RunStatus, errorStage, errorCode, errorMsg string) error {
	if status == "" {
		status = RunStatusFailed
	}
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, error_stage = ?, error_code = ?, error_message = ?
		WHERE id = ?
	`
	return r.exec("failed to mark run failed", id, query,
		status, time.Now().UTC(), errorStage, errorCode, errorMsg, id)
}

// exec runs an UPDATE and reports a missing run
func (r *RunRepository) exec(msg, id, query string, args ...interface{}) error {
	result, err := r.db.DB().Exec(query, args...)
	if err != nil {
		return errors.ErrDatabaseQuery.WithMessage(msg).WithCause(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.ErrDatabaseQuery.WithMessage("failed to get rows affected").WithCause(err)
	}
	if affected == 0 {
		return errors.ErrRunNotFound.WithMessagef("run not found: %s", id)
	}

	return nil
}

// CreateStage inserts a pending stage record
func (r *RunRepository) CreateStage(stage *RunStage) error {
	if stage.Status == "" {
		stage.Status = StageStatusPending
	}

	result, err := r.db.DB().Exec(
		`INSERT INTO run_stages (run_id, name, status) VALUES (?, ?, ?)`,
		stage.RunID, stage.Name, stage.Status,
	)
	if err != nil {
		return errors.ErrDatabaseQuery.WithMessage("failed to create run stage").WithCause(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.ErrDatabaseQuery.WithMessage("failed to get last insert id").WithCause(err)
	}
	stage.ID = id

	return nil
}

// MarkStageRunning marks a stage as started
func (r *RunRepository) MarkStageRunning(runID string, name BuildStageName) error {
	query := `UPDATE run_stages SET status = ?, started_at = COALESCE(started_at, ?) WHERE run_id = ? AND name = ?`
	if _, err := r.db.DB().Exec(query, StageStatusRunning, time.Now().UTC(), runID, name); err != nil {
		return errors.ErrDatabaseQuery.WithMessage("failed to update stage status").WithCause(err)
	}
	return nil
}

// MarkStageCompleted marks a stage as completed
func (r *RunRepository) MarkStageCompleted(runID string, name BuildStageName, durationMs int64) error {
	query := `
		UPDATE run_stages
		SET status = ?, completed_at = ?, duration_ms = ?
		WHERE run_id = ? AND name = ?
	`
	if _, err := r.db.DB().Exec(query, StageStatusCompleted, time.Now().UTC(), durationMs, runID, name); err != nil {
		return errors.ErrDatabaseQuery.WithMessage("failed to mark stage completed").WithCause(err)
	}
	return nil
}

// MarkStageFailed marks a stage as failed
func (r *RunRepository) MarkStageFailed(runID string, name BuildStageName, durationMs int64, errMsg string) error {
	query := `
		UPDATE run_stages
		SET status = ?, completed_at = ?, duration_ms = ?, error_message = ?
		WHERE run_id = ? AND name = ?
	`
	if _, err := r.db.DB().Exec(query, StageStatusFailed, time.Now().UTC(), durationMs, errMsg, runID, name); err != nil {
		return errors.ErrDatabaseQuery.WithMessage("failed to mark stage failed").WithCause(err)
	}
	return nil
}

// GetStages retrieves all stages for a run in pipeline order
func (r *RunRepository) GetStages(runID string) ([]RunStage, error) {
	query := `
		SELECT id, run_id, name, status, started_at, completed_at, duration_ms, error_message
		FROM run_stages
		WHERE run_id = ?
		ORDER BY id ASC
	`
	rows, err := r.db.DB().Query(query, runID)
	if err != nil {
		return nil, errors.ErrDatabaseQuery.WithMessage("failed to get run stages").WithCause(err)
	}
	defer rows.Close()

	var stages []RunStage
	for rows.Next() {
		var stage RunStage
		var startedAt, completedAt sql.NullTime
		var errorMsg sql.NullString

		if err := rows.Scan(
			&stage.ID, &stage.RunID, &stage.Name, &stage.Status,
			&startedAt, &completedAt, &stage.DurationMs, &errorMsg,
		); err != nil {
			return nil, errors.ErrDatabaseQuery.WithMessage("failed to scan run stage").WithCause(err)
		}

		if startedAt.Valid {
			stage.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			stage.CompletedAt = &completedAt.Time
		}
		stage.ErrorMessage = errorMsg.String

		stages = append(stages, stage)
	}

	return stages, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var completedAt sql.NullTime
	var hwSource, tcSource, errStage, errCode, errMsg, imgPath, imgSum sql.NullString
	var imgSize sql.NullInt64

	err := s.Scan(
		&run.ID, &run.ProjectName, &run.ProjectRoot, &hwSource, &tcSource,
		&run.Status, &errStage, &errCode, &errMsg,
		&imgPath, &imgSum, &imgSize,
		&run.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.HardwareSource = hwSource.String
	run.ToolchainSource = tcSource.String
	run.ErrorStage = errStage.String
	run.ErrorCode = errCode.String
	run.ErrorMessage = errMsg.String
	run.BootImagePath = imgPath.String
	run.BootImageChecksum = imgSum.String
	run.BootImageSize = imgSize.Int64
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	return &run, nil
}
