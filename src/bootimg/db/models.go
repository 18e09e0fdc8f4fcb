package db

import "time"

// BuildStageName identifies a pipeline stage
type BuildStageName string

const (
	StageProvision  BuildStageName = "provision"
	StageInit       BuildStageName = "init"
	StageConfigure  BuildStageName = "configure"
	StageComponents BuildStageName = "components"
	StageDeviceTree BuildStageName = "devicetree"
	StagePackage    BuildStageName = "package"
	StagePublish    BuildStageName = "publish"
)

// RunStatus is the lifecycle state of a build run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StageStatus is the lifecycle state of a single stage within a run
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// Run is one invocation of the build pipeline
type Run struct {
	ID                string     `json:"id" yaml:"id"`
	ProjectName       string     `json:"project_name" yaml:"project_name"`
	ProjectRoot       string     `json:"project_root" yaml:"project_root"`
	HardwareSource    string     `json:"hardware_source" yaml:"hardware_source"`
	ToolchainSource   string     `json:"toolchain_source" yaml:"toolchain_source"`
	Status            RunStatus  `json:"status" yaml:"status"`
	ErrorStage        string     `json:"error_stage,omitempty" yaml:"error_stage,omitempty"`
	ErrorCode         string     `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	BootImagePath     string     `json:"boot_image_path,omitempty" yaml:"boot_image_path,omitempty"`
	BootImageChecksum string     `json:"boot_image_checksum,omitempty" yaml:"boot_image_checksum,omitempty"`
	BootImageSize     int64      `json:"boot_image_size,omitempty" yaml:"boot_image_size,omitempty"`
	CreatedAt         time.Time  `json:"created_at" yaml:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// RunStage is the record of one stage of a run
type RunStage struct {
	ID           int64          `json:"id" yaml:"id"`
	RunID        string         `json:"run_id" yaml:"run_id"`
	Name         BuildStageName `json:"name" yaml:"name"`
	Status       StageStatus    `json:"status" yaml:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DurationMs   int64          `json:"duration_ms" yaml:"duration_ms"`
	ErrorMessage string         `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}
