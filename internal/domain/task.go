package domain

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusQueued      TaskStatus = "queued"
	TaskStatusInspecting  TaskStatus = "inspecting"
	TaskStatusDecompiling TaskStatus = "decompiling"
	TaskStatusAnalyzing   TaskStatus = "analyzing"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// PipelineOutcome is the overall result of one archive's pipeline run.
type PipelineOutcome string

const (
	OutcomeSuccess        PipelineOutcome = "success"
	OutcomePartialFailure PipelineOutcome = "partial_failure"
	OutcomeFailure        PipelineOutcome = "failure"
)

// FailureType classifies why a task failed.
type FailureType string

const (
	FailureTypeNone          FailureType = ""
	FailureTypeArchiveRead   FailureType = "archive_read"    // corrupt or unreadable archive
	FailureTypeNotAnArchive  FailureType = "not_an_archive"  // wrong container format
	FailureTypeMappingFormat FailureType = "mapping_format"  // unrecognized mapping file
	FailureTypeMappingEntry  FailureType = "mapping_entry"   // malformed/colliding mapping entry
	FailureTypeDecompiler    FailureType = "decompiler"      // backend invocation failed
	FailureTypeNoDecompiler  FailureType = "no_decompiler"   // all backends exhausted
	FailureTypeTimeout       FailureType = "timeout"
	FailureTypeAnalysisError FailureType = "analysis_error"
	FailureTypeUnknown       FailureType = "unknown"
)

// FailureSeverity groups failure types for dashboards and alerting.
type FailureSeverity string

const (
	FailureSeverityNormal  FailureSeverity = "normal"  // bad input, expected in the wild
	FailureSeverityWarning FailureSeverity = "warning" // environment hiccup, worth watching
	FailureSeverityError   FailureSeverity = "error"   // system problem, needs investigation
)

func (ft FailureType) GetSeverity() FailureSeverity {
	switch ft {
	case FailureTypeNone:
		return FailureSeverityNormal
	case FailureTypeArchiveRead, FailureTypeNotAnArchive, FailureTypeMappingFormat, FailureTypeMappingEntry:
		return FailureSeverityNormal // the submitted file is the problem
	case FailureTypeTimeout, FailureTypeDecompiler:
		return FailureSeverityWarning
	case FailureTypeNoDecompiler, FailureTypeAnalysisError, FailureTypeUnknown:
		return FailureSeverityError
	default:
		return FailureSeverityError
	}
}

// GetMaxRetryCount returns how many times a task with this failure type may
// be re-queued. 0 means the failure is final.
func (ft FailureType) GetMaxRetryCount() int {
	switch ft {
	case FailureTypeNone:
		return 0
	case FailureTypeArchiveRead, FailureTypeNotAnArchive, FailureTypeMappingFormat, FailureTypeMappingEntry:
		return 0 // the input will not get better on retry
	case FailureTypeTimeout, FailureTypeDecompiler:
		return 2 // external process flakiness, worth another attempt
	case FailureTypeNoDecompiler, FailureTypeAnalysisError, FailureTypeUnknown:
		return 1
	default:
		return 1
	}
}

func (ft FailureType) CanRetry() bool {
	return ft.GetMaxRetryCount() > 0
}

// GetDisplayName returns a human-readable label for dashboards.
func (ft FailureType) GetDisplayName() string {
	switch ft {
	case FailureTypeArchiveRead:
		return "Archive unreadable"
	case FailureTypeNotAnArchive:
		return "Not a JAR archive"
	case FailureTypeMappingFormat:
		return "Unrecognized mapping format"
	case FailureTypeMappingEntry:
		return "Bad mapping entry"
	case FailureTypeDecompiler:
		return "Decompiler failed"
	case FailureTypeNoDecompiler:
		return "All decompilers failed"
	case FailureTypeTimeout:
		return "Timed out"
	case FailureTypeAnalysisError:
		return "Analysis error"
	case FailureTypeUnknown:
		return "Unknown error"
	default:
		return string(ft)
	}
}

// Task is one submitted archive and its pipeline state.
type Task struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	JARName         string          `gorm:"type:varchar(255);not null" json:"jar_name"`
	ModName         string          `gorm:"type:varchar(255)" json:"mod_name,omitempty"`
	VersionHint     string          `gorm:"type:varchar(50)" json:"version_hint,omitempty"`
	MappingPath     string          `gorm:"type:varchar(500)" json:"mapping_path,omitempty"`
	Status          TaskStatus      `gorm:"type:varchar(20);not null;default:'queued'" json:"status"`
	Outcome         PipelineOutcome `gorm:"type:varchar(20);default:''" json:"outcome,omitempty"`
	ShouldStop      bool            `gorm:"default:false" json:"should_stop"`
	FailureType     FailureType     `gorm:"type:varchar(30);default:''" json:"failure_type,omitempty"`
	ErrorMessage    string          `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount      int             `gorm:"type:tinyint;default:0" json:"retry_count"`
	CurrentStep     string          `gorm:"type:varchar(255)" json:"current_step,omitempty"`
	ProgressPercent int             `gorm:"type:tinyint;default:0" json:"progress_percent"`
	BackendUsed     string          `gorm:"type:varchar(50)" json:"backend_used,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`

	// Associations (pointer to avoid import cycles in callers)
	Report *TaskReport `gorm:"foreignKey:TaskID;references:ID" json:"report,omitempty"`
}

func (Task) TableName() string {
	return "jar_tasks"
}
