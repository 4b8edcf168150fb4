package domain

import "time"

// FindingCategory is one class of security indicator.
type FindingCategory string

const (
	CategoryWebhook               FindingCategory = "webhook"
	CategoryTokenAccess           FindingCategory = "token_access"
	CategoryNetworkCall           FindingCategory = "network_call"
	CategoryReflectionObfuscation FindingCategory = "reflection_obfuscation"
	CategorySuspiciousString      FindingCategory = "suspicious_string"
)

// Confidence is assigned per detector by construction, never derived from
// aggregate counts.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ClassBucket is the coarse functional role assigned to a class.
type ClassBucket string

const (
	BucketGUI     ClassBucket = "gui"
	BucketNetwork ClassBucket = "network"
	BucketData    ClassBucket = "data"
)

// Finding is one pattern match in a decompiled file or archive entry.
type Finding struct {
	Category   FindingCategory `json:"category"`
	Path       string          `json:"path"`
	Excerpt    string          `json:"excerpt"`
	Confidence Confidence      `json:"confidence"`
}

// ReportDocument is the persisted structured report for one archive.
type ReportDocument struct {
	ArchiveName     string         `json:"archive_name"`
	ClassCount      int            `json:"class_count"`
	ResourceCount   int            `json:"resource_count"`
	MetadataSummary string         `json:"metadata_summary,omitempty"`
	VersionHint     string         `json:"version_hint,omitempty"`
	Classification  map[string]int `json:"classification_counts"` // gui / network / data
	Findings        []Finding      `json:"findings"`
}

// TaskReport is the stored analysis report row. The full document is kept as
// JSON; hot fields are duplicated as columns for querying.
type TaskReport struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID string `gorm:"type:varchar(36);uniqueIndex:uk_task_id;not null" json:"task_id"`

	ArchiveName   string `gorm:"type:varchar(255)" json:"archive_name,omitempty"`
	ClassCount    int    `gorm:"default:0" json:"class_count"`
	ResourceCount int    `gorm:"default:0" json:"resource_count"`
	VersionHint   string `gorm:"type:varchar(50)" json:"version_hint,omitempty"`

	GUIClassCount     int `gorm:"default:0" json:"gui_class_count"`
	NetworkClassCount int `gorm:"default:0" json:"network_class_count"`
	DataClassCount    int `gorm:"default:0" json:"data_class_count"`
	FindingCount      int `gorm:"default:0" json:"finding_count"`
	HighSeverityCount int `gorm:"default:0" json:"high_severity_count"`

	BackendUsed string `gorm:"type:varchar(50)" json:"backend_used,omitempty"`

	ReportJSON string `gorm:"type:mediumtext" json:"report_json,omitempty"`

	DecompileDurationMs int `gorm:"type:int" json:"decompile_duration_ms,omitempty"`
	AnalysisDurationMs  int `gorm:"type:int" json:"analysis_duration_ms,omitempty"`

	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}

func (TaskReport) TableName() string {
	return "task_reports"
}
