package models

import (
	"time"
)

// One row per moderation action. Rows are never deleted; the reversal columns are written at most once.
type ModerationAction struct {
	ID          uint64 `gorm:"primaryKey"`
	Action      string `gorm:"not null"`
	SubjectType string `gorm:"not null"`
	SubjectKey  string `gorm:"not null;index:idx_moderation_action_subject_active,priority:1;uniqueIndex:idx_moderation_action_exclusive,priority:1"`
	SubjectDid  *string
	SubjectUri  *string
	SubjectCid  *string
	Reason      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;index"`
	CreatedBy   string    `gorm:"not null"`
	// Kinds which allow a single active action per subject carry their kind here, everything else NULL. Unique among active rows.
	ExclusiveKind *string `gorm:"uniqueIndex:idx_moderation_action_exclusive,priority:2,where:reversed_at IS NULL"`
	// NULL while the action is active
	ReversedAt     *time.Time `gorm:"index:idx_moderation_action_subject_active,priority:2"`
	ReversedBy     *string
	ReversedReason *string
}

type ModerationReport struct {
	ID          uint64 `gorm:"primaryKey"`
	SubjectType string `gorm:"not null"`
	SubjectKey  string `gorm:"not null;index:idx_moderation_report_subject_open,priority:1"`
	SubjectDid  *string
	SubjectUri  *string
	SubjectCid  *string
	ReasonType  string `gorm:"not null"`
	Reason      *string
	ReportedBy  string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	// NULL while the report is open; set once by resolution
	ResolvedByActionID *uint64 `gorm:"index:idx_moderation_report_subject_open,priority:2"`
}

// Audit trail of who linked a report to an action, and when.
type ModerationReportResolution struct {
	ReportID  uint64    `gorm:"primaryKey"`
	ActionID  uint64    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	CreatedBy string    `gorm:"not null"`
}

// Which account uploaded a blob. Populated by whatever ingests repository content; read by the moderation hierarchy.
type BlobOwner struct {
	Cid       string `gorm:"primaryKey"`
	Did       string `gorm:"not null;index"`
	CreatedAt time.Time
}
