package model

import (
	"fmt"
	"time"
)

// QueueStatus is the lifecycle state of a purge-fix queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueProcessing QueueStatus = "PROCESSING"
	QueueCompleted  QueueStatus = "COMPLETED"
	QueueFailed     QueueStatus = "FAILED"
	QueueSkipped    QueueStatus = "SKIPPED"
	QueueManual     QueueStatus = "MANUAL"
)

// Terminal reports whether the status ends the entry's lifecycle.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueCompleted, QueueFailed, QueueSkipped, QueueManual:
		return true
	}
	return false
}

// ResettableTo reports whether a stuck Processing entry may be moved to s.
// Recovery may only park an entry somewhere retryable or reviewable.
func (s QueueStatus) ResettableTo() bool {
	switch s {
	case QueuePending, QueueFailed, QueueManual:
		return true
	}
	return false
}

// Category identifies which purge definition keys a destination table.
type Category string

const (
	CategoryCase   Category = "CASE"
	CategoryPerson Category = "PERSON"
	CategoryStage  Category = "STAGE"
)

// KeyColumn returns the join column linking definition and destination
// tables for the category.
func (c Category) KeyColumn() (string, error) {
	switch c {
	case CategoryCase:
		return "CASE_ID", nil
	case CategoryPerson:
		return "PERSON_ID", nil
	case CategoryStage:
		return "STAGE_ID", nil
	}
	return "", fmt.Errorf("unknown purge category %q", c)
}

// RemediationQueueEntry is one detected purge violation awaiting (or past)
// remediation. Mutated throughout the fix lifecycle; pruned only by age.
type RemediationQueueEntry struct {
	ID             int64       `db:"entry_id"`
	TableName      string      `db:"table_name"` // destination table
	ViolationCount int64       `db:"violation_count"`
	Category       Category    `db:"category"`
	SourceTable    string      `db:"source_table"` // definition table
	DetectedAt     time.Time   `db:"detected_at"`
	Status         QueueStatus `db:"status"`
	EpisodeID      *string     `db:"episode_id"`
	ProcessedAt    *time.Time  `db:"processed_at"`
	ErrorMessage   *string     `db:"error_message"`
	RetryCount     int         `db:"retry_count"`
	ScriptName     *string     `db:"script_name"`
	Notes          *string     `db:"notes"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
	UpdatedBy      string      `db:"updated_by"`
}

// WithStatus returns a copy of the entry with the status applied.
func (e RemediationQueueEntry) WithStatus(s QueueStatus) RemediationQueueEntry {
	e.Status = s
	return e
}

// WithEpisode returns a copy of the entry with the episode id attached.
func (e RemediationQueueEntry) WithEpisode(id string) RemediationQueueEntry {
	e.EpisodeID = &id
	return e
}
