// internal/model/scheduled_job.go
package model

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusSent       JobStatus = "SENT"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCanceled   JobStatus = "CANCELED"
)

// ScheduledJob is one delayed follow-up delivery. The tuple
// (RuleID, StepID, LeadID, EventRef) is unique: re-triggering the same
// event resets the existing row instead of inserting a duplicate.
// Template and context are snapshotted at schedule time and never
// re-read at dispatch time. StageID records the stage whose entry
// created the job, so leaving that stage cancels exactly this cohort.
type ScheduledJob struct {
	ID               int               `db:"id" json:"id"`
	RuleID           int               `db:"rule_id" json:"rule_id"`
	StepID           int               `db:"step_id" json:"step_id"`
	LeadID           int               `db:"lead_id" json:"lead_id"`
	EventRef         string            `db:"event_ref" json:"event_ref"`
	StageID          int               `db:"stage_id" json:"stage_id"`
	TemplateSnapshot string            `db:"template_snapshot" json:"template_snapshot"`
	ContextSnapshot  map[string]string `db:"context_snapshot" json:"context_snapshot"`
	ScheduledAt      time.Time         `db:"scheduled_at" json:"scheduled_at"`
	Status           JobStatus         `db:"status" json:"status"`
	Attempts         int               `db:"attempts" json:"attempts"`
	LastError        string            `db:"last_error" json:"last_error,omitempty"`
	CancelReason     string            `db:"cancel_reason" json:"cancel_reason,omitempty"`
	SentAt           *time.Time        `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the job reached a final status.
func (j *ScheduledJob) Terminal() bool {
	switch j.Status {
	case JobStatusSent, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}
