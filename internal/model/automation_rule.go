// internal/model/automation_rule.go
package model

import "time"

type EventKind string

const (
	EventStageChanged EventKind = "STAGE_CHANGED"
	EventFollowUp     EventKind = "FOLLOW_UP"
)

type DestinationKind string

const (
	DestinationFixedNumber DestinationKind = "FIXED_NUMBER"
	DestinationLeadPhone   DestinationKind = "LEAD_PHONE"
)

type RuleStatus string

const (
	RuleStatusActive      RuleStatus = "ACTIVE"
	RuleStatusInactive    RuleStatus = "INACTIVE"
	RuleStatusConfigError RuleStatus = "CONFIG_ERROR"
	RuleStatusJobError    RuleStatus = "JOB_ERROR"
)

// AutomationRule maps a pipeline event to a messaging action. A nil StageID
// matches any stage. FixedNumber is set iff Destination is FIXED_NUMBER;
// MessageTemplate is required for STAGE_CHANGED rules.
type AutomationRule struct {
	ID              int             `db:"id" json:"id"`
	CompanyID       int             `db:"company_id" json:"company_id"`
	ChannelID       int             `db:"channel_id" json:"channel_id"`
	EventKind       EventKind       `db:"event_kind" json:"event_kind"`
	StageID         *int            `db:"stage_id" json:"stage_id,omitempty"`
	Destination     DestinationKind `db:"destination" json:"destination"`
	FixedNumber     string          `db:"fixed_number" json:"fixed_number,omitempty"`
	MessageTemplate string          `db:"message_template" json:"message_template,omitempty"`
	Active          bool            `db:"active" json:"active"`
	Status          RuleStatus      `db:"status" json:"status"`
	DeletedAt       *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
}

// Matchable reports whether the rule may participate in matching at all.
// Soft-deleted, inactive and CONFIG_ERROR rules never match.
func (r *AutomationRule) Matchable() bool {
	return r.Active && r.DeletedAt == nil && r.Status != RuleStatusConfigError
}
