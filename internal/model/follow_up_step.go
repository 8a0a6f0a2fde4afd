// internal/model/follow_up_step.go
package model

import "time"

// FollowUpStep is one delayed message in a FOLLOW_UP rule's sequence.
// DelayMinutes is relative to the triggering stage change, not to the
// previous step.
type FollowUpStep struct {
	ID              int       `db:"id" json:"id"`
	RuleID          int       `db:"rule_id" json:"rule_id"`
	StepOrder       int       `db:"step_order" json:"step_order"`
	DelayText       string    `db:"delay_text" json:"delay_text"`
	DelayLabel      string    `db:"delay_label" json:"delay_label"`
	DelayMinutes    int       `db:"delay_minutes" json:"delay_minutes"`
	MessageTemplate string    `db:"message_template" json:"message_template"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
