// internal/errors/errors.go
package appErrors

import "fmt"

// ErrRuleNotFound is a sentinel error
type ErrRuleNotFound struct {
	RuleID int
}

func (e *ErrRuleNotFound) Error() string {
	return fmt.Sprintf("automation rule with ID %d not found", e.RuleID)
}

// Helper constructor
func NewRuleNotFound(id int) error {
	return &ErrRuleNotFound{RuleID: id}
}

// ErrRuleNotFollowUp signals an attempt to attach follow-up steps to a
// rule of a different event kind.
type ErrRuleNotFollowUp struct {
	RuleID int
}

func (e *ErrRuleNotFollowUp) Error() string {
	return fmt.Sprintf("automation rule %d is not a FOLLOW_UP rule", e.RuleID)
}

func NewRuleNotFollowUp(id int) error {
	return &ErrRuleNotFollowUp{RuleID: id}
}

// ErrChannelNotFound signals a missing or foreign-company channel instance.
type ErrChannelNotFound struct {
	ChannelID int
	CompanyID int
}

func (e *ErrChannelNotFound) Error() string {
	return fmt.Sprintf("channel instance %d not found for company %d", e.ChannelID, e.CompanyID)
}

func NewChannelNotFound(channelID, companyID int) error {
	return &ErrChannelNotFound{ChannelID: channelID, CompanyID: companyID}
}

// ErrJobNotFound signals a missing scheduled job row.
type ErrJobNotFound struct {
	JobID int
}

func (e *ErrJobNotFound) Error() string {
	return fmt.Sprintf("scheduled job with ID %d not found", e.JobID)
}

func NewJobNotFound(id int) error {
	return &ErrJobNotFound{JobID: id}
}
