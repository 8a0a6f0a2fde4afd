// internal/model/lead.go
package model

// Lead is the slice of a sales prospect the automation engine needs.
type Lead struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Stage is a named pipeline position.
type Stage struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// StageChangeEvent is the trigger for the cancellation routine and the
// matcher. EventRef is the idempotency token; when empty the matcher
// derives one as "leadId:unixNow".
type StageChangeEvent struct {
	CompanyID     int    `json:"company_id"`
	Lead          Lead   `json:"lead"`
	PreviousStage Stage  `json:"previous_stage"`
	NewStage      Stage  `json:"new_stage"`
	EventRef      string `json:"event_ref,omitempty"`
}
