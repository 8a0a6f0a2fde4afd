// internal/controller/automation_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/leadpilot/crm-automation/internal/errors"
	"github.com/leadpilot/crm-automation/internal/model"
	"github.com/leadpilot/crm-automation/internal/queue"
	"github.com/leadpilot/crm-automation/internal/repository"
	"github.com/leadpilot/crm-automation/internal/service"
)

type AutomationController struct {
	Rules             repository.AutomationRuleRepositoryInterface
	Steps             repository.FollowUpStepRepositoryInterface
	AutomationService *service.AutomationService
	Queue             queue.Queue
}

func (c *AutomationController) CreateRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CompanyID       int    `json:"company_id"`
		ChannelID       int    `json:"channel_id"`
		EventKind       string `json:"event_kind"`
		StageID         *int   `json:"stage_id"`
		Destination     string `json:"destination"`
		FixedNumber     string `json:"fixed_number"`
		MessageTemplate string `json:"message_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	kind := model.EventKind(body.EventKind)
	if kind != model.EventStageChanged && kind != model.EventFollowUp {
		http.Error(w, "event_kind must be STAGE_CHANGED or FOLLOW_UP", http.StatusBadRequest)
		return
	}
	dest := model.DestinationKind(body.Destination)
	if dest != model.DestinationFixedNumber && dest != model.DestinationLeadPhone {
		http.Error(w, "destination must be FIXED_NUMBER or LEAD_PHONE", http.StatusBadRequest)
		return
	}
	if dest == model.DestinationFixedNumber && body.FixedNumber == "" {
		http.Error(w, "fixed_number is required for FIXED_NUMBER destination", http.StatusBadRequest)
		return
	}
	if kind == model.EventStageChanged && body.MessageTemplate == "" {
		http.Error(w, "message_template is required for STAGE_CHANGED rules", http.StatusBadRequest)
		return
	}

	rule := &model.AutomationRule{
		CompanyID:       body.CompanyID,
		ChannelID:       body.ChannelID,
		EventKind:       kind,
		StageID:         body.StageID,
		Destination:     dest,
		FixedNumber:     body.FixedNumber,
		MessageTemplate: body.MessageTemplate,
		Active:          true,
		Status:          model.RuleStatusActive,
	}

	if err := c.Rules.Create(r.Context(), rule); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

func (c *AutomationController) ListRules(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	companyID, _ := strconv.Atoi(r.URL.Query().Get("company_id"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	rules, total, err := c.Rules.ListRules(r.Context(), offset, pageSize, companyID, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": rules,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

func (c *AutomationController) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return
	}

	rule, err := c.Rules.GetByID(r.Context(), id)
	var notFound *appErrors.ErrRuleNotFound
	if errors.As(err, &notFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	steps, err := c.Steps.ListByRule(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"rule":  rule,
		"steps": steps,
	})
}

func (c *AutomationController) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return
	}

	canceled, err := c.AutomationService.DeactivateRule(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"rule_id":       id,
		"canceled_jobs": canceled,
	})
}

func (c *AutomationController) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return
	}

	canceled, err := c.AutomationService.SoftDeleteRule(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"rule_id":       id,
		"canceled_jobs": canceled,
	})
}

// AddStep validates the free-form delay text through the delay parser.
// A parse failure answers 422 with the structured error; the rule is
// flipped to CONFIG_ERROR until the configuration is corrected.
func (c *AutomationController) AddStep(w http.ResponseWriter, r *http.Request) {
	ruleID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return
	}

	var body struct {
		StepOrder       int    `json:"step_order"`
		DelayText       string `json:"delay_text"`
		MessageTemplate string `json:"message_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	step, perr, err := c.AutomationService.AddStep(r.Context(), ruleID, body.StepOrder, body.DelayText, body.MessageTemplate)
	var notFound *appErrors.ErrRuleNotFound
	if errors.As(err, &notFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var notFollowUp *appErrors.ErrRuleNotFollowUp
	if errors.As(err, &notFollowUp) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if perr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":       perr,
			"rule_status": model.RuleStatusConfigError,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(step)
}

// StageChange validates the event and publishes it onto the stage-change
// topic; the subscriber runs cancellation and matching off the request
// path. The response only acknowledges intake.
func (c *AutomationController) StageChange(w http.ResponseWriter, r *http.Request) {
	var event model.StageChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if event.CompanyID == 0 || event.Lead.ID == 0 || event.NewStage.ID == 0 {
		http.Error(w, "company_id, lead.id and new_stage.id are required", http.StatusBadRequest)
		return
	}

	if err := c.Queue.Publish(queue.TopicStageChanges, event); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "accepted",
		"event_ref": event.EventRef,
	})
}
