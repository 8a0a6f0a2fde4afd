// internal/service/automation_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpilot/crm-automation/internal/delay"
	appErrors "github.com/leadpilot/crm-automation/internal/errors"
	"github.com/leadpilot/crm-automation/internal/gateway"
	"github.com/leadpilot/crm-automation/internal/logger"
	"github.com/leadpilot/crm-automation/internal/model"
	"github.com/leadpilot/crm-automation/internal/repository"
)

// AutomationService reacts to stage changes: it cancels the follow-up
// cohort of the stage the lead is leaving, fires immediate messages, and
// schedules the follow-up jobs of the stage the lead entered. It never
// returns an error to the stage-change caller; every failure is recorded
// in the MatchResult and the log.
type AutomationService struct {
	Rules    repository.AutomationRuleRepositoryInterface
	Steps    repository.FollowUpStepRepositoryInterface
	Jobs     repository.ScheduledJobRepositoryInterface
	Channels repository.ChannelInstanceRepositoryInterface
	Gateway  gateway.MessagingGateway
	Log      zerolog.Logger
	Now      func() time.Time
}

// MatchResult summarizes one matcher invocation.
type MatchResult struct {
	RunID            string `json:"run_id"`
	EventRef         string `json:"event_ref"`
	CanceledJobs     int    `json:"canceled_jobs"`
	MatchedRules     int    `json:"matched_rules"`
	ImmediateSent    int    `json:"immediate_sent"`
	ImmediateSkipped int    `json:"immediate_skipped"`
	ImmediateFailed  int    `json:"immediate_failed"`
	JobsScheduled    int    `json:"jobs_scheduled"`
	JobsFailed       int    `json:"jobs_failed"`
}

func (s *AutomationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// HandleStageChange runs the full pipeline for one stage change:
// cancellation for the outgoing stage, then matching for the new stage.
func (s *AutomationService) HandleStageChange(ctx context.Context, event model.StageChangeEvent) *MatchResult {
	log, runID := logger.WithRun(s.Log)
	log = log.With().
		Int("company_id", event.CompanyID).
		Int("lead_id", event.Lead.ID).
		Int("new_stage_id", event.NewStage.ID).
		Logger()

	now := s.now()
	eventRef := event.EventRef
	if eventRef == "" {
		eventRef = fmt.Sprintf("%d:%d", event.Lead.ID, now.Unix())
	}

	result := &MatchResult{RunID: runID, EventRef: eventRef}

	// Cancel the cohort from the stage the lead is leaving before any new
	// follow-ups exist, so at most one cohort is ever live per lead.
	result.CanceledJobs = s.CancelForLeavingStage(ctx, event.Lead.ID, event.PreviousStage.ID, "lead left stage")

	rules, err := s.Rules.FindActiveRules(ctx, event.CompanyID,
		[]model.EventKind{model.EventStageChanged, model.EventFollowUp}, event.NewStage.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load automation rules")
		return result
	}
	result.MatchedRules = len(rules)
	if len(rules) == 0 {
		log.Info().Msg("no automation rules matched stage change")
		return result
	}

	var immediate, followUp []*model.AutomationRule
	for _, rule := range rules {
		if rule.EventKind == model.EventStageChanged {
			immediate = append(immediate, rule)
		} else {
			followUp = append(followUp, rule)
		}
	}

	renderCtx := buildRenderContext(event)

	s.sendImmediateRules(ctx, immediate, event, renderCtx, result, log)
	s.scheduleFollowUps(ctx, followUp, event, renderCtx, eventRef, now, result, log)

	log.Info().
		Int("matched_rules", result.MatchedRules).
		Int("immediate_sent", result.ImmediateSent).
		Int("immediate_skipped", result.ImmediateSkipped).
		Int("immediate_failed", result.ImmediateFailed).
		Int("jobs_scheduled", result.JobsScheduled).
		Int("jobs_failed", result.JobsFailed).
		Int("canceled_jobs", result.CanceledJobs).
		Msg("stage change processed")

	return result
}

// CancelForLeavingStage invalidates every PENDING job the lead picked up
// when it entered the given stage. In-flight jobs finish on their own.
func (s *AutomationService) CancelForLeavingStage(ctx context.Context, leadID, stageID int, reason string) int {
	if stageID == 0 {
		return 0
	}
	count, err := s.Jobs.CancelPendingForStage(ctx, leadID, stageID, reason)
	if err != nil {
		s.Log.Error().Err(err).Int("lead_id", leadID).Int("stage_id", stageID).
			Msg("failed to cancel pending jobs for leaving stage")
		return 0
	}
	return count
}

type sendOutcome int

const (
	outcomeSent sendOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// sendImmediateRules fires every STAGE_CHANGED rule concurrently. Each
// rule's failure is isolated: it is logged, counted, and never stops a
// sibling rule or the follow-up scheduling.
func (s *AutomationService) sendImmediateRules(ctx context.Context, rules []*model.AutomationRule, event model.StageChangeEvent, renderCtx map[string]string, result *MatchResult, log zerolog.Logger) {
	if len(rules) == 0 {
		return
	}

	outcomes := make(chan sendOutcome, len(rules))
	var wg sync.WaitGroup
	for _, rule := range rules {
		wg.Add(1)
		go func(rule *model.AutomationRule) {
			defer wg.Done()
			outcomes <- s.sendImmediate(ctx, rule, event, renderCtx, log)
		}(rule)
	}
	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		switch outcome {
		case outcomeSent:
			result.ImmediateSent++
		case outcomeSkipped:
			result.ImmediateSkipped++
		case outcomeFailed:
			result.ImmediateFailed++
		}
	}
}

func (s *AutomationService) sendImmediate(ctx context.Context, rule *model.AutomationRule, event model.StageChangeEvent, renderCtx map[string]string, log zerolog.Logger) sendOutcome {
	ruleLog := log.With().Int("rule_id", rule.ID).Logger()

	if strings.TrimSpace(rule.MessageTemplate) == "" {
		ruleLog.Warn().Msg("skipping rule without message template")
		return outcomeSkipped
	}

	channel, err := s.Channels.GetByID(ctx, rule.ChannelID, rule.CompanyID)
	if err != nil {
		ruleLog.Error().Err(err).Msg("failed to resolve channel instance")
		return outcomeFailed
	}
	if channel == nil || !channel.Active {
		ruleLog.Warn().Int("channel_id", rule.ChannelID).Msg("skipping rule with missing or inactive channel")
		return outcomeSkipped
	}

	rawPhone := destinationPhone(rule, event.Lead.Phone)
	if rawPhone == "" {
		ruleLog.Warn().Msg("skipping rule without destination phone")
		return outcomeSkipped
	}
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		ruleLog.Warn().Err(err).Msg("skipping rule with invalid destination phone")
		return outcomeSkipped
	}

	message := RenderTemplate(rule.MessageTemplate, renderCtx)
	if err := s.Gateway.Send(ctx, channel.InstanceKey, phone, message); err != nil {
		ruleLog.Error().Err(err).Msg("immediate send failed")
		return outcomeFailed
	}

	ruleLog.Info().Str("phone", phone).Msg("immediate message sent")
	return outcomeSent
}

// scheduleFollowUps upserts one job per (rule, step). Upserts are
// independent: one failure is counted and the rest proceed. Retries are
// the dispatcher's job, not the matcher's.
func (s *AutomationService) scheduleFollowUps(ctx context.Context, rules []*model.AutomationRule, event model.StageChangeEvent, renderCtx map[string]string, eventRef string, now time.Time, result *MatchResult, log zerolog.Logger) {
	if len(rules) == 0 {
		return
	}

	ruleIDs := make([]int, len(rules))
	for i, rule := range rules {
		ruleIDs[i] = rule.ID
	}

	steps, err := s.Steps.FindActiveSteps(ctx, ruleIDs)
	if err != nil {
		log.Error().Err(err).Msg("failed to load follow-up steps")
		result.JobsFailed += len(rules)
		return
	}

	for _, step := range steps {
		job := &model.ScheduledJob{
			RuleID:           step.RuleID,
			StepID:           step.ID,
			LeadID:           event.Lead.ID,
			EventRef:         eventRef,
			StageID:          event.NewStage.ID,
			TemplateSnapshot: step.MessageTemplate,
			ContextSnapshot:  renderCtx,
			ScheduledAt:      now.Add(time.Duration(step.DelayMinutes) * time.Minute),
		}
		if err := s.Jobs.Upsert(ctx, job); err != nil {
			log.Error().Err(err).Int("rule_id", step.RuleID).Int("step_id", step.ID).
				Msg("failed to upsert scheduled job")
			result.JobsFailed++
			continue
		}
		result.JobsScheduled++
	}
}

// DeactivateRule turns a rule off and cancels its pending jobs.
func (s *AutomationService) DeactivateRule(ctx context.Context, ruleID int) (int, error) {
	if err := s.Rules.SetActive(ctx, ruleID, false); err != nil {
		return 0, err
	}
	return s.Jobs.CancelPendingForRule(ctx, ruleID, "rule deactivated")
}

// SoftDeleteRule soft-deletes a rule and cancels its pending jobs.
func (s *AutomationService) SoftDeleteRule(ctx context.Context, ruleID int) (int, error) {
	if err := s.Rules.SoftDelete(ctx, ruleID); err != nil {
		return 0, err
	}
	return s.Jobs.CancelPendingForRule(ctx, ruleID, "rule deleted")
}

// AddStep validates the human-entered delay text and appends a step to a
// FOLLOW_UP rule. An unparseable delay flips the rule to CONFIG_ERROR and
// nothing is stored; the next valid step write restores the rule.
func (s *AutomationService) AddStep(ctx context.Context, ruleID, stepOrder int, delayText, messageTemplate string) (*model.FollowUpStep, *delay.ParseError, error) {
	rule, err := s.Rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, nil, err
	}
	if rule.EventKind != model.EventFollowUp {
		return nil, nil, appErrors.NewRuleNotFollowUp(ruleID)
	}

	parsed, perr := delay.Parse(delayText)
	if perr != nil {
		if uerr := s.Rules.UpdateStatus(ctx, ruleID, model.RuleStatusConfigError); uerr != nil {
			s.Log.Error().Err(uerr).Int("rule_id", ruleID).Msg("failed to flag rule CONFIG_ERROR")
		}
		return nil, perr, nil
	}

	step := &model.FollowUpStep{
		RuleID:          ruleID,
		StepOrder:       stepOrder,
		DelayText:       parsed.Raw,
		DelayLabel:      parsed.Label,
		DelayMinutes:    parsed.Minutes,
		MessageTemplate: messageTemplate,
		Active:          true,
	}
	if err := s.Steps.Create(ctx, step); err != nil {
		return nil, nil, err
	}

	if rule.Status == model.RuleStatusConfigError && rule.Active {
		if uerr := s.Rules.UpdateStatus(ctx, ruleID, model.RuleStatusActive); uerr != nil {
			s.Log.Error().Err(uerr).Int("rule_id", ruleID).Msg("failed to restore rule status")
		}
	}

	return step, nil, nil
}

func buildRenderContext(event model.StageChangeEvent) map[string]string {
	return map[string]string{
		CtxLeadName:      event.Lead.Name,
		CtxLeadPhone:     event.Lead.Phone,
		CtxLeadID:        fmt.Sprintf("%d", event.Lead.ID),
		CtxPreviousStage: event.PreviousStage.Name,
		CtxNewStage:      event.NewStage.Name,
	}
}

func destinationPhone(rule *model.AutomationRule, leadPhone string) string {
	if rule.Destination == model.DestinationFixedNumber {
		return rule.FixedNumber
	}
	return leadPhone
}
