// internal/service/dispatcher_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/leadpilot/crm-automation/internal/errors"
	"github.com/leadpilot/crm-automation/internal/gateway"
	"github.com/leadpilot/crm-automation/internal/logger"
	"github.com/leadpilot/crm-automation/internal/model"
	"github.com/leadpilot/crm-automation/internal/repository"
)

const (
	// DefaultBatchLimit caps how many due jobs one run drains.
	DefaultBatchLimit = 50
	maxAttempts       = 3
	backoffStep       = 5 * time.Minute
)

// DispatcherService drains due follow-up jobs. Jobs are processed one at
// a time to cap the outbound rate against the messaging provider; each
// job is claimed atomically so concurrent runs never double-send.
// Run never returns an error: every outcome lands in the DispatchResult.
type DispatcherService struct {
	Rules    repository.AutomationRuleRepositoryInterface
	Jobs     repository.ScheduledJobRepositoryInterface
	Channels repository.ChannelInstanceRepositoryInterface
	Gateway  gateway.MessagingGateway
	Log      zerolog.Logger
	Now      func() time.Time
}

// DispatchOptions parameterize one dispatcher run.
type DispatchOptions struct {
	Limit     int    `json:"limit"`
	CompanyID int    `json:"company_id"` // 0 = all companies
	Origin    string `json:"origin"`     // tag for logs: "ticker", "http", ...
}

// JobDetail records the outcome of one job in a run.
type JobDetail struct {
	JobID       int             `json:"job_id"`
	RuleID      int             `json:"rule_id"`
	StepID      int             `json:"step_id"`
	LeadID      int             `json:"lead_id"`
	Attempt     int             `json:"attempt"`
	FinalStatus model.JobStatus `json:"final_status"`
	Error       string          `json:"error,omitempty"`
}

// DispatchResult summarizes one dispatcher run.
type DispatchResult struct {
	RunID     string      `json:"run_id"`
	Origin    string      `json:"origin"`
	Processed int         `json:"processed"`
	Sent      int         `json:"sent"`
	Failed    int         `json:"failed"`
	Canceled  int         `json:"canceled"`
	Skipped   int         `json:"skipped"`
	Details   []JobDetail `json:"details"`
}

func (s *DispatcherService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run claims and sends every due job up to the batch limit, in ascending
// scheduled_at order.
func (s *DispatcherService) Run(ctx context.Context, opts DispatchOptions) *DispatchResult {
	log, runID := logger.WithRun(s.Log)
	log = log.With().Str("origin", opts.Origin).Logger()

	result := &DispatchResult{RunID: runID, Origin: opts.Origin, Details: []JobDetail{}}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	jobs, err := s.Jobs.FindDue(ctx, opts.CompanyID, s.now(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to query due jobs")
		return result
	}
	if len(jobs) == 0 {
		log.Info().Msg("no due jobs")
		return result
	}

	for _, job := range jobs {
		s.dispatchJob(ctx, job, result, log)
	}

	log.Info().
		Int("processed", result.Processed).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Int("canceled", result.Canceled).
		Int("skipped", result.Skipped).
		Msg("dispatch batch finished")

	return result
}

func (s *DispatcherService) dispatchJob(ctx context.Context, job *model.ScheduledJob, result *DispatchResult, log zerolog.Logger) {
	jobLog := log.With().Int("job_id", job.ID).Int("rule_id", job.RuleID).Logger()

	claimed, err := s.Jobs.Claim(ctx, job.ID)
	if err != nil {
		jobLog.Error().Err(err).Msg("failed to claim job")
		result.Details = append(result.Details, s.detail(job, job.Status, "claim: "+err.Error()))
		return
	}
	if !claimed {
		// another dispatcher run won the job
		jobLog.Info().Msg("claim lost, skipping job")
		result.Skipped++
		return
	}
	result.Processed++

	rule, err := s.Rules.GetByID(ctx, job.RuleID)
	var notFound *appErrors.ErrRuleNotFound
	if errors.As(err, &notFound) || (err == nil && !ruleDispatchable(rule)) {
		if cerr := s.Jobs.Cancel(ctx, job.ID, "rule inactive or missing"); cerr != nil {
			jobLog.Error().Err(cerr).Msg("failed to cancel orphaned job")
		}
		result.Canceled++
		result.Details = append(result.Details, s.detail(job, model.JobStatusCanceled, "rule inactive or missing"))
		jobLog.Info().Msg("job canceled: rule inactive or missing")
		return
	}
	if err != nil {
		s.retryOrFail(ctx, job, err, result, jobLog)
		return
	}

	if err := s.sendJob(ctx, job, rule); err != nil {
		s.retryOrFail(ctx, job, err, result, jobLog)
		return
	}

	sentAt := s.now()
	if err := s.Jobs.MarkSent(ctx, job.ID, sentAt); err != nil {
		jobLog.Error().Err(err).Msg("message sent but status update failed")
	}
	result.Sent++
	result.Details = append(result.Details, s.detail(job, model.JobStatusSent, ""))
	jobLog.Info().Msg("follow-up message sent")
}

// sendJob resolves channel + phone from the job's stored snapshot, renders
// the stored template and pushes the message through the gateway.
func (s *DispatcherService) sendJob(ctx context.Context, job *model.ScheduledJob, rule *model.AutomationRule) error {
	channel, err := s.Channels.GetByID(ctx, rule.ChannelID, rule.CompanyID)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}
	if channel == nil {
		return appErrors.NewChannelNotFound(rule.ChannelID, rule.CompanyID)
	}

	rawPhone := destinationPhone(rule, job.ContextSnapshot[CtxLeadPhone])
	if rawPhone == "" {
		return fmt.Errorf("no destination phone for job %d", job.ID)
	}
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return fmt.Errorf("invalid destination phone: %w", err)
	}

	message := RenderTemplate(job.TemplateSnapshot, job.ContextSnapshot)
	if err := s.Gateway.Send(ctx, channel.InstanceKey, phone, message); err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}
	return nil
}

// retryOrFail applies the retry policy: linear backoff of attempts*5m,
// terminal FAILED at the third attempt. A terminally failed job also
// flags its rule with JOB_ERROR for the operators.
func (s *DispatcherService) retryOrFail(ctx context.Context, job *model.ScheduledJob, cause error, result *DispatchResult, jobLog zerolog.Logger) {
	attempts := job.Attempts + 1
	job.Attempts = attempts

	if attempts >= maxAttempts {
		if err := s.Jobs.MarkFailed(ctx, job.ID, attempts, cause.Error()); err != nil {
			jobLog.Error().Err(err).Msg("failed to mark job FAILED")
		}
		if err := s.Rules.UpdateStatus(ctx, job.RuleID, model.RuleStatusJobError); err != nil {
			jobLog.Error().Err(err).Msg("failed to flag rule JOB_ERROR")
		}
		result.Failed++
		result.Details = append(result.Details, s.detail(job, model.JobStatusFailed, cause.Error()))
		jobLog.Error().Err(cause).Int("attempts", attempts).Msg("job permanently failed")
		return
	}

	retryAt := s.now().Add(time.Duration(attempts) * backoffStep)
	if err := s.Jobs.Reschedule(ctx, job.ID, retryAt, attempts, cause.Error()); err != nil {
		jobLog.Error().Err(err).Msg("failed to reschedule job")
	}
	result.Failed++
	result.Details = append(result.Details, s.detail(job, model.JobStatusPending, cause.Error()))
	jobLog.Warn().Err(cause).Int("attempt", attempts).Time("retry_at", retryAt).Msg("job send failed, rescheduled")
}

func (s *DispatcherService) detail(job *model.ScheduledJob, status model.JobStatus, errText string) JobDetail {
	return JobDetail{
		JobID:       job.ID,
		RuleID:      job.RuleID,
		StepID:      job.StepID,
		LeadID:      job.LeadID,
		Attempt:     job.Attempts,
		FinalStatus: status,
		Error:       errText,
	}
}

func ruleDispatchable(rule *model.AutomationRule) bool {
	return rule != nil && rule.Active && rule.DeletedAt == nil && rule.EventKind == model.EventFollowUp
}
