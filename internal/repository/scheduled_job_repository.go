package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/leadpilot/crm-automation/internal/model"
)

type ScheduledJobRepositoryInterface interface {
	Upsert(ctx context.Context, job *model.ScheduledJob) error
	GetByID(ctx context.Context, id int) (*model.ScheduledJob, error)
	FindDue(ctx context.Context, companyID int, now time.Time, limit int) ([]*model.ScheduledJob, error)
	Claim(ctx context.Context, id int) (bool, error)
	MarkSent(ctx context.Context, id int, sentAt time.Time) error
	Reschedule(ctx context.Context, id int, at time.Time, attempts int, lastError string) error
	MarkFailed(ctx context.Context, id, attempts int, lastError string) error
	Cancel(ctx context.Context, id int, reason string) error
	CancelPendingForStage(ctx context.Context, leadID, stageID int, reason string) (int, error)
	CancelPendingForRule(ctx context.Context, ruleID int, reason string) (int, error)
	Stats(ctx context.Context, companyID int) (map[string]int, error)
}

type ScheduledJobRepository struct {
	DB *sql.DB
}

const jobColumns = `id, rule_id, step_id, lead_id, event_ref, stage_id, template_snapshot, context_snapshot, scheduled_at, status, attempts, last_error, cancel_reason, sent_at, created_at, updated_at`

// Upsert inserts a job, or resets the existing row sharing its
// (rule, step, lead, event_ref) key: scheduled_at and the snapshots are
// replaced, status returns to PENDING, attempts to 0. Rows that already
// reached SENT are left untouched; a CANCELED or FAILED row is
// resurrected by a fresh trigger.
func (r *ScheduledJobRepository) Upsert(ctx context.Context, job *model.ScheduledJob) error {
	ctxJSON, err := json.Marshal(job.ContextSnapshot)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO scheduled_jobs
            (rule_id, step_id, lead_id, event_ref, stage_id, template_snapshot, context_snapshot, scheduled_at, status, attempts, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'PENDING', 0, NOW(), NOW())
        ON CONFLICT (rule_id, step_id, lead_id, event_ref) DO UPDATE
        SET stage_id=EXCLUDED.stage_id,
            template_snapshot=EXCLUDED.template_snapshot,
            context_snapshot=EXCLUDED.context_snapshot,
            scheduled_at=EXCLUDED.scheduled_at,
            status='PENDING',
            attempts=0,
            last_error=NULL,
            cancel_reason=NULL,
            sent_at=NULL,
            updated_at=NOW()
        WHERE scheduled_jobs.status <> 'SENT'
        RETURNING id
    `
	err = r.DB.QueryRowContext(ctx, query,
		job.RuleID, job.StepID, job.LeadID, job.EventRef, job.StageID,
		job.TemplateSnapshot, ctxJSON, job.ScheduledAt,
	).Scan(&job.ID)
	if err == sql.ErrNoRows {
		// existing row already SENT, nothing to reschedule
		return nil
	}
	if err != nil {
		return err
	}
	job.Status = model.JobStatusPending
	job.Attempts = 0
	return nil
}

func (r *ScheduledJobRepository) GetByID(ctx context.Context, id int) (*model.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE id=$1`
	job, err := scanJob(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// FindDue returns PENDING jobs whose fire time has passed, oldest first.
// companyID 0 means all companies.
func (r *ScheduledJobRepository) FindDue(ctx context.Context, companyID int, now time.Time, limit int) ([]*model.ScheduledJob, error) {
	query := `
        SELECT j.id, j.rule_id, j.step_id, j.lead_id, j.event_ref, j.stage_id, j.template_snapshot, j.context_snapshot,
               j.scheduled_at, j.status, j.attempts, j.last_error, j.cancel_reason, j.sent_at, j.created_at, j.updated_at
        FROM scheduled_jobs j
        JOIN automation_rules r ON r.id = j.rule_id
        WHERE j.status='PENDING'
          AND j.scheduled_at <= $1
          AND ($2 = 0 OR r.company_id = $2)
        ORDER BY j.scheduled_at ASC
        LIMIT $3
    `
	rows, err := r.DB.QueryContext(ctx, query, now, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*model.ScheduledJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim moves a job from PENDING to PROCESSING. Only one caller can win
// the transition, so concurrent dispatcher runs never double-send a job.
func (r *ScheduledJobRepository) Claim(ctx context.Context, id int) (bool, error) {
	query := `UPDATE scheduled_jobs SET status='PROCESSING', updated_at=NOW() WHERE id=$1 AND status='PENDING'`
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *ScheduledJobRepository) MarkSent(ctx context.Context, id int, sentAt time.Time) error {
	query := `UPDATE scheduled_jobs SET status='SENT', sent_at=$1, last_error=NULL, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, sentAt, id)
	return err
}

func (r *ScheduledJobRepository) Reschedule(ctx context.Context, id int, at time.Time, attempts int, lastError string) error {
	query := `UPDATE scheduled_jobs SET status='PENDING', scheduled_at=$1, attempts=$2, last_error=$3, updated_at=NOW() WHERE id=$4`
	_, err := r.DB.ExecContext(ctx, query, at, attempts, lastError, id)
	return err
}

func (r *ScheduledJobRepository) MarkFailed(ctx context.Context, id, attempts int, lastError string) error {
	query := `UPDATE scheduled_jobs SET status='FAILED', attempts=$1, last_error=$2, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.ExecContext(ctx, query, attempts, lastError, id)
	return err
}

// Cancel is a no-op on terminal jobs.
func (r *ScheduledJobRepository) Cancel(ctx context.Context, id int, reason string) error {
	query := `UPDATE scheduled_jobs SET status='CANCELED', cancel_reason=$1, updated_at=NOW() WHERE id=$2 AND status IN ('PENDING','PROCESSING')`
	_, err := r.DB.ExecContext(ctx, query, reason, id)
	return err
}

// CancelPendingForStage invalidates the follow-up cohort a lead picked up
// when it entered stageID. In-flight PROCESSING jobs are left alone.
func (r *ScheduledJobRepository) CancelPendingForStage(ctx context.Context, leadID, stageID int, reason string) (int, error) {
	query := `
        UPDATE scheduled_jobs
        SET status='CANCELED', cancel_reason=$1, updated_at=NOW()
        WHERE lead_id=$2 AND stage_id=$3 AND status='PENDING'
    `
	res, err := r.DB.ExecContext(ctx, query, reason, leadID, stageID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *ScheduledJobRepository) CancelPendingForRule(ctx context.Context, ruleID int, reason string) (int, error) {
	query := `
        UPDATE scheduled_jobs
        SET status='CANCELED', cancel_reason=$1, updated_at=NOW()
        WHERE rule_id=$2 AND status='PENDING'
    `
	res, err := r.DB.ExecContext(ctx, query, reason, ruleID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *ScheduledJobRepository) Stats(ctx context.Context, companyID int) (map[string]int, error) {
	query := `
        SELECT j.status, COUNT(*)
        FROM scheduled_jobs j
        JOIN automation_rules r ON r.id = j.rule_id
        WHERE $1 = 0 OR r.company_id = $1
        GROUP BY j.status
    `
	rows, err := r.DB.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"pending": 0, "processing": 0, "sent": 0, "failed": 0, "canceled": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch model.JobStatus(status) {
		case model.JobStatusPending:
			stats["pending"] = count
		case model.JobStatusProcessing:
			stats["processing"] = count
		case model.JobStatusSent:
			stats["sent"] = count
		case model.JobStatusFailed:
			stats["failed"] = count
		case model.JobStatusCanceled:
			stats["canceled"] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sentTodayQuery := `
        SELECT COUNT(*)
        FROM scheduled_jobs j
        JOIN automation_rules r ON r.id = j.rule_id
        WHERE j.status='SENT' AND j.sent_at >= date_trunc('day', NOW())
          AND ($1 = 0 OR r.company_id = $1)
    `
	var sentToday int
	if err := r.DB.QueryRowContext(ctx, sentTodayQuery, companyID).Scan(&sentToday); err != nil {
		return nil, err
	}
	stats["sent_today"] = sentToday

	return stats, nil
}

func scanJob(row rowScanner) (*model.ScheduledJob, error) {
	var job model.ScheduledJob
	var ctxJSON []byte
	var lastError, cancelReason sql.NullString
	err := row.Scan(
		&job.ID, &job.RuleID, &job.StepID, &job.LeadID, &job.EventRef, &job.StageID,
		&job.TemplateSnapshot, &ctxJSON, &job.ScheduledAt, &job.Status,
		&job.Attempts, &lastError, &cancelReason, &job.SentAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.LastError = lastError.String
	job.CancelReason = cancelReason.String
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &job.ContextSnapshot); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

var _ ScheduledJobRepositoryInterface = (*ScheduledJobRepository)(nil)
