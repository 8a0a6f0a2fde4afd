package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/leadpilot/crm-automation/internal/model"
)

// FollowUpStepRepositoryInterface defines methods used by services
type FollowUpStepRepositoryInterface interface {
	Create(ctx context.Context, s *model.FollowUpStep) error
	ListByRule(ctx context.Context, ruleID int) ([]*model.FollowUpStep, error)
	FindActiveSteps(ctx context.Context, ruleIDs []int) ([]*model.FollowUpStep, error)
	SetActive(ctx context.Context, stepID int, active bool) error
}

// FollowUpStepRepository is the concrete implementation
type FollowUpStepRepository struct {
	DB *sql.DB
}

const stepColumns = `id, rule_id, step_order, delay_text, delay_label, delay_minutes, message_template, active, created_at`

func (r *FollowUpStepRepository) Create(ctx context.Context, s *model.FollowUpStep) error {
	s.CreatedAt = time.Now()
	query := `
        INSERT INTO follow_up_steps (rule_id, step_order, delay_text, delay_label, delay_minutes, message_template, active, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		s.RuleID, s.StepOrder, s.DelayText, s.DelayLabel, s.DelayMinutes,
		s.MessageTemplate, s.Active, s.CreatedAt,
	).Scan(&s.ID)
}

func (r *FollowUpStepRepository) ListByRule(ctx context.Context, ruleID int) ([]*model.FollowUpStep, error) {
	query := `SELECT ` + stepColumns + ` FROM follow_up_steps WHERE rule_id=$1 ORDER BY step_order`
	rows, err := r.DB.QueryContext(ctx, query, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSteps(rows)
}

// FindActiveSteps loads the active steps of all given rules, ordered by
// (rule, step order) so the matcher schedules sequences in sequence order.
func (r *FollowUpStepRepository) FindActiveSteps(ctx context.Context, ruleIDs []int) ([]*model.FollowUpStep, error) {
	if len(ruleIDs) == 0 {
		return []*model.FollowUpStep{}, nil
	}
	query := `
        SELECT ` + stepColumns + `
        FROM follow_up_steps
        WHERE rule_id = ANY($1) AND active=TRUE
        ORDER BY rule_id, step_order
    `
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(ruleIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSteps(rows)
}

func (r *FollowUpStepRepository) SetActive(ctx context.Context, stepID int, active bool) error {
	query := `UPDATE follow_up_steps SET active=$1 WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, active, stepID)
	return err
}

func scanSteps(rows *sql.Rows) ([]*model.FollowUpStep, error) {
	steps := []*model.FollowUpStep{}
	for rows.Next() {
		var s model.FollowUpStep
		if err := rows.Scan(
			&s.ID, &s.RuleID, &s.StepOrder, &s.DelayText, &s.DelayLabel,
			&s.DelayMinutes, &s.MessageTemplate, &s.Active, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}

var _ FollowUpStepRepositoryInterface = (*FollowUpStepRepository)(nil)
