package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/leadpilot/crm-automation/internal/errors"
	"github.com/leadpilot/crm-automation/internal/model"
)

type AutomationRuleRepositoryInterface interface {
	// Rule CRUD
	ListRules(ctx context.Context, offset, limit, companyID int, status string) ([]*model.AutomationRule, int, error)
	GetByID(ctx context.Context, id int) (*model.AutomationRule, error)
	Create(ctx context.Context, r *model.AutomationRule) error
	Update(ctx context.Context, r *model.AutomationRule) error
	UpdateStatus(ctx context.Context, ruleID int, status model.RuleStatus) error
	SetActive(ctx context.Context, ruleID int, active bool) error
	SoftDelete(ctx context.Context, ruleID int) error

	// Matching
	FindActiveRules(ctx context.Context, companyID int, kinds []model.EventKind, stageID int) ([]*model.AutomationRule, error)
}

type AutomationRuleRepository struct {
	DB *sql.DB
}

const ruleColumns = `id, company_id, channel_id, event_kind, stage_id, destination, fixed_number, message_template, active, status, deleted_at, created_at, updated_at`

// ====================== Rule CRUD ======================

func (r *AutomationRuleRepository) Create(ctx context.Context, rule *model.AutomationRule) error {
	rule.CreatedAt = time.Now()
	if rule.Status == "" {
		rule.Status = model.RuleStatusActive
	}
	query := `
        INSERT INTO automation_rules (company_id, channel_id, event_kind, stage_id, destination, fixed_number, message_template, active, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		rule.CompanyID, rule.ChannelID, rule.EventKind, rule.StageID,
		rule.Destination, rule.FixedNumber, rule.MessageTemplate,
		rule.Active, rule.Status, rule.CreatedAt,
	).Scan(&rule.ID)
}

func (r *AutomationRuleRepository) Update(ctx context.Context, rule *model.AutomationRule) error {
	query := `
        UPDATE automation_rules
        SET channel_id=$1, event_kind=$2, stage_id=$3, destination=$4, fixed_number=$5, message_template=$6, active=$7, status=$8, updated_at=NOW()
        WHERE id=$9 AND deleted_at IS NULL
    `
	_, err := r.DB.ExecContext(ctx, query,
		rule.ChannelID, rule.EventKind, rule.StageID, rule.Destination,
		rule.FixedNumber, rule.MessageTemplate, rule.Active, rule.Status, rule.ID,
	)
	return err
}

func (r *AutomationRuleRepository) UpdateStatus(ctx context.Context, ruleID int, status model.RuleStatus) error {
	query := `UPDATE automation_rules SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.ExecContext(ctx, query, status, time.Now(), ruleID)
	return err
}

func (r *AutomationRuleRepository) SetActive(ctx context.Context, ruleID int, active bool) error {
	status := model.RuleStatusActive
	if !active {
		status = model.RuleStatusInactive
	}
	query := `UPDATE automation_rules SET active=$1, status=$2, updated_at=NOW() WHERE id=$3 AND deleted_at IS NULL`
	_, err := r.DB.ExecContext(ctx, query, active, status, ruleID)
	return err
}

func (r *AutomationRuleRepository) SoftDelete(ctx context.Context, ruleID int) error {
	query := `UPDATE automation_rules SET deleted_at=NOW(), active=FALSE, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`
	_, err := r.DB.ExecContext(ctx, query, ruleID)
	return err
}

func (r *AutomationRuleRepository) GetByID(ctx context.Context, id int) (*model.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id=$1`
	rule, err := scanRule(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewRuleNotFound(id)
		}
		return nil, err
	}
	return rule, nil
}

func (r *AutomationRuleRepository) ListRules(ctx context.Context, offset, limit, companyID int, status string) ([]*model.AutomationRule, int, error) {
	rules := []*model.AutomationRule{}
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE deleted_at IS NULL`
	args := []interface{}{}
	argPos := 1

	if companyID > 0 {
		query += fmt.Sprintf(" AND company_id=$%d", argPos)
		args = append(args, companyID)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		rules = append(rules, rule)
	}

	// Count total
	countQuery := `SELECT COUNT(*) FROM automation_rules WHERE deleted_at IS NULL`
	argsCount := []interface{}{}
	argPosCount := 1
	if companyID > 0 {
		countQuery += fmt.Sprintf(" AND company_id=$%d", argPosCount)
		argsCount = append(argsCount, companyID)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return rules, total, nil
}

// ====================== Matching ======================

// FindActiveRules selects the rules a stage-change event can trigger:
// active, not soft-deleted, not in CONFIG_ERROR, of one of the given
// kinds, and whose stage filter is NULL or matches the entered stage.
func (r *AutomationRuleRepository) FindActiveRules(ctx context.Context, companyID int, kinds []model.EventKind, stageID int) ([]*model.AutomationRule, error) {
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}

	query := `
        SELECT ` + ruleColumns + `
        FROM automation_rules
        WHERE company_id=$1
          AND active=TRUE
          AND deleted_at IS NULL
          AND status <> 'CONFIG_ERROR'
          AND event_kind = ANY($2)
          AND (stage_id IS NULL OR stage_id=$3)
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, query, companyID, pq.Array(kindStrs), stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []*model.AutomationRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*model.AutomationRule, error) {
	var rule model.AutomationRule
	var stageID sql.NullInt64
	var fixedNumber, messageTemplate sql.NullString
	err := row.Scan(
		&rule.ID, &rule.CompanyID, &rule.ChannelID, &rule.EventKind, &stageID,
		&rule.Destination, &fixedNumber, &messageTemplate,
		&rule.Active, &rule.Status, &rule.DeletedAt, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stageID.Valid {
		v := int(stageID.Int64)
		rule.StageID = &v
	}
	rule.FixedNumber = fixedNumber.String
	rule.MessageTemplate = messageTemplate.String
	return &rule, nil
}

var _ AutomationRuleRepositoryInterface = (*AutomationRuleRepository)(nil)
