package repository

import (
	"context"
	"database/sql"

	"github.com/leadpilot/crm-automation/internal/model"
)

// ChannelInstanceRepositoryInterface defines methods used by services
type ChannelInstanceRepositoryInterface interface {
	GetByID(ctx context.Context, id, companyID int) (*model.ChannelInstance, error)
	ListByCompany(ctx context.Context, companyID int) ([]model.ChannelInstance, error)
}

// ChannelInstanceRepository is the concrete implementation
type ChannelInstanceRepository struct {
	DB *sql.DB
}

// GetByID fetches a channel instance scoped to its owning company.
// Returns nil when absent or owned by another company.
func (r *ChannelInstanceRepository) GetByID(ctx context.Context, id, companyID int) (*model.ChannelInstance, error) {
	query := `
        SELECT id, company_id, name, instance_key, active
        FROM channel_instances
        WHERE id = $1 AND company_id = $2
    `
	row := r.DB.QueryRowContext(ctx, query, id, companyID)

	var c model.ChannelInstance
	if err := row.Scan(&c.ID, &c.CompanyID, &c.Name, &c.InstanceKey, &c.Active); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

func (r *ChannelInstanceRepository) ListByCompany(ctx context.Context, companyID int) ([]model.ChannelInstance, error) {
	query := `
        SELECT id, company_id, name, instance_key, active
        FROM channel_instances
        WHERE company_id = $1
    `
	rows, err := r.DB.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := []model.ChannelInstance{}
	for rows.Next() {
		var c model.ChannelInstance
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Name, &c.InstanceKey, &c.Active); err != nil {
			return nil, err
		}
		instances = append(instances, c)
	}
	return instances, rows.Err()
}

var _ ChannelInstanceRepositoryInterface = (*ChannelInstanceRepository)(nil)
