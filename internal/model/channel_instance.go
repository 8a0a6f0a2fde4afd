// internal/model/channel_instance.go
package model

// ChannelInstance is one connected WhatsApp instance owned by a company.
// Rules reference an instance by id; lookups are always scoped to the
// rule's company.
type ChannelInstance struct {
	ID          int    `db:"id" json:"id"`
	CompanyID   int    `db:"company_id" json:"company_id"`
	Name        string `db:"name" json:"name"`
	InstanceKey string `db:"instance_key" json:"instance_key"`
	Active      bool   `db:"active" json:"active"`
}
