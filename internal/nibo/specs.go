package nibo

import "github.com/zykor/barsync/internal/pipeline"

// DataTypes binds the NIBO feeds to their warehouse targets.
func DataTypes(client *Client) []pipeline.DataTypeSpec {
	return []pipeline.DataTypeSpec{
		{
			Name:   TypeSchedules,
			Table:  "accounting_schedules",
			Client: client,
			Parse:  ParseSchedules,
			Columns: []string{
				"bar_id", "idempotency_key", "schedule_id", "schedule_type", "accrual_date",
				"due_date", "schedule_date", "value", "paid_value", "open_value",
				"is_paid", "is_overdue", "description", "reference",
				"stakeholder_id", "stakeholder_name", "category_id", "category_name",
				"cost_center",
			},
		},
	}
}
