package nibo

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/zykor/barsync/internal/domain"
)

// scheduleItem is the subset of a NIBO schedule entry we persist. NIBO is
// strictly typed compared to the POS feeds, so the shape is declared.
type scheduleItem struct {
	ScheduleID   string  `json:"scheduleId"`
	Type         string  `json:"type"`
	AccrualDate  string  `json:"accrualDate"`
	DueDate      string  `json:"dueDate"`
	ScheduleDate string  `json:"scheduleDate"`
	Value        float64 `json:"value"`
	PaidValue    float64 `json:"paidValue"`
	OpenValue    float64 `json:"openValue"`
	IsPaid       bool    `json:"isPaid"`
	IsDued       bool    `json:"isDued"`
	Description  string  `json:"description"`
	Reference    string  `json:"reference"`
	Stakeholder  struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"stakeholder"`
	Category struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"category"`
	CostCenter struct {
		Name string `json:"name"`
	} `json:"costCenter"`
}

// ParseSchedules maps a schedules payload to accounting_schedules rows. An
// entry without its scheduleId cannot be keyed and fails the payload.
func ParseSchedules(payload []byte, barID int64, date string) ([]domain.Row, error) {
	var p struct {
		List []scheduleItem `json:"list"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if p.List == nil {
		return nil, fmt.Errorf("%w: missing list", domain.ErrMalformedPayload)
	}

	rows := make([]domain.Row, 0, len(p.List))
	for _, it := range p.List {
		if it.ScheduleID == "" {
			return nil, fmt.Errorf("%w: schedule without scheduleId", domain.ErrMalformedPayload)
		}
		accrual := domain.DateOnly(it.AccrualDate)
		if accrual == "" {
			accrual = date
		}
		rows = append(rows, domain.Row{
			"bar_id": barID,
			"idempotency_key": domain.IdempotencyKey(
				strconv.FormatInt(barID, 10), TypeSchedules, it.ScheduleID),
			"schedule_id":      it.ScheduleID,
			"schedule_type":    it.Type,
			"accrual_date":     accrual,
			"due_date":         nullableDate(it.DueDate),
			"schedule_date":    nullableDate(it.ScheduleDate),
			"value":            it.Value,
			"paid_value":       it.PaidValue,
			"open_value":       it.OpenValue,
			"is_paid":          it.IsPaid,
			"is_overdue":       it.IsDued,
			"description":      it.Description,
			"reference":        it.Reference,
			"stakeholder_id":   it.Stakeholder.ID,
			"stakeholder_name": it.Stakeholder.Name,
			"category_id":      it.Category.ID,
			"category_name":    it.Category.Name,
			"cost_center":      it.CostCenter.Name,
		})
	}
	return rows, nil
}

func nullableDate(v string) any {
	d := domain.DateOnly(v)
	if d == "" {
		return nil
	}
	return d
}
