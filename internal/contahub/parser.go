package contahub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zykor/barsync/internal/domain"
)

// ContaHub report payloads are loosely typed: numbers arrive as strings or
// floats depending on the query, money fields are prefixed with "$", and
// timestamps are tenant-local wall clock with a printed offset. The parsers
// below default unknown or missing fields and only reject a payload when
// the fields needed for the idempotency key are absent.

type payloadList struct {
	List []map[string]any `json:"list"`
}

func decodeList(payload []byte) ([]map[string]any, error) {
	var p payloadList
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if p.List == nil {
		return nil, fmt.Errorf("%w: missing list", domain.ErrMalformedPayload)
	}
	return p.List, nil
}

// ParseSales maps a sales (per-item line) payload to pos_sales rows.
func ParseSales(payload []byte, barID int64, date string) ([]domain.Row, error) {
	items, err := decodeList(payload)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.Row, 0, len(items))
	for _, it := range items {
		txn := str(it, "trn")
		seq := str(it, "itm")
		if txn == "" || seq == "" {
			return nil, fmt.Errorf("%w: sales item without trn/itm", domain.ErrMalformedPayload)
		}
		saleDate := domain.DateOnly(str(it, "trn_dtgerencial"))
		if saleDate == "" {
			saleDate = date
		}
		rows = append(rows, domain.Row{
			"bar_id":          barID,
			"idempotency_key": domain.IdempotencyKey(strconv.FormatInt(barID, 10), TypeSales, saleDate, txn, seq),
			"sale_date":       saleDate,
			"transaction_id":  txn,
			"item_seq":        seq,
			"product_code":    str(it, "prd"),
			"product_name":    str(it, "prd_desc"),
			"group_name":      str(it, "grp_desc"),
			"location":        str(it, "loc_desc"),
			"table_name":      str(it, "vd_mesadesc"),
			"sale_area":       str(it, "vd_localizacao"),
			"sale_type":       str(it, "tipovenda"),
			"entered_by":      str(it, "usr_lancou"),
			"quantity":        f64(it, "qtd"),
			"discount":        f64(it, "desconto"),
			"gross_value":     f64(it, "valorfinal"),
			"cost":            f64(it, "custo"),
			"notes":           str(it, "itm_obs"),
		})
	}
	return rows, nil
}

// ParsePayments maps a payments payload to pos_payments rows. Posted and
// settled timestamps are textual joins of the vendor date and wall-clock
// time fields; they are never run through a timezone conversion.
func ParsePayments(payload []byte, barID int64, date string) ([]domain.Row, error) {
	items, err := decodeList(payload)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.Row, 0, len(items))
	for _, it := range items {
		receipt := str(it, "vd")
		txn := str(it, "trn")
		if receipt == "" || txn == "" {
			return nil, fmt.Errorf("%w: payment without vd/trn", domain.ErrMalformedPayload)
		}
		payDate := domain.DateOnly(str(it, "dt_gerencial"))
		if payDate == "" {
			payDate = date
		}
		method := str(it, "meio")
		rows = append(rows, domain.Row{
			"bar_id": barID,
			"idempotency_key": domain.IdempotencyKey(
				strconv.FormatInt(barID, 10), TypePayments, payDate, receipt, txn, str(it, "pag"), method),
			"payment_date":  payDate,
			"receipt_id":    receipt,
			"transaction_id": txn,
			"posted_at":     nullable(domain.JoinLocal(payDate, str(it, "hr_lancamento"))),
			"settled_at":    nullable(domain.JoinLocal(domain.DateOnly(str(it, "dt_transacao")), str(it, "hr_transacao"))),
			"table_name":    str(it, "mesa"),
			"customer_name": str(it, "cliente"),
			"method":        method,
			"card_brand":    str(it, "cartao"),
			"auth_code":     str(it, "autorizacao"),
			"gross_value":   f64(it, "$valor"),
			"fee":           f64(it, "$taxa"),
			"net_value":     f64(it, "$liquido"),
			"opened_by":     str(it, "usr_abriu"),
			"entered_by":    str(it, "usr_lancou"),
		})
	}
	return rows, nil
}

// ParseHourlySales maps an hourly revenue payload to pos_hourly_sales rows.
func ParseHourlySales(payload []byte, barID int64, date string) ([]domain.Row, error) {
	items, err := decodeList(payload)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.Row, 0, len(items))
	for _, it := range items {
		saleDate := domain.DateOnly(str(it, "vd_dtgerencial"))
		if saleDate == "" {
			return nil, fmt.Errorf("%w: hourly bucket without date", domain.ErrMalformedPayload)
		}
		hour := parseHour(str(it, "hora"))
		rows = append(rows, domain.Row{
			"bar_id": barID,
			"idempotency_key": domain.IdempotencyKey(
				strconv.FormatInt(barID, 10), TypeHourlySales, saleDate, strconv.Itoa(hour)),
			"sale_date":   saleDate,
			"hour":        hour,
			"weekday_num": i64(it, "dds"),
			"weekday":     str(it, "dia"),
			"item_count":  f64(it, "qtd"),
			"gross_value": f64(it, "$valor"),
		})
	}
	return rows, nil
}

// ParsePrepTimes maps a production-timestamps payload to pos_prep_times
// rows. Stage durations are derived only when both stage times parse and
// the later stage is not earlier than the former; otherwise they are null,
// never negative.
func ParsePrepTimes(payload []byte, barID int64, date string) ([]domain.Row, error) {
	items, err := decodeList(payload)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.Row, 0, len(items))
	for _, it := range items {
		seq := str(it, "itm")
		if seq == "" {
			return nil, fmt.Errorf("%w: prep item without itm", domain.ErrMalformedPayload)
		}
		prepDate := domain.DateOnly(str(it, "dia"))
		if prepDate == "" {
			prepDate = date
		}

		ordered := domain.LocalTimestamp(str(it, "t0-lancamento"))
		prepStart := domain.LocalTimestamp(str(it, "t1-prodini"))
		prepDone := domain.LocalTimestamp(str(it, "t2-prodfim"))
		delivered := domain.LocalTimestamp(str(it, "t3-entrega"))

		rows = append(rows, domain.Row{
			"bar_id": barID,
			"idempotency_key": domain.IdempotencyKey(
				strconv.FormatInt(barID, 10), TypePrepTimes, prepDate, seq),
			"prep_date":        prepDate,
			"item_seq":         seq,
			"product_code":     str(it, "prd"),
			"product_name":     str(it, "prd_desc"),
			"group_name":       str(it, "grp_desc"),
			"location":         str(it, "loc_desc"),
			"table_name":       str(it, "vd_mesadesc"),
			"sale_type":        str(it, "tipovenda"),
			"ordered_at":       nullable(ordered),
			"prep_started_at":  nullable(prepStart),
			"prep_done_at":     nullable(prepDone),
			"delivered_at":     nullable(delivered),
			"queue_seconds":    stageSeconds(ordered, prepStart),
			"prep_seconds":     stageSeconds(prepStart, prepDone),
			"delivery_seconds": stageSeconds(prepDone, delivered),
			"total_seconds":    stageSeconds(ordered, delivered),
			"entered_by":       str(it, "usr_lancou"),
			"produced_by":      str(it, "usr_produziu"),
			"delivered_by":     str(it, "usr_entregou"),
			"quantity":         i64(it, "itm_qtd"),
		})
	}
	return rows, nil
}

// ParsePeriodTotals maps a per-check totals payload to pos_period_totals
// rows. This feed carries guest contact data; the logger redacts it.
func ParsePeriodTotals(payload []byte, barID int64, date string) ([]domain.Row, error) {
	items, err := decodeList(payload)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.Row, 0, len(items))
	for _, it := range items {
		totalDate := domain.DateOnly(str(it, "dt_gerencial"))
		table := str(it, "vd_mesadesc")
		if totalDate == "" || table == "" {
			return nil, fmt.Errorf("%w: period total without date/table", domain.ErrMalformedPayload)
		}
		check := str(it, "cht_nome")
		rows = append(rows, domain.Row{
			"bar_id": barID,
			"idempotency_key": domain.IdempotencyKey(
				strconv.FormatInt(barID, 10), TypePeriodTotals, totalDate, table, check),
			"total_date":     totalDate,
			"check_name":     check,
			"table_name":     table,
			"sale_area":      str(it, "vd_localizacao"),
			"sale_type":      str(it, "tipovenda"),
			"customer_name":  str(it, "cli_nome"),
			"customer_email": str(it, "cli_email"),
			"customer_phone": str(it, "cli_fone"),
			"opened_by":      str(it, "usr_abriu"),
			"guests":         i64(it, "pessoas"),
			"item_count":     i64(it, "qtd_itens"),
			"payments_value": f64(it, "$vr_pagamentos"),
			"products_value": f64(it, "$vr_produtos"),
			"tip_value":      f64(it, "$vr_repique"),
			"cover_value":    f64(it, "$vr_couvert"),
			"discount_value": f64(it, "$vr_desconto"),
			"week_of_year":   weekOfYear(totalDate),
		})
	}
	return rows, nil
}

// stageSeconds derives the wall-clock seconds between two local timestamps
// of the same business date, using only their time-of-day parts.
func stageSeconds(earlier, later string) *int {
	if len(earlier) < 19 || len(later) < 19 {
		return nil
	}
	return domain.DurationSeconds(earlier[11:19], later[11:19])
}

func weekOfYear(date string) int {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0
	}
	_, week := t.ISOWeek()
	return week
}

// parseHour accepts "18", 18, or "18:00" and returns the hour number.
func parseHour(v string) int {
	if i := strings.IndexByte(v, ':'); i >= 0 {
		v = v[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

// nullable turns an empty string into SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// str reads a loosely typed field as a string, defaulting to "".
func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		if v == "null" || v == "undefined" {
			return ""
		}
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// f64 reads a loosely typed field as a float, defaulting to 0.
func f64(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// i64 reads a loosely typed field as an integer, defaulting to 0.
func i64(m map[string]any, key string) int64 {
	return int64(f64(m, key))
}
