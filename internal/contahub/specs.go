package contahub

import "github.com/zykor/barsync/internal/pipeline"

// DataTypes binds the ContaHub report feeds to their warehouse targets.
// Column order here is the column order of the generated upserts.
func DataTypes(client *Client) []pipeline.DataTypeSpec {
	return []pipeline.DataTypeSpec{
		{
			Name:   TypeSales,
			Table:  "pos_sales",
			Client: client,
			Parse:  ParseSales,
			Columns: []string{
				"bar_id", "idempotency_key", "sale_date", "transaction_id", "item_seq",
				"product_code", "product_name", "group_name", "location", "table_name",
				"sale_area", "sale_type", "entered_by", "quantity", "discount",
				"gross_value", "cost", "notes",
			},
		},
		{
			Name:   TypePayments,
			Table:  "pos_payments",
			Client: client,
			Parse:  ParsePayments,
			Columns: []string{
				"bar_id", "idempotency_key", "payment_date", "receipt_id", "transaction_id",
				"posted_at", "settled_at", "table_name", "customer_name", "method",
				"card_brand", "auth_code", "gross_value", "fee", "net_value",
				"opened_by", "entered_by",
			},
		},
		{
			Name:   TypeHourlySales,
			Table:  "pos_hourly_sales",
			Client: client,
			Parse:  ParseHourlySales,
			Columns: []string{
				"bar_id", "idempotency_key", "sale_date", "hour", "weekday_num",
				"weekday", "item_count", "gross_value",
			},
		},
		{
			Name:   TypePrepTimes,
			Table:  "pos_prep_times",
			Client: client,
			Parse:  ParsePrepTimes,
			Columns: []string{
				"bar_id", "idempotency_key", "prep_date", "item_seq", "product_code",
				"product_name", "group_name", "location", "table_name", "sale_type",
				"ordered_at", "prep_started_at", "prep_done_at", "delivered_at",
				"queue_seconds", "prep_seconds", "delivery_seconds", "total_seconds",
				"entered_by", "produced_by", "delivered_by", "quantity",
			},
		},
		{
			Name:   TypePeriodTotals,
			Table:  "pos_period_totals",
			Client: client,
			Parse:  ParsePeriodTotals,
			Columns: []string{
				"bar_id", "idempotency_key", "total_date", "check_name", "table_name",
				"sale_area", "sale_type", "customer_name", "customer_email", "customer_phone",
				"opened_by", "guests", "item_count", "payments_value", "products_value",
				"tip_value", "cover_value", "discount_value", "week_of_year",
			},
		},
	}
}
