package contahub

import "context"

// Data types served by the ContaHub POS analytics API. Each maps to one
// query ID on the vendor side and one normalized warehouse table on ours.
const (
	TypeSales        = "sales"         // per-item sale lines
	TypePayments     = "payments"      // settled payments per check
	TypeHourlySales  = "hourly_sales"  // revenue bucketed by hour
	TypePrepTimes    = "prep_times"    // kitchen/bar production timestamps
	TypePeriodTotals = "period_totals" // per-check totals with guest data
)

// queryIDs maps our data types onto ContaHub report query IDs.
var queryIDs = map[string]string{
	TypeSales:        "77",
	TypePayments:     "7",
	TypeHourlySales:  "101",
	TypePrepTimes:    "81",
	TypePeriodTotals: "5",
}

// extraParams carries the empty filter parameters each query insists on.
var extraParams = map[string][]string{
	TypeSales:     {"produto", "grupo", "local", "turno", "mesa"},
	TypePayments:  {"meio"},
	TypePrepTimes: {"prod", "grupo", "local"},
}

// Config holds ContaHub API settings.
type Config struct {
	BaseURL        string
	TimeoutSeconds int
}

// Credentials are the login inputs for one ContaHub account. CompanyID is
// the vendor-side company the queries are scoped to.
type Credentials struct {
	Email     string
	Password  string
	CompanyID string
}

// CredentialsProvider supplies login credentials per call, so rotation does
// not require rebuilding the client. Implementations must be safe for
// concurrent use.
type CredentialsProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialsProvider returning fixed values.
type StaticCredentials Credentials

// Credentials implements CredentialsProvider.
func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}
