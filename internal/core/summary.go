package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	CategoryID int64  `json:"category_id"`
	Name       string `json:"name"`
	Amount     Money  `json:"amount"`
}

// MonthlyNet is income minus expense for one calendar month.
type MonthlyNet struct {
	Year  int   `json:"year"`
	Month int   `json:"month"` // 1-12
	Net   Money `json:"net"`
}

// MonthTotals holds both directions for one month of a YearSeries.
type MonthTotals struct {
	Month   int   `json:"month"`
	Income  Money `json:"income"`
	Expense Money `json:"expense"`
}

// YearSeries always has twelve entries, months 1 through 12.
type YearSeries struct {
	Year   int           `json:"year"`
	Months []MonthTotals `json:"months"`
}

// Dashboard is the read-only projection shown to an owner.
type Dashboard struct {
	Owner       string           `json:"owner"`
	Year        int              `json:"year"`
	Month       int              `json:"month"`
	Accounts    []Account        `json:"accounts"`
	MonthlyNet  []MonthlyNet     `json:"monthly_net"`
	TopExpenses []CategoryAmount `json:"top_expenses"`
	Yearly      YearSeries       `json:"yearly"`
}

// BalanceAudit compares an account's cached balance with the balance
// recomputed from its opening balance and current transactions.
type BalanceAudit struct {
	AccountID    int64  `json:"account_id"`
	Owner        string `json:"owner"`
	Cached       Money  `json:"cached"`
	Expected     Money  `json:"expected"`
	Transactions int64  `json:"transactions"`
}

func (a BalanceAudit) Drift() Money {
	return a.Cached.Sub(a.Expected)
}

func (a BalanceAudit) Consistent() bool {
	return a.Drift().IsZero()
}

// ValidatePeriod checks a year and a 1-12 month.
func ValidatePeriod(year, month int) error {
	if year < 1900 || year > 9999 || month < 1 || month > 12 {
		return ErrInvalidPeriod
	}
	return nil
}
