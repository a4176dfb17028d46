package storage

import (
	"context"
	"fmt"

	"wallet/internal/core"
)

const (
	DefaultMonthlyPeriods = 12
	DefaultTopCategories  = 5
)

// monthBounds returns the first day of the month and of the next month, as
// stored date strings. Dates compare lexically.
func monthBounds(year, month int) (string, string) {
	from := core.NewDate(year, month, 1)
	return from.String(), core.DateOf(from.AddDate(0, 1, 0)).String()
}

const monthlyNet = `
SELECT CAST(substr(date, 1, 4) AS INTEGER) AS year,
       CAST(substr(date, 6, 2) AS INTEGER) AS month,
       SUM(CASE WHEN type = 'income' THEN amount_cents ELSE -amount_cents END) AS net
FROM transactions
WHERE owner = ?
GROUP BY year, month
ORDER BY year DESC, month DESC
LIMIT ?`

func (q *Queries) MonthlyNet(ctx context.Context, owner string, periods int) ([]core.MonthlyNet, error) {
	rows, err := q.db.QueryContext(ctx, monthlyNet, owner, periods)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.MonthlyNet
	for rows.Next() {
		var (
			m   core.MonthlyNet
			net int64
		)
		if err := rows.Scan(&m.Year, &m.Month, &net); err != nil {
			return nil, err
		}
		m.Net = core.Cents(net)
		out = append(out, m)
	}
	return out, rows.Err()
}

const topExpenseCategories = `
SELECT c.id, c.name, SUM(t.amount_cents) AS total
FROM transactions t
JOIN categories c ON c.id = t.category_id
WHERE t.owner = ? AND t.type = 'expense' AND t.date >= ? AND t.date < ?
GROUP BY c.id, c.name
ORDER BY total DESC, c.name ASC
LIMIT ?`

func (q *Queries) TopExpenseCategories(ctx context.Context, owner, from, to string, limit int) ([]core.CategoryAmount, error) {
	rows, err := q.db.QueryContext(ctx, topExpenseCategories, owner, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.CategoryAmount
	for rows.Next() {
		var (
			c     core.CategoryAmount
			total int64
		)
		if err := rows.Scan(&c.CategoryID, &c.Name, &total); err != nil {
			return nil, err
		}
		c.Amount = core.Cents(total)
		out = append(out, c)
	}
	return out, rows.Err()
}

const monthTotals = `
SELECT CAST(substr(date, 6, 2) AS INTEGER) AS month,
       SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END) AS income,
       SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END) AS expense
FROM transactions
WHERE owner = ? AND date >= ? AND date < ?
GROUP BY month`

func (q *Queries) MonthTotals(ctx context.Context, owner, from, to string) (map[int]core.MonthTotals, error) {
	rows, err := q.db.QueryContext(ctx, monthTotals, owner, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]core.MonthTotals)
	for rows.Next() {
		var month int
		var income, expense int64
		if err := rows.Scan(&month, &income, &expense); err != nil {
			return nil, err
		}
		out[month] = core.MonthTotals{Month: month, Income: core.Cents(income), Expense: core.Cents(expense)}
	}
	return out, rows.Err()
}

// auditBalances recomputes balances from the opening balance and the
// transactions currently referencing each account. Zero id and empty owner
// mean no filter.
const auditBalances = `
SELECT a.id, a.owner, a.balance_cents,
       a.opening_balance_cents + COALESCE(SUM(CASE WHEN t.type = 'income' THEN t.amount_cents ELSE -t.amount_cents END), 0),
       COUNT(t.id)
FROM accounts a
LEFT JOIN transactions t ON t.account_id = a.id
WHERE (? = 0 OR a.id = ?) AND (? = '' OR a.owner = ?)
GROUP BY a.id, a.owner, a.balance_cents, a.opening_balance_cents
ORDER BY a.id`

func (q *Queries) AuditBalances(ctx context.Context, accountID int64, owner string) ([]core.BalanceAudit, error) {
	rows, err := q.db.QueryContext(ctx, auditBalances, accountID, accountID, owner, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.BalanceAudit
	for rows.Next() {
		var (
			a                core.BalanceAudit
			cached, expected int64
		)
		if err := rows.Scan(&a.AccountID, &a.Owner, &cached, &expected, &a.Transactions); err != nil {
			return nil, err
		}
		a.Cached = core.Cents(cached)
		a.Expected = core.Cents(expected)
		out = append(out, a)
	}
	return out, rows.Err()
}

// MonthlyNet returns income minus expense for the most recent periods months
// that have transactions, newest first. periods <= 0 means twelve.
func (r *SQLiteRepository) MonthlyNet(ctx context.Context, owner string, periods int) ([]core.MonthlyNet, error) {
	if periods <= 0 {
		periods = DefaultMonthlyPeriods
	}
	nets, err := r.queries.MonthlyNet(ctx, owner, periods)
	if err != nil {
		return nil, fmt.Errorf("get monthly net: %w", classify(err))
	}
	return nets, nil
}

// TopExpenseCategories ranks the month's expense categories by total, largest
// first, ties broken by name. limit <= 0 means five.
func (r *SQLiteRepository) TopExpenseCategories(ctx context.Context, owner string, year, month, limit int) ([]core.CategoryAmount, error) {
	if err := core.ValidatePeriod(year, month); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTopCategories
	}
	from, to := monthBounds(year, month)
	top, err := r.queries.TopExpenseCategories(ctx, owner, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("get top expense categories: %w", classify(err))
	}
	return top, nil
}

// YearlySeries returns income and expense totals for each month of year.
// Months without transactions are zero.
func (r *SQLiteRepository) YearlySeries(ctx context.Context, owner string, year int) (core.YearSeries, error) {
	if err := core.ValidatePeriod(year, 1); err != nil {
		return core.YearSeries{}, err
	}
	from := core.NewDate(year, 1, 1).String()
	to := core.NewDate(year+1, 1, 1).String()

	totals, err := r.queries.MonthTotals(ctx, owner, from, to)
	if err != nil {
		return core.YearSeries{}, fmt.Errorf("get yearly series: %w", classify(err))
	}

	series := core.YearSeries{Year: year, Months: make([]core.MonthTotals, 12)}
	for i := range series.Months {
		m, ok := totals[i+1]
		if !ok {
			m = core.MonthTotals{Month: i + 1}
		}
		series.Months[i] = m
	}
	return series, nil
}

// AuditAccount compares one account's cached balance with its recomputed
// balance. It ignores ownership and is meant for maintenance tools.
func (r *SQLiteRepository) AuditAccount(ctx context.Context, id int64) (core.BalanceAudit, error) {
	audits, err := r.queries.AuditBalances(ctx, id, "")
	if err != nil {
		return core.BalanceAudit{}, fmt.Errorf("audit account: %w", classify(err))
	}
	if len(audits) == 0 {
		return core.BalanceAudit{}, core.NotFound("account", id)
	}
	return audits[0], nil
}

func (r *SQLiteRepository) AuditOwner(ctx context.Context, owner string) ([]core.BalanceAudit, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	audits, err := r.queries.AuditBalances(ctx, 0, owner)
	if err != nil {
		return nil, fmt.Errorf("audit owner: %w", classify(err))
	}
	return audits, nil
}

func (r *SQLiteRepository) AuditAll(ctx context.Context) ([]core.BalanceAudit, error) {
	audits, err := r.queries.AuditBalances(ctx, 0, "")
	if err != nil {
		return nil, fmt.Errorf("audit all accounts: %w", classify(err))
	}
	return audits, nil
}
