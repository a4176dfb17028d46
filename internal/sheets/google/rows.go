package google

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"wallet/internal/core"
)

// Report sheet layout: one header row, then twelve rows per owner.
var reportHeader = []interface{}{"Owner", "Year", "Month", "Income", "Expense", "Net"}

const (
	colOwner = iota
	colYear
	colMonth
	colIncome
	colExpense
	colNet
)

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// a1 quotes a sheet name for A1 notation.
func a1(sheet, cells string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}

// seriesRows renders the twelve data rows of one owner.
func seriesRows(owner string, series core.YearSeries) [][]interface{} {
	rows := make([][]interface{}, 0, len(series.Months))
	for _, m := range series.Months {
		rows = append(rows, []interface{}{
			owner,
			series.Year,
			m.Month,
			m.Income.String(),
			m.Expense.String(),
			m.Income.Sub(m.Expense).String(),
		})
	}
	return rows
}

// locateOwner returns the 1-based row of the owner's first data row in
// column A, if present.
func locateOwner(column [][]interface{}, owner string) (int, bool) {
	for i, row := range column {
		if i == 0 || len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == owner {
			return i + 1, true
		}
	}
	return 0, false
}

// parseSeriesRows rebuilds an owner's series from sheet values. Months with
// no row stay zero.
func parseSeriesRows(values [][]interface{}, owner string, year int) (core.YearSeries, bool) {
	series := core.YearSeries{Year: year, Months: make([]core.MonthTotals, 12)}
	for i := range series.Months {
		series.Months[i].Month = i + 1
	}

	found := false
	for i, row := range values {
		if i == 0 || len(row) <= colExpense {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[colOwner])) != owner {
			continue
		}
		y, okY := cellInt(row[colYear])
		month, okM := cellInt(row[colMonth])
		if !okY || !okM || y != year || month < 1 || month > 12 {
			continue
		}
		income, _ := cellMoney(row[colIncome])
		expense, _ := cellMoney(row[colExpense])
		series.Months[month-1] = core.MonthTotals{Month: month, Income: income, Expense: expense}
		found = true
	}
	return series, found
}

// Unformatted reads return numbers as float64; user-entered text stays a string.
func cellMoney(v interface{}) (core.Money, bool) {
	switch x := v.(type) {
	case float64:
		return core.Cents(decimal.NewFromFloat(x).Shift(2).Round(0).IntPart()), true
	case string:
		m, err := core.ParseMoney(x)
		return m, err == nil
	}
	return core.Money{}, false
}

func cellInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}
