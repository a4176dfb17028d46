// Package memory keeps exported reports in process, for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"wallet/internal/core"
	ports "wallet/internal/sheets"
)

var (
	_ ports.ReportWriter = (*Store)(nil)
	_ ports.ReportReader = (*Store)(nil)
)

type reportKey struct {
	owner string
	year  int
}

type Store struct {
	mu      sync.Mutex
	reports map[reportKey]core.YearSeries
	writes  int
}

func New() *Store {
	return &Store{reports: make(map[reportKey]core.YearSeries)}
}

// WriteYearlySeries stores a copy of series and returns a synthetic reference.
func (s *Store) WriteYearlySeries(_ context.Context, owner string, series core.YearSeries) (string, error) {
	if owner == "" {
		return "", core.ErrMissingOwner
	}
	if len(series.Months) != 12 {
		return "", fmt.Errorf("yearly series for %d has %d months", series.Year, len(series.Months))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	series.Months = append([]core.MonthTotals(nil), series.Months...)
	s.reports[reportKey{owner, series.Year}] = series
	s.writes++
	return fmt.Sprintf("mem:%s/%d", owner, series.Year), nil
}

func (s *Store) ReadYearlySeries(_ context.Context, owner string, year int) (core.YearSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.reports[reportKey{owner, year}]
	if !ok {
		return core.YearSeries{}, ports.ErrNoReport
	}
	series.Months = append([]core.MonthTotals(nil), series.Months...)
	return series, nil
}

// Writes counts successful exports.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
