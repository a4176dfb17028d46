package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"wallet/internal/cache"
	"wallet/internal/core"
	applog "wallet/internal/log"
)

// SummaryReader provides the read-only aggregations behind a dashboard.
type SummaryReader interface {
	ListAccounts(ctx context.Context, owner string) ([]core.Account, error)
	MonthlyNet(ctx context.Context, owner string, periods int) ([]core.MonthlyNet, error)
	TopExpenseCategories(ctx context.Context, owner string, year, month, limit int) ([]core.CategoryAmount, error)
	YearlySeries(ctx context.Context, owner string, year int) (core.YearSeries, error)
}

const (
	dashboardPeriods = 12
	dashboardTop     = 5
)

// SummaryService builds dashboards and caches them per owner and period.
type SummaryService struct {
	store  SummaryReader
	cache  cache.Cache[core.Dashboard]
	logger *applog.Logger

	// generations counts invalidations per owner. A dashboard is cached only
	// if no invalidation happened while it was being built.
	mu          sync.Mutex
	generations map[string]uint64
}

// NewSummaryService wires the service. A nil cache disables caching.
func NewSummaryService(store SummaryReader, c cache.Cache[core.Dashboard], logger *applog.Logger) *SummaryService {
	if logger == nil {
		logger = applog.Discard()
	}
	return &SummaryService{
		store:       store,
		cache:       c,
		logger:      logger.WithComponent(applog.ComponentSummary),
		generations: make(map[string]uint64),
	}
}

// Owners are quoted so that one owner's prefix never matches another's keys.
func ownerPrefix(owner string) string {
	return "dashboard:" + strconv.Quote(owner) + ":"
}

func dashboardKey(owner string, year, month int) string {
	return fmt.Sprintf("%s%d-%02d", ownerPrefix(owner), year, month)
}

// Dashboard returns accounts, monthly net, the month's top expense
// categories and the year's series. The four queries run concurrently.
func (s *SummaryService) Dashboard(ctx context.Context, owner string, year, month int) (core.Dashboard, error) {
	if owner == "" {
		return core.Dashboard{}, core.ErrMissingOwner
	}
	if err := core.ValidatePeriod(year, month); err != nil {
		return core.Dashboard{}, err
	}

	key := dashboardKey(owner, year, month)
	if s.cache != nil {
		if d, ok := s.cache.Get(key); ok {
			s.logger.DebugContext(ctx, "Dashboard cache hit", applog.FieldOwner, owner, applog.FieldYear, year, applog.FieldMonth, month)
			return d, nil
		}
	}

	gen := s.generation(owner)
	d := core.Dashboard{Owner: owner, Year: year, Month: month}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		accounts, err := s.store.ListAccounts(gctx, owner)
		if err != nil {
			return fmt.Errorf("accounts: %w", err)
		}
		d.Accounts = accounts
		return nil
	})
	g.Go(func() error {
		nets, err := s.store.MonthlyNet(gctx, owner, dashboardPeriods)
		if err != nil {
			return fmt.Errorf("monthly net: %w", err)
		}
		d.MonthlyNet = nets
		return nil
	})
	g.Go(func() error {
		top, err := s.store.TopExpenseCategories(gctx, owner, year, month, dashboardTop)
		if err != nil {
			return fmt.Errorf("top expenses: %w", err)
		}
		d.TopExpenses = top
		return nil
	})
	g.Go(func() error {
		series, err := s.store.YearlySeries(gctx, owner, year)
		if err != nil {
			return fmt.Errorf("yearly series: %w", err)
		}
		d.Yearly = series
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.Dashboard{}, fmt.Errorf("build dashboard: %w", err)
	}

	if s.cache != nil {
		s.mu.Lock()
		if s.generations[owner] == gen {
			s.cache.Set(key, d)
		} else {
			s.logger.DebugContext(ctx, "Dashboard changed while building, not caching", applog.FieldOwner, owner)
		}
		s.mu.Unlock()
	}
	return d, nil
}

func (s *SummaryService) generation(owner string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[owner]
}

// Invalidate drops every cached dashboard of owner.
func (s *SummaryService) Invalidate(owner string) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	s.generations[owner]++
	n := s.cache.DeletePrefix(ownerPrefix(owner))
	s.mu.Unlock()
	if n > 0 {
		s.logger.Debug("Dashboards invalidated", applog.FieldOwner, owner, "count", n)
	}
}
