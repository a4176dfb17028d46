// Package sheets defines the report export ports. Adapters live in the
// google and memory subpackages.
package sheets

import (
	"context"
	"errors"

	"wallet/internal/core"
)

// ErrNoReport is returned when nothing was exported yet for an owner and year.
var ErrNoReport = errors.New("no report for owner and year")

// Ports for outbound adapters.
type (
	// ReportWriter exports an owner's yearly series, replacing any previous
	// export of the same owner and year.
	ReportWriter interface {
		WriteYearlySeries(ctx context.Context, owner string, series core.YearSeries) (ref string, err error)
	}

	// ReportReader reads back an exported series.
	ReportReader interface {
		ReadYearlySeries(ctx context.Context, owner string, year int) (core.YearSeries, error)
	}
)
