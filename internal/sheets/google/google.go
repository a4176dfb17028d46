// Package google exports yearly series to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"wallet/internal/core"
	applog "wallet/internal/log"
	ports "wallet/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year (e.g. "Reports"); the series year is prefixed.
	baseSheet string
	logger    *applog.Logger
}

// Ensure interface conformance
var (
	_ ports.ReportWriter = (*Client)(nil)
	_ ports.ReportReader = (*Client)(nil)
)

// New creates a client authenticated with service account credentials.
func New(ctx context.Context, spreadsheetID, baseSheet string, logger *applog.Logger) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, baseSheet, logger), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, baseSheet string, logger *applog.Logger) *Client {
	if logger == nil {
		logger = applog.Discard()
	}
	baseSheet = strings.TrimSpace(baseSheet)
	if baseSheet == "" {
		baseSheet = "Reports"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(spreadsheetID),
		baseSheet:     baseSheet,
		logger:        logger.WithComponent(applog.ComponentSheets),
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// WriteYearlySeries writes the owner's twelve month rows to "<year> <base>".
// Existing rows of the owner are overwritten in place; otherwise the rows
// are appended. The returned reference is the written A1 range.
func (c *Client) WriteYearlySeries(ctx context.Context, owner string, series core.YearSeries) (string, error) {
	if owner == "" {
		return "", core.ErrMissingOwner
	}
	if len(series.Months) != 12 {
		return "", fmt.Errorf("yearly series for %d has %d months", series.Year, len(series.Months))
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.baseSheet, series.Year)
	if err := c.ensureSheet(ctx, sheet); err != nil {
		return "", err
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1(sheet, "A:A")).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read owners of %s: %w", sheet, err)
	}

	vr := &gsheet.ValueRange{Values: seriesRows(owner, series)}
	var ref string
	if start, ok := locateOwner(resp.Values, owner); ok {
		rng := a1(sheet, fmt.Sprintf("A%d:F%d", start, start+11))
		upd, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("update %s: %w", rng, err)
		}
		ref = upd.UpdatedRange
	} else {
		app, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1(sheet, "A:F"), vr).
			ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("append to %s: %w", sheet, err)
		}
		if app.Updates != nil {
			ref = app.Updates.UpdatedRange
		}
	}

	c.logger.InfoContext(ctx, "Yearly series exported",
		applog.FieldOperation, applog.OpExport,
		applog.FieldOwner, owner,
		applog.FieldYear, series.Year,
		applog.FieldSheetsRef, ref)
	return ref, nil
}

// ReadYearlySeries reads the owner's rows back from "<year> <base>".
func (c *Client) ReadYearlySeries(ctx context.Context, owner string, year int) (core.YearSeries, error) {
	if c.svc == nil {
		return core.YearSeries{}, errors.New("sheets service not initialized")
	}
	sheet := yearPrefixedName(c.baseSheet, year)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1(sheet, "A:F")).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return core.YearSeries{}, fmt.Errorf("read %s: %w", sheet, err)
	}
	series, found := parseSeriesRows(resp.Values, owner, year)
	if !found {
		return core.YearSeries{}, ports.ErrNoReport
	}
	return series, nil
}

// ensureSheet adds the sheet with its header row when the spreadsheet does
// not have it yet.
func (c *Client) ensureSheet(ctx context.Context, sheet string) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheet {
			return nil
		}
	}

	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheet}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add sheet %s: %w", sheet, err)
	}

	header := &gsheet.ValueRange{Values: [][]interface{}{reportHeader}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, a1(sheet, "A1:F1"), header).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header of %s: %w", sheet, err)
	}

	c.logger.InfoContext(ctx, "Report sheet created", "sheet", sheet)
	return nil
}
