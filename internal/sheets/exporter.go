package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/zombor/receipt-sheets/internal/scanning"
)

// Header is the fixed first row of an export sheet
var Header = []any{"Date", "Company", "Summary & Highlights", "Amount"}

const (
	probeRange  = "A1:D2"
	headerRange = "A1:D1"
	appendRange = "A:D"
	columnCount = 4
)

// Authorizer provides the bearer token for Sheets calls
type Authorizer interface {
	AccessToken() (string, bool)
	Invalidate()
}

// Sheet is one tab of a spreadsheet
type Sheet struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Target selects where records are appended
type Target struct {
	SpreadsheetID string
	SheetName     string
	IsNew         bool
}

// Result describes a successful export
type Result struct {
	Sheet         Sheet
	Created       bool
	HeaderWritten bool
	RowsAppended  int
	// FormattingErr is set when the header was written but could not be formatted
	FormattingErr error
}

// Option configures an Exporter
type Option func(*Exporter)

// WithEndpoint overrides the Sheets API base URL
func WithEndpoint(endpoint string) Option {
	return func(e *Exporter) {
		e.endpoint = endpoint
	}
}

// WithHTTPClient sets the base client the bearer transport wraps
func WithHTTPClient(client *http.Client) Option {
	return func(e *Exporter) {
		e.httpClient = client
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Exporter appends receipt records to a Google Sheet
type Exporter struct {
	auth       Authorizer
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	running sync.Mutex
}

// NewExporter creates a new Exporter
func NewExporter(auth Authorizer, opts ...Option) *Exporter {
	e := &Exporter{
		auth:   auth,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Exporter) service(ctx context.Context) (*sheets.Service, error) {
	token, ok := e.auth.AccessToken()
	if !ok {
		return nil, ErrNotSignedIn
	}

	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if e.endpoint != "" {
		opts = append(opts, option.WithEndpoint(e.endpoint))
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return srv, nil
}

// ListSheets returns the tabs of the spreadsheet in display order
func (e *Exporter) ListSheets(ctx context.Context, spreadsheetID string) ([]Sheet, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, ErrMissingSpreadsheet
	}
	srv, err := e.service(ctx)
	if err != nil {
		return nil, err
	}
	return e.listSheets(ctx, srv, spreadsheetID)
}

func (e *Exporter) listSheets(ctx context.Context, srv *sheets.Service, spreadsheetID string) ([]Sheet, error) {
	resp, err := srv.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, e.remoteError(err, &MetadataError{Op: "listing sheets"})
	}

	result := make([]Sheet, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties == nil {
			continue
		}
		result = append(result, Sheet{ID: s.Properties.SheetId, Title: s.Properties.Title})
	}
	return result, nil
}

// Export appends records to the target sheet, creating it and writing the
// header row as needed. Any failed step aborts the rest; remote changes made
// by earlier steps are kept.
func (e *Exporter) Export(ctx context.Context, target Target, records []scanning.ReceiptRecord) (*Result, error) {
	if !e.running.TryLock() {
		return nil, ErrExportInProgress
	}
	defer e.running.Unlock()

	name := strings.TrimSpace(target.SheetName)
	switch {
	case strings.TrimSpace(target.SpreadsheetID) == "":
		return nil, ErrMissingSpreadsheet
	case name == "":
		return nil, ErrMissingSheetName
	case len(records) == 0:
		return nil, ErrNoRecords
	}

	srv, err := e.service(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := e.listSheets(ctx, srv, target.SpreadsheetID)
	if err != nil {
		return nil, err
	}
	sheet, found := findSheet(existing, name)
	if target.IsNew && found {
		return nil, fmt.Errorf("%w: %q", ErrSheetExists, name)
	}
	if !target.IsNew && !found {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, name)
	}

	result := &Result{}
	if target.IsNew {
		sheet, err = e.createSheet(ctx, srv, target.SpreadsheetID, name)
		if err != nil {
			return nil, err
		}
		result.Created = true
		e.logger.Info("Created sheet", "spreadsheet_id", target.SpreadsheetID, "sheet", name)
	}
	result.Sheet = sheet

	empty, err := e.isEmpty(ctx, srv, target.SpreadsheetID, name)
	if err != nil {
		return nil, err
	}
	if empty {
		if err := e.writeHeader(ctx, srv, target.SpreadsheetID, name); err != nil {
			return nil, err
		}
		result.HeaderWritten = true

		if err := e.formatHeader(ctx, srv, target.SpreadsheetID, sheet.ID); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return nil, err
			}
			e.logger.Warn("Failed to format header row", "sheet", name, "error", err)
			result.FormattingErr = err
		}
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, recordRow(r))
	}
	_, err = srv.Spreadsheets.Values.Append(target.SpreadsheetID, a1Range(name, appendRange), &sheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, e.remoteError(err, &MutationError{Op: "appending rows"})
	}
	result.RowsAppended = len(rows)

	e.logger.Info("Exported receipts", "spreadsheet_id", target.SpreadsheetID, "sheet", name, "rows", len(rows))
	return result, nil
}

func (e *Exporter) createSheet(ctx context.Context, srv *sheets.Service, spreadsheetID, name string) (Sheet, error) {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: name},
			},
		}},
	}
	resp, err := srv.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return Sheet{}, e.remoteError(err, &MutationError{Op: "creating sheet"})
	}

	sheet := Sheet{Title: name}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		sheet.ID = resp.Replies[0].AddSheet.Properties.SheetId
	}
	return sheet, nil
}

func (e *Exporter) isEmpty(ctx context.Context, srv *sheets.Service, spreadsheetID, name string) (bool, error) {
	resp, err := srv.Spreadsheets.Values.Get(spreadsheetID, a1Range(name, probeRange)).Context(ctx).Do()
	if err != nil {
		return false, e.remoteError(err, &MetadataError{Op: "reading sheet"})
	}
	return len(resp.Values) == 0, nil
}

func (e *Exporter) writeHeader(ctx context.Context, srv *sheets.Service, spreadsheetID, name string) error {
	vr := &sheets.ValueRange{Values: [][]any{Header}}
	_, err := srv.Spreadsheets.Values.Update(spreadsheetID, a1Range(name, headerRange), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return e.remoteError(err, &MutationError{Op: "writing header"})
	}
	return nil
}

// formatHeader bolds and freezes the header row and enables a filter over the
// data columns, in a single batch update
func (e *Exporter) formatHeader(ctx context.Context, srv *sheets.Service, spreadsheetID string, sheetID int64) error {
	// SheetId 0 and zero indexes are meaningful and must not be omitted
	gridFields := []string{"SheetId", "StartRowIndex", "StartColumnIndex"}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{
						SheetId:          sheetID,
						StartRowIndex:    0,
						EndRowIndex:      1,
						StartColumnIndex: 0,
						EndColumnIndex:   columnCount,
						ForceSendFields:  gridFields,
					},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							TextFormat: &sheets.TextFormat{Bold: true},
						},
					},
					Fields: "userEnteredFormat.textFormat.bold",
				},
			},
			{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:         sheetID,
						GridProperties:  &sheets.GridProperties{FrozenRowCount: 1},
						ForceSendFields: []string{"SheetId"},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
			{
				SetBasicFilter: &sheets.SetBasicFilterRequest{
					Filter: &sheets.BasicFilter{
						Range: &sheets.GridRange{
							SheetId:          sheetID,
							StartRowIndex:    0,
							StartColumnIndex: 0,
							EndColumnIndex:   columnCount,
							ForceSendFields:  gridFields,
						},
					},
				},
			},
		},
	}

	if _, err := srv.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return e.remoteError(err, &MutationError{Op: "formatting header"})
	}
	return nil
}

// remoteError turns a 401 into ErrUnauthorized, invalidating the token, and
// otherwise fills in wrapped as the cause
func (e *Exporter) remoteError(err error, wrapped error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		e.auth.Invalidate()
		return ErrUnauthorized
	}

	switch w := wrapped.(type) {
	case *MetadataError:
		w.Err = err
	case *MutationError:
		w.Err = err
	}
	return wrapped
}

func findSheet(list []Sheet, name string) (Sheet, bool) {
	for _, s := range list {
		if s.Title == name {
			return s, true
		}
	}
	return Sheet{}, false
}

// a1Range quotes the sheet name for A1 notation
func a1Range(sheetName, cells string) string {
	return "'" + strings.ReplaceAll(sheetName, "'", "''") + "'!" + cells
}

func recordRow(r scanning.ReceiptRecord) []any {
	var amount any = ""
	if r.Amount != nil {
		amount = r.Amount
	}
	return []any{r.Date, r.Company, r.Details, amount}
}
