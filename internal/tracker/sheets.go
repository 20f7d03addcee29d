// Package tracker exports finished message deliveries to a Google Sheet so
// operators can audit outreach without database access.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/pkg/logger"
)

// SheetColumns defines the column headers for the deliveries sheet
var SheetColumns = []string{
	"Delivery ID",
	"Automation",
	"Post URL",
	"Kind",
	"Recipient",
	"Profile URL",
	"Status",
	"Attempts",
	"Content Preview",
	"Error",
	"External ID",
	"Sent At",
	"Recorded At",
}

// previewLength caps the message text copied into the sheet
const previewLength = 100

// SheetsTracker appends a row per terminal delivery
type SheetsTracker struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	now           func() time.Time
	log           *logger.Logger

	mu          sync.Mutex
	initialized bool
}

// NewSheetsTracker creates a tracker. It returns nil when the export is
// disabled. Extra client options are passed to the Sheets service.
func NewSheetsTracker(ctx context.Context, cfg config.TrackerConfig, log *logger.Logger, opts ...option.ClientOption) (*SheetsTracker, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("tracker.spreadsheet_id is required when the tracker is enabled")
	}

	// Try service account JSON first (for env var injection)
	switch {
	case len(opts) > 0:
	case cfg.ServiceAccountJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, fmt.Errorf("no Google credentials provided: set credentials_file or service_account_json")
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = "Deliveries"
	}

	return &SheetsTracker{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		now:           time.Now,
		log:           log.WithComponent("sheets-tracker"),
	}, nil
}

// TrackDelivery appends the delivery to the sheet
func (t *SheetsTracker) TrackDelivery(ctx context.Context, a *models.Automation, d *models.MessageDelivery) error {
	if err := t.ensureInitialized(ctx); err != nil {
		return err
	}

	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{DeliveryRow(a, d, t.now())},
	}
	_, err := t.service.Spreadsheets.Values.Append(t.spreadsheetID, t.sheetName+"!A1", valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append delivery row: %w", err)
	}

	t.log.Debug().
		Str("delivery_id", d.ID).
		Str("status", string(d.DeliveryStatus)).
		Msg("Delivery exported to sheet")
	return nil
}

// DeliveryRow renders one sheet row in SheetColumns order
func DeliveryRow(a *models.Automation, d *models.MessageDelivery, recordedAt time.Time) []interface{} {
	automationName, postURL := "", ""
	if a != nil {
		automationName, postURL = a.Name, a.PostURL
	}

	return []interface{}{
		d.ID,
		automationName,
		postURL,
		string(d.Kind),
		d.RecipientName,
		d.RecipientProfileURL,
		string(d.DeliveryStatus),
		d.Attempts,
		preview(d.Content),
		d.ErrorMessage,
		d.ExternalID,
		formatTime(d.SentAt),
		recordedAt.UTC().Format(time.RFC3339),
	}
}

func (t *SheetsTracker) ensureInitialized(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized {
		return nil
	}
	if err := t.InitializeSheet(ctx); err != nil {
		return err
	}
	t.initialized = true
	return nil
}

// InitializeSheet creates the sheet and headers if they don't exist
func (t *SheetsTracker) InitializeSheet(ctx context.Context) error {
	if err := t.ensureSheetExists(ctx); err != nil {
		return err
	}

	readRange := fmt.Sprintf("%s!A1:M1", t.sheetName)
	resp, err := t.service.Spreadsheets.Values.Get(t.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read sheet: %w", err)
	}

	if len(resp.Values) == 0 {
		t.log.Info().Msg("Initializing sheet with headers")
		return t.writeHeaders(ctx)
	}
	return nil
}

// ensureSheetExists creates the sheet if it doesn't exist
func (t *SheetsTracker) ensureSheetExists(ctx context.Context) error {
	spreadsheet, err := t.service.Spreadsheets.Get(t.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == t.sheetName {
			return nil
		}
	}

	t.log.Info().Str("sheet", t.sheetName).Msg("Creating new sheet")
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: t.sheetName},
				},
			},
		},
	}
	if _, err := t.service.Spreadsheets.BatchUpdate(t.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	return nil
}

// writeHeaders writes column headers to the first row
func (t *SheetsTracker) writeHeaders(ctx context.Context) error {
	headerRow := make([]interface{}, 0, len(SheetColumns))
	for _, col := range SheetColumns {
		headerRow = append(headerRow, col)
	}

	valueRange := &sheets.ValueRange{Values: [][]interface{}{headerRow}}
	_, err := t.service.Spreadsheets.Values.Update(t.spreadsheetID, t.sheetName+"!A1", valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	return nil
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLength {
		return s
	}
	return string(runes[:previewLength]) + "..."
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
