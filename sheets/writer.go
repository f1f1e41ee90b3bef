// Package sheets exports stored schemes to Google Sheets.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"sarkari-pulse/logger"
	"sarkari-pulse/models"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// CredentialsEnv holds service account JSON when no credentials file is configured
const CredentialsEnv = "GOOGLE_SHEETS_CREDENTIALS"

var (
	ErrNoCredentials     = errors.New("google sheets credentials not found")
	ErrNoSpreadsheet     = errors.New("spreadsheet id could not be determined")
	ErrNotServiceAccount = errors.New("credentials must be a service account JSON file")
)

// header is the first row of every export
var header = []interface{}{
	"Scheme ID", "Name", "Level", "State", "Ministry", "Department",
	"Sector", "Target Audience", "Tags", "Launch Date", "Source", "Link", "Updated",
}

// Writer handles writing schemes to Google Sheets
type Writer struct {
	service       *sheets.Service
	spreadsheetID string
	logger        *slog.Logger
}

// NewWriter creates a Writer authenticated with a service account, read from
// credentialsPath or from the GOOGLE_SHEETS_CREDENTIALS environment variable
func NewWriter(ctx context.Context, spreadsheetID, credentialsPath string) (*Writer, error) {
	credsJSON, err := readCredentials(credentialsPath)
	if err != nil {
		return nil, err
	}
	return newWriter(ctx, spreadsheetID, option.WithCredentialsJSON(credsJSON))
}

func newWriter(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Writer, error) {
	if spreadsheetID == "" {
		return nil, ErrNoSpreadsheet
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Writer{
		service:       service,
		spreadsheetID: spreadsheetID,
		logger:        logger.WithComponent("sheets"),
	}, nil
}

func readCredentials(path string) ([]byte, error) {
	var credsJSON []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		credsJSON = b
	} else {
		env := strings.TrimSpace(os.Getenv(CredentialsEnv))
		if env == "" {
			return nil, fmt.Errorf("%w: %s is empty or not set", ErrNoCredentials, CredentialsEnv)
		}
		credsJSON = []byte(env)
	}

	var creds map[string]interface{}
	if err := json.Unmarshal(credsJSON, &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON: %w", err)
	}
	if creds["type"] != "service_account" {
		return nil, fmt.Errorf("%w, got type: %v", ErrNotServiceAccount, creds["type"])
	}
	return credsJSON, nil
}

// WriteSchemes overwrites the first sheet with schemes.
// If clearFirst is true, existing data is cleared before writing.
func (w *Writer) WriteSchemes(ctx context.Context, schemes []models.SchemeRecord, clearFirst bool) error {
	range_ := "Sheet1!A1"

	if clearFirst {
		_, err := w.service.Spreadsheets.Values.Clear(w.spreadsheetID, "Sheet1", &sheets.ClearValuesRequest{}).Context(ctx).Do()
		if err != nil {
			// Writing still replaces the rows it covers
			w.logger.Warn("failed to clear existing data", "error", err)
		}
	}

	values := append([][]interface{}{header}, schemeRows(schemes)...)
	_, err := w.service.Spreadsheets.Values.Update(w.spreadsheetID, range_, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write to sheets: %w", err)
	}

	w.logger.Info("wrote schemes to google sheets", "count", len(schemes))
	return nil
}

// CreateSheetAndWriteSchemes inserts a new sheet at the front of the
// spreadsheet and writes schemes to it. A non-empty note becomes a metadata
// row above the header. Returns the sheet name and sheet ID (gid).
func (w *Writer) CreateSheetAndWriteSchemes(ctx context.Context, sheetName string, schemes []models.SchemeRecord, note string) (string, int64, error) {
	sheetName = sanitizeSheetName(sheetName)
	if len(sheetName) > 100 {
		sheetName = sheetName[:100]
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: sheetName, Index: 0},
			},
		}},
	}
	resp, err := w.service.Spreadsheets.BatchUpdate(w.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to create sheet: %w", err)
	}

	var sheetID int64
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}
	w.logger.Info("created sheet", "sheet", sheetName, "sheet_id", sheetID)

	var values [][]interface{}
	if note != "" {
		values = append(values, []interface{}{"Export", note})
	}
	values = append(values, header)
	values = append(values, schemeRows(schemes)...)

	_, err = w.service.Spreadsheets.Values.Update(w.spreadsheetID, fmt.Sprintf("'%s'!A1", sheetName), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to write to sheet: %w", err)
	}

	w.logger.Info("wrote schemes to sheet", "count", len(schemes), "sheet", sheetName)
	return sheetName, sheetID, nil
}

func schemeRows(schemes []models.SchemeRecord) [][]interface{} {
	rows := make([][]interface{}, 0, len(schemes))
	for _, s := range schemes {
		launch := ""
		if s.LaunchDate != nil {
			launch = s.LaunchDate.Format("2006-01-02")
		}
		updated := ""
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.UTC().Format("2006-01-02 15:04")
		}
		rows = append(rows, []interface{}{
			s.SchemeID,
			s.Name,
			s.Level,
			s.BeneficiaryState,
			s.Ministry,
			s.Department,
			s.Sector,
			s.TargetAudience,
			s.Tags,
			launch,
			s.Source,
			s.SourceURL,
			updated,
		})
	}
	return rows
}

// sanitizeSheetName removes characters sheet names cannot contain: / \ ? * [ ]
func sanitizeSheetName(name string) string {
	result := name
	for _, char := range []string{"/", "\\", "?", "*", "[", "]"} {
		result = strings.ReplaceAll(result, char, "_")
	}
	result = strings.TrimSpace(result)
	if result == "" {
		result = "Sheet1"
	}
	return result
}

// ExtractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
// such as https://docs.google.com/spreadsheets/d/ID/edit?usp=sharing.
// A bare ID is returned unchanged.
func ExtractSpreadsheetID(url string) string {
	url = strings.TrimSpace(url)
	if !strings.Contains(url, "/") {
		return url
	}

	parts := strings.Split(url, "/d/")
	if len(parts) < 2 {
		return ""
	}
	idPart := parts[1]
	if idx := strings.Index(idPart, "/"); idx != -1 {
		idPart = idPart[:idx]
	}
	if idx := strings.Index(idPart, "?"); idx != -1 {
		idPart = idPart[:idx]
	}
	return strings.TrimSpace(idPart)
}
