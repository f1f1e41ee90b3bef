package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sarkari-pulse/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func TestExtractSpreadsheetID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://docs.google.com/spreadsheets/d/abc123/edit", "abc123"},
		{"https://docs.google.com/spreadsheets/d/abc123/edit?usp=sharing", "abc123"},
		{"https://docs.google.com/spreadsheets/d/abc123?usp=sharing", "abc123"},
		{"abc123", "abc123"},
		{"https://example.com/nothing/here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractSpreadsheetID(tt.in), tt.in)
	}
}

func TestSanitizeSheetName(t *testing.T) {
	assert.Equal(t, "Schemes_2024_05", sanitizeSheetName("Schemes/2024?05"))
	assert.Equal(t, "Sheet1", sanitizeSheetName("  "))
	assert.Equal(t, "a_b_", sanitizeSheetName("a[b]"))
}

func TestSchemeRows(t *testing.T) {
	launch := time.Date(2019, 2, 24, 0, 0, 0, 0, time.UTC)
	rows := schemeRows([]models.SchemeRecord{{
		SchemeID:         "pmk",
		Name:             "PM Kisan",
		Level:            models.LevelCentral,
		BeneficiaryState: "All",
		LaunchDate:       &launch,
		SourceURL:        "https://www.myscheme.gov.in/schemes/pmk",
	}})
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(header))
	assert.Equal(t, "pmk", rows[0][0])
	assert.Equal(t, "PM Kisan", rows[0][1])
	assert.Equal(t, "2019-02-24", rows[0][9])
	assert.Equal(t, "", rows[0][12])
}

func TestReadCredentials(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "sa.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"type":"service_account","project_id":"p"}`), 0o600))
	_, err := readCredentials(good)
	require.NoError(t, err)

	user := filepath.Join(dir, "user.json")
	require.NoError(t, os.WriteFile(user, []byte(`{"type":"authorized_user"}`), 0o600))
	_, err = readCredentials(user)
	assert.ErrorIs(t, err, ErrNotServiceAccount)

	t.Setenv(CredentialsEnv, "")
	_, err = readCredentials("")
	assert.ErrorIs(t, err, ErrNoCredentials)

	t.Setenv(CredentialsEnv, ` {"type":"service_account"} `)
	_, err = readCredentials("")
	assert.NoError(t, err)
}

// fakeSheets records the calls the writer makes against the Sheets REST API
type fakeSheets struct {
	mu      sync.Mutex
	paths   []string
	written sheets.ValueRange
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, ":batchUpdate"):
		json.NewEncoder(w).Encode(map[string]any{
			"spreadsheetId": "sheet-1",
			"replies": []any{map[string]any{
				"addSheet": map[string]any{"properties": map[string]any{"sheetId": 777, "title": "x"}},
			}},
		})
	case r.Method == http.MethodPut:
		json.NewDecoder(r.Body).Decode(&f.written)
		json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1", "updatedRows": len(f.written.Values)})
	default:
		json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1"})
	}
}

func TestCreateSheetAndWriteSchemes(t *testing.T) {
	fake := &fakeSheets{}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	w, err := newWriter(context.Background(), "sheet-1",
		option.WithEndpoint(ts.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(ts.Client()),
	)
	require.NoError(t, err)

	name, id, err := w.CreateSheetAndWriteSchemes(context.Background(), "Schemes/2024", []models.SchemeRecord{
		{SchemeID: "a", Name: "Alpha Scheme"},
		{SchemeID: "b", Name: "Beta Scheme"},
	}, "active schemes")
	require.NoError(t, err)
	assert.Equal(t, "Schemes_2024", name)
	assert.Equal(t, int64(777), id)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.paths, 2)
	assert.True(t, strings.HasSuffix(fake.paths[0], "/spreadsheets/sheet-1:batchUpdate"), fake.paths[0])
	require.Len(t, fake.written.Values, 4, "note, header and two rows")
	assert.Equal(t, "Export", fake.written.Values[0][0])
	assert.Equal(t, "Scheme ID", fake.written.Values[1][0])
	assert.Equal(t, "Alpha Scheme", fake.written.Values[2][1])
}

func TestWriteSchemes(t *testing.T) {
	fake := &fakeSheets{}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	w, err := newWriter(context.Background(), "sheet-1",
		option.WithEndpoint(ts.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(ts.Client()),
	)
	require.NoError(t, err)

	require.NoError(t, w.WriteSchemes(context.Background(), []models.SchemeRecord{{Name: "Alpha Scheme"}}, true))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.paths, 2)
	assert.True(t, strings.HasSuffix(fake.paths[0], ":clear"), fake.paths[0])
	require.Len(t, fake.written.Values, 2)
}

func TestNewWriter_RequiresSpreadsheet(t *testing.T) {
	_, err := newWriter(context.Background(), "", option.WithoutAuthentication())
	assert.ErrorIs(t, err, ErrNoSpreadsheet)
}
