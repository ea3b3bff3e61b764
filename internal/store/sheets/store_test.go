package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"keybind/internal/license"
	"keybind/internal/license/licensetest"
)

const testSpreadsheetID = "sheet-123"

var rowRange = regexp.MustCompile(`^[^!]+!B(\d+):C(\d+)$`)

// fakeSheets serves the subset of the Sheets v4 REST API the store uses.
type fakeSheets struct {
	mu          sync.Mutex
	rows        [][]string
	failUpdates bool
	updates     []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := "/v4/spreadsheets/" + testSpreadsheetID
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.Error(w, `{"error":{"code":404,"message":"spreadsheet not found"}}`, http.StatusNotFound)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	switch {
	case rest == "" && r.Method == http.MethodGet:
		writeJSON(w, map[string]string{"spreadsheetId": testSpreadsheetID})
	case strings.HasSuffix(rest, ":append") && r.Method == http.MethodPost:
		var vr gsheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, row := range vr.Values {
			f.rows = append(f.rows, toStrings(row))
		}
		writeJSON(w, map[string]interface{}{"spreadsheetId": testSpreadsheetID})
	case strings.HasPrefix(rest, "/values/") && r.Method == http.MethodGet:
		values := make([][]interface{}, 0, len(f.rows))
		for _, row := range f.rows {
			out := make([]interface{}, len(row))
			for i, c := range row {
				out[i] = c
			}
			values = append(values, out)
		}
		writeJSON(w, map[string]interface{}{
			"range":          strings.TrimPrefix(rest, "/values/"),
			"majorDimension": "ROWS",
			"values":         values,
		})
	case strings.HasPrefix(rest, "/values/") && r.Method == http.MethodPut:
		if f.failUpdates {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"code":503,"message":"backend unavailable"}}`)
			return
		}
		rng := strings.TrimPrefix(rest, "/values/")
		m := rowRange.FindStringSubmatch(rng)
		if m == nil || m[1] != m[2] {
			http.Error(w, "unexpected range "+rng, http.StatusBadRequest)
			return
		}
		row, _ := strconv.Atoi(m[1])
		var vr gsheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil || len(vr.Values) != 1 {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		cells := toStrings(vr.Values[0])
		for len(f.rows[row-1]) < 3 {
			f.rows[row-1] = append(f.rows[row-1], "")
		}
		f.rows[row-1][1] = cells[0]
		f.rows[row-1][2] = cells[1]
		f.updates = append(f.updates, rng)
		writeJSON(w, map[string]interface{}{"updatedRange": rng, "updatedRows": 1, "updatedCells": 2})
	default:
		http.Error(w, "unsupported "+r.Method+" "+r.URL.Path, http.StatusNotImplemented)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = fmt.Sprint(c)
	}
	return out
}

func newTestStore(t *testing.T, fake *fakeSheets) *Store {
	t.Helper()

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	store, err := New(svc, Config{SpreadsheetID: testSpreadsheetID, SheetName: "Sheet1", HeaderRow: true},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store
}

func seedRows(seed ...license.Record) [][]string {
	rows := [][]string{{"activation_key", "device_id", "activation_date"}}
	for _, rec := range seed {
		if rec.IsBound() {
			rows = append(rows, []string{rec.Key, rec.BoundDevice, rec.BoundAt.Format(time.RFC3339)})
			continue
		}
		rows = append(rows, []string{rec.Key})
	}
	return rows
}

func TestStoreContract(t *testing.T) {
	licensetest.Run(t, licensetest.Suite{
		NewStore: func(t *testing.T, seed ...license.Record) license.Store {
			return newTestStore(t, &fakeSheets{rows: seedRows(seed...)})
		},
	})
}

func TestSetWritesBothCellsInOneUpdate(t *testing.T) {
	fake := &fakeSheets{rows: seedRows(license.Record{Key: "KEY-A"}, license.Record{Key: "KEY-B"})}
	store := newTestStore(t, fake)

	require.NoError(t, store.Set(context.Background(), "KEY-B", "device-X", licensetest.BoundAt))

	assert.Equal(t, []string{"Sheet1!B3:C3"}, fake.updates)
	assert.Equal(t, []string{"KEY-B", "device-X", "2024-03-09T14:30:15Z"}, fake.rows[2])
}

func TestSetFailureLeavesRowUnbound(t *testing.T) {
	fake := &fakeSheets{rows: seedRows(license.Record{Key: "KEY-A"}), failUpdates: true}
	store := newTestStore(t, fake)

	err := store.Set(context.Background(), "KEY-A", "device-X", licensetest.BoundAt)
	require.Error(t, err)
	assert.NotErrorIs(t, err, license.ErrAlreadyBound)

	rec, found, err := store.Get(context.Background(), "KEY-A")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, rec.IsBound())
}

func TestHeaderRowIsNotAKey(t *testing.T) {
	store := newTestStore(t, &fakeSheets{rows: seedRows(license.Record{Key: "KEY-A"})})

	_, found, err := store.Get(context.Background(), "activation_key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetParsesLegacyDates(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2024-03-09T14:30:15Z", licensetest.BoundAt, false},
		{"rfc3339 with offset", "2024-03-09T17:30:15+03:00", licensetest.BoundAt, false},
		{"legacy layout", "2024-03-09 14:30:15", licensetest.BoundAt, false},
		{"garbage", "9 March", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, &fakeSheets{rows: [][]string{
				{"activation_key", "device_id", "activation_date"},
				{"KEY-A", "device-X", tt.raw},
			}})

			rec, found, err := store.Get(context.Background(), "KEY-A")
			if tt.wantErr {
				assert.ErrorIs(t, err, license.ErrMalformedRecord)
				return
			}
			require.NoError(t, err)
			require.True(t, found)
			assert.True(t, tt.want.Equal(rec.BoundAt))
		})
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t, &fakeSheets{})
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{SheetName: "Sheet1"}, nil)
	assert.Error(t, err)

	_, err = New(nil, Config{SpreadsheetID: "id"}, nil)
	assert.Error(t, err)

	_, err = NewFromCredentials(context.Background(), Config{SpreadsheetID: "id", SheetName: "Sheet1"}, nil, nil)
	assert.Error(t, err)
}
