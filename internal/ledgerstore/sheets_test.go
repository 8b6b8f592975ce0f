package ledgerstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"scholarpass/internal/license"
)

type fakeSheet struct {
	mu     sync.Mutex
	values [][]interface{}
	clears int
	puts   int
	input  string
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/v4/spreadsheets/sheet-1":
		_ = json.NewEncoder(w).Encode(map[string]string{"spreadsheetId": "sheet-1"})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v4/spreadsheets/sheet-1/values/"):
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"range": "Licenses!A1:G10", "values": f.values})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.values = nil
		f.clears++
		_ = json.NewEncoder(w).Encode(map[string]string{"spreadsheetId": "sheet-1"})
	case r.Method == http.MethodPut:
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.values = body.Values
		f.puts++
		f.input = r.URL.Query().Get("valueInputOption")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"updatedRows": len(body.Values)})
	default:
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}
}

func newTestSheets(t *testing.T, fake *fakeSheet) *Sheets {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	s, err := NewSheets(context.Background(), SheetsConfig{
		SpreadsheetID: "sheet-1",
		Options: []option.ClientOption{
			option.WithEndpoint(server.URL + "/"),
			option.WithoutAuthentication(),
			option.WithHTTPClient(server.Client()),
		},
	})
	require.NoError(t, err)
	return s
}

func TestSheetsFetch(t *testing.T) {
	fake := &fakeSheet{values: [][]interface{}{
		{"License", "Status", "Valid_Days", "Bind_Device", "Activated_At", "Expire_At", "Extra"},
		{"K1", "UNUSED", "30"},
		{"K2", "USED", "30", "dev-1", "2024-01-01 10:00:00", "2024-01-31", `{"owner":"ops"}`},
		{"", "UNUSED"},
		{"K3", "UNUSED", "thirty"},
	}}
	s := newTestSheets(t, fake)

	snap, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Version)
	require.Len(t, snap.Ledger, 3)

	assert.Equal(t, 30, snap.Ledger["K1"].ValidDays)
	assert.Equal(t, "dev-1", snap.Ledger["K2"].BoundDevice)
	assert.Equal(t, "2024-01-31", snap.Ledger["K2"].ExpireAt)
	assert.JSONEq(t, `"ops"`, string(snap.Ledger["K2"].Extensions["owner"]))
	assert.ErrorIs(t, snap.Ledger["K3"].Validate(), license.ErrInconsistentRecord)

	require.NoError(t, s.Ping(context.Background()))
}

func TestSheetsReplace(t *testing.T) {
	fake := &fakeSheet{values: [][]interface{}{
		{"license", "status", "valid_days"},
		{"K1", "UNUSED", "30"},
	}}
	s := newTestSheets(t, fake)
	ctx := context.Background()

	snap, err := s.Fetch(ctx)
	require.NoError(t, err)

	rec := snap.Ledger["K1"]
	rec.Status = license.StatusUsed
	rec.BoundDevice = "dev-1"
	rec.ActivatedAt = "2024-01-01 10:00:00"
	rec.ExpireAt = "2024-01-31"
	rec.Extensions = map[string]json.RawMessage{"owner": json.RawMessage(`"ops"`)}
	snap.Ledger["K1"] = rec
	snap.Ledger["A0"] = license.NewUnusedRecord(0)

	require.NoError(t, s.Replace(ctx, snap.Ledger, snap.Version))
	assert.Equal(t, 1, fake.clears)
	assert.Equal(t, 1, fake.puts)
	assert.Equal(t, "RAW", fake.input)

	require.Len(t, fake.values, 3)
	assert.Equal(t, []interface{}{"license", "status", "valid_days", "bind_device", "activated_at", "expire_at", "extra"}, fake.values[0])
	assert.Equal(t, "A0", fake.values[1][0])
	assert.Equal(t, []interface{}{"K1", "USED", "30", "dev-1", "2024-01-01 10:00:00", "2024-01-31", `{"owner":"ops"}`}, fake.values[2])

	again, err := s.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.StatusUsed, again.Ledger["K1"].Status)
	assert.NoError(t, again.Ledger["K1"].Validate())
	assert.Equal(t, license.DefaultValidDays, again.Ledger["A0"].EffectiveValidDays())
}

func TestSheetsEmptySheet(t *testing.T) {
	s := newTestSheets(t, &fakeSheet{})

	snap, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Ledger)
}

func TestNewSheetsNotConfigured(t *testing.T) {
	_, err := NewSheets(context.Background(), SheetsConfig{})
	assert.ErrorIs(t, err, license.ErrStoreNotConfigured)

	_, err = NewSheets(context.Background(), SheetsConfig{SpreadsheetID: "x"})
	assert.ErrorIs(t, err, license.ErrStoreNotConfigured)
}
