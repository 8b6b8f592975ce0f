package exporter

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"scholarpass/internal/license"
)

func testLedger() license.Ledger {
	return license.Ledger{
		"SCHO-BBBB-0000-0000": license.NewUnusedRecord(30),
		"SCHO-AAAA-0000-0000": {
			Status:      license.StatusUsed,
			ValidDays:   90,
			BoundDevice: "device-1",
			ActivatedAt: "2024-01-01 10:30:00",
			ExpireAt:    "2024-03-31",
		},
		"SCHO-CCCC-0000-0000": license.NewUnusedRecord(0),
	}
}

func TestRows(t *testing.T) {
	rows := Rows(testLedger())
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"SCHO-AAAA-0000-0000", "USED", "90", "device-1", "2024-01-01 10:30:00", "2024-03-31"}, rows[0])
	assert.Equal(t, []string{"SCHO-BBBB-0000-0000", "UNUSED", "30", "", "", ""}, rows[1])
	assert.Equal(t, "365", rows[2][2], "default validity applies when unset")
}

func TestSummarize(t *testing.T) {
	ledger := testLedger()
	ledger["ODD"] = license.Record{Status: "REVOKED"}

	assert.Equal(t, Summary{Total: 4, Unused: 2, Used: 1, Other: 1}, Summarize(ledger))
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestWriteCSV(t *testing.T) {
	tests := []struct {
		name      string
		options   WriteOptions
		wantBOM   bool
		wantLines int
	}{
		{"with header and bom", WriteOptions{BOMPrefix: true}, true, 4},
		{"plain", WriteOptions{}, false, 4},
		{"no header", WriteOptions{NoHeader: true}, false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteCSV(&buf, testLedger(), tt.options))

			out := buf.Bytes()
			assert.Equal(t, tt.wantBOM, bytes.HasPrefix(out, utf8BOM))

			lines := strings.Split(strings.TrimSpace(string(bytes.TrimPrefix(out, utf8BOM))), "\n")
			assert.Len(t, lines, tt.wantLines)
			if !tt.options.NoHeader {
				assert.Equal(t, strings.Join(Headers, ","), lines[0])
			}
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteCSV_WriterError(t *testing.T) {
	assert.Error(t, WriteCSV(failingWriter{}, testLedger(), WriteOptions{BOMPrefix: true}))
	assert.Error(t, WriteCSV(failingWriter{}, testLedger(), WriteOptions{}))
}

func TestWriteXLSX(t *testing.T) {
	generated := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, testLedger(), generated))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{LicensesSheet, SummarySheet}, f.GetSheetList())

	rows, err := f.GetRows(LicensesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Headers, rows[0])
	assert.Equal(t, "SCHO-AAAA-0000-0000", rows[1][0])
	assert.Equal(t, "device-1", rows[1][3])

	total, err := f.GetCellValue(SummarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "3", total)
	stamp, err := f.GetCellValue(SummarySheet, "B6")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01T08:00:00Z", stamp)
}

func TestWriteXLSX_EmptyLedger(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, license.Ledger{}, time.Now()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(LicensesSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
