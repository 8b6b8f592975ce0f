package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"scholarpass/internal/license"
)

// Keys in SampleLedger.
const (
	UnusedKey  = "SCHO-1111-2222-3333"
	ExpiredKey = "SCHO-EXPD-0000-0000"
	DeviceID   = "device-fixture"
)

// SampleLedger holds one UNUSED 30-day key and one key that expired on
// 2020-01-31.
func SampleLedger() license.Ledger {
	return license.Ledger{
		UnusedKey: license.NewUnusedRecord(30),
		ExpiredKey: {
			Status:      license.StatusUsed,
			ValidDays:   30,
			BoundDevice: DeviceID,
			ActivatedAt: "2020-01-01 00:00:00",
			ExpireAt:    "2020-01-31",
		},
	}
}

// WriteLedgerFile encodes ledger into licenses.json under a test temp dir
// and returns its path.
func WriteLedgerFile(t testing.TB, ledger license.Ledger) string {
	t.Helper()
	data, err := license.EncodeLedger(ledger)
	if err != nil {
		t.Fatalf("encode ledger: %v", err)
	}
	path := filepath.Join(t.TempDir(), "licenses.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write ledger: %v", err)
	}
	return path
}

// ReadLedgerFile decodes the ledger at path.
func ReadLedgerFile(t testing.TB, path string) license.Ledger {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	ledger, err := license.DecodeLedger(data)
	if err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	return ledger
}
