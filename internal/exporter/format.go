package exporter

import (
	"strconv"

	"scholarpass/internal/license"
)

// Headers are the column names of an exported ledger.
var Headers = []string{
	"license_key",
	"status",
	"valid_days",
	"bind_device",
	"activated_at",
	"expire_at",
}

// Rows flattens ledger into one row per license, sorted by key.
func Rows(ledger license.Ledger) [][]string {
	keys := ledger.Keys()
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rec := ledger[key]
		rows = append(rows, []string{
			key,
			string(rec.Status),
			formatInt(rec.EffectiveValidDays()),
			rec.BoundDevice,
			rec.ActivatedAt,
			rec.ExpireAt,
		})
	}
	return rows
}

// Summary counts licenses per status.
type Summary struct {
	Total  int
	Unused int
	Used   int
	Other  int
}

// Summarize counts the records of ledger by status.
func Summarize(ledger license.Ledger) Summary {
	s := Summary{Total: len(ledger)}
	for _, rec := range ledger {
		switch rec.Status {
		case license.StatusUnused:
			s.Unused++
		case license.StatusUsed:
			s.Used++
		default:
			s.Other++
		}
	}
	return s
}

func formatInt(i int) string {
	return strconv.Itoa(i)
}
