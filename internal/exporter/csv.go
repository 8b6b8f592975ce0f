package exporter

import (
	"encoding/csv"
	"fmt"
	"io"

	"scholarpass/internal/license"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteOptions configures CSV writing behavior
type WriteOptions struct {
	// BOMPrefix adds a UTF-8 BOM for Excel compatibility.
	BOMPrefix bool
	// NoHeader skips the header row.
	NoHeader bool
}

// WriteCSV writes ledger to w as CSV.
func WriteCSV(w io.Writer, ledger license.Ledger, options WriteOptions) error {
	if options.BOMPrefix {
		if _, err := w.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	if !options.NoHeader {
		if err := writer.Write(Headers); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
	}

	for i, record := range Rows(ledger) {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
