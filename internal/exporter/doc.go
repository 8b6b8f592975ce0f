// Package exporter renders the license ledger as a table for operators.
//
// Rows flattens a ledger into one row per license, sorted by key, under
// Headers. WriteCSV emits the table as CSV with an optional UTF-8 BOM so
// Excel recognizes the encoding, and WriteXLSX builds a workbook with a
// styled header row and a summary sheet.
//
// Example usage:
//
//	snap, err := store.Fetch(ctx)
//	if err != nil {
//	    return err
//	}
//	f, _ := os.Create("licenses.xlsx")
//	defer f.Close()
//	err = exporter.WriteXLSX(f, snap.Ledger, time.Now())
package exporter
