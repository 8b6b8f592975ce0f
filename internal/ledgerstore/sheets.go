package ledgerstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"scholarpass/internal/license"
)

// sheetColumns is the header row written to the sheet. Fields outside the
// known set are kept as a JSON object in the extra column.
var sheetColumns = []string{"license", "status", "valid_days", "bind_device", "activated_at", "expire_at", "extra"}

// SheetsConfig configures a Google Sheets-backed ledger.
type SheetsConfig struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	Endpoint        string
	// Options are appended after the credential and endpoint options.
	Options []option.ClientOption
}

// Sheets stores the ledger as rows of one sheet, one license per row.
// Replace clears the sheet and rewrites every row.
type Sheets struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheets creates the Sheets API client.
func NewSheets(ctx context.Context, cfg SheetsConfig) (*Sheets, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheets store needs a spreadsheet id: %w", license.ErrStoreNotConfigured)
	}
	if cfg.CredentialsFile == "" && len(cfg.Options) == 0 {
		return nil, fmt.Errorf("sheets store needs a credentials file: %w", license.ErrStoreNotConfigured)
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Licenses"
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, cfg.Options...)

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Sheets{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
	}, nil
}

// Fetch reads every row below the header.
func (s *Sheets) Fetch(ctx context.Context) (*license.Snapshot, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read from sheets: %w", err)
	}

	raw, err := rowsToDocument(resp.Values)
	if err != nil {
		return nil, err
	}

	ledger, err := license.DecodeLedger(raw)
	if err != nil {
		return nil, fmt.Errorf("sheet %s: %w", s.sheetName, err)
	}
	return &license.Snapshot{Ledger: ledger, Version: contentVersion(raw)}, nil
}

// Replace clears the sheet and writes the header plus one row per license.
func (s *Sheets) Replace(ctx context.Context, ledger license.Ledger, _ license.Version) error {
	rows, err := ledgerToRows(ledger)
	if err != nil {
		return err
	}

	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.sheetName, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to clear sheet: %w", err)
	}

	valueRange := &sheets.ValueRange{Values: rows}
	_, err = s.service.Spreadsheets.Values.Update(
		s.spreadsheetID,
		s.sheetName+"!A1",
		valueRange,
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write sheet: %w", err)
	}
	return nil
}

// Ping fetches the spreadsheet id only.
func (s *Sheets) Ping(ctx context.Context) error {
	if _, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets ping failed: %w", err)
	}
	return nil
}

func rowsToDocument(values [][]interface{}) ([]byte, error) {
	doc := make(map[string]map[string]json.RawMessage)
	if len(values) < 2 {
		return json.Marshal(doc)
	}

	header := make([]string, len(values[0]))
	for i, cell := range values[0] {
		header[i] = strings.ToLower(strings.TrimSpace(fmt.Sprint(cell)))
	}

	for _, row := range values[1:] {
		fields := make(map[string]json.RawMessage)
		var key string
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			text := strings.TrimSpace(fmt.Sprint(cell))
			if text == "" {
				continue
			}
			switch header[i] {
			case "license":
				key = text
			case "extra":
				var extra map[string]json.RawMessage
				if err := json.Unmarshal([]byte(text), &extra); err != nil {
					return nil, fmt.Errorf("license %q has invalid extra column: %w", key, err)
				}
				for k, v := range extra {
					if _, known := fields[k]; !known {
						fields[k] = v
					}
				}
			case "valid_days":
				if _, err := strconv.Atoi(text); err == nil {
					fields[header[i]] = json.RawMessage(text)
				} else {
					fields[header[i]] = mustJSON(text)
				}
			default:
				fields[header[i]] = mustJSON(text)
			}
		}
		if key != "" {
			doc[key] = fields
		}
	}
	return json.Marshal(doc)
}

func ledgerToRows(ledger license.Ledger) ([][]interface{}, error) {
	encoded, err := license.EncodeLedger(ledger)
	if err != nil {
		return nil, err
	}
	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("failed to flatten ledger: %w", err)
	}

	header := make([]interface{}, len(sheetColumns))
	for i, c := range sheetColumns {
		header[i] = c
	}
	rows := [][]interface{}{header}

	for _, key := range ledger.Keys() {
		fields := doc[key]
		row := make([]interface{}, len(sheetColumns))
		row[0] = key
		for i, col := range sheetColumns[1 : len(sheetColumns)-1] {
			row[i+1] = cellValue(fields[col])
			delete(fields, col)
		}

		row[len(row)-1] = ""
		if len(fields) > 0 {
			extra, err := json.Marshal(fields)
			if err != nil {
				return nil, fmt.Errorf("failed to encode extra fields of %q: %w", key, err)
			}
			row[len(row)-1] = string(extra)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// cellValue unwraps JSON strings so the sheet shows plain text.
func cellValue(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func mustJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func contentVersion(b []byte) license.Version {
	sum := sha256.Sum256(b)
	return license.Version(hex.EncodeToString(sum[:8]))
}
