package license

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of a ledger entry.
type Status string

const (
	StatusUnused Status = "UNUSED"
	StatusUsed   Status = "USED"
)

const (
	// DefaultValidDays applies when a record was provisioned without valid_days.
	DefaultValidDays = 365

	// DateLayout is the wire format of expire_at.
	DateLayout = "2006-01-02"
	// TimestampLayout is the wire format of activated_at.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Record is one license entry of the ledger.
//
// BoundDevice, ActivatedAt and ExpireAt are written exactly once, when the
// record moves from UNUSED to USED, and never change afterwards.
type Record struct {
	Status      Status
	ValidDays   int
	BoundDevice string
	ActivatedAt string
	ExpireAt    string

	// Extensions keeps fields this service does not know about so that a
	// whole-document rewrite does not drop them.
	Extensions map[string]json.RawMessage

	validDaysSet bool
	malformed    string
}

// UnmarshalJSON decodes a record and keeps unknown fields. A known field of
// the wrong type does not fail the decode; it is kept verbatim and the
// record reports itself as inconsistent.
func (r *Record) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*r = Record{}
	keep := func(k string, v json.RawMessage, cause string) {
		if r.Extensions == nil {
			r.Extensions = make(map[string]json.RawMessage)
		}
		r.Extensions[k] = v
		if cause != "" && r.malformed == "" {
			r.malformed = cause
		}
	}

	for k, v := range all {
		switch k {
		case "status":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				keep(k, v, "status is not a string")
				continue
			}
			r.Status = Status(s)
		case "valid_days":
			var n int
			if err := json.Unmarshal(v, &n); err != nil {
				keep(k, v, "valid_days is not an integer")
				continue
			}
			r.ValidDays = n
			r.validDaysSet = true
		case "bind_device", "activated_at", "expire_at":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				keep(k, v, k+" is not a string")
				continue
			}
			switch k {
			case "bind_device":
				r.BoundDevice = s
			case "activated_at":
				r.ActivatedAt = s
			default:
				r.ExpireAt = s
			}
		default:
			keep(k, v, "")
		}
	}
	return nil
}

// MarshalJSON encodes a record including preserved unknown fields.
func (r Record) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, len(r.Extensions)+5)
	for k, v := range r.Extensions {
		data[k] = v
	}

	if r.Status != "" {
		data["status"] = r.Status
	}
	if r.ValidDays != 0 || r.validDaysSet {
		data["valid_days"] = r.ValidDays
	}
	if r.BoundDevice != "" {
		data["bind_device"] = r.BoundDevice
	}
	if r.ActivatedAt != "" {
		data["activated_at"] = r.ActivatedAt
	}
	if r.ExpireAt != "" {
		data["expire_at"] = r.ExpireAt
	}

	return json.Marshal(data)
}

// NewUnusedRecord returns a fresh UNUSED record. A non-positive validDays
// leaves the field unset so the default applies.
func NewUnusedRecord(validDays int) Record {
	r := Record{Status: StatusUnused}
	if validDays > 0 {
		r.ValidDays = validDays
		r.validDaysSet = true
	}
	return r
}

// EffectiveValidDays returns valid_days or the default when it was never set.
func (r Record) EffectiveValidDays() int {
	if r.ValidDays <= 0 {
		return DefaultValidDays
	}
	return r.ValidDays
}

// Activated reports whether any of the activation fields is set.
func (r Record) Activated() bool {
	return r.BoundDevice != "" || r.ActivatedAt != "" || r.ExpireAt != ""
}

// Validate checks the record invariants for its current status.
func (r Record) Validate() error {
	if r.malformed != "" {
		return fmt.Errorf("%w: %s", ErrInconsistentRecord, r.malformed)
	}
	switch r.Status {
	case StatusUnused:
		if r.Activated() {
			return fmt.Errorf("%w: unused record carries activation fields", ErrInconsistentRecord)
		}
		if r.validDaysSet && r.ValidDays <= 0 {
			return fmt.Errorf("%w: valid_days must be positive, got %d", ErrInconsistentRecord, r.ValidDays)
		}
	case StatusUsed:
		if r.BoundDevice == "" || r.ActivatedAt == "" || r.ExpireAt == "" {
			return fmt.Errorf("%w: used record is missing activation fields", ErrInconsistentRecord)
		}
		if _, err := time.Parse(DateLayout, r.ExpireAt); err != nil {
			return fmt.Errorf("%w: bad expire_at %q", ErrInconsistentRecord, r.ExpireAt)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInconsistentRecord, r.Status)
	}
	return nil
}

// ExpiryDate parses expire_at as a calendar date in loc.
func (r Record) ExpiryDate(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, r.ExpireAt, loc)
}

// clone returns a deep copy so that mutations never leak into a snapshot.
func (r Record) clone() Record {
	out := r
	if r.Extensions != nil {
		out.Extensions = make(map[string]json.RawMessage, len(r.Extensions))
		for k, v := range r.Extensions {
			out.Extensions[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Ledger maps license strings to their records. It is always read and
// written as a whole.
type Ledger map[string]Record

// Clone returns a deep copy of the ledger.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for k, v := range l {
		out[k] = v.clone()
	}
	return out
}

// Keys returns the license strings in lexical order.
func (l Ledger) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecodeLedger parses the JSON ledger document. An empty document is an
// empty ledger.
func DecodeLedger(data []byte) (Ledger, error) {
	ledger := make(Ledger)
	if len(data) == 0 {
		return ledger, nil
	}
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return ledger, nil
}

// EncodeLedger renders the ledger as an indented JSON object with sorted keys.
func EncodeLedger(l Ledger) ([]byte, error) {
	if l == nil {
		l = Ledger{}
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}
