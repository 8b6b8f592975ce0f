package license

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// DefaultKeyPrefix starts every provisioned key.
const DefaultKeyPrefix = "SCHO"

// keyAlphabet leaves out characters that are easy to misread on a printed
// card (0/O, 1/I/L).
const keyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// MaxProvision bounds a single provisioning run.
const MaxProvision = 1000

// ErrInvalidProvision reports a bad provisioning request.
var ErrInvalidProvision = errors.New("invalid provisioning request")

// GenerateKey returns a random key formatted as PREFIX-XXXX-XXXX-XXXX.
func GenerateKey(prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(strings.ToUpper(prefix))
	for i, b := range buf {
		if i%4 == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(keyAlphabet[int(b)%len(keyAlphabet)])
	}
	return sb.String(), nil
}

// ProvisionRequest describes a batch of new UNUSED keys.
type ProvisionRequest struct {
	Count     int
	ValidDays int
	Prefix    string
}

// Provision adds req.Count fresh UNUSED records to the ledger and returns
// their keys. The ledger is replaced as a whole with the fetched version as
// precondition, like an activation.
func Provision(ctx context.Context, store Store, req ProvisionRequest) ([]string, error) {
	if store == nil {
		return nil, ErrStoreNotConfigured
	}
	if req.Count <= 0 || req.Count > MaxProvision {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidProvision, MaxProvision)
	}
	if req.ValidDays < 0 {
		return nil, fmt.Errorf("%w: valid days must not be negative", ErrInvalidProvision)
	}

	snap, err := store.Fetch(ctx)
	if err != nil {
		return nil, asUnavailable(err)
	}

	ledger := snap.Ledger.Clone()

	keys := make([]string, 0, req.Count)
	for len(keys) < req.Count {
		key, err := GenerateKey(req.Prefix)
		if err != nil {
			return nil, err
		}
		if _, taken := ledger[key]; taken {
			continue
		}
		ledger[key] = NewUnusedRecord(req.ValidDays)
		keys = append(keys, key)
	}

	if err := store.Replace(ctx, ledger, snap.Version); err != nil {
		return nil, asUnavailable(err)
	}
	return keys, nil
}
