package ledgerstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpass/internal/license"
)

func TestMemoryVersionsAdvance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(license.Ledger{"K1": license.NewUnusedRecord(30)})

	snap, err := m.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.Version("0"), snap.Version)
	assert.Equal(t, license.StatusUnused, snap.Ledger["K1"].Status)

	snap.Ledger["K2"] = license.NewUnusedRecord(0)
	require.NoError(t, m.Replace(ctx, snap.Ledger, snap.Version))

	next, err := m.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.Version("1"), next.Version)
	assert.Len(t, next.Ledger, 2)
	assert.Equal(t, []license.Version{"0"}, m.Replaces())
}

func TestMemoryFetchIsACopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(license.Ledger{"K1": license.NewUnusedRecord(30)})

	snap, err := m.Fetch(ctx)
	require.NoError(t, err)
	delete(snap.Ledger, "K1")

	assert.Contains(t, m.Ledger(), "K1")
}

func TestMemoryInjectedErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	boom := errors.New("boom")

	m.SetFetchError(boom)
	_, err := m.Fetch(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.Ping(ctx), boom)
	m.SetFetchError(nil)

	m.SetReplaceError(boom)
	assert.ErrorIs(t, m.Replace(ctx, license.Ledger{}, ""), boom)
	assert.Empty(t, m.Replaces())
}

func TestMemoryFromJSON(t *testing.T) {
	m := NewMemoryFromJSON([]byte(`{"K1":{"status":"UNUSED","valid_days":7,"note":"x"}}`))

	snap, err := m.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Ledger["K1"].ValidDays)
	assert.JSONEq(t, `"x"`, string(snap.Ledger["K1"].Extensions["note"]))

	bad := NewMemoryFromJSON([]byte(`[1,2]`))
	_, err = bad.Fetch(context.Background())
	assert.Error(t, err)
}

func TestMemoryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory(nil)
	_, err := m.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, m.Replace(ctx, license.Ledger{}, ""), context.Canceled)
}
