package ledgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scholarpass/internal/license"
)

// RedisClient is the part of the go-redis client the ledger needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis stores the ledger document as one string key with no expiry.
type Redis struct {
	client RedisClient
	key    string
}

// NewRedis returns a store keeping the document under key.
func NewRedis(client RedisClient, key string) *Redis {
	if key == "" {
		key = "scholarpass:ledger"
	}
	return &Redis{client: client, key: key}
}

// Fetch reads the document. A missing key is an empty ledger.
func (r *Redis) Fetch(ctx context.Context) (*license.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return &license.Snapshot{Ledger: license.Ledger{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger key: %w", err)
	}

	ledger, err := license.DecodeLedger(data)
	if err != nil {
		return nil, fmt.Errorf("redis key %s: %w", r.key, err)
	}
	return &license.Snapshot{Ledger: ledger, Version: contentVersion(data)}, nil
}

// Replace overwrites the document. ifMatch is ignored.
func (r *Redis) Replace(ctx context.Context, ledger license.Ledger, _ license.Version) error {
	data, err := license.EncodeLedger(ledger)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write ledger key: %w", err)
	}
	return nil
}

// Ping checks the server answers.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
