package ledgerstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"scholarpass/internal/license"
)

// MinioConfig configures an S3-compatible object store ledger.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Object    string
	UseSSL    bool
}

// Minio stores the ledger as a single object. The object ETag is the
// snapshot version.
type Minio struct {
	client *minio.Client
	bucket string
	object string
}

// NewMinio connects to the object store and creates the bucket if needed.
func NewMinio(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio store needs an endpoint and credentials: %w", license.ErrStoreNotConfigured)
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "scholarpass"
	}
	if cfg.Object == "" {
		cfg.Object = "licenses.json"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		if logger != nil {
			logger.InfoContext(ctx, "ledger bucket created", slog.String("bucket", cfg.Bucket))
		}
	}

	return &Minio{client: client, bucket: cfg.Bucket, object: cfg.Object}, nil
}

// Fetch downloads the ledger object. A missing object is an empty ledger.
func (m *Minio) Fetch(ctx context.Context) (*license.Snapshot, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger object: %w", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return &license.Snapshot{Ledger: license.Ledger{}}, nil
		}
		return nil, fmt.Errorf("failed to stat ledger object: %w", err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger object: %w", err)
	}

	ledger, err := license.DecodeLedger(data)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", m.bucket, m.object, err)
	}
	return &license.Snapshot{Ledger: ledger, Version: license.Version(info.ETag)}, nil
}

// Replace uploads the whole ledger. ifMatch is not sent as a precondition.
func (m *Minio) Replace(ctx context.Context, ledger license.Ledger, _ license.Version) error {
	data, err := license.EncodeLedger(ledger)
	if err != nil {
		return err
	}

	_, err = m.client.PutObject(ctx, m.bucket, m.object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload ledger object: %w", err)
	}
	return nil
}

// Ping checks the bucket is reachable.
func (m *Minio) Ping(ctx context.Context) error {
	if _, err := m.client.BucketExists(ctx, m.bucket); err != nil {
		return fmt.Errorf("minio ping failed: %w", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
