// Package gcs stores objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/fx"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "gcs"

type gcsAdapter struct {
	client *gcstorage.Client
	cfg    storage.StorageConfig
	name   string
}

var _ storage.StorageConnection = (*gcsAdapter)(nil)

// NewAdapter opens a GCS client. Without credentials_file the client uses application default credentials.
func NewAdapter(ctx context.Context, cfg storage.StorageConfig, name string) (storage.StorageConnection, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, cfg: cfg, name: name}, nil
}

func (a *gcsAdapter) Type() string { return ProviderType }
func (a *gcsAdapter) Name() string { return a.name }
func (a *gcsAdapter) Close() error { return a.client.Close() }

func (a *gcsAdapter) object(bucket, objectName string) (*gcstorage.ObjectHandle, error) {
	bucket = a.cfg.Bucket(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage '%s': bucket is required", a.name)
	}
	return a.client.Bucket(bucket).Object(objectName), nil
}

func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	obj, err := a.object(bucket, objectName)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload '%s': %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload '%s': %w", objectName, err)
	}
	logger.Debugf("Uploaded '%s' (gcs storage '%s').", objectName, a.name)
	return nil
}

func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	obj, err := a.object(bucket, objectName)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to download '%s': %w", objectName, err)
	}
	return r, nil
}

func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	bucket = a.cfg.Bucket(bucket)
	if bucket == "" {
		return fmt.Errorf("gcs storage '%s': bucket is required", a.name)
	}
	it := a.client.Bucket(bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list '%s' with prefix '%s': %w", bucket, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	obj, err := a.object(bucket, objectName)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete '%s': %w", objectName, err)
	}
	return nil
}

// Provider opens GCS connections.
type Provider struct{}

// NewProvider creates a GCS Provider.
func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Type() string { return ProviderType }

func (p *Provider) Connect(ctx context.Context, name string, cfg storage.StorageConfig) (storage.StorageConnection, error) {
	return NewAdapter(ctx, cfg, name)
}

// Module registers the GCS provider.
var Module = fx.Options(storage.ProviderModule(NewProvider))
