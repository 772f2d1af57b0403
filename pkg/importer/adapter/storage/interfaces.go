// Package storage defines the object storage contract used to archive job artifacts,
// and the resolver that maps a named connection of importer.storage onto a provider.
package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/configbinder"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// StorageConfig holds one named connection of the importer.storage section.
type StorageConfig struct {
	Type            string `yaml:"type"`             // local, gcs or s3.
	BucketName      string `yaml:"bucket_name"`      // Default bucket when a call passes none.
	CredentialsFile string `yaml:"credentials_file"` // Service account key file for gcs.
	BaseDir         string `yaml:"base_dir"`         // Root directory for local.
	Endpoint        string `yaml:"endpoint"`         // S3-compatible endpoint; empty for AWS.
	Region          string `yaml:"region"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// Bucket returns bucket, or the configured default when bucket is empty.
func (c StorageConfig) Bucket(bucket string) string {
	if bucket == "" {
		return c.BucketName
	}
	return bucket
}

// StorageExecutor defines the object operations.
type StorageExecutor interface {
	// Upload writes data to bucket/objectName.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes bucket/objectName. Missing objects are not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is one open storage connection.
type StorageConnection interface {
	StorageExecutor
	Type() string
	Name() string
	Close() error
}

// StorageProvider opens connections of one storage type.
type StorageProvider interface {
	Type() string
	Connect(ctx context.Context, name string, cfg StorageConfig) (StorageConnection, error)
}

// StorageConnectionResolver resolves named connections.
type StorageConnectionResolver interface {
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}

// StorageProviderGroup is the fx group collecting every StorageProvider.
const StorageProviderGroup = "storage_providers"

// LookupConfig decodes the connection named name from cfg.Importer.Storage.
func LookupConfig(cfg *config.Config, name string) (StorageConfig, error) {
	var storageCfg StorageConfig
	raw, ok := cfg.Importer.Storage[name]
	if !ok {
		return storageCfg, fmt.Errorf("storage configuration '%s' not found under importer.storage", name)
	}
	props, ok := raw.(map[string]interface{})
	if !ok {
		return storageCfg, fmt.Errorf("storage configuration '%s' has invalid format %T", name, raw)
	}
	if err := configbinder.BindProperties(props, &storageCfg); err != nil {
		return storageCfg, fmt.Errorf("failed to decode storage config '%s': %w", name, err)
	}
	return storageCfg, nil
}

// ConnectionResolver caches one connection per name across all providers.
type ConnectionResolver struct {
	providers   map[string]StorageProvider
	cfg         *config.Config
	connections map[string]StorageConnection
	mu          sync.Mutex
}

// ResolverParams defines the dependencies of NewConnectionResolver.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}

// NewConnectionResolver creates a resolver over every registered provider.
func NewConnectionResolver(p ResolverParams) *ConnectionResolver {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, provider := range p.Providers {
		providers[provider.Type()] = provider
	}
	return &ConnectionResolver{providers: providers, cfg: p.Cfg, connections: map[string]StorageConnection{}}
}

// ResolveStorageConnection returns the cached connection for name, opening it on first use.
func (r *ConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[name]; ok {
		return conn, nil
	}
	storageCfg, err := LookupConfig(r.cfg, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[storageCfg.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", storageCfg.Type, name)
	}
	conn, err := provider.Connect(ctx, name, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage connection '%s': %w", name, err)
	}
	r.connections[name] = conn
	logger.Debugf("Opened storage connection '%s' (%s).", name, storageCfg.Type)
	return conn, nil
}

// CloseAll closes every open connection.
func (r *ConnectionResolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lastErr error
	for name, conn := range r.connections {
		if err := conn.Close(); err != nil {
			logger.Warnf("Failed to close storage connection '%s': %v", name, err)
			lastErr = err
		}
		delete(r.connections, name)
	}
	return lastErr
}

// NewResolverWithLifecycle creates the resolver and closes its connections on stop.
func NewResolverWithLifecycle(lc fx.Lifecycle, p ResolverParams) *ConnectionResolver {
	r := NewConnectionResolver(p)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return r.CloseAll() }})
	return r
}

// Module provides the StorageConnectionResolver. Providers come from the local, gcs and s3 packages.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewResolverWithLifecycle,
		fx.As(fx.Self(), new(StorageConnectionResolver)),
	)),
)

// ProviderModule registers constructor as a member of the StorageProvider group.
func ProviderModule(constructor interface{}) fx.Option {
	return fx.Provide(fx.Annotate(
		constructor,
		fx.As(new(StorageProvider)),
		fx.ResultTags(`group:"`+StorageProviderGroup+`"`),
	))
}
