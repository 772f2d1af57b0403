// Package s3 stores objects in Amazon S3 or an S3-compatible service.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "s3"

const defaultRegion = "us-east-1"

type s3Adapter struct {
	client *s3.Client
	cfg    storage.StorageConfig
	name   string
}

var _ storage.StorageConnection = (*s3Adapter)(nil)

// NewAdapter creates an S3 client. A configured endpoint switches the client to path-style addressing.
func NewAdapter(ctx context.Context, cfg storage.StorageConfig, name string) (storage.StorageConnection, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 storage '%s': failed to load AWS config: %w", name, err)
	}
	endpoint := EndpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Adapter{client: client, cfg: cfg, name: name}, nil
}

// EndpointURL normalizes a configured endpoint into a base URL. Empty means the AWS default.
func EndpointURL(endpoint string, useSSL bool) string {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	if host == "" {
		return ""
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + host
}

func (a *s3Adapter) Type() string { return ProviderType }
func (a *s3Adapter) Name() string { return a.name }
func (a *s3Adapter) Close() error { return nil }

func (a *s3Adapter) bucket(bucket string) (*string, error) {
	bucket = a.cfg.Bucket(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage '%s': bucket is required", a.name)
	}
	return aws.String(bucket), nil
}

func (a *s3Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      b,
		Key:         aws.String(objectName),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload '%s': %w", objectName, err)
	}
	logger.Debugf("Uploaded '%s' (s3 storage '%s').", objectName, a.name)
	return nil
}

func (a *s3Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	b, err := a.bucket(bucket)
	if err != nil {
		return nil, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: b, Key: aws.String(objectName)})
	if err != nil {
		return nil, fmt.Errorf("failed to download '%s': %w", objectName, err)
	}
	return out.Body, nil
}

func (a *s3Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	pages := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{Bucket: b, Prefix: aws.String(prefix)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list '%s' with prefix '%s': %w", *b, prefix, err)
		}
		for _, obj := range page.Contents {
			if err := fn(aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteObject removes the object. S3 reports success for missing keys.
func (a *s3Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: b, Key: aws.String(objectName)}); err != nil {
		return fmt.Errorf("failed to delete '%s': %w", objectName, err)
	}
	return nil
}

// Provider opens S3 connections.
type Provider struct{}

// NewProvider creates an S3 Provider.
func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Type() string { return ProviderType }

func (p *Provider) Connect(ctx context.Context, name string, cfg storage.StorageConfig) (storage.StorageConnection, error) {
	return NewAdapter(ctx, cfg, name)
}

// Module registers the S3 provider.
var Module = fx.Options(storage.ProviderModule(NewProvider))
