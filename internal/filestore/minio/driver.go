// Package minio provides a MinIO implementation of filestore.Store.
package minio

import (
	"context"
	"io"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/filestore"
)

// Driver reads table sources from a MinIO (or any S3-compatible) server.
// It is safe for concurrent use.
type Driver struct {
	client *miniogo.Client

	// bucket is used when a call passes an empty bucket name.
	bucket string
}

// New builds a client from cfg and pings the server.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "minio needs an endpoint")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{client: client, bucket: cfg.Bucket}
	if err := d.Ping(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Ping lists buckets, which also proves the credentials.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.client.ListBuckets(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

func (d *Driver) Close() error { return nil }

func (d *Driver) resolve(bucket string) (string, error) {
	if bucket == "" {
		bucket = d.bucket
	}
	if bucket == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "no bucket given and no default bucket configured")
	}
	return bucket, nil
}

// ListObjects returns the objects under opts.Prefix in key order.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	bucket, err := d.resolve(bucket)
	if err != nil {
		return nil, err
	}

	// Cancelling stops the SDK's listing goroutine when Limit cuts it short.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []filestore.ObjectInfo
	listing := d.client.ListObjects(ctx, bucket, miniogo.ListObjectsOptions{
		Prefix:    opts.Prefix,
		Recursive: opts.Recursive,
	})
	for obj := range listing {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects in "+bucket)
		}
		out = append(out, *toInfo(obj))
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GetObject opens key for reading. A missing key fails here rather than on
// the first Read.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	bucket, err := d.resolve(bucket)
	if err != nil {
		return nil, err
	}
	obj, err := d.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to open "+key)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, mapError(err, "failed to open "+key)
	}
	return &object{ReadCloser: obj, info: toInfo(stat)}, nil
}

func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	bucket, err := d.resolve(bucket)
	if err != nil {
		return nil, err
	}
	stat, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat "+key)
	}
	return toInfo(stat), nil
}

// toInfo converts SDK metadata. Keys ending in "/" are the common prefixes
// a non-recursive listing returns.
func toInfo(o miniogo.ObjectInfo) *filestore.ObjectInfo {
	return &filestore.ObjectInfo{
		Key:          o.Key,
		Size:         o.Size,
		ContentType:  o.ContentType,
		ETag:         o.ETag,
		LastModified: o.LastModified,
		IsDir:        strings.HasSuffix(o.Key, "/"),
	}
}

type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo { return o.info }
