package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/helixcare/secrets-core/interfaces"
)

// S3Backend implements a physical backend on Amazon S3 or a compatible
// object store. Every value it stores for barrier key spaces is ciphertext,
// so the bucket operator learns nothing beyond key paths.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates an S3 physical backend. Credentials are required:
// the barrier writes on every secret mutation, so a read-only client is
// never useful here.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.TrimSuffix(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Get retrieves an object by key. Returns interfaces.ErrNotFound if the
// object doesn't exist.
func (b *S3Backend) Get(ctx context.Context, key string) (*interfaces.PhysicalEntry, error) {
	if err := interfaces.ValidatePhysicalKey(key); err != nil {
		return nil, err
	}

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: s3 get %s: %v", interfaces.ErrStorage, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: s3 read %s: %v", interfaces.ErrStorage, key, err)
	}

	b.log.Debug("Fetched entry from S3",
		slog.String("key", key),
		slog.Int("size", len(data)))

	return &interfaces.PhysicalEntry{Key: key, Value: data}, nil
}

// Put creates or overwrites the object for the entry's key.
func (b *S3Backend) Put(ctx context.Context, entry *interfaces.PhysicalEntry) error {
	if err := interfaces.ValidatePhysicalKey(entry.Key); err != nil {
		return err
	}

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(entry.Key)),
		Body:   bytes.NewReader(entry.Value),
	})
	if err != nil {
		return fmt.Errorf("%w: s3 put %s: %v", interfaces.ErrStorage, entry.Key, err)
	}

	b.log.Debug("Stored entry in S3",
		slog.String("key", entry.Key),
		slog.Int("size", len(entry.Value)))

	return nil
}

// Delete removes the object for the key. S3 deletes are idempotent, which
// matches the backend contract.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if err := interfaces.ValidatePhysicalKey(key); err != nil {
		return err
	}

	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("%w: s3 delete %s: %v", interfaces.ErrStorage, key, err)
	}
	return nil
}

// List enumerates keys directly under the prefix using a delimited listing,
// so nested sub-paths collapse to "dir/" entries.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.objectKey(prefix)
	if prefix != "" && !strings.HasSuffix(fullPrefix, "/") {
		fullPrefix += "/"
	}

	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucketName),
		Prefix:    aws.String(fullPrefix),
		Delimiter: aws.String("/"),
	}

	err := b.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), fullPrefix))
		}
		for _, common := range page.CommonPrefixes {
			keys = append(keys, strings.TrimPrefix(aws.StringValue(common.Prefix), fullPrefix))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: s3 list %s: %v", interfaces.ErrStorage, prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Name returns a unique identifier for this backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}
