package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mimir-aip/triage-ml/pkg/config"
	"github.com/mimir-aip/triage-ml/pkg/models"
)

// S3API is the subset of the S3 client used by S3ArtifactStore
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3ArtifactStore keeps artifacts under <prefix>/<kind>/<version>.json in a
// bucket. Object writes are atomic, so the pointer is written after the blob.
type S3ArtifactStore struct {
	client S3API
	bucket string
	prefix string
	retain int
	mu     sync.Mutex
}

// NewS3ArtifactStore wraps an existing client
func NewS3ArtifactStore(client S3API, bucket, prefix string, retain int) *S3ArtifactStore {
	if retain < 1 {
		retain = DefaultRetain
	}
	return &S3ArtifactStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		retain: retain,
	}
}

// NewS3ArtifactStoreFromConfig loads AWS credentials from the default chain.
// A configured endpoint switches to path-style addressing for S3-compatible
// servers.
func NewS3ArtifactStoreFromConfig(ctx context.Context, cfg config.ArtifactsConfig) (*S3ArtifactStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ArtifactStore(client, cfg.Bucket, cfg.Prefix, cfg.Retain), nil
}

func (s *S3ArtifactStore) kindPrefix(kind models.ModelKind) string {
	if s.prefix == "" {
		return string(kind) + "/"
	}
	return path.Join(s.prefix, string(kind)) + "/"
}

func (s *S3ArtifactStore) versionKey(kind models.ModelKind, version string) string {
	return s.kindPrefix(kind) + version + ".json"
}

func (s *S3ArtifactStore) pointerKey(kind models.ModelKind) string {
	return s.kindPrefix(kind) + CurrentPointer
}

// Save uploads blob as a new version and then moves the pointer
func (s *S3ArtifactStore) Save(ctx context.Context, kind models.ModelKind, blob []byte) (string, error) {
	if err := validKind(kind); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := newVersion()
	if err := s.put(ctx, s.versionKey(kind, version), blob, "application/json"); err != nil {
		return "", fmt.Errorf("failed to upload %s artifact: %w", kind, err)
	}
	if err := s.put(ctx, s.pointerKey(kind), []byte(version), "text/plain"); err != nil {
		return "", fmt.Errorf("failed to update %s pointer: %w", kind, err)
	}

	versions, err := s.Versions(ctx, kind)
	if err != nil {
		return version, nil
	}
	for _, v := range staleVersions(versions, version, s.retain) {
		_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.versionKey(kind, v)),
		})
	}
	return version, nil
}

// Load downloads the current version of kind
func (s *S3ArtifactStore) Load(ctx context.Context, kind models.ModelKind) ([]byte, string, error) {
	if err := validKind(kind); err != nil {
		return nil, "", err
	}

	ptr, err := s.get(ctx, s.pointerKey(kind))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s pointer: %w", kind, err)
	}
	version := strings.TrimSpace(string(ptr))

	blob, err := s.get(ctx, s.versionKey(kind, version))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s version %s: %w", kind, version, err)
	}
	return blob, version, nil
}

// Versions lists retained versions, oldest first
func (s *S3ArtifactStore) Versions(ctx context.Context, kind models.ModelKind) ([]string, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}

	prefix := s.kindPrefix(kind)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var versions []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list %s versions: %v", models.ErrTransientIO, kind, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if strings.Contains(name, "/") || !strings.HasSuffix(name, ".json") {
				continue
			}
			versions = append(versions, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(versions)
	return versions, nil
}

func (s *S3ArtifactStore) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientIO, err)
	}
	return nil
}

func (s *S3ArtifactStore) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: object %s", models.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrTransientIO, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientIO, err)
	}
	return data, nil
}
