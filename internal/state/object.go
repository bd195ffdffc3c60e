package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// S3API is the subset of the S3 client used by ObjectStore.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config configures the S3 client for ObjectStore.
type S3Config struct {
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	// PathStyle is required by most S3-compatible services.
	PathStyle bool `koanf:"path_style"`
}

// NewS3Client builds an S3 client from cfg. Without keys the client makes
// anonymous requests.
func NewS3Client(cfg S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return s3.New(opts)
}

// ObjectStore keeps one YAML object per environment under a key prefix.
// A single PutObject replaces the whole document, so readers never observe
// a partial write.
type ObjectStore struct {
	client S3API
	bucket string
	prefix string
	logger *slog.Logger
}

var _ core.FingerprintStore = (*ObjectStore)(nil)

// NewObjectStore returns a store writing to bucket under prefix.
func NewObjectStore(client S3API, bucket, prefix string, logger *slog.Logger) *ObjectStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &ObjectStore{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Key returns the object key for env.
func (s *ObjectStore) Key(env string) string {
	return s.prefix + env + fileExt
}

// Load fetches the snapshot for env. A missing object yields an empty snapshot.
func (s *ObjectStore) Load(ctx context.Context, env string) (*core.Snapshot, error) {
	if err := ValidateEnvironment(env); err != nil {
		return nil, persistErr("load", env, "s3", err)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(env)),
	})
	if isNotFound(err) {
		s.logger.Debug("no stored state", slog.String("environment", env), slog.String("key", s.Key(env)))
		return core.NewSnapshot(env), nil
	}
	if err != nil {
		return nil, persistErr("load", env, "s3", fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.Key(env), err))
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, persistErr("load", env, "s3", fmt.Errorf("read object: %w", err))
	}
	snap, err := decodeSnapshot(env, data)
	if err != nil {
		return nil, persistErr("load", env, "s3", err)
	}
	return snap, nil
}

// Save uploads the snapshot in one PutObject call.
func (s *ObjectStore) Save(ctx context.Context, snap *core.Snapshot) error {
	env := snap.Environment
	if err := ValidateEnvironment(env); err != nil {
		return persistErr("save", env, "s3", err)
	}

	stamped := stamp(snap)
	data, err := encodeSnapshot(stamped)
	if err != nil {
		return persistErr("save", env, "s3", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(env)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/yaml"),
		Metadata:    map[string]string{"revision": stamped.Revision},
	})
	if err != nil {
		return persistErr("save", env, "s3", fmt.Errorf("put s3://%s/%s: %w", s.bucket, s.Key(env), err))
	}

	snap.Revision, snap.SavedAt = stamped.Revision, stamped.SavedAt
	s.logger.Info("state saved",
		slog.String("environment", env),
		slog.String("bucket", s.bucket),
		slog.String("key", s.Key(env)),
		slog.Int("models", len(snap.Models)))
	return nil
}

// Environments lists environments with a stored object directly under the
// prefix.
func (s *ObjectStore) Environments(ctx context.Context) ([]string, error) {
	envs := []string{}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, persistErr("list", "", "s3", err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if strings.Contains(rel, "/") || path.Ext(rel) != fileExt {
				continue
			}
			envs = append(envs, strings.TrimSuffix(rel, fileExt))
		}
	}
	sort.Strings(envs)
	return envs, nil
}

// Close is a no-op.
func (s *ObjectStore) Close() error {
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
