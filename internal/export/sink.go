package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"

	"github.com/johnayoung/go-trade-backfill/internal/config"
)

const uploadTimeout = 2 * time.Minute

// Sink is the destination of exported files. Closing a file returned by
// Create commits it; Abort, when the file has it, discards it.
type Sink interface {
	Create(ctx context.Context, key string) (source.ParquetFile, error)
	// URI describes where key ends up, for logs and command output.
	URI(key string) string
}

type aborter interface {
	Abort() error
}

// discard releases a file whose write failed without committing it.
func discard(f source.ParquetFile) {
	if a, ok := f.(aborter); ok {
		_ = a.Abort()
		return
	}
	_ = f.Close()
}

// NewSink returns the S3 sink when it is enabled and the directory sink otherwise.
func NewSink(ctx context.Context, cfg config.ExportConfig) (Sink, error) {
	if cfg.S3.Enabled {
		return NewS3Sink(ctx, cfg.S3)
	}
	return NewFileSink(cfg.Dir)
}

// FileSink writes exports below a local directory.
type FileSink struct {
	dir string
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	return &FileSink{dir: dir}, nil
}

// Create opens the local file for key, creating its directories.
func (s *FileSink) Create(ctx context.Context, key string) (source.ParquetFile, error) {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	fw, err := local.NewLocalFileWriter(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", p, err)
	}
	return &localFile{ParquetFile: fw, path: p}, nil
}

// URI returns the file path of key.
func (s *FileSink) URI(key string) string {
	return s.path(key)
}

func (s *FileSink) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

type localFile struct {
	source.ParquetFile
	path string
}

func (f *localFile) Abort() error {
	_ = f.ParquetFile.Close()
	return os.Remove(f.path)
}

// s3API is the part of the S3 client the sink uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads exports to an S3 bucket. Files are buffered in memory and
// uploaded on Close.
type S3Sink struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Sink builds the S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg config.S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return newS3Sink(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Sink(client s3API, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Create returns a buffer that is uploaded to key when closed.
func (s *S3Sink) Create(ctx context.Context, key string) (source.ParquetFile, error) {
	return &s3File{memFile: newMemFile(), ctx: ctx, sink: s, key: s.objectKey(key)}, nil
}

// URI returns the s3:// location of key.
func (s *S3Sink) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.objectKey(key))
}

func (s *S3Sink) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3Sink) upload(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

type s3File struct {
	*memFile
	ctx     context.Context
	sink    *S3Sink
	key     string
	aborted bool
}

func (f *s3File) Close() error {
	if f.aborted {
		return nil
	}
	return f.sink.upload(f.ctx, f.key, f.Bytes())
}

func (f *s3File) Abort() error {
	f.aborted = true
	return nil
}
