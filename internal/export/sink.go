package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const partialSuffix = ".part"

// DirSink saves artifacts into a local directory. Files are written under a
// temporary name and renamed once complete, so a failed save leaves nothing
// behind. Existing files are not overwritten; a counter is added instead.
type DirSink struct {
	Dir string
}

// NewDirSink returns a sink for dir. An empty dir means the user's
// Downloads folder, or the working directory when that cannot be found.
func NewDirSink(dir string) *DirSink {
	if strings.TrimSpace(dir) == "" {
		dir = defaultDownloadDir()
	}
	return &DirSink{Dir: dir}
}

func (s *DirSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	target, err := availablePath(s.Dir, filepath.Base(name))
	if err != nil {
		return "", err
	}
	partial := target + partialSuffix

	file, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(partial)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(partial)
		return "", err
	}
	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return "", err
	}
	return target, nil
}

func availablePath(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; i < 1000; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
	return "", fmt.Errorf("export: too many files named %s in %s", name, dir)
}

func defaultDownloadDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		downloads := filepath.Join(home, "Downloads")
		if info, err := os.Stat(downloads); err == nil && info.IsDir() {
			return downloads
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// BucketConfig points a BucketSink at an S3-compatible store.
type BucketConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// BucketSink uploads artifacts to an S3-compatible bucket.
type BucketSink struct {
	client *minio.Client
	bucket string
	region string
	prefix string
}

// NewBucketSink builds the client without contacting the store; call
// EnsureBucket before the first export.
func NewBucketSink(cfg BucketConfig) (*BucketSink, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("export: bucket endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("export: bucket name is required")
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("export: bucket client: %w", err)
	}
	return &BucketSink{client: cli, bucket: cfg.Bucket, region: cfg.Region, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *BucketSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
}

func (s *BucketSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	key := s.objectKey(name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucket, key), nil
}

func (s *BucketSink) objectKey(name string) string {
	name = path.Base(filepath.ToSlash(name))
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}
