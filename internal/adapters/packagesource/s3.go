package packagesource

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ternmaps/tern/internal/domain"
	"github.com/ternmaps/tern/internal/ports/output"
)

// S3Config holds S3 package source configuration.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	CacheDir        string
}

// S3 implements PackageSource over an S3 bucket of package files.
type S3 struct {
	client   *s3.Client
	bucket   string
	prefix   string
	cacheDir string
}

// NewS3 creates an S3 package source.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3{
		client:   s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		cacheDir: cfg.CacheDir,
	}, nil
}

// List returns every package object under the prefix.
func (s *S3) List(ctx context.Context) ([]output.PackageInfo, error) {
	var infos []output.PackageInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(strings.ToLower(key), PackageSuffix) {
				continue
			}

			id := DeriveFileID(key)
			infos = append(infos, output.PackageInfo{
				ID:        id,
				ChartID:   DeriveChartID(id),
				Status:    "complete",
				TotalSize: aws.ToInt64(obj.Size),
				FileName:  filepath.Base(key),
			})
		}
	}

	return infos, nil
}

// GetMeta returns the record for one file id.
func (s *S3) GetMeta(ctx context.Context, fileID string) (output.PackageInfo, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return output.PackageInfo{}, err
	}
	for _, info := range infos {
		if info.ID == fileID {
			return info, nil
		}
	}
	return output.PackageInfo{}, domain.ErrPackageNotFound
}

// Resolve downloads the package into the cache directory unless an
// intact copy is already there.
func (s *S3) Resolve(ctx context.Context, fileID string) (string, error) {
	meta, err := s.GetMeta(ctx, fileID)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.cacheDir, meta.FileName)
	if st, err := os.Stat(dest); err == nil && st.Size() == meta.TotalSize && st.Size() > 0 {
		return dest, nil
	}

	if err := s.download(ctx, meta.FileName, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// download streams one object to disk through a temp file.
func (s *S3) download(ctx context.Context, fileName, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(fileName)),
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	tmp := dest + ".partial"
	f, err := os.Create(tmp) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dest)
}

// fullKey returns the bucket key including the configured prefix.
func (s *S3) fullKey(fileName string) string {
	if s.prefix == "" {
		return fileName
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + fileName
}
