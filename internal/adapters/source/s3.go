package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

var _ output.RemoteSource = (*S3Source)(nil)

// s3API is the subset of *s3.Client the source uses.
type s3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Source implements RemoteSource for an S3 bucket (public data buckets
// or any S3-compatible endpoint).
type S3Source struct {
	client s3API
	bucket string
}

// S3Config holds S3 configuration.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Anonymous       bool
}

// NewS3Source creates a new S3 source adapter.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	var opts []func(*config.LoadOptions) error

	opts = append(opts, config.WithRegion(cfg.Region))

	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	case cfg.Anonymous:
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: aws config: %v", domain.ErrAuth, err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Source{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
	}, nil
}

// List returns the objects below the locator prefix whose key matches the
// pattern, in key order.
func (s *S3Source) List(ctx context.Context, loc domain.Locator) ([]domain.RemoteEntry, error) {
	re, err := regexp.Compile(loc.Pattern)
	if err != nil {
		return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: fmt.Errorf("%w: pattern: %v", domain.ErrInvalidInput, err)}
	}

	var entries []domain.RemoteEntry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(loc.ListPath),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: classifyCloudErr(err)}
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !re.MatchString(key) {
				continue
			}
			entry := domain.NewRemoteEntry(path.Base(key), key)
			entry.RawLine = key
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// Fetch streams an object into w.
func (s *S3Source) Fetch(ctx context.Context, entry domain.RemoteEntry, w io.Writer) (int64, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(entry.Location),
	})
	if err != nil {
		return 0, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: classifyCloudErr(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}
	return n, nil
}

// Exists checks if an object exists in S3.
func (s *S3Source) Exists(ctx context.Context, entry domain.RemoteEntry) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(entry.Location),
	})
	if err == nil {
		return true, nil
	}
	cerr := classifyCloudErr(err)
	if errors.Is(cerr, domain.ErrNotFound) {
		return false, nil
	}
	return false, &domain.FetchError{Operation: "exists", Name: entry.Name, Err: cerr}
}

// Close is a no-op; the SDK client holds no session.
func (s *S3Source) Close() error {
	return nil
}

func classifyCloudErr(err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return fmt.Errorf("%w: %v", domain.ErrRemoteFileNotFound, err)
	case errors.As(err, &noBucket):
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return classifyNetErr(err)
}
