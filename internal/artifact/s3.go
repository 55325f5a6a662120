package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/podbrief/podbrief/internal/config"
)

// S3Host stores MP3s in an S3-compatible bucket. Daily tags map to key
// prefixes: {prefix}/daily-YYYY-MM-DD/{file}. The bucket must be publicly
// readable under PublicBaseURL for RSS enclosures to resolve.
type S3Host struct {
	client        *s3.Client
	bucket        string
	prefix        string
	publicBaseURL string
	log           zerolog.Logger
}

// NewS3Host creates an S3 artifact backend from config.
func NewS3Host(cfg config.S3Config, log zerolog.Logger) (*S3Host, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Host{
		client:        s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:        cfg.Bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		log:           log.With().Str("component", "artifact").Str("backend", "s3").Logger(),
	}, nil
}

// Type returns the backend name.
func (s *S3Host) Type() string { return "s3" }

func (s *S3Host) tagPrefixKey(tag string) string {
	if s.prefix != "" {
		return s.prefix + "/" + tag + "/"
	}
	return tag + "/"
}

// EnsureTag is a no-op for S3; prefixes exist implicitly once an object is
// written under them.
func (s *S3Host) EnsureTag(ctx context.Context, date time.Time) (string, error) {
	return TagName(date), nil
}

// UploadAsset puts the file under the tag's prefix and returns its public URL.
func (s *S3Host) UploadAsset(ctx context.Context, tag, localPath, contentType string) (Asset, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open asset file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Asset{}, fmt.Errorf("stat asset file: %w", err)
	}

	key := s.tagPrefixKey(tag) + filepath.Base(localPath)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return Asset{}, fmt.Errorf("put object %s: %w", key, err)
	}

	s.log.Info().Str("key", key).Int64("bytes", st.Size()).Msg("asset uploaded")
	return Asset{
		URL:       s.publicBaseURL + "/" + key,
		SizeBytes: st.Size(),
	}, nil
}

// ListTags enumerates daily-tag prefixes in the bucket. Object mtimes stand
// in for tag creation time; retention only compares the date in the name.
func (s *S3Host) ListTags(ctx context.Context) ([]Tag, error) {
	base := ""
	if s.prefix != "" {
		base = s.prefix + "/"
	}
	delim := "/"

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    &s.bucket,
		Prefix:    &base,
		Delimiter: &delim,
	})
	if err != nil {
		return nil, fmt.Errorf("list tag prefixes: %w", err)
	}

	var tags []Tag
	for _, cp := range out.CommonPrefixes {
		if cp.Prefix == nil {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, base), "/")
		d, err := ParseTagDate(name)
		if err != nil {
			continue
		}
		tags = append(tags, Tag{Name: name, CreatedAt: d})
	}
	return tags, nil
}

// DeleteTag removes every object under the tag's prefix.
func (s *S3Host) DeleteTag(ctx context.Context, tag string) error {
	prefix := s.tagPrefixKey(tag)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: &s.bucket,
				Key:    obj.Key,
			}); err != nil {
				return fmt.Errorf("delete object %s: %w", *obj.Key, err)
			}
			deleted++
		}
	}

	s.log.Info().Str("tag", tag).Int("objects", deleted).Msg("tag deleted")
	return nil
}
