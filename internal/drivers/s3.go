// internal/drivers/s3.go
package drivers

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

// ErrRemoteList is returned when the object store cannot be listed.
var ErrRemoteList = errors.New("drivers: remote listing failed")

// segmentKeyRe matches the segment name inside an object key, e.g.
// wal_005/000000010000000000000042.lz4 or .../000000010000000000000042.br.
var segmentKeyRe = regexp.MustCompile(`^([0-9A-F]{24})(\.[a-z0-9]+)*$`)

// listObjectsAPI is the slice of the S3 client the lister needs.
type listObjectsAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// SegmentLister lists archived WAL segments under a bucket prefix.
type SegmentLister struct {
	client  listObjectsAPI
	bucket  string
	prefix  string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// S3Options configures a SegmentLister.
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	PathStyle bool
	// PageRate bounds listing requests per second so reconciliation
	// sweeps cannot saturate the provider. Zero means 10/s.
	PageRate float64
	Logger   *zap.Logger
}

// NewSegmentLister creates an S3-backed segment lister.
func NewSegmentLister(ctx context.Context, opts S3Options) (*SegmentLister, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(creds))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	pageRate := opts.PageRate
	if pageRate <= 0 {
		pageRate = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SegmentLister{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  strings.TrimSuffix(opts.Prefix, "/"),
		limiter: rate.NewLimiter(rate.Limit(pageRate), 1),
		logger:  logger,
	}, nil
}

// newSegmentListerWithClient is the test seam.
func newSegmentListerWithClient(client listObjectsAPI, bucket, prefix string, logger *zap.Logger) *SegmentLister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SegmentLister{
		client:  client,
		bucket:  bucket,
		prefix:  strings.TrimSuffix(prefix, "/"),
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  logger,
	}
}

// ListSegments returns every archived segment currently under the
// prefix. Pagination follows the continuation token; some S3-compatible
// providers omit the token on a truncated page, in which case the
// listing switches to offset mode via StartAfter on the last seen key.
func (l *SegmentLister) ListSegments(ctx context.Context) ([]wal.Segment, error) {
	var (
		segments []wal.Segment
		token    *string
		lastKey  string
		pages    int
	)

	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRemoteList, err)
		}

		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(l.bucket),
			Prefix: aws.String(l.prefix + "/"),
		}
		if token != nil {
			input.ContinuationToken = token
		} else if lastKey != "" {
			input.StartAfter = aws.String(lastKey)
		}

		out, err := l.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s/%s: %v", ErrRemoteList, l.bucket, l.prefix, err)
		}
		pages++

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			lastKey = *obj.Key
			if seg, ok := segmentFromKey(*obj.Key); ok {
				segments = append(segments, seg)
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
		if token == nil && lastKey == "" {
			// Truncated, no token, and nothing to offset from: bail out
			// instead of looping on the same page forever.
			return nil, fmt.Errorf("%w: truncated page with no continuation point", ErrRemoteList)
		}
	}

	l.logger.Debug("listed remote segments",
		zap.Int("segments", len(segments)),
		zap.Int("pages", pages))
	return segments, nil
}

// Contains checks a single segment's presence remotely by listing the
// narrow key range starting at its name. Used by reconciliation when a
// reported archiver failure overlaps the unconfirmed range.
func (l *SegmentLister) Contains(ctx context.Context, segment wal.Segment) (bool, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrRemoteList, err)
	}

	name := segment.String()
	out, err := l.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(l.bucket),
		Prefix:  aws.String(l.prefix + "/" + name),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("%w: head %s: %v", ErrRemoteList, name, err)
	}
	return len(out.Contents) > 0, nil
}

func segmentFromKey(key string) (wal.Segment, bool) {
	match := segmentKeyRe.FindStringSubmatch(path.Base(key))
	if match == nil {
		return wal.Segment{}, false
	}
	seg, err := wal.ParseSegment(match[1])
	if err != nil {
		return wal.Segment{}, false
	}
	return seg, true
}
