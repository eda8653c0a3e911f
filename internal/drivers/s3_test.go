// internal/drivers/s3_test.go
package drivers

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/wal"
)

type fakePage struct {
	keys      []string
	truncated bool
	token     *string
}

type fakeS3 struct {
	pages []fakePage
	calls []s3.ListObjectsV2Input
	err   error
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.calls = append(f.calls, *params)
	if f.err != nil {
		return nil, f.err
	}
	page := f.pages[0]
	if len(f.pages) > 1 {
		f.pages = f.pages[1:]
	}
	out := &s3.ListObjectsV2Output{
		IsTruncated:           aws.Bool(page.truncated),
		NextContinuationToken: page.token,
	}
	for _, key := range page.keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func TestListSegments(t *testing.T) {
	t.Run("extracts segment names from object keys", func(t *testing.T) {
		client := &fakeS3{pages: []fakePage{{keys: []string{
			"wal_005/000000010000000000000010.lz4",
			"wal_005/000000010000000000000011.br",
			"wal_005/000000010000000000000012",
			"wal_005/00000002.history.lz4",
			"basebackups_005/base_000000010000000000000010/metadata.json",
		}}}}
		lister := newSegmentListerWithClient(client, "backups", "wal_005", nil)

		segments, err := lister.ListSegments(context.Background())
		require.NoError(t, err)
		require.Len(t, segments, 3)
		assert.Equal(t, wal.MustParseSegment("000000010000000000000010"), segments[0])
		assert.Equal(t, wal.MustParseSegment("000000010000000000000012"), segments[2])
	})

	t.Run("follows continuation tokens", func(t *testing.T) {
		client := &fakeS3{pages: []fakePage{
			{keys: []string{"wal_005/000000010000000000000010.lz4"}, truncated: true, token: aws.String("t1")},
			{keys: []string{"wal_005/000000010000000000000011.lz4"}},
		}}
		lister := newSegmentListerWithClient(client, "backups", "wal_005", nil)

		segments, err := lister.ListSegments(context.Background())
		require.NoError(t, err)
		assert.Len(t, segments, 2)
		require.Len(t, client.calls, 2)
		require.NotNil(t, client.calls[1].ContinuationToken)
		assert.Equal(t, "t1", *client.calls[1].ContinuationToken)
	})

	t.Run("falls back to offset mode without a token", func(t *testing.T) {
		// Truncated page, no continuation token: the provider only
		// supports offset listing.
		client := &fakeS3{pages: []fakePage{
			{keys: []string{"wal_005/000000010000000000000010.lz4"}, truncated: true},
			{keys: []string{"wal_005/000000010000000000000011.lz4"}},
		}}
		lister := newSegmentListerWithClient(client, "backups", "wal_005", nil)

		segments, err := lister.ListSegments(context.Background())
		require.NoError(t, err)
		assert.Len(t, segments, 2)
		require.Len(t, client.calls, 2)
		assert.Nil(t, client.calls[1].ContinuationToken)
		require.NotNil(t, client.calls[1].StartAfter)
		assert.Equal(t, "wal_005/000000010000000000000010.lz4", *client.calls[1].StartAfter)
	})

	t.Run("truncated empty page with no token is an error", func(t *testing.T) {
		client := &fakeS3{pages: []fakePage{{truncated: true}}}
		lister := newSegmentListerWithClient(client, "backups", "wal_005", nil)

		_, err := lister.ListSegments(context.Background())
		assert.ErrorIs(t, err, ErrRemoteList)
	})

	t.Run("provider errors surface as ErrRemoteList", func(t *testing.T) {
		client := &fakeS3{err: errors.New("503 slow down")}
		lister := newSegmentListerWithClient(client, "backups", "wal_005", nil)

		_, err := lister.ListSegments(context.Background())
		assert.ErrorIs(t, err, ErrRemoteList)
	})
}

func TestContains(t *testing.T) {
	t.Run("present segment", func(t *testing.T) {
		client := &fakeS3{pages: []fakePage{{keys: []string{"wal_005/000000010000000000000010.lz4"}}}}
		lister := newSegmentListerWithClient(client, "backups", "wal_005", nil)

		ok, err := lister.Contains(context.Background(), wal.MustParseSegment("000000010000000000000010"))
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, client.calls, 1)
		assert.Equal(t, "wal_005/000000010000000000000010", *client.calls[0].Prefix)
	})

	t.Run("absent segment", func(t *testing.T) {
		client := &fakeS3{pages: []fakePage{{}}}
		lister := newSegmentListerWithClient(client, "backups", "wal_005", nil)

		ok, err := lister.Contains(context.Background(), wal.MustParseSegment("000000010000000000000010"))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
