package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pdu-bridge/internal/domain"
)

func TestBucketFor(t *testing.T) {
	cases := []struct {
		span       time.Duration
		wantBucket time.Duration
		wantMax    int
	}{
		{time.Hour, time.Second, 3600},
		{6 * time.Hour, 10 * time.Second, 2160},
		{24 * time.Hour, 60 * time.Second, 1440},
		{7 * 24 * time.Hour, 300 * time.Second, 2016},
		{30 * 24 * time.Hour, 900 * time.Second, 2880},
		{60 * 24 * time.Hour, 1800 * time.Second, 2880},
	}
	for _, c := range cases {
		bucket, max := bucketFor(c.span)
		assert.Equal(t, c.wantBucket, bucket)
		assert.Equal(t, c.wantMax, max)
	}
}

func TestWeekWindow(t *testing.T) {
	// Wednesday July 29, 2026.
	wed := time.Date(2026, 7, 29, 15, 30, 0, 0, time.UTC)
	start, end := WeekWindow(wed)

	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, 2026, start.Year())
	assert.Equal(t, time.July, start.Month())
	assert.Equal(t, 27, start.Day())
	assert.Equal(t, start.AddDate(0, 0, 7), end)
}

func TestSortBuckets(t *testing.T) {
	t1 := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	buckets := []domain.Bucket{
		{BucketStart: t2, Key: 1},
		{BucketStart: t1, Key: 2},
		{BucketStart: t1, Key: 1},
	}
	sortBuckets(buckets)
	assert.Equal(t, []domain.Bucket{
		{BucketStart: t1, Key: 1},
		{BucketStart: t1, Key: 2},
		{BucketStart: t2, Key: 1},
	}, buckets)
}
