package tasks

import (
	"hash/fnv"
	"time"

	"github.com/samber/lo"

	"github.com/lysyi3m/rss-reader/app/database"
)

// BucketCount is the number of one-minute slots feeds are spread over.
const BucketCount = 60

// Bucket assigns a feed URL to a slot with FNV-1a 32 over its UTF-8 bytes.
func Bucket(feedURL string) int {
	h := fnv.New32a()
	h.Write([]byte(feedURL))
	return int(h.Sum32() % BucketCount)
}

// CurrentBucket is the slot for the wall-clock minute containing t.
func CurrentBucket(t time.Time) int {
	minutes := t.Unix() / 60
	return int(((minutes % BucketCount) + BucketCount) % BucketCount)
}

// FeedsInBucket returns the feeds assigned to bucket, preserving order.
func FeedsInBucket(feeds []database.Feed, bucket int) []database.Feed {
	return lo.Filter(feeds, func(f database.Feed, _ int) bool {
		return Bucket(f.URL) == bucket
	})
}
