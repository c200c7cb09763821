package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"applock-service/internal/config"
)

// BucketingManager assigns devices and audit events to stable buckets used
// as partition keys in the analytics sink
type BucketingManager struct {
	deviceBuckets int
	eventBuckets  int
	hasherPool    sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		deviceBuckets: cfg.Bucketing.DeviceBuckets,
		eventBuckets:  cfg.Bucketing.EventBuckets,
	}

	// Pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetDeviceBucket returns a consistent bucket for a device id
// (0 to deviceBuckets-1)
func (bm *BucketingManager) GetDeviceBucket(deviceID string) int {
	return bm.getBucket(deviceID, bm.deviceBuckets)
}

// GetEventBucket returns a bucket for audit events
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetDateBucket returns the date partition for events
func (bm *BucketingManager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
