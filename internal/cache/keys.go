package cache

import (
	"fmt"
	"time"
)

// RateLimitKey buckets requests per API key prefix into fixed windows.
func RateLimitKey(keyPrefix string, window time.Time) string {
	return fmt.Sprintf("errhub:ratelimit:%s:%d", keyPrefix, window.Unix())
}
