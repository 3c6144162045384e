package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// ResultKey is where the analysis result of a finished job is cached.
func ResultKey(jobID string) string {
	return fmt.Sprintf("result:%s", jobID)
}

// RateLimitKey buckets request counts per caller.
func RateLimitKey(ownerID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:%s", ownerID)
}
