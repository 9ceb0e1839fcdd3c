package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestID builds a per-call idempotency key for the webhook backend.
// The backend deduplicates on it, so it must differ between calls even
// within the same millisecond.
func RequestID(userID int64) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	return fmt.Sprintf("%d_%d_%s", userID, time.Now().UnixMilli(), suffix)
}
