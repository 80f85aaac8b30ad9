package session

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID returns "<prefix>-<unix millis base36>-<random base36>".
func NewID(prefix string, now time.Time) string {
	u := uuid.New()
	random := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(random) > 9 {
		random = random[:9]
	}
	return prefix + "-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + random
}
