package types

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID returns "<prefix>_<unix ms>_<9 hex chars>", e.g. ivr_1718000000000_3f9a1c2b7.
func NewID(prefix string, now time.Time) string {
	u := uuid.New()
	return prefix + "_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + hex.EncodeToString(u[:])[:9]
}
