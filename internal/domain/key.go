package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IdempotencyKey derives the upsert conflict key for a normalized row from
// its stable business fields. The same fields always hash to the same key,
// so replaying a staging record overwrites instead of duplicating. Callers
// must never feed store-assigned IDs or generation-order values into it.
func IdempotencyKey(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
