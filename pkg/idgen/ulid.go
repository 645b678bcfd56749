// Package idgen generates identifiers used across the system.
package idgen

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// NewSortableID returns a ULID string. ULIDs sort lexically by
// creation time, which keeps event IDs roughly aligned with log order.
func NewSortableID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
