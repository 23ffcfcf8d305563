// Package ids generates the opaque tokens used to correlate requests with
// their replies and to tag published messages.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewToken returns a fresh unique token as a 26-character ULID string.
// Tokens created by the same process are time-sortable, which makes
// interleaved request logs easy to follow.
func NewToken() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
