// Package idgen generates sortable, collision-resistant identifiers for
// sync cycles (SyncHistoryEntry.SyncID).
package idgen

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var entropy = &lockedMonotonicReader{r: ulid.Monotonic(rand.Reader, 0)}

type lockedMonotonicReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (lr *lockedMonotonicReader) Read(p []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.r.Read(p)
}

// New returns a new ULID string for the current instant, safe for
// concurrent use.
func New() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
