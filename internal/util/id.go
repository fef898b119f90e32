package util

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a lexicographically sortable identifier, optionally
// namespaced with a prefix ("req_...", "cmt_...").
func NewID(prefix string) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
