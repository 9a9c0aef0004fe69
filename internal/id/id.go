// Package id supplies the opaque 128-bit identifiers used for
// Blackboards, Trees, and Execution Contexts (spec: "Identity: opaque
// 128-bit id"). ULIDs are time-prefixed and lexicographically sortable,
// which makes "first created" ordering free and gives the coordinator a
// deterministic tie-break for scheduling (spec: "deterministic tie-break
// by context_id") without a separate sequence counter.
package id

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is an opaque 128-bit identifier.
type ID = ulid.ULID

var (
	mu      sync.Mutex
	entropy io.Reader
)

func init() {
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
}

// New mints a fresh ID timestamped at t. Safe for concurrent use.
func New(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}

// Zero is the nil ID, used as a not-set sentinel (e.g. no agent_id).
var Zero ID

// Parse decodes a canonical ULID string.
func Parse(s string) (ID, error) {
	return ulid.Parse(s)
}
