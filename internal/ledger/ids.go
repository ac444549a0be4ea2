package ledger

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ulidMu   sync.Mutex
	ulidMono io.Reader
)

func init() {
	// ulid.Monotonic keeps ids minted within the same millisecond
	// lexicographically increasing, so transaction ids sort like timestamps.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ulidMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewTransactionID returns a time-sortable ULID string, or "" if no id
// could be minted.
func NewTransactionID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return mintULID(time.Now().UTC(), ulidMono)
}

// maxULIDAttempts bounds how many milliseconds mintULID moves forward when
// the monotonic entropy overflows.
const maxULIDAttempts = 8

// mintULID creates a ULID at ts. When the entropy for ts is exhausted it
// moves to the next millisecond, where the monotonic reader starts fresh.
func mintULID(ts time.Time, entropy io.Reader) string {
	for i := 0; i < maxULIDAttempts; i++ {
		id, err := ulid.New(ulid.Timestamp(ts), entropy)
		if err == nil {
			return id.String()
		}
		ts = ts.Add(time.Millisecond)
	}
	return ""
}

// NewEntityID returns a random UUID for orders, positions and accounts.
func NewEntityID() string {
	return uuid.New().String()
}
