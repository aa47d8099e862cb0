package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxTagLen is the longest order tag the broker accepts.
const MaxTagLen = 20

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Monotonic keeps IDs minted in the same millisecond sorted.
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string. Position rows are keyed by it so that
// lexical order in SQLite matches entry order.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID stamped with t. Backtests use it so replayed
// positions sort by candle time rather than wall time.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Tag derives a short alphanumeric order tag from a position ID. The
// broker echoes the tag back on every order belonging to the position.
func Tag(prefix, positionID string) string {
	prefix = strings.ToLower(prefix)
	room := MaxTagLen - len(prefix)
	if room <= 0 {
		return prefix[:MaxTagLen]
	}
	if len(positionID) > room {
		positionID = positionID[len(positionID)-room:]
	}
	return prefix + strings.ToLower(positionID)
}
