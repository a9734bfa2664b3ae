package logkv

import "errors"

const (
	kindPut    = 1
	kindDelete = 2
)

// ErrNotFound is returned by the store when a key cannot be found.
var ErrNotFound = errors.New("logkv: not found")

// ErrCorrupted is returned when a record fails its checksum
// verification while being read. It indicates a bug or a hardware
// fault and flags the containing segment for manual inspection.
var ErrCorrupted = errors.New("logkv: record corrupted")

// ErrDegraded is returned by writes after a durable append has
// failed. The store refuses further writes until it is re-opened.
var ErrDegraded = errors.New("logkv: store degraded, writes disabled")

// Validation errors, rejected before anything touches the log.
var (
	ErrEmptyKey      = errors.New("logkv: key is empty")
	ErrKeyTooLarge   = errors.New("logkv: key exceeds maximum size")
	ErrValueTooLarge = errors.New("logkv: value exceeds maximum size")
)

var (
	errClosed   = errors.New("logkv: is closed")
	errReleased = errors.New("logkv: iterator was released")
)

// KV is a single key-value pair.
type KV struct {
	Key   []byte
	Value []byte
}
