package license

import (
	"context"
	"time"
)

// Store persists binding records keyed by activation key.
//
// Set must write boundDevice and boundAt together or not at all. When the
// backend can express it, Set is a compare-and-set on an empty device and
// returns ErrAlreadyBound if the key is bound already and ErrNotFound if the
// key has no record. Any other error is an infrastructure fault.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Set(ctx context.Context, key, boundDevice string, boundAt time.Time) error
}

// Provisioner is implemented by stores that can create unbound records.
type Provisioner interface {
	Provision(ctx context.Context, key string) error
}
