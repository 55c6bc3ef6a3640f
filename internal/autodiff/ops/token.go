package ops

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

var tokenIDs atomic.Uint64

// UpdateToken authorizes exactly one in-place update.
//
// A mutating operation creates its token in forward and consumes it in ApplyUpdate.
// Consume is atomic, so two racing backward passes cannot both update.
type UpdateToken struct {
	id    uint64
	spent atomic.Bool
}

// NewUpdateToken returns a fresh, unspent token.
func NewUpdateToken() *UpdateToken {
	return &UpdateToken{id: tokenIDs.Add(1)}
}

// ID identifies the token in logs and errors.
func (t *UpdateToken) ID() uint64 {
	return t.id
}

// Spent reports whether the token has been consumed.
func (t *UpdateToken) Spent() bool {
	return t.spent.Load()
}

// Consume spends the token. It fails with ErrUpdateAlreadyApplied if it was already spent.
func (t *UpdateToken) Consume() error {
	if !t.spent.CompareAndSwap(false, true) {
		return errors.Wrapf(ErrUpdateAlreadyApplied, "update token %d", t.id)
	}
	return nil
}
