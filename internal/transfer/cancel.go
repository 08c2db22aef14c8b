package transfer

import (
	"sync"
	"sync/atomic"
)

// CancelToken is a one-way flag shared between the caller and a running
// pipeline. The pipeline checks it between batches; an in-flight batch
// always finishes first.
type CancelToken struct {
	flag atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the token. Repeated calls are no-ops.
func (t *CancelToken) Cancel() {
	t.flag.Store(true)
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel was called. A nil token is never set.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.flag.Load()
}

// Done is closed on Cancel. A nil token returns a nil channel.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}
