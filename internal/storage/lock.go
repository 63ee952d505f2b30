package storage

import (
	"context"
	"fmt"
)

// keyLock is a mutex whose acquisition can be abandoned through a context.
type keyLock chan struct{}

func newKeyLock() keyLock {
	return make(keyLock, 1)
}

func (l keyLock) lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	default:
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	}
}

func (l keyLock) tryLock() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l keyLock) unlock() {
	<-l
}
