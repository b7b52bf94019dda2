// Package coordinator publishes the job-wide upper bound computed by
// partition 0 to every other partition of a job.
package coordinator

import (
	"context"
	"sync"

	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
)

// Broadcast is an in-process core.Broadcaster: every name is a promise that is
// settled once and awaited by any number of goroutines.
type Broadcast struct {
	mu       sync.Mutex
	promises map[string]*promise
}

type promise struct {
	done    chan struct{}
	value   cursor.Cursor
	err     error
	settled bool
}

// NewBroadcast creates an empty Broadcast.
func NewBroadcast() *Broadcast {
	return &Broadcast{promises: make(map[string]*promise)}
}

func (b *Broadcast) get(name string) *promise {
	p, ok := b.promises[name]
	if !ok {
		p = &promise{done: make(chan struct{})}
		b.promises[name] = p
	}
	return p
}

func (b *Broadcast) settle(name string, value cursor.Cursor, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.get(name)
	if p.settled {
		return nebulaerrors.Newf(nebulaerrors.ErrorTypeInternal, "broadcast %q already settled", name)
	}
	p.value, p.err, p.settled = value, err, true
	close(p.done)
	return nil
}

// Resolve publishes value under name.
func (b *Broadcast) Resolve(name string, value cursor.Cursor) error {
	return b.settle(name, value, nil)
}

// Reject publishes err under name.
func (b *Broadcast) Reject(name string, err error) error {
	if err == nil {
		err = nebulaerrors.New(nebulaerrors.ErrorTypeInternal, "rejected without a cause")
	}
	return b.settle(name, cursor.Cursor{}, err)
}

// Await blocks until name is settled or ctx is done. Awaiting before the
// value is published is the normal case.
func (b *Broadcast) Await(ctx context.Context, name string) (cursor.Cursor, error) {
	b.mu.Lock()
	p := b.get(name)
	b.mu.Unlock()

	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return cursor.Cursor{}, ctx.Err()
	}
}

// Forget discards name; later awaiters see a fresh promise.
func (b *Broadcast) Forget(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.promises, name)
}
