package storage

import (
	"context"
	"sync"

	"s3mp/internal/s3api"
	"s3mp/internal/xerrors"
)

// ClientPool hands out storage-client handles so that each concurrent part
// transfer owns an independent handle for its duration. Idle handles are
// reused; the pool never blocks a worker waiting for one.
type ClientPool struct {
	idle    chan s3api.Client
	factory func() (s3api.Client, error)

	mu    sync.Mutex
	stats Stats
}

// Stats tracks pool usage.
type Stats struct {
	Created int64
	Reused  int64
}

// NewClientPool creates a pool that caches up to size idle handles.
func NewClientPool(factory func() (s3api.Client, error), size int) *ClientPool {
	if size <= 0 {
		size = 4
	}
	return &ClientPool{
		idle:    make(chan s3api.Client, size),
		factory: factory,
	}
}

// Get returns an idle handle or creates a new one.
func (p *ClientPool) Get(ctx context.Context) (s3api.Client, error) {
	select {
	case client := <-p.idle:
		p.mu.Lock()
		p.stats.Reused++
		p.mu.Unlock()
		return client, nil
	case <-ctx.Done():
		return nil, xerrors.NewError("clientPool", ctx.Err())
	default:
	}

	client, err := p.factory()
	if err != nil {
		return nil, xerrors.NewError("clientPool", err)
	}

	p.mu.Lock()
	p.stats.Created++
	p.mu.Unlock()
	return client, nil
}

// Put returns a handle to the pool; surplus handles are discarded.
func (p *ClientPool) Put(client s3api.Client) {
	if client == nil {
		return
	}
	select {
	case p.idle <- client:
	default:
	}
}

// Stats returns a snapshot of pool usage counters.
func (p *ClientPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
