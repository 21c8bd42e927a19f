package gatekeeper

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultPoolSize = 1024
	DefaultPoolTTL  = 30 * time.Minute
)

// ControllerFactory builds the controller of a new client
type ControllerFactory func(clientID string) *Controller

// PoolOption configures a Pool
type PoolOption func(*Pool)

func WithPoolSize(size int) PoolOption {
	return func(p *Pool) {
		if size > 0 {
			p.size = size
		}
	}
}

// WithPoolTTL sets how long an idle client keeps its controller
func WithPoolTTL(ttl time.Duration) PoolOption {
	return func(p *Pool) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func WithPoolLogger(logger Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pool keeps one initialized controller per browser client. Evicted
// controllers are closed.
type Pool struct {
	factory ControllerFactory
	size    int
	ttl     time.Duration
	logger  Logger
	mu      sync.Mutex
	lru     *expirable.LRU[string, *Controller]
}

// NewPool returns a pool creating controllers with factory
func NewPool(factory ControllerFactory, opts ...PoolOption) *Pool {
	p := &Pool{
		factory: factory,
		size:    DefaultPoolSize,
		ttl:     DefaultPoolTTL,
		logger:  defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.lru = expirable.NewLRU[string, *Controller](p.size, p.onEvict, p.ttl)
	return p
}

func (p *Pool) onEvict(clientID string, c *Controller) {
	p.logger.Debug("closing client controller", "client_id", clientID)
	c.Close()
}

// Get returns the controller of clientID, creating and initializing it on
// first use. Get refreshes the client's expiry.
func (p *Pool) Get(ctx context.Context, clientID string) *Controller {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.lru.Get(clientID); ok {
		// re-adding moves the expiry forward
		p.lru.Add(clientID, c)
		return c
	}

	c := p.factory(clientID)
	c.Initialize(ctx)
	p.lru.Add(clientID, c)
	return c
}

// Peek returns the controller of clientID without creating one
func (p *Pool) Peek(clientID string) (*Controller, bool) {
	return p.lru.Peek(clientID)
}

// Forget drops and closes the controller of clientID
func (p *Pool) Forget(clientID string) {
	p.lru.Remove(clientID)
}

func (p *Pool) Len() int {
	return p.lru.Len()
}

// Close closes every pooled controller
func (p *Pool) Close() {
	p.lru.Purge()
}
