// Package participant implements the Participant: one per process,
// attaching to the bus and owning every other core object's transport
// access, shared GUID, and orderly teardown.
package participant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/genesis-framework/genesis/internal/transport"
)

// Participant is one process's attachment to the GENESIS bus. Service Base,
// Agent Base, and Interface Base each hold one and build their RPC/discovery
// objects on top of its Client rather than dialing the bus themselves.
type Participant struct {
	GUID   string
	Client *transport.Client
	Logger *slog.Logger
	Config *transport.Config

	mu      sync.Mutex
	closed  bool
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func(context.Context) error
}

// New initializes the transport and assigns the process a GUID. Transport
// initialization failure is a fatal configuration error, per §7.
func New(config *transport.Config) (*Participant, error) {
	client, err := transport.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("participant: initialize transport: %w", err)
	}

	p := &Participant{
		GUID:   uuid.New().String(),
		Client: client,
		Logger: client.Logger,
		Config: config,
	}
	p.closers = append(p.closers, namedCloser{"transport.Client", func(ctx context.Context) error {
		return client.Shutdown(ctx)
	}})

	p.Logger.Info("participant joined", "guid", p.GUID, "domain_id", config.DomainID)
	return p, nil
}

// Start brings up the client's ambient services (health server, ...). It
// does not block.
func (p *Participant) Start(ctx context.Context) error {
	return p.Client.Start(ctx)
}

// AddCloser registers a dependent object to be closed before the
// Participant's own transport handle, maintaining reverse-construction-order
// teardown: the most recently added closer runs first.
func (p *Participant) AddCloser(name string, fn func(context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closers = append(p.closers, namedCloser{name, fn})
}

// Close tears down every registered dependent in reverse-construction
// order, then the transport handle itself. It is idempotent. Individual
// closer failures are logged and do not abort the remaining teardown
// (§5, §7 "Cleanup error").
func (p *Participant) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	closers := p.closers
	p.mu.Unlock()

	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			p.Logger.ErrorContext(ctx, "error closing participant dependent", "name", c.name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("participant: close %s: %w", c.name, err)
			}
		}
	}
	p.Logger.InfoContext(ctx, "participant closed", "guid", p.GUID)
	return firstErr
}
