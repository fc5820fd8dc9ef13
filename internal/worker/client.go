package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Nolaskote/Simulation/internal/propagation"
)

// Config sizes the client mailboxes.
type Config struct {
	InboxSize  int
	OutboxSize int
}

const defaultMailbox = 4

// Client owns the worker goroutine. Its state (element arrays, readiness) is
// only touched by that goroutine.
type Client struct {
	prop   *propagation.Propagator
	logger *slog.Logger

	inbox  chan Message
	outbox chan Message

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
	exited  chan struct{}
}

// NewClient creates a worker client. Call Start before sending.
func NewClient(prop *propagation.Propagator, cfg Config, logger *slog.Logger) *Client {
	if cfg.InboxSize < 1 {
		cfg.InboxSize = defaultMailbox
	}
	if cfg.OutboxSize < 1 {
		cfg.OutboxSize = defaultMailbox
	}
	return &Client{
		prop:   prop,
		logger: logger,
		inbox:  make(chan Message, cfg.InboxSize),
		outbox: make(chan Message, cfg.OutboxSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Start launches the worker goroutine. It returns ErrClosed if the client was
// already closed and is a no-op when already running.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true
	go c.run(ctx)
	return nil
}

// TrySend posts a message without blocking. It returns ErrBusy when the
// inbox is full and ErrClosed when the worker is not running.
func (c *Client) TrySend(msg Message) error {
	c.mu.Lock()
	running := c.started && !c.closed
	c.mu.Unlock()
	if !running {
		return ErrClosed
	}

	select {
	case <-c.exited:
		return ErrClosed
	default:
	}

	select {
	case c.inbox <- msg:
		return nil
	default:
		return ErrBusy
	}
}

// Messages returns the worker's outgoing messages in the order produced.
func (c *Client) Messages() <-chan Message {
	return c.outbox
}

// Done is closed once the worker goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.exited
}

// Close stops the worker and waits for it to exit. An in-flight batch is
// allowed to finish; its result is discarded.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	close(c.done)
	c.mu.Unlock()

	if started {
		<-c.exited
	} else {
		close(c.exited)
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.exited)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("worker crashed", "component", "worker", "panic", r)
		}
	}()

	var (
		elements *propagation.ElementArrays
		ready    bool
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.inbox:
			switch m := msg.(type) {
			case Init:
				elements = m.Elements
				ready = true
				c.logger.Info("worker initialized", "component", "worker", "body_count", elements.Len())
				if !c.post(ctx, Ready{Bodies: elements.Len()}) {
					return
				}

			case Compute:
				if !ready {
					c.logger.Debug("compute before init dropped", "component", "worker", "seq", m.Seq)
					continue
				}
				// The batch always runs to completion once started.
				buf, stats, err := c.prop.Compute(context.WithoutCancel(ctx), elements, m.Time, m.Scale, m.Buffer)
				if err != nil {
					c.logger.Error("batch compute failed", "component", "worker", "seq", m.Seq, "error", err)
					continue
				}
				if !c.post(ctx, Positions{Seq: m.Seq, Time: m.Time, Buffer: buf, Stats: stats}) {
					return
				}

			default:
				c.logger.Debug("unexpected message ignored", "component", "worker", "type", string(msg.Type()))
			}
		}
	}
}

// post delivers a message to the rendering side, giving up only when the
// worker is shutting down.
func (c *Client) post(ctx context.Context, msg Message) bool {
	select {
	case c.outbox <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// IsClosed reports whether err means the worker is unavailable.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
