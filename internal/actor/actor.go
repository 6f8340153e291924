// Package actor runs a single goroutine per actor that processes its
// mailbox strictly in order.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/referencer/refsync/internal/logger"
)

var (
	// ErrStopped is returned when sending to an actor that is stopping.
	ErrStopped = errors.New("actor stopped")
	// ErrMailboxFull is returned by Send when the mailbox has no room.
	ErrMailboxFull = errors.New("mailbox full")
)

// Message represents a message sent between actors
type Message interface {
	Type() string
}

// Actor represents an actor in the actor model
type Actor interface {
	// Receive processes incoming messages
	Receive(ctx context.Context, msg Message) error
	// Start starts the actor
	Start(ctx context.Context) error
	// Stop stops the actor gracefully
	Stop(ctx context.Context) error
	// ID returns the actor's unique identifier
	ID() string
}

// ActorRef is a reference to an actor for sending messages
type ActorRef struct {
	id      string
	mailbox chan Message
	actor   Actor
	cancel  context.CancelFunc

	mu       sync.RWMutex
	started  bool
	stopped  bool
	stopping chan struct{} // closed when Stop is called
	exited   chan struct{} // closed when the run loop returns
	done     chan struct{} // closed after the actor's own Stop returned
}

// NewActorRef creates a new actor reference with the given ID, actor
// implementation and mailbox size.
func NewActorRef(id string, actor Actor, mailboxSize int) *ActorRef {
	return &ActorRef{
		id:       id,
		actor:    actor,
		mailbox:  make(chan Message, mailboxSize),
		stopping: make(chan struct{}),
		exited:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// Done is closed once the actor has fully stopped.
func (ref *ActorRef) Done() <-chan struct{} {
	return ref.done
}

// Send enqueues msg without blocking.
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	if ref.stopped {
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("actor %s: %w", ref.id, ErrMailboxFull)
	}
}

// SendContext enqueues msg, waiting for mailbox room until ctx is done or
// the actor stops.
func (ref *ActorRef) SendContext(ctx context.Context, msg Message) error {
	ref.mu.RLock()
	stopped := ref.stopped
	ref.mu.RUnlock()
	if stopped {
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	case <-ref.stopping:
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the actor's message processing loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ref.mu.Lock()
	defer ref.mu.Unlock()
	if ref.started {
		return fmt.Errorf("actor %s already started", ref.id)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}
	ref.cancel = cancel
	ref.started = true

	go ref.run(ctx)
	return nil
}

// Stop stops the actor gracefully. Messages already in the mailbox are
// processed first; messages sent concurrently with Stop may be dropped.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if ref.stopped {
		ref.mu.Unlock()
		select {
		case <-ref.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ref.stopped = true
	started := ref.started
	close(ref.stopping)
	ref.mu.Unlock()

	if !started {
		close(ref.done)
		return nil
	}

	// Wait for actor to finish processing
	select {
	case <-ref.exited:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := ref.actor.Stop(ctx)
	ref.cancel()
	close(ref.done)
	return err
}

// run is the actor's main message processing loop
func (ref *ActorRef) run(ctx context.Context) {
	defer close(ref.exited)

	for {
		select {
		case msg := <-ref.mailbox:
			ref.receive(ctx, msg)
		case <-ref.stopping:
			for {
				select {
				case msg := <-ref.mailbox:
					ref.receive(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

func (ref *ActorRef) receive(ctx context.Context, msg Message) {
	if err := ref.actor.Receive(ctx, msg); err != nil {
		// Log error but continue processing
		logger.Error("Actor %s error processing %s message: %v", ref.id, msg.Type(), err)
	}
}
