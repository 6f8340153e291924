package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/referencer/refsync/internal/actor"
	"github.com/referencer/refsync/internal/hub"
	"github.com/referencer/refsync/internal/logger"
	"github.com/referencer/refsync/internal/metrics"
	"github.com/referencer/refsync/internal/store"
)

const defaultMailboxSize = 256

// ErrClosed is returned by Join after Close.
var ErrClosed = errors.New("room registry closed")

// Options configures a Registry.
type Options struct {
	MailboxSize int
	Metrics     *metrics.Metrics
	Publisher   Publisher
}

type entry struct {
	ref  *actor.ActorRef
	refs int
}

// Registry starts a room actor on the first join of a workspace and stops
// it once the last session leaves.
type Registry struct {
	store store.Store
	hub   *hub.Hub
	opts  Options
	log   *logger.Logger

	mu       sync.Mutex
	rooms    map[string]*entry
	draining map[string]*actor.ActorRef
	closed   bool
	wg       sync.WaitGroup
}

// NewRegistry creates a registry backed by s and h.
func NewRegistry(s store.Store, h *hub.Hub, opts Options) *Registry {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	return &Registry{
		store:    s,
		hub:      h,
		opts:     opts,
		log:      logger.Global().WithPrefix("room"),
		rooms:    make(map[string]*entry),
		draining: make(map[string]*actor.ActorRef),
	}
}

// Session is one client's membership in a room.
type Session struct {
	ClientID    string
	WorkspaceID string

	reg  *Registry
	ref  *actor.ActorRef
	once sync.Once
}

// Join adds conn to the workspace room. The connection receives the current
// state before Join returns.
func (r *Registry) Join(ctx context.Context, workspaceID string, conn hub.Conn) (*Session, error) {
	ref, err := r.acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	reply := make(chan joinResult, 1)
	if err := ref.SendContext(ctx, joinMsg{conn: conn, reply: reply}); err != nil {
		r.release(workspaceID, ref)
		return nil, err
	}
	var res joinResult
	select {
	case res = <-reply:
	case <-ref.Done():
		// stopped by Close; the join may have been handled while draining
		select {
		case res = <-reply:
		default:
			res.err = ErrClosed
		}
	}
	if res.err != nil {
		r.release(workspaceID, ref)
		return nil, res.err
	}

	return &Session{ClientID: res.clientID, WorkspaceID: workspaceID, reg: r, ref: ref}, nil
}

func (r *Registry) acquire(ctx context.Context, workspaceID string) (*actor.ActorRef, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		if e, ok := r.rooms[workspaceID]; ok {
			e.refs++
			r.mu.Unlock()
			return e.ref, nil
		}
		if old, ok := r.draining[workspaceID]; ok {
			r.mu.Unlock()
			select {
			case <-old.Done():
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		rm := &room{
			workspaceID: workspaceID,
			store:       r.store,
			hub:         r.hub,
			publisher:   r.opts.Publisher,
			metrics:     r.opts.Metrics,
			log:         r.log.WithPrefix(workspaceID),
		}
		ref := actor.NewActorRef(workspaceID, rm, r.opts.MailboxSize)
		if err := ref.Start(context.Background()); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("start room %s: %w", workspaceID, err)
		}
		r.rooms[workspaceID] = &entry{ref: ref, refs: 1}
		if r.opts.Metrics != nil {
			r.opts.Metrics.Rooms.Inc()
		}
		r.mu.Unlock()
		return ref, nil
	}
}

func (r *Registry) release(workspaceID string, ref *actor.ActorRef) {
	r.mu.Lock()
	e, ok := r.rooms[workspaceID]
	if !ok || e.ref != ref {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, workspaceID)
	r.draining[workspaceID] = ref
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if err := ref.Stop(context.Background()); err != nil {
			r.log.Warn("Failed to stop room %s: %v", workspaceID, err)
		}
		r.mu.Lock()
		if r.draining[workspaceID] == ref {
			delete(r.draining, workspaceID)
		}
		r.mu.Unlock()
		if r.opts.Metrics != nil {
			r.opts.Metrics.Rooms.Dec()
		}
	}()
}

// DeliverRemote hands a frame relayed from another instance to the local
// room. Frames for workspaces without local members are dropped.
func (r *Registry) DeliverRemote(workspaceID string, data []byte) {
	r.mu.Lock()
	e, ok := r.rooms[workspaceID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := e.ref.Send(relayMsg{data: data}); err != nil {
		r.log.Warn("Dropping relayed frame for %s: %v", workspaceID, err)
	}
}

// ActiveRooms returns the number of rooms with a running actor.
func (r *Registry) ActiveRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Close stops every room and waits for them to drain.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	refs := make(map[string]*actor.ActorRef, len(r.rooms))
	for id, e := range r.rooms {
		refs[id] = e.ref
		r.draining[id] = e.ref
		delete(r.rooms, id)
	}
	r.mu.Unlock()

	var errs []error
	for id, ref := range refs {
		if err := ref.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop room %s: %w", id, err))
		}
		if r.opts.Metrics != nil {
			r.opts.Metrics.Rooms.Dec()
		}
		r.mu.Lock()
		delete(r.draining, id)
		r.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// Deliver queues an inbound frame for processing by the room.
func (s *Session) Deliver(ctx context.Context, data []byte) error {
	return s.ref.SendContext(ctx, inboundMsg{clientID: s.ClientID, data: data})
}

// Leave removes the client from its room. It is safe to call more than once.
func (s *Session) Leave() {
	s.once.Do(func() {
		if err := s.ref.SendContext(context.Background(), leaveMsg{clientID: s.ClientID}); err != nil {
			s.reg.hub.Disconnect(s.WorkspaceID, s.ClientID)
		}
		s.reg.release(s.WorkspaceID, s.ref)
	})
}
