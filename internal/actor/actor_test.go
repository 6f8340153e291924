package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testMessage struct {
	n int
}

func (m testMessage) Type() string { return "test" }

// recordingActor records received messages; it can block on gate and fail
// on selected values.
type recordingActor struct {
	mu       sync.Mutex
	received []int
	gate     chan struct{}
	failOn   int
	started  bool
	stopped  bool
}

func (a *recordingActor) ID() string { return "recording" }

func (a *recordingActor) Start(ctx context.Context) error {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	return nil
}

func (a *recordingActor) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	return nil
}

func (a *recordingActor) Receive(ctx context.Context, msg Message) error {
	if a.gate != nil {
		<-a.gate
	}
	m := msg.(testMessage)
	a.mu.Lock()
	a.received = append(a.received, m.n)
	a.mu.Unlock()
	if a.failOn != 0 && m.n == a.failOn {
		return errors.New("boom")
	}
	return nil
}

func (a *recordingActor) snapshot() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.received...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewActorRef(t *testing.T) {
	a := &recordingActor{}
	ref := NewActorRef("room-1", a, 10)

	if ref.ID() != "room-1" {
		t.Errorf("expected ID 'room-1', got '%s'", ref.ID())
	}
	if cap(ref.mailbox) != 10 {
		t.Errorf("expected mailbox size 10, got %d", cap(ref.mailbox))
	}
}

func TestActorRefStartStop(t *testing.T) {
	a := &recordingActor{}
	ref := NewActorRef("room-1", a, 10)

	if err := ref.Start(context.Background()); err != nil {
		t.Fatalf("failed to start actor: %v", err)
	}
	if err := ref.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ref.Stop(ctx); err != nil {
		t.Fatalf("failed to stop actor: %v", err)
	}

	select {
	case <-ref.Done():
	default:
		t.Error("Done not closed after Stop")
	}
	if !a.started || !a.stopped {
		t.Errorf("lifecycle hooks not called: started=%v stopped=%v", a.started, a.stopped)
	}

	// Stop is idempotent
	if err := ref.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestActorRefProcessesInOrder(t *testing.T) {
	a := &recordingActor{}
	ref := NewActorRef("room-1", a, 100)
	if err := ref.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ref.Stop(context.Background())

	for i := 1; i <= 50; i++ {
		if err := ref.Send(testMessage{n: i}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return len(a.snapshot()) == 50 })
	for i, n := range a.snapshot() {
		if n != i+1 {
			t.Fatalf("message %d out of order: got %d", i, n)
		}
	}
}

func TestActorRefReceiveErrorDoesNotStopLoop(t *testing.T) {
	a := &recordingActor{failOn: 1}
	ref := NewActorRef("room-1", a, 10)
	if err := ref.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ref.Stop(context.Background())

	_ = ref.Send(testMessage{n: 1})
	_ = ref.Send(testMessage{n: 2})

	waitFor(t, func() bool { return len(a.snapshot()) == 2 })
}

func TestActorRefMailboxFull(t *testing.T) {
	a := &recordingActor{gate: make(chan struct{})}
	ref := NewActorRef("room-1", a, 1)
	if err := ref.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// first message is taken by the run loop and blocks on the gate
	if err := ref.Send(testMessage{n: 1}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ref.mailbox) == 0 })
	if err := ref.Send(testMessage{n: 2}); err != nil {
		t.Fatal(err)
	}

	err := ref.Send(testMessage{n: 3})
	if !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("expected ErrMailboxFull, got %v", err)
	}

	close(a.gate)
	if err := ref.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestActorRefSendContextBlocksUntilRoom(t *testing.T) {
	a := &recordingActor{gate: make(chan struct{})}
	ref := NewActorRef("room-1", a, 1)
	if err := ref.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ref.Stop(context.Background())

	_ = ref.Send(testMessage{n: 1})
	waitFor(t, func() bool { return len(ref.mailbox) == 0 })
	_ = ref.Send(testMessage{n: 2})

	sent := make(chan error, 1)
	go func() { sent <- ref.SendContext(context.Background(), testMessage{n: 3}) }()

	select {
	case err := <-sent:
		t.Fatalf("SendContext returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(a.gate)
	if err := <-sent; err != nil {
		t.Fatalf("SendContext: %v", err)
	}
	waitFor(t, func() bool { return len(a.snapshot()) == 3 })
}

func TestActorRefSendContextCancelled(t *testing.T) {
	a := &recordingActor{gate: make(chan struct{})}
	ref := NewActorRef("room-1", a, 1)
	if err := ref.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() {
		close(a.gate)
		ref.Stop(context.Background())
	}()

	_ = ref.Send(testMessage{n: 1})
	waitFor(t, func() bool { return len(ref.mailbox) == 0 })
	_ = ref.Send(testMessage{n: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ref.SendContext(ctx, testMessage{n: 3}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestActorRefStopDrainsMailbox(t *testing.T) {
	a := &recordingActor{gate: make(chan struct{})}
	ref := NewActorRef("room-1", a, 10)
	if err := ref.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 5; i++ {
		_ = ref.Send(testMessage{n: i})
	}

	stopped := make(chan error, 1)
	go func() { stopped <- ref.Stop(context.Background()) }()

	// Stop waits for the queued messages
	select {
	case <-stopped:
		t.Fatal("Stop returned before the mailbox drained")
	case <-time.After(50 * time.Millisecond):
	}

	close(a.gate)
	if err := <-stopped; err != nil {
		t.Fatal(err)
	}
	if got := a.snapshot(); len(got) != 5 {
		t.Errorf("expected 5 processed messages, got %v", got)
	}

	if err := ref.Send(testMessage{n: 6}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
	if err := ref.SendContext(context.Background(), testMessage{n: 6}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestActorRefStopWithoutStart(t *testing.T) {
	ref := NewActorRef("room-1", &recordingActor{}, 1)
	if err := ref.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-ref.Done()
}
