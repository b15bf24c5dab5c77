package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyhub/internal/app/user"
	"studyhub/internal/pkg/errs"
)

// recordingSink stores every delivered message.
type recordingSink struct {
	mu     sync.Mutex
	msgs   []Message
	closed bool

	// failWith, when set, is returned for every message of failEvent.
	failEvent string
	failWith  error
}

func (s *recordingSink) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil && msg.Event == s.failEvent {
		return s.failWith
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSink) byEvent(event string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

// gatedSink blocks delivery of one event until the gate is opened.
type gatedSink struct {
	recordingSink

	event   string
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedSink(event string) *gatedSink {
	return &gatedSink{
		event:   event,
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (s *gatedSink) Send(msg Message) error {
	if msg.Event == s.event {
		s.once.Do(func() { close(s.entered) })
		<-s.gate
	}
	return s.recordingSink.Send(msg)
}

// fakeVerifier maps tokens to users.
type fakeVerifier struct {
	users map[string]user.User
	delay time.Duration
}

func (v *fakeVerifier) Verify(ctx context.Context, token string) (user.User, error) {
	if v.delay > 0 {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			return user.User{}, ctx.Err()
		}
	}

	u, ok := v.users[token]
	if !ok {
		return user.User{}, errs.NewError(errs.ErrUnauthenticated)
	}
	return u, nil
}

// fakeDirectory serves stored room metadata.
type fakeDirectory struct {
	mu    sync.Mutex
	rooms map[RoomID]RoomMeta
	delay time.Duration
	calls int
}

func (d *fakeDirectory) RoomMeta(ctx context.Context, roomID RoomID) (RoomMeta, bool, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return RoomMeta{}, false, ctx.Err()
		}
	}

	meta, ok := d.rooms[roomID]
	return meta, ok, nil
}

var (
	alice = user.User{ID: "u-alice", Username: "alice", Nickname: "Alice"}
	bob   = user.User{ID: "u-bob", Username: "bob", Nickname: "Bob"}
	carol = user.User{ID: "u-carol", Username: "carol", Nickname: "Carol"}
)

func testVerifier() *fakeVerifier {
	return &fakeVerifier{users: map[string]user.User{
		"tok-alice": alice,
		"tok-bob":   bob,
		"tok-carol": carol,
	}}
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()

	if opts.Verifier == nil {
		opts.Verifier = testVerifier()
	}
	if opts.ExternalTimeout == 0 {
		opts.ExternalTimeout = time.Second
	}

	c := New(opts)
	t.Cleanup(c.Shutdown)
	return c
}

// connect registers a recording sink and, when token is set, authenticates it.
func connect(t *testing.T, c *Coordinator, token string) (ConnID, *recordingSink) {
	t.Helper()

	sink := &recordingSink{}
	id, err := c.Connect(context.Background(), sink)
	require.NoError(t, err)

	if token != "" {
		require.NoError(t, c.Authenticate(context.Background(), id, token))
	}
	return id, sink
}

// handle dispatches an event synchronously through the router.
func handle(c *Coordinator, id ConnID, event string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	return c.router.Handle(context.Background(), id, event, raw)
}

func join(t *testing.T, c *Coordinator, id ConnID, roomID RoomID) {
	t.Helper()
	require.NoError(t, handle(c, id, EventJoinRoom, RoomPayload{RoomID: roomID}))
}

func decode[T any](t *testing.T, msg Message) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(msg.Payload, &out))
	return out
}
