package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"studyhub/internal/app/user"
	"studyhub/internal/pkg/errs"
)

// State is the lifecycle position of a connection.
type State int

const (
	// StateConnecting is reported for ids the registry has never seen.
	StateConnecting State = iota
	// StateConnected means the transport handshake completed.
	StateConnected
	// StateAuthenticated means an identity is bound.
	StateAuthenticated
	// StateDisconnected is terminal.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var (
	// ErrSinkClosed is returned by a Sink whose transport has gone away.
	ErrSinkClosed = errors.New("sink closed")

	// ErrSinkFull is returned by a Sink whose outbound queue is full.
	ErrSinkFull = errors.New("sink queue full")
)

// Sink is the outbound half of a transport connection. Send must not block.
type Sink interface {
	Send(msg Message) error
}

// closer is implemented by sinks that can be told to hang up.
type closer interface {
	Close()
}

// inbound is one queued client event.
type inbound struct {
	event   string
	payload []byte
}

// Connection is a registered transport connection. All mutable fields are
// guarded by mu; rooms is only changed through attach/detach, which the room
// goroutines call while holding their own membership.
type Connection struct {
	id     ConnID
	sink   Sink
	inbox  chan inbound
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	identity   *user.User
	rooms      map[RoomID]struct{}
	state      State
	lastActive time.Time
}

// ID returns the connection id.
func (c *Connection) ID() ConnID { return c.id }

// Context is cancelled when the connection is unregistered.
func (c *Connection) Context() context.Context { return c.ctx }

// Identity returns the bound identity, if any.
func (c *Connection) Identity() (user.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity == nil {
		return user.User{}, false
	}
	return *c.identity, true
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActive returns the time of the last inbound event.
func (c *Connection) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Rooms returns the joined rooms, sorted.
func (c *Connection) Rooms() []RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedRooms(c.rooms)
}

// InRoom reports whether the connection has joined roomID.
func (c *Connection) InRoom(roomID RoomID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Connection) touch(now time.Time) {
	c.mu.Lock()
	c.lastActive = now
	c.mu.Unlock()
}

func (c *Connection) member() MemberInfo {
	u, _ := c.Identity()
	return MemberInfo{ConnectionID: c.id, User: u}
}

// attach records roomID in the joined set. It fails once the connection is disconnected.
func (c *Connection) attach(roomID RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		return errs.NewError(errs.ErrUnknownConnection)
	}
	c.rooms[roomID] = struct{}{}
	return nil
}

func (c *Connection) detach(roomID RoomID) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// tombstoneTTL is how long a disconnected id stays reserved.
const tombstoneTTL = time.Hour

type tombstone struct {
	id ConnID
	at time.Time
}

// Registry tracks live connections and the identity bound to each.
type Registry struct {
	mu         sync.RWMutex
	conns      map[ConnID]*Connection
	tombstones map[ConnID]time.Time
	expiry     []tombstone // oldest first
	inboxSize  int
	now        func() time.Time
}

// NewRegistry creates an empty registry. inboxSize bounds the queued inbound
// events per connection.
func NewRegistry(inboxSize int) *Registry {
	if inboxSize <= 0 {
		inboxSize = 64
	}

	return &Registry{
		conns:      make(map[ConnID]*Connection),
		tombstones: make(map[ConnID]time.Time),
		inboxSize:  inboxSize,
		now:        time.Now,
	}
}

// Register adds a connection. identity may be nil for anonymous connections.
// Ids are never reused: registering an id that is live or was unregistered
// within tombstoneTTL fails with ErrDuplicateConnection.
func (r *Registry) Register(id ConnID, identity *user.User, sink Sink) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneTombstones(now)

	if _, ok := r.conns[id]; ok {
		return nil, errs.NewError(errs.ErrDuplicateConnection)
	}
	if _, ok := r.tombstones[id]; ok {
		return nil, errs.NewError(errs.ErrDuplicateConnection)
	}

	ctx, cancel := context.WithCancel(context.Background())

	conn := &Connection{
		id:         id,
		sink:       sink,
		inbox:      make(chan inbound, r.inboxSize),
		ctx:        ctx,
		cancel:     cancel,
		rooms:      make(map[RoomID]struct{}),
		state:      StateConnected,
		lastActive: now,
	}

	if identity != nil {
		u := *identity
		conn.identity = &u
		conn.state = StateAuthenticated
	}

	r.conns[id] = conn
	return conn, nil
}

// BindIdentity attaches identity to a registered connection and marks it authenticated.
func (r *Registry) BindIdentity(id ConnID, identity user.User) error {
	conn, ok := r.Lookup(id)
	if !ok {
		return errs.NewError(errs.ErrUnknownConnection)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.state == StateDisconnected {
		return errs.NewError(errs.ErrUnknownConnection)
	}

	conn.identity = &identity
	conn.state = StateAuthenticated
	return nil
}

// Unregister removes the connection and returns the rooms it had joined so the
// caller can cascade the leave. The connection context is cancelled.
// A second call returns nil.
func (r *Registry) Unregister(id ConnID) []RoomID {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		now := r.now()
		r.tombstones[id] = now
		r.expiry = append(r.expiry, tombstone{id: id, at: now})
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	conn.cancel()

	conn.mu.Lock()
	defer conn.mu.Unlock()

	conn.state = StateDisconnected
	return sortedRooms(conn.rooms)
}

// Lookup returns the live connection with the given id.
func (r *Registry) Lookup(id ConnID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	return conn, ok
}

// State reports the lifecycle state of id, including ids not yet or no longer registered.
func (r *Registry) State(id ConnID) State {
	r.mu.RLock()
	conn, ok := r.conns[id]
	_, dead := r.tombstones[id]
	r.mu.RUnlock()

	switch {
	case ok:
		return conn.State()
	case dead:
		return StateDisconnected
	default:
		return StateConnecting
	}
}

// RoomsOf returns the rooms joined by id; nil for unknown connections.
func (r *Registry) RoomsOf(id ConnID) []RoomID {
	conn, ok := r.Lookup(id)
	if !ok {
		return nil
	}
	return conn.Rooms()
}

// IDs returns the ids of all live connections.
func (r *Registry) IDs() []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// pruneTombstones drops expired tombstones from the front of the expiry queue.
// Callers hold r.mu.
func (r *Registry) pruneTombstones(now time.Time) {
	n := 0
	for _, ts := range r.expiry {
		if now.Sub(ts.at) <= tombstoneTTL {
			break
		}
		delete(r.tombstones, ts.id)
		n++
	}
	if n > 0 {
		r.expiry = r.expiry[n:]
	}
}

func sortedRooms(set map[RoomID]struct{}) []RoomID {
	out := make([]RoomID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
