package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/logx"
)

// maxJoinAttempts bounds retries when a join races with a room closing.
const maxJoinAttempts = 3

// ErrManagerClosed is returned after Shutdown.
var ErrManagerClosed = errors.New("room manager is shut down")

// Manager tracks the live rooms and routes membership operations to them.
type Manager struct {
	registry *Registry
	presence *Broadcaster
	grace    time.Duration

	// mu guards rooms and closed. It is never held while waiting on a room.
	mu     sync.RWMutex
	rooms  map[RoomID]*Room
	closed bool

	// wg tracks the room goroutines.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewManager creates a Manager. grace is how long empty rooms linger.
func NewManager(registry *Registry, presence *Broadcaster, grace time.Duration) *Manager {
	return &Manager{
		registry: registry,
		presence: presence,
		grace:    grace,
		rooms:    make(map[RoomID]*Room),
		logger:   logx.Component("manager"),
	}
}

// obtain returns the live room for id, creating and starting it if needed.
func (m *Manager) obtain(id RoomID, meta RoomMeta) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	if room, ok := m.rooms[id]; ok && !room.closed() {
		return room, nil
	}

	room := newRoom(id, meta, m.grace, m.presence, m.retire)
	m.rooms[id] = room

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		room.run()
	}()

	m.logger.Info().Str("room_id", string(id)).Msg("New room created and started.")
	return room, nil
}

// retire forgets room once its loop has exited, unless it was already replaced.
func (m *Manager) retire(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.rooms[room.ID]; ok && current == room {
		delete(m.rooms, room.ID)
		m.logger.Info().Str("room_id", string(room.ID)).Msg("Room removed.")
	}
}

func (m *Manager) lookup(id RoomID) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[id]
}

// Active reports whether a room loop exists for id, including empty rooms
// still inside their grace period.
func (m *Manager) Active(id RoomID) bool {
	room := m.lookup(id)
	return room != nil && !room.closed()
}

// Join adds connID to the room, creating the room if absent. meta is used
// only when the room is created. Joining twice fails with ErrAlreadyMember.
func (m *Manager) Join(ctx context.Context, roomID RoomID, connID ConnID, meta RoomMeta) (JoinResult, error) {
	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return JoinResult{}, errs.NewError(errs.ErrUnknownConnection)
	}

	for range maxJoinAttempts {
		room, err := m.obtain(roomID, meta)
		if err != nil {
			return JoinResult{}, err
		}

		result, err := call(ctx, room, func() (JoinResult, error) { return room.doJoin(conn) })
		if errors.Is(err, errRoomClosed) {
			continue
		}
		return result, err
	}

	return JoinResult{}, errs.NewError(errs.ErrUnknown, errors.New("room kept closing during join"))
}

// Leave removes connID from the room. ErrNotMember if it was not a member;
// the member set is then unchanged.
func (m *Manager) Leave(ctx context.Context, roomID RoomID, connID ConnID, reason string) error {
	room := m.lookup(roomID)
	if room == nil {
		return errs.NewError(errs.ErrNotMember)
	}

	_, err := call(ctx, room, func() (struct{}, error) { return room.doLeave(connID, reason) })
	if errors.Is(err, errRoomClosed) {
		return errs.NewError(errs.ErrNotMember)
	}
	return err
}

// Participants returns the members of the room with their identities.
// Rooms that never existed or have no members fail with ErrRoomNotFound.
func (m *Manager) Participants(ctx context.Context, roomID RoomID) ([]MemberInfo, error) {
	room := m.lookup(roomID)
	if room == nil {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}

	members, err := call(ctx, room, room.doParticipants)
	if errors.Is(err, errRoomClosed) {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}
	return members, err
}

// MembersOf returns the connection ids currently in the room.
func (m *Manager) MembersOf(ctx context.Context, roomID RoomID) ([]ConnID, error) {
	members, err := m.Participants(ctx, roomID)
	if err != nil {
		return nil, err
	}

	ids := make([]ConnID, len(members))
	for i, member := range members {
		ids[i] = member.ConnectionID
	}
	return ids, nil
}

// RoomsOf returns the rooms connID has joined.
func (m *Manager) RoomsOf(connID ConnID) []RoomID {
	return m.registry.RoomsOf(connID)
}

// Broadcast fans msg out to the room's members as of the moment the op runs.
// When sender is set it must be a member and is excluded from delivery.
func (m *Manager) Broadcast(ctx context.Context, roomID RoomID, msg Message, sender ConnID) (Report, error) {
	room := m.lookup(roomID)
	if room == nil {
		return Report{}, errs.NewError(errs.ErrRoomNotFound)
	}

	report, err := call(ctx, room, func() (Report, error) { return room.doBroadcast(msg, sender) })
	if errors.Is(err, errRoomClosed) {
		return Report{}, errs.NewError(errs.ErrRoomNotFound)
	}
	return report, err
}

// Len returns the number of room loops currently running.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Shutdown stops every room and waits for their loops to exit.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down room manager...")

	m.mu.Lock()
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	for _, room := range rooms {
		room.Stop()
	}
	m.wg.Wait()

	m.logger.Info().Msg("Room manager shutdown complete.")
}
