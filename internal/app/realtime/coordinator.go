/*
Package realtime contains the room and presence coordinator behind the WebSocket endpoint.

This file defines the Coordinator, the single entry point used by transports. It owns
the connection registry and the room manager, runs one inbound worker per connection and
turns transport lifecycle events into registry and room operations.
*/
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"studyhub/internal/app/user"
	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/extcall"
	"studyhub/internal/pkg/logx"
	"studyhub/internal/pkg/randx"
)

// ErrClosed is returned by Connect after Shutdown.
var ErrClosed = errors.New("coordinator is shut down")

// Options configures a Coordinator.
type Options struct {
	// Verifier resolves auth tokens. Required.
	Verifier IdentityVerifier

	// Directory resolves stored room metadata. Optional.
	Directory RoomDirectory

	// ExternalTimeout bounds each attempt of a Verifier or Directory call.
	ExternalTimeout time.Duration

	// RoomGracePeriod is how long an empty room keeps its loop and metadata.
	RoomGracePeriod time.Duration

	// InboxSize bounds the queued inbound events per connection.
	InboxSize int
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// Coordinator wires the registry, room manager, router and broadcaster together.
type Coordinator struct {
	registry *Registry
	rooms    *Manager
	router   *Router

	// mu orders Connect against Shutdown.
	mu      sync.Mutex
	closed  bool
	workers sync.WaitGroup

	logger zerolog.Logger
}

// New creates a Coordinator from opts.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		registry: NewRegistry(opts.InboxSize),
		logger:   logx.Component("realtime"),
	}

	presence := NewBroadcaster(c.unreachable)
	c.rooms = NewManager(c.registry, presence, opts.RoomGracePeriod)
	c.router = NewRouter(
		c.registry,
		c.rooms,
		opts.Verifier,
		opts.Directory,
		extcall.Policy{Timeout: opts.ExternalTimeout},
		func(id ConnID) { c.Disconnect(id, ReasonLogout) },
	)

	return c
}

// Connect registers sink under a fresh connection id and starts its inbound worker.
func (c *Coordinator) Connect(ctx context.Context, sink Sink) (ConnID, error) {
	id := ConnID(randx.ConnectionID())
	if err := c.ConnectWithID(ctx, id, sink); err != nil {
		return "", err
	}
	return id, nil
}

// ConnectWithID is Connect for transports that assign their own ids.
func (c *Coordinator) ConnectWithID(ctx context.Context, id ConnID, sink Sink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	conn, err := c.registry.Register(id, nil, sink)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.workers.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.workers.Done()
		c.serve(conn)
	}()

	c.logger.Info().Str("connection_id", string(id)).Msg("Connection registered.")
	return nil
}

// Authenticate binds the identity carried by token to id, bypassing the inbox.
func (c *Coordinator) Authenticate(ctx context.Context, id ConnID, token string) error {
	payload, err := json.Marshal(AuthPayload{Token: token})
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}
	return c.router.Handle(ctx, id, EventAuth, payload)
}

// Message queues an inbound event for id. Events of one connection are handled
// in arrival order by its worker; failures are reported to that connection only.
func (c *Coordinator) Message(id ConnID, event string, payload []byte) error {
	conn, ok := c.registry.Lookup(id)
	if !ok {
		return errs.NewError(errs.ErrUnknownConnection)
	}

	select {
	case <-conn.ctx.Done():
		return errs.NewError(errs.ErrUnknownConnection)
	default:
	}

	select {
	case conn.inbox <- inbound{event: event, payload: payload}:
		return nil
	case <-conn.ctx.Done():
		return errs.NewError(errs.ErrUnknownConnection)
	default:
		return errs.NewError(errs.ErrRateLimitExceeded)
	}
}

// serve drains the inbox of conn until it is disconnected. Queued events left
// behind at that point are dropped.
func (c *Coordinator) serve(conn *Connection) {
	for {
		select {
		case <-conn.ctx.Done():
			return
		case in := <-conn.inbox:
			if conn.ctx.Err() != nil {
				return
			}

			err := c.router.Handle(conn.ctx, conn.id, in.event, in.payload)
			if err != nil && conn.ctx.Err() == nil {
				c.reportError(conn, in.event, err)
			}
		}
	}
}

// reportError sends err to the originating connection as an error message.
func (c *Coordinator) reportError(conn *Connection, event string, err error) {
	c.logger.Debug().
		Err(err).
		Str("connection_id", string(conn.id)).
		Str("event", event).
		Msg("Inbound event rejected.")

	msg, buildErr := ErrorMessage(event, err)
	if buildErr != nil {
		c.logger.Error().Err(buildErr).Msg("Failed to build error message.")
		return
	}

	if sendErr := conn.sink.Send(msg); sendErr != nil {
		c.logger.Warn().Err(sendErr).Str("connection_id", string(conn.id)).Msg("Failed to deliver error message.")
	}
}

// Disconnect tears id down: queued events are dropped, the id is retired and
// every joined room is left with reason, notifying the remaining members.
// Calling it for an unknown or already disconnected id is a no-op.
func (c *Coordinator) Disconnect(id ConnID, reason string) {
	conn, ok := c.registry.Lookup(id)
	if !ok {
		return
	}

	rooms := c.registry.Unregister(id)
	if rooms == nil {
		return
	}

	for _, roomID := range rooms {
		err := c.rooms.Leave(context.Background(), roomID, id, reason)
		if err != nil && !errs.HasCode(err, errs.ErrNotMember) {
			c.logger.Warn().Err(err).
				Str("connection_id", string(id)).
				Str("room_id", string(roomID)).
				Msg("Failed to leave room during disconnect.")
		}
	}

	if cl, ok := conn.sink.(closer); ok {
		cl.Close()
	}

	c.logger.Info().
		Str("connection_id", string(id)).
		Str("reason", reason).
		Int("rooms_left", len(rooms)).
		Msg("Connection disconnected.")
}

// unreachable runs on a room goroutine, so the teardown happens asynchronously.
func (c *Coordinator) unreachable(id ConnID, err error) {
	c.logger.Warn().Err(err).Str("connection_id", string(id)).Msg("Connection unreachable; disconnecting.")
	go c.Disconnect(id, ReasonUnreachable)
}

// State reports the lifecycle state of id.
func (c *Coordinator) State(id ConnID) State {
	return c.registry.State(id)
}

// RoomsOf returns the rooms id has joined.
func (c *Coordinator) RoomsOf(id ConnID) []RoomID {
	return c.rooms.RoomsOf(id)
}

// MembersOf returns the connection ids in roomID.
func (c *Coordinator) MembersOf(ctx context.Context, roomID RoomID) ([]ConnID, error) {
	return c.rooms.MembersOf(ctx, roomID)
}

// Participants returns the members of roomID with their identities.
func (c *Coordinator) Participants(ctx context.Context, roomID RoomID) ([]MemberInfo, error) {
	return c.rooms.Participants(ctx, roomID)
}

// IsParticipant reports whether any connection of userID is a member of roomID.
func (c *Coordinator) IsParticipant(ctx context.Context, roomID RoomID, userID string) bool {
	members, err := c.rooms.Participants(ctx, roomID)
	if err != nil {
		return false
	}

	for _, m := range members {
		if m.User.ID == userID {
			return true
		}
	}
	return false
}

// Broadcast sends a system message to every member of roomID.
func (c *Coordinator) Broadcast(ctx context.Context, roomID RoomID, event string, payload any) (Report, error) {
	msg, err := NewMessage(event, roomID, user.System, payload)
	if err != nil {
		return Report{}, errs.NewError(errs.ErrUnknown, err)
	}
	return c.rooms.Broadcast(ctx, roomID, msg, "")
}

// Stats returns the number of live connections and running rooms.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Connections: c.registry.Len(),
		Rooms:       c.rooms.Len(),
	}
}

// Shutdown disconnects every connection, stops the rooms and waits for the workers.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info().Msg("Shutting down coordinator...")

	for _, id := range c.registry.IDs() {
		c.Disconnect(id, ReasonShutdown)
	}

	c.rooms.Shutdown()
	c.workers.Wait()

	c.logger.Info().Msg("Coordinator shutdown complete.")
}

// ErrorMessage builds the error message sent to a connection whose event failed.
func ErrorMessage(event string, err error) (Message, error) {
	customErr := errs.From(err)
	return NewMessage(EventError, "", user.System, ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
		Event:   event,
	})
}
