package realtime

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"studyhub/internal/app/user"
	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/extcall"
	"studyhub/internal/pkg/logx"
	"studyhub/internal/pkg/randx"
)

// IdentityVerifier turns an auth token into an identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (user.User, error)
}

// RoomDirectory resolves persisted metadata for a room id. found is false for
// ad-hoc rooms that have no stored record.
type RoomDirectory interface {
	RoomMeta(ctx context.Context, roomID RoomID) (meta RoomMeta, found bool, err error)
}

// Router validates inbound events and dispatches them to the registry and the
// room manager. Validation and authorization always complete before any state
// is mutated.
type Router struct {
	registry  *Registry
	rooms     *Manager
	verifier  IdentityVerifier
	directory RoomDirectory
	policy    extcall.Policy

	// logout is invoked for the logout event; the coordinator disconnects the connection.
	logout func(ConnID)

	now    func() time.Time
	logger zerolog.Logger
}

// NewRouter creates a Router. directory may be nil.
func NewRouter(registry *Registry, rooms *Manager, verifier IdentityVerifier, directory RoomDirectory, policy extcall.Policy, logout func(ConnID)) *Router {
	return &Router{
		registry:  registry,
		rooms:     rooms,
		verifier:  verifier,
		directory: directory,
		policy:    policy,
		logout:    logout,
		now:       time.Now,
		logger:    logx.Component("router"),
	}
}

// Handle processes one inbound event from connID.
func (rt *Router) Handle(ctx context.Context, connID ConnID, event string, payload json.RawMessage) error {
	conn, ok := rt.registry.Lookup(connID)
	if !ok {
		return errs.NewError(errs.ErrUnknownConnection)
	}

	conn.touch(rt.now())

	// Logout is allowed from Connected as well as Authenticated.
	if event != EventAuth && event != EventLogout && conn.State() != StateAuthenticated {
		return errs.NewError(errs.ErrUnauthenticated)
	}

	switch event {
	case EventAuth:
		return rt.handleAuth(ctx, conn, payload)
	case EventLogout:
		return rt.handleLogout(conn, payload)
	case EventJoinRoom:
		return rt.handleJoin(ctx, conn, payload)
	case EventLeaveRoom:
		return rt.handleLeave(ctx, conn, payload)
	case EventRoomMessage:
		return rt.handleRoomMessage(ctx, conn, payload)
	case EventPresencePing:
		return rt.handlePing(ctx, conn, payload)
	default:
		return errs.NewError(errs.ErrInvalidPayload, "unknown event "+event)
	}
}

func (rt *Router) handleAuth(ctx context.Context, conn *Connection, payload json.RawMessage) error {
	var in AuthPayload
	if err := decodePayload(payload, &in, false); err != nil {
		return err
	}
	if in.Token == "" {
		return errs.NewError(errs.ErrInvalidPayload, "token is required")
	}

	identity, err := extcall.Value(ctx, rt.policy, func(ctx context.Context) (user.User, error) {
		return rt.verifier.Verify(ctx, in.Token)
	})
	if err != nil {
		return err
	}

	// A token refresh may rebind the same user; switching users on a live connection is not allowed.
	if current, ok := conn.Identity(); ok && current.ID != identity.ID {
		return errs.NewError(errs.ErrUnauthorized)
	}

	if err := rt.registry.BindIdentity(conn.id, identity); err != nil {
		return err
	}

	rt.logger.Info().
		Str("connection_id", string(conn.id)).
		Str("user_id", identity.ID).
		Msg("Connection authenticated.")

	return rt.reply(conn, EventAuthOK, "", AuthOKPayload{ConnectionID: conn.id, User: identity})
}

func (rt *Router) handleLogout(conn *Connection, payload json.RawMessage) error {
	var in struct{}
	if err := decodePayload(payload, &in, true); err != nil {
		return err
	}

	if rt.logout != nil {
		rt.logout(conn.id)
	}
	return nil
}

func (rt *Router) handleJoin(ctx context.Context, conn *Connection, payload json.RawMessage) error {
	var in RoomPayload
	if err := decodePayload(payload, &in, false); err != nil {
		return err
	}
	if err := validateRoomID(in.RoomID); err != nil {
		return err
	}
	if conn.InRoom(in.RoomID) {
		return errs.NewError(errs.ErrAlreadyMember)
	}

	meta, err := rt.resolveMeta(ctx, in.RoomID)
	if err != nil {
		return err
	}

	_, err = rt.rooms.Join(ctx, in.RoomID, conn.id, meta)
	return err
}

// resolveMeta loads stored metadata for rooms that are not already running.
// This is the external call of the join path, so it happens before the room
// op is queued and is bounded by the router's policy.
func (rt *Router) resolveMeta(ctx context.Context, roomID RoomID) (RoomMeta, error) {
	if rt.directory == nil || rt.rooms.Active(roomID) {
		return RoomMeta{}, nil
	}

	type lookup struct {
		meta  RoomMeta
		found bool
	}

	res, err := extcall.Value(ctx, rt.policy, func(ctx context.Context) (lookup, error) {
		meta, found, err := rt.directory.RoomMeta(ctx, roomID)
		return lookup{meta, found}, err
	})
	if err != nil {
		return RoomMeta{}, err
	}

	if !res.found {
		rt.logger.Debug().Str("room_id", string(roomID)).Msg("No stored session room; creating ad-hoc room.")
	}
	return res.meta, nil
}

func (rt *Router) handleLeave(ctx context.Context, conn *Connection, payload json.RawMessage) error {
	var in RoomPayload
	if err := decodePayload(payload, &in, false); err != nil {
		return err
	}
	if err := validateRoomID(in.RoomID); err != nil {
		return err
	}
	if !conn.InRoom(in.RoomID) {
		return errs.NewError(errs.ErrNotMember)
	}

	if err := rt.rooms.Leave(ctx, in.RoomID, conn.id, ReasonLeft); err != nil {
		return err
	}

	return rt.reply(conn, EventRoomLeft, in.RoomID, RoomPayload{RoomID: in.RoomID})
}

func (rt *Router) handleRoomMessage(ctx context.Context, conn *Connection, payload json.RawMessage) error {
	var in RoomMessagePayload
	if err := decodePayload(payload, &in, false); err != nil {
		return err
	}
	if err := validateRoomID(in.RoomID); err != nil {
		return err
	}
	if in.Text == "" && len(in.Attachments) == 0 {
		return errs.NewError(errs.ErrInvalidPayload, "text or attachments required")
	}
	if len(in.Text) > MaxContentBytes {
		return errs.NewError(errs.ErrMessageContentTooLong)
	}
	if !utf8.ValidString(in.Text) {
		return errs.NewError(errs.ErrInvalidPayload, "text must be valid UTF-8")
	}
	if err := validateAttachments(in.RoomID, in.Attachments); err != nil {
		return err
	}
	if !conn.InRoom(in.RoomID) {
		return errs.NewError(errs.ErrNotMember)
	}

	sender, _ := conn.Identity()
	msg, err := NewMessage(EventMessage, in.RoomID, sender, ChatPayload{Text: in.Text, Attachments: in.Attachments})
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}

	if _, err := rt.rooms.Broadcast(ctx, in.RoomID, msg, conn.id); err != nil {
		return err
	}

	if in.TempID == "" {
		return nil
	}
	return rt.reply(conn, EventMessageAck, in.RoomID, AckPayload{
		TempID:    in.TempID,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	})
}

func (rt *Router) handlePing(ctx context.Context, conn *Connection, payload json.RawMessage) error {
	var in PingPayload
	if err := decodePayload(payload, &in, true); err != nil {
		return err
	}

	if in.Status != "" && in.RoomID == "" {
		return errs.NewError(errs.ErrInvalidPayload, "status requires roomId")
	}
	if utf8.RuneCountInString(in.Status) > MaxStatusLength {
		return errs.NewError(errs.ErrInvalidPayload, "status is too long")
	}

	if in.RoomID != "" {
		if err := validateRoomID(in.RoomID); err != nil {
			return err
		}
		if !conn.InRoom(in.RoomID) {
			return errs.NewError(errs.ErrNotMember)
		}

		if in.Status != "" {
			msg, err := presenceMessage(EventPresenceStatus, in.RoomID, conn.member(), "", in.Status)
			if err != nil {
				return errs.NewError(errs.ErrUnknown, err)
			}
			if _, err := rt.rooms.Broadcast(ctx, in.RoomID, msg, conn.id); err != nil {
				return err
			}
		}
	}

	return rt.reply(conn, EventPresencePong, in.RoomID, map[string]int64{
		"lastActive": conn.LastActive().UnixMilli(),
	})
}

// reply sends a message to the originating connection only.
func (rt *Router) reply(conn *Connection, event string, roomID RoomID, payload any) error {
	msg, err := NewMessage(event, roomID, user.System, payload)
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}

	if err := conn.sink.Send(msg); err != nil {
		rt.logger.Warn().Err(err).
			Str("connection_id", string(conn.id)).
			Str("event", event).
			Msg("Failed to deliver reply.")
	}
	return nil
}

func validateRoomID(id RoomID) error {
	if !randx.IsValidRoomID(string(id)) {
		return errs.NewError(errs.ErrInvalidPayload, "invalid roomId")
	}
	return nil
}
