package realtime

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"studyhub/internal/app/user"
	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/logx"
)

// initialIdle bounds how long a freshly created room waits for its first
// member when the grace period is zero.
const initialIdle = 5 * time.Second

// errRoomClosed is returned when an op reaches a room whose loop has exited.
var errRoomClosed = errors.New("room closed")

// RoomMeta is the persisted description of a session room, if any.
type RoomMeta struct {
	Name           string `json:"name,omitempty"`
	StudySessionID string `json:"studySessionId,omitempty"`
}

// JoinResult describes the room as seen by a connection right after joining.
type JoinResult struct {
	RoomID RoomID

	// Created is true when the join brought the room into existence
	// (first member of a new or logically deleted room).
	Created bool

	Members   []MemberInfo
	Meta      RoomMeta
	CreatedAt time.Time
}

// Room is a single session room. Its member set is owned by the run
// goroutine; every read or write goes through an op on the ops channel, so
// operations on one room are serialized while different rooms run in parallel.
type Room struct {
	ID        RoomID
	CreatedAt time.Time

	meta    RoomMeta
	members map[ConnID]*Connection

	ops      chan func()
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// grace is how long an empty room lingers before its loop exits.
	grace time.Duration

	presence *Broadcaster
	onClose  func(*Room)
	logger   zerolog.Logger
}

func newRoom(id RoomID, meta RoomMeta, grace time.Duration, presence *Broadcaster, onClose func(*Room)) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		meta:      meta,
		members:   make(map[ConnID]*Connection),
		ops:       make(chan func()),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		grace:     grace,
		presence:  presence,
		onClose:   onClose,
		logger:    logx.Component("room").With().Str("room_id", string(id)).Logger(),
	}
}

// Stop makes the run loop exit without touching membership.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Room) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// run is the room's event loop. It exits when the room stays empty past the
// grace period (immediately when grace is zero) or when stopped.
func (r *Room) run() {
	defer func() {
		close(r.done)
		if r.onClose != nil {
			r.onClose(r)
		}
		r.logger.Info().Msg("Room loop stopped.")
	}()

	idle := r.grace
	if idle == 0 {
		idle = initialIdle
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()
	armed := true

	for {
		var timerC <-chan time.Time
		if armed {
			timerC = timer.C
		}

		select {
		case op := <-r.ops:
			op()

			if len(r.members) > 0 {
				if armed {
					timer.Stop()
					armed = false
				}
				continue
			}

			if r.grace == 0 {
				r.logger.Info().Msg("Room is empty. Closing immediately.")
				return
			}
			if !armed {
				timer.Reset(r.grace)
				armed = true
			}

		case <-timerC:
			r.logger.Info().Dur("grace", r.grace).Msg("Room stayed empty past its grace period.")
			return

		case <-r.stop:
			r.logger.Info().Msg("Room forced stop initiated.")
			return
		}
	}
}

// call runs fn on the room goroutine and waits for its result.
func call[T any](ctx context.Context, r *Room, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	reply := make(chan result, 1)
	op := func() {
		v, err := fn()
		reply <- result{v, err}
	}

	select {
	case r.ops <- op:
	case <-r.done:
		var zero T
		return zero, errRoomClosed
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	res := <-reply
	return res.v, res.err
}

// snapshot returns the current members ordered by connection id.
func (r *Room) snapshot(exclude ConnID) []*Connection {
	out := make([]*Connection, 0, len(r.members))
	for id, conn := range r.members {
		if id != exclude {
			out = append(out, conn)
		}
	}
	slices.SortFunc(out, func(a, b *Connection) int { return strings.Compare(string(a.id), string(b.id)) })
	return out
}

func memberInfos(conns []*Connection) []MemberInfo {
	out := make([]MemberInfo, len(conns))
	for i, c := range conns {
		out[i] = c.member()
	}
	return out
}

func (r *Room) doJoin(conn *Connection) (JoinResult, error) {
	if _, ok := r.members[conn.id]; ok {
		return JoinResult{}, errs.NewError(errs.ErrAlreadyMember)
	}

	if err := conn.attach(r.ID); err != nil {
		return JoinResult{}, err
	}

	created := len(r.members) == 0
	r.members[conn.id] = conn

	targets := r.snapshot("")
	result := JoinResult{
		RoomID:    r.ID,
		Created:   created,
		Members:   memberInfos(targets),
		Meta:      r.meta,
		CreatedAt: r.CreatedAt,
	}

	r.logger.Info().
		Str("connection_id", string(conn.id)).
		Int("total_members", len(r.members)).
		Msg("Connection joined room.")

	state, err := NewMessage(EventRoomJoined, r.ID, user.System, RoomStatePayload{
		RoomID:    r.ID,
		Members:   result.Members,
		Meta:      r.meta,
		CreatedAt: r.CreatedAt.UnixMilli(),
	})
	if err == nil {
		if sendErr := conn.sink.Send(state); sendErr != nil {
			r.logger.Warn().Err(sendErr).Str("connection_id", string(conn.id)).Msg("Failed to deliver room state to joiner.")
		}
	}

	if msg, err := presenceMessage(EventPresenceJoin, r.ID, conn.member(), "", ""); err == nil {
		r.presence.Deliver(r.ID, targets, msg)
	} else {
		r.logger.Error().Err(err).Msg("Failed to build presence:join message.")
	}

	return result, nil
}

func (r *Room) doLeave(connID ConnID, reason string) (struct{}, error) {
	conn, ok := r.members[connID]
	if !ok {
		return struct{}{}, errs.NewError(errs.ErrNotMember)
	}

	delete(r.members, connID)
	conn.detach(r.ID)

	r.logger.Info().
		Str("connection_id", string(connID)).
		Str("reason", reason).
		Int("total_members", len(r.members)).
		Msg("Connection left room.")

	if len(r.members) > 0 {
		if msg, err := presenceMessage(EventPresenceLeave, r.ID, conn.member(), reason, ""); err == nil {
			r.presence.Deliver(r.ID, r.snapshot(""), msg)
		} else {
			r.logger.Error().Err(err).Msg("Failed to build presence:leave message.")
		}
	}

	return struct{}{}, nil
}

func (r *Room) doParticipants() ([]MemberInfo, error) {
	if len(r.members) == 0 {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}
	return memberInfos(r.snapshot("")), nil
}

// doBroadcast delivers msg to every member except sender. A non-empty sender
// must itself be a member.
func (r *Room) doBroadcast(msg Message, sender ConnID) (Report, error) {
	if len(r.members) == 0 {
		return Report{}, errs.NewError(errs.ErrRoomNotFound)
	}
	if sender != "" {
		if _, ok := r.members[sender]; !ok {
			return Report{}, errs.NewError(errs.ErrNotMember)
		}
	}

	return r.presence.Deliver(r.ID, r.snapshot(sender), msg), nil
}
