package realtime

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"studyhub/internal/app/user"
	"studyhub/internal/pkg/logx"
)

// Report is the outcome of one fan-out.
type Report struct {
	RoomID    RoomID
	Event     string
	Delivered []ConnID
	Failed    []ConnID

	// Err aggregates every per-connection failure; nil when all deliveries succeeded.
	Err error
}

// Broadcaster delivers messages to a snapshot of room members. Delivery is
// best effort: a failing connection is reported and skipped, never aborting
// the rest of the fan-out.
type Broadcaster struct {
	// onUnreachable, if set, is called for each connection whose sink failed.
	// It runs on the room goroutine and must not block or call back into the room.
	onUnreachable func(ConnID, error)

	logger zerolog.Logger
}

// NewBroadcaster creates a Broadcaster. onUnreachable may be nil.
func NewBroadcaster(onUnreachable func(ConnID, error)) *Broadcaster {
	return &Broadcaster{
		onUnreachable: onUnreachable,
		logger:        logx.Component("presence"),
	}
}

// Deliver sends msg to every target. targets is the member snapshot taken by
// the caller; membership changes after the snapshot do not affect delivery.
func (b *Broadcaster) Deliver(roomID RoomID, targets []*Connection, msg Message) Report {
	report := Report{
		RoomID:    roomID,
		Event:     msg.Event,
		Delivered: make([]ConnID, 0, len(targets)),
	}

	for _, target := range targets {
		if err := target.sink.Send(msg); err != nil {
			report.Failed = append(report.Failed, target.id)
			report.Err = multierr.Append(report.Err, fmt.Errorf("deliver %s to %s: %w", msg.Event, target.id, err))

			if b.onUnreachable != nil {
				b.onUnreachable(target.id, err)
			}
			continue
		}
		report.Delivered = append(report.Delivered, target.id)
	}

	if report.Err != nil {
		b.logger.Warn().
			Str("room_id", string(roomID)).
			Str("event", msg.Event).
			Int("delivered", len(report.Delivered)).
			Int("failed", len(report.Failed)).
			Err(report.Err).
			Msg("Partial broadcast failure.")
	}

	return report
}

// presenceMessage builds a presence event about member in roomID.
func presenceMessage(event string, roomID RoomID, member MemberInfo, reason, status string) (Message, error) {
	return NewMessage(event, roomID, user.System, PresencePayload{
		RoomID: roomID,
		Member: member,
		Reason: reason,
		Status: status,
	})
}
