/*
Package realtime contains the room and presence coordinator behind the WebSocket endpoint.

This file defines the wire types: inbound event names and payloads, and the outbound
Message envelope delivered to connections.
*/
package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"studyhub/internal/app/user"
	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/randx"
)

// ConnID identifies a live connection. It is assigned by the transport at upgrade time.
type ConnID string

// RoomID identifies a session room or study session channel.
type RoomID string

// Inbound events.
const (
	EventAuth         = "auth"
	EventLogout       = "logout"
	EventJoinRoom     = "room:join"
	EventLeaveRoom    = "room:leave"
	EventRoomMessage  = "room:message"
	EventPresencePing = "presence:ping"
)

// Outbound events.
const (
	EventAuthOK         = "auth:ok"
	EventRoomJoined     = "room:joined"
	EventRoomLeft       = "room:left"
	EventPresenceJoin   = "presence:join"
	EventPresenceLeave  = "presence:leave"
	EventPresenceStatus = "presence:status"
	EventPresencePong   = "presence:pong"
	EventMessage        = "message"
	EventMessageAck     = "message:ack"
	EventError          = "error"
)

// Reasons attached to presence:leave.
const (
	ReasonLeft        = "left"
	ReasonDisconnect  = "disconnect"
	ReasonLogout      = "logout"
	ReasonUnreachable = "unreachable"
	ReasonShutdown    = "shutdown"
)

const (
	// MaxContentBytes bounds the text of a room message.
	MaxContentBytes = 5000

	// MaxStatusLength bounds the free-form presence status.
	MaxStatusLength = 32
)

// Message is the outbound envelope written to every connection.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	RoomID    RoomID          `json:"roomId,omitempty"`
	Sender    user.User       `json:"sender"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage builds a Message with a fresh id and the current time in milliseconds.
func NewMessage(event string, roomID RoomID, sender user.User, payload any) (Message, error) {
	msg := Message{
		ID:        randx.MessageID(),
		Event:     event,
		RoomID:    roomID,
		Sender:    sender,
		Timestamp: time.Now().UnixMilli(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		msg.Payload = raw
	}

	return msg, nil
}

// Envelope is the inbound frame sent by clients.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload binds an identity to the connection.
type AuthPayload struct {
	Token string `json:"token"`
}

// RoomPayload names the room of a join or leave.
type RoomPayload struct {
	RoomID RoomID `json:"roomId"`
}

// RoomMessagePayload is a chat message sent to a room.
type RoomMessagePayload struct {
	RoomID      RoomID       `json:"roomId"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	TempID      string       `json:"tempId,omitempty"`
}

// PingPayload refreshes activity and optionally publishes a status to one room.
type PingPayload struct {
	RoomID RoomID `json:"roomId,omitempty"`
	Status string `json:"status,omitempty"`
}

// MemberInfo describes one member in room state and presence events.
type MemberInfo struct {
	ConnectionID ConnID    `json:"connectionId"`
	User         user.User `json:"user"`
}

// RoomStatePayload is sent to a connection right after it joins.
type RoomStatePayload struct {
	RoomID    RoomID       `json:"roomId"`
	Members   []MemberInfo `json:"members"`
	Meta      RoomMeta     `json:"meta"`
	CreatedAt int64        `json:"createdAt"`
}

// PresencePayload describes a membership or status transition.
type PresencePayload struct {
	RoomID RoomID     `json:"roomId"`
	Member MemberInfo `json:"member"`
	Reason string     `json:"reason,omitempty"`
	Status string     `json:"status,omitempty"`
}

// ChatPayload is the body of a broadcast room message.
type ChatPayload struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// AckPayload confirms a room message to its sender.
type AckPayload struct {
	TempID    string `json:"tempId"`
	MessageID string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// AuthOKPayload confirms authentication.
type AuthOKPayload struct {
	ConnectionID ConnID    `json:"connectionId"`
	User         user.User `json:"user"`
}

// ErrorPayload is delivered to the originating connection when an event fails.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// decodePayload strictly decodes raw into dst. Empty payloads are allowed only
// when allowEmpty is set.
func decodePayload(raw json.RawMessage, dst any, allowEmpty bool) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if allowEmpty {
			return nil
		}
		return errs.NewError(errs.ErrInvalidPayload, "payload is required")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidPayload, strings.TrimPrefix(err.Error(), "json: "))
	}
	if dec.More() {
		return errs.NewError(errs.ErrInvalidPayload, "unexpected data after payload")
	}

	return nil
}
