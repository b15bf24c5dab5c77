/*
Package identity adapts the user and session-room tables to the interfaces the
real-time coordinator consumes: token verification and room metadata lookup.
*/
package identity

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"studyhub/internal/app/db"
	"studyhub/internal/app/realtime"
	"studyhub/internal/app/user"
	"studyhub/internal/pkg/auth/jwt"
	"studyhub/internal/pkg/errs"
)

// UserStore is the subset of db.Queries used to resolve token subjects.
type UserStore interface {
	GetUserByID(ctx context.Context, id pgtype.UUID) (db.User, error)
}

// RoomStore is the subset of db.Queries used to resolve session rooms.
type RoomStore interface {
	GetSessionRoom(ctx context.Context, id string) (db.SessionRoom, error)
}

// Verifier checks identity tokens and confirms the user still exists.
type Verifier struct {
	secret string
	users  UserStore
}

// NewVerifier creates a Verifier.
func NewVerifier(secret string, users UserStore) *Verifier {
	return &Verifier{secret: secret, users: users}
}

// Verify implements realtime.IdentityVerifier.
func (v *Verifier) Verify(ctx context.Context, token string) (user.User, error) {
	payload, err := jwt.ParseToken(token, v.secret)
	if err != nil {
		return user.User{}, errs.NewError(errs.ErrUnauthenticated)
	}

	id, err := db.ParseUUID(payload.ID)
	if err != nil {
		return user.User{}, errs.NewError(errs.ErrUnauthenticated)
	}

	row, err := v.users.GetUserByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return user.User{}, errs.NewError(errs.ErrUnauthenticated)
		}
		return user.User{}, err
	}

	return FromRow(row), nil
}

// FromRow converts a users row to the public identity.
func FromRow(row db.User) user.User {
	nickname := row.Username
	if row.Nickname.Valid && row.Nickname.String != "" {
		nickname = row.Nickname.String
	}

	return user.User{
		ID:       db.UUIDString(row.ID),
		Username: row.Username,
		Nickname: nickname,
	}
}

// Directory serves stored session-room metadata.
type Directory struct {
	rooms RoomStore
}

// NewDirectory creates a Directory.
func NewDirectory(rooms RoomStore) *Directory {
	return &Directory{rooms: rooms}
}

// RoomMeta implements realtime.RoomDirectory. Rooms without a stored record are not an error.
func (d *Directory) RoomMeta(ctx context.Context, roomID realtime.RoomID) (realtime.RoomMeta, bool, error) {
	row, err := d.rooms.GetSessionRoom(ctx, string(roomID))
	if err != nil {
		if db.IsNotFound(err) {
			return realtime.RoomMeta{}, false, nil
		}
		return realtime.RoomMeta{}, false, err
	}

	return realtime.RoomMeta{
		Name:           row.Name,
		StudySessionID: db.UUIDString(row.StudySessionID),
	}, true, nil
}
