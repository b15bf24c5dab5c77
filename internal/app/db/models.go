package db

import "github.com/jackc/pgx/v5/pgtype"

// User is a row of the users table.
type User struct {
	ID           pgtype.UUID
	Username     string
	PasswordHash string
	Nickname     pgtype.Text
	CreatedAt    pgtype.Timestamptz
	LastLoginAt  pgtype.Timestamptz
}

// SessionRoom is a row of the session_rooms table: the persisted metadata of
// a real-time room.
type SessionRoom struct {
	ID             string
	Name           string
	StudySessionID pgtype.UUID
	CreatedBy      pgtype.UUID
	CreatedAt      pgtype.Timestamptz
}
