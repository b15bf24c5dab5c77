package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries holds the typed statements of the application.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries running inside tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const userColumns = `id, username, password_hash, nickname, created_at, last_login_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Nickname, &u.CreatedAt, &u.LastLoginAt)
	return u, err
}

const createUser = `
INSERT INTO users (username, password_hash, nickname)
VALUES ($1, $2, $3)
RETURNING ` + userColumns

// CreateUserParams are the inputs of CreateUser.
type CreateUserParams struct {
	Username     string
	PasswordHash string
	Nickname     pgtype.Text
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, createUser, arg.Username, arg.PasswordHash, arg.Nickname))
}

const getUserByUsername = `SELECT ` + userColumns + ` FROM users WHERE username = $1`

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByUsername, username))
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id pgtype.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByID, id))
}

const updateLastLogin = `UPDATE users SET last_login_at = now() WHERE id = $1`

func (q *Queries) UpdateLastLogin(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, updateLastLogin, id)
	return err
}

const sessionRoomColumns = `id, name, study_session_id, created_by, created_at`

const createSessionRoom = `
INSERT INTO session_rooms (id, name, study_session_id, created_by)
VALUES ($1, $2, $3, $4)
RETURNING ` + sessionRoomColumns

// CreateSessionRoomParams are the inputs of CreateSessionRoom.
type CreateSessionRoomParams struct {
	ID             string
	Name           string
	StudySessionID pgtype.UUID
	CreatedBy      pgtype.UUID
}

func (q *Queries) CreateSessionRoom(ctx context.Context, arg CreateSessionRoomParams) (SessionRoom, error) {
	var r SessionRoom
	err := q.db.QueryRow(ctx, createSessionRoom, arg.ID, arg.Name, arg.StudySessionID, arg.CreatedBy).
		Scan(&r.ID, &r.Name, &r.StudySessionID, &r.CreatedBy, &r.CreatedAt)
	return r, err
}

const getSessionRoom = `SELECT ` + sessionRoomColumns + ` FROM session_rooms WHERE id = $1`

func (q *Queries) GetSessionRoom(ctx context.Context, id string) (SessionRoom, error) {
	var r SessionRoom
	err := q.db.QueryRow(ctx, getSessionRoom, id).
		Scan(&r.ID, &r.Name, &r.StudySessionID, &r.CreatedBy, &r.CreatedAt)
	return r, err
}
