package handler

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"studyhub/internal/app/db"
	"studyhub/internal/app/realtime"
	"studyhub/internal/app/storage"
	"studyhub/internal/configs"
)

// Store is the subset of db.Queries used by the HTTP handlers.
type Store interface {
	CreateUser(ctx context.Context, arg db.CreateUserParams) (db.User, error)
	GetUserByUsername(ctx context.Context, username string) (db.User, error)
	GetUserByID(ctx context.Context, id pgtype.UUID) (db.User, error)
	UpdateLastLogin(ctx context.Context, id pgtype.UUID) error
	CreateSessionRoom(ctx context.Context, arg db.CreateSessionRoomParams) (db.SessionRoom, error)
	GetSessionRoom(ctx context.Context, id string) (db.SessionRoom, error)
}

// AppDeps carries everything the handlers need.
type AppDeps struct {
	Coordinator *realtime.Coordinator
	Config      *configs.AppConfig

	// StorageService is nil when attachment storage is not configured.
	StorageService storage.StorageService

	DB Store
}
