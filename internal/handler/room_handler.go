/*
Package handler provides HTTP handler functions for session rooms.

Session rooms are persisted metadata (name, optional study session) for real-time
rooms. The live member set is owned by the real-time coordinator; these handlers
only read it.
*/
package handler

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"studyhub/internal/app/db"
	"studyhub/internal/app/realtime"
	"studyhub/internal/pkg/auth/jwt"
	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/logx"
	"studyhub/internal/pkg/randx"
	"studyhub/internal/pkg/req"
	"studyhub/internal/pkg/resp"
)

const maxRoomNameLength = 100

type CreateRoomInput struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	StudySessionID string `json:"studySessionId"`
}

type roomResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	StudySessionID string `json:"studySessionId,omitempty"`
	CreatedBy      string `json:"createdBy,omitempty"`
	CreatedAt      any    `json:"createdAt,omitempty"`
	Persisted      bool   `json:"persisted"`
	Participants   int    `json:"participants"`
}

// HandleCreateRoom persists session-room metadata. The room itself comes to life
// on the first WebSocket join.
func HandleCreateRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)

		var input CreateRoomInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		input.Name = strings.TrimSpace(input.Name)
		if input.Name == "" || utf8.RuneCountInString(input.Name) > maxRoomNameLength {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if input.ID == "" {
			code, err := randx.RoomCode()
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
				return
			}
			input.ID = code
		} else if !randx.IsValidRoomID(input.ID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		params := db.CreateSessionRoomParams{ID: input.ID, Name: input.Name}

		if input.StudySessionID != "" {
			sessionID, err := db.ParseUUID(input.StudySessionID)
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			params.StudySessionID = sessionID
		}

		createdBy, err := db.ParseUUID(payload.ID)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}
		params.CreatedBy = createdBy

		row, err := deps.DB.CreateSessionRoom(r.Context(), params)
		if err != nil {
			if db.IsUniqueViolation(err) {
				resp.RespondError(w, r, errs.NewError(errs.ErrRoomAlreadyExists))
				return
			}
			logx.Error(err, "failed to create session room", "room_id", input.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		logx.Info("Session room created", "room_id", row.ID, "created_by", payload.ID)

		resp.RespondCreated(w, r, toRoomResponse(row, 0))
	}
}

// HandleGetRoom returns stored metadata plus the live participant count. Ad-hoc
// rooms without a stored record are reported while they have members.
func HandleGetRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "id")
		if !randx.IsValidRoomID(roomID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		participants := 0
		if members, err := deps.Coordinator.MembersOf(r.Context(), realtime.RoomID(roomID)); err == nil {
			participants = len(members)
		}

		row, err := deps.DB.GetSessionRoom(r.Context(), roomID)
		if err != nil {
			if !db.IsNotFound(err) {
				logx.Error(err, "failed to load session room", "room_id", roomID)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}
			if participants == 0 {
				resp.RespondError(w, r, errs.NewError(errs.ErrRoomNotFound))
				return
			}
			resp.RespondSuccess(w, r, roomResponse{ID: roomID, Participants: participants})
			return
		}

		resp.RespondSuccess(w, r, toRoomResponse(row, participants))
	}
}

func toRoomResponse(row db.SessionRoom, participants int) roomResponse {
	return roomResponse{
		ID:             row.ID,
		Name:           row.Name,
		StudySessionID: db.UUIDString(row.StudySessionID),
		CreatedBy:      db.UUIDString(row.CreatedBy),
		CreatedAt:      formatTime(row.CreatedAt),
		Persisted:      true,
		Participants:   participants,
	}
}
