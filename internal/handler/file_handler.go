package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"studyhub/internal/app/realtime"
	"studyhub/internal/pkg/auth/jwt"
	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/logx"
	"studyhub/internal/pkg/randx"
	"studyhub/internal/pkg/req"
	"studyhub/internal/pkg/resp"
)

const (
	// multipartOverhead is allowed on top of MaxAttachmentSize for form boundaries and headers.
	multipartOverhead = 64 << 10

	// multipartMemory is how much of a direct upload is buffered in memory.
	multipartMemory = 1 << 20
)

// PresignUploadInput defines the JSON input structure for generating an upload URL.
type PresignUploadInput struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// participantRoom resolves the {id} route parameter and checks that the caller
// has a live connection in that room. It writes the error response itself.
func participantRoom(w http.ResponseWriter, r *http.Request, deps *AppDeps) (realtime.RoomID, bool) {
	if deps.StorageService == nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrStorageDisabled))
		return "", false
	}

	roomID := chi.URLParam(r, "id")
	if !randx.IsValidRoomID(roomID) {
		resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
		return "", false
	}

	payload := jwt.GetPayloadFromContext(r)
	if !deps.Coordinator.IsParticipant(r.Context(), realtime.RoomID(roomID), payload.ID) {
		resp.RespondError(w, r, errs.NewError(errs.ErrNotMember))
		return "", false
	}

	return realtime.RoomID(roomID), true
}

func attachmentKey(roomID realtime.RoomID, fileName string) string {
	return realtime.AttachmentPrefix(roomID) + uuid.New().String() + strings.ToLower(filepath.Ext(fileName))
}

// HandlePresignUploadURL issues a time-limited upload URL scoped to the room.
func HandlePresignUploadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := participantRoom(w, r, deps)
		if !ok {
			return
		}

		var input PresignUploadInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if err := realtime.ValidateFileSize(input.FileSize); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		if err := realtime.ValidateFileType(input.FileName, input.MimeType); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		fileKey := attachmentKey(roomID, input.FileName)

		url, err := deps.StorageService.PresignUpload(r.Context(), fileKey, input.MimeType, input.FileSize, realtime.PresignedURLDuration)
		if err != nil {
			logx.Error(err, "failed to presign upload", "room_id", string(roomID))
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"presignedUrl": url,
			"fileKey":      fileKey,
			"fileName":     input.FileName,
		})
	}
}

// HandleUploadAttachment accepts a multipart "file" field and stores it under the room prefix.
func HandleUploadAttachment(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := participantRoom(w, r, deps)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, realtime.MaxAttachmentSize+multipartOverhead)

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				resp.RespondError(w, r, errs.NewError(errs.ErrFileSizeTooLarge))
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		defer file.Close()

		mimeType := header.Header.Get("Content-Type")

		if err := realtime.ValidateFileSize(header.Size); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		if err := realtime.ValidateFileType(header.Filename, mimeType); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		fileKey := attachmentKey(roomID, header.Filename)

		if err := deps.StorageService.Upload(r.Context(), fileKey, mimeType, file); err != nil {
			logx.Error(err, "failed to upload attachment", "room_id", string(roomID))
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondCreated(w, r, realtime.Attachment{
			Key:      fileKey,
			Name:     header.Filename,
			MimeType: mimeType,
			Size:     header.Size,
		})
	}
}

// HandlePresignDownloadURL redirects to a time-limited download URL for a key in the room.
func HandlePresignDownloadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := participantRoom(w, r, deps)
		if !ok {
			return
		}

		fileKey := r.URL.Query().Get("k")
		if fileKey == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if !strings.HasPrefix(fileKey, realtime.AttachmentPrefix(roomID)) || strings.Contains(fileKey, "..") {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		url, err := deps.StorageService.PresignDownload(r.Context(), fileKey, realtime.PresignedURLDuration)
		if err != nil {
			logx.Error(err, "failed to presign download", "room_id", string(roomID))
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}
