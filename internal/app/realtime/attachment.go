package realtime

import (
	"path/filepath"
	"strings"
	"time"

	"studyhub/internal/pkg/errs"
)

const (
	// MaxAttachmentSize is the maximum allowed file size in bytes (5 MB).
	MaxAttachmentSize = 5 * 1024 * 1024

	// MaxAttachmentsCount is the maximum number of attachments per message.
	MaxAttachmentsCount = 3

	// PresignedURLDuration is how long presigned upload/download URLs stay valid.
	PresignedURLDuration = 5 * time.Minute
)

// extToMIME lists the accepted attachment types: images and PDFs of study material.
var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
}

// Attachment references an object uploaded to storage under the room's prefix.
type Attachment struct {
	Key      string `json:"fileKey"`
	Name     string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"fileSize"`
}

// AttachmentPrefix is the storage key prefix all attachments of roomID must use.
func AttachmentPrefix(roomID RoomID) string {
	return string(roomID) + "/"
}

// ValidateFileSize checks 0 < size <= MaxAttachmentSize.
func ValidateFileSize(size int64) *errs.CustomError {
	if size <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if size > MaxAttachmentSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}
	return nil
}

// ValidateFileType checks that mimeType is accepted and matches the file extension.
func ValidateFileType(fileName string, mimeType string) *errs.CustomError {
	ext := strings.ToLower(filepath.Ext(fileName))

	expected, ok := extToMIME[ext]
	if !ok || expected != strings.ToLower(mimeType) {
		return errs.NewError(errs.ErrInvalidParams)
	}

	return nil
}

// validateAttachments checks count, key scope, type and size of every attachment.
func validateAttachments(roomID RoomID, attachments []Attachment) *errs.CustomError {
	if len(attachments) > MaxAttachmentsCount {
		return errs.NewError(errs.ErrAttachmentCountInvalid, MaxAttachmentsCount)
	}

	prefix := AttachmentPrefix(roomID)
	for _, a := range attachments {
		if !strings.HasPrefix(a.Key, prefix) || len(a.Key) == len(prefix) || strings.Contains(a.Key, "..") {
			return errs.NewError(errs.ErrAttachmentKeyInvalid)
		}
		if err := ValidateFileType(a.Name, a.MimeType); err != nil {
			return err
		}
		if err := ValidateFileSize(a.Size); err != nil {
			return err
		}
	}

	return nil
}
