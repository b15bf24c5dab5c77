/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, WebSocket error messages and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Malformed JSON body.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrRouteNotFound:         {Code: ErrRouteNotFound, Message: "Not found: %s", Status: http.StatusNotFound},
	ErrMethodNotAllowed:      {Code: ErrMethodNotAllowed, Message: "Method not allowed.", Status: http.StatusMethodNotAllowed},

	// 2xxx: Real-time connection and room errors
	ErrDuplicateConnection:    {Code: ErrDuplicateConnection, Message: "Connection is already registered.", Status: http.StatusConflict},
	ErrUnknownConnection:      {Code: ErrUnknownConnection, Message: "Connection is not registered.", Status: http.StatusNotFound},
	ErrAlreadyMember:          {Code: ErrAlreadyMember, Message: "You have already joined this room.", Status: http.StatusConflict},
	ErrNotMember:              {Code: ErrNotMember, Message: "You are not a member of this room.", Status: http.StatusForbidden},
	ErrRoomNotFound:           {Code: ErrRoomNotFound, Message: "Session room not found.", Status: http.StatusNotFound},
	ErrRoomAlreadyExists:      {Code: ErrRoomAlreadyExists, Message: "A session room with this id already exists.", Status: http.StatusConflict},
	ErrInvalidPayload:         {Code: ErrInvalidPayload, Message: "Invalid event payload: %s", Status: http.StatusBadRequest},
	ErrMessageContentTooLong:  {Code: ErrMessageContentTooLong, Message: "Message is too long.", Status: http.StatusBadRequest},
	ErrAttachmentCountInvalid: {Code: ErrAttachmentCountInvalid, Message: "A message may carry between 1 and %d attachments.", Status: http.StatusBadRequest},
	ErrAttachmentKeyInvalid:   {Code: ErrAttachmentKeyInvalid, Message: "Invalid attachment.", Status: http.StatusBadRequest},
	ErrFileSizeTooLarge:       {Code: ErrFileSizeTooLarge, Message: "File is too large.", Status: http.StatusRequestEntityTooLarge},

	// 3xxx: User, Session, and Security Errors
	ErrUnauthenticated:    {Code: ErrUnauthenticated, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrUnauthorized:       {Code: ErrUnauthorized, Message: "You are not allowed to do that.", Status: http.StatusForbidden},
	ErrAlreadyLoggedIn:    {Code: ErrAlreadyLoggedIn, Message: "You are already signed in.", Status: http.StatusBadRequest},
	ErrInvalidUsername:    {Code: ErrInvalidUsername, Message: "Invalid username.", Status: http.StatusBadRequest},
	ErrInvalidPassword:    {Code: ErrInvalidPassword, Message: "Invalid password.", Status: http.StatusBadRequest},
	ErrUserAlreadyExists:  {Code: ErrUserAlreadyExists, Message: "Username is already taken.", Status: http.StatusConflict},
	ErrInvalidCredentials: {Code: ErrInvalidCredentials, Message: "Incorrect username or password.", Status: http.StatusUnauthorized},
	ErrUserNotFound:       {Code: ErrUserNotFound, Message: "Account not found.", Status: http.StatusNotFound},

	// 5xxx: Internal System Errors
	ErrUnknown:           {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrTimeout:           {Code: ErrTimeout, Message: "A dependency timed out. Please try again.", Status: http.StatusGatewayTimeout},
	ErrFileStorageFailed: {Code: ErrFileStorageFailed, Message: "File upload failed. Please try again.", Status: http.StatusBadGateway},
	ErrStorageDisabled:   {Code: ErrStorageDisabled, Message: "Attachments are not available.", Status: http.StatusServiceUnavailable},
}
