/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both inside the server
and in the responses delivered to HTTP and WebSocket clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrRouteNotFound indicates that no handler is mounted for the requested path.
	ErrRouteNotFound = 1404

	// ErrMethodNotAllowed indicates that the path exists but not for the requested method.
	ErrMethodNotAllowed = 1405
)

// 2xxx: Real-time connection and room errors
const (
	// ErrDuplicateConnection indicates that a connection id is already registered (or was used before).
	ErrDuplicateConnection = 2001

	// ErrUnknownConnection indicates that the connection id is not registered.
	ErrUnknownConnection = 2002

	// ErrAlreadyMember indicates a join on a room the connection already belongs to.
	ErrAlreadyMember = 2101

	// ErrNotMember indicates an action on a room the connection does not belong to.
	ErrNotMember = 2102

	// ErrRoomNotFound indicates that the room does not exist or has no members left.
	ErrRoomNotFound = 2103

	// ErrRoomAlreadyExists indicates that a session room id is already taken.
	ErrRoomAlreadyExists = 2104

	// ErrInvalidPayload indicates that an inbound event payload failed validation.
	ErrInvalidPayload = 2201

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length.
	ErrMessageContentTooLong = 2202

	// ErrAttachmentCountInvalid indicates that a message carried too few or too many attachments.
	ErrAttachmentCountInvalid = 2203

	// ErrAttachmentKeyInvalid indicates that an attachment key is not scoped to the room.
	ErrAttachmentKeyInvalid = 2204

	// ErrFileSizeTooLarge indicates that an attachment exceeds the upload limit.
	ErrFileSizeTooLarge = 2205
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrUnauthenticated indicates that the action requires a bound identity.
	ErrUnauthenticated = 3001

	// ErrUnauthorized indicates that the identity may not perform this action.
	ErrUnauthorized = 3002

	// ErrAlreadyLoggedIn indicates a register/login attempt with a valid token attached.
	ErrAlreadyLoggedIn = 3003

	// ErrInvalidUsername indicates that the username does not match the allowed format.
	ErrInvalidUsername = 3004

	// ErrInvalidPassword indicates that the password length is out of range.
	ErrInvalidPassword = 3005

	// ErrUserAlreadyExists indicates that the username is taken.
	ErrUserAlreadyExists = 3006

	// ErrInvalidCredentials indicates a username/password mismatch.
	ErrInvalidCredentials = 3007

	// ErrUserNotFound indicates that the identity no longer maps to a stored user.
	ErrUserNotFound = 3008
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrTimeout indicates that an external dependency did not answer in time.
	ErrTimeout = 5001

	// ErrFileStorageFailed indicates a failure of the object storage backend.
	ErrFileStorageFailed = 5002

	// ErrStorageDisabled indicates that attachments are not configured on this server.
	ErrStorageDisabled = 5003
)
