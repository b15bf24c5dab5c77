/*
Package user defines the identity bound to a real-time connection once it authenticates.
*/
package user

// User is the public identity of a participant. It is what other room members
// see in presence events and messages.
type User struct {
	// ID is the user's UUID.
	ID string `json:"id"`

	// Username is the unique login name.
	Username string `json:"username,omitempty"`

	// Nickname is the display name.
	Nickname string `json:"nickname"`
}

// System is the sender of server-generated messages.
var System = User{ID: "system", Nickname: "System"}
