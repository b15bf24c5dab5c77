package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set carried by studyhub identity tokens.
type Payload struct {
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the user's UUID in the users table.
	ID string `json:"id"`

	// Username is the unique login name.
	Username string `json:"username"`

	// Nickname is the display name shown to other room members.
	Nickname string `json:"nickname"`
}
