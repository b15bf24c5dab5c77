/*
Package randx generates identifiers and random display names.

Connection and message ids are UUIDs; room ids supplied by clients are validated
against a conservative character set.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// Base62Chars is the alphabet used for generated codes and nicknames.
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// RoomCodeLength is the length of server-generated session room ids.
	RoomCodeLength = 8

	// MaxRoomIDLength bounds client-supplied room ids.
	MaxRoomIDLength = 64
)

// ConnectionID returns a fresh id for a real-time connection.
func ConnectionID() string {
	return uuid.NewString()
}

// MessageID returns a fresh id for an outbound message.
func MessageID() string {
	return uuid.NewString()
}

// RoomCode generates a Base62 session room id using crypto/rand.
func RoomCode() (string, error) {
	return base62(RoomCodeLength)
}

// Nickname generates a "Learner_XXXXXX" display name.
func Nickname() (string, error) {
	suffix, err := base62(6)
	if err != nil {
		return "", err
	}
	return "Learner_" + suffix, nil
}

func base62(length int) (string, error) {
	result := make([]byte, length)
	max := big.NewInt(int64(len(Base62Chars)))

	for i := range length {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// IsValidRoomID reports whether id is 1..MaxRoomIDLength characters of [A-Za-z0-9_-].
func IsValidRoomID(id string) bool {
	if id == "" || len(id) > MaxRoomIDLength {
		return false
	}

	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}

	return true
}

// IsValidUUID reports whether s parses as a UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
