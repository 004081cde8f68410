package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

// RoomIDLength is the length of generated room ids.
const RoomIDLength = 8

const roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var roomID = mustRoomIDGenerator()

func mustRoomIDGenerator() func() string {
	gen, err := nanoid.CustomASCII(roomIDAlphabet, RoomIDLength)
	if err != nil {
		panic(err)
	}
	return gen
}

// NewID returns a best-effort unique identifier.
func NewID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// NewRoomID returns a short lowercase alphanumeric room id. Ids are not
// guaranteed unique; callers retry on collision.
func NewRoomID() string {
	return roomID()
}
